package main

import (
	"sync"
	"time"
)

// expiryTimer is a single-shot, re-armable timer. Arming it again before
// expiry replaces the pending callback rather than stacking a second one, and
// cancel suppresses a pending callback entirely. The callback runs at most
// once per arm, asynchronously, on the timer's own goroutine.
//
// A generation counter guards the race where a callback has already fired
// inside time.AfterFunc but not yet run when arm or cancel is called.
type expiryTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func (t *expiryTimer) arm(d time.Duration, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen

	if t.timer != nil {
		t.timer.Stop()
	}

	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		live := gen == t.gen
		t.mu.Unlock()

		if live {
			onExpire()
		}
	})
}

func (t *expiryTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
