package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RoomManager owns every live room, keyed by opaque id. It is created at
// process start and injected into the handlers; absence of a key is a normal
// outcome (room expired or never existed) and every caller checks it.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*Room
	seq   uint64
	newID idGenerator
}

func newRoomManager(idgen idGenerator) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		newID: idgen,
	}
}

// newRoomID allocates a room with the given default rule options, registers
// it, and arms its idle timer: a room nobody confirms joining expires on its
// own.
func (m *RoomManager) newRoomID(opts RoomOptions, idleTimeout time.Duration) string {
	m.mu.Lock()

	id := m.newID()
	m.seq++

	room := newRoom(id, m.seq, opts)
	room.expire = func() { m.expireRoom(id, room) }
	m.rooms[id] = room

	m.mu.Unlock()

	room.setRoomTimeout(idleTimeout)

	log.Debug().Str("room", id).Msg("GAMES: room created")

	return id
}

// findRoomID returns an existing unsealed room, preferring the least loaded
// with ties broken by creation order, or creates one when none qualifies.
// A sealed room is never a candidate.
func (m *RoomManager) findRoomID(opts RoomOptions, idleTimeout time.Duration) string {
	m.mu.Lock()

	var (
		best      *Room
		bestCount int
	)

	for _, r := range m.rooms {
		if r.isSealed() {
			continue
		}

		count := r.playerCount()
		if best == nil || count < bestCount || (count == bestCount && r.seq < best.seq) {
			best, bestCount = r, count
		}
	}

	m.mu.Unlock()

	if best != nil {
		return best.id
	}

	return m.newRoomID(opts, idleTimeout)
}

func (m *RoomManager) get(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[id]

	return room, ok
}

// remove unregisters a room and tears it down. Identity-checked, so a stale
// reference cannot tear down a different room that reused the id.
func (m *RoomManager) remove(id string, room *Room) bool {
	m.mu.Lock()

	current, ok := m.rooms[id]
	if !ok || current != room {
		m.mu.Unlock()

		return false
	}

	delete(m.rooms, id)
	m.mu.Unlock()

	room.destroy()

	return true
}

// expireRoom is the idle-timer callback. It runs on the timer's goroutine;
// any sockets still joined are orphaned and their next action against this id
// is treated as "room not found".
func (m *RoomManager) expireRoom(id string, room *Room) {
	if m.remove(id, room) {
		log.Debug().Str("room", id).Msg("GAMES: idle room expired")
	}
}

// close tears down every room; process shutdown only.
func (m *RoomManager) close() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))

	for id, room := range m.rooms {
		rooms = append(rooms, room)
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		room.destroy()
	}
}
