package main

import (
	"math/rand"
	"sync"
	"time"
)

type Role string

const (
	RoleMafia    Role = "mafia"
	RoleCivilian Role = "civilian"
)

const (
	WinnerMafia     = "mafia"
	WinnerCivilians = "civilians"
)

// abstain is the vote choice that names no target.
const abstain = -1

// Phase is the session's phase state as seen by clients. The cycle is
// day discussion, day voting, night discussion, night voting, then day again.
type Phase struct {
	IsDay    bool `json:"isDay"`
	IsVoting bool `json:"isVoting"`
}

// GameSnapshot is pushed to the whole room on every phase transition.
type GameSnapshot struct {
	IsDay      bool     `json:"isDay"`
	IsVoting   bool     `json:"isVoting"`
	Eliminated []string `json:"elimPlayers"`
	Winner     string   `json:"winner,omitempty"`
}

// GameSession is the running game of a single sealed room. It owns role
// assignment, the phase cycle, vote tallies and eliminations; room membership
// stays with the Room. All mutation is serialized behind its mutex, since
// phase timers fire on their own goroutine while client events arrive on
// socket goroutines.
type GameSession struct {
	mu sync.Mutex

	ids   []string // join order; fixes each player's vote index for the game
	names map[string]string

	roles      map[string]Role
	phase      Phase
	votes      map[string]int // voter -> target index, or abstain
	eliminated map[string]bool
	elimOrder  []string // player ids, in elimination order
	winner     string   // empty until the game is over
	stopped    bool     // set on teardown; sticky

	dayDuration   time.Duration
	nightDuration time.Duration
	voteDuration  time.Duration

	timer    expiryTimer
	onUpdate func(GameSnapshot)
}

// newGameSession assigns roles and prepares the session in day discussion.
// The configured fraction of players becomes mafia, with a floor of one mafia
// and one civilian; fewer than two players cannot satisfy that split.
func newGameSession(ids []string, names map[string]string, opts RoomOptions, onUpdate func(GameSnapshot)) (*GameSession, error) {
	if len(ids) < 2 {
		return nil, errInsufficientPlayers
	}

	mafiaCount := int(float64(len(ids)) * opts.MafiaRatio)
	if mafiaCount < 1 {
		mafiaCount = 1
	}
	if mafiaCount > len(ids)-1 {
		mafiaCount = len(ids) - 1
	}

	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	roles := make(map[string]Role, len(ids))
	for i, id := range shuffled {
		if i < mafiaCount {
			roles[id] = RoleMafia
		} else {
			roles[id] = RoleCivilian
		}
	}

	s := &GameSession{
		ids:           append([]string(nil), ids...),
		names:         names,
		roles:         roles,
		phase:         Phase{IsDay: true},
		votes:         make(map[string]int),
		eliminated:    make(map[string]bool),
		dayDuration:   opts.DayDuration,
		nightDuration: opts.NightDuration,
		voteDuration:  opts.VoteDuration,
		onUpdate:      onUpdate,
	}

	return s, nil
}

// begin pushes the opening snapshot and starts the phase cycle.
func (s *GameSession) begin() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	d := s.dayDuration
	s.mu.Unlock()

	s.onUpdate(snap)
	s.timer.arm(d, s.advance)
}

// advance moves the session to its next phase, resolving a voting window as
// it closes. It runs on the phase timer's goroutine.
func (s *GameSession) advance() {
	s.mu.Lock()

	// A timer callback may already be in flight when the session is torn
	// down; the stopped flag keeps it from cycling an orphaned session.
	if s.stopped || s.winner != "" {
		s.mu.Unlock()

		return
	}

	var next time.Duration

	switch {
	case !s.phase.IsVoting:
		// Discussion closes; the matching voting window opens.
		s.phase.IsVoting = true
		s.votes = make(map[string]int)
		next = s.voteDuration
	case s.phase.IsDay:
		// Day voting closes: the plurality of all ballots is eliminated.
		s.resolveTallyLocked(false)
		if s.winner == "" {
			s.phase = Phase{IsDay: false}
			next = s.nightDuration
		}
	default:
		// Night voting closes: mafia ballots choose the kill target.
		s.resolveTallyLocked(true)
		if s.winner == "" {
			s.phase = Phase{IsDay: true}
			next = s.dayDuration
		}
	}

	over := s.winner != ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.onUpdate(snap)

	s.mu.Lock()
	rearm := !over && !s.stopped
	s.mu.Unlock()

	if rearm {
		s.timer.arm(next, s.advance)
	}
}

// processVote records or overwrites a player's current ballot. Valid only
// inside a voting window, from a living player. Audience and night-role
// eligibility are the router's contract and are not duplicated here.
func (s *GameSession) processVote(playerID string, choice int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.winner != "" || !s.phase.IsVoting || s.eliminated[playerID] {
		return false
	}
	if _, ok := s.roles[playerID]; !ok {
		return false
	}
	if choice != abstain && (choice < 0 || choice >= len(s.ids)) {
		return false
	}

	s.votes[playerID] = choice

	return true
}

// resolveTallyLocked eliminates the target with strictly the most votes.
// A tie, an empty tally, or only abstentions eliminate nobody.
func (s *GameSession) resolveTallyLocked(mafiaOnly bool) {
	counts := make(map[int]int)

	for voter, choice := range s.votes {
		if choice == abstain || s.eliminated[voter] {
			continue
		}
		if mafiaOnly && s.roles[voter] != RoleMafia {
			continue
		}
		if s.eliminated[s.ids[choice]] {
			continue
		}

		counts[choice]++
	}

	best, most, tied := -1, 0, false

	for choice, n := range counts {
		switch {
		case n > most:
			best, most, tied = choice, n, false
		case n == most:
			tied = true
		}
	}

	if best < 0 || tied {
		return
	}

	s.eliminateLocked(s.ids[best])
}

func (s *GameSession) eliminateLocked(playerID string) {
	if s.eliminated[playerID] {
		return
	}

	s.eliminated[playerID] = true
	s.elimOrder = append(s.elimOrder, playerID)
	s.checkWinLocked()
}

// Win conditions are evaluated after every elimination: no mafia left means
// the civilians win; mafia matching or outnumbering the remaining civilians
// means the mafia win.
func (s *GameSession) checkWinLocked() {
	mafia, civilians := 0, 0

	for id, role := range s.roles {
		if s.eliminated[id] {
			continue
		}

		if role == RoleMafia {
			mafia++
		} else {
			civilians++
		}
	}

	switch {
	case mafia == 0:
		s.winner = WinnerCivilians
	case mafia >= civilians:
		s.winner = WinnerMafia
	}
}

// eliminate removes a player from play outside of a tally, such as a player
// leaving a running game. The seat keeps its vote index.
func (s *GameSession) eliminate(playerID string) bool {
	s.mu.Lock()

	if _, ok := s.roles[playerID]; !ok || s.winner != "" || s.eliminated[playerID] {
		s.mu.Unlock()

		return false
	}

	s.eliminateLocked(playerID)
	over := s.winner != ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if over {
		s.timer.cancel()
	}

	s.onUpdate(snap)

	return true
}

func (s *GameSession) snapshotLocked() GameSnapshot {
	return GameSnapshot{
		IsDay:      s.phase.IsDay,
		IsVoting:   s.phase.IsVoting,
		Eliminated: s.elimNamesLocked(),
		Winner:     s.winner,
	}
}

func (s *GameSession) elimNamesLocked() []string {
	names := make([]string, 0, len(s.elimOrder))
	for _, id := range s.elimOrder {
		names = append(names, s.names[id])
	}

	return names
}

func (s *GameSession) state() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

func (s *GameSession) role(playerID string) Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.roles[playerID]
}

// getElimPlayers returns eliminated display names in elimination order.
func (s *GameSession) getElimPlayers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.elimNamesLocked()
}

func (s *GameSession) over() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.winner, s.winner != ""
}

// stop halts the phase cycle permanently; used when the owning room is torn
// down so an expired room never fires a dangling transition. The flag is
// sticky because a timer callback may have passed the generation check
// already and must still find the session dead.
func (s *GameSession) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.timer.cancel()
}
