package main

import (
	"sync"
	"time"
)

// RoomOptions carries the default rule options a room is created with.
type RoomOptions struct {
	MafiaRatio    float64
	DefaultName   string
	DayDuration   time.Duration
	NightDuration time.Duration
	VoteDuration  time.Duration
}

// Player is a room member: a stable opaque id, a display name, and the
// transient connection handle, which is replaced wholesale on reconnect.
// Players have no lifecycle of their own; they die with their room.
type Player struct {
	ID   string
	Name string
	conn *Client
}

// Room is one lobby and, once sealed, one running game. Two sockets of the
// same room may fire events concurrently, so every mutation goes through the
// room mutex. The expiry callback is bound by the manager at creation and
// runs on the timer goroutine; it must never be invoked with the mutex held.
type Room struct {
	id   string
	seq  uint64 // creation order, for deterministic matchmaking
	opts RoomOptions

	mu      sync.Mutex
	owner   *Player
	players map[string]*Player
	ids     []string // join order; fixes each player's vote index
	sealed  bool
	game    *GameSession

	timer  expiryTimer
	expire func()
}

func newRoom(id string, seq uint64, opts RoomOptions) *Room {
	return &Room{
		id:      id,
		seq:     seq,
		opts:    opts,
		players: make(map[string]*Player),
	}
}

// connect registers a player or, for a known id, replaces only the connection
// handle, preserving the display name and any game state tied to the id.
// Sealing enforcement is the dispatcher's contract: it must have rejected an
// unknown player on a sealed room before calling connect. The first player to
// register becomes the room owner. Reports whether this was a first
// connection.
func (r *Room) connect(playerID, displayName string, conn *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.players[playerID]; ok {
		p.conn = conn

		return false
	}

	if displayName == "" {
		displayName = r.opts.DefaultName
	}

	p := &Player{ID: playerID, Name: displayName, conn: conn}
	r.players[playerID] = p
	r.ids = append(r.ids, playerID)

	if r.owner == nil {
		r.owner = p
	}

	return true
}

// seal locks the room against new joins. Irreversible, no-op when already
// sealed.
func (r *Room) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
}

func (r *Room) isSealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sealed
}

// admit reports whether a player may join or rejoin: a sealed room only
// readmits already-seated players.
func (r *Room) admit(playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		if _, ok := r.players[playerID]; !ok {
			return errRoomSealed
		}
	}

	return nil
}

// startGame seals the room and starts its session in one step, so that a
// failed start leaves the room unsealed and the sealed-iff-session invariant
// never breaks. onStarted fires once after sealing, before the first phase;
// onUpdate receives a snapshot on every phase transition.
func (r *Room) startGame(onStarted func(), onUpdate func(GameSnapshot)) error {
	r.mu.Lock()

	if r.game != nil {
		r.mu.Unlock()

		return errGameRunning
	}

	names := make(map[string]string, len(r.players))
	for id, p := range r.players {
		names[id] = p.Name
	}

	s, err := newGameSession(append([]string(nil), r.ids...), names, r.opts, onUpdate)
	if err != nil {
		r.mu.Unlock()

		return err
	}

	r.sealed = true
	r.game = s
	r.mu.Unlock()

	if onStarted != nil {
		onStarted()
	}

	s.begin()

	return nil
}

// memberSnapshot is a point-in-time copy of a seat, safe to use without the
// room mutex.
type memberSnapshot struct {
	id   string
	name string
	conn *Client
}

// members returns the current seats in join order.
func (r *Room) members() []memberSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]memberSnapshot, 0, len(r.ids))

	for _, id := range r.ids {
		p := r.players[id]
		out = append(out, memberSnapshot{id: p.ID, name: p.Name, conn: p.conn})
	}

	return out
}

// setRoomTimeout re-arms the idle expiry clock; called after every meaningful
// activity so a live room stays alive and a quiet one expires.
func (r *Room) setRoomTimeout(d time.Duration) {
	r.timer.arm(d, r.expire)
}

// destroy cancels the idle timer and any running phase cycle. Sockets still
// joined are implicitly orphaned; their next event sees "room not found".
func (r *Room) destroy() {
	r.timer.cancel()

	if s := r.session(); s != nil {
		s.stop()
	}
}

type leaveResult struct {
	removed    bool
	eliminated bool
	newOwner   string // owner id after reassignment, empty if unchanged
	empty      bool
}

// leave removes a player. In an open lobby the seat is dropped and ownership
// passes to the next player in join order; in a sealed room the seat stays
// (vote indices must not shift) and the leaver is eliminated from the
// session instead.
func (r *Room) leave(playerID string) leaveResult {
	r.mu.Lock()

	if _, ok := r.players[playerID]; !ok {
		r.mu.Unlock()

		return leaveResult{}
	}

	if r.sealed {
		game := r.game
		r.mu.Unlock()

		if game != nil && game.eliminate(playerID) {
			return leaveResult{eliminated: true}
		}

		return leaveResult{}
	}

	delete(r.players, playerID)
	for i, id := range r.ids {
		if id == playerID {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)

			break
		}
	}

	if len(r.players) == 0 {
		r.owner = nil
		r.mu.Unlock()

		return leaveResult{removed: true, empty: true}
	}

	res := leaveResult{removed: true}

	if r.owner != nil && r.owner.ID == playerID {
		r.owner = r.players[r.ids[0]]
		res.newOwner = r.owner.ID
	}

	r.mu.Unlock()

	return res
}

func (r *Room) session() *GameSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.game
}

func (r *Room) ownerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner == nil {
		return ""
	}

	return r.owner.ID
}

func (r *Room) hasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.players[playerID]

	return ok
}

func (r *Room) playerName(playerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.players[playerID]; ok {
		return p.Name
	}

	return ""
}

// playerIndex is the player's position in the stable join order, the index
// votes refer to. Returns -1 for an unknown id.
func (r *Room) playerIndex(playerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, id := range r.ids {
		if id == playerID {
			return i
		}
	}

	return -1
}

func (r *Room) playerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.players)
}

// getPlayerList returns display names in the stable join order.
func (r *Room) getPlayerList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		names = append(names, r.players[id].Name)
	}

	return names
}

// getElimPlayers delegates to the session; nil before a game starts.
func (r *Room) getElimPlayers() []string {
	if s := r.session(); s != nil {
		return s.getElimPlayers()
	}

	return nil
}

// conns returns the live connection handles of all members except the given
// player id; the whole-room broadcast group.
func (r *Room) conns(except string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.players))

	for id, p := range r.players {
		if id == except || p.conn == nil {
			continue
		}

		out = append(out, p.conn)
	}

	return out
}

// mafiaConns returns connection handles of the mafia sub-group, the members
// that joined the room's "_m" channel at role assignment.
func (r *Room) mafiaConns(except string) []*Client {
	s := r.session()
	if s == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.players))

	for id, p := range r.players {
		if id == except || p.conn == nil {
			continue
		}

		if s.role(id) == RoleMafia {
			out = append(out, p.conn)
		}
	}

	return out
}
