// Mafia Room & Game Session Engine
//
// Players join a shared room, the room owner starts the game, and the engine
// arbitrates day/night phases, restricts who may talk or vote to whom, tallies
// votes, and eliminates players until one side wins.
//
// Features:
// - Single WebSocket endpoint at /ws; rooms resolved per event
// - Matchmaking: find an open room or create a fresh one
// - First player to confirm a room becomes its owner and may start the game
// - Players identified by opaque tokens (cookie playerID), stable across reconnects
// - Rooms seal at game start; late joiners are rejected, members may rejoin
// - Day chat/votes go to the whole room, night chat/votes to the mafia channel
// - Vote plurality eliminates; ties eliminate nobody; mafia kill at night's end
// - Idle rooms auto-expire after a configurable timeout, re-armed on activity
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// Events coming from clients
type clientEvent struct {
	Event      string    `json:"event"`
	RoomID     string    `json:"roomID,omitempty"`
	PlayerID   string    `json:"playerID,omitempty"`
	PlayerName string    `json:"playerName,omitempty"`
	UserData   *userData `json:"userData,omitempty"`
	Vote       *int      `json:"vote,omitempty"`
	VoteID     string    `json:"voteID,omitempty"`
	Message    string    `json:"message,omitempty"`
	MessageID  string    `json:"messageID,omitempty"`
}

type userData struct {
	RoomID   string `json:"roomID"`
	PlayerID string `json:"playerID"`
}

// ids accepts both payload shapes: room/player at the top level, or nested
// under userData for vote and chat events.
func (ev clientEvent) ids() (string, string) {
	if ev.UserData != nil {
		return ev.UserData.RoomID, ev.UserData.PlayerID
	}

	return ev.RoomID, ev.PlayerID
}

// Events sent to clients
type serverEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// roomData is the acknowledgment payload for a confirmed room membership.
type roomData struct {
	IsFirstConnection bool     `json:"isFirstConnection"`
	CanStartGame      bool     `json:"canStartGame"`
	PlayerList        []string `json:"playerList"`
	GameState         *Phase   `json:"gameState,omitempty"`
	PlayerRole        Role     `json:"playerRole,omitempty"`
	ElimPlayers       []string `json:"elimPlayers,omitempty"`
}

// votePayload identifies the voter by stable position index, not id.
type votePayload struct {
	PlayerIndex int `json:"playerIndex"`
	Vote        int `json:"vote"`
}

type chatPayload struct {
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
}

// Client is one websocket connection: the transient handle a Player holds.
type Client struct {
	conn   *websocket.Conn
	send   chan any
	done   chan struct{}
	closed atomic.Bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan any, 64),
		done: make(chan struct{}),
	}
}

// push never blocks a room on a slow consumer; a full send queue drops the
// event instead.
func (c *Client) push(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) close() {
	if c.closed.Swap(true) {
		return
	}

	close(c.done)
	_ = c.conn.Close()
}

func (c *Client) readPump(s *gameServer) {
	defer c.close()

	for {
		var ev clientEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}

		s.handleEvent(c, ev)
	}
}

func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// gameServer dispatches inbound events against the injected room registry.
type gameServer struct {
	cfg *Config
	mgr *RoomManager
}

// lookupRoom resolves the room an event names. A miss is a normal outcome
// (expired or never existed) and only leaves a diagnostic trace.
func (s *gameServer) lookupRoom(roomID string) (*Room, bool) {
	room, ok := s.mgr.get(roomID)
	if !ok {
		log.Debug().Err(errRoomNotFound).Str("room", roomID).Msg("GAMES: event for missing room")
	}

	return room, ok
}

func (s *gameServer) handleEvent(c *Client, ev clientEvent) {
	switch ev.Event {
	case "getNewPlayerID":
		c.push(serverEvent{Event: "playerIDReturned", Data: newID()})
	case "findRoom":
		id := s.mgr.findRoomID(s.cfg.gameOptions(), s.cfg.newRoomTimeout)
		c.push(serverEvent{Event: "roomIDReturned", Data: id})
	case "newRoom":
		id := s.mgr.newRoomID(s.cfg.gameOptions(), s.cfg.newRoomTimeout)
		c.push(serverEvent{Event: "roomIDReturned", Data: id})
	case "ackRoom":
		s.ackRoom(c, ev)
	case "startGame":
		s.startGame(c, ev)
	case "leaveGame":
		s.leaveGame(ev)
	case "playerVote":
		s.playerVote(c, ev)
	case "chatMessage":
		s.chatMessage(c, ev)
	default:
		// ignore unknown events
	}
}

// ackRoom confirms or creates membership. An unknown player against a sealed
// room is rejected here, before the room is touched; a known player rejoining
// only swaps their connection handle.
func (s *gameServer) ackRoom(c *Client, ev clientEvent) {
	roomID, playerID := ev.ids()

	room, ok := s.lookupRoom(roomID)
	if !ok || playerID == "" {
		return
	}

	if err := room.admit(playerID); err != nil {
		c.push(serverEvent{Event: "roomIsSealed"})

		return
	}

	first := room.connect(playerID, ev.PlayerName, c)
	if first {
		name := room.playerName(playerID)
		s.broadcast(room, playerID, serverEvent{Event: "newPlayer", Data: name})
		log.Debug().Str("room", room.id).Str("player", name).Msg("GAMES: player joined")
	}

	data := roomData{
		IsFirstConnection: first,
		CanStartGame:      !room.isSealed() && playerID == room.ownerID(),
		PlayerList:        room.getPlayerList(),
	}

	if game := room.session(); game != nil {
		phase := game.state()
		data.GameState = &phase
		data.PlayerRole = game.role(playerID)
		data.ElimPlayers = game.getElimPlayers()
	}

	c.push(serverEvent{Event: "roomData", Data: data})

	room.setRoomTimeout(s.roomTimeout(room))
}

// startGame is only effective for the room owner. A failed start, whether
// from a non-owner or from too few players for both roles, is surfaced to
// the starter and leaves the room open.
func (s *gameServer) startGame(c *Client, ev clientEvent) {
	roomID, playerID := ev.ids()

	room, ok := s.lookupRoom(roomID)
	if !ok {
		return
	}

	if playerID != room.ownerID() {
		c.push(serverEvent{Event: "startGameRejected", Data: errNotOwner.Error()})

		return
	}

	onStarted := func() {
		s.broadcast(room, "", serverEvent{Event: "gameStarted"})
	}
	onUpdate := func(snap GameSnapshot) {
		s.broadcast(room, "", serverEvent{Event: "update", Data: snap})
	}

	if err := room.startGame(onStarted, onUpdate); err != nil {
		c.push(serverEvent{Event: "startGameRejected", Data: err.Error()})

		return
	}

	room.setRoomTimeout(s.cfg.roomTimeout)

	log.Debug().Str("room", room.id).Int("players", room.playerCount()).Msg("GAMES: game started")
}

// leaveGame drops a lobby seat, or eliminates the leaver from a running game.
// An emptied lobby is torn down immediately, timer included.
func (s *gameServer) leaveGame(ev clientEvent) {
	roomID, playerID := ev.ids()

	room, ok := s.lookupRoom(roomID)
	if !ok {
		return
	}

	name := room.playerName(playerID)
	res := room.leave(playerID)

	switch {
	case res.empty:
		s.mgr.remove(room.id, room)
		log.Debug().Str("room", room.id).Msg("GAMES: room emptied")
	case res.removed:
		// Ownership may have moved, so each member gets a fresh view.
		list := room.getPlayerList()
		owner := room.ownerID()

		for _, m := range room.members() {
			if m.conn == nil {
				continue
			}

			m.conn.push(serverEvent{Event: "roomData", Data: roomData{
				CanStartGame: m.id == owner,
				PlayerList:   list,
			}})
		}

		room.setRoomTimeout(s.roomTimeout(room))
		log.Debug().Str("room", room.id).Str("player", name).Msg("GAMES: player left")
	case res.eliminated:
		// The session already pushed the elimination snapshot.
		room.setRoomTimeout(s.cfg.roomTimeout)
		log.Debug().Str("room", room.id).Str("player", name).Msg("GAMES: player left running game")
	}
}

func (s *gameServer) playerVote(c *Client, ev clientEvent) {
	roomID, playerID := ev.ids()

	room, ok := s.lookupRoom(roomID)
	if !ok || !room.hasPlayer(playerID) || ev.Vote == nil {
		return
	}

	game := room.session()

	var (
		phase Phase
		role  Role
	)

	if game != nil {
		phase = game.state()
		role = game.role(playerID)
	}

	payload := votePayload{PlayerIndex: room.playerIndex(playerID), Vote: *ev.Vote}

	switch routeAudience(kindVote, role, phase, game != nil) {
	case AudienceRejected:
		c.push(serverEvent{Event: "voteRejected", Data: ev.VoteID})

		return
	case AudienceRoom:
		s.broadcast(room, playerID, serverEvent{Event: "vote", Data: payload})
	case AudienceMafia:
		s.broadcastMafia(room, playerID, serverEvent{Event: "vote", Data: payload})
	default:
		return
	}

	game.processVote(playerID, *ev.Vote)

	room.setRoomTimeout(s.cfg.roomTimeout)
}

func (s *gameServer) chatMessage(c *Client, ev clientEvent) {
	roomID, playerID := ev.ids()

	room, ok := s.lookupRoom(roomID)
	if !ok || !room.hasPlayer(playerID) || ev.Message == "" {
		return
	}

	game := room.session()

	var (
		phase Phase
		role  Role
	)

	if game != nil {
		phase = game.state()
		role = game.role(playerID)
	}

	msg := chatPayload{PlayerName: room.playerName(playerID), Message: ev.Message}

	switch routeAudience(kindChat, role, phase, game != nil) {
	case AudienceRejected:
		if ev.MessageID != "" {
			c.push(serverEvent{Event: "chatMessageRejected", Data: ev.MessageID})
		}

		return
	case AudienceRoom:
		s.broadcast(room, playerID, serverEvent{Event: "chatMessage", Data: msg})
		log.Debug().Str("room", room.id).Str("player", msg.PlayerName).Str("message", ev.Message).Msg("CHAT: relayed")
	case AudienceMafia:
		s.broadcastMafia(room, playerID, serverEvent{Event: "chatMessage", Data: msg})
		log.Debug().Str("room", room.id+"_m").Str("player", msg.PlayerName).Str("message", ev.Message).Msg("CHAT: relayed")
	default:
		return
	}

	if ev.MessageID != "" {
		c.push(serverEvent{Event: "chatMessageConfirmed", Data: ev.MessageID})
	}

	room.setRoomTimeout(s.roomTimeout(room))
}

// broadcast delivers to the whole-room group, minus the excluded sender.
func (s *gameServer) broadcast(room *Room, except string, ev serverEvent) {
	for _, c := range room.conns(except) {
		c.push(ev)
	}
}

// broadcastMafia delivers to the room's mafia sub-group only.
func (s *gameServer) broadcastMafia(room *Room, except string, ev serverEvent) {
	for _, c := range room.mafiaConns(except) {
		c.push(ev)
	}
}

// roomTimeout picks the idle window for the room's current life stage: a
// lobby waiting for players expires faster than a room with a running game.
func (s *gameServer) roomTimeout(room *Room) time.Duration {
	if room.session() != nil {
		return s.cfg.roomTimeout
	}

	return s.cfg.newRoomTimeout
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *gameServer) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("SERVE: websocket upgrade failed")

			return
		}

		client := newClient(conn)

		go client.writePump()
		client.readPump(s)
	}
}

// QR handler: generates a PNG QR code for the current room URL.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerMafiaGame sets up routes so that:
//   - /find               → loading page that asks for an open room
//   - /new                → loading page that creates a room
//   - /room/:roomid       → HTML client (or 404 for an unknown room)
//   - /room/:roomid/qr    → PNG QR code for that room URL
//   - /ws                 → WebSocket carrying all game events
func registerMafiaGame(cfg *Config, mgr *RoomManager, mux *httprouter.Router) {
	srv := &gameServer{cfg: cfg, mgr: mgr}

	mux.GET(cfg.prefix+"/find", serveLoadingPage(cfg, "findRoom", "Searching for an open game."))
	mux.GET(cfg.prefix+"/new", serveLoadingPage(cfg, "newRoom", "Creating a room."))
	mux.GET(cfg.prefix+"/room/:roomid", serveRoomPage(cfg, mgr))
	mux.GET(cfg.prefix+"/room/:roomid/qr", qrHandler)

	mux.GET(cfg.prefix+"/assets/mafia/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/mafia/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+"/ws", srv.serveWS())
}
