package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() *Config {
	return &Config{
		defaultName:    "Anonymous",
		mafiaRatio:     0.25,
		dayDuration:    testOptions().DayDuration,
		nightDuration:  testOptions().NightDuration,
		voteDuration:   testOptions().VoteDuration,
		newRoomTimeout: testOptions().DayDuration,
		roomTimeout:    testOptions().DayDuration,
	}
}

func newTestServer() *gameServer {
	return &gameServer{cfg: newTestConfig(), mgr: newRoomManager(seqIDs("room"))}
}

func fakeClient() *Client {
	return &Client{send: make(chan any, 32), done: make(chan struct{})}
}

// nextEvent pops the next queued event; event handling is synchronous, so
// anything a handler pushed is already in the channel.
func nextEvent(t *testing.T, c *Client) serverEvent {
	t.Helper()

	select {
	case msg := <-c.send:
		ev, ok := msg.(serverEvent)
		require.True(t, ok, "queued message is not a server event")

		return ev
	default:
		t.Fatal("no event queued")

		return serverEvent{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected event queued: %+v", msg)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// join runs the newRoom/ackRoom handshake for the first player and returns
// the room id.
func join(t *testing.T, s *gameServer, c *Client, name string, playerID string) string {
	t.Helper()

	s.handleEvent(c, clientEvent{Event: "newRoom"})
	ev := nextEvent(t, c)
	require.Equal(t, "roomIDReturned", ev.Event)
	roomID := ev.Data.(string)

	s.handleEvent(c, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: playerID, PlayerName: name})
	require.Equal(t, "roomData", nextEvent(t, c).Event)

	return roomID
}

func TestGetNewPlayerID(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()
	c := fakeClient()

	s.handleEvent(c, clientEvent{Event: "getNewPlayerID"})

	ev := nextEvent(t, c)
	assert.Equal(t, "playerIDReturned", ev.Event)
	assert.True(t, validID(ev.Data.(string)))
}

func TestAckRoomHandshake(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner := fakeClient()

	s.handleEvent(owner, clientEvent{Event: "newRoom"})
	roomID := nextEvent(t, owner).Data.(string)

	s.handleEvent(owner, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p1", PlayerName: "Alice"})

	ev := nextEvent(t, owner)
	require.Equal(t, "roomData", ev.Event)
	data := ev.Data.(roomData)
	assert.True(t, data.IsFirstConnection)
	assert.True(t, data.CanStartGame)
	assert.Equal(t, []string{"Alice"}, data.PlayerList)
	assert.Nil(t, data.GameState)

	// Second player: the room announces them to everyone else, and their
	// own view says they cannot start the game.
	second := fakeClient()
	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})

	ev = nextEvent(t, owner)
	assert.Equal(t, "newPlayer", ev.Event)
	assert.Equal(t, "Bob", ev.Data)

	ev = nextEvent(t, second)
	require.Equal(t, "roomData", ev.Event)
	data = ev.Data.(roomData)
	assert.True(t, data.IsFirstConnection)
	assert.False(t, data.CanStartGame)
	assert.Equal(t, []string{"Alice", "Bob"}, data.PlayerList)
}

func TestAckUnknownRoomIsIgnored(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()
	c := fakeClient()

	s.handleEvent(c, clientEvent{Event: "ackRoom", RoomID: "no-such-room", PlayerID: "p1"})

	assertNoEvent(t, c)
}

func TestSealedRoomRejectsStrangersButReadmitsMembers(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner, second := fakeClient(), fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})
	drain(owner)
	drain(second)

	s.handleEvent(owner, clientEvent{Event: "startGame", RoomID: roomID, PlayerID: "p1"})

	require.Equal(t, "gameStarted", nextEvent(t, owner).Event)
	require.Equal(t, "update", nextEvent(t, owner).Event)
	require.Equal(t, "gameStarted", nextEvent(t, second).Event)
	require.Equal(t, "update", nextEvent(t, second).Event)

	// A stranger bounces off the sealed room.
	stranger := fakeClient()
	s.handleEvent(stranger, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p3", PlayerName: "Eve"})
	assert.Equal(t, "roomIsSealed", nextEvent(t, stranger).Event)

	// A member reconnecting on a fresh socket gets the full game view.
	rejoin := fakeClient()
	s.handleEvent(rejoin, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})

	ev := nextEvent(t, rejoin)
	require.Equal(t, "roomData", ev.Event)
	data := ev.Data.(roomData)
	assert.False(t, data.IsFirstConnection)
	assert.False(t, data.CanStartGame)
	require.NotNil(t, data.GameState)
	assert.True(t, data.GameState.IsDay)
	assert.Contains(t, []Role{RoleMafia, RoleCivilian}, data.PlayerRole)
}

func TestStartGameRequiresOwner(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner, second := fakeClient(), fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})
	drain(owner)
	drain(second)

	s.handleEvent(second, clientEvent{Event: "startGame", RoomID: roomID, PlayerID: "p2"})

	ev := nextEvent(t, second)
	assert.Equal(t, "startGameRejected", ev.Event)
	assert.Equal(t, errNotOwner.Error(), ev.Data)
	assertNoEvent(t, owner)

	room, _ := s.mgr.get(roomID)
	assert.False(t, room.isSealed())
	assert.Nil(t, room.session())
}

func TestStartGameRejectedWhenAlone(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner := fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(owner, clientEvent{Event: "startGame", RoomID: roomID, PlayerID: "p1"})

	assert.Equal(t, "startGameRejected", nextEvent(t, owner).Event)

	room, _ := s.mgr.get(roomID)
	assert.False(t, room.isSealed())
	assert.Nil(t, room.session())
}

func TestLobbyChatBroadcasts(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner, second := fakeClient(), fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})
	drain(owner)
	drain(second)

	s.handleEvent(owner, clientEvent{
		Event:     "chatMessage",
		UserData:  &userData{RoomID: roomID, PlayerID: "p1"},
		Message:   "hello",
		MessageID: "m1",
	})

	ev := nextEvent(t, second)
	require.Equal(t, "chatMessage", ev.Event)
	msg := ev.Data.(chatPayload)
	assert.Equal(t, "Alice", msg.PlayerName)
	assert.Equal(t, "hello", msg.Message)

	// The sender gets a confirmation, not an echo.
	ev = nextEvent(t, owner)
	assert.Equal(t, "chatMessageConfirmed", ev.Event)
	assert.Equal(t, "m1", ev.Data)
	assertNoEvent(t, owner)
}

func TestNightChatIsMafiaOnly(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner, second := fakeClient(), fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})
	drain(owner)
	drain(second)

	s.handleEvent(owner, clientEvent{Event: "startGame", RoomID: roomID, PlayerID: "p1"})
	drain(owner)
	drain(second)

	room, _ := s.mgr.get(roomID)
	game := room.session()
	require.NotNil(t, game)

	game.mu.Lock()
	game.phase = Phase{IsDay: false}
	game.mu.Unlock()

	clients := map[string]*Client{"p1": owner, "p2": second}

	for id, c := range clients {
		ev := clientEvent{
			Event:     "chatMessage",
			UserData:  &userData{RoomID: roomID, PlayerID: id},
			Message:   "psst",
			MessageID: "m-" + id,
		}
		s.handleEvent(c, ev)

		if game.role(id) == RoleMafia {
			// Mafia talk goes through; with no other mafia seated the
			// message simply has no recipients.
			got := nextEvent(t, c)
			assert.Equal(t, "chatMessageConfirmed", got.Event)
		} else {
			got := nextEvent(t, c)
			assert.Equal(t, "chatMessageRejected", got.Event)
			assert.Equal(t, "m-"+id, got.Data)
		}
	}
}

func TestNightTrafficReachesOtherMafiaOnly(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	clients := map[string]*Client{
		"p1": fakeClient(), "p2": fakeClient(), "p3": fakeClient(), "p4": fakeClient(),
	}
	roomID := join(t, s, clients["p1"], "Alice", "p1")

	for _, p := range []struct{ id, name string }{
		{"p2", "Bob"}, {"p3", "Carol"}, {"p4", "Dave"},
	} {
		s.handleEvent(clients[p.id], clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: p.id, PlayerName: p.name})
	}

	s.handleEvent(clients["p1"], clientEvent{Event: "startGame", RoomID: roomID, PlayerID: "p1"})
	for _, c := range clients {
		drain(c)
	}

	room, _ := s.mgr.get(roomID)
	game := room.session()
	require.NotNil(t, game)

	// Pin two mafia so the sub-group has a recipient besides the sender.
	game.mu.Lock()
	game.roles = map[string]Role{
		"p1": RoleMafia, "p2": RoleMafia, "p3": RoleCivilian, "p4": RoleCivilian,
	}
	game.phase = Phase{IsDay: false}
	game.mu.Unlock()

	s.handleEvent(clients["p1"], clientEvent{
		Event:     "chatMessage",
		UserData:  &userData{RoomID: roomID, PlayerID: "p1"},
		Message:   "psst",
		MessageID: "m1",
	})

	// The other mafia hears it; civilians never do.
	ev := nextEvent(t, clients["p2"])
	require.Equal(t, "chatMessage", ev.Event)
	msg := ev.Data.(chatPayload)
	assert.Equal(t, "Alice", msg.PlayerName)
	assert.Equal(t, "psst", msg.Message)
	assertNoEvent(t, clients["p3"])
	assertNoEvent(t, clients["p4"])
	assert.Equal(t, "chatMessageConfirmed", nextEvent(t, clients["p1"]).Event)

	// Same audience for a night ballot.
	game.mu.Lock()
	game.phase = Phase{IsDay: false, IsVoting: true}
	game.mu.Unlock()

	vote := 2
	s.handleEvent(clients["p1"], clientEvent{
		Event:    "playerVote",
		UserData: &userData{RoomID: roomID, PlayerID: "p1"},
		Vote:     &vote,
		VoteID:   "v1",
	})

	ev = nextEvent(t, clients["p2"])
	require.Equal(t, "vote", ev.Event)
	payload := ev.Data.(votePayload)
	assert.Equal(t, 0, payload.PlayerIndex)
	assert.Equal(t, 2, payload.Vote)
	assertNoEvent(t, clients["p3"])
	assertNoEvent(t, clients["p4"])

	game.mu.Lock()
	recorded := game.votes["p1"]
	game.mu.Unlock()
	assert.Equal(t, 2, recorded)
}

func TestPushNeverBlocksWhenFull(t *testing.T) {
	c := newClient(nil)

	for i := 0; i < cap(c.send); i++ {
		c.push(i)
	}

	done := make(chan struct{})
	go func() {
		c.push("overflow")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked on a full send queue")
	}

	assert.Equal(t, cap(c.send), len(c.send))
}

func TestVoteOutsideVotingWindowIsDropped(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner := fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	vote := 0
	s.handleEvent(owner, clientEvent{
		Event:    "playerVote",
		UserData: &userData{RoomID: roomID, PlayerID: "p1"},
		Vote:     &vote,
		VoteID:   "v1",
	})

	assertNoEvent(t, owner)
}

func TestDayVoteBroadcastsAndRecords(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner, second := fakeClient(), fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})
	drain(owner)
	drain(second)

	s.handleEvent(owner, clientEvent{Event: "startGame", RoomID: roomID, PlayerID: "p1"})
	drain(owner)
	drain(second)

	room, _ := s.mgr.get(roomID)
	game := room.session()
	require.NotNil(t, game)

	game.mu.Lock()
	game.phase = Phase{IsDay: true, IsVoting: true}
	game.mu.Unlock()

	vote := 1
	s.handleEvent(owner, clientEvent{
		Event:    "playerVote",
		UserData: &userData{RoomID: roomID, PlayerID: "p1"},
		Vote:     &vote,
		VoteID:   "v1",
	})

	ev := nextEvent(t, second)
	require.Equal(t, "vote", ev.Event)
	payload := ev.Data.(votePayload)
	assert.Equal(t, 0, payload.PlayerIndex)
	assert.Equal(t, 1, payload.Vote)

	game.mu.Lock()
	recorded := game.votes["p1"]
	game.mu.Unlock()
	assert.Equal(t, 1, recorded)
}

func TestLeaveGameEmptiesAndRemovesRoom(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner := fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(owner, clientEvent{Event: "leaveGame", RoomID: roomID, PlayerID: "p1"})

	_, ok := s.mgr.get(roomID)
	assert.False(t, ok)
}

func TestLeaveGameMovesOwnership(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner, second := fakeClient(), fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	s.handleEvent(second, clientEvent{Event: "ackRoom", RoomID: roomID, PlayerID: "p2", PlayerName: "Bob"})
	drain(owner)
	drain(second)

	s.handleEvent(owner, clientEvent{Event: "leaveGame", RoomID: roomID, PlayerID: "p1"})

	ev := nextEvent(t, second)
	require.Equal(t, "roomData", ev.Event)
	data := ev.Data.(roomData)
	assert.True(t, data.CanStartGame)
	assert.Equal(t, []string{"Bob"}, data.PlayerList)

	room, _ := s.mgr.get(roomID)
	assert.Equal(t, "p2", room.ownerID())
}

func TestFindRoomReusesOpenRoom(t *testing.T) {
	s := newTestServer()
	defer s.mgr.close()

	owner := fakeClient()
	roomID := join(t, s, owner, "Alice", "p1")

	seeker := fakeClient()
	s.handleEvent(seeker, clientEvent{Event: "findRoom"})

	ev := nextEvent(t, seeker)
	require.Equal(t, "roomIDReturned", ev.Event)
	assert.Equal(t, roomID, ev.Data)
}
