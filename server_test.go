package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/sivtsovame/battle-of-sea/constants"
)

func newTestServer() *Server {
	return NewServer(NewManager(time.Hour))
}

// newTestClient attaches a stub connection to the server, as serveConn would.
func newTestClient(s *Server) (*client, *stubConn) {
	conn := &stubConn{}
	s.addConn(conn)
	return &client{srv: s, conn: conn}, conn
}

func connectPlayer(t *testing.T, s *Server, name, id string) (*client, *stubConn) {
	t.Helper()
	cl, conn := newTestClient(s)
	cl.handle([]byte(fmt.Sprintf(`{"type":"connect","payload":{"displayName":%q,"userId":%q}}`, name, id)))
	if _, ok := conn.lastOfType(constants.MessageTypeConnected); !ok {
		t.Fatalf("connect should produce a connected reply")
	}
	return cl, conn
}

func createRoomFor(t *testing.T, cl *client, conn *stubConn, name string) string {
	t.Helper()
	cl.handle([]byte(fmt.Sprintf(`{"type":"createroom","payload":{"roomName":%q}}`, name)))
	msg, ok := conn.lastOfType(constants.MessageTypeRoomCreated)
	if !ok {
		t.Fatalf("createroom should produce RoomCreated")
	}
	return msg.Payload.(RoomCreatedPayload).Room.ID
}

func placeFleet(t *testing.T, cl *client, conn *stubConn) {
	t.Helper()
	cl.handle([]byte(`{"type":"shipplacement","payload":{"ships":[{"x":0,"y":0,"size":4,"horizontal":true}]}}`))
	msg, ok := conn.lastOfType(constants.MessageTypeShipPlacementResult)
	if !ok || !msg.Payload.(ShipPlacementResultPayload).Success {
		t.Fatalf("placement should succeed")
	}
}

func TestHandleMalformedEnvelope(t *testing.T) {
	s := newTestServer()
	cl, conn := newTestClient(s)

	cl.handle([]byte(`{not json`))
	if msg, ok := conn.lastOfType(constants.MessageTypeError); !ok ||
		msg.Payload.(MessagePayload).Message != "Invalid JSON" {
		t.Errorf("malformed JSON should produce an Invalid JSON error")
	}

	cl.handle([]byte(`{"payload":{}}`))
	if msg, _ := conn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Missing Type" {
		t.Errorf("an envelope without a type should produce Missing Type")
	}

	cl.handle([]byte(`{"type":"frobnicate"}`))
	if msg, _ := conn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Unknown command" {
		t.Errorf("an unknown type should produce Unknown command")
	}
}

func TestHandleConnectWithoutPayloadField(t *testing.T) {
	s := newTestServer()
	cl, conn := newTestClient(s)

	// Older clients send the fields at the top level.
	cl.handle([]byte(`{"type":"connect","displayName":"Alice","userId":"u1"}`))

	msg, ok := conn.lastOfType(constants.MessageTypeConnected)
	if !ok {
		t.Fatalf("flat envelopes should still connect")
	}
	got := msg.Payload.(ConnectedPayload)
	if got.PlayerID != "u1" || got.DisplayName != "Alice" {
		t.Errorf("unexpected connected payload: %+v", got)
	}
}

func TestHandleConnectGeneratesID(t *testing.T) {
	s := newTestServer()
	cl, conn := newTestClient(s)

	cl.handle([]byte(`{"type":"connect","payload":{"displayName":"Alice"}}`))

	msg, _ := conn.lastOfType(constants.MessageTypeConnected)
	if msg.Payload.(ConnectedPayload).PlayerID == "" {
		t.Errorf("a missing userId should be generated")
	}
	if _, ok := conn.lastOfType(constants.MessageTypeRoomsList); !ok {
		t.Errorf("connecting should push the rooms list")
	}
}

func TestHandlersRequireConnection(t *testing.T) {
	s := newTestServer()
	cl, conn := newTestClient(s)

	for _, raw := range []string{
		`{"type":"createroom","payload":{"roomName":"duel"}}`,
		`{"type":"joinroom","payload":{"roomId":"x"}}`,
		`{"type":"shoot","payload":{"row":0,"col":0}}`,
		`{"type":"playagain"}`,
		`{"type":"leaveroom"}`,
	} {
		cl.handle([]byte(raw))
		msg, ok := conn.lastOfType(constants.MessageTypeError)
		if !ok || msg.Payload.(MessagePayload).Message != "Not connected" {
			t.Errorf("%s should be rejected before connect", raw)
		}
	}
}

func TestJoinRoomResultBranches(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, guestConn := connectPlayer(t, s, "Bob", "u2")
	third, thirdConn := connectPlayer(t, s, "Carol", "u3")

	roomID := createRoomFor(t, host, hostConn, "duel")

	guest.handle([]byte(`{"type":"joinroom","payload":{"roomId":"missing"}}`))
	if msg, _ := guestConn.lastOfType(constants.MessageTypeJoinRoomResult); msg.Payload.(JoinRoomResultPayload).Message != "Room not found" {
		t.Errorf("joining a missing room should fail with Room not found")
	}

	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))
	msg, _ := guestConn.lastOfType(constants.MessageTypeJoinRoomResult)
	result := msg.Payload.(JoinRoomResultPayload)
	if !result.Success || len(result.Players) != 2 {
		t.Fatalf("join should succeed with both members listed, got %+v", result)
	}

	third.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))
	if msg, _ := thirdConn.lastOfType(constants.MessageTypeJoinRoomResult); msg.Payload.(JoinRoomResultPayload).Success {
		t.Errorf("a full/started room should reject a third player")
	}
}

func TestFullMatchFlow(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, guestConn := connectPlayer(t, s, "Bob", "u2")

	roomID := createRoomFor(t, host, hostConn, "duel")
	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))

	placeFleet(t, host, hostConn)
	placeFleet(t, guest, guestConn)

	ready := fmt.Sprintf(`{"type":"playerready","payload":{"roomId":%q}}`, roomID)
	host.handle([]byte(ready))
	if _, ok := hostConn.lastOfType(constants.MessageTypeGameStart); ok {
		t.Fatalf("the game must not start before both are ready")
	}
	guest.handle([]byte(ready))

	hostStart, ok := hostConn.lastOfType(constants.MessageTypeGameStart)
	if !ok {
		t.Fatalf("both ready should start the game")
	}
	guestStart, _ := guestConn.lastOfType(constants.MessageTypeGameStart)
	if !hostStart.Payload.(GameStartPayload).IsYourTurn {
		t.Errorf("the creator goes first")
	}
	if guestStart.Payload.(GameStartPayload).IsYourTurn {
		t.Errorf("the guest waits")
	}

	// Guest shoots out of turn.
	guest.handle([]byte(`{"type":"shoot","payload":{"row":0,"col":0}}`))
	if msg, _ := guestConn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Not your turn" {
		t.Errorf("an out-of-turn shot should be rejected")
	}

	// Host sinks the guest's only ship: (0,0)-(3,0).
	for col := 0; col < 4; col++ {
		host.handle([]byte(fmt.Sprintf(`{"type":"shoot","payload":{"row":0,"col":%d}}`, col)))
	}

	msg, ok := hostConn.lastOfType(constants.MessageTypeShootResult)
	if !ok || msg.Payload.(ShootResultPayload).Result != "Sunk" {
		t.Fatalf("the fourth hit should sink the ship")
	}
	over, ok := hostConn.lastOfType(constants.MessageTypeGameOver)
	if !ok || over.Payload.(GameOverPayload).Winner != "Alice" {
		t.Fatalf("the shooter should win")
	}
	// The winner sees the sinking shot's result before the game-over envelope.
	resultAt, overAt := -1, -1
	for i, m := range hostConn.messages() {
		switch m.Type {
		case constants.MessageTypeShootResult:
			resultAt = i
		case constants.MessageTypeGameOver:
			overAt = i
		}
	}
	if overAt < resultAt {
		t.Errorf("GameOver arrived before the final ShootResult")
	}
	if _, ok := guestConn.lastOfType(constants.MessageTypeGameOver); !ok {
		t.Errorf("the loser should also see GameOver")
	}
	if guestConn.countOfType(constants.MessageTypeOpponentShoot) != 4 {
		t.Errorf("every shot should be mirrored to the opponent")
	}

	// Rematch: both ask, both return to placement.
	host.handle([]byte(`{"type":"playagain"}`))
	if _, ok := hostConn.lastOfType(constants.MessageTypeInfo); !ok {
		t.Errorf("a lone rematch request should be told to wait")
	}
	guest.handle([]byte(`{"type":"playagain"}`))
	if _, ok := hostConn.lastOfType(constants.MessageTypeReturnToPlacement); !ok {
		t.Errorf("both agreeing should return the host to placement")
	}
	if _, ok := guestConn.lastOfType(constants.MessageTypeReturnToPlacement); !ok {
		t.Errorf("both agreeing should return the guest to placement")
	}
}

func TestShootMissSwitchesTurnOverWire(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, guestConn := connectPlayer(t, s, "Bob", "u2")
	roomID := createRoomFor(t, host, hostConn, "duel")
	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))
	placeFleet(t, host, hostConn)
	placeFleet(t, guest, guestConn)
	ready := fmt.Sprintf(`{"type":"playerready","payload":{"roomId":%q}}`, roomID)
	host.handle([]byte(ready))
	guest.handle([]byte(ready))

	// row=Y, col=X: (5,5) is open water on the guest's board.
	host.handle([]byte(`{"type":"shoot","payload":{"row":5,"col":5}}`))

	if msg, _ := hostConn.lastOfType(constants.MessageTypeShootResult); msg.Payload.(ShootResultPayload).Result != "Miss" {
		t.Fatalf("shot at open water should miss")
	}
	if _, ok := guestConn.lastOfType(constants.MessageTypeYourTurn); !ok {
		t.Errorf("a miss should hand the turn to the guest")
	}
	if _, ok := hostConn.lastOfType(constants.MessageTypeOpponentTurn); !ok {
		t.Errorf("the host should be told it is the opponent's turn")
	}
}

func TestPlayerReadyWrongRoomRejectedWithoutMutation(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	roomID := createRoomFor(t, host, hostConn, "duel")

	host.handle([]byte(`{"type":"playerready","payload":{"roomId":"bogus"}}`))

	if msg, _ := hostConn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Room not found" {
		t.Fatalf("a wrong roomId should be rejected")
	}
	room := s.manager.findRoomByID(roomID)
	if room.ReadyStatus["u1"] {
		t.Errorf("a rejected ready must not set the readiness flag")
	}
	if host.player.Ready {
		t.Errorf("a rejected ready must not mark the player ready")
	}

	// The real room id still works.
	host.handle([]byte(fmt.Sprintf(`{"type":"playerready","payload":{"roomId":%q}}`, roomID)))
	if _, ok := hostConn.lastOfType(constants.MessageTypePlayerReadyAck); !ok {
		t.Errorf("readying up in the player's own room should be acknowledged")
	}
	if !room.ReadyStatus["u1"] {
		t.Errorf("an accepted ready should set the readiness flag")
	}
}

func TestShipPlacementValidation(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	createRoomFor(t, host, hostConn, "duel")

	host.handle([]byte(`{"type":"shipplacement","payload":{}}`))
	if msg, _ := hostConn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Missing or invalid ships array" {
		t.Errorf("a payload without ships should be rejected")
	}

	host.handle([]byte(`{"type":"shipplacement","payload":{"ships":[{"x":0,"y":0,"size":7,"horizontal":true}]}}`))
	if msg, _ := hostConn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Invalid ship coordinates or size" {
		t.Errorf("an oversized ship should be rejected")
	}

	// An overlapping fleet fails placement and leaves the board clear.
	host.handle([]byte(`{"type":"shipplacement","payload":{"ships":[{"x":0,"y":0,"size":4,"horizontal":true},{"x":0,"y":0,"size":2,"horizontal":false}]}}`))
	if msg, _ := hostConn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Invalid ship placement" {
		t.Errorf("overlapping ships should be rejected")
	}
	if host.player.Board.ShipCount() != 0 {
		t.Errorf("a failed fleet should leave the board empty")
	}

	placeFleet(t, host, hostConn)
	if host.player.Board.ShipCount() != 1 {
		t.Errorf("a valid fleet should be placed")
	}
}

func TestReconnectRebindsConnection(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, _ := connectPlayer(t, s, "Bob", "u2")
	roomID := createRoomFor(t, host, hostConn, "duel")
	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))

	replacement, replacementConn := newTestClient(s)
	replacement.handle([]byte(`{"type":"reconnect","payload":{"playerId":"u2"}}`))

	msg, ok := replacementConn.lastOfType(constants.MessageTypeReconnected)
	if !ok {
		t.Fatalf("reconnect should succeed for a known player")
	}
	got := msg.Payload.(ReconnectedPayload)
	if got.PlayerID != "u2" || got.Opponent != "Alice" {
		t.Errorf("unexpected reconnected payload: %+v", got)
	}
	if replacement.player != guest.player {
		t.Errorf("reconnect must rebind the existing player, not create one")
	}
	if guest.player.Conn != replacementConn {
		t.Errorf("the player's connection reference should point at the new connection")
	}

	// The old connection's read loop exiting now must not tear anything down.
	guest.disconnect()
	if s.manager.findSessionByPlayerID("u2") == nil {
		t.Errorf("a superseded connection's cleanup must not remove the session")
	}
}

func TestReconnectUnknownPlayer(t *testing.T) {
	s := newTestServer()
	cl, conn := newTestClient(s)

	cl.handle([]byte(`{"type":"reconnect","payload":{"playerId":"ghost"}}`))

	if msg, _ := conn.lastOfType(constants.MessageTypeError); msg.Payload.(MessagePayload).Message != "Player not found" {
		t.Errorf("reconnecting an unknown id should fail")
	}
}

func TestDisconnectMidBattle(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, guestConn := connectPlayer(t, s, "Bob", "u2")
	roomID := createRoomFor(t, host, hostConn, "duel")
	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))
	placeFleet(t, host, hostConn)
	placeFleet(t, guest, guestConn)
	ready := fmt.Sprintf(`{"type":"playerready","payload":{"roomId":%q}}`, roomID)
	host.handle([]byte(ready))
	guest.handle([]byte(ready))

	host.disconnect()

	over, ok := guestConn.lastOfType(constants.MessageTypeGameOver)
	if !ok {
		t.Fatalf("the opponent should be awarded the win")
	}
	payload := over.Payload.(GameOverPayload)
	if payload.Winner != "Bob" || payload.Reason != constants.ReasonOpponentDisconnected {
		t.Errorf("unexpected GameOver payload: %+v", payload)
	}
	if s.manager.findSessionByPlayerID("u2") != nil {
		t.Errorf("the session should be gone")
	}
}

func TestChatRelaysToRoomOnly(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, guestConn := connectPlayer(t, s, "Bob", "u2")
	_, outsiderConn := connectPlayer(t, s, "Carol", "u3")
	roomID := createRoomFor(t, host, hostConn, "duel")
	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))

	host.handle([]byte(`{"type":"chat","payload":{"text":"  hello  "}}`))

	msg, ok := guestConn.lastOfType(constants.MessageTypeChatRelay)
	if !ok {
		t.Fatalf("the room member should receive the chat")
	}
	got := msg.Payload.(ChatPayload)
	if got.SenderName != "Alice" || got.Text != "hello" {
		t.Errorf("unexpected chat payload: %+v", got)
	}
	if _, ok := hostConn.lastOfType(constants.MessageTypeChatRelay); ok {
		t.Errorf("the sender should not be echoed")
	}
	if _, ok := outsiderConn.lastOfType(constants.MessageTypeChatRelay); ok {
		t.Errorf("players outside the room should not receive room chat")
	}

	// Blank chat is dropped silently.
	host.handle([]byte(`{"type":"chat","payload":{"text":"   "}}`))
	if guestConn.countOfType(constants.MessageTypeChatRelay) != 1 {
		t.Errorf("blank chat should be dropped")
	}
}

func TestGetRoomsAndPing(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	createRoomFor(t, host, hostConn, "duel")
	cl, conn := newTestClient(s)

	cl.handle([]byte(`{"type":"getrooms"}`))
	msg, ok := conn.lastOfType(constants.MessageTypeRoomsList)
	if !ok {
		t.Fatalf("getrooms needs no connect handshake")
	}
	rooms := msg.Payload.(RoomsListPayload).Rooms
	if len(rooms) != 1 || rooms[0].Name != "duel" {
		t.Errorf("the open room should be listed, got %+v", rooms)
	}

	cl.handle([]byte(`{"type":"ping"}`))
	if _, ok := conn.lastOfType(constants.MessageTypePong); !ok {
		t.Errorf("ping should produce pong")
	}
}

func TestLeaveRoomOverWire(t *testing.T) {
	s := newTestServer()
	host, hostConn := connectPlayer(t, s, "Alice", "u1")
	guest, guestConn := connectPlayer(t, s, "Bob", "u2")
	roomID := createRoomFor(t, host, hostConn, "duel")
	guest.handle([]byte(fmt.Sprintf(`{"type":"joinroom","payload":{"roomId":%q}}`, roomID)))

	guest.handle([]byte(`{"type":"leaveroom"}`))

	if msg, _ := guestConn.lastOfType(constants.MessageTypeLeftRoom); !msg.Payload.(LeftRoomPayload).Success {
		t.Errorf("leaving should be acknowledged")
	}
	if _, ok := hostConn.lastOfType(constants.MessageTypeOpponentLeft); !ok {
		t.Errorf("the creator should see OpponentLeft")
	}

	// Leaving while in no room still succeeds.
	guest.handle([]byte(`{"type":"leaveroom"}`))
	if guestConn.countOfType(constants.MessageTypeLeftRoom) != 2 {
		t.Errorf("leaving with no room should still be acknowledged")
	}
}
