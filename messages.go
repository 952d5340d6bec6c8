package main

import (
	"encoding/json"
	"log"

	"github.com/sivtsovame/battle-of-sea/constants"
)

// ClientMessage is the inbound envelope. Payload stays raw until the handler
// for the given type decodes it; when the payload field is absent the whole
// envelope is treated as the payload (older clients send flat objects).
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound payloads. Validation tags cover field-level checks; room/game
// preconditions are checked by the handlers against the registry.

type ConnectRequest struct {
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
}

type CreateRoomRequest struct {
	RoomName   string `json:"roomName" validate:"required"`
	MaxPlayers int    `json:"maxPlayers" validate:"gte=0,lte=2"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

type PlayerReadyRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

type ShipSpec struct {
	X          int  `json:"x" validate:"gte=0,lte=9"`
	Y          int  `json:"y" validate:"gte=0,lte=9"`
	Size       int  `json:"size" validate:"gte=1,lte=4"`
	Horizontal bool `json:"horizontal"`
}

type ShipPlacementRequest struct {
	Ships []ShipSpec `json:"ships" validate:"required,min=1,dive"`
}

// Row and col are pointers so a missing field fails validation instead of
// turning into a shot at (0,0). The client sends row=Y, col=X.
type ShootRequest struct {
	Row *int `json:"row" validate:"required,gte=0,lte=9"`
	Col *int `json:"col" validate:"required,gte=0,lte=9"`
}

type ReconnectRequest struct {
	PlayerID string `json:"playerId" validate:"required"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

// Outbound payloads.

type ConnectedPayload struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MaxPlayers    int    `json:"maxPlayers"`
	Players       int    `json:"players"`
	IsGameStarted bool   `json:"isGameStarted"`
}

type RoomCreatedPayload struct {
	Room RoomInfo `json:"room"`
}

type RoomsListPayload struct {
	Rooms []RoomInfo `json:"rooms"`
}

type JoinRoomResultPayload struct {
	Success  bool         `json:"success"`
	RoomID   string       `json:"roomId,omitempty"`
	RoomName string       `json:"roomName,omitempty"`
	Players  []PlayerInfo `json:"players,omitempty"`
	Message  string       `json:"message"`
}

type LeftRoomPayload struct {
	Success bool `json:"success"`
}

type PlayerReadyPayload struct {
	PlayerID string `json:"playerId"`
	Message  string `json:"message"`
}

type GameStartPayload struct {
	Success       bool    `json:"success"`
	FirstPlayer   string  `json:"firstPlayer"`
	IsYourTurn    bool    `json:"isYourTurn"`
	MyShips       []Coord `json:"myShips"`
	TurnStartedAt int64   `json:"turnStartedAt"`
}

type ShipPlacementResultPayload struct {
	Success bool `json:"success"`
}

type ShootResultPayload struct {
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Result        string `json:"result"`
	TurnStartedAt int64  `json:"turnStartedAt"`
}

type OpponentShootPayload struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Result string `json:"result"`
}

type TurnPayload struct {
	TurnStartedAt int64 `json:"turnStartedAt"`
}

type GameOverPayload struct {
	Winner string `json:"winner"`
	Reason string `json:"reason,omitempty"`
}

type ChatPayload struct {
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

type ReconnectedPayload struct {
	PlayerID string `json:"playerId"`
	Opponent string `json:"opponent"`
}

// MessagePayload carries a single human-readable message; used by error,
// info, RoomClosed, OpponentLeft and ReturnToPlacement envelopes.
type MessagePayload struct {
	Message string `json:"message"`
}

func errorMessage(text string) ServerMessage {
	return ServerMessage{Type: constants.MessageTypeError, Payload: MessagePayload{Message: text}}
}

func infoMessage(text string) ServerMessage {
	return ServerMessage{Type: constants.MessageTypeInfo, Payload: MessagePayload{Message: text}}
}

// outbound is a message bound to the connection a player held at the moment
// the state mutation happened. Capturing the Conn under the registry lock
// keeps sends consistent with reconnection rebinds; delivery itself happens
// after the lock is released.
type outbound struct {
	conn Conn
	msg  ServerMessage
}

func to(p *Player, msg ServerMessage) outbound {
	return outbound{conn: p.Conn, msg: msg}
}

// deliver sends collected messages, dropping any bound to a missing
// connection. Send failures to a dropped peer are logged, never propagated.
func deliver(msgs []outbound) {
	for _, m := range msgs {
		if m.conn == nil {
			continue
		}
		if err := m.conn.Send(m.msg); err != nil {
			log.Printf("[Send] failed to deliver %s: %v", m.msg.Type, err)
		}
	}
}
