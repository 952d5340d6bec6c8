package constants

import "time"

// Inbound Message Types
const (
	MessageTypeConnect       = "connect"
	MessageTypePing          = "ping"
	MessageTypeCreateRoom    = "createroom"
	MessageTypeJoinRoom      = "joinroom"
	MessageTypeLeaveRoom     = "leaveroom"
	MessageTypePlayerReady   = "playerready"
	MessageTypeShipPlacement = "shipplacement"
	MessageTypeShoot         = "shoot"
	MessageTypePlayAgain     = "playagain"
	MessageTypeReconnect     = "reconnect"
	MessageTypeChat          = "chat"
	MessageTypeChatMessage   = "chatmessage" // alias kept for older clients
	MessageTypeGetRooms      = "getrooms"
	MessageTypeRoomsListReq  = "roomslist" // alias kept for older clients
)

// Outbound Message Types
const (
	MessageTypeConnected           = "connected"
	MessageTypePong                = "pong"
	MessageTypeRoomCreated         = "RoomCreated"
	MessageTypeRoomsList           = "RoomsList"
	MessageTypeJoinRoomResult      = "JoinRoomResult"
	MessageTypeLeftRoom            = "LeftRoom"
	MessageTypePlayerReadyAck      = "PlayerReady"
	MessageTypeGameStart           = "GameStart"
	MessageTypeShipPlacementResult = "shipPlacementResult"
	MessageTypeShootResult         = "ShootResult"
	MessageTypeOpponentShoot       = "OpponentShoot"
	MessageTypeYourTurn            = "YourTurn"
	MessageTypeOpponentTurn        = "OpponentTurn"
	MessageTypeTurnTimeout         = "turn_timeout"
	MessageTypeGameOver            = "GameOver"
	MessageTypeReturnToPlacement   = "ReturnToPlacement"
	MessageTypeRoomClosed          = "RoomClosed"
	MessageTypeOpponentLeft        = "OpponentLeft"
	MessageTypeChatRelay           = "Chat"
	MessageTypeReconnected         = "reconnected"
	MessageTypeError               = "error"
	MessageTypeInfo                = "info"
)

// Game Constants
const (
	BoardSize   = 10
	MinShipSize = 1
	MaxShipSize = 4
)

// Room Constants
const (
	RoomCapacity = 2
)

// GameOver Reasons
const (
	ReasonOpponentDisconnected = "opponent_disconnected"
)

// Server Configuration
const (
	DefaultServerAddr = ":5556"
	DefaultTurnTime   = 30 * time.Second
	WebSocketPath     = "/ws"
	RoomsPath         = "/rooms"
	StatusPath        = "/status"
)
