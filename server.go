package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sivtsovame/battle-of-sea/constants"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the transports and the set of live connections, and dispatches
// every inbound message to the registry it was constructed with.
type Server struct {
	manager  *Manager
	validate *validator.Validate

	mu    sync.Mutex
	conns map[Conn]struct{}
}

func NewServer(manager *Manager) *Server {
	return &Server{
		manager:  manager,
		validate: validator.New(),
		conns:    make(map[Conn]struct{}),
	}
}

// Routes wires the HTTP surface: the websocket upgrade plus a small lobby
// REST listing and a status endpoint.
func (s *Server) Routes(router *gin.Engine) {
	router.GET(constants.WebSocketPath, s.handleWS)
	router.GET(constants.RoomsPath, s.handleRoomsHTTP)
	router.GET(constants.StatusPath, s.handleStatus)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Server] upgrade error: %v", err)
		return
	}
	go s.serveConn(newWSConn(conn))
}

func (s *Server) handleRoomsHTTP(c *gin.Context) {
	s.manager.mu.Lock()
	rooms := s.manager.roomInfos()
	s.manager.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.manager.mu.Lock()
	players, rooms, sessions := s.manager.counts()
	s.manager.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"players":  players,
		"rooms":    rooms,
		"sessions": sessions,
	})
}

// ServeTCP accepts legacy line-JSON clients on the given listener.
func (s *Server) ServeTCP(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("[Server] accept error: %v", err)
			return
		}
		log.Printf("[Server] tcp client connected: %s", conn.RemoteAddr())
		go s.serveConn(newTCPConn(conn))
	}
}

func (s *Server) addConn(conn Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(conn Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) allConns() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) roomsListMessage() ServerMessage {
	s.manager.mu.Lock()
	rooms := s.manager.roomInfos()
	s.manager.mu.Unlock()
	return ServerMessage{Type: constants.MessageTypeRoomsList, Payload: RoomsListPayload{Rooms: rooms}}
}

// broadcastRoomsList pushes the lobby listing to every live connection.
func (s *Server) broadcastRoomsList() {
	msg := s.roomsListMessage()
	for _, conn := range s.allConns() {
		if err := conn.Send(msg); err != nil {
			log.Printf("[Server] rooms list broadcast to %s failed: %v", conn.RemoteAddr(), err)
		}
	}
}

// serveConn runs one connection's read loop until the peer drops, then runs
// disconnect cleanup.
func (s *Server) serveConn(conn Conn) {
	s.addConn(conn)
	cl := &client{srv: s, conn: conn}
	defer func() {
		s.removeConn(conn)
		conn.Close()
		cl.disconnect()
	}()

	for {
		data, err := conn.Receive()
		if err != nil {
			return
		}
		cl.handle(data)
	}
}

// client binds a connection to the player it authenticated as.
type client struct {
	srv    *Server
	conn   Conn
	player *Player
}

func (cl *client) send(msg ServerMessage) {
	if err := cl.conn.Send(msg); err != nil {
		log.Printf("[Server] send %s to %s failed: %v", msg.Type, cl.conn.RemoteAddr(), err)
	}
}

func (cl *client) sendError(text string) {
	cl.send(errorMessage(text))
}

// handle routes one inbound envelope. A malformed message or a panic inside
// a handler must never terminate the read loop.
func (cl *client) handle(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Server] panic handling message from %s: %v", cl.conn.RemoteAddr(), r)
			cl.sendError("Internal error")
		}
	}()

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		cl.sendError("Invalid JSON")
		return
	}
	if msg.Type == "" {
		cl.sendError("Missing Type")
		return
	}

	payload := msg.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = data
	}

	switch strings.ToLower(msg.Type) {
	case constants.MessageTypeConnect:
		cl.handleConnect(payload)
	case constants.MessageTypePing:
		cl.send(ServerMessage{Type: constants.MessageTypePong, Payload: struct{}{}})
	case constants.MessageTypeCreateRoom:
		cl.handleCreateRoom(payload)
	case constants.MessageTypeJoinRoom:
		cl.handleJoinRoom(payload)
	case constants.MessageTypeLeaveRoom:
		cl.handleLeaveRoom()
	case constants.MessageTypePlayerReady:
		cl.handlePlayerReady(payload)
	case constants.MessageTypeShipPlacement:
		cl.handleShipPlacement(payload)
	case constants.MessageTypeShoot:
		cl.handleShoot(payload)
	case constants.MessageTypePlayAgain:
		cl.handlePlayAgain()
	case constants.MessageTypeReconnect:
		cl.handleReconnect(payload)
	case constants.MessageTypeChat, constants.MessageTypeChatMessage:
		cl.handleChat(payload)
	case constants.MessageTypeGetRooms, constants.MessageTypeRoomsListReq:
		cl.send(cl.srv.roomsListMessage())
	default:
		cl.sendError("Unknown command")
	}
}

// decode unmarshals and validates an inbound payload, reporting failures to
// the client. Returns false when the payload is unusable.
func (cl *client) decode(payload json.RawMessage, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		cl.sendError("Invalid payload")
		return false
	}
	if err := cl.srv.validate.Struct(v); err != nil {
		cl.sendError("Invalid payload")
		return false
	}
	return true
}

func (cl *client) handleConnect(payload json.RawMessage) {
	var req ConnectRequest
	if !cl.decode(payload, &req) {
		return
	}

	name := req.DisplayName
	if name == "" {
		name = "Unknown"
	}
	id := req.UserID
	if id == "" {
		id = uuid.New().String()
	}

	player := &Player{ID: id, Name: name, Conn: cl.conn, Board: NewBoard()}

	m := cl.srv.manager
	m.mu.Lock()
	m.addPlayer(player)
	m.mu.Unlock()
	cl.player = player

	cl.send(ServerMessage{
		Type:    constants.MessageTypeConnected,
		Payload: ConnectedPayload{PlayerID: player.ID, DisplayName: player.Name},
	})
	cl.srv.broadcastRoomsList()
	log.Printf("[Server] player connected: %s (%s)", name, id)
}

func (cl *client) handleCreateRoom(payload json.RawMessage) {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}
	var req CreateRoomRequest
	if !cl.decode(payload, &req) {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	room := m.createRoom(req.RoomName, req.MaxPlayers, cl.player)
	info := RoomInfo{
		ID:         room.ID,
		Name:       room.Name,
		MaxPlayers: room.MaxPlayers,
		Players:    len(room.Players),
	}
	m.mu.Unlock()

	cl.send(ServerMessage{Type: constants.MessageTypeRoomCreated, Payload: RoomCreatedPayload{Room: info}})
	cl.srv.broadcastRoomsList()
}

func (cl *client) handleJoinRoom(payload json.RawMessage) {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}
	var req JoinRoomRequest
	if !cl.decode(payload, &req) {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	room := m.findRoomByID(req.RoomID)

	var result JoinRoomResultPayload
	switch {
	case room == nil:
		result = JoinRoomResultPayload{Success: false, Message: "Room not found"}
	case room.Started:
		result = JoinRoomResultPayload{Success: false, Message: "Game already started"}
	case room.isFull() && !room.hasPlayer(cl.player.ID):
		result = JoinRoomResultPayload{Success: false, Message: "Room is full"}
	default:
		m.joinRoom(cl.player, room)
		players := make([]PlayerInfo, 0, len(room.Players))
		for _, p := range room.Players {
			players = append(players, PlayerInfo{ID: p.ID, Name: p.Name})
		}
		result = JoinRoomResultPayload{
			Success:  true,
			RoomID:   room.ID,
			RoomName: room.Name,
			Players:  players,
			Message:  "Joined room successfully",
		}
	}
	m.mu.Unlock()

	cl.send(ServerMessage{Type: constants.MessageTypeJoinRoomResult, Payload: result})
	cl.srv.broadcastRoomsList()
}

func (cl *client) handleLeaveRoom() {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	msgs := m.leaveRoom(cl.player)
	m.mu.Unlock()

	cl.send(ServerMessage{Type: constants.MessageTypeLeftRoom, Payload: LeftRoomPayload{Success: true}})
	deliver(msgs)
	cl.srv.broadcastRoomsList()
}

func (cl *client) handlePlayerReady(payload json.RawMessage) {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}
	var req PlayerReadyRequest
	if !cl.decode(payload, &req) {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	room := m.markPlayerReady(cl.player.ID, req.RoomID)
	if room == nil {
		m.mu.Unlock()
		cl.sendError("Room not found")
		return
	}
	cl.player.Ready = true

	msgs := []outbound{to(cl.player, ServerMessage{
		Type:    constants.MessageTypePlayerReadyAck,
		Payload: PlayerReadyPayload{PlayerID: cl.player.ID, Message: "You are ready"},
	})}

	// The session may not exist yet: the first player can ready up before
	// the second joins. Readiness is kept on the room until then.
	session := m.findSessionByPlayerID(cl.player.ID)
	if session == nil {
		msgs = append(msgs, to(cl.player, infoMessage("Waiting for opponent...")))
	} else {
		session.setReady(cl.player.ID)
		if session.bothReady() {
			msgs = append(msgs, session.start()...)
		} else {
			msgs = append(msgs, to(cl.player, infoMessage("Waiting for opponent...")))
		}
	}
	m.mu.Unlock()
	deliver(msgs)
}

func (cl *client) handleShipPlacement(payload json.RawMessage) {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}

	var req ShipPlacementRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Ships == nil {
		cl.sendError("Missing or invalid ships array")
		return
	}
	if err := cl.srv.validate.Struct(req); err != nil {
		cl.sendError("Invalid ship coordinates or size")
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	session := m.findSessionByPlayerID(cl.player.ID)
	room := m.findRoomByPlayerID(cl.player.ID)
	// Placement is allowed as soon as the player is in a room; the session
	// may not exist yet while the opponent is still joining.
	if session == nil && room == nil {
		m.mu.Unlock()
		cl.sendError("Not in a game")
		return
	}

	board := cl.player.Board
	board.Reset()
	for _, spec := range req.Ships {
		if !board.PlaceShip(spec.X, spec.Y, spec.Size, spec.Horizontal) {
			board.Reset()
			m.mu.Unlock()
			cl.sendError("Invalid ship placement")
			return
		}
	}
	m.mu.Unlock()

	cl.send(ServerMessage{
		Type:    constants.MessageTypeShipPlacementResult,
		Payload: ShipPlacementResultPayload{Success: true},
	})
	log.Printf("[Server] player %s placed ships", cl.player.Name)
}

func (cl *client) handleShoot(payload json.RawMessage) {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}
	var req ShootRequest
	if !cl.decode(payload, &req) {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	session := m.findSessionByPlayerID(cl.player.ID)
	if session == nil {
		m.mu.Unlock()
		cl.sendError("Not in a game")
		return
	}
	// The client sends row=Y, col=X; the board works in (x, y).
	msgs := session.processShot(cl.player, *req.Col, *req.Row)
	m.mu.Unlock()
	deliver(msgs)
}

func (cl *client) handlePlayAgain() {
	if cl.player == nil {
		cl.sendError("Not connected")
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	session := m.findSessionByPlayerID(cl.player.ID)
	if session == nil {
		m.mu.Unlock()
		cl.sendError("Not in a game")
		return
	}
	msgs := session.requestPlayAgain(cl.player)
	m.mu.Unlock()
	deliver(msgs)
}

func (cl *client) handleReconnect(payload json.RawMessage) {
	var req ReconnectRequest
	if !cl.decode(payload, &req) {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	player := m.findPlayerByID(req.PlayerID)
	if player == nil {
		m.mu.Unlock()
		cl.sendError("Player not found")
		return
	}

	// Rebind the existing player to this connection; no new player or
	// session is created and in-flight game state is preserved.
	player.Conn = cl.conn
	m.players[player.ID] = player
	cl.player = player

	opponent := "Unknown"
	if session := m.findSessionByPlayerID(player.ID); session != nil {
		opponent = session.opponentOf(player.ID).Name
	}
	m.mu.Unlock()

	cl.send(ServerMessage{
		Type:    constants.MessageTypeReconnected,
		Payload: ReconnectedPayload{PlayerID: player.ID, Opponent: opponent},
	})
	log.Printf("[Server] player reconnected: %s", player.Name)
}

// handleChat relays room chat to the other members. Out-of-room or empty
// messages are dropped without an error reply.
func (cl *client) handleChat(payload json.RawMessage) {
	if cl.player == nil {
		return
	}
	var req ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	room := m.findRoomByPlayerID(cl.player.ID)
	if room == nil {
		m.mu.Unlock()
		return
	}
	relay := ServerMessage{
		Type:    constants.MessageTypeChatRelay,
		Payload: ChatPayload{SenderName: cl.player.Name, Text: text},
	}
	var msgs []outbound
	for _, p := range room.Players {
		if p.ID == cl.player.ID {
			continue
		}
		msgs = append(msgs, to(p, relay))
	}
	m.mu.Unlock()
	deliver(msgs)
}

// disconnect runs when the read loop exits. If a reconnect already rebound
// the player to another connection there is nothing to clean up, which makes
// cleanup safe to race with in-flight handling for the same player.
func (cl *client) disconnect() {
	if cl.player == nil {
		return
	}

	m := cl.srv.manager
	m.mu.Lock()
	if cl.player.Conn != cl.conn {
		m.mu.Unlock()
		return
	}
	cl.player.Conn = nil
	msgs := m.removePlayer(cl.player.ID)
	m.mu.Unlock()

	deliver(msgs)
	cl.srv.broadcastRoomsList()
	log.Printf("[Server] player disconnected: %s", cl.player.Name)
}
