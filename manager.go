package main

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sivtsovame/battle-of-sea/constants"
)

// Room is a matchmaking container holding up to two players around a match.
// The creator leaving destroys the room; another player leaving only vacates
// a slot.
type Room struct {
	ID          string
	Name        string
	MaxPlayers  int
	Players     []*Player
	ReadyStatus map[string]bool
	Started     bool
	CreatorID   string
}

func (r *Room) hasPlayer(playerID string) bool {
	for _, p := range r.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

func (r *Room) removePlayer(playerID string) {
	for i, p := range r.Players {
		if p.ID == playerID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}
	delete(r.ReadyStatus, playerID)
}

func (r *Room) isFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

// Manager is the registry of every room, player and session in the process.
// One mutex guards all of it; each logical operation (join, ready, shot,
// disconnect, timeout) runs as a single critical section under mu, and
// handlers release mu before delivering the messages an operation produced.
type Manager struct {
	mu       sync.Mutex
	players  map[string]*Player
	rooms    map[string]*Room
	sessions []*Session
	turnTime time.Duration
}

func NewManager(turnTime time.Duration) *Manager {
	return &Manager{
		players:  make(map[string]*Player),
		rooms:    make(map[string]*Room),
		turnTime: turnTime,
	}
}

// The methods below assume mu is held by the caller unless noted otherwise.

func (m *Manager) addPlayer(p *Player) {
	m.players[p.ID] = p
	log.Printf("[Manager] player added: %s (%s)", p.Name, p.ID)
}

// findPlayerByID looks a player up in the registry, falling back to scanning
// active sessions: a dropped player may be known only through the session
// that keeps their seat for reconnection.
func (m *Manager) findPlayerByID(playerID string) *Player {
	if p, ok := m.players[playerID]; ok {
		return p
	}
	for _, s := range m.sessions {
		if s.Player1.ID == playerID {
			return s.Player1
		}
		if s.Player2.ID == playerID {
			return s.Player2
		}
	}
	return nil
}

func (m *Manager) createRoom(name string, maxPlayers int, creator *Player) *Room {
	if maxPlayers <= 0 || maxPlayers > constants.RoomCapacity {
		maxPlayers = constants.RoomCapacity
	}
	room := &Room{
		ID:          uuid.New().String(),
		Name:        name,
		MaxPlayers:  maxPlayers,
		ReadyStatus: make(map[string]bool),
		CreatorID:   creator.ID,
	}
	m.rooms[room.ID] = room
	log.Printf("[Manager] room created: %s (%s) by %s", room.Name, room.ID, creator.Name)
	m.joinRoom(creator, room)
	return room
}

func (m *Manager) findRoomByID(roomID string) *Room {
	return m.rooms[roomID]
}

func (m *Manager) findRoomByPlayerID(playerID string) *Room {
	for _, room := range m.rooms {
		if room.hasPlayer(playerID) {
			return room
		}
	}
	return nil
}

func (m *Manager) findSessionByPlayerID(playerID string) *Session {
	for _, s := range m.sessions {
		if s.hasPlayer(playerID) {
			return s
		}
	}
	return nil
}

func (m *Manager) findSessionByPair(id1, id2 string) *Session {
	for _, s := range m.sessions {
		if s.hasPlayer(id1) && s.hasPlayer(id2) {
			return s
		}
	}
	return nil
}

// joinRoom adds the player (idempotently) and, once the room is full, binds
// the pair to a session: an existing session for the same pair is reused so
// a rematch survives one player briefly leaving, otherwise a new one is
// created with the room creator as Player1. Ready flags are restored from
// the room's bookkeeping either way, as a player may have readied up before
// the opponent arrived.
func (m *Manager) joinRoom(p *Player, room *Room) {
	if !room.hasPlayer(p.ID) {
		room.Players = append(room.Players, p)
	}
	if _, ok := room.ReadyStatus[p.ID]; !ok {
		room.ReadyStatus[p.ID] = false
	}
	if !room.isFull() {
		return
	}

	p1, p2 := room.Players[0], room.Players[1]
	if room.CreatorID != "" && p2.ID == room.CreatorID {
		p1, p2 = p2, p1
	}

	s := m.findSessionByPair(p1.ID, p2.ID)
	if s == nil {
		s = newSession(p1, p2, m.turnTime)
		s.onFinish = m.finishSession
		s.onTimeout = m.turnTimeout
		m.sessions = append(m.sessions, s)
		log.Printf("[Manager] session created in room %s: %s vs %s", room.Name, p1.Name, p2.Name)
	} else {
		log.Printf("[Manager] session reused in room %s: %s vs %s", room.Name, s.Player1.Name, s.Player2.Name)
	}

	s.p1Ready = room.ReadyStatus[s.Player1.ID]
	s.p2Ready = room.ReadyStatus[s.Player2.ID]
	s.Player1.Ready = s.p1Ready
	s.Player2.Ready = s.p2Ready
	room.Started = true
}

// markPlayerReady records readiness, but only when roomID names the room the
// player is actually in. Returns nil without mutating anything otherwise: a
// rejected ready must not leave a flag behind for joinRoom to restore later.
func (m *Manager) markPlayerReady(playerID, roomID string) *Room {
	room := m.findRoomByPlayerID(playerID)
	if room == nil || room.ID != roomID {
		return nil
	}
	room.ReadyStatus[playerID] = true
	log.Printf("[Manager] player %s ready in room %s", playerID, room.Name)
	return room
}

// finishSession is the session finish callback. The session stays in the
// active set so the same pair can renegotiate a rematch.
func (m *Manager) finishSession(s *Session) {
	log.Printf("[Manager] game finished: %s vs %s", s.Player1.Name, s.Player2.Name)
}

// turnTimeout is the timer callback entry point; unlike the rest of the
// Manager methods it takes mu itself, serializing the callback with shot
// processing and disconnects. Not called with mu held.
func (m *Manager) turnTimeout(s *Session, gen uint64) {
	m.mu.Lock()
	msgs := s.timeout(gen)
	m.mu.Unlock()
	deliver(msgs)
}

func (m *Manager) removeSession(s *Session) {
	s.timer.Stop()
	for i, cur := range m.sessions {
		if cur == s {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			break
		}
	}
}

// removeRoom deletes the room and any session involving its players.
func (m *Manager) removeRoom(room *Room) {
	for _, p := range room.Players {
		if s := m.findSessionByPlayerID(p.ID); s != nil {
			m.removeSession(s)
		}
	}
	delete(m.rooms, room.ID)
	log.Printf("[Manager] room removed: %s", room.Name)
}

// leaveRoom handles an explicit departure. The creator leaving destroys the
// room and notifies everyone else; another player leaving vacates the slot
// and tears down the session while the room survives. Returns notifications
// for the remaining players.
func (m *Manager) leaveRoom(p *Player) []outbound {
	room := m.findRoomByPlayerID(p.ID)
	if room == nil {
		return nil
	}

	var msgs []outbound
	if room.CreatorID == p.ID {
		for _, other := range room.Players {
			if other.ID == p.ID {
				continue
			}
			msgs = append(msgs, to(other, ServerMessage{
				Type:    constants.MessageTypeRoomClosed,
				Payload: MessagePayload{Message: "Room closed by its creator."},
			}))
			other.Ready = false
		}
		m.removeRoom(room)
		log.Printf("[Manager] creator %s left, room %s removed", p.Name, room.Name)
		return msgs
	}

	room.removePlayer(p.ID)
	room.Started = false
	if s := m.findSessionByPlayerID(p.ID); s != nil {
		m.removeSession(s)
	}
	for _, other := range room.Players {
		msgs = append(msgs, to(other, ServerMessage{
			Type:    constants.MessageTypeOpponentLeft,
			Payload: MessagePayload{Message: "Opponent left the room."},
		}))
	}
	log.Printf("[Manager] player %s left room %s", p.Name, room.Name)
	return msgs
}

// removePlayer is the disconnect path. Policy: a finished or rematch-pending
// game has no winner to award, so the room just closes quietly; a live
// battle awards the win to the opponent. A session whose rematch was pending
// is kept in the active set while its opponent is still around, so the pair
// can rebuild their room and find it again. Idempotent: removing an unknown
// player is a no-op.
func (m *Manager) removePlayer(playerID string) []outbound {
	var msgs []outbound

	if s := m.findSessionByPlayerID(playerID); s != nil {
		opponent := s.opponentOf(playerID)
		switch {
		case s.rematchPending && m.players[opponent.ID] != nil:
			msgs = append(msgs, to(opponent, ServerMessage{
				Type:    constants.MessageTypeRoomClosed,
				Payload: MessagePayload{Message: "Room closed."},
			}))
		case s.finished || s.rematchPending:
			msgs = append(msgs, to(opponent, ServerMessage{
				Type:    constants.MessageTypeRoomClosed,
				Payload: MessagePayload{Message: "Room closed."},
			}))
			m.removeSession(s)
		default:
			s.timer.Stop()
			s.finished = true
			msgs = append(msgs, to(opponent, ServerMessage{
				Type: constants.MessageTypeGameOver,
				Payload: GameOverPayload{
					Winner: opponent.Name,
					Reason: constants.ReasonOpponentDisconnected,
				},
			}))
			m.removeSession(s)
			log.Printf("[Manager] %s disconnected mid-battle, %s wins", playerID, opponent.Name)
		}
		if room := m.findRoomByPlayerID(playerID); room != nil {
			delete(m.rooms, room.ID)
		}
	}

	if room := m.findRoomByPlayerID(playerID); room != nil {
		room.removePlayer(playerID)
	}

	if p, ok := m.players[playerID]; ok {
		delete(m.players, playerID)
		log.Printf("[Manager] player removed: %s", p.Name)
	}
	return msgs
}

// roomInfos snapshots rooms for lobby listings. Started and full rooms are
// filtered out: they cannot be joined.
func (m *Manager) roomInfos() []RoomInfo {
	infos := make([]RoomInfo, 0, len(m.rooms))
	for _, room := range m.rooms {
		if room.Started || room.isFull() {
			continue
		}
		infos = append(infos, RoomInfo{
			ID:            room.ID,
			Name:          room.Name,
			MaxPlayers:    room.MaxPlayers,
			Players:       len(room.Players),
			IsGameStarted: room.Started,
		})
	}
	return infos
}

func (m *Manager) counts() (players, rooms, sessions int) {
	return len(m.players), len(m.rooms), len(m.sessions)
}
