package main

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sivtsovame/battle-of-sea/constants"
)

// Player is one known participant. The connection reference is nil while the
// player is dropped and gets rebound on reconnect; it is only read or written
// under the Manager lock.
type Player struct {
	ID    string
	Name  string
	Conn  Conn
	Ready bool
	Board *Board
}

// turnTimer is a restartable one-shot alarm. Every Schedule and Stop bumps
// the generation; a fired callback whose generation is no longer current must
// not act. That closes the window between a timer firing and the shot that
// restarted it winning the lock.
type turnTimer struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

func (t *turnTimer) Schedule(d time.Duration, fn func(gen uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(d, func() { fn(gen) })
}

func (t *turnTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *turnTimer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

// Session is one ongoing or paused match between a fixed pair of players.
// Player1 is always the room creator and always goes first. A session is
// reused, not recreated, across rematches of the same pair.
//
// All methods assume the Manager lock is held; they return the messages to
// send so delivery can happen after the lock is released.
type Session struct {
	ID      string
	Player1 *Player
	Player2 *Player

	currentTurnID string
	turnStartedAt int64 // unix ms, shared with both clients for the countdown
	finished      bool

	p1Ready, p2Ready         bool
	p1PlayAgain, p2PlayAgain bool

	// rematchPending is true from the moment both players agree to replay
	// until both are ready again. While it is set, a departure closes the
	// room instead of awarding a default win.
	rematchPending bool

	turnTime  time.Duration
	timer     *turnTimer
	onFinish  func(*Session)
	onTimeout func(*Session, uint64)
}

func newSession(p1, p2 *Player, turnTime time.Duration) *Session {
	return &Session{
		ID:            uuid.New().String(),
		Player1:       p1,
		Player2:       p2,
		currentTurnID: p1.ID,
		turnTime:      turnTime,
		timer:         &turnTimer{},
	}
}

func (s *Session) currentPlayer() *Player {
	if s.currentTurnID == s.Player1.ID {
		return s.Player1
	}
	return s.Player2
}

func (s *Session) opponentPlayer() *Player {
	if s.currentTurnID == s.Player1.ID {
		return s.Player2
	}
	return s.Player1
}

func (s *Session) opponentOf(playerID string) *Player {
	if playerID == s.Player1.ID {
		return s.Player2
	}
	return s.Player1
}

func (s *Session) hasPlayer(playerID string) bool {
	return playerID == s.Player1.ID || playerID == s.Player2.ID
}

func (s *Session) bothReady() bool {
	return s.p1Ready && s.p2Ready
}

func (s *Session) bothWantPlayAgain() bool {
	return s.p1PlayAgain && s.p2PlayAgain
}

func (s *Session) setReady(playerID string) {
	switch playerID {
	case s.Player1.ID:
		s.p1Ready = true
		s.Player1.Ready = true
	case s.Player2.ID:
		s.p2Ready = true
		s.Player2.Ready = true
	}
}

// startTurnTimer restarts the alarm for a full turn and stamps the shared
// turn-start time.
func (s *Session) startTurnTimer() {
	s.turnStartedAt = time.Now().UnixMilli()
	s.timer.Schedule(s.turnTime, func(gen uint64) { s.onTimeout(s, gen) })
}

// switchTurn hands the turn to the other player and restarts the timer.
// This is the only way turn ownership changes.
func (s *Session) switchTurn() {
	s.currentTurnID = s.opponentPlayer().ID
	s.startTurnTimer()
}

// start fires when both players are ready: the timer begins and each side
// learns the first player, whether the turn is theirs, and its own layout.
func (s *Session) start() []outbound {
	s.rematchPending = false
	s.startTurnTimer()
	started := s.turnStartedAt
	return []outbound{
		to(s.Player1, ServerMessage{Type: constants.MessageTypeGameStart, Payload: GameStartPayload{
			Success:       true,
			FirstPlayer:   s.Player1.ID,
			IsYourTurn:    true,
			MyShips:       s.Player1.Board.ShipCoordinates(),
			TurnStartedAt: started,
		}}),
		to(s.Player2, ServerMessage{Type: constants.MessageTypeGameStart, Payload: GameStartPayload{
			Success:       true,
			FirstPlayer:   s.Player1.ID,
			IsYourTurn:    false,
			MyShips:       s.Player2.Board.ShipCoordinates(),
			TurnStartedAt: started,
		}}),
	}
}

// processShot resolves one shot. The timer is stopped for the duration so a
// timeout cannot fire between the shot and the win check, then restarted
// according to the result: a miss hands the turn over, a hit or sunk keeps
// the turn and grants a fresh full timer.
func (s *Session) processShot(shooter *Player, x, y int) []outbound {
	s.timer.Stop()

	if shooter.ID != s.currentTurnID {
		log.Printf("[Session] shot out of turn: shooter=%s current=%s", shooter.ID, s.currentTurnID)
		s.startTurnTimer()
		return []outbound{to(shooter, errorMessage("Not your turn"))}
	}

	opponent := s.opponentPlayer()
	result := opponent.Board.Shoot(x, y)

	if result != ShotMiss {
		s.startTurnTimer()
	}
	started := s.turnStartedAt

	msgs := []outbound{
		to(shooter, ServerMessage{Type: constants.MessageTypeShootResult, Payload: ShootResultPayload{
			X: x, Y: y, Result: result.String(), TurnStartedAt: started,
		}}),
		to(opponent, ServerMessage{Type: constants.MessageTypeOpponentShoot, Payload: OpponentShootPayload{
			X: x, Y: y, Result: result.String(),
		}}),
	}

	if opponent.Board.IsDefeated() {
		s.timer.Stop()
		s.finished = true
		over := ServerMessage{Type: constants.MessageTypeGameOver, Payload: GameOverPayload{Winner: shooter.Name}}
		msgs = append(msgs, to(shooter, over), to(opponent, over))
		log.Printf("[Session] game over: %s defeated %s", shooter.Name, opponent.Name)
		if s.onFinish != nil {
			s.onFinish(s)
		}
		return msgs
	}

	if result == ShotMiss {
		s.switchTurn()
		next := s.currentPlayer()
		prev := s.opponentPlayer()
		msgs = append(msgs,
			to(next, ServerMessage{Type: constants.MessageTypeYourTurn, Payload: TurnPayload{TurnStartedAt: s.turnStartedAt}}),
			to(prev, ServerMessage{Type: constants.MessageTypeOpponentTurn, Payload: TurnPayload{TurnStartedAt: s.turnStartedAt}}),
		)
	}
	return msgs
}

// timeout is the timer callback body. A callback from a superseded schedule
// or one that lost the race to a winning shot does nothing.
func (s *Session) timeout(gen uint64) []outbound {
	if !s.timer.current(gen) {
		return nil
	}
	if s.finished {
		log.Printf("[Session] turn timeout ignored: game already finished")
		return nil
	}

	timedOut := s.currentPlayer()
	log.Printf("[Session] turn timeout: %s", timedOut.Name)

	s.switchTurn()
	started := s.turnStartedAt
	return []outbound{
		to(timedOut, ServerMessage{Type: constants.MessageTypeTurnTimeout, Payload: TurnPayload{TurnStartedAt: started}}),
		to(s.currentPlayer(), ServerMessage{Type: constants.MessageTypeYourTurn, Payload: TurnPayload{TurnStartedAt: started}}),
	}
}

// resetForNewGame returns the session to the placement phase for a rematch.
// The timer for the new game starts only when both players are ready again.
func (s *Session) resetForNewGame() {
	s.timer.Stop()

	s.p1Ready = false
	s.p2Ready = false
	s.p1PlayAgain = false
	s.p2PlayAgain = false
	s.Player1.Ready = false
	s.Player2.Ready = false

	s.Player1.Board.Reset()
	s.Player2.Board.Reset()

	s.currentTurnID = s.Player1.ID
	s.finished = false
	s.rematchPending = true
}

// requestPlayAgain records one player's rematch request. Only when both have
// asked does the session reset and send both back to placement.
func (s *Session) requestPlayAgain(p *Player) []outbound {
	switch p.ID {
	case s.Player1.ID:
		s.p1PlayAgain = true
	case s.Player2.ID:
		s.p2PlayAgain = true
	default:
		return []outbound{to(p, errorMessage("Invalid player ID"))}
	}

	if !s.bothWantPlayAgain() {
		return []outbound{to(p, infoMessage("Waiting for opponent to agree to play again..."))}
	}

	log.Printf("[Session] both players want a rematch: %s vs %s", s.Player1.Name, s.Player2.Name)
	s.resetForNewGame()
	ret := ServerMessage{
		Type:    constants.MessageTypeReturnToPlacement,
		Payload: MessagePayload{Message: "Both players agreed to play again. Returning to ship placement..."},
	}
	return []outbound{to(s.Player1, ret), to(s.Player2, ret)}
}
