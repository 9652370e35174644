// internal/lobby/session.go
package lobby

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Event is one outbound message to a client.
type Event map[string]interface{}

// Session is a single live transport connection for one player. A player may
// hold several sessions at once (multiple tabs); the player counts as online
// while at least one session remains.
type Session struct {
	ID       uuid.UUID
	PlayerID string

	// Out is drained by the connection's write pump.
	Out chan Event
	// Cancel stops the goroutines attached to this connection.
	Cancel func()
}

// NewSession allocates a session with a buffered outbound queue.
func NewSession(playerID string, cancel func()) *Session {
	return &Session{
		ID:       uuid.New(),
		PlayerID: playerID,
		Out:      make(chan Event, 16),
		Cancel:   cancel,
	}
}

// Write pushes an event onto the session's queue without blocking. A full or
// closed queue drops the event with a warning; the next full state broadcast
// resynchronizes the client.
func (s *Session) Write(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("session %s: write to closed channel dropped", s.ID)
		}
	}()
	select {
	case s.Out <- ev:
	default:
		evType, _ := ev["type"].(string)
		log.Warnf("session %s: outbound queue full, dropped %q", s.ID, evType)
	}
}
