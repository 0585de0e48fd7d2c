// Package sessions tracks connected players, runs the per-tick session work
// on the critical domain and persists player stats.
package sessions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Position is a player location in fixed-point block units, with orientation.
type Position struct {
	X, Y, Z    int16
	Yaw, Pitch uint8
}

// Conn is the transport side of a session. Its methods may block; sessions
// only call them from their own writer goroutine.
type Conn interface {
	RemoteAddr() string
	SendMessage(msg string) error
	SendPosition(id string, pos Position) error
	Close() error
}

// Session is one connected player.
type Session struct {
	id          string
	name        string
	addr        string
	out         *outbox
	connectedAt time.Time
	base        Stats

	messages atomic.Int64
	moves    atomic.Int64

	mu         sync.Mutex
	pos        Position
	sent       Position
	lastActive time.Time
	afk        bool
}

func newSession(name string, conn Conn, base Stats, now time.Time, queueSize int, onDrop func()) *Session {
	return &Session{
		id:          uuid.NewString(),
		name:        name,
		addr:        conn.RemoteAddr(),
		out:         newOutbox(conn, queueSize, onDrop),
		connectedAt: now,
		base:        base,
		lastActive:  now,
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Name() string           { return s.name }
func (s *Session) RemoteAddr() string     { return s.addr }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Send queues msg for the client without blocking. It returns false when the
// session is closing or was dropped for not keeping up.
func (s *Session) Send(msg string) bool { return s.out.push(outbound{msg: msg}) }

func (s *Session) sendPosition(id string, pos Position) bool {
	return s.out.push(outbound{id: id, pos: pos, position: true})
}

// Kick queues reason and closes the connection once it has been written.
func (s *Session) Kick(reason string) {
	s.out.push(outbound{msg: reason})
	s.out.close()
}

// Dropped reports whether the session was disconnected because its outbound
// queue filled up.
func (s *Session) Dropped() bool { return s.out.wasDropped() }

// Closed returns a channel closed once every queued line was written and the
// connection was closed.
func (s *Session) Closed() <-chan struct{} { return s.out.done }

// Move records a new position. Moving counts as activity.
func (s *Session) Move(pos Position, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos == s.pos {
		return
	}
	s.pos = pos
	s.markActive(at)
	s.moves.Add(1)
}

// Chat records a chat message as activity.
func (s *Session) Chat(at time.Time) {
	s.mu.Lock()
	s.markActive(at)
	s.mu.Unlock()
	s.messages.Add(1)
}

func (s *Session) markActive(at time.Time) {
	s.lastActive = at
	s.afk = false
}

// Position returns the last reported position.
func (s *Session) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// AFK reports whether the session was marked idle.
func (s *Session) AFK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.afk
}

// pendingPosition returns the position if it changed since the last broadcast.
func (s *Session) pendingPosition() (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == s.sent {
		return Position{}, false
	}
	s.sent = s.pos
	return s.pos, true
}

// markIdle sets the AFK flag when the session has been idle longer than timeout.
// It returns true only on the transition.
func (s *Session) markIdle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.afk || now.Sub(s.lastActive) < timeout {
		return false
	}
	s.afk = true
	return true
}

// Snapshot returns the stats to persist as of now.
func (s *Session) Snapshot(now time.Time) Stats {
	st := s.base
	st.TimeOnline += now.Sub(s.connectedAt)
	st.Messages += s.messages.Load()
	st.BlocksMoved += s.moves.Load()
	st.LastSeen = now
	return st
}
