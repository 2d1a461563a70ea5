package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one connected display or control endpoint. Frames queued with
// Send are drained by the transport's writer; the hub never blocks on it.
type Session struct {
	ID         string
	RemoteAddr string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session with an outbound buffer of size frames.
func NewSession(remoteAddr string, buffer int) *Session {
	if buffer < 1 {
		buffer = 1
	}
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
}

// Send queues frame without blocking. It returns false if the session is
// closed or its buffer is full.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound is the queue the transport writer drains. It is never closed;
// watch Done.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close marks the session closed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
