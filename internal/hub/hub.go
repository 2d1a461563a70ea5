// Package hub tracks connected sessions and fans collection updates out to
// them.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/protocol"
	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/state"
)

// Hub is the session registry. It implements state.Notifier.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates an empty hub.
func New(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		metrics:  m,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Add registers s. It returns false, registering nothing, if s was closed
// before it could be added.
func (h *Hub) Add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.Closed() {
		return false
	}
	h.sessions[s.ID] = s
	h.metrics.SetSessions(len(h.sessions))
	h.logger.Info().Str("session", s.ID).Str("remote", s.RemoteAddr).Int("sessions", len(h.sessions)).Msg("session connected")
	return true
}

// Remove unregisters s and closes it.
func (h *Hub) Remove(s *Session) {
	s.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	h.metrics.SetSessions(len(h.sessions))
	h.logger.Info().Str("session", s.ID).Int("sessions", len(h.sessions)).Msg("session disconnected")
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast queues frame on every registered session. Sessions whose buffer
// is full are evicted.
func (h *Hub) Broadcast(event string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var stale []*Session
	delivered := 0
	for _, s := range targets {
		if s.Send(frame) {
			delivered++
			continue
		}
		stale = append(stale, s)
	}
	h.metrics.RecordBroadcast(event, delivered)

	for _, s := range stale {
		h.evict(s, event)
	}
}

// Publish sends the changed collections to every session, active slot first,
// then history, then roster.
func (h *Hub) Publish(changed state.Change, snap state.Snapshot) {
	for _, out := range frames(changed, snap, h.logger) {
		h.Broadcast(out.event, out.data)
	}
}

// SyncSession registers s and sends it the full state as three frames:
// active slot, history, roster. It returns false if s closed first.
func (h *Hub) SyncSession(s *Session, snap state.Snapshot) bool {
	if !h.Add(s) {
		return false
	}
	for _, out := range frames(state.ChangeAll, snap, h.logger) {
		if !s.Send(out.data) {
			h.evict(s, out.event)
			return false
		}
	}
	return true
}

// SendRoster sends the roster to s alone.
func (h *Hub) SendRoster(s *Session, roster []record.Record) {
	data, err := protocol.RosterFrame(roster)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode roster frame")
		return
	}
	if !s.Send(data) {
		h.evict(s, protocol.EventRosterUpdate)
	}
}

// SendError sends an error frame to s alone.
func (h *Hub) SendError(s *Session, requestID, action string, err error) {
	if !s.Send(protocol.ErrorFrame(requestID, action, err)) {
		h.evict(s, protocol.EventError)
	}
}

// CloseAll closes and unregisters every session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.Close()
		delete(h.sessions, id)
	}
	h.metrics.SetSessions(0)
}

func (h *Hub) evict(s *Session, event string) {
	if s.Closed() {
		h.Remove(s)
		return
	}
	h.Remove(s)
	h.metrics.RecordEviction()
	h.logger.Warn().
		Str("session", s.ID).
		Str("remote", s.RemoteAddr).
		Str("event", event).
		Msg("session too slow, evicted")
}

type outFrame struct {
	event string
	data  []byte
}

func frames(changed state.Change, snap state.Snapshot, logger zerolog.Logger) []outFrame {
	var out []outFrame
	add := func(event string, data []byte, err error) {
		if err != nil {
			logger.Error().Err(err).Str("event", event).Msg("failed to encode frame")
			return
		}
		out = append(out, outFrame{event: event, data: data})
	}
	if changed.Has(state.ChangeActive) {
		data, err := protocol.ActiveFrame(snap.Active)
		add(protocol.EventActiveUpdate, data, err)
	}
	if changed.Has(state.ChangeHistory) {
		data, err := protocol.HistoryFrame(snap.History)
		add(protocol.EventHistoryUpdate, data, err)
	}
	if changed.Has(state.ChangeRoster) {
		data, err := protocol.RosterFrame(snap.Roster)
		add(protocol.EventRosterUpdate, data, err)
	}
	return out
}
