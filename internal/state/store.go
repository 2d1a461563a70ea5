// Package state owns the authoritative roster, active slot and history.
//
// Store is the only place these collections change. Every operation applies
// its mutation, writes the full snapshot through the Persister and then hands
// the touched collections to the Notifier, all before the next operation may
// begin.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/identity"
	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/record"
)

// Action names, shared with the wire protocol.
const (
	ActionReplaceRoster = "ingest_roster"
	ActionUpsertEntry   = "upsert_roster_entry"
	ActionActivate      = "activate"
	ActionClearActive   = "deactivate"
	ActionDeleteHistory = "delete_history"
)

// Persister durably writes a full snapshot.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
}

// Notifier receives the collections touched by each committed mutation.
// Publish must not block on slow consumers.
type Notifier interface {
	Publish(changed Change, snap Snapshot)
}

// Store holds the triple and serializes every mutation.
type Store struct {
	mu      sync.RWMutex
	roster  []record.Record
	active  *Active
	history []HistoryEntry

	resolver  identity.Resolver
	persister Persister
	notifier  Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the generator used for record ids and history ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithResolver sets the identity resolver. Defaults to identity.DefaultResolver.
func WithResolver(r identity.Resolver) Option {
	return func(s *Store) { s.resolver = r }
}

// WithMetrics records persistence failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store seeded with initial. persister and notifier may be nil.
func New(initial Snapshot, persister Persister, notifier Notifier, logger zerolog.Logger, opts ...Option) *Store {
	initial = initial.Clone()
	s := &Store{
		roster:    initial.Roster,
		active:    initial.Active,
		history:   initial.History,
		resolver:  identity.DefaultResolver(),
		persister: persister,
		notifier:  notifier,
		now:       time.Now,
		newID:     record.NewID,
		logger:    logger.With().Str("component", "state").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current triple.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked().Clone()
}

// Resolver returns the identity resolver in use.
func (s *Store) Resolver() identity.Resolver {
	return s.resolver
}

// ReplaceRoster discards the roster and installs rows in order. Rows without
// an id get a generated one; rows with an id keep it. Two rows sharing an id
// reject the whole batch.
func (s *Store) ReplaceRoster(ctx context.Context, rows []record.Record) error {
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		id := row.ID()
		if id == "" {
			continue
		}
		if first, dup := seen[id]; dup {
			return perrors.Validation(ActionReplaceRoster, "rows %d and %d share id %q", first, i, id)
		}
		seen[id] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	roster := make([]record.Record, 0, len(rows))
	generated := 0
	for _, row := range rows {
		r := row.Clone()
		if r.ID() == "" {
			r.Set(record.IDField, s.uniqueID(seen))
			generated++
		}
		roster = append(roster, r)
	}
	s.roster = roster

	s.logger.Info().
		Int("rows", len(roster)).
		Int("generated_ids", generated).
		Msg("roster replaced")

	s.commit(ctx, ActionReplaceRoster, ChangeRoster)
	return nil
}

// UpsertRosterEntry replaces the roster entry carrying rec's id. If the
// active slot holds the same entity, its record is patched with rec's fields
// and the slot is broadcast too.
func (s *Store) UpsertRosterEntry(ctx context.Context, rec record.Record) error {
	id := rec.ID()
	if id == "" {
		return perrors.Validation(ActionUpsertEntry, "record has no %s", record.IDField)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.roster {
		if r.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return perrors.NotFound(ActionUpsertEntry, "roster entry %q not found", id)
	}

	roster := make([]record.Record, len(s.roster))
	copy(roster, s.roster)
	roster[idx] = rec.Clone()
	s.roster = roster

	changed := ChangeRoster
	if s.active != nil && s.resolver.Equivalent(s.active.Record, rec) {
		patch := rec.Clone()
		patch.Delete(StartedAtField)
		s.active = &Active{
			Record:    s.active.Record.Merge(patch),
			StartedAt: s.active.StartedAt,
		}
		changed |= ChangeActive
		s.logger.Info().Str("id", id).Msg("active entry synced with roster update")
	}

	s.commit(ctx, ActionUpsertEntry, changed)
	return nil
}

// Activate puts a copy of rec in the active slot, stamped with the current
// time. Whatever was active before is discarded without a history entry;
// only ClearActive produces history.
func (s *Store) Activate(ctx context.Context, rec record.Record) error {
	if rec.IsEmpty() {
		return perrors.Validation(ActionActivate, "record is empty")
	}

	r := rec.Clone()
	r.Delete(StartedAtField)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.logger.Info().
			Str("previous_id", s.active.Record.ID()).
			Str("id", r.ID()).
			Msg("active entry replaced without finalizing")
	}
	s.active = &Active{Record: r, StartedAt: s.stamp()}

	s.logger.Info().Str("id", r.ID()).Msg("entry activated")
	s.commit(ctx, ActionActivate, ChangeActive)
	return nil
}

// Withdraw empties the active slot without producing history.
func (s *Store) Withdraw(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.logger.Info().Str("id", s.active.Record.ID()).Msg("active entry withdrawn")
	}
	s.active = nil
	s.commit(ctx, ActionActivate, ChangeActive)
	return nil
}

// ClearActive finalizes the active entry: it becomes a history entry with
// its duration computed, the matching roster entry is removed and the slot
// is emptied. With nothing active it still persists and broadcasts the slot.
func (s *Store) ClearActive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		s.commit(ctx, ActionClearActive, ChangeActive)
		return nil
	}

	ended := s.stamp()
	started := s.active.StartedAt
	elapsed := time.Duration(0)
	if !started.IsZero() {
		elapsed = ended.Sub(started)
	}
	entry := HistoryEntry{
		HistoryID: s.newID(),
		Record:    s.active.Record.Clone(),
		StartedAt: started,
		EndedAt:   ended,
		Duration:  FormatDuration(elapsed),
	}

	history := make([]HistoryEntry, len(s.history), len(s.history)+1)
	copy(history, s.history)
	s.history = append(history, entry)

	before := len(s.roster)
	match := identity.RuleNone
	if idx := s.resolver.IndexOf(s.roster, entry.Record); idx >= 0 {
		match = s.resolver.Match(s.roster[idx], entry.Record)
		roster := make([]record.Record, 0, len(s.roster)-1)
		roster = append(roster, s.roster[:idx]...)
		s.roster = append(roster, s.roster[idx+1:]...)
	}
	s.active = nil

	s.logger.Info().
		Str("id", entry.Record.ID()).
		Str("history_id", entry.HistoryID).
		Str("duration", entry.Duration).
		Int("roster_before", before).
		Int("roster_after", len(s.roster)).
		Stringer("match", match).
		Msg("activation finalized")

	s.commit(ctx, ActionClearActive, ChangeAll)
	return nil
}

// DeleteHistoryEntries removes the history entries with the given ids and
// puts each underlying record back in the roster unless an equivalent entry
// is already there. Unknown ids are ignored.
func (s *Store) DeleteHistoryEntries(ctx context.Context, historyIDs []string) error {
	want := make(map[string]struct{}, len(historyIDs))
	for _, id := range historyIDs {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]HistoryEntry, 0, len(s.history))
	var removed []HistoryEntry
	for _, h := range s.history {
		if _, ok := want[h.HistoryID]; ok {
			removed = append(removed, h)
			continue
		}
		kept = append(kept, h)
	}
	s.history = kept

	roster := make([]record.Record, len(s.roster), len(s.roster)+len(removed))
	copy(roster, s.roster)
	restored := 0
	for _, h := range removed {
		rec := h.Record.Clone()
		if s.resolver.IndexOf(roster, rec) >= 0 {
			continue
		}
		if rec.ID() == "" {
			rec.Set(record.IDField, s.uniqueID(rosterIDs(roster)))
		}
		roster = append(roster, rec)
		restored++
	}
	s.roster = roster

	s.logger.Info().
		Int("requested", len(historyIDs)).
		Int("removed", len(removed)).
		Int("restored", restored).
		Msg("history entries deleted")

	s.commit(ctx, ActionDeleteHistory, ChangeHistory|ChangeRoster)
	return nil
}

// commit persists and publishes the current triple. Callers hold s.mu.
// A failed save is logged and counted; the in-memory state stays
// authoritative and the next successful save restores durability.
func (s *Store) commit(ctx context.Context, action string, changed Change) {
	snap := s.snapshotLocked()

	if s.persister != nil {
		if err := s.persister.Save(ctx, snap); err != nil {
			s.metrics.RecordError("snapshot", "save")
			s.logger.Error().
				Err(perrors.Persistence("save", err)).
				Str("action", action).
				Msg("snapshot not saved, continuing from memory")
		}
	}

	if s.notifier != nil {
		s.notifier.Publish(changed, snap)
	}
}

// snapshotLocked copies the collection slices. Records are shared: stored
// records are never modified in place.
func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Roster:  make([]record.Record, len(s.roster)),
		History: make([]HistoryEntry, len(s.history)),
	}
	copy(snap.Roster, s.roster)
	copy(snap.History, s.history)
	if s.active != nil {
		a := *s.active
		snap.Active = &a
	}
	return snap
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// uniqueID generates an id not present in taken and records it there.
func (s *Store) uniqueID(taken map[string]int) string {
	for {
		id := s.newID()
		if _, dup := taken[id]; !dup {
			taken[id] = -1
			return id
		}
	}
}

func rosterIDs(roster []record.Record) map[string]int {
	ids := make(map[string]int, len(roster))
	for i, r := range roster {
		if id := r.ID(); id != "" {
			ids[id] = i
		}
	}
	return ids
}
