package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/statusboard/internal/record"
)

// Attribute names added to records when they enter the active slot or the
// history.
const (
	StartedAtField = "startedAt"
	EndedAtField   = "endedAt"
	HistoryIDField = "historyId"
	DurationField  = "duration"
)

// TimeLayout is the wire form of every timestamp: UTC, millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an RFC 3339 timestamp. Empty or malformed input yields
// the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// FormatDuration renders d as HH:MM:SS, floored to the second. Negative
// durations render as 00:00:00; hours grow past two digits when needed.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// Active is the occupied active slot: a copy of a roster record plus the
// moment it was activated.
type Active struct {
	Record    record.Record
	StartedAt time.Time
}

// Flatten returns the record with startedAt attached, as sent on the wire.
func (a Active) Flatten() record.Record {
	out := a.Record.Clone()
	out.Set(StartedAtField, FormatTime(a.StartedAt))
	return out
}

// MarshalJSON writes the flattened record.
func (a Active) MarshalJSON() ([]byte, error) {
	return a.Flatten().MarshalJSON()
}

// MarshalYAML writes the flattened record.
func (a Active) MarshalYAML() (any, error) {
	return a.Flatten().MarshalYAML()
}

// UnmarshalJSON reads a flattened record.
func (a *Active) UnmarshalJSON(data []byte) error {
	var rec record.Record
	if err := rec.UnmarshalJSON(data); err != nil {
		return err
	}
	*a = ActiveFromRecord(rec)
	return nil
}

// ActiveFromRecord splits a flattened record back into an Active.
func ActiveFromRecord(rec record.Record) Active {
	rec = rec.Clone()
	started := ParseTime(rec.Take(StartedAtField))
	return Active{Record: rec, StartedAt: started}
}

// HistoryEntry is a finalized activation. It is never modified after
// creation.
type HistoryEntry struct {
	HistoryID string
	Record    record.Record
	StartedAt time.Time
	EndedAt   time.Time
	Duration  string
}

// Flatten returns the record with the history attributes attached.
func (h HistoryEntry) Flatten() record.Record {
	out := h.Record.Clone()
	out.Set(StartedAtField, FormatTime(h.StartedAt))
	out.Set(HistoryIDField, h.HistoryID)
	out.Set(EndedAtField, FormatTime(h.EndedAt))
	out.Set(DurationField, h.Duration)
	return out
}

// MarshalJSON writes the flattened record.
func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	return h.Flatten().MarshalJSON()
}

// MarshalYAML writes the flattened record.
func (h HistoryEntry) MarshalYAML() (any, error) {
	return h.Flatten().MarshalYAML()
}

// UnmarshalJSON reads a flattened record.
func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var rec record.Record
	if err := rec.UnmarshalJSON(data); err != nil {
		return err
	}
	*h = HistoryEntryFromRecord(rec)
	return nil
}

// HistoryEntryFromRecord strips the history attributes from a flattened
// record, recovering the underlying roster record.
func HistoryEntryFromRecord(rec record.Record) HistoryEntry {
	rec = rec.Clone()
	return HistoryEntry{
		HistoryID: rec.Take(HistoryIDField),
		StartedAt: ParseTime(rec.Take(StartedAtField)),
		EndedAt:   ParseTime(rec.Take(EndedAtField)),
		Duration:  rec.Take(DurationField),
		Record:    rec,
	}
}

// Snapshot is the full triple as persisted and broadcast.
type Snapshot struct {
	Roster  []record.Record
	Active  *Active
	History []HistoryEntry
}

// EmptySnapshot returns a snapshot with empty, non-nil collections.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Roster:  []record.Record{},
		History: []HistoryEntry{},
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Roster:  make([]record.Record, len(s.Roster)),
		History: make([]HistoryEntry, len(s.History)),
	}
	for i, r := range s.Roster {
		out.Roster[i] = r.Clone()
	}
	for i, h := range s.History {
		h.Record = h.Record.Clone()
		out.History[i] = h
	}
	if s.Active != nil {
		a := Active{Record: s.Active.Record.Clone(), StartedAt: s.Active.StartedAt}
		out.Active = &a
	}
	return out
}

// Change is a set of collections touched by a mutation.
type Change uint8

const (
	ChangeActive Change = 1 << iota
	ChangeHistory
	ChangeRoster

	ChangeAll = ChangeActive | ChangeHistory | ChangeRoster
)

// Has reports whether c includes every collection in other.
func (c Change) Has(other Change) bool { return c&other == other }

func (c Change) String() string {
	var parts []string
	if c.Has(ChangeActive) {
		parts = append(parts, "active")
	}
	if c.Has(ChangeHistory) {
		parts = append(parts, "history")
	}
	if c.Has(ChangeRoster) {
		parts = append(parts, "roster")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}
