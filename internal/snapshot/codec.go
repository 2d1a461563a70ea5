// Package snapshot durably stores the full roster/active/history triple.
//
// Two backends share one JSON document layout: FileGateway writes it to a
// file with an atomic rename, SQLiteGateway keeps it in a single-row table.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/state"
)

// Version is the current document layout version.
const Version = 2

// document is the on-disk layout.
type document struct {
	Version int                  `json:"version"`
	Roster  []record.Record      `json:"roster"`
	Active  *state.Active        `json:"active"`
	History []state.HistoryEntry `json:"history"`
}

// legacyDocument is the layout written before ids were mandatory.
type legacyDocument struct {
	CurrentPatient     *record.Record  `json:"currentPatient"`
	CurrentPatientList []record.Record `json:"currentPatientList"`
	History            []record.Record `json:"history"`
}

// Legacy attribute names, renamed on load.
const (
	legacyIDField        = "_id"
	legacyStartTimeField = "startTime"
	legacyEndTimeField   = "endTime"
)

// Encode renders snap as an indented document.
func Encode(snap state.Snapshot) ([]byte, error) {
	doc := document{
		Version: Version,
		Roster:  snap.Roster,
		Active:  snap.Active,
		History: snap.History,
	}
	if doc.Roster == nil {
		doc.Roster = []record.Record{}
	}
	if doc.History == nil {
		doc.History = []state.HistoryEntry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a document in the current or the legacy layout. It does not
// heal; see Heal.
func Decode(data []byte) (state.Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return state.Snapshot{}, fmt.Errorf("decoding snapshot: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return state.Snapshot{}, fmt.Errorf("decoding snapshot: not an object")
	}

	if isLegacy(root) {
		return decodeLegacy(data)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return state.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if doc.Version > Version {
		return state.Snapshot{}, fmt.Errorf("decoding snapshot: unsupported version %d", doc.Version)
	}
	return normalize(state.Snapshot{
		Roster:  doc.Roster,
		Active:  doc.Active,
		History: doc.History,
	}), nil
}

func isLegacy(root gjson.Result) bool {
	if root.Get("roster").Exists() || root.Get("version").Exists() {
		return false
	}
	return root.Get("currentPatientList").Exists() || root.Get("currentPatient").Exists()
}

func decodeLegacy(data []byte) (state.Snapshot, error) {
	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return state.Snapshot{}, fmt.Errorf("decoding legacy snapshot: %w", err)
	}

	snap := state.Snapshot{
		Roster:  make([]record.Record, 0, len(doc.CurrentPatientList)),
		History: make([]state.HistoryEntry, 0, len(doc.History)),
	}
	for _, r := range doc.CurrentPatientList {
		r.Rename(legacyIDField, record.IDField)
		snap.Roster = append(snap.Roster, r)
	}
	if doc.CurrentPatient != nil && !doc.CurrentPatient.IsEmpty() {
		r := doc.CurrentPatient.Clone()
		r.Rename(legacyIDField, record.IDField)
		r.Rename(legacyStartTimeField, state.StartedAtField)
		a := state.ActiveFromRecord(r)
		snap.Active = &a
	}
	for _, r := range doc.History {
		r.Rename(legacyIDField, record.IDField)
		r.Rename(legacyStartTimeField, state.StartedAtField)
		r.Rename(legacyEndTimeField, state.EndedAtField)
		snap.History = append(snap.History, state.HistoryEntryFromRecord(r))
	}
	return snap, nil
}

func normalize(snap state.Snapshot) state.Snapshot {
	if snap.Roster == nil {
		snap.Roster = []record.Record{}
	}
	if snap.History == nil {
		snap.History = []state.HistoryEntry{}
	}
	if snap.Active != nil && snap.Active.Record.IsEmpty() {
		snap.Active = nil
	}
	return snap
}

// Heal assigns an id to every roster entry missing one and re-assigns ids
// that repeat an earlier entry's. It returns the number of entries changed.
func Heal(snap *state.Snapshot, gen func() string) int {
	if gen == nil {
		gen = record.NewID
	}
	seen := make(map[string]struct{}, len(snap.Roster))
	for _, r := range snap.Roster {
		if id := r.ID(); id != "" {
			seen[id] = struct{}{}
		}
	}

	healed := 0
	used := make(map[string]struct{}, len(snap.Roster))
	for i := range snap.Roster {
		r := snap.Roster[i]
		id := r.ID()
		if _, dup := used[id]; id != "" && !dup {
			used[id] = struct{}{}
			continue
		}
		r = r.Clone()
		for {
			id = gen()
			_, taken := seen[id]
			if !taken {
				break
			}
		}
		seen[id] = struct{}{}
		used[id] = struct{}{}
		r.Set(record.IDField, id)
		snap.Roster[i] = r
		healed++
	}
	return healed
}
