// Package protocol defines the JSON frames exchanged with display and
// control sessions.
//
// Every message is a text frame holding one envelope:
//
//	{"type": "activate", "request_id": "r-17", "payload": {...}}
//
// Inbound types are actions; outbound types are collection updates and
// errors.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/state"
)

// Inbound actions.
const (
	ActionIngestRoster  = state.ActionReplaceRoster
	ActionRequestRoster = "request_roster"
	ActionUpsertEntry   = state.ActionUpsertEntry
	ActionActivate      = state.ActionActivate
	ActionDeactivate    = state.ActionClearActive
	ActionDeleteHistory = state.ActionDeleteHistory
)

// Outbound events.
const (
	EventRosterUpdate  = "roster_update"
	EventActiveUpdate  = "active_update"
	EventHistoryUpdate = "history_update"
	EventError         = "error"
)

// Actions lists every inbound action in table order.
var Actions = []string{
	ActionIngestRoster,
	ActionRequestRoster,
	ActionUpsertEntry,
	ActionActivate,
	ActionDeactivate,
	ActionDeleteHistory,
}

// IsAction reports whether name is a known inbound action.
func IsAction(name string) bool {
	for _, a := range Actions {
		if a == name {
			return true
		}
	}
	return false
}

// Frame is the envelope of every message.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// Decode parses one inbound frame. A frame without a type is a validation
// failure.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, perrors.Validation("decode", "malformed frame: %v", err)
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return Frame{}, perrors.Validation("decode", "frame has no type")
	}
	return f, nil
}

// Encode builds an outbound frame around payload.
func Encode(event, requestID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	data, err := json.Marshal(Frame{Type: event, RequestID: requestID, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	return data, nil
}

// RosterFrame encodes a roster_update.
func RosterFrame(roster []record.Record) ([]byte, error) {
	if roster == nil {
		roster = []record.Record{}
	}
	return Encode(EventRosterUpdate, "", roster)
}

// ActiveFrame encodes an active_update. An empty slot has a null payload.
func ActiveFrame(active *state.Active) ([]byte, error) {
	return Encode(EventActiveUpdate, "", active)
}

// HistoryFrame encodes a history_update.
func HistoryFrame(history []state.HistoryEntry) ([]byte, error) {
	if history == nil {
		history = []state.HistoryEntry{}
	}
	return Encode(EventHistoryUpdate, "", history)
}

// ErrorFrame encodes the error reply for a failed action.
func ErrorFrame(requestID, action string, err error) []byte {
	data, encErr := Encode(EventError, requestID, ErrorPayload{
		Code:    perrors.Code(err),
		Message: perrors.Message(err),
		Action:  action,
	})
	if encErr != nil {
		return []byte(`{"type":"error","payload":{"code":"internal","message":"internal error"}}`)
	}
	return data
}

// IsNull reports whether payload is absent or JSON null.
func IsNull(payload json.RawMessage) bool {
	s := strings.TrimSpace(string(payload))
	return s == "" || s == "null"
}

// ParseRecord decodes a single-record payload.
func ParseRecord(action string, payload json.RawMessage) (record.Record, error) {
	if IsNull(payload) {
		return record.Record{}, perrors.Validation(action, "payload must be an object")
	}
	var r record.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return record.Record{}, perrors.Validation(action, "payload must be an object")
	}
	return r, nil
}

// ParseRows decodes an ingest_roster payload: an array of objects.
func ParseRows(action string, payload json.RawMessage) ([]record.Record, error) {
	if IsNull(payload) {
		return nil, perrors.Validation(action, "payload must be an array of objects")
	}
	rows, err := record.ParseList(payload)
	if err != nil {
		return nil, perrors.Validation(action, "payload must be an array of objects: %v", err)
	}
	return rows, nil
}

// ParseHistoryIDs decodes a delete_history payload: one history id or an
// array of them. Numbers are accepted in their textual form.
func ParseHistoryIDs(action string, payload json.RawMessage) ([]string, error) {
	if IsNull(payload) || !gjson.ValidBytes(payload) {
		return nil, perrors.Validation(action, "payload must be a history id or an array of history ids")
	}
	v := gjson.ParseBytes(payload)
	switch {
	case v.Type == gjson.String || v.Type == gjson.Number:
		return []string{v.String()}, nil
	case v.IsArray():
		ids := []string{}
		var bad bool
		v.ForEach(func(_, item gjson.Result) bool {
			if item.Type != gjson.String && item.Type != gjson.Number {
				bad = true
				return false
			}
			ids = append(ids, item.String())
			return true
		})
		if bad {
			return nil, perrors.Validation(action, "history ids must be strings")
		}
		return ids, nil
	default:
		return nil, perrors.Validation(action, "payload must be a history id or an array of history ids")
	}
}
