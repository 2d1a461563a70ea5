package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/protocol"
	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/state"
)

func drain(t *testing.T, s *Session) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for {
		select {
		case data := <-s.Outbound():
			var f protocol.Frame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func types(frames []protocol.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func sampleSnapshot() state.Snapshot {
	return state.Snapshot{
		Roster: []record.Record{record.Of("id", "1", "name", "PEREZ")},
		Active: &state.Active{
			Record:    record.Of("id", "2", "name", "GOMEZ"),
			StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		History: []state.HistoryEntry{},
	}
}

func TestSession_SendAndClose(t *testing.T) {
	s := NewSession("127.0.0.1:1", 1)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Send([]byte("a")))
	assert.False(t, s.Send([]byte("b")), "buffer full")
	assert.Equal(t, []byte("a"), <-s.Outbound())

	s.Close()
	s.Close()
	assert.True(t, s.Closed())
	assert.False(t, s.Send([]byte("c")))
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestHub_AddRemoveCount(t *testing.T) {
	m := metrics.New()
	h := New(m, zerolog.Nop())
	a, b := NewSession("a", 4), NewSession("b", 4)

	assert.True(t, h.Add(a))
	assert.True(t, h.Add(b))
	assert.Equal(t, 2, h.Count())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsConnected))

	h.Remove(a)
	h.Remove(a)
	assert.Equal(t, 1, h.Count())
	assert.True(t, a.Closed())

	closed := NewSession("c", 4)
	closed.Close()
	assert.False(t, h.Add(closed))
	assert.Equal(t, 1, h.Count())
}

func TestHub_SyncSession_SendsActiveHistoryRoster(t *testing.T) {
	h := New(nil, zerolog.Nop())
	s := NewSession("a", 8)

	require.True(t, h.SyncSession(s, sampleSnapshot()))
	frames := drain(t, s)
	assert.Equal(t, []string{"active_update", "history_update", "roster_update"}, types(frames))
	assert.JSONEq(t, `{"id":"2","name":"GOMEZ","startedAt":"2024-01-01T00:00:00.000Z"}`, string(frames[0].Payload))
	assert.JSONEq(t, `[]`, string(frames[1].Payload))
	assert.JSONEq(t, `[{"id":"1","name":"PEREZ"}]`, string(frames[2].Payload))
}

func TestHub_SyncSession_EmptyActiveIsNull(t *testing.T) {
	h := New(nil, zerolog.Nop())
	s := NewSession("a", 8)

	require.True(t, h.SyncSession(s, state.EmptySnapshot()))
	frames := drain(t, s)
	require.Len(t, frames, 3)
	assert.Equal(t, "null", string(frames[0].Payload))
}

func TestHub_Publish_OnlyChangedCollectionsInOrder(t *testing.T) {
	h := New(nil, zerolog.Nop())
	a, b := NewSession("a", 8), NewSession("b", 8)
	h.Add(a)
	h.Add(b)

	h.Publish(state.ChangeRoster|state.ChangeActive, sampleSnapshot())
	for _, s := range []*Session{a, b} {
		assert.Equal(t, []string{"active_update", "roster_update"}, types(drain(t, s)))
	}

	h.Publish(state.ChangeAll, sampleSnapshot())
	assert.Equal(t, []string{"active_update", "history_update", "roster_update"}, types(drain(t, a)))
}

func TestHub_Broadcast_EvictsSlowSession(t *testing.T) {
	m := metrics.New()
	h := New(m, zerolog.Nop())
	fast, slow := NewSession("fast", 4), NewSession("slow", 1)
	h.Add(fast)
	h.Add(slow)

	h.Broadcast(protocol.EventRosterUpdate, []byte(`{}`))
	h.Broadcast(protocol.EventRosterUpdate, []byte(`{}`))

	assert.Equal(t, 1, h.Count())
	assert.True(t, slow.Closed())
	assert.False(t, fast.Closed())
	assert.Len(t, drain(t, fast), 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsEvicted))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues(protocol.EventRosterUpdate)))
}

func TestHub_Broadcast_ClosedSessionRemovedWithoutEviction(t *testing.T) {
	m := metrics.New()
	h := New(m, zerolog.Nop())
	s := NewSession("a", 4)
	h.Add(s)
	s.Close()

	h.Broadcast(protocol.EventActiveUpdate, []byte(`{}`))
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SessionsEvicted))
}

func TestHub_SendRosterAndError_TargetOneSession(t *testing.T) {
	h := New(nil, zerolog.Nop())
	a, b := NewSession("a", 4), NewSession("b", 4)
	h.Add(a)
	h.Add(b)

	h.SendRoster(a, []record.Record{record.Of("id", "9")})
	h.SendError(a, "r1", protocol.ActionUpsertEntry, perrors.NotFound(protocol.ActionUpsertEntry, "no roster entry with id %q", "9"))

	frames := drain(t, a)
	assert.Equal(t, []string{"roster_update", "error"}, types(frames))
	assert.Equal(t, "r1", frames[1].RequestID)
	assert.Empty(t, drain(t, b))
}

func TestHub_CloseAll(t *testing.T) {
	h := New(nil, zerolog.Nop())
	a := NewSession("a", 4)
	h.Add(a)
	h.CloseAll()
	assert.Equal(t, 0, h.Count())
	assert.True(t, a.Closed())
}
