package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/hub"
	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/protocol"
	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/state"
)

type fixture struct {
	router  *Router
	store   *state.Store
	hub     *hub.Hub
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, initial state.Snapshot) *fixture {
	t.Helper()
	m := metrics.New()
	h := hub.New(m, zerolog.Nop())
	st := state.New(initial, nil, h, zerolog.Nop(), state.WithMetrics(m))
	r := New(Config{QueueSize: 16}, st, h, m, zerolog.Nop())
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return &fixture{router: r, store: st, hub: h, metrics: m}
}

func next(t *testing.T, s *hub.Session) protocol.Frame {
	t.Helper()
	select {
	case data := <-s.Outbound():
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Frame{}
	}
}

func assertQuiet(t *testing.T, s *hub.Session) {
	t.Helper()
	select {
	case data := <-s.Outbound():
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func connect(t *testing.T, f *fixture) *hub.Session {
	t.Helper()
	s := hub.NewSession("test", 32)
	require.NoError(t, f.router.Connect(s))
	for _, want := range []string{"active_update", "history_update", "roster_update"} {
		assert.Equal(t, want, next(t, s).Type)
	}
	return s
}

func send(t *testing.T, f *fixture, s *hub.Session, action, requestID, payload string) {
	t.Helper()
	frame := fmt.Sprintf(`{"type":%q,"request_id":%q`, action, requestID)
	if payload != "" {
		frame += `,"payload":` + payload
	}
	frame += "}"
	require.NoError(t, f.router.Dispatch(s, []byte(frame)))
}

func TestConnect_InitialSync(t *testing.T) {
	f := newFixture(t, state.Snapshot{Roster: []record.Record{record.Of("id", "1", "name", "A")}})
	s := hub.NewSession("test", 8)
	require.NoError(t, f.router.Connect(s))

	active := next(t, s)
	assert.Equal(t, protocol.EventActiveUpdate, active.Type)
	assert.Equal(t, "null", string(active.Payload))
	assert.Equal(t, protocol.EventHistoryUpdate, next(t, s).Type)
	roster := next(t, s)
	assert.JSONEq(t, `[{"id":"1","name":"A"}]`, string(roster.Payload))
	assert.Equal(t, 1, f.hub.Count())
}

func TestConnect_ClosedSessionNotRegistered(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := hub.NewSession("test", 8)
	s.Close()
	require.NoError(t, f.router.Connect(s))
	// a later action proves the connect job has been processed
	require.NoError(t, f.router.Do(context.Background(), protocol.ActionDeactivate, nil, ""))
	assert.Equal(t, 0, f.hub.Count())
}

func TestDispatch_ActivateBroadcastsToEverySession(t *testing.T) {
	f := newFixture(t, state.Snapshot{Roster: []record.Record{record.Of("id", "1", "name", "A")}})
	actor, viewer := connect(t, f), connect(t, f)

	send(t, f, actor, "activate", "r1", `{"id":"1","name":"A"}`)

	for _, s := range []*hub.Session{actor, viewer} {
		fr := next(t, s)
		assert.Equal(t, protocol.EventActiveUpdate, fr.Type)
		assert.Contains(t, string(fr.Payload), `"startedAt"`)
		assertQuiet(t, s)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActionsTotal.WithLabelValues("activate", "ok")))
}

func TestDispatch_ActivateNullWithdraws(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	send(t, f, s, "activate", "", `{"id":"1","name":"A"}`)
	next(t, s)
	send(t, f, s, "activate", "", `null`)

	fr := next(t, s)
	assert.Equal(t, protocol.EventActiveUpdate, fr.Type)
	assert.Equal(t, "null", string(fr.Payload))
	assert.Empty(t, f.store.Snapshot().History)
}

func TestDispatch_DeactivateSendsActiveHistoryRoster(t *testing.T) {
	f := newFixture(t, state.Snapshot{Roster: []record.Record{record.Of("id", "1", "name", "A")}})
	s := connect(t, f)

	send(t, f, s, "activate", "", `{"id":"1","name":"A"}`)
	next(t, s)
	send(t, f, s, "deactivate", "", "")

	assert.Equal(t, protocol.EventActiveUpdate, next(t, s).Type)
	hist := next(t, s)
	assert.Equal(t, protocol.EventHistoryUpdate, hist.Type)
	assert.Contains(t, string(hist.Payload), `"historyId"`)
	roster := next(t, s)
	assert.Equal(t, protocol.EventRosterUpdate, roster.Type)
	assert.Equal(t, "[]", string(roster.Payload))
}

func TestDispatch_ValidationErrorGoesToRequesterOnly(t *testing.T) {
	f := newFixture(t, state.Snapshot{Roster: []record.Record{record.Of("id", "1", "name", "A")}})
	actor, viewer := connect(t, f), connect(t, f)

	send(t, f, actor, "upsert_roster_entry", "r7", `{"name":"no id"}`)

	fr := next(t, actor)
	assert.Equal(t, protocol.EventError, fr.Type)
	assert.Equal(t, "r7", fr.RequestID)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	assert.Equal(t, "validation_failure", p.Code)
	assert.Equal(t, "upsert_roster_entry", p.Action)
	assertQuiet(t, viewer)
}

func TestDispatch_UpsertUnknownIDIsNotFound(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	send(t, f, s, "upsert_roster_entry", "", `{"id":"zz"}`)
	fr := next(t, s)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	assert.Equal(t, "not_found", p.Code)
}

func TestDispatch_RequestRosterRepliesToRequesterOnly(t *testing.T) {
	f := newFixture(t, state.Snapshot{Roster: []record.Record{record.Of("id", "1")}})
	actor, viewer := connect(t, f), connect(t, f)

	send(t, f, actor, "request_roster", "", "")
	fr := next(t, actor)
	assert.Equal(t, protocol.EventRosterUpdate, fr.Type)
	assert.JSONEq(t, `[{"id":"1"}]`, string(fr.Payload))
	assertQuiet(t, viewer)
}

func TestDispatch_DeleteHistoryUnknownIDStillBroadcasts(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	send(t, f, s, "delete_history", "", `"missing"`)
	assert.Equal(t, protocol.EventHistoryUpdate, next(t, s).Type)
	assert.Equal(t, protocol.EventRosterUpdate, next(t, s).Type)
}

func TestDispatch_IngestRoster(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	send(t, f, s, "ingest_roster", "", `[{"name":"A"},{"id":"k","name":"B"}]`)
	fr := next(t, s)
	assert.Equal(t, protocol.EventRosterUpdate, fr.Type)

	roster := f.store.Snapshot().Roster
	require.Len(t, roster, 2)
	assert.NotEmpty(t, roster[0].ID())
	assert.Equal(t, "k", roster[1].ID())
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	send(t, f, s, "update_patient", "r1", `{}`)
	fr := next(t, s)
	assert.Equal(t, protocol.EventError, fr.Type)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActionsTotal.WithLabelValues("unknown", "validation_failure")))
}

func TestDispatch_MalformedFrame(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	err := f.router.Dispatch(s, []byte(`{nope`))
	assert.ErrorIs(t, err, perrors.ErrValidation)
	assert.Equal(t, protocol.EventError, next(t, s).Type)
}

func TestDispatch_ProcessedInArrivalOrder(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	s := connect(t, f)

	for i := 0; i < 10; i++ {
		send(t, f, s, "activate", "", fmt.Sprintf(`{"id":"%d"}`, i))
	}
	for i := 0; i < 10; i++ {
		fr := next(t, s)
		var rec record.Record
		require.NoError(t, json.Unmarshal(fr.Payload, &rec))
		assert.Equal(t, fmt.Sprint(i), rec.ID())
	}
}

func TestDo(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	ctx := context.Background()

	require.NoError(t, f.router.Do(ctx, protocol.ActionIngestRoster, json.RawMessage(`[{"id":"1","name":"A"}]`), "req-1"))
	assert.Len(t, f.store.Snapshot().Roster, 1)

	err := f.router.Do(ctx, protocol.ActionUpsertEntry, json.RawMessage(`{"id":"2"}`), "")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	err = f.router.Do(ctx, protocol.ActionRequestRoster, nil, "")
	assert.ErrorIs(t, err, perrors.ErrValidation)
}

func TestStopped_RejectsWork(t *testing.T) {
	f := newFixture(t, state.EmptySnapshot())
	f.router.Stop()
	assert.False(t, f.router.Running())

	err := f.router.Do(context.Background(), protocol.ActionDeactivate, nil, "")
	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.ErrorIs(t, f.router.Connect(hub.NewSession("x", 1)), perrors.ErrUnavailable)
}
