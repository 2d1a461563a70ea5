// Package router hands inbound actions to the state store one at a time.
//
// Every session reader and the management API enqueue work on a single
// channel; one worker goroutine drains it, so each action is applied,
// persisted and broadcast before the next one starts. Initial syncs of new
// sessions run on the same worker, which keeps them ordered with mutation
// broadcasts.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/hub"
	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/protocol"
	"github.com/p-blackswan/statusboard/internal/state"
)

// Config holds router settings.
type Config struct {
	QueueSize int
}

type jobKind int

const (
	jobAction jobKind = iota
	jobConnect
)

type job struct {
	kind      jobKind
	session   *hub.Session
	action    string
	requestID string
	payload   json.RawMessage
	reply     chan error
}

type handlerFunc func(ctx context.Context, j job) error

// Router is the single writer in front of the store.
type Router struct {
	store    *state.Store
	hub      *hub.Hub
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc
	queue    chan job
	logger   zerolog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a router. Call Start before dispatching.
func New(cfg Config, store *state.Store, h *hub.Hub, m *metrics.Metrics, logger zerolog.Logger) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &Router{
		store:    store,
		hub:      h,
		metrics:  m,
		queue:    make(chan job, cfg.QueueSize),
		logger:   logger.With().Str("component", "router").Logger(),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.handlers = map[string]handlerFunc{
		protocol.ActionIngestRoster:  r.ingestRoster,
		protocol.ActionRequestRoster: r.requestRoster,
		protocol.ActionUpsertEntry:   r.upsertEntry,
		protocol.ActionActivate:      r.activate,
		protocol.ActionDeactivate:    r.deactivate,
		protocol.ActionDeleteHistory: r.deleteHistory,
	}
	return r
}

// Start launches the worker goroutine.
func (r *Router) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return // already running
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.worker(ctx)

	r.logger.Info().Int("queue_size", cap(r.queue)).Msg("router started")
}

// Stop stops accepting work, finishes the queued actions and waits for the
// worker to exit.
func (r *Router) Stop() {
	if !r.running.Swap(false) {
		return
	}
	r.stopOnce.Do(func() { close(r.stopping) })
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info().Msg("router stopped")
}

// Running reports whether the worker is accepting work.
func (r *Router) Running() bool { return r.running.Load() }

// Connect queues the initial sync of a new session: it is registered with the
// hub and sent the active slot, history and roster.
func (r *Router) Connect(s *hub.Session) error {
	return r.enqueue(context.Background(), job{kind: jobConnect, session: s})
}

// Dispatch decodes one inbound frame from s and queues it. Malformed frames
// are answered with an error frame and not queued. It blocks while the queue
// is full.
func (r *Router) Dispatch(s *hub.Session, raw []byte) error {
	frame, err := protocol.Decode(raw)
	if err != nil {
		r.metrics.RecordAction("invalid", perrors.Code(err))
		r.hub.SendError(s, "", "", err)
		return err
	}
	return r.enqueue(context.Background(), job{
		kind:      jobAction,
		session:   s,
		action:    frame.Type,
		requestID: frame.RequestID,
		payload:   frame.Payload,
	})
}

// Do runs action on behalf of a caller without a session, such as the
// management API, and waits for its outcome.
func (r *Router) Do(ctx context.Context, action string, payload json.RawMessage, requestID string) error {
	if action == protocol.ActionRequestRoster {
		return perrors.Validation(action, "%s needs a session", action)
	}
	reply := make(chan error, 1)
	if err := r.enqueue(ctx, job{
		kind:      jobAction,
		action:    action,
		requestID: requestID,
		payload:   payload,
		reply:     reply,
	}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return &perrors.ActionError{Action: action, Kind: perrors.ErrUnavailable, Message: "router stopped"}
		}
	}
}

func (r *Router) enqueue(ctx context.Context, j job) error {
	if !r.running.Load() {
		return &perrors.ActionError{Action: j.action, Kind: perrors.ErrUnavailable, Message: "router not running"}
	}
	select {
	case r.queue <- j:
		return nil
	case <-r.stopping:
		return &perrors.ActionError{Action: j.action, Kind: perrors.ErrUnavailable, Message: "router stopping"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) worker(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.done)
	r.logger.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.logger.Debug().Msg("worker stopping")
			return
		case j := <-r.queue:
			r.process(j)
		}
	}
}

// drain applies whatever was queued before Stop.
func (r *Router) drain() {
	for {
		select {
		case j := <-r.queue:
			if j.kind == jobConnect {
				j.session.Close()
				continue
			}
			r.process(j)
		default:
			return
		}
	}
}

func (r *Router) process(j job) {
	if j.kind == jobConnect {
		if j.session.Closed() {
			return
		}
		r.hub.SyncSession(j.session, r.store.Snapshot())
		return
	}

	start := time.Now()
	// Writes run to completion even if shutdown begins mid-action.
	ctx := context.Background()

	handler, ok := r.handlers[j.action]
	var err error
	if !ok {
		err = perrors.Validation(j.action, "unknown action %q", j.action)
	} else {
		err = handler(ctx, j)
	}

	elapsed := time.Since(start)
	result := "ok"
	if err != nil {
		result = perrors.Code(err)
	}
	metricAction := j.action
	if !ok {
		metricAction = "unknown"
	}
	r.metrics.RecordAction(metricAction, result)
	r.metrics.ObserveDuration(metricAction, elapsed.Seconds())

	evt := r.logger.Info()
	if err != nil {
		evt = r.logger.Warn().Err(err)
	}
	evt.Str("action", j.action).
		Str("session", sessionID(j.session)).
		Str("request_id", j.requestID).
		Str("result", result).
		Dur("elapsed", elapsed).
		Msg("action processed")

	if err != nil && j.session != nil {
		r.hub.SendError(j.session, j.requestID, j.action, err)
	}
	if j.reply != nil {
		j.reply <- err
	}
}

func sessionID(s *hub.Session) string {
	if s == nil {
		return "mgmt"
	}
	return s.ID
}

func (r *Router) ingestRoster(ctx context.Context, j job) error {
	rows, err := protocol.ParseRows(j.action, j.payload)
	if err != nil {
		return err
	}
	return r.store.ReplaceRoster(ctx, rows)
}

func (r *Router) requestRoster(_ context.Context, j job) error {
	if j.session == nil {
		return perrors.Validation(j.action, "%s needs a session", j.action)
	}
	r.hub.SendRoster(j.session, r.store.Snapshot().Roster)
	return nil
}

func (r *Router) upsertEntry(ctx context.Context, j job) error {
	rec, err := protocol.ParseRecord(j.action, j.payload)
	if err != nil {
		return err
	}
	return r.store.UpsertRosterEntry(ctx, rec)
}

// activate with a null payload withdraws the active entry without history.
func (r *Router) activate(ctx context.Context, j job) error {
	if protocol.IsNull(j.payload) {
		return r.store.Withdraw(ctx)
	}
	rec, err := protocol.ParseRecord(j.action, j.payload)
	if err != nil {
		return err
	}
	return r.store.Activate(ctx, rec)
}

func (r *Router) deactivate(ctx context.Context, _ job) error {
	return r.store.ClearActive(ctx)
}

func (r *Router) deleteHistory(ctx context.Context, j job) error {
	ids, err := protocol.ParseHistoryIDs(j.action, j.payload)
	if err != nil {
		return err
	}
	return r.store.DeleteHistoryEntries(ctx, ids)
}
