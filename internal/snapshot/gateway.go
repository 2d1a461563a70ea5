package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/state"
)

// ErrNoSnapshot is returned by a backend that has never been written.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Gateway is a snapshot backend.
type Gateway interface {
	// Save durably replaces the stored snapshot with snap.
	Save(ctx context.Context, snap state.Snapshot) error
	// Load returns the stored snapshot, or ErrNoSnapshot.
	Load(ctx context.Context) (state.Snapshot, error)
	// Ping checks the backend is usable.
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the gateway for backend. path is the snapshot file for the
// file backend and the database file for sqlite.
func Open(backend, path string, logger zerolog.Logger) (Gateway, error) {
	switch backend {
	case BackendFile, "":
		gw, err := NewFileGateway(path, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case BackendSQLite:
		gw, err := NewSQLiteGateway(path, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", backend)
	}
}

// Restore loads the stored snapshot through gw and heals it. A missing or
// unreadable snapshot yields an empty one; the failure is logged, never
// returned, so the service can always start.
func Restore(ctx context.Context, gw Gateway, logger zerolog.Logger) state.Snapshot {
	logger = logger.With().Str("component", "snapshot").Logger()

	snap, err := gw.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		logger.Info().Msg("no snapshot found, starting empty")
		return state.EmptySnapshot()
	case err != nil:
		logger.Error().Err(perrors.Persistence("load", err)).Msg("snapshot unreadable, starting empty")
		return state.EmptySnapshot()
	}

	if healed := Heal(&snap, nil); healed > 0 {
		logger.Warn().Int("entries", healed).Msg("assigned ids to roster entries while loading")
	}

	logger.Info().
		Int("roster", len(snap.Roster)).
		Int("history", len(snap.History)).
		Bool("active", snap.Active != nil).
		Msg("snapshot restored")
	return snap
}
