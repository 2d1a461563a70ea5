package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/statusboard/internal/state"
)

// FileGateway keeps the snapshot in a single JSON file.
type FileGateway struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileGateway returns a gateway writing to path. The parent directory is
// created if needed.
func NewFileGateway(path string, logger zerolog.Logger) (*FileGateway, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	return &FileGateway{
		path:   path,
		logger: logger.With().Str("component", "snapshot_file").Str("path", path).Logger(),
	}, nil
}

// Path returns the snapshot file path.
func (g *FileGateway) Path() string { return g.path }

// Save writes snap to a temporary file in the same directory, fsyncs it and
// renames it over the snapshot, so readers never see a partial write.
func (g *FileGateway) Save(_ context.Context, snap state.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g.mu.Lock()
	defer g.mu.Unlock()

	tmp := g.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary snapshot file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temporary snapshot file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temporary snapshot file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temporary snapshot file: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot file into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(g.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// Load reads the snapshot file. A file that cannot be decoded is moved aside
// to <path>.corrupt-<unix seconds> so the next save does not destroy it.
func (g *FileGateway) Load(_ context.Context) (state.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("reading snapshot file: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", g.path, time.Now().Unix())
		if renameErr := os.Rename(g.path, aside); renameErr != nil {
			g.logger.Error().Err(renameErr).Msg("failed to move unreadable snapshot aside")
		} else {
			g.logger.Warn().Str("moved_to", aside).Msg("unreadable snapshot moved aside")
		}
		return state.Snapshot{}, err
	}
	return snap, nil
}

// Ping checks that the snapshot directory is writable.
func (g *FileGateway) Ping(_ context.Context) error {
	f, err := os.CreateTemp(filepath.Dir(g.path), ".ping-*")
	if err != nil {
		return fmt.Errorf("snapshot directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close is a no-op for files.
func (g *FileGateway) Close() error { return nil }
