package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/statusboard/internal/state"
)

// SQLiteGateway keeps the snapshot document in a single-row SQLite table.
type SQLiteGateway struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewSQLiteGateway opens (or creates) the database and runs migrations.
func NewSQLiteGateway(dbPath string, logger zerolog.Logger) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the snapshot row is replaced in a single statement.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	g := &SQLiteGateway{
		db:     db,
		logger: logger.With().Str("component", "snapshot_sqlite").Logger(),
	}
	if err := g.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	g.logger.Info().Str("path", dbPath).Msg("snapshot database initialized")
	return g, nil
}

func (g *SQLiteGateway) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		roster_count INTEGER NOT NULL,
		history_count INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := g.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	_, err := g.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '1')`)
	return err
}

// Save replaces the stored snapshot.
func (g *SQLiteGateway) Save(ctx context.Context, snap state.Snapshot) error {
	body, err := Encode(snap)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err = g.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO snapshots (id, version, body, roster_count, history_count, updated_at)
	VALUES (1, ?, ?, ?, ?, ?)
	`, Version, string(body), len(snap.Roster), len(snap.History), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot.
func (g *SQLiteGateway) Load(ctx context.Context) (state.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var body string
	err := g.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Decode([]byte(body))
}

// Ping checks the database connection.
func (g *SQLiteGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Close closes the database connection.
func (g *SQLiteGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// DB returns the underlying database connection (for testing).
func (g *SQLiteGateway) DB() *sql.DB {
	return g.db
}
