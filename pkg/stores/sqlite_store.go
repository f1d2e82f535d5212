package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/techblog/sasscfg/pkg/config"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own empty database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// dsn returns the modernc connection string for the configured path.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)"}
	if s.cfg.Path != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return "file:" + s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

const snapshotColumns = `id, source, format, digest, project, explicit, note, created_at`

// SaveSnapshot stores snap, assigning an ID and creation time when unset.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.Project == nil {
		return fmt.Errorf("snapshot of %s has no record", snap.Source)
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	project, err := json.Marshal(snap.Project)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}
	explicit := snap.Explicit
	if explicit == nil {
		explicit = []string{}
	}
	keys, err := json.Marshal(explicit)
	if err != nil {
		return fmt.Errorf("failed to encode explicit keys: %w", err)
	}

	query := `INSERT INTO snapshots (` + snapshotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		snap.Source,
		string(snap.Format),
		snap.Digest,
		string(project),
		string(keys),
		snap.Note,
		snap.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// GetSnapshot retrieves a snapshot by ID or unique ID prefix.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty snapshot id", ErrNotFound)
	}

	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE substr(id, 1, length(?)) = ? ORDER BY id = ? DESC LIMIT 2`

	rows, err := s.db.QueryContext(ctx, query, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}

	switch {
	case len(snaps) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case snaps[0].ID == id || len(snaps) == 1:
		return snaps[0], nil
	default:
		return nil, fmt.Errorf("snapshot id prefix %q is ambiguous", id)
	}
}

// LatestSnapshot returns the most recent snapshot of source.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, source string) (*Snapshot, error) {
	snaps, err := s.ListSnapshots(ctx, source, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, source)
	}
	return snaps[0], nil
}

// ListSnapshots returns snapshots of source, newest first. An empty source
// lists every file; a limit of zero or less means no limit.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, source string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE (? = '' OR source = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

// PruneSnapshots deletes all but the newest keep snapshots of source and
// returns how many were removed.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, source string, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}

	query := `
		DELETE FROM snapshots
		WHERE source = ? AND id NOT IN (
			SELECT id FROM snapshots
			WHERE source = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, source, source, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return result.RowsAffected()
}

func scanSnapshots(rows *sql.Rows) ([]*Snapshot, error) {
	defer rows.Close()

	snaps := []*Snapshot{}
	for rows.Next() {
		var (
			snap      Snapshot
			format    string
			project   string
			explicit  string
			createdAt int64
		)
		err := rows.Scan(
			&snap.ID,
			&snap.Source,
			&format,
			&snap.Digest,
			&project,
			&explicit,
			&snap.Note,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snap.Format = config.Format(format)
		snap.CreatedAt = time.Unix(0, createdAt)
		snap.Project = &config.Project{}
		if err := json.Unmarshal([]byte(project), snap.Project); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", snap.ID, err)
		}
		if err := json.Unmarshal([]byte(explicit), &snap.Explicit); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s keys: %w", snap.ID, err)
		}
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	details := event.Details
	if details == "" {
		details = "{}"
	}

	query := `
		INSERT INTO events (id, type, level, source, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Level,
		event.Source,
		event.Message,
		details,
		event.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents returns events for source, newest first. An empty source lists
// every event.
func (s *SQLiteStore) ListEvents(ctx context.Context, source string, limit int) ([]*EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, type, level, source, message, details, timestamp
		FROM events
		WHERE (? = '' OR source = ?)
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		var (
			event EventRecord
			ts    int64
		)
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Level,
			&event.Source,
			&event.Message,
			&event.Details,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Timestamp = time.Unix(0, ts)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
