package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Publisher receives every committed change, in commit order.
type Publisher interface {
	Publish(change Change)
}

type discardPublisher struct{}

func (discardPublisher) Publish(Change) {}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	Publisher Publisher
	Now       func() time.Time
	NewID     func() string
}

// Store handles database operations
type Store struct {
	db        *sql.DB
	publisher Publisher
	now       func() time.Time
	newID     func() string

	// writeMu serializes write transactions together with the publish of
	// their changes, so change seq order is also delivery order.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:        db,
		publisher: opts.Publisher,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if s.publisher == nil {
		s.publisher = discardPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// migrations[i] brings the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS suites (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			name TEXT,
			tags TEXT,
			planned_cases INTEGER,
			status TEXT NOT NULL,
			result TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			disconnected_at INTEGER,
			version INTEGER NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS cases (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			suite_id TEXT NOT NULL REFERENCES suites(id),
			idx INTEGER NOT NULL,
			name TEXT,
			description TEXT,
			tags TEXT,
			args TEXT,
			status TEXT NOT NULL,
			result TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			version INTEGER NOT NULL,
			UNIQUE(suite_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS log_lines (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			case_id TEXT NOT NULL REFERENCES cases(id),
			idx INTEGER NOT NULL,
			level TEXT NOT NULL,
			trace TEXT,
			message TEXT,
			timestamp INTEGER NOT NULL,
			UNIQUE(case_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			suite_id TEXT REFERENCES suites(id),
			case_id TEXT REFERENCES cases(id),
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			version INTEGER NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER,
			CHECK (suite_id IS NULL OR case_id IS NULL)
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			mutation TEXT NOT NULL,
			committed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_suites_status ON suites(status)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_suite_id ON attachments(suite_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_case_id ON attachments(case_id)`,
	},
}

// initSchema applies every migration newer than the database's user_version.
func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		for _, query := range migrations[v] {
			if _, err := tx.ExecContext(ctx, query); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("apply migration %d: %w", v+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("set user_version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion reports the applied migration level.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}
