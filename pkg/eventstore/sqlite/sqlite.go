// Package sqlite persists the event log in SQLite with no CGo dependency.
// A single writer at a time appends under an exclusive lock; readers run
// concurrently through WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store implements eventstore.Storage on a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes pushes
}

type storeConfig struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		dsn:          "iamcore.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures a Store.
type Option func(*storeConfig)

// WithDSN sets the data source name, a file path or ":memory:".
func WithDSN(dsn string) Option {
	return func(c *storeConfig) { c.dsn = dsn }
}

// WithMemoryDatabase switches to an in-memory database, used in tests.
func WithMemoryDatabase() Option {
	return func(c *storeConfig) { c.dsn = ":memory:" }
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *storeConfig) { c.maxOpenConns = n }
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(c *storeConfig) { c.maxIdleConns = n }
}

// WithWALMode toggles write-ahead logging. Not available for :memory:
// databases.
func WithWALMode(enabled bool) Option {
	return func(c *storeConfig) { c.walMode = enabled }
}

// WithAutoMigrate toggles running pending schema migrations on startup.
func WithAutoMigrate(enabled bool) Option {
	return func(c *storeConfig) { c.autoMigrate = enabled }
}

// New opens the event store.
//
//	// defaults: iamcore.db, WAL, auto-migrate
//	store, err := sqlite.New()
//
//	// throwaway in-memory store
//	store, err := sqlite.New(sqlite.WithMemoryDatabase())
func New(opts ...Option) (*Store, error) {
	config := defaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Write transactions take the write lock at BEGIN, so the version
	// check and insert inside one push cannot interleave with another
	// process's push.
	dsn := config.dsn
	if dsn != ":memory:" && !strings.Contains(dsn, "_txlock=") {
		if strings.Contains(dsn, "?") {
			dsn += "&_txlock=immediate"
		} else {
			dsn += "?_txlock=immediate"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: would get its own database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db}

	if config.walMode && config.dsn != ":memory:" {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return store, nil
}

// DB exposes the underlying handle so co-located stores (projections,
// checkpoints) can share the database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Health reports whether the database answers.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LatestPosition returns the highest committed position of the instance,
// or of the whole store when instanceID is empty.
func (s *Store) LatestPosition(ctx context.Context, instanceID string) (uint64, error) {
	query := "SELECT COALESCE(MAX(position), 0) FROM events"
	args := []any{}
	if instanceID != "" {
		query += " WHERE instance_id = ?"
		args = append(args, instanceID)
	}
	var position int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&position); err != nil {
		return 0, fmt.Errorf("query latest position: %w", err)
	}
	return uint64(position), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
