// Package store implements the single-writer, versioned snapshot database
// described by the archiver's data model: one history-preserving table pair
// per entity kind, a content-addressed files table coupled to the blob
// store, and an FTS5 index over messages.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/cuemby/chatvault/pkg/log"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the single *sql.DB handle and the dedicated writer goroutine
// that serializes every mutating request: the store owns one OS thread
// and communicates via a request queue returning futures.
type Store struct {
	db       *sql.DB
	requests chan request
	done     chan struct{}
	logger   zerolog.Logger
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	fullSync bool
}

// WithFullSync sets PRAGMA synchronous=FULL instead of the default NORMAL,
// trading write throughput for an fsync on every commit (the archive
// command's --sync-sqlite flag, for operators who'd rather lose throughput
// than risk a snapshot row on a crashed WAL checkpoint).
func WithFullSync() Option {
	return func(c *openConfig) { c.fullSync = true }
}

// Open opens (creating if necessary) the snapshot database at path, applies
// schema.sql if the database is fresh (user_version=0), and starts the
// writer goroutine.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	sync := "NORMAL"
	if cfg.fullSync {
		sync = "FULL"
	}
	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(%s)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path, sync,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline: one connection, one goroutine touches it

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		requests: make(chan request, 64),
		done:     make(chan struct{}),
		logger:   log.WithComponent("store"),
	}
	go s.runWriter()
	return s, nil
}

func migrate(db *sql.DB) error {
	var userVersion int
	if err := db.QueryRow("PRAGMA user_version").Scan(&userVersion); err != nil {
		return fmt.Errorf("store: read user_version: %w", err)
	}
	if userVersion != 0 {
		return nil
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		return fmt.Errorf("store: set user_version: %w", err)
	}
	return nil
}

// Close stops the writer goroutine, runs a final PRAGMA optimize, and
// closes the underlying database handle.
func (s *Store) Close() error {
	close(s.requests)
	<-s.done
	if _, err := s.db.Exec("PRAGMA optimize"); err != nil {
		s.db.Close()
		return fmt.Errorf("store: pragma optimize: %w", err)
	}
	return s.db.Close()
}
