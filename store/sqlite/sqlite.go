// Package sqlite implements the runtime's persistence layer backed by a
// local SQLite file: convtree.Store (chats/messages), workspace.
// ManifestRepository (content-addressed manifests), broadcaster.Store
// (active stream rows), and the model/provider-settings/agent tables the
// orchestrator and agentstore packages read through it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store is a local SQLite-backed database connection shared by every
// persistence interface this package implements.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// nopLogger discards everything; used when no logger is configured.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a structured logger; InsertMessage and
// SetMessageManifest emit a debug line through it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (creating if absent) a SQLite database file at path and runs
// Init. A single connection is held open (SetMaxOpenConns(1)) so every
// goroutine serializes through one connection instead of hitting
// SQLITE_BUSY from independent connections writing concurrently.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection for packages (agentstore) that
// need to run their own queries against the same database.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// init creates every table this package and its sibling package
// (agentstore) need, idempotently.
func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			model_id TEXT,
			active_leaf_id TEXT,
			agent_config TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			parent_message_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT,
			is_complete INTEGER NOT NULL DEFAULT 0,
			sequence INTEGER NOT NULL,
			manifest_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_parent ON messages(chat_id, parent_message_id)`,
		`CREATE TABLE IF NOT EXISTS manifests (
			id TEXT PRIMARY KEY,
			files TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_streams (
			chat_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS provider_settings (
			provider TEXT PRIMARY KEY,
			option_schema TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			graph_data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			toolset_id TEXT NOT NULL DEFAULT '',
			transport TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			env TEXT NOT NULL DEFAULT '{}',
			url TEXT NOT NULL DEFAULT '',
			requires_approval INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}
