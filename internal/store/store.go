// Package store implements devflow's durable entities over SQLite,
// grounded on bkyoung-code-reviewer/internal/adapter/store/sqlite
// (database/sql + mattn/go-sqlite3, a createSchema() DDL block, a
// NewStore(path) constructor). The *kinds* of entity and the lookup
// indexes they need are modeled on the teacher's own kvstore/store.go
// (agent-by-URL, agent-by-branch indexes become repo-binding,
// PR-by-number, and session-by-ID lookups here), reimplemented as SQL
// tables rather than prefixed KV keys since there is no Mattermost KV
// store host to delegate to.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store is devflow's durable entity store: repository bindings, per-repo
// sync state, assignment intents, PR-DO records, sandbox session
// metadata, and the webhook idempotency cache.
type Store struct {
	db *sql.DB

	// entityLocks serializes operations on one durable entity (a repo's
	// sync coordinator, or one PR's state machine) while letting
	// different entities run in parallel, per §5's per-entity
	// single-threading rule. Keyed by "repo:<id>" or "pr:<repo>:<num>".
	entityLocks sync.Map
}

// NewStore opens (creating if absent) a SQLite-backed Store at path. Use
// ":memory:" for an in-process database, as in tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// SQLite allows only one writer at a time; a single shared connection
	// avoids SQLITE_BUSY under devflow's own already-serialized entity
	// locks.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		return nil, errors.Wrap(err, "create schema")
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Lock returns the mutex serializing operations against the named
// entity, creating one on first use.
func (s *Store) Lock(key string) *sync.Mutex {
	v, _ := s.entityLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repo_bindings (
		id              TEXT PRIMARY KEY,
		owner           TEXT NOT NULL,
		name            TEXT NOT NULL,
		installation_id INTEGER NOT NULL,
		webhook_secret  TEXT NOT NULL,
		default_branch  TEXT NOT NULL,
		UNIQUE(owner, name)
	);

	CREATE TABLE IF NOT EXISTS sync_states (
		repo_id      TEXT PRIMARY KEY,
		state        TEXT NOT NULL DEFAULT 'idle',
		error_count  INTEGER NOT NULL DEFAULT 0,
		last_success TEXT,
		last_commit  TEXT,
		updated_at   TEXT NOT NULL,
		FOREIGN KEY (repo_id) REFERENCES repo_bindings(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		dedupe_key  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		UNIQUE(repo_id, dedupe_key),
		FOREIGN KEY (repo_id) REFERENCES repo_bindings(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id    TEXT NOT NULL,
		source     TEXT NOT NULL,
		action     TEXT NOT NULL,
		timestamp  TEXT NOT NULL,
		FOREIGN KEY (repo_id) REFERENCES repo_bindings(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS assignment_intents (
		id          TEXT PRIMARY KEY,
		repo_id     TEXT NOT NULL DEFAULT '',
		issue_id    TEXT NOT NULL,
		agent_name  TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		state       TEXT NOT NULL DEFAULT 'in_progress',
		pr_number   INTEGER NOT NULL DEFAULT 0,
		head_ref    TEXT NOT NULL DEFAULT '',
		base_ref    TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intents_issue ON assignment_intents(issue_id);

	CREATE TABLE IF NOT EXISTS pr_records (
		repo_id        TEXT NOT NULL,
		pr_number      INTEGER NOT NULL,
		head_ref       TEXT NOT NULL,
		base_ref       TEXT NOT NULL,
		author         TEXT NOT NULL,
		state          TEXT NOT NULL,
		merge_type     TEXT NOT NULL DEFAULT 'none',
		reviewer_queue TEXT NOT NULL DEFAULT '[]',
		history        TEXT NOT NULL DEFAULT '[]',
		last_changes_req_at  TEXT NOT NULL DEFAULT '',
		last_head_commit_at  TEXT NOT NULL DEFAULT '',
		updated_at     TEXT NOT NULL,
		PRIMARY KEY (repo_id, pr_number)
	);

	CREATE TABLE IF NOT EXISTS sandbox_sessions (
		id             TEXT PRIMARY KEY,
		container      TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		last_active_at TEXT NOT NULL,
		expires_at     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		delivery_id TEXT PRIMARY KEY,
		seen_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_seen ON webhook_deliveries(seen_at);

	CREATE TABLE IF NOT EXISTS agent_registry (
		repo_id      TEXT NOT NULL,
		agent_name   TEXT NOT NULL,
		tier         TEXT NOT NULL,
		default_role TEXT NOT NULL,
		PRIMARY KEY (repo_id, agent_name)
	);

	CREATE TABLE IF NOT EXISTS issue_mirror (
		repo_id    TEXT NOT NULL,
		issue_key  TEXT NOT NULL,
		forge_num  INTEGER NOT NULL DEFAULT 0,
		title      TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT '',
		priority   INTEGER NOT NULL DEFAULT 0,
		kind       TEXT NOT NULL DEFAULT '',
		assignee   TEXT NOT NULL DEFAULT '',
		labels     TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (repo_id, issue_key)
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}
