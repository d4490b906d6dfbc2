// Package sqlite implements the Focal storage interfaces on SQLite.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// Schema creates all tables used by the Focal engine. Statements are
// idempotent so the schema can be applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS ordered_set_members (
    set_key    TEXT NOT NULL,
    member     TEXT NOT NULL,
    score      REAL NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (set_key, member)
);

CREATE INDEX IF NOT EXISTS idx_osm_key_score
    ON ordered_set_members(set_key, score DESC);

CREATE TABLE IF NOT EXISTS ordered_set_expiry (
    set_key    TEXT PRIMARY KEY,
    expires_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS device_frames (
    user_id    TEXT NOT NULL,
    device_id  TEXT NOT NULL,
    payload    TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, device_id)
);

CREATE TABLE IF NOT EXISTS unified_context (
    user_id     TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,
    computed_at TIMESTAMP NOT NULL,
    expires_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_patterns (
    id            TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    signature     TEXT NOT NULL,
    occurrences   INTEGER NOT NULL DEFAULT 0,
    first_seen    TIMESTAMP NOT NULL,
    last_seen     TIMESTAMP NOT NULL,
    confidence    REAL NOT NULL DEFAULT 0,
    is_formed     INTEGER NOT NULL DEFAULT 0,
    reward_signal REAL NOT NULL DEFAULT 0,
    people        TEXT,
    topics        TEXT,
    memories      TEXT,
    PRIMARY KEY (user_id, signature)
);

CREATE INDEX IF NOT EXISTS idx_patterns_user_seen
    ON learned_patterns(user_id, last_seen DESC);

CREATE TABLE IF NOT EXISTS memory_salience (
    memory_id       TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    base_salience   REAL NOT NULL,
    captured_at     TIMESTAMP NOT NULL,
    retrieval_count INTEGER NOT NULL DEFAULT 0,
    people          TEXT,
    topics          TEXT,
    commitments     TEXT
);

CREATE INDEX IF NOT EXISTS idx_memory_salience_user
    ON memory_salience(user_id);

CREATE TABLE IF NOT EXISTS retrieval_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id      TEXT NOT NULL,
    memory_id    TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS salience_weights (
    user_id       TEXT PRIMARY KEY,
    emotional     REAL NOT NULL,
    novelty       REAL NOT NULL,
    relevance     REAL NOT NULL,
    social        REAL NOT NULL,
    consequential REAL NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS relationship_snapshots (
    user_id          TEXT NOT NULL,
    person           TEXT NOT NULL,
    pattern          TEXT NOT NULL,
    last_interaction TIMESTAMP NOT NULL,
    upcoming_events  TEXT,
    PRIMARY KEY (user_id, person)
);

CREATE TABLE IF NOT EXISTS timeline_commitments (
    user_id     TEXT NOT NULL,
    memory_id   TEXT NOT NULL,
    description TEXT NOT NULL,
    due_date    TIMESTAMP NOT NULL,
    PRIMARY KEY (memory_id, description)
);

CREATE INDEX IF NOT EXISTS idx_commitments_user_due
    ON timeline_commitments(user_id, due_date);
`

// Store wraps a SQLite database shared by all Focal store implementations.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database, configures WAL mode, and applies the schema.
//
// SQLite only supports one concurrent writer. Using a single open connection
// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
// WAL mode lets readers proceed without blocking the writer.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Connections live for the lifetime of the store.

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with SQLITE_BUSY when the single connection is
	// held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying database for store constructors.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
