// Package sqlite provides SQLite-backed implementations of outbound ports.
// The store relies on conditional UPDATE/DELETE statements for sweeps and
// on version-guarded UPDATEs for workflow transitions, so correctness does
// not depend on in-process locking and survives multiple server instances
// sharing the file.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	credential_id TEXT NOT NULL,
	conn_type     TEXT NOT NULL,
	client_ip     TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	last_activity INTEGER NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_credential ON sessions(credential_id, active);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(active, last_activity);

CREATE TABLE IF NOT EXISTS exception_requests (
	id               TEXT PRIMARY KEY,
	vulnerability_id TEXT NOT NULL,
	requester_id     TEXT NOT NULL,
	justification    TEXT NOT NULL,
	scope            TEXT NOT NULL,
	expires_at       INTEGER NOT NULL,
	status           TEXT NOT NULL,
	auto_approved    INTEGER NOT NULL DEFAULT 0,
	reviewed_by      TEXT NOT NULL DEFAULT '',
	review_comment   TEXT NOT NULL DEFAULT '',
	reviewed_at      INTEGER,
	version          INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_subject ON exception_requests(vulnerability_id, requester_id, status);

CREATE TABLE IF NOT EXISTS exception_grants (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL UNIQUE,
	vulnerability_id TEXT NOT NULL,
	scope            TEXT NOT NULL,
	granted_by       TEXT NOT NULL,
	expires_at       INTEGER NOT NULL,
	created_at       INTEGER NOT NULL
);
`

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent transitions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return db, nil
}
