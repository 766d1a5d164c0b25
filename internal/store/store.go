// Package store provides durable persistence: a sqlite-backed job queue and
// account registry, and a redis-backed connection token store.
package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	action        TEXT NOT NULL,
	content       TEXT NOT NULL,
	target_url    TEXT NOT NULL DEFAULT '',
	account_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	post_url      TEXT NOT NULL DEFAULT '',
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	scheduled_at  TIMESTAMP,
	created_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	execution_ms  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	platform    TEXT NOT NULL,
	auth_method TEXT NOT NULL,
	handle      TEXT NOT NULL DEFAULT '',
	payload     BLOB,
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
`

// Open opens (or creates) the sqlite database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return db, nil
}
