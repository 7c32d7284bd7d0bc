package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open opens a *sql.DB for driver ("sqlite" or "postgres") against dsn. The
// pricelistd server links both drivers unconditionally so a single binary
// can run against either store (spec §6's DATABASE_URL scheme selects one).
func Open(driver, dsn string, maxOpenConns, maxIdleConns int) (*sql.DB, error) {
	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "postgres"
	} else {
		sqlDriver = "sqlite3"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	return db, nil
}

// sqliteSchema and postgresSchema create the three tables backing
// Repositories, idempotently. pricelistd has no separate migration runner:
// the schema is small and additive changes are rare enough that a single
// CREATE-IF-NOT-EXISTS pass at startup is sufficient (spec §3's data model
// is closed).
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS uploads (
	id              TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL,
	filename        TEXT NOT NULL,
	company         TEXT NOT NULL,
	year            INTEGER,
	month           INTEGER,
	doc_type        TEXT NOT NULL,
	total_pages     INTEGER NOT NULL DEFAULT 0,
	state           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	current_page    INTEGER NOT NULL DEFAULT 0,
	extract_state   TEXT NOT NULL,
	extract_csv_key TEXT,
	cancelled       BOOLEAN NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_workspace ON uploads(workspace_id);
CREATE INDEX IF NOT EXISTS idx_uploads_comparable ON uploads(workspace_id, company, extract_state);

CREATE TABLE IF NOT EXISTS pages (
	upload_id   TEXT NOT NULL,
	page_num    INTEGER NOT NULL,
	markdown    TEXT,
	state       TEXT NOT NULL,
	error       TEXT,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (upload_id, page_num)
);

CREATE TABLE IF NOT EXISTS schemas (
	id          TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	company     TEXT NOT NULL,
	name        TEXT NOT NULL,
	config      TEXT NOT NULL,
	is_default  BOOLEAN NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schemas_workspace ON schemas(workspace_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS uploads (
	id              TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL,
	filename        TEXT NOT NULL,
	company         TEXT NOT NULL,
	year            INTEGER,
	month           INTEGER,
	doc_type        TEXT NOT NULL,
	total_pages     INTEGER NOT NULL DEFAULT 0,
	state           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	current_page    INTEGER NOT NULL DEFAULT 0,
	extract_state   TEXT NOT NULL,
	extract_csv_key TEXT,
	cancelled       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_workspace ON uploads(workspace_id);
CREATE INDEX IF NOT EXISTS idx_uploads_comparable ON uploads(workspace_id, company, extract_state);

CREATE TABLE IF NOT EXISTS pages (
	upload_id   TEXT NOT NULL,
	page_num    INTEGER NOT NULL,
	markdown    TEXT,
	state       TEXT NOT NULL,
	error       TEXT,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (upload_id, page_num)
);

CREATE TABLE IF NOT EXISTS schemas (
	id          TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	company     TEXT NOT NULL,
	name        TEXT NOT NULL,
	config      TEXT NOT NULL,
	is_default  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schemas_workspace ON schemas(workspace_id);
`

// Migrate creates the schema for driver if it does not already exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	schema := sqliteSchema
	if driver == "postgres" {
		schema = postgresSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", driver, err)
	}
	return nil
}
