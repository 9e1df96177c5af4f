// Package ledger keeps a SQLite history of every record the sensors have
// produced, which of them were published, and where the driver left off.
// Full-text search uses FTS5 when built with the sqlite_fts5 tag.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	sensor   TEXT NOT NULL,
	k        TEXT NOT NULL,
	date     TEXT NOT NULL DEFAULT '',
	caption  TEXT NOT NULL DEFAULT '',
	summary  TEXT NOT NULL DEFAULT '',
	story    TEXT NOT NULL DEFAULT '',
	img      TEXT NOT NULL DEFAULT '',
	origin   TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	seen_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (sensor, k)
);

CREATE INDEX IF NOT EXISTS idx_records_seen ON records(sensor, seen_at);

CREATE TABLE IF NOT EXISTS publications (
	id           TEXT PRIMARY KEY,
	sensor       TEXT NOT NULL,
	k            TEXT NOT NULL,
	post_id      TEXT NOT NULL DEFAULT '',
	post_url     TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(sensor, k)
);

CREATE TABLE IF NOT EXISTS cursors (
	sensor     TEXT PRIMARY KEY,
	last_k     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS announcements (
	sensor       TEXT NOT NULL,
	k            TEXT NOT NULL,
	announced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (sensor, k)
);

CREATE TABLE IF NOT EXISTS buffers (
	sensor   TEXT PRIMARY KEY,
	checksum TEXT NOT NULL
);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
