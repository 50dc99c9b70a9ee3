// Package db keeps a local SQLite history of connector runs and XML uploads.
package db

import "fmt"

// Schema defines the SQL statements to create database tables.
const Schema = `
-- One row per processed input item
CREATE TABLE IF NOT EXISTS operation_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,              -- UUID shared by the items of one run
    item_index INTEGER NOT NULL,
    division TEXT NOT NULL,
    service TEXT NOT NULL,
    resource TEXT NOT NULL,
    operation TEXT NOT NULL,           -- get, getAll, post, ...
    status TEXT NOT NULL,              -- 'success' or 'error'
    error_kind TEXT,                   -- configuration, transport, validation, reconciliation
    error_message TEXT,
    record_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(run_id, item_index)
);

CREATE INDEX IF NOT EXISTS idx_operation_history_run
    ON operation_history(run_id);

CREATE INDEX IF NOT EXISTS idx_operation_history_endpoint
    ON operation_history(service, resource);

-- Match set uploads to the XML endpoint
CREATE TABLE IF NOT EXISTS reconciliation_uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    item_index INTEGER NOT NULL,
    division TEXT NOT NULL,
    topic TEXT NOT NULL,
    payload_hash TEXT NOT NULL,        -- sha256 of the uploaded XML
    match_sets INTEGER NOT NULL,
    acknowledged INTEGER NOT NULL,
    error_messages INTEGER NOT NULL,
    accepted INTEGER NOT NULL,         -- 1 when every set was acknowledged
    response TEXT,
    uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_reconciliation_uploads_hash
    ON reconciliation_uploads(division, payload_hash);

-- Key-value metadata, e.g. the last division used
CREATE TABLE IF NOT EXISTS connector_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

// InitializeSchema creates all tables if they don't exist and stamps the
// schema version. A database written by a newer version is refused.
func InitializeSchema(conn *Connection) error {
	if err := checkSchemaVersion(conn); err != nil {
		return err
	}
	if _, err := conn.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := conn.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func schemaVersion(conn *Connection) (int, error) {
	var v int
	if err := conn.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func checkSchemaVersion(conn *Connection) error {
	v, err := schemaVersion(conn)
	if err != nil {
		return err
	}
	if v > SchemaVersion {
		return fmt.Errorf("history database has schema version %d, this build supports %d", v, SchemaVersion)
	}
	return nil
}
