// Package store implements the SQL persistence layer: serial allocation,
// QSA identifier counters, element configuration, batch/module rows, SKU
// mappings, operator accounts, and the audit log.
//
// Each store owns its tables exclusively; cross-component reads go through
// the owning store's methods. All stores share one *sql.DB.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens (and migrates) the SQLite database at path.
//
// The DSN requests immediate transactions so that write transactions take the
// database write lock up front; together with a single pooled connection this
// serializes reservers the way SELECT ... FOR UPDATE would on a server RDBMS.
// The deployment assumes a single writer process.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS serials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial_integer INTEGER NOT NULL UNIQUE,
			serial_number TEXT NOT NULL UNIQUE,
			batch_id INTEGER NOT NULL,
			module_sku TEXT NOT NULL DEFAULT '',
			qsa_sequence INTEGER NOT NULL,
			array_position INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'reserved',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			engraved_at TEXT,
			voided_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_serials_row
			ON serials(batch_id, qsa_sequence, status)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			module_count INTEGER NOT NULL DEFAULT 0,
			row_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'in_progress',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS modules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id INTEGER NOT NULL,
			production_batch_id TEXT NOT NULL DEFAULT '',
			module_sku TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			serial_number TEXT,
			qsa_sequence INTEGER NOT NULL,
			original_qsa_sequence INTEGER NOT NULL,
			array_position INTEGER NOT NULL,
			row_status TEXT NOT NULL DEFAULT 'pending',
			engraved_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_modules_row
			ON modules(batch_id, qsa_sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_modules_original_row
			ON modules(batch_id, original_qsa_sequence)`,
		`CREATE TABLE IF NOT EXISTS identifiers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			qsa_id TEXT NOT NULL UNIQUE,
			design TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			batch_id INTEGER NOT NULL,
			qsa_sequence INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(design, sequence_number),
			UNIQUE(batch_id, qsa_sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS design_sequences (
			design TEXT PRIMARY KEY,
			current_sequence INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS config_elements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			design TEXT NOT NULL,
			revision TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			element_type TEXT NOT NULL,
			origin_x REAL NOT NULL,
			origin_y REAL NOT NULL,
			rotation REAL NOT NULL DEFAULT 0,
			text_height REAL,
			element_size REAL,
			is_active INTEGER NOT NULL DEFAULT 1,
			UNIQUE(design, revision, position, element_type)
		)`,
		`CREATE TABLE IF NOT EXISTS sku_mappings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			legacy_pattern TEXT NOT NULL,
			match_type TEXT NOT NULL,
			canonical_code TEXT NOT NULL,
			revision TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 100,
			is_active INTEGER NOT NULL DEFAULT 1,
			UNIQUE(legacy_pattern, match_type)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'operator',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL DEFAULT 'system',
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_modules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			production_batch_id TEXT NOT NULL,
			module_sku TEXT NOT NULL,
			order_id TEXT NOT NULL,
			qty INTEGER NOT NULL,
			led_codes TEXT NOT NULL DEFAULT '',
			engraved INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, t)
		}
	}
	return nil
}

// timeFormat is the canonical timestamp encoding in all tables.
const timeFormat = "2006-01-02 15:04:05"

func now() string { return time.Now().UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
