package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the ledger database and creates the schema if it doesn't
// exist. WAL journaling lets workers read while another worker's write
// transaction is in flight; the busy timeout serializes conflicting writes
// to the same path instead of failing them.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS verified_files (
		file_path TEXT PRIMARY KEY,
		file_size INTEGER NOT NULL,
		modified_time REAL NOT NULL,
		expected_hash TEXT NOT NULL,
		verified_at TEXT NOT NULL,
		verification_status TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create verified_files table: %w", err)
	}

	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_verified_at
		ON verified_files(verified_at)`); err != nil {
		return nil, err
	}

	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_verification_status
		ON verified_files(verification_status)`); err != nil {
		return nil, err
	}

	return db, nil
}
