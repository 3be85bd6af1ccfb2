package sqlite

import (
	"database/sql"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gitdeps/fetcher/internal/storage"
)

// mtimes are compared with a small tolerance to absorb filesystem rounding.
const mtimeTolerance = 0.001

// timeLayout pads fractional seconds to a fixed width so stored timestamps
// compare correctly as strings; RFC3339Nano trims trailing zeros, which breaks
// lexicographic ordering around whole seconds.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// VerificationRepository is the SQLite-backed verification ledger. It is safe
// for concurrent use from multiple workers; database/sql hands each caller its
// own pooled connection.
type VerificationRepository struct {
	db          *sql.DB
	baseDir     string
	dbPath      string
	forceVerify bool
	logger      *slog.Logger
}

func NewVerificationRepository(db *sql.DB, baseDir, dbPath string, forceVerify bool, logger *slog.Logger) *VerificationRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &VerificationRepository{
		db:          db,
		baseDir:     baseDir,
		dbPath:      dbPath,
		forceVerify: forceVerify,
		logger:      logger,
	}
}

// NeedsVerification reports whether the file at relPath must be re-hashed.
// It returns false only when a VALID record exists whose expected hash, size
// and modification time still match the live file. Any ledger error is
// fail-open: log and verify.
func (r *VerificationRepository) NeedsVerification(relPath, expectedHash string) bool {
	if r.forceVerify {
		return true
	}

	fi, err := os.Stat(filepath.Join(r.baseDir, relPath))
	if err != nil {
		return true
	}

	var (
		size   int64
		mtime  float64
		hash   string
		status string
	)

	row := r.db.QueryRow(`SELECT file_size, modified_time, expected_hash, verification_status
		FROM verified_files WHERE file_path = ?`, relPath)

	if err := row.Scan(&size, &mtime, &hash, &status); err != nil {
		if err != sql.ErrNoRows {
			r.logger.Warn("could not read verification record, verifying to be safe", "file_path", relPath, "err", err)
		}

		return true
	}

	if hash != expectedHash {
		return true
	}

	if size != fi.Size() {
		return true
	}

	if math.Abs(mtime-unixFloat(fi.ModTime())) > mtimeTolerance {
		return true
	}

	return storage.Status(status) != storage.StatusValid
}

// Upsert replaces the record for relPath with a fresh one reflecting the
// current on-disk stat and the given outcome. Storage errors are logged and
// swallowed: a missing record just means the next run verifies again.
func (r *VerificationRepository) Upsert(relPath, expectedHash string, status storage.Status) {
	fi, err := os.Stat(filepath.Join(r.baseDir, relPath))
	if err != nil {
		r.logger.Warn("could not stat file for verification record", "file_path", relPath, "err", err)

		return
	}

	_, err = r.db.Exec(`INSERT OR REPLACE INTO verified_files
		(file_path, file_size, modified_time, expected_hash, verified_at, verification_status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		relPath,
		fi.Size(),
		unixFloat(fi.ModTime()),
		expectedHash,
		time.Now().Format(timeLayout),
		string(status),
	)
	if err != nil {
		r.logger.Warn("could not update verification record", "file_path", relPath, "err", err)
	}
}

// Statistics reports ledger totals for the operator report.
func (r *VerificationRepository) Statistics() (*storage.Statistics, error) {
	stats := &storage.Statistics{StatusCounts: make(map[storage.Status]int64)}

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM verified_files`).Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT verification_status, COUNT(*)
		FROM verified_files GROUP BY verification_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		stats.StatusCounts[storage.Status(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM verified_files WHERE verified_at > ?`,
		midnight.Format(timeLayout)).Scan(&stats.VerifiedToday); err != nil {
		return nil, err
	}

	if fi, err := os.Stat(r.dbPath); err == nil {
		stats.StorageBytes = fi.Size()
	}

	return stats, nil
}

// Flush checkpoints the write-ahead log so every buffered write reaches the
// main database file. Safe to call repeatedly and from the shutdown path.
func (r *VerificationRepository) Flush() error {
	_, err := r.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)

	return err
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
