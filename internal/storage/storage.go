package storage

// Status is the last known verification outcome for a cached file.
type Status string

const (
	StatusValid        Status = "VALID"
	StatusCorrupt      Status = "CORRUPT"
	StatusHashMismatch Status = "HASH_MISMATCH"
)

// VerificationRecord is the persisted verification metadata for one cached
// file, keyed by its path relative to the cache root. A path has at most one
// record; updates replace the previous record.
type VerificationRecord struct {
	Path         string
	Size         int64
	ModifiedTime float64
	ExpectedHash string
	VerifiedAt   string
	Status       Status
}

// Statistics summarizes the ledger for the operator-facing report.
type Statistics struct {
	TotalRecords  int64
	StatusCounts  map[Status]int64
	VerifiedToday int64
	StorageBytes  int64
}

// VerificationLedger tracks per-file verification outcomes across runs.
//
// NeedsVerification and Upsert never fail the caller: on storage errors they
// log and fall back to "verification needed" so a broken ledger can only cost
// redundant work, never skip a corrupt file.
type VerificationLedger interface {
	NeedsVerification(relPath, expectedHash string) bool
	Upsert(relPath, expectedHash string, status Status)
	Statistics() (*Statistics, error)
	Flush() error
}
