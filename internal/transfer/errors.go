package transfer

import "fmt"

// TransportError represents connection-level download failures: dial and TLS
// errors, timeouts, and streams that die mid-body. Always retryable with
// backoff.
type TransportError struct {
	URL string // URL being fetched when the failure occurred
	Err error  // Underlying transport error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedStatusError represents a response status the transfer cannot
// proceed with: non-2xx, or an unsupported reply to a range request.
// Retryable; range requests additionally fall back to a full redownload.
type UnexpectedStatusError struct {
	URL          string
	StatusCode   int
	RangeRequest bool // whether a Range header was sent
}

func (e *UnexpectedStatusError) Error() string {
	if e.RangeRequest {
		return fmt.Sprintf("unexpected status %d for range request to %s", e.StatusCode, e.URL)
	}

	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// SizeMismatchError means a cleanly completed transfer left the wrong number
// of bytes on disk. That points at a manifest/server inconsistency rather
// than a transient fault, so it is terminal for the item.
type SizeMismatchError struct {
	Dest     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Dest, e.Expected, e.Actual)
}

// HashMismatchError means the artifact decompressed cleanly but its payload
// hashes to the wrong value: well-formed, wrong bytes.
type HashMismatchError struct {
	Dest     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.Dest, e.Expected, e.Actual)
}
