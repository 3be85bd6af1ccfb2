package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/gitdeps/fetcher/internal/cache"
	"github.com/gitdeps/fetcher/internal/downloader/progress"
	"github.com/gitdeps/fetcher/internal/logctx"
	"github.com/gitdeps/fetcher/internal/storage"
	"github.com/gitdeps/fetcher/internal/verify"
)

const (
	filePerm = 0o644

	// progressLogInterval is how many bytes pass between download progress
	// log lines.
	progressLogInterval = int64(64 * 1024 * 1024)
)

// errRangeRejected signals that the server would not honor a byte-range
// request; the partial file is discarded and the transfer restarts from
// offset 0 without consuming a retry attempt.
var errRangeRejected = errors.New("transfer: server rejected range request")

// Result is the terminal outcome of driving one item through the machine.
type Result struct {
	Item     Item
	State    State // StateValid or StateError
	Attempts int   // retry attempts consumed
	Bytes    int64 // bytes actually transferred over the network
	Err      error // terminal error when State is StateError
}

func (r *Result) OK() bool {
	return r.State == StateValid
}

// Machine drives a single item through inspect, transfer, verify and persist.
// It consults the verification ledger to skip work, resumes partial files via
// byte-range requests, and streams response bodies to disk in fixed-size
// chunks. One Machine is shared by all workers; Run holds no mutable state
// between calls.
type Machine struct {
	client     *http.Client
	store      *cache.Store
	ledger     storage.VerificationLedger
	maxRetries int
	chunkSize  int

	// newBackOff builds the per-item retry delay source. The default yields
	// 1s, 2s, 4s... between attempts.
	newBackOff func() backoff.BackOff
}

func NewMachine(client *http.Client, store *cache.Store, ledger storage.VerificationLedger, maxRetries, chunkSize int) *Machine {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	if chunkSize <= 0 {
		chunkSize = 8192
	}

	return &Machine{
		client:     client,
		store:      store,
		ledger:     ledger,
		maxRetries: maxRetries,
		chunkSize:  chunkSize,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Minute

	return bo
}

// Run processes one item to a terminal state. Per-item failures are contained
// in the Result; Run itself never panics the batch.
func (m *Machine) Run(ctx context.Context, item Item) *Result {
	logger := logctx.LoggerFromContext(ctx).With("url", item.URL, "dest", item.Dest)
	res := &Result{Item: item}

	state, offset := m.inspect(ctx, item)
	if state == StateValid {
		logger.Debug("cached file already valid, skipping download")

		res.State = StateValid

		return res
	}

	if state != StateResume {
		// Inline eviction before any insertion that could grow the cache.
		if err := m.store.EvictIfOverThreshold(ctx); err != nil {
			logger.Warn("cache eviction failed, continuing", "err", err)
		}

		if err := m.store.PrepareInsert(ctx, item.Dest); err != nil {
			res.State = StateError
			res.Err = err

			return res
		}
	}

	bo := m.newBackOff()

	for {
		if err := ctx.Err(); err != nil {
			res.State = StateError
			res.Err = err

			return res
		}

		logger.Debug("starting transfer", "state", state.String(), "offset", offset, "attempt", res.Attempts)

		n, err := m.download(ctx, item, offset)
		res.Bytes += n

		if err != nil {
			if errors.Is(err, errRangeRejected) {
				logger.Warn("server rejected range request, restarting from offset 0")

				_ = os.Remove(m.store.AbsPath(item.Dest))

				offset = 0
				state = StateRedownload

				continue
			}

			if ctx.Err() != nil {
				res.State = StateError
				res.Err = ctx.Err()

				return res
			}

			res.Attempts++

			if res.Attempts >= m.maxRetries {
				// Leave the partial file in place; the next run picks it up
				// as a resume candidate.
				logger.Error("retries exhausted", "attempts", res.Attempts, "err", err)

				res.State = StateError
				res.Err = err

				return res
			}

			logger.Warn("transfer failed, will retry", "attempt", res.Attempts, "err", err)

			if werr := m.waitRetry(ctx, bo); werr != nil {
				res.State = StateError
				res.Err = werr

				return res
			}

			// Recompute the resume offset from the file actually on disk.
			offset = m.diskSize(item)
			if offset > 0 {
				state = StateResume
			} else {
				state = StateRedownload
			}

			continue
		}

		if size := m.diskSize(item); size != item.Size {
			// A clean transfer that still has the wrong size points at a
			// manifest/server inconsistency, not a transient fault.
			res.State = StateError
			res.Err = &SizeMismatchError{Dest: item.Dest, Expected: item.Size, Actual: size}

			return res
		}

		logger.Debug("transfer complete, verifying", "state", StateVerifying.String())

		outcome, sum := m.verifyAndRecord(ctx, item)
		if outcome == StateValid {
			res.State = StateValid

			return res
		}

		// CORRUPT or HASH_MISMATCH: the ledger record is already written;
		// discard the bad file and redownload under the same retry budget.
		_ = os.Remove(m.store.AbsPath(item.Dest))

		res.Attempts++

		if res.Attempts >= m.maxRetries {
			res.State = StateError
			res.Err = m.verifyFailure(item, outcome, sum)

			logger.Error("verification retries exhausted", "outcome", outcome.String(), "err", res.Err)

			return res
		}

		logger.Warn("verification failed, redownloading", "outcome", outcome.String(), "attempt", res.Attempts)

		offset = 0
		state = StateRedownload
	}
}

// inspect decides the starting state before any network call.
func (m *Machine) inspect(ctx context.Context, item Item) (State, int64) {
	logger := logctx.LoggerFromContext(ctx)

	abs := m.store.AbsPath(item.Dest)

	fi, err := os.Stat(abs)
	if err != nil {
		return StateNew, 0
	}

	switch {
	case fi.Size() > item.Size:
		// Larger than expected cannot be a valid partial.
		logger.Warn("local file larger than expected, discarding", "dest", item.Dest,
			"size", fi.Size(), "expected", item.Size)

		_ = os.Remove(abs)

		return StateRedownload, 0
	case fi.Size() == item.Size:
		if !m.ledger.NeedsVerification(item.Dest, item.Hash) {
			return StateValid, 0
		}

		if st, _ := m.verifyAndRecord(ctx, item); st == StateValid {
			return StateValid, 0
		}

		_ = os.Remove(abs)

		return StateRedownload, 0
	default:
		return StateResume, fi.Size()
	}
}

// verifyAndRecord hashes the on-disk artifact and persists the outcome. It
// also returns the computed hash so terminal errors can name both sides.
// The record is written before the caller deletes anything so it reflects
// the file that was actually inspected.
func (m *Machine) verifyAndRecord(ctx context.Context, item Item) (State, string) {
	logger := logctx.LoggerFromContext(ctx).With("dest", item.Dest)

	sum, err := verify.FileHash(m.store.AbsPath(item.Dest), item.Size, verifyObserver(logger))
	if err != nil {
		logger.Warn("artifact failed to decompress", "err", err)

		m.ledger.Upsert(item.Dest, item.Hash, storage.StatusCorrupt)

		return StateCorrupt, ""
	}

	if sum != item.Hash {
		logger.Warn("artifact hash mismatch", "expected", item.Hash, "actual", sum)

		m.ledger.Upsert(item.Dest, item.Hash, storage.StatusHashMismatch)

		return StateHashMismatch, sum
	}

	m.ledger.Upsert(item.Dest, item.Hash, storage.StatusValid)

	return StateValid, sum
}

func (m *Machine) verifyFailure(item Item, outcome State, actual string) error {
	if outcome == StateCorrupt {
		return fmt.Errorf("artifact %s: %w", item.Dest, verify.ErrInvalidStream)
	}

	return &HashMismatchError{Dest: item.Dest, Expected: item.Hash, Actual: actual}
}

// download issues one GET and streams the body to disk, appending when
// resuming. It returns the number of bytes written.
func (m *Machine) download(ctx context.Context, item Item, offset int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return 0, &TransportError{URL: item.URL, Err: err}
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, &TransportError{URL: item.URL, Err: err}
	}
	defer resp.Body.Close()

	if offset > 0 {
		switch resp.StatusCode {
		case http.StatusPartialContent:
			// append below
		case http.StatusOK, http.StatusRequestedRangeNotSatisfiable:
			return 0, errRangeRejected
		default:
			return 0, &UnexpectedStatusError{URL: item.URL, StatusCode: resp.StatusCode, RangeRequest: true}
		}
	} else if resp.StatusCode != http.StatusOK {
		return 0, &UnexpectedStatusError{URL: item.URL, StatusCode: resp.StatusCode}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	out, err := os.OpenFile(m.store.AbsPath(item.Dest), flags, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to open destination file: %w", err)
	}

	remaining := item.Size - offset
	pr := progress.NewReader(resp.Body, remaining, progressLogInterval, func(read, total int64) {
		logger.Debug("download progress",
			"url", item.URL,
			"downloaded", humanize.Bytes(uint64(read)),
			"remaining_total", humanize.Bytes(uint64(total)),
		)
	})

	written, copyErr := io.CopyBuffer(out, pr, make([]byte, m.chunkSize))

	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = err
	}

	if copyErr != nil {
		return written, &TransportError{URL: item.URL, Err: copyErr}
	}

	return written, nil
}

// waitRetry sleeps out the next backoff interval, honoring cancellation.
func (m *Machine) waitRetry(ctx context.Context, bo backoff.BackOff) error {
	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		return errors.New("transfer: retry budget exhausted")
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Machine) diskSize(item Item) int64 {
	fi, err := os.Stat(m.store.AbsPath(item.Dest))
	if err != nil {
		return 0
	}

	return fi.Size()
}

// verifyObserver logs verification progress at coarse steps.
func verifyObserver(logger *slog.Logger) verify.Observer {
	var lastQuarter [2]int

	return func(phase verify.Phase, f float64) {
		q := int(f * 4)
		if q <= lastQuarter[phase] || q == 0 {
			return
		}

		lastQuarter[phase] = q

		name := "decompress"
		if phase == verify.PhaseHash {
			name = "hash"
		}

		logger.Debug("verification progress", "phase", name, "fraction", f)
	}
}
