package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gitdeps/fetcher/internal/logctx"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is content-addressed file storage rooted at a single directory.
// Artifacts live at their manifest-derived relative paths
// (<remotePath>/<contentHash>); existence plus filesystem stat is the only
// per-entry state. Hidden files at the root (the ledger database and its WAL
// siblings) are reserved and never counted or evicted.
type Store struct {
	root      string
	maxSize   int64
	threshold float64
}

// New creates the root directory if needed and returns a store enforcing the
// given size limit. threshold is the fraction of maxSize the eviction pass
// shrinks the cache down to.
func New(root string, maxSize int64, threshold float64) (*Store, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	return &Store{root: root, maxSize: maxSize, threshold: threshold}, nil
}

func (s *Store) Root() string {
	return s.root
}

// AbsPath resolves a relative cache path against the root.
func (s *Store) AbsPath(relPath string) string {
	return filepath.Join(s.root, relPath)
}

// Locate returns the absolute path of a cached file, or false if absent.
func (s *Store) Locate(relPath string) (string, bool) {
	abs := s.AbsPath(relPath)
	if _, err := os.Stat(abs); err != nil {
		return "", false
	}

	return abs, true
}

// CurrentSize walks the tree and sums file sizes. It deliberately recomputes
// instead of caching so external changes to the directory stay visible.
func (s *Store) CurrentSize() (int64, error) {
	var total int64

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || s.isReserved(path) {
			return nil
		}

		total += info.Size()

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure cache: %w", err)
	}

	return total, nil
}

// Materialize moves the file at tempSource into the cache at relPath,
// evicting first if the cache is over its threshold. Re-materializing an
// existing path is a no-op returning the existing path.
func (s *Store) Materialize(ctx context.Context, tempSource, relPath string) (string, error) {
	abs := s.AbsPath(relPath)
	if _, err := os.Stat(abs); err == nil {
		return abs, nil
	}

	if err := s.EvictIfOverThreshold(ctx); err != nil {
		return "", err
	}

	if err := s.PrepareInsert(ctx, relPath); err != nil {
		return "", err
	}

	if err := moveFile(tempSource, abs); err != nil {
		return "", fmt.Errorf("failed to materialize %s: %w", relPath, err)
	}

	return abs, nil
}

// PrepareInsert creates the parent directories for an entry about to be
// written in place (resumable transfers stream straight to their destination
// rather than through Materialize).
func (s *Store) PrepareInsert(_ context.Context, relPath string) error {
	if err := os.MkdirAll(filepath.Dir(s.AbsPath(relPath)), dirPerm); err != nil {
		return fmt.Errorf("failed to create cache entry directory: %w", err)
	}

	return nil
}

// EvictIfOverThreshold removes whole files, least recently accessed first,
// until usage drops to maxSize * threshold. It runs synchronously before
// insertions; there is no background sweeper.
func (s *Store) EvictIfOverThreshold(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	current, err := s.CurrentSize()
	if err != nil {
		return err
	}

	limit := int64(float64(s.maxSize) * s.threshold)
	if current <= limit {
		return nil
	}

	logger.Info("cache over threshold, evicting",
		"current", humanize.Bytes(uint64(current)),
		"limit", humanize.Bytes(uint64(limit)),
	)

	entries, err := s.entriesByAccessTime()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if current <= limit {
			break
		}

		if err := os.Remove(e.path); err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("failed to evict %s: %w", e.path, err)
		}

		current -= e.size

		logger.Debug("evicted cache entry", "path", e.path, "size", humanize.Bytes(uint64(e.size)))
	}

	return nil
}

type entry struct {
	path     string
	size     int64
	accessed int64
}

func (s *Store) entriesByAccessTime() ([]entry, error) {
	var entries []entry

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || s.isReserved(path) {
			return nil
		}

		entries = append(entries, entry{
			path:     path,
			size:     info.Size(),
			accessed: accessTime(info).UnixNano(),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessed < entries[j].accessed
	})

	return entries, nil
}

// isReserved reports whether path is the ledger database or one of its
// sidecar files, which live hidden at the cache root.
func (s *Store) isReserved(path string) bool {
	if filepath.Dir(path) != filepath.Clean(s.root) {
		return false
	}

	return strings.HasPrefix(filepath.Base(path), ".")
}

// moveFile renames when possible and falls back to copy+remove across
// filesystem boundaries.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(src)
}
