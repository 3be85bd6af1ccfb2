package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, root, rel string, size int) string {
	t.Helper()

	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, make([]byte, size), 0o644))

	return abs
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, 1<<20, 0.9)
	require.NoError(t, err)

	_, ok := store.Locate("pkg/abc123")
	assert.False(t, ok)

	writeEntry(t, root, "pkg/abc123", 10)

	path, ok := store.Locate("pkg/abc123")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "pkg", "abc123"), path)
}

func TestMaterialize_Idempotent(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, 1<<20, 0.9)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "tmp-download")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	got, err := store.Materialize(context.Background(), src, "pkg/abc123")
	require.NoError(t, err)

	content, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	// temp source is consumed
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	// re-materializing an existing path is a no-op returning the same path
	again, err := store.Materialize(context.Background(), "does-not-exist", "pkg/abc123")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestCurrentSize_SkipsReservedFiles(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, 1<<20, 0.9)
	require.NoError(t, err)

	writeEntry(t, root, "pkg/a", 100)
	writeEntry(t, root, "pkg/sub/b", 50)
	writeEntry(t, root, ".verification.db", 4096)
	writeEntry(t, root, ".verification.db-wal", 512)

	size, err := store.CurrentSize()
	require.NoError(t, err)
	assert.Equal(t, int64(150), size)
}

func TestEvictIfOverThreshold_NoopUnderThreshold(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, 1000, 0.9)
	require.NoError(t, err)

	writeEntry(t, root, "pkg/a", 400)

	require.NoError(t, store.EvictIfOverThreshold(context.Background()))

	_, ok := store.Locate("pkg/a")
	assert.True(t, ok)
}

func TestEvictIfOverThreshold_RemovesOldestAccessedFirst(t *testing.T) {
	root := t.TempDir()

	// 950 bytes used, 1000 max, 90% threshold: evict down to <= 900.
	store, err := New(root, 1000, 0.9)
	require.NoError(t, err)

	old := writeEntry(t, root, "pkg/old", 400)
	mid := writeEntry(t, root, "pkg/mid", 300)
	recent := writeEntry(t, root, "pkg/recent", 250)

	now := time.Now()
	require.NoError(t, os.Chtimes(old, now.Add(-3*time.Hour), now.Add(-3*time.Hour)))
	require.NoError(t, os.Chtimes(mid, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(recent, now.Add(-1*time.Hour), now.Add(-1*time.Hour)))

	require.NoError(t, store.EvictIfOverThreshold(context.Background()))

	// Removing the oldest 400-byte file is enough to reach 550 <= 900.
	_, ok := store.Locate("pkg/old")
	assert.False(t, ok, "least recently accessed file should be evicted")

	_, ok = store.Locate("pkg/mid")
	assert.True(t, ok)

	_, ok = store.Locate("pkg/recent")
	assert.True(t, ok)
}

func TestEvictIfOverThreshold_NeverRemovesReservedFiles(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, 100, 0.5)
	require.NoError(t, err)

	writeEntry(t, root, ".verification.db", 4096)
	entry := writeEntry(t, root, "pkg/a", 200)

	require.NoError(t, store.EvictIfOverThreshold(context.Background()))

	_, err = os.Stat(filepath.Join(root, ".verification.db"))
	assert.NoError(t, err, "ledger database must survive eviction")

	_, err = os.Stat(entry)
	assert.True(t, os.IsNotExist(err))
}
