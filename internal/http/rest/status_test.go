package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gitdeps/fetcher/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	stats *storage.Statistics
	err   error
}

func (s *stubLedger) NeedsVerification(string, string) bool { return false }

func (s *stubLedger) Upsert(string, string, storage.Status) {}

func (s *stubLedger) Statistics() (*storage.Statistics, error) { return s.stats, s.err }

func (s *stubLedger) Flush() error { return nil }

func TestHealthz(t *testing.T) {
	h := NewStatusHandler(&stubLedger{stats: &storage.Statistics{}}, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStats(t *testing.T) {
	ledger := &stubLedger{stats: &storage.Statistics{
		TotalRecords: 42,
		StatusCounts: map[storage.Status]int64{
			storage.StatusValid:   40,
			storage.StatusCorrupt: 2,
		},
		VerifiedToday: 7,
		StorageBytes:  12288,
	}}

	tally := func() (int, int, int) { return 10, 9, 20 }

	h := NewStatusHandler(ledger, tally, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 10, resp.Completed)
	assert.Equal(t, 9, resp.Succeeded)
	assert.Equal(t, 20, resp.Total)
	assert.Equal(t, int64(42), resp.TotalRecords)
	assert.Equal(t, int64(40), resp.StatusCounts[storage.StatusValid])
	assert.Equal(t, int64(7), resp.VerifiedToday)
	assert.Equal(t, int64(12288), resp.StorageBytes)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
}

func TestStats_NoTally(t *testing.T) {
	h := NewStatusHandler(&stubLedger{stats: &storage.Statistics{}}, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Total)
}

func TestStats_LedgerError(t *testing.T) {
	h := NewStatusHandler(&stubLedger{err: errors.New("database locked")}, nil, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRoutes_MetricsOnlyWhenConfigured(t *testing.T) {
	without := NewStatusHandler(&stubLedger{stats: &storage.Statistics{}}, nil, nil)

	rec := httptest.NewRecorder()
	without.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})

	with := NewStatusHandler(&stubLedger{stats: &storage.Statistics{}}, nil, metrics)

	rec = httptest.NewRecorder()
	with.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}
