package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gitdeps/fetcher/internal/logctx"
	"github.com/gitdeps/fetcher/internal/storage"
)

// Tally reports the batch's running progress.
type Tally func() (completed, succeeded, total int)

// StatusHandler serves operator-facing read-only endpoints for the duration
// of a batch: ledger statistics, batch progress and the metrics scrape
// endpoint.
type StatusHandler struct {
	ledger  storage.VerificationLedger
	tally   Tally
	metrics http.Handler
	started time.Time
}

func NewStatusHandler(ledger storage.VerificationLedger, tally Tally, metrics http.Handler) *StatusHandler {
	return &StatusHandler{
		ledger:  ledger,
		tally:   tally,
		metrics: metrics,
		started: time.Now(),
	}
}

func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Get("/stats", h.stats)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

func (h *StatusHandler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statsResponse struct {
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Completed     int                      `json:"completed"`
	Succeeded     int                      `json:"succeeded"`
	Total         int                      `json:"total"`
	TotalRecords  int64                    `json:"total_records"`
	StatusCounts  map[storage.Status]int64 `json:"status_counts"`
	VerifiedToday int64                    `json:"verified_today"`
	StorageBytes  int64                    `json:"ledger_size_bytes"`
}

func (h *StatusHandler) stats(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	resp := statsResponse{UptimeSeconds: time.Since(h.started).Seconds()}

	if h.tally != nil {
		resp.Completed, resp.Succeeded, resp.Total = h.tally()
	}

	stats, err := h.ledger.Statistics()
	if err != nil {
		logger.Error("failed to read ledger statistics", "err", err)
		http.Error(w, "ledger statistics unavailable", http.StatusInternalServerError)

		return
	}

	resp.TotalRecords = stats.TotalRecords
	resp.StatusCounts = stats.StatusCounts
	resp.VerifiedToday = stats.VerifiedToday
	resp.StorageBytes = stats.StorageBytes

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode stats response", "err", err)
	}
}
