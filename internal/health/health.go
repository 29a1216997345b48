// Package health serves the worker's operational HTTP surface: GET /health
// reports process uptime and a snapshot of each configured environment's
// counters.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// EnvironmentStatus is one environment's counters as of the last snapshot.
type EnvironmentStatus struct {
	Enabled        bool      `json:"enabled"`
	IsProcessing   bool      `json:"isProcessing"`
	TotalProcessed int64     `json:"totalProcessed"`
	TotalFailed    int64     `json:"totalFailed"`
	LastPoll       time.Time `json:"lastPoll"`
}

// Snapshot is called on every /health request to get a fresh view of each
// environment; callers own the synchronization needed to build it safely.
type Snapshot func() map[string]EnvironmentStatus

// response is the exact JSON shape GET /health returns.
type response struct {
	Status       string                       `json:"status"`
	UptimeSec    float64                      `json:"uptime"`
	Environments map[string]EnvironmentStatus `json:"environments"`
}

// Handler serves GET /health. It is safe for concurrent use.
type Handler struct {
	startedAt time.Time
	snapshot  Snapshot
}

// New creates a Handler that reports uptime since now and calls snapshot on
// every request to populate the environments field.
func New(snapshot Snapshot) *Handler {
	return &Handler{startedAt: time.Now(), snapshot: snapshot}
}

// ServeHTTP writes the health response. The process is always considered
// "ok" if it can serve this handler at all — per-environment trouble is
// visible in the environments map, not the top-level status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := response{
		Status:       "ok",
		UptimeSec:    time.Since(h.startedAt).Seconds(),
		Environments: h.snapshot(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// Register adds the /health route to mux. Any path not registered on mux
// falls through to [http.ServeMux]'s own 404, satisfying the "any other
// path -> 404" contract without a custom not-found handler.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /health", h)
}
