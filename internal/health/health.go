// Package health exposes liveness and readiness probes for the
// service. Readiness gates on dependency checks (store, redis) so a
// replica is only routed traffic once it can actually settle bids.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/anticca/auctiond/internal/clock"
)

const checkTimeout = 5 * time.Second

// Status is the probe response body.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Check is a named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	mu     sync.RWMutex
	ready  bool
	checks []Check
	clock  clock.Clock
}

func NewHandler(clk clock.Clock, checks ...Check) *Handler {
	return &Handler{checks: checks, clock: clk}
}

// SetReady marks the replica ready to receive traffic. Called once
// startup finishes and again with false during shutdown drain.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// LivenessHandler answers 200 whenever the process can serve HTTP.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, Status{Status: "ok"})
	}
}

// ReadinessHandler answers 200 only when the replica is marked ready
// and every dependency check passes.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		h.mu.RUnlock()

		if !ready {
			h.write(w, http.StatusServiceUnavailable, Status{Status: "not_ready"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		results := make(map[string]string, len(h.checks))
		code := http.StatusOK
		status := "ready"
		for _, c := range h.checks {
			if err := c.Probe(ctx); err != nil {
				results[c.Name] = err.Error()
				code = http.StatusServiceUnavailable
				status = "not_ready"
				continue
			}
			results[c.Name] = "ok"
		}

		h.write(w, code, Status{Status: status, Checks: results})
	}
}

func (h *Handler) write(w http.ResponseWriter, code int, s Status) {
	s.Timestamp = h.clock.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(s)
}
