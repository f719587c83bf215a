// Package health exposes liveness and readiness endpoints over HTTP, using
// the same chi router the teacher's API surface is built on. The
// reconciler has no real-time push surface of its own (spec Non-goals); this
// is purely operational plumbing for process supervisors.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Status is the current process health, updated by the engine after every
// cycle.
type Status struct {
	mu           sync.RWMutex
	ready        bool
	lastCycleAt  time.Time
	lastCycleErr string
}

// NewStatus returns a Status that is alive but not yet ready (no cycle has
// completed).
func NewStatus() *Status {
	return &Status{}
}

// MarkCycleComplete records the outcome of a cycle. A nil err marks the
// process ready; a non-nil err leaves readiness as it was, since a single
// failed cycle does not necessarily mean the process can't serve the next
// one.
func (s *Status) MarkCycleComplete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycleAt = time.Now()
	if err != nil {
		s.lastCycleErr = err.Error()
		return
	}
	s.ready = true
	s.lastCycleErr = ""
}

func (s *Status) snapshot() (ready bool, lastCycleAt time.Time, lastErr string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready, s.lastCycleAt, s.lastCycleErr
}

// Router returns a chi.Router serving /healthz and /readyz.
func Router(status *Status) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ready, lastCycleAt, lastErr := status.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ready":          ready,
			"last_cycle_at":  lastCycleAt,
			"last_cycle_err": lastErr,
		})
	})
	return r
}
