// Package health serves the liveness and readiness probes of the analysis
// server plus the dashboard status endpoint.
//
//   - /healthz: liveness; always 200 OK.
//   - /readyz: readiness; 200 only when every [Checker] passes.
//   - /api/health: dashboard status, {"status":"ready","model":"loaded"}
//     once the detector is usable.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named health check. Check returns nil when the dependency is
// healthy.
type Checker struct {
	// Name labels the check in the JSON response ("model", "history").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by stores that can verify their backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LabelSource is implemented by loaded classifiers.
type LabelSource interface {
	Labels() []string
}

// PingCheck returns a [Checker] that pings p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ModelCheck returns a [Checker] named "model" that fails until src is set
// and reports at least one class label.
func ModelCheck(src LabelSource) Checker {
	return Checker{Name: "model", Check: func(context.Context) error {
		if src == nil {
			return errors.New("detector not loaded")
		}
		if len(src.Labels()) == 0 {
			return errors.New("detector has no labels")
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// apiStatus is the /api/health body the dashboard polls.
type apiStatus struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.run(r.Context())
	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// APIStatus reports whether the server can analyse calls. It answers 503
// with {"status":"loading"} while any checker fails.
func (h *Handler) APIStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.run(r.Context()); !ok {
		writeJSON(w, http.StatusServiceUnavailable, apiStatus{Status: "loading", Model: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, apiStatus{Status: "ready", Model: "loaded"})
}

func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks, allOK
}

// Register adds the probe routes and /api/health to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /api/health", h.APIStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
