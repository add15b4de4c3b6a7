// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 while the process runs. /readyz runs every [Checker]
// and answers with one of three states:
//
//	ok        all checks pass                           200
//	degraded  only optional checks fail                 200
//	fail      at least one required check fails         503
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	checkTimeout = 5 * time.Second
	maxParallel  = 8
)

// Report states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker probes one dependency.
type Checker struct {
	// Name keys the result in the report ("storage", "scheduler", "llm").
	Name string

	// Check returns nil when healthy. It must honor ctx.
	Check func(ctx context.Context) error

	// Optional checks only degrade readiness. Speech backends are optional:
	// the app keeps working text-only without them.
	Optional bool
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Report is the /readyz body.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes for a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a handler over a copy of checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Run executes all checks concurrently, each under its own timeout, and
// folds them into a report. A failing check never cancels the others.
func (h *Handler) Run(ctx context.Context) Report {
	var (
		mu  sync.Mutex
		rep = Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
		g   errgroup.Group
	)
	g.SetLimit(maxParallel)
	for _, c := range h.checkers {
		g.Go(func() error {
			res := probe(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			switch {
			case res.Status == StatusOK:
			case c.Optional:
				if rep.Status == StatusOK {
					rep.Status = StatusDegraded
				}
			default:
				rep.Status = StatusFail
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func probe(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	began := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Status: StatusOK, ElapsedMS: time.Since(began).Milliseconds()}
	if err != nil {
		res.Status, res.Error = StatusFail, err.Error()
	}
	return res
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
