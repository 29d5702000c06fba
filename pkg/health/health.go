// Package health runs dependency checks concurrently. The CLI uses it as a
// preflight gate before a run and mounts its handlers next to /metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes a single dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// PingCheck adapts a ping-style function into a Check. Optional dependencies
// report degraded instead of down when the ping fails.
func PingCheck(ping func(ctx context.Context) error, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			st := StatusDown
			if optional {
				st = StatusDegraded
			}
			return ComponentHealth{Status: st, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

type Checker struct {
	checks map[string]Check
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named health check, replacing any with the same name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all registered checks concurrently. The overall status is the
// worst status among all components.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	type result struct {
		name string
		ComponentHealth
	}
	results := make(chan result, len(checks))
	for name, check := range checks {
		name, check := name, check // per-iteration copies (go.mod targets go 1.21)
		go func() {
			start := time.Now()
			h := check(ctx)
			h.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- result{name, h}
		}()
	}

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for range checks {
		r := <-results
		report.Components[r.name] = r.ComponentHealth
		report.Status = worse(report.Status, r.Status)
	}
	return report
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusDown:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Preflight runs every check within timeout and fails if any component is
// down. Degraded components are logged and tolerated.
func (c *Checker) Preflight(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	report := c.Run(ctx)

	var down []string
	for name, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			down = append(down, fmt.Sprintf("%s: %s", name, comp.Message))
		case StatusDegraded:
			c.logger.Warn("dependency degraded", "dependency", name, "message", comp.Message)
		}
	}
	if len(down) > 0 {
		sort.Strings(down)
		return fmt.Errorf("preflight failed: %s", strings.Join(down, "; "))
	}
	c.logger.Info("preflight passed", "components", len(report.Components))
	return nil
}

// LiveHandler always reports alive while the process serves HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs the checks and answers 503 when any component is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing health response failed", "error", err)
	}
}
