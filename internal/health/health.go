// Package health reports whether the controller can reach its daemons.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"grimm.is/foldwatch/internal/clock"
	"grimm.is/foldwatch/internal/dispatch"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTTL is how long a report is reused.
const DefaultTTL = 5 * time.Second

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
	ttl    time.Duration
	clock  clock.Clock
}

// NewChecker creates a health checker with no checks. A zero ttl disables
// report caching.
func NewChecker(clk clock.Clock, ttl time.Duration) *Checker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    ttl,
		clock:  clk,
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// Names lists the registered checks.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all health checks and returns a report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && c.clock.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	checkFuncs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checkFuncs[name] = fn
	}
	c.mu.RUnlock()

	checks := make(map[string]Check, len(checkFuncs))
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range checkFuncs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := c.clock.Now()
			check := fn(ctx)
			check.Name = name
			if check.LastChecked.IsZero() {
				check.LastChecked = start
			}
			check.Duration = c.clock.Since(start)

			mu.Lock()
			defer mu.Unlock()
			checks[name] = check
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
			} else if check.Status == StatusDegraded && overallStatus != StatusUnhealthy {
				overallStatus = StatusDegraded
			}
		}()
	}
	wg.Wait()

	report := Report{
		Status:    overallStatus,
		Checks:    checks,
		Timestamp: c.clock.Now(),
	}

	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()

	return report
}

// Handler returns an HTTP handler serving the full report.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler returns a simple liveness probe handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// ReadinessHandler is ready when no check is unhealthy.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := c.Check(ctx)

		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	}
}

// TargetStatus reports the state of one configured target.
type TargetStatus interface {
	Status(id string) (dispatch.Status, error)
}

// RegisterTargets adds one check per enabled target, named "target:<id>".
func (c *Checker) RegisterTargets(src TargetStatus, targets []dispatch.TargetSpec) {
	for _, t := range targets {
		if !t.Enabled {
			continue
		}
		c.Register("target:"+t.ID, TargetCheck(src, t.ID))
	}
}

// TargetCheck maps a target's connection state onto a health status.
// Connections are opened on demand, so an idle target that has never
// failed is only degraded.
func TargetCheck(src TargetStatus, id string) CheckFunc {
	return func(ctx context.Context) Check {
		st, err := src.Status(id)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}

		switch st.State {
		case dispatch.StateConnected:
			if st.HasDocument {
				return Check{Status: StatusHealthy, Message: "connected"}
			}
			return Check{Status: StatusDegraded, Message: "connected, no state yet"}
		case dispatch.StateDisabled:
			return Check{Status: StatusHealthy, Message: "disabled"}
		}

		if st.Reason != "" {
			return Check{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s (%s)", st.Reason, st.LastFailure.Format(time.RFC3339)),
			}
		}
		return Check{Status: StatusDegraded, Message: "not connected"}
	}
}
