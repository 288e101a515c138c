// Package health reports whether the imehud daemon is doing its job.
//
// Components:
//   - loop: the poll loop has ticked recently (critical)
//   - accessibility: the platform grants caret/pointer access
//   - ipc: the status socket is listening
//
// The Checker aggregates component results and serves them over HTTP as
// /livez, /readyz and /healthz.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded" // working with reduced function
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown" // not checked yet
)

// DefaultTimeout bounds a single component check.
const DefaultTimeout = 2 * time.Second

// CheckResult is what one component reported the last time it was checked.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check inspects one component.
type Check func(ctx context.Context) CheckResult

// Component is a named check. A failing critical component makes the whole
// daemon unhealthy; any other failure only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker holds the registered components and their latest results.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool
}

func NewChecker() *Checker {
	return &Checker{
		components: map[string]*Component{},
		results:    map[string]CheckResult{},
		startTime:  time.Now(),
	}
}

// Register adds comp, replacing any component of the same name. Its result
// starts out unknown.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.components[comp.Name] = comp
	c.results[comp.Name] = CheckResult{Status: StatusUnknown}
	c.mu.Unlock()
}

func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Names lists the registered components alphabetically.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every component in parallel and returns the fresh results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		comps = append(comps, comp)
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(comps))
	)
	for _, comp := range comps {
		wg.Go(func() {
			r := c.run(ctx, comp)
			mu.Lock()
			results[comp.Name] = r
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}

// CheckComponent runs the named component only.
func (c *Checker) CheckComponent(ctx context.Context, name string) (CheckResult, bool) {
	c.mu.RLock()
	comp, ok := c.components[name]
	c.mu.RUnlock()
	if !ok {
		return CheckResult{}, false
	}
	return c.run(ctx, comp), true
}

// run executes comp under its timeout, turning a panic or an overrun into
// an unhealthy result, and records the outcome.
func (c *Checker) run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var r CheckResult
	select {
	case r = <-done:
	case <-ctx.Done():
		r = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	r.LastChecked = start
	r.Duration = time.Since(start)

	c.mu.Lock()
	if _, ok := c.components[comp.Name]; ok {
		c.results[comp.Name] = r
	}
	c.mu.Unlock()
	return r
}

// OverallStatus folds the latest results: a critical failure wins, then an
// unchecked critical component, then any degradation.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for name, r := range c.results {
		comp, ok := c.components[name]
		if !ok {
			continue
		}
		switch {
		case r.Status == StatusUnhealthy && comp.Critical:
			return StatusUnhealthy
		case r.Status == StatusUnknown && comp.Critical:
			overall = StatusUnknown
		case r.Status == StatusUnhealthy, r.Status == StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall
}

// Response is the body served by /healthz.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Response runs every check and aggregates the outcome. Per-component
// results are included only when asked for.
func (c *Checker) Response(ctx context.Context, withComponents bool) Response {
	results := c.Check(ctx)
	if !withComponents {
		results = nil
	}

	c.mu.RLock()
	ready, uptime := c.ready, time.Since(c.startTime).Truncate(time.Second)
	c.mu.RUnlock()

	return Response{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     uptime.String(),
		Components: results,
		Timestamp:  time.Now(),
	}
}

// LivenessHandler answers 200 while the process can serve requests at all.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now()})
	})
}

// ReadinessHandler answers 200 once the daemon is ready and no critical
// component is unhealthy.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "timestamp": time.Now()})
			return
		}
		c.Check(r.Context())
		status := c.OverallStatus()
		writeJSON(w, statusCode(status == StatusUnhealthy), map[string]any{
			"status":    status,
			"ready":     true,
			"timestamp": time.Now(),
		})
	})
}

// HealthHandler serves the aggregated report. ?full=true adds every
// component's result; ?component=NAME checks that component alone.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if name := q.Get("component"); name != "" {
			result, ok := c.CheckComponent(r.Context(), name)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error":      fmt.Sprintf("unknown component %q", name),
					"components": c.Names(),
				})
				return
			}
			writeJSON(w, statusCode(result.Status == StatusUnhealthy), result)
			return
		}

		resp := c.Response(r.Context(), q.Get("full") == "true")
		writeJSON(w, statusCode(resp.Status == StatusUnhealthy || resp.Status == StatusUnknown), resp)
	})
}

// Mount registers /livez, /readyz and /healthz on mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.Handle("/livez", c.LivenessHandler())
	mux.Handle("/readyz", c.ReadinessHandler())
	mux.Handle("/healthz", c.HealthHandler())
}

func statusCode(failing bool) int {
	if failing {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
