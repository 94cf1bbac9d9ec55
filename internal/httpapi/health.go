package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// readinessTimeout is the per-dependency timeout for readiness checks.
const readinessTimeout = 2 * time.Second

// Build-time version information. These are set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/arcrelay/arcrelay/internal/httpapi.Version=0.1.5 -X github.com/arcrelay/arcrelay/internal/httpapi.GitCommit=abc1234 -X github.com/arcrelay/arcrelay/internal/httpapi.BuildTime=2026-02-16T12:00:00Z"
//
// Version also becomes the "Proxy Version" field of the §6 ping response.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthChecker verifies that a dependency is reachable and healthy.
// Implementations should be lightweight (e.g. pool.Ping, BucketExists).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckResult holds the outcome of a single dependency health check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadinessResponse is the structured JSON returned by GET /health/ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// HandleHealthLive is a lightweight liveness probe — confirms the process is
// alive. Always returns 200.
func (s *Server) HandleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	})
}

// HandleHealthReady checks all registered dependencies and returns 200 if
// all are healthy, or 503 if any is down (§12 supplemented readiness/liveness
// split). Each dependency check runs with its own timeout.
func (s *Server) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	checkers := s.healthCheckers()

	if len(checkers) == 0 {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: map[string]CheckResult{}})
		return
	}

	type result struct {
		name string
		res  CheckResult
	}
	results := make([]result, len(checkers))

	var wg sync.WaitGroup
	i := 0
	for name, checker := range checkers {
		wg.Add(1)
		go func(idx int, n string, c HealthChecker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			if err := c.HealthCheck(ctx); err != nil {
				results[idx] = result{name: n, res: CheckResult{Status: "error", Error: err.Error()}}
			} else {
				results[idx] = result{name: n, res: CheckResult{Status: "ok"}}
			}
		}(i, name, checker)
		i++
	}
	wg.Wait()

	checks := make(map[string]CheckResult, len(results))
	allOK := true
	for _, res := range results {
		checks[res.name] = res.res
		if res.res.Status != "ok" {
			allOK = false
		}
	}

	resp := ReadinessResponse{Checks: checks}
	if allOK {
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
	} else {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

// HandleHealth is the backward-compatible health endpoint, aliased to the
// liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.HandleHealthLive(w, r)
}

// healthCheckers returns the map of dependency name → checker based on
// which dependencies are configured on the Server. Only non-nil checkers
// are included.
func (s *Server) healthCheckers() map[string]HealthChecker {
	checkers := make(map[string]HealthChecker)
	if s.DBHealth != nil {
		checkers["meterstore"] = s.DBHealth
	}
	if s.AssetHealth != nil {
		checkers["staticassets"] = s.AssetHealth
	}
	return checkers
}

// HandleMetrics returns basic application and domain metrics in Prometheus
// text exposition format (§12): process metrics matching the teacher's
// HandleMetrics, plus the resource/meter counts specific to this domain.
func (s *Server) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP arcrelay_info Build information about arcrelayd.\n")
	fmt.Fprintf(w, "# TYPE arcrelay_info gauge\n")
	fmt.Fprintf(w, "arcrelay_info{version=%q,git_commit=%q,go_version=%q} 1\n", Version, GitCommit, runtime.Version())

	fmt.Fprintf(w, "# HELP arcrelay_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE arcrelay_goroutines gauge\n")
	fmt.Fprintf(w, "arcrelay_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP arcrelay_memory_alloc_bytes Current memory allocation in bytes.\n")
	fmt.Fprintf(w, "# TYPE arcrelay_memory_alloc_bytes gauge\n")
	fmt.Fprintf(w, "arcrelay_memory_alloc_bytes %d\n", memStats.Alloc)

	fmt.Fprintf(w, "# HELP arcrelay_memory_sys_bytes Total memory obtained from the OS in bytes.\n")
	fmt.Fprintf(w, "# TYPE arcrelay_memory_sys_bytes gauge\n")
	fmt.Fprintf(w, "arcrelay_memory_sys_bytes %d\n", memStats.Sys)

	fmt.Fprintf(w, "# HELP arcrelay_gc_completed_total Total number of completed GC cycles.\n")
	fmt.Fprintf(w, "# TYPE arcrelay_gc_completed_total counter\n")
	fmt.Fprintf(w, "arcrelay_gc_completed_total %d\n", memStats.NumGC)

	if s.Store != nil {
		fmt.Fprintf(w, "# HELP arcrelay_resources Number of configured resources.\n")
		fmt.Fprintf(w, "# TYPE arcrelay_resources gauge\n")
		fmt.Fprintf(w, "arcrelay_resources %d\n", len(s.Store.Resources()))

		fmt.Fprintf(w, "# HELP arcrelay_referrer_patterns Number of configured referrer patterns.\n")
		fmt.Fprintf(w, "# TYPE arcrelay_referrer_patterns gauge\n")
		fmt.Fprintf(w, "arcrelay_referrer_patterns %d\n", len(s.Store.Referrers()))

		var totalRequests int64
		for _, res := range s.Store.Resources() {
			totalRequests += res.Snapshot().TotalRequests
		}
		fmt.Fprintf(w, "# HELP arcrelay_requests_total Total requests forwarded across all resources.\n")
		fmt.Fprintf(w, "# TYPE arcrelay_requests_total counter\n")
		fmt.Fprintf(w, "arcrelay_requests_total %d\n", totalRequests)
	}
}
