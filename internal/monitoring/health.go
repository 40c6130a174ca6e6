// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is a named check. Critical checks turn the overall status
// unhealthy when they fail; others only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Critical bool          `json:"critical"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemHealth is the response body of the health endpoint.
type SystemHealth struct {
	Status     HealthStatus  `json:"status"`
	Version    string        `json:"version,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     string        `json:"uptime"`
	Goroutines int           `json:"goroutines"`
	Checks     []CheckResult `json:"checks,omitempty"`
}

// HealthManager runs registered checks on demand.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	version string
	started time.Time
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]HealthCheck),
		version: version,
		started: time.Now(),
	}
}

// RegisterCheck registers or replaces a health check
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hm.mu.Lock()
	hm.checks[check.Name] = check
	hm.mu.Unlock()
}

// GetHealth runs every check concurrently and aggregates the results.
func (hm *HealthManager) GetHealth(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c HealthCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := HealthStatusHealthy
	for _, r := range results {
		if r.Status == HealthStatusHealthy {
			continue
		}
		if r.Critical {
			status = HealthStatusUnhealthy
		} else if status == HealthStatusHealthy {
			status = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:     status,
		Version:    hm.version,
		Timestamp:  time.Now(),
		Uptime:     time.Since(hm.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     results,
	}
}

func runCheck(ctx context.Context, c HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	res := CheckResult{Name: c.Name, Critical: c.Critical, Status: HealthStatusHealthy}
	var err error
	if c.Check == nil {
		err = fmt.Errorf("no check function defined")
	} else {
		err = c.Check(ctx)
	}
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = HealthStatusUnhealthy
		res.Error = err.Error()
	}
	return res
}

// HealthHandler serves the aggregated health as JSON. Unhealthy maps to 503.
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// GoroutineHealthCheck degrades health when too many goroutines are live.
func GoroutineHealthCheck(maxGoroutines int) HealthCheck {
	return HealthCheck{
		Name: "goroutines",
		Check: func(ctx context.Context) error {
			if n := runtime.NumGoroutine(); n > maxGoroutines {
				return fmt.Errorf("%d goroutines exceed limit %d", n, maxGoroutines)
			}
			return nil
		},
	}
}

// PingHealthCheck wraps a connectivity check, such as an output sink's Ping.
func PingHealthCheck(name string, ping func(ctx context.Context) error) HealthCheck {
	return HealthCheck{Name: name, Critical: true, Check: ping}
}
