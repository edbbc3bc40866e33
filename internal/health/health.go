package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/metrics"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check represents a health check result
type Check struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Response represents the health check response
type Response struct {
	Status    Status           `json:"status"`
	Version   string           `json:"version,omitempty"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Checker performs one health check
type Checker func(ctx context.Context) Check

// Manager manages health checks
type Manager struct {
	checks  map[string]Checker
	version string
	timeout time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewManager creates a manager whose checks each get timeout to finish
func NewManager(version string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Manager{
		checks:  make(map[string]Checker),
		version: version,
		timeout: timeout,
		now:     time.Now,
	}
}

// Register registers a health check
func (m *Manager) Register(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = checker
}

// Unregister removes a health check
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Names returns the registered check names in order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all health checks concurrently
func (m *Manager) Check(ctx context.Context) Response {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checks))
	for name, c := range m.checks {
		checkers[name] = c
	}
	m.mu.RUnlock()

	results := make(map[string]Check, len(checkers))
	var (
		wg      sync.WaitGroup
		resultM sync.Mutex
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			check := checker(checkCtx)
			elapsed := time.Since(start)
			if check.Name == "" {
				check.Name = name
			}
			check.Duration = elapsed.String()
			metrics.RecordHealthCheck(name, string(check.Status), elapsed)

			resultM.Lock()
			results[name] = check
			resultM.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range results {
		if check.Status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if check.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	return Response{
		Status:    overall,
		Version:   m.version,
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Checks:    results,
	}
}

// LivenessHandler answers as long as the process can serve HTTP
func (m *Manager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusHealthy,
			Version:   m.version,
			Timestamp: m.now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns 503 unless every check is healthy or degraded
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := m.Check(r.Context())
		status := http.StatusOK
		if response.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	}
}

// HealthHandler reports all checks and always answers 200
func (m *Manager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Check(r.Context()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// PingChecker turns a backend ping into a check. A failing critical
// dependency makes the service unhealthy; any other failure only degrades it.
func PingChecker(name string, critical bool, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusUnhealthy
			}
			return Check{Name: name, Status: status, Error: err.Error()}
		}
		return Check{Name: name, Status: StatusHealthy}
	}
}

// BreakerChecker reports a degraded status while the provider's circuit is open
func BreakerChecker(name string, isOpen func() bool) Checker {
	return func(ctx context.Context) Check {
		if isOpen() {
			return Check{Name: name, Status: StatusDegraded, Error: "circuit breaker open"}
		}
		return Check{Name: name, Status: StatusHealthy}
	}
}
