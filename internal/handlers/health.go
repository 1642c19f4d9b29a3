package handlers

import (
	"net/http"
	"time"

	"github.com/printfield/api/internal/repositories"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	health  repositories.HealthRepository
	clock   func() time.Time
	started time.Time
	version string
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithHealthRepository wires the dependency checks backing /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthVersion reports a build version in probe responses.
func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

// NewHealthHandlers constructs probe handlers. Without a repository /readyz
// reports ready unconditionally.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.started = h.clock()
	return h
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version,omitempty"`
}

type readinessResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  h.clock().Sub(h.started).Truncate(time.Second).String(),
		Version: h.version,
	})
}

// Readyz runs the dependency checks and reports 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSONResponse(w, http.StatusOK, readinessResponse{Status: "ready"})
		return
	}

	results, err := h.health.Collect(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readinessResponse{
			Status:       "unavailable",
			Dependencies: map[string]string{"health": err.Error()},
		})
		return
	}

	deps := make(map[string]string, len(results))
	healthy := true
	for name, checkErr := range results {
		if checkErr != nil {
			deps[name] = checkErr.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	if !healthy {
		writeJSONResponse(w, http.StatusServiceUnavailable, readinessResponse{
			Status:       "unavailable",
			Dependencies: deps,
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, readinessResponse{
		Status:       "ready",
		Dependencies: deps,
	})
}
