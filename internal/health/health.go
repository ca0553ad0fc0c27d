package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// minFreeBytes is the free-space floor below which downloads cannot be
// trusted to finish.
const minFreeBytes = 1 << 30 // 1 GiB

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker performs health checks on the engine's collaborators.
type Checker struct {
	steamcmdPath string
	requiredDirs []string
	volumePath   string
	redis        *redis.Client
	storageCheck func(ctx context.Context) error
	canAdmit     func() bool
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker. Redis and
// StorageCheck are optional.
type CheckerConfig struct {
	SteamCMDPath string
	RequiredDirs []string
	VolumePath   string
	Redis        *redis.Client
	StorageCheck func(ctx context.Context) error
	CanAdmit     func() bool
	Version      string
	Timeout      time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		steamcmdPath: cfg.SteamCMDPath,
		requiredDirs: cfg.RequiredDirs,
		volumePath:   cfg.VolumePath,
		redis:        cfg.Redis,
		storageCheck: cfg.StorageCheck,
		canAdmit:     cfg.CanAdmit,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

// CheckSteamCMD verifies the download tool is present and executable.
func (c *Checker) CheckSteamCMD(ctx context.Context) ComponentHealth {
	start := time.Now()

	info, err := os.Stat(c.steamcmdPath)
	if err != nil {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("steamcmd not found at %s", c.steamcmdPath),
		}
	}
	if info.Mode()&0o111 == 0 {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("steamcmd not executable at %s", c.steamcmdPath),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckDirectories verifies the working directories exist and are writable.
func (c *Checker) CheckDirectories(ctx context.Context) ComponentHealth {
	start := time.Now()

	for _, dir := range c.requiredDirs {
		if _, err := os.Stat(dir); err != nil {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("required directory missing: %s", dir),
			}
		}
		if err := probeWritable(dir); err != nil {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("directory not writable: %s", dir),
			}
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckDisk verifies the volume has enough free space left.
func (c *Checker) CheckDisk(ctx context.Context) ComponentHealth {
	start := time.Now()

	free, _, err := DiskUsage(c.volumePath)
	if err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("disk usage unavailable: %v", err),
			Duration: time.Since(start).String(),
		}
	}
	if free < minFreeBytes {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "insufficient disk space",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckAdmission reports whether the engine can still accept new downloads.
// Running at capacity is degraded, not unhealthy: existing jobs still make
// progress.
func (c *Checker) CheckAdmission(ctx context.Context) ComponentHealth {
	if c.canAdmit == nil {
		return ComponentHealth{Status: StatusHealthy}
	}
	if !c.canAdmit() {
		return ComponentHealth{
			Status:  StatusDegraded,
			Message: "at maximum concurrent downloads",
		}
	}
	return ComponentHealth{Status: StatusHealthy}
}

// CheckRedis checks Redis connectivity when an event sink is configured.
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "redis ping failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckStorage checks the artifact mirror when one is configured.
func (c *Checker) CheckStorage(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.storageCheck(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "storage check failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check performs a basic health check (liveness): the tool is present and
// admissions are possible in principle.
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	response.Components["steamcmd"] = c.CheckSteamCMD(ctx)
	response.Components["admission"] = c.CheckAdmission(ctx)
	response.Status = overallStatus(response.Components)
	return response
}

// DeepCheck performs a comprehensive health check (readiness).
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	checks := map[string]func(context.Context) ComponentHealth{
		"steamcmd":    c.CheckSteamCMD,
		"directories": c.CheckDirectories,
		"disk":        c.CheckDisk,
		"admission":   c.CheckAdmission,
	}
	if c.redis != nil {
		checks["redis"] = c.CheckRedis
	}
	if c.storageCheck != nil {
		checks["storage"] = c.CheckStorage
	}

	// Run checks in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch func(context.Context) ComponentHealth) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			response.Components[n] = result
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	response.Status = overallStatus(response.Components)
	return response
}

func overallStatus(components map[string]ComponentHealth) Status {
	status := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if comp.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

// probeWritable creates and removes a probe file, the only portable way to
// know a directory accepts writes.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".health-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.Check(r.Context())
	writeHealth(w, response, response.Status != StatusHealthy && response.Status != StatusDegraded)
}

// ReadinessHandler handles readiness probe requests
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())
	writeHealth(w, response, response.Status == StatusUnhealthy)
}

// HealthHandler handles the /health endpoint; ?deep=true runs the readiness
// check instead.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeHealth(w http.ResponseWriter, response *HealthResponse, unavailable bool) {
	w.Header().Set("Content-Type", "application/json")
	if unavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}
