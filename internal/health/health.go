// Package health provides health, readiness, and liveness endpoints. The
// service depends on PostgreSQL for durable records and Redis for pending
// two-factor state; both are probed with a bounded timeout.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ServiceStatus reports one dependency probe.
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the body of the main health endpoint.
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// Handler serves the health endpoints.
type Handler struct {
	dbPool      *pgxpool.Pool
	redisClient redis.UniversalClient
	version     string
	timeout     time.Duration

	mu    sync.RWMutex
	ready bool
}

// Config holds health handler configuration
type Config struct {
	DBPool      *pgxpool.Pool
	RedisClient redis.UniversalClient
	Version     string
	Timeout     time.Duration
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		dbPool:      cfg.DBPool,
		redisClient: cfg.RedisClient,
		version:     cfg.Version,
		timeout:     timeout,
		ready:       true,
	}
}

// SetReady sets the readiness state. Flipped to false at the start of
// graceful shutdown so load balancers drain traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health probes all dependencies and reports overall status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := map[string]ServiceStatus{
		"database": h.checkPostgres(ctx),
	}
	if h.redisClient != nil {
		services["redis"] = h.checkRedis(ctx)
	}

	status := "healthy"
	code := http.StatusOK
	for _, s := range services {
		if s.Status != "up" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, Response{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	})
}

// Readiness reports whether the service should receive traffic. It requires
// both the readiness flag and a live database connection.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.IsReady() && h.checkPostgres(ctx).Status == "up"

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Liveness reports that the process is running.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkPostgres(ctx context.Context) ServiceStatus {
	if h.dbPool == nil {
		return ServiceStatus{Status: "down", Error: "database pool not configured"}
	}
	return probe(func() error { return h.dbPool.Ping(ctx) })
}

func (h *Handler) checkRedis(ctx context.Context) ServiceStatus {
	if h.redisClient == nil {
		return ServiceStatus{Status: "down", Error: "redis client not configured"}
	}
	return probe(func() error { return h.redisClient.Ping(ctx).Err() })
}

func probe(ping func() error) ServiceStatus {
	start := time.Now()
	err := ping()
	latency := time.Since(start).String()

	if err != nil {
		return ServiceStatus{Status: "down", Latency: latency, Error: err.Error()}
	}
	return ServiceStatus{Status: "up", Latency: latency}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
