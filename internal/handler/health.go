package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/realtime-server-go/internal/config"
)

type DBPinger interface {
	Ping(ctx context.Context) error
}

type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Check is the outcome of one dependency probe.
type Check struct {
	Status  string `json:"status"` // "pass", "fail" or "skip"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Checks    map[string]Check `json:"checks"`
	Sessions  int              `json:"sessions"`
	Timestamp string           `json:"timestamp"`
}

type HealthHandler struct {
	db       DBPinger
	redis    RedisPinger
	sessions func() int
}

// NewHealthHandler probes db on every request. Redis is probed only once set with WithRedis.
func NewHealthHandler(db DBPinger, sessions func() int) *HealthHandler {
	return &HealthHandler{db: db, sessions: sessions}
}

func (h *HealthHandler) WithRedis(client RedisPinger) *HealthHandler {
	h.redis = client
	return h
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	checks := make(map[string]Check, 2)
	healthy := true

	checks["postgres"] = probe(ctx, h.db.Ping)
	if checks["postgres"].Status == "fail" {
		healthy = false
	}

	if h.redis != nil {
		checks["redis"] = probe(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
		if checks["redis"].Status == "fail" {
			healthy = false
		}
	} else {
		checks["redis"] = Check{Status: "skip", Message: "not configured"}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions()
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func probe(ctx context.Context, ping func(context.Context) error) Check {
	start := time.Now()
	if err := ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}
