package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const readinessTimeout = time.Second

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db    Pinger
	redis redis.Cmdable
}

// NewHealthHandler accepts a nil db for in-memory storage and a nil redis
// client when the idempotency cache is disabled.
func NewHealthHandler(db Pinger, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every configured dependency and reports each one. Any failure
// makes the whole probe 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := readiness{Status: "ready", Checks: map[string]string{}}
	check := func(name string, ping func(context.Context) error) {
		if ping == nil {
			report.Checks[name] = "disabled"
			return
		}
		if err := ping(ctx); err != nil {
			zap.L().Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			report.Checks[name] = "unavailable"
			report.Status = "unavailable"
			return
		}
		report.Checks[name] = "ok"
	}

	var dbPing, redisPing func(context.Context) error
	if h.db != nil {
		dbPing = h.db.Ping
	}
	if h.redis != nil {
		redisPing = func(ctx context.Context) error { return h.redis.Ping(ctx).Err() }
	}
	check("database", dbPing)
	check("redis", redisPing)

	status := http.StatusOK
	if report.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	RespondJSON(w, status, report)
}
