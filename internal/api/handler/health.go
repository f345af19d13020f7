package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ProjectionState reports whether the projection worker is consuming.
type ProjectionState interface {
	Running() bool
}

// HealthHandler exposes Kubernetes-style liveness and readiness endpoints.
type HealthHandler struct {
	db         *pgxpool.Pool
	redis      redis.Cmdable
	projection ProjectionState
}

// NewHealthHandler accepts nil db and redis for deployments without them.
func NewHealthHandler(db *pgxpool.Pool, redis redis.Cmdable, projection ProjectionState) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, projection: projection}
}

// Live always reports OK – if the process is up, it's live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready checks the database, redis and the projection worker.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "health/database-unavailable", "database unavailable")
			return
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "health/redis-unavailable", "redis unavailable")
			return
		}
	}

	if h.projection != nil && !h.projection.Running() {
		RespondError(w, r, http.StatusServiceUnavailable, "health/projection-stopped", "projection stopped")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
