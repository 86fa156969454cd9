package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/authflow/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker checks a dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SubscriberCounter reports live auth-state subscriptions
type SubscriberCounter interface {
	SubscriberCount() int
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     HealthChecker
	states StateReader
	events SubscriberCounter
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db is nil when roles are read over REST.
func NewHealthHandler(db HealthChecker, states StateReader, events SubscriberCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		states: states,
		events: events,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	// without a subscriber the resolver no longer follows sign-in and sign-out
	if h.events != nil {
		if h.events.SubscriberCount() > 0 {
			checks["auth_events"] = "subscribed"
		} else {
			checks["auth_events"] = "unsubscribed"
			allHealthy = false
		}
	}

	// informational: a resolving session does not make the server unready
	if h.states != nil {
		if h.states.State().Resolving {
			checks["session"] = "resolving"
		} else {
			checks["session"] = "settled"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
