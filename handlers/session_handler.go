package handlers

import (
	"net/http"

	"github.com/upb/authflow/middleware"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/utils"
	"go.uber.org/zap"
)

// SessionResponse is the JSON view of the resolver state
type SessionResponse struct {
	User      *models.User `json:"user"`
	Role      *string      `json:"role"`
	Resolving bool         `json:"resolving"`
}

// SessionHandler exposes the resolver state
type SessionHandler struct {
	states StateReader
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(states StateReader, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		states: states,
		logger: logger,
	}
}

// HandleSession handles GET /api/session. It never waits; clients poll while resolving is true.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	state := h.states.State()

	resp := SessionResponse{Resolving: state.Resolving}
	if state.Session != nil {
		user := state.Session.User
		resp.User = &user
	}
	if state.Role != nil {
		role := state.Role.String()
		resp.Role = &role
	}

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write session response",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
	}
}

// HandleAdmin handles GET /admin. RoleMiddleware has already checked the role.
func (h *SessionHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	state, ok := middleware.GetAuthStateFromContext(r.Context())
	if !ok || state.Session == nil || state.Role == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	data := map[string]interface{}{
		"user_id": state.Session.UserID(),
		"email":   state.Session.User.Email,
		"role":    state.Role.String(),
	}
	if err := utils.WriteOK(w, data); err != nil {
		h.logger.Error("failed to write admin response", zap.Error(err))
	}
}
