package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/authflow/middleware"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/services"
	"github.com/upb/authflow/utils"
	"go.uber.org/zap"
)

// AuthAPIHandler serves the form actions as JSON for script-driven pages
type AuthAPIHandler struct {
	svc    FormService
	logger *zap.Logger
}

// NewAuthAPIHandler creates a new AuthAPIHandler
func NewAuthAPIHandler(svc FormService, logger *zap.Logger) *AuthAPIHandler {
	return &AuthAPIHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleSignUp handles POST /api/signup
func (h *AuthAPIHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	// only the referral code is forwarded as metadata
	req.Metadata = nil

	msg, err := h.svc.Register(r.Context(), req)
	h.respond(w, r, msg, err)
}

// HandleSignIn handles POST /api/signin
func (h *AuthAPIHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	msg, err := h.svc.Login(r.Context(), creds)
	h.respond(w, r, msg, err)
}

// HandleSignOut handles POST /api/signout
func (h *AuthAPIHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.Logout(r.Context())
	h.respond(w, r, msg, err)
}

func (h *AuthAPIHandler) respond(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if err == nil {
		_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: msg})
		return
	}

	status := statusForError(err)
	switch {
	case status == http.StatusBadRequest:
		details := services.GetErrorDetails(err)
		if fields := utils.GetValidationFields(err); fields != nil {
			details = map[string]interface{}{"fields": fields}
		}
		_ = utils.WriteBadRequest(w, services.UserMessage(err), details)
	case status == http.StatusInternalServerError:
		h.logger.Error("auth action failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
	default:
		_ = utils.WriteError(w, status, services.UserMessage(err), services.GetErrorDetails(err))
	}
}
