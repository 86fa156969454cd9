package handlers

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/upb/authflow/middleware"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/resolver"
	"github.com/upb/authflow/services"
	"go.uber.org/zap"
)

//go:embed templates/form.html
var templateFS embed.FS

var formTemplate = template.Must(template.ParseFS(templateFS, "templates/form.html"))

// FormService performs the actions behind the forms
type FormService interface {
	Register(ctx context.Context, req models.SignUpRequest) (string, error)
	Login(ctx context.Context, creds models.Credentials) (string, error)
	Logout(ctx context.Context) (string, error)
}

// StateReader reads the current resolver state without waiting
type StateReader interface {
	State() resolver.State
}

// formView is the data rendered by templates/form.html
type formView struct {
	Title        string
	Action       string
	Submit       string
	Email        string
	ReferralCode string
	ShowReferral bool
	Message      string
	IsError      bool
	SignedInAs   string
	Role         string
	IsAdmin      bool
}

// FormHandler serves the sign-up, sign-in and sign-out forms
type FormHandler struct {
	svc    FormService
	states StateReader
	logger *zap.Logger
}

// NewFormHandler creates a new FormHandler
func NewFormHandler(svc FormService, states StateReader, logger *zap.Logger) *FormHandler {
	return &FormHandler{
		svc:    svc,
		states: states,
		logger: logger,
	}
}

func signUpView() formView {
	return formView{Title: "Sign Up", Action: "/signup", Submit: "Sign Up", ShowReferral: true}
}

func signInView() formView {
	return formView{Title: "Sign In", Action: "/signin", Submit: "Sign In"}
}

// HandleSignUpForm handles GET /signup
func (h *FormHandler) HandleSignUpForm(w http.ResponseWriter, r *http.Request) {
	view := signUpView()
	view.ReferralCode = r.URL.Query().Get("ref")
	h.render(w, r, http.StatusOK, view)
}

// HandleSignUp handles POST /signup
func (h *FormHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	view := signUpView()
	if err := r.ParseForm(); err != nil {
		view.Message, view.IsError = "Error: "+err.Error(), true
		h.render(w, r, http.StatusBadRequest, view)
		return
	}

	req := models.SignUpRequest{
		Credentials: models.Credentials{
			Email:    strings.TrimSpace(r.PostForm.Get("email")),
			Password: r.PostForm.Get("password"),
		},
		ReferralCode: strings.TrimSpace(r.PostForm.Get("referral_code")),
	}

	msg, err := h.svc.Register(r.Context(), req)
	view.Message = msg
	if err != nil {
		view.IsError = true
		view.Email = req.Email
		view.ReferralCode = req.ReferralCode
		h.render(w, r, statusForError(err), view)
		return
	}
	h.render(w, r, http.StatusOK, view)
}

// HandleSignInForm handles GET /signin
func (h *FormHandler) HandleSignInForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, signInView())
}

// HandleSignIn handles POST /signin
func (h *FormHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	view := signInView()
	if err := r.ParseForm(); err != nil {
		view.Message, view.IsError = "Error: "+err.Error(), true
		h.render(w, r, http.StatusBadRequest, view)
		return
	}

	creds := models.Credentials{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}

	msg, err := h.svc.Login(r.Context(), creds)
	view.Message = msg
	if err != nil {
		view.IsError = true
		view.Email = creds.Email
		h.render(w, r, statusForError(err), view)
		return
	}
	h.render(w, r, http.StatusOK, view)
}

// HandleSignOut handles POST /signout
func (h *FormHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	view := signInView()
	msg, err := h.svc.Logout(r.Context())
	view.Message = msg
	if err != nil {
		view.IsError = true
		h.render(w, r, statusForError(err), view)
		return
	}
	h.render(w, r, http.StatusOK, view)
}

// render fills the signed-in banner from the resolver's current view.
// The banner can lag a just-completed sign-in; it follows the auth-state notification.
func (h *FormHandler) render(w http.ResponseWriter, r *http.Request, status int, view formView) {
	if h.states != nil {
		state := h.states.State()
		if state.Session != nil {
			view.SignedInAs = state.Session.User.Email
			if state.Role != nil && !state.Resolving {
				view.Role = state.Role.String()
				view.IsAdmin = state.Role.IsAdmin()
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := formTemplate.Execute(w, view); err != nil {
		h.logger.Error("failed to render form",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("form", view.Action),
			zap.Error(err))
	}
}

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case services.IsForbiddenError(err):
		return http.StatusForbidden
	case services.IsUnavailableError(err):
		return http.StatusServiceUnavailable
	case services.IsExternalError(err):
		return http.StatusBadGateway
	case services.IsInternalError(err), services.IsConfigurationError(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
