package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/authflow/models"
	"github.com/upb/authflow/provider"
	"github.com/upb/authflow/utils"
	"go.uber.org/zap"
)

// Messages shown by the forms
const (
	SignUpSuccessMessage  = "Sign up successful! Please check your email to verify your account."
	SignOutSuccessMessage = "You have been signed out."
	errorMessagePrefix    = "Error: "
)

// Authenticator performs the provider calls behind the forms
type Authenticator interface {
	SignUp(ctx context.Context, req models.SignUpRequest) (*provider.SignUpResult, error)
	SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error)
	SignOut(ctx context.Context) error
}

// AuthService backs the sign-up, sign-in and sign-out forms.
// Every method returns the text to show next to the form alongside a classified error.
type AuthService struct {
	auth   Authenticator
	logger *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(auth Authenticator, logger *zap.Logger) *AuthService {
	return &AuthService{
		auth:   auth,
		logger: logger,
	}
}

// Register validates the input and registers the user.
// The referral code is only forwarded as provider metadata.
func (s *AuthService) Register(ctx context.Context, req models.SignUpRequest) (string, error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return errorMessage(err), invalidInput("invalid sign up input", err)
	}

	result, err := s.auth.SignUp(ctx, req)
	if err != nil {
		s.logger.Warn("sign up failed", zap.String("email", req.Email), zap.Error(err))
		return errorMessage(err), classifyProviderError("sign up failed", err, ErrorTypeValidation)
	}

	s.logger.Info("user signed up",
		zap.String("user_id", result.User.ID),
		zap.Bool("confirmation_required", result.ConfirmationRequired()),
		zap.Bool("referral_code", req.ReferralCode != ""))
	return SignUpSuccessMessage, nil
}

// Login validates the credentials and signs in
func (s *AuthService) Login(ctx context.Context, creds models.Credentials) (string, error) {
	if err := utils.ValidateStruct(&creds); err != nil {
		return errorMessage(err), invalidInput("invalid sign in input", err)
	}

	session, err := s.auth.SignIn(ctx, creds)
	if err != nil {
		s.logger.Warn("sign in failed", zap.String("email", creds.Email), zap.Error(err))
		return errorMessage(err), classifyProviderError("sign in failed", err, ErrorTypeUnauthorized)
	}

	s.logger.Info("user signed in", zap.String("user_id", session.UserID()))
	return "Signed in as " + session.User.Email + ".", nil
}

// Logout signs out. The local session is gone even when the provider call fails.
func (s *AuthService) Logout(ctx context.Context) (string, error) {
	if err := s.auth.SignOut(ctx); err != nil {
		s.logger.Warn("sign out failed at provider", zap.Error(err))
		return errorMessage(err), WrapExternal("sign out failed", err)
	}
	return SignOutSuccessMessage, nil
}

// invalidInput classifies a ValidateStruct failure. Anything but field errors is a programming error.
func invalidInput(message string, err error) error {
	if utils.IsValidationError(err) {
		return NewDomainError(ErrorTypeValidation, message, err)
	}
	return WrapInternal(message, err)
}

func errorMessage(err error) string {
	return errorMessagePrefix + UserMessage(err)
}

// classifyProviderError maps a provider failure onto the domain taxonomy.
// Client-side rejections take rejectedAs; everything else is external.
func classifyProviderError(message string, err error, rejectedAs ErrorType) error {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError {
		if apiErr.Status == http.StatusTooManyRequests {
			return WrapExternal(message, err)
		}
		return NewDomainError(rejectedAs, message, err).WithDetail("code", apiErr.Code)
	}
	return WrapExternal(message, err)
}
