package models

import "time"

// AuthEvent names a transition reported on the provider's auth-state stream
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Session identifies the currently authenticated principal
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// UserID returns the identifier of the session's user
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// Expired reports whether the access token is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Credentials is an email/password pair
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// SignUpRequest carries registration input.
// ReferralCode is forwarded to the provider as metadata only; nothing else persists it.
type SignUpRequest struct {
	Credentials
	ReferralCode string                 `json:"referral_code,omitempty" validate:"omitempty,max=64"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ProviderMetadata builds the free-form metadata map sent with registration
func (r SignUpRequest) ProviderMetadata() map[string]interface{} {
	data := make(map[string]interface{}, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		data[k] = v
	}
	if r.ReferralCode != "" {
		data["referral_code"] = r.ReferralCode
	} else {
		data["referral_code"] = nil
	}
	return data
}
