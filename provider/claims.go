package provider

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/authflow/models"
)

// AccessClaims are the claims carried by a provider access token
type AccessClaims struct {
	jwt.RegisteredClaims
	Email        string                 `json:"email"`
	Role         string                 `json:"role"` // audience role such as "authenticated", not the app role
	SessionID    string                 `json:"session_id"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
}

// ParseAccessToken decodes an access token without verifying its signature.
// Tokens only ever arrive from the provider over TLS; this is for reading expiry and identity.
func ParseAccessToken(tokenString string) (*AccessClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &AccessClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims, nil
}

// User builds the identity described by the token
func (c *AccessClaims) User() models.User {
	return models.User{
		ID:           c.Subject,
		Email:        c.Email,
		Role:         c.Role,
		UserMetadata: c.UserMetadata,
		AppMetadata:  c.AppMetadata,
	}
}
