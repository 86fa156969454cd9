package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/upb/authflow/models"
	"go.uber.org/zap"
)

// tokenResponse is the token endpoint payload
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

// signUpResponse covers both registration shapes: a full token response when
// email confirmation is disabled, or the bare user record when it is required.
type signUpResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignUpResult is the outcome of a registration
type SignUpResult struct {
	User models.User
	// Session is set only when the provider signed the user in immediately
	Session *models.Session
}

// ConfirmationRequired reports whether the user must verify their email before signing in
func (r *SignUpResult) ConfirmationRequired() bool {
	return r.Session == nil
}

// SignUp registers a new user with optional free-form metadata
func (c *Client) SignUp(ctx context.Context, req models.SignUpRequest) (*SignUpResult, error) {
	body := map[string]interface{}{
		"email":    req.Email,
		"password": req.Password,
		"data":     req.ProviderMetadata(),
	}

	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", body, &resp); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	if resp.AccessToken == "" {
		user := resp.User
		if user.ID == "" {
			user = models.User{ID: resp.ID, Email: resp.Email}
		}
		c.logger.Debug("sign up pending confirmation", zap.String("user_id", user.ID))
		return &SignUpResult{User: user}, nil
	}

	session, err := c.sessionFromToken(&resp.tokenResponse)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.events.Emit(models.EventSignedIn, session)
	return &SignUpResult{User: session.User, Session: copySession(session)}, nil
}

// SignInWithPassword signs in with email and password and persists the session
func (c *Client) SignInWithPassword(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	query := url.Values{"grant_type": {"password"}}
	body := map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, "", body, &resp); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	session, err := c.sessionFromToken(&resp)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.events.Emit(models.EventSignedIn, session)
	return copySession(session), nil
}

// SignOut revokes the session at the provider and always clears it locally.
// A 401, 403 or 404 from the provider means the session is already gone.
func (c *Client) SignOut(ctx context.Context) error {
	session, loadErr := c.store.Load(ctx)
	if loadErr != nil {
		c.logger.Warn("failed to load session for sign out", zap.Error(loadErr))
	}

	var remoteErr error
	if session != nil && session.AccessToken != "" {
		query := url.Values{"scope": {"global"}}
		err := c.do(ctx, http.MethodPost, "/auth/v1/logout", query, session.AccessToken, nil, nil)
		if err != nil && !IsStatus(err, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound) {
			remoteErr = fmt.Errorf("sign out: %w", err)
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.events.Emit(models.EventSignedOut, nil)
	return remoteErr
}

// GetSession returns the persisted session, refreshing it when the access token has expired.
// It returns (nil, nil) when nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	session, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if !session.Expired(c.now().Add(expiryMargin)) {
		return session, nil
	}

	if session.RefreshToken == "" {
		c.logger.Debug("session expired without refresh token", zap.String("user_id", session.UserID()))
		if err := c.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear session: %w", err)
		}
		c.events.Emit(models.EventSignedOut, nil)
		return nil, nil
	}

	return c.refresh(ctx, session.RefreshToken)
}

// RefreshSession exchanges the stored refresh token for a new session
func (c *Client) RefreshSession(ctx context.Context) (*models.Session, error) {
	session, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || session.RefreshToken == "" {
		return nil, ErrNoSession
	}
	return c.refresh(ctx, session.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, "", body, &resp)
	if err == nil {
		var session *models.Session
		session, err = c.sessionFromToken(&resp)
		if err == nil {
			if err := c.saveSession(ctx, session); err != nil {
				return nil, err
			}
			c.events.Emit(models.EventTokenRefreshed, session)
			return copySession(session), nil
		}
	}

	// A refresh token that cannot be used ends the session.
	if clearErr := c.store.Clear(ctx); clearErr != nil {
		c.logger.Warn("failed to clear session after refresh failure", zap.Error(clearErr))
	}
	c.events.Emit(models.EventSignedOut, nil)
	return nil, fmt.Errorf("refresh session: %w", err)
}

// GetUser fetches the current user from the provider and updates the stored session when it changed
func (c *Client) GetUser(ctx context.Context) (*models.User, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}

	var user models.User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, session.AccessToken, nil, &user); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !reflect.DeepEqual(user, session.User) {
		session.User = user
		if err := c.saveSession(ctx, session); err != nil {
			return nil, err
		}
		c.events.Emit(models.EventUserUpdated, session)
	}
	return &user, nil
}

// SubscriberCount returns the number of live auth-state subscriptions
func (c *Client) SubscriberCount() int {
	return c.events.Count()
}

func (c *Client) saveSession(ctx context.Context, session *models.Session) error {
	if err := c.store.Save(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// sessionFromToken fills expiry and identity from the access token when the payload omits them
func (c *Client) sessionFromToken(resp *tokenResponse) (*models.Session, error) {
	if resp.AccessToken == "" {
		return nil, errors.New("no access_token in response")
	}

	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		User:         resp.User,
	}

	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	case resp.ExpiresIn > 0:
		session.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}

	if session.User.ID == "" || session.ExpiresAt.IsZero() {
		claims, err := ParseAccessToken(resp.AccessToken)
		if err != nil {
			return nil, err
		}
		if session.User.ID == "" {
			session.User = claims.User()
		}
		if session.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time.UTC()
		}
	}

	return session, nil
}
