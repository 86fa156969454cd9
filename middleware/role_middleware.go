package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/authflow/resolver"
	"github.com/upb/authflow/utils"
	"go.uber.org/zap"
)

// DefaultSettleTimeout bounds how long a request waits for an in-flight role resolution
const DefaultSettleTimeout = 2 * time.Second

// StateSource provides the settled session/role state
type StateSource interface {
	WaitSettled(ctx context.Context) (resolver.State, error)
}

// RoleMiddleware guards routes on the resolver's session and role
type RoleMiddleware struct {
	states        StateSource
	settleTimeout time.Duration
	logger        *zap.Logger
}

// NewRoleMiddleware creates a new RoleMiddleware. A non-positive settleTimeout uses DefaultSettleTimeout.
func NewRoleMiddleware(states StateSource, settleTimeout time.Duration, logger *zap.Logger) *RoleMiddleware {
	if settleTimeout <= 0 {
		settleTimeout = DefaultSettleTimeout
	}
	return &RoleMiddleware{
		states:        states,
		settleTimeout: settleTimeout,
		logger:        logger,
	}
}

// settled waits for resolution and writes a 503 when it does not finish in time
func (m *RoleMiddleware) settled(w http.ResponseWriter, r *http.Request) (resolver.State, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), m.settleTimeout)
	defer cancel()

	state, err := m.states.WaitSettled(ctx)
	if err != nil {
		m.logger.Warn("auth state not settled",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteServiceUnavailable(w, "Session is still being resolved", 1)
		return state, false
	}
	return state, true
}

// RequireSession is a middleware that requires a signed-in user
func (m *RoleMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, ok := m.settled(w, r)
		if !ok {
			return
		}
		if state.Session == nil {
			_ = utils.WriteUnauthorized(w, "Sign in required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthState(r.Context(), state)))
	})
}

// RequireRole is a middleware that requires one of the given roles
func (m *RoleMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestIDFromContext(r.Context())

			state, ok := m.settled(w, r)
			if !ok {
				return
			}
			if state.Session == nil {
				_ = utils.WriteUnauthorized(w, "Sign in required")
				return
			}

			hasRole := false
			if state.Role != nil {
				for _, role := range roles {
					if state.Role.String() == role {
						hasRole = true
						break
					}
				}
			}

			if !hasRole {
				current := ""
				if state.Role != nil {
					current = state.Role.String()
				}
				m.logger.Warn("insufficient role",
					zap.String("request_id", requestID),
					zap.Strings("required_roles", roles),
					zap.String("role", current),
					zap.String("user_id", state.Session.UserID()))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			m.logger.Debug("role check passed",
				zap.String("request_id", requestID),
				zap.Strings("required_roles", roles))

			next.ServeHTTP(w, r.WithContext(WithAuthState(r.Context(), state)))
		})
	}
}
