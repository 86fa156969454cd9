package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/authflow/resolver"
)

// Context key type to avoid collisions
type contextKey string

// AuthStateKey is the context key for the settled resolver state
const AuthStateKey contextKey = "auth_state"

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetAuthStateFromContext retrieves the state captured by RequireSession or RequireRole
func GetAuthStateFromContext(ctx context.Context) (resolver.State, bool) {
	state, ok := ctx.Value(AuthStateKey).(resolver.State)
	return state, ok
}

// WithAuthState adds the resolver state to the context
func WithAuthState(ctx context.Context, state resolver.State) context.Context {
	return context.WithValue(ctx, AuthStateKey, state)
}
