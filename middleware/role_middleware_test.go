package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/resolver"
	"go.uber.org/zap"
)

// MockStateSource is a mock implementation of StateSource
type MockStateSource struct {
	mock.Mock
}

func (m *MockStateSource) WaitSettled(ctx context.Context) (resolver.State, error) {
	args := m.Called(ctx)
	return args.Get(0).(resolver.State), args.Error(1)
}

func signedIn(role string) resolver.State {
	return resolver.State{
		Session: &models.Session{AccessToken: "a", User: models.User{ID: "user-1"}},
		Role:    models.RoleFromString(role),
	}
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, ok := GetAuthStateFromContext(r.Context())
		assert.True(t, ok)
		assert.NotNil(t, state.Session)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRole(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		state      resolver.State
		err        error
		roles      []string
		wantStatus int
	}{
		{name: "admin allowed", state: signedIn("admin"), roles: []string{"admin"}, wantStatus: http.StatusOK},
		{name: "any of several roles", state: signedIn("member"), roles: []string{"admin", "member"}, wantStatus: http.StatusOK},
		{name: "wrong role", state: signedIn("viewer"), roles: []string{"admin"}, wantStatus: http.StatusForbidden},
		{name: "absent role", state: signedIn(""), roles: []string{"admin"}, wantStatus: http.StatusForbidden},
		{name: "no session", state: resolver.State{}, roles: []string{"admin"}, wantStatus: http.StatusUnauthorized},
		{name: "still resolving", state: resolver.State{Resolving: true}, err: context.DeadlineExceeded, roles: []string{"admin"}, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := new(MockStateSource)
			states.On("WaitSettled", mock.Anything).Return(tt.state, tt.err)

			m := NewRoleMiddleware(states, 10*time.Millisecond, logger)
			handler := m.RequireRole(tt.roles...)(okHandler(t))

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
			states.AssertExpectations(t)
		})
	}
}

func TestRequireSession(t *testing.T) {
	logger := zap.NewNop()

	t.Run("signed in without role passes", func(t *testing.T) {
		states := new(MockStateSource)
		states.On("WaitSettled", mock.Anything).Return(signedIn(""), nil)

		w := httptest.NewRecorder()
		NewRoleMiddleware(states, 0, logger).RequireSession(okHandler(t)).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("signed out is rejected", func(t *testing.T) {
		states := new(MockStateSource)
		states.On("WaitSettled", mock.Anything).Return(resolver.State{}, nil)

		w := httptest.NewRecorder()
		NewRoleMiddleware(states, 0, logger).RequireSession(okHandler(t)).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestNewRoleMiddleware_DefaultTimeout(t *testing.T) {
	m := NewRoleMiddleware(new(MockStateSource), 0, zap.NewNop())
	assert.Equal(t, DefaultSettleTimeout, m.settleTimeout)
}

func TestGetRequestIDFromContext(t *testing.T) {
	var got string
	handler := chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestIDFromContext(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, got)
	})

	t.Run("keeps incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(chimw.RequestIDHeader, "req-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "req-123", got)
	})
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestIDFromContext(ctx))
	_, ok := GetAuthStateFromContext(ctx)
	assert.False(t, ok)

	ctx = WithAuthState(context.WithValue(ctx, chimw.RequestIDKey, "r1"), signedIn("admin"))
	assert.Equal(t, "r1", GetRequestIDFromContext(ctx))
	state, ok := GetAuthStateFromContext(ctx)
	assert.True(t, ok)
	assert.True(t, state.Role.IsAdmin())
}
