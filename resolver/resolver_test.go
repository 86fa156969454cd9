package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/provider"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// MockProvider is a mock implementation of Provider backed by a real event hub
type MockProvider struct {
	mock.Mock
	hub *provider.EventHub
}

func newMockProvider() *MockProvider {
	return &MockProvider{hub: provider.NewEventHub(zap.NewNop())}
}

func (m *MockProvider) GetSession(ctx context.Context) (*models.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*models.Session)
	return session, args.Error(1)
}

func (m *MockProvider) OnAuthStateChange(fn provider.AuthStateListener) *provider.Subscription {
	return m.hub.Subscribe(fn)
}

func (m *MockProvider) SignUp(ctx context.Context, req models.SignUpRequest) (*provider.SignUpResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*provider.SignUpResult)
	return result, args.Error(1)
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	args := m.Called(ctx, creds)
	session, _ := args.Get(0).(*models.Session)
	return session, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockRoleSource is a mock implementation of RoleSource
type MockRoleSource struct {
	mock.Mock
}

func (m *MockRoleSource) UserRole(ctx context.Context, accessToken, userID string) (string, error) {
	args := m.Called(ctx, accessToken, userID)
	return args.String(0), args.Error(1)
}

// MockAdminUserGetter is a mock implementation of AdminUserGetter
type MockAdminUserGetter struct {
	mock.Mock
}

func (m *MockAdminUserGetter) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func testSession(userID string) *models.Session {
	return &models.Session{
		AccessToken: "access-" + userID,
		User:        models.User{ID: userID, Email: userID + "@example.com"},
	}
}

func settle(t *testing.T, r *Resolver) State {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := r.WaitSettled(ctx)
	require.NoError(t, err)
	return st
}

func roleOf(st State) string {
	if st.Role == nil {
		return ""
	}
	return st.Role.String()
}

func TestResolver_StartsResolving(t *testing.T) {
	r := New(newMockProvider(), nil, zap.NewNop())
	defer r.Close()

	assert.True(t, r.IsResolving())
	assert.Nil(t, r.CurrentSession())
	assert.Nil(t, r.CurrentRole())
}

func TestResolver_Start(t *testing.T) {
	userID := uuid.New().String()

	tests := []struct {
		name        string
		session     *models.Session
		sessionErr  error
		setupRoles  func(*MockRoleSource)
		wantSession bool
		wantRole    string
	}{
		{
			name:    "no active session",
			session: nil,
		},
		{
			name:       "session fetch fails",
			sessionErr: errors.New("connection refused"),
		},
		{
			name:    "session with admin row",
			session: testSession(userID),
			setupRoles: func(m *MockRoleSource) {
				m.On("UserRole", mock.Anything, "access-"+userID, userID).Return("admin", nil)
			},
			wantSession: true,
			wantRole:    "admin",
		},
		{
			name:    "session with zero rows",
			session: testSession(userID),
			setupRoles: func(m *MockRoleSource) {
				m.On("UserRole", mock.Anything, mock.Anything, userID).Return("", provider.ErrRecordNotFound)
			},
			wantSession: true,
		},
		{
			name:    "session with failing lookup",
			session: testSession(userID),
			setupRoles: func(m *MockRoleSource) {
				m.On("UserRole", mock.Anything, mock.Anything, userID).Return("", errors.New("permission denied"))
			},
			wantSession: true,
		},
		{
			name:    "session with null role column",
			session: testSession(userID),
			setupRoles: func(m *MockRoleSource) {
				m.On("UserRole", mock.Anything, mock.Anything, userID).Return("", nil)
			},
			wantSession: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMockProvider()
			p.On("GetSession", mock.Anything).Return(tt.session, tt.sessionErr)

			roles := new(MockRoleSource)
			if tt.setupRoles != nil {
				tt.setupRoles(roles)
			}

			r := New(p, NewRoleLookup(roles, zaptest.NewLogger(t)), zaptest.NewLogger(t))
			defer r.Close()

			require.NoError(t, r.Start(context.Background()))

			st := settle(t, r)
			assert.False(t, st.Resolving)
			assert.Equal(t, tt.wantSession, st.Session != nil)
			assert.Equal(t, tt.wantRole, roleOf(st))
			if tt.wantRole == "" {
				assert.Nil(t, r.CurrentRole())
			}

			p.AssertExpectations(t)
			roles.AssertExpectations(t)
		})
	}
}

func TestResolver_SignedOutEventClearsState(t *testing.T) {
	userID := uuid.New().String()
	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(testSession(userID), nil)

	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, mock.Anything, userID).Return("admin", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Start(context.Background()))

	st := settle(t, r)
	require.NotNil(t, st.Session)
	require.Equal(t, "admin", roleOf(st))

	p.hub.Emit(models.EventSignedOut, nil)

	assert.Eventually(t, func() bool {
		st := r.State()
		return st.Session == nil && st.Role == nil && !st.Resolving
	}, time.Second, 5*time.Millisecond)
}

func TestResolver_SignedInEventResolvesRole(t *testing.T) {
	userID := uuid.New().String()
	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(nil, nil)

	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, "access-"+userID, userID).Return("member", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Start(context.Background()))
	settle(t, r)

	p.hub.Emit(models.EventSignedIn, testSession(userID))

	assert.Eventually(t, func() bool {
		st := r.State()
		return st.Session.UserID() == userID && roleOf(st) == "member" && !st.Resolving
	}, time.Second, 5*time.Millisecond)
}

func TestResolver_ResolvingWhileLookupInFlight(t *testing.T) {
	userID := uuid.New().String()
	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(nil, nil)

	release := make(chan struct{})
	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, mock.Anything, userID).
		Run(func(mock.Arguments) { <-release }).
		Return("viewer", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Start(context.Background()))
	settle(t, r)

	p.hub.Emit(models.EventSignedIn, testSession(userID))

	assert.Eventually(t, func() bool {
		st := r.State()
		return st.Resolving && st.Session.UserID() == userID
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, r.CurrentRole())

	close(release)
	st := settle(t, r)
	assert.Equal(t, "viewer", roleOf(st))
}

func TestResolver_NewUserDropsStaleRole(t *testing.T) {
	first := uuid.New().String()
	second := uuid.New().String()

	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(testSession(first), nil)

	release := make(chan struct{})
	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, mock.Anything, first).Return("admin", nil)
	roles.On("UserRole", mock.Anything, mock.Anything, second).
		Run(func(mock.Arguments) { <-release }).
		Return("viewer", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Start(context.Background()))
	require.Equal(t, "admin", roleOf(settle(t, r)))

	p.hub.Emit(models.EventSignedIn, testSession(second))
	assert.Eventually(t, func() bool {
		return r.CurrentSession().UserID() == second
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, r.CurrentRole())

	close(release)
	assert.Equal(t, "viewer", roleOf(settle(t, r)))
}

// startBlocked runs Start with the persisted session's role lookup held until release is closed
func startBlocked(t *testing.T, p *MockProvider, roles *MockRoleSource, userID string) (*Resolver, chan struct{}, chan error) {
	t.Helper()
	p.On("GetSession", mock.Anything).Return(testSession(userID), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	roles.On("UserRole", mock.Anything, mock.Anything, userID).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("admin", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	t.Cleanup(r.Close)

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("startup lookup did not begin")
	}
	return r, release, done
}

func TestResolver_LateStartupRoleNotAppliedToNewUser(t *testing.T) {
	first := uuid.New().String()
	second := uuid.New().String()

	p := newMockProvider()
	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, mock.Anything, second).Return("viewer", nil)
	r, release, done := startBlocked(t, p, roles, first)

	p.hub.Emit(models.EventSignedIn, testSession(second))
	assert.Eventually(t, func() bool {
		st := r.State()
		return st.Session.UserID() == second && roleOf(st) == "viewer" && !st.Resolving
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	st := r.State()
	assert.Equal(t, second, st.Session.UserID())
	assert.Equal(t, "viewer", roleOf(st))
	assert.False(t, st.Resolving)
}

func TestResolver_LateStartupRoleNotAppliedAfterSignOut(t *testing.T) {
	p := newMockProvider()
	roles := new(MockRoleSource)
	r, release, done := startBlocked(t, p, roles, uuid.New().String())

	p.hub.Emit(models.EventSignedOut, nil)
	assert.Eventually(t, func() bool {
		st := r.State()
		return st.Session == nil && !st.Resolving
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	st := r.State()
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Role)
	assert.False(t, st.Resolving)
}

func TestResolver_SignUpDoesNotMutateState(t *testing.T) {
	userID := uuid.New().String()
	req := models.SignUpRequest{Credentials: models.Credentials{Email: "new@example.com", Password: "secret123"}}

	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(nil, nil)
	p.On("SignUp", mock.Anything, req).Return(&provider.SignUpResult{
		User:    models.User{ID: userID},
		Session: testSession(userID),
	}, nil)

	r := New(p, nil, zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Start(context.Background()))
	settle(t, r)

	result, err := r.SignUp(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, userID, result.User.ID)

	st := r.State()
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Role)
	assert.False(t, st.Resolving)
	p.AssertExpectations(t)
}

func TestResolver_SignInAndSignOutDelegate(t *testing.T) {
	creds := models.Credentials{Email: "user@example.com", Password: "secret123"}
	p := newMockProvider()
	p.On("SignInWithPassword", mock.Anything, creds).Return(nil, errors.New("Invalid login credentials"))
	p.On("SignOut", mock.Anything).Return(nil)

	r := New(p, nil, zap.NewNop())
	defer r.Close()

	_, err := r.SignIn(context.Background(), creds)
	assert.EqualError(t, err, "Invalid login credentials")
	assert.NoError(t, r.SignOut(context.Background()))
	p.AssertExpectations(t)
}

func TestResolver_Close(t *testing.T) {
	userID := uuid.New().String()
	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(nil, nil)

	roles := new(MockRoleSource)
	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	require.NoError(t, r.Start(context.Background()))
	settle(t, r)
	assert.Equal(t, 1, p.hub.Count())

	r.Close()
	r.Close()
	assert.Equal(t, 0, p.hub.Count())

	p.hub.Emit(models.EventSignedIn, testSession(userID))
	time.Sleep(20 * time.Millisecond)

	st := r.State()
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Role)
	roles.AssertNotCalled(t, "UserRole", mock.Anything, mock.Anything, mock.Anything)

	assert.ErrorIs(t, r.Start(context.Background()), ErrClosed)
}

func TestResolver_CloseDuringLookupDiscardsResult(t *testing.T) {
	userID := uuid.New().String()
	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, mock.Anything, userID).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return("admin", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	require.NoError(t, r.Start(context.Background()))
	settle(t, r)

	p.hub.Emit(models.EventSignedIn, testSession(userID))
	<-entered
	r.Close()
	close(release)

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, r.CurrentRole())
}

func TestResolver_WaitSettled(t *testing.T) {
	t.Run("times out before start", func(t *testing.T) {
		r := New(newMockProvider(), nil, zap.NewNop())
		defer r.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		st, err := r.WaitSettled(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, st.Resolving)
	})

	t.Run("closed while resolving", func(t *testing.T) {
		r := New(newMockProvider(), nil, zap.NewNop())
		r.Close()

		_, err := r.WaitSettled(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestResolver_OnChange(t *testing.T) {
	userID := uuid.New().String()
	p := newMockProvider()
	p.On("GetSession", mock.Anything).Return(testSession(userID), nil)

	roles := new(MockRoleSource)
	roles.On("UserRole", mock.Anything, mock.Anything, userID).Return("admin", nil)

	r := New(p, NewRoleLookup(roles, zap.NewNop()), zap.NewNop())
	defer r.Close()

	var mu sync.Mutex
	var seen []State
	cancel := r.OnChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	require.NoError(t, r.Start(context.Background()))
	settle(t, r)

	mu.Lock()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	count := len(seen)
	mu.Unlock()
	assert.False(t, last.Resolving)
	assert.Equal(t, "admin", roleOf(last))

	cancel()
	p.hub.Emit(models.EventSignedOut, nil)
	assert.Eventually(t, func() bool { return r.CurrentSession() == nil }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, seen, count)
	mu.Unlock()
}
