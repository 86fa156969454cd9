package resolver

import (
	"context"
	"errors"
	"sync"

	"github.com/upb/authflow/models"
	"github.com/upb/authflow/provider"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a resolver that has been closed
var ErrClosed = errors.New("resolver closed")

// Provider is the part of the provider client the resolver consumes
type Provider interface {
	GetSession(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn provider.AuthStateListener) *provider.Subscription
	SignUp(ctx context.Context, req models.SignUpRequest) (*provider.SignUpResult, error)
	SignInWithPassword(ctx context.Context, creds models.Credentials) (*models.Session, error)
	SignOut(ctx context.Context) error
}

// State is a snapshot of who is signed in and what role they hold.
// Role is not authoritative while Resolving is true.
type State struct {
	Session   *models.Session
	Role      *models.UserRole
	Resolving bool
}

// Resolver keeps an eventually consistent view of the current session and role,
// re-derived on startup and on every auth-state change reported by the provider.
//
// Startup resolution and change notifications are not sequenced against each other;
// the last write wins. The mutex only guards memory.
type Resolver struct {
	provider Provider
	roles    *RoleLookup
	logger   *zap.Logger

	// ctx scopes lookups started from notifications; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	changed  chan struct{}
	started  bool
	closed   bool
	pass     uint64 // latest resolution pass; guarded by mu
	sub      *provider.Subscription
	nextID   uint64
	watchers map[uint64]func(State)
}

// New creates a resolver. It starts in the resolving state; call Start to run the first pass.
func New(p Provider, roles *RoleLookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if roles == nil {
		roles = NewRoleLookup(nil, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		provider: p,
		roles:    roles,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    State{Resolving: true},
		changed:  make(chan struct{}),
		watchers: make(map[uint64]func(State)),
	}
}

// Start subscribes to auth-state changes and resolves the persisted session.
// Provider and lookup failures are logged, not returned. Calling Start again is a no-op.
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	sub := r.provider.OnAuthStateChange(r.handleAuthChange)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Unsubscribe()
		return ErrClosed
	}
	r.sub = sub
	r.mu.Unlock()

	r.resolveInitial(ctx)
	return nil
}

func (r *Resolver) resolveInitial(ctx context.Context) {
	pass, ok := r.begin(nil)
	if !ok {
		return
	}

	session, err := r.provider.GetSession(ctx)
	if err != nil {
		r.logger.Error("failed to get current session", zap.Error(err))
		r.finish(pass, nil, nil)
		return
	}
	if session == nil {
		r.finish(pass, nil, nil)
		return
	}

	// a notification that arrived meanwhile is newer than the persisted session
	current := false
	r.update(func(s *State) {
		if r.pass == pass {
			r.setSession(s, session)
			current = true
		}
	})
	if !current {
		return
	}

	role := r.roles.Lookup(ctx, session)
	r.finish(pass, session, role)
}

func (r *Resolver) handleAuthChange(event models.AuthEvent, session *models.Session) {
	r.logger.Debug("auth state change received",
		zap.String("event", string(event)),
		zap.String("user_id", session.UserID()))

	if session == nil {
		r.update(func(s *State) {
			r.pass++
			s.Session = nil
			s.Role = nil
			s.Resolving = false
		})
		return
	}

	pass, ok := r.begin(func(s *State) { r.setSession(s, session) })
	if !ok {
		return
	}
	role := r.roles.Lookup(r.ctx, session)
	r.finish(pass, session, role)
}

// begin starts a resolution pass. It reports false once the resolver is closed.
func (r *Resolver) begin(fn func(*State)) (uint64, bool) {
	var pass uint64
	ok := r.update(func(s *State) {
		r.pass++
		pass = r.pass
		s.Resolving = true
		if fn != nil {
			fn(s)
		}
	})
	return pass, ok
}

// finish records role only while session is still the current one, and clears
// Resolving only when no newer pass has started.
func (r *Resolver) finish(pass uint64, session *models.Session, role *models.UserRole) {
	r.update(func(s *State) {
		if session != nil && s.Session != nil && s.Session.UserID() == session.UserID() {
			s.Role = role
		}
		if r.pass == pass {
			s.Resolving = false
		}
	})
}

// setSession drops the role when the principal changed so a stale label is never paired with a new user
func (r *Resolver) setSession(s *State, session *models.Session) {
	if s.Session.UserID() != session.UserID() {
		s.Role = nil
	}
	s.Session = session
}

// update applies fn and notifies watchers. It reports false once the resolver is closed.
func (r *Resolver) update(fn func(*State)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	fn(&r.state)
	snapshot := r.state
	close(r.changed)
	r.changed = make(chan struct{})
	watchers := make([]func(State), 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w(snapshot)
	}
	return true
}

// CurrentSession returns the current session or nil
func (r *Resolver) CurrentSession() *models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Session
}

// CurrentRole returns the current role or nil
func (r *Resolver) CurrentRole() *models.UserRole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Role
}

// IsResolving reports whether a resolution pass is in flight
func (r *Resolver) IsResolving() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Resolving
}

// State returns a consistent snapshot. The session is shared; treat it as read-only.
func (r *Resolver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// OnChange calls fn with every new state until the returned cancel func is called.
// fn may be called from more than one goroutine.
func (r *Resolver) OnChange(fn func(State)) (cancel func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// WaitSettled blocks until no resolution pass is in flight
func (r *Resolver) WaitSettled(ctx context.Context) (State, error) {
	for {
		r.mu.RLock()
		st := r.state
		ch := r.changed
		closed := r.closed
		r.mu.RUnlock()

		if !st.Resolving {
			return st, nil
		}
		if closed {
			return st, ErrClosed
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// SignUp registers through the provider. Session and role change only via the resulting notification.
func (r *Resolver) SignUp(ctx context.Context, req models.SignUpRequest) (*provider.SignUpResult, error) {
	return r.provider.SignUp(ctx, req)
}

// SignIn signs in through the provider
func (r *Resolver) SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	return r.provider.SignInWithPassword(ctx, creds)
}

// SignOut signs out through the provider
func (r *Resolver) SignOut(ctx context.Context) error {
	return r.provider.SignOut(ctx)
}

// RoleLookupPrivileged reports whether the privileged tier is wired
func (r *Resolver) RoleLookupPrivileged() bool {
	return r.roles.Privileged()
}

// Close unsubscribes from the provider. No state changes are applied afterwards.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sub := r.sub
	r.sub = nil
	close(r.changed)
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	r.cancel()
	r.logger.Debug("resolver closed")
}
