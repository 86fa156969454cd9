package resolver

import (
	"context"
	"errors"

	"github.com/upb/authflow/models"
	"github.com/upb/authflow/provider"
	"github.com/upb/authflow/repositories"
	"go.uber.org/zap"
)

// AdminUserGetter reads a user from the identity store with elevated credentials
type AdminUserGetter interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// RoleSource reads the role column of the users record store.
// Implemented by provider.Client (REST) and postgres.UserRepository (direct).
type RoleSource interface {
	UserRole(ctx context.Context, accessToken, userID string) (string, error)
}

// RoleLookup resolves the role label of a session's user.
// The privileged tier runs only when configured; the record store is the primary source otherwise.
type RoleLookup struct {
	admin   AdminUserGetter
	records RoleSource
	logger  *zap.Logger
}

// RoleLookupOption configures a RoleLookup
type RoleLookupOption func(*RoleLookup)

// WithPrivilegedTier enables the admin identity-store lookup ahead of the record store.
// Only pass a service-role client in server-side deployments.
func WithPrivilegedTier(admin AdminUserGetter) RoleLookupOption {
	return func(l *RoleLookup) { l.admin = admin }
}

// NewRoleLookup creates a role lookup over the given record store
func NewRoleLookup(records RoleSource, logger *zap.Logger, opts ...RoleLookupOption) *RoleLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &RoleLookup{records: records, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Privileged reports whether the admin tier is wired
func (l *RoleLookup) Privileged() bool {
	return l.admin != nil
}

// Lookup returns the role for session's user, or nil when none can be determined.
// Failures are logged and never returned.
func (l *RoleLookup) Lookup(ctx context.Context, session *models.Session) *models.UserRole {
	userID := session.UserID()
	if userID == "" {
		return nil
	}
	logger := l.logger.With(zap.String("user_id", userID))

	if l.admin != nil {
		user, err := l.admin.GetUserByID(ctx, userID)
		if err != nil {
			logger.Warn("privileged role lookup failed, falling back to users table", zap.Error(err))
		} else if role, ok := user.MetadataRole(); ok {
			logger.Debug("role resolved from user metadata", zap.String("role", role))
			return models.RoleFromString(role)
		}
	}

	if l.records == nil {
		logger.Warn("no role record store configured")
		return nil
	}

	role, err := l.records.UserRole(ctx, session.AccessToken, userID)
	switch {
	case errors.Is(err, provider.ErrRecordNotFound), errors.Is(err, repositories.ErrNotFound):
		logger.Warn("no users record for session user")
		return nil
	case err != nil:
		logger.Warn("role lookup failed", zap.Error(err))
		return nil
	}

	logger.Debug("role resolved from users table", zap.String("role", role))
	return models.RoleFromString(role)
}
