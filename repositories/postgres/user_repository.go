package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/repositories"
	"go.uber.org/zap"
)

// UserRepository implements repositories.RoleRepository over a direct connection
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

var _ repositories.RoleRepository = (*UserRepository)(nil)

// GetRole reads the role column for userID.
// The query is not LIMITed so duplicate ids surface as ErrMultipleRows instead of an arbitrary pick.
func (r *UserRepository) GetRole(ctx context.Context, userID uuid.UUID) (*string, error) {
	query := `
		SELECT id, role
		FROM ` + models.UserRecord{}.TableName() + `
		WHERE id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user role: %w", err)
	}
	defer rows.Close()

	var records []models.UserRecord
	for rows.Next() {
		var rec models.UserRecord
		if err := rows.Scan(&rec.ID, &rec.Role); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user roles: %w", err)
	}

	switch len(records) {
	case 0:
		return nil, fmt.Errorf("%w: %s", repositories.ErrNotFound, userID)
	case 1:
		r.logger.Debug("user role loaded", zap.String("user_id", userID.String()))
		return records[0].Role, nil
	default:
		return nil, fmt.Errorf("%w: %d rows for %s", repositories.ErrMultipleRows, len(records), userID)
	}
}

// UserRole adapts GetRole to the record-store lookup used by the resolver.
// accessToken is unused: a direct connection is not subject to row-level policies.
func (r *UserRepository) UserRole(ctx context.Context, accessToken, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	role, err := r.GetRole(ctx, id)
	if err != nil {
		return "", err
	}
	if role == nil {
		return "", nil
	}
	return *role, nil
}
