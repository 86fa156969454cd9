package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no users row matches the id
	ErrNotFound = errors.New("user record not found")

	// ErrMultipleRows is returned when more than one users row matches the id
	ErrMultipleRows = errors.New("multiple user records found")
)

// RoleRepository reads the application role of a user from the users table
type RoleRepository interface {
	// GetRole returns the role column for userID. A NULL column yields (nil, nil).
	GetRole(ctx context.Context, userID uuid.UUID) (*string, error)
}

