package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is the coarse access label attached to the current user
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
	RoleViewer UserRole = "viewer"
)

// RoleFromString returns nil for an empty label so absence stays distinguishable
func RoleFromString(s string) *UserRole {
	if s == "" {
		return nil
	}
	r := UserRole(s)
	return &r
}

// String returns the label value
func (r UserRole) String() string {
	return string(r)
}

// User is the identity record held by the auth provider
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role,omitempty"` // provider audience role, e.g. "authenticated"
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at,omitempty"`
}

// UserRecord is a row of the users table the role lookup reads from
type UserRecord struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Role *string   `json:"role" db:"role"`
}

// TableName returns the table name for the UserRecord model
func (UserRecord) TableName() string {
	return "users"
}

// MetadataRole returns the role stored in user_metadata, if any
func (u *User) MetadataRole() (string, bool) {
	if u == nil || u.UserMetadata == nil {
		return "", false
	}
	role, ok := u.UserMetadata["role"].(string)
	if !ok || role == "" {
		return "", false
	}
	return role, true
}

// IsAdmin returns true if the role is admin
func (r *UserRole) IsAdmin() bool {
	return r != nil && *r == RoleAdmin
}
