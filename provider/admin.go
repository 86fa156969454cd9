package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/upb/authflow/models"
	"github.com/upb/authflow/utils"
)

// AdminClient calls the provider's admin API with the service-role key.
// The key bypasses row-level security, so only build one in server-side deployments.
type AdminClient struct {
	*transport
}

// NewAdminClient creates an admin client. It fails fast when either value is empty.
func NewAdminClient(rawURL, serviceRoleKey string, opts ...Option) (*AdminClient, error) {
	t, err := newTransport(rawURL, serviceRoleKey, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &AdminClient{transport: t}, nil
}

// GetUserByID fetches a user record, including user_metadata, from the identity store
func (a *AdminClient) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if err := utils.ValidateUUID(userID); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	var user models.User
	if err := a.do(ctx, http.MethodGet, "/auth/v1/admin/users/"+userID, nil, "", nil, &user); err != nil {
		return nil, fmt.Errorf("admin get user: %w", err)
	}
	return &user, nil
}
