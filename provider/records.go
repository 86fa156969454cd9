package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/upb/authflow/utils"
)

// UserRole reads the role column of the users record for userID.
// accessToken scopes the query to the caller's row-level permissions; empty falls back to the API key.
// A NULL role yields "" with no error.
func (c *Client) UserRole(ctx context.Context, accessToken, userID string) (string, error) {
	if err := utils.ValidateUUID(userID); err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}

	query := url.Values{
		"select": {"role"},
		"id":     {"eq." + userID},
	}

	var rows []struct {
		Role *string `json:"role"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/v1/users", query, accessToken, nil, &rows); err != nil {
		return "", fmt.Errorf("query users role: %w", err)
	}

	switch len(rows) {
	case 0:
		return "", ErrRecordNotFound
	case 1:
		if rows[0].Role == nil {
			return "", nil
		}
		return *rows[0].Role, nil
	default:
		return "", fmt.Errorf("%w: %d rows for user %s", ErrMultipleRecords, len(rows), userID)
	}
}
