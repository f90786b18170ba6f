package api

import (
	"context"
	"fmt"
)

// GetLoginUser returns the user behind the current session. It returns
// ErrNotLoggedIn when the session is anonymous or expired.
func (c *Client) GetLoginUser(ctx context.Context) (*LoginUser, error) {
	var user LoginUser
	if err := c.get(ctx, c.loginPath, nil, &user); err != nil {
		return nil, fmt.Errorf("get login user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("get login user: %w", ErrNotLoggedIn)
	}

	c.logger.Debug("resolved login user",
		"user_id", user.ID,
		"user_role", user.UserRole,
	)
	return &user, nil
}
