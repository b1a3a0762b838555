package api

import (
	"context"
	"fmt"
	"net/http"
)

// ListUsers returns the visible user directory, degrading to an empty slice on
// failure so an unreachable directory never blocks the board from rendering.
func (c *Client) ListUsers(ctx context.Context) []User {
	var wire []WireUser
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &wire, reqOpts{}); err != nil {
		c.log.Warn().Err(err).Msg("user list degraded to empty")
		return []User{}
	}
	users := make([]User, 0, len(wire))
	for _, w := range wire {
		users = append(users, w.Domain())
	}
	return users
}

func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var w WireUser
	if err := c.do(ctx, http.MethodGet, "/users/"+id, nil, nil, &w, reqOpts{}); err != nil {
		return User{}, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return w.Domain(), nil
}
