package api

import (
	"context"
	"fmt"
	"net/http"
)

// Login exchanges credentials for a token pair and the user record. The call
// skips the Authorization header; persisting the result is the session
// manager's job.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	var result wireAuthResult
	err := c.do(ctx, http.MethodPost, "/auth/login-email", nil, creds, &result, reqOpts{skipAuth: true})
	if err != nil {
		return AuthResult{}, fmt.Errorf("login: %w", err)
	}
	return AuthResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User.Domain(),
	}, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	var result wireAuthResult
	err := c.do(ctx, http.MethodPost, "/auth/signup", nil, req, &result, reqOpts{skipAuth: true})
	if err != nil {
		return AuthResult{}, fmt.Errorf("signup: %w", err)
	}
	return AuthResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User.Domain(),
	}, nil
}

// Me re-fetches the authenticated user record.
func (c *Client) Me(ctx context.Context) (User, error) {
	var w WireUser
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &w, reqOpts{}); err != nil {
		return User{}, fmt.Errorf("fetch current user: %w", err)
	}
	return w.Domain(), nil
}
