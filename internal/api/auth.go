package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/ticket-console/internal/domain"
)

// Login exchanges credentials for a token pair and persists it. A 401
// here is a credential failure, never a refresh trigger.
func (c *Client) Login(ctx context.Context, username, password string) (domain.TokenPair, error) {
	var pair domain.TokenPair
	err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/token/",
		Body:   domain.Credentials{Username: username, Password: password},
		Out:    &pair,
	})
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := c.session.SetTokens(pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("persist tokens: %w", err)
	}
	return pair, nil
}

// Logout discards the stored token pair.
func (c *Client) Logout() error {
	return c.session.Clear()
}

// Me fetches the authenticated user.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var user domain.User
	err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/auth/me/",
		Out:    &user,
	})
	return user, err
}

// Register creates an account. Field-level validation failures come
// back as a 400 with per-field messages.
func (c *Client) Register(ctx context.Context, reg domain.Registration) (domain.User, error) {
	var user domain.User
	err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/register/",
		Body:   reg,
		Out:    &user,
	})
	return user, err
}

// AccessTokenExpiry reports the stored access token's expiry claim
// without verifying the signature (the token is opaque credential
// material; only the server verifies it). Returns false when signed
// out or when the token carries no expiry.
func (c *Client) AccessTokenExpiry() (exp int64, ok bool) {
	access := c.session.Tokens().Access
	if access == "" {
		return 0, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return 0, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return 0, false
	}
	return date.Unix(), true
}
