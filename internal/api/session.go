package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/storage"
)

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Login authenticates and persists the token and user in the session slots.
func (c *Client) Login(ctx context.Context, email, password string) (model.User, error) {
	var resp loginResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      map[string]string{"email": email, "password": password},
		noRefresh: true,
	}, &resp)
	if err != nil {
		return model.User{}, err
	}
	if resp.Token == "" {
		return model.User{}, fmt.Errorf("login response carried no token")
	}
	if err := c.storeSession(ctx, resp.Token, resp.User); err != nil {
		return model.User{}, err
	}
	c.log.Info("logged in", "user_id", resp.User.ID)
	return resp.User, nil
}

// Logout tells the backend (best effort) and clears local session slots.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/logout", noRefresh: true}, nil); err != nil {
		c.log.Warn("backend logout failed", "error", err)
	}
	for _, key := range []string{storage.KeyToken, storage.KeyUser} {
		if err := c.Session.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear session %s: %w", key, err)
		}
	}
	return nil
}

// RestoreSession returns the stored user when a token is present and not
// expired at now. An expired token is dropped along with the user.
func (c *Client) RestoreSession(ctx context.Context, now time.Time) (model.User, bool, error) {
	token, err := c.token(ctx)
	if err != nil {
		return model.User{}, false, err
	}
	if token == "" {
		return model.User{}, false, nil
	}
	if TokenExpired(token, now) {
		c.log.Info("stored token expired, clearing session")
		c.dropSession(ctx)
		return model.User{}, false, nil
	}

	raw, err := c.Session.Get(ctx, storage.KeyUser)
	if errors.Is(err, storage.ErrNotFound) {
		return model.User{}, true, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("read session user: %w", err)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		c.log.Warn("stored user is malformed", "error", err)
		return model.User{}, true, nil
	}
	return u, true, nil
}

// TokenExpired reads the exp claim without verifying the signature; the
// client has no key and only wants to avoid sending a token known to be dead.
// Tokens that cannot be parsed count as expired. A token without exp does not.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

func (c *Client) storeSession(ctx context.Context, token string, u model.User) error {
	if err := c.Session.Set(ctx, storage.KeyToken, []byte(token)); err != nil {
		return fmt.Errorf("store session token: %w", err)
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal session user: %w", err)
	}
	if err := c.Session.Set(ctx, storage.KeyUser, raw); err != nil {
		return fmt.Errorf("store session user: %w", err)
	}
	return nil
}
