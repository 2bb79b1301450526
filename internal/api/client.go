// Package api is the JSON client for the storefront backend. It attaches the
// session token to every request and transparently refreshes it once on 401.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/logging"
	"github.com/macrobox/macrobox-cli/internal/storage"
)

const (
	DefaultBaseURL = "http://localhost:5000/api"

	headerIdempotencyKey = "X-Idempotency-Key"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Session    storage.KV

	log     *slog.Logger
	refresh *refresher
}

func New(baseURL string, httpClient *http.Client, session storage.KV) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		Session:    session,
		log:        logging.New("api"),
		refresh:    &refresher{},
	}
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
	// noRefresh disables the 401 interceptor, e.g. for login and refresh.
	noRefresh bool
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal %s %s payload: %w", req.method, req.path, err)
		}
		payload = b
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	body, err := c.send(ctx, req, payload, token)
	if errors.Is(err, ErrUnauthorized) && !req.noRefresh {
		c.log.Debug("request unauthorized, refreshing token", "method", req.method, "path", req.path)
		fresh, rerr := c.refreshOnce(ctx, token)
		if rerr != nil {
			return rerr
		}
		body, err = c.send(ctx, req, payload, fresh)
	}
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.method, req.path, err)
	}
	return nil
}

// refreshOnce returns a usable token for a request that failed with stale.
// If another refresh already replaced stale, the stored token is reused.
func (c *Client) refreshOnce(ctx context.Context, stale string) (string, error) {
	current, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	if current != "" && current != stale {
		return current, nil
	}
	return c.refresh.await(ctx, c.runRefresh)
}

func (c *Client) runRefresh(ctx context.Context) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	body, err := c.send(ctx, request{method: http.MethodPost, path: "/auth/refresh"}, nil, token)
	if err == nil {
		err = json.Unmarshal(body, &resp)
		if err == nil && resp.Token == "" {
			err = fmt.Errorf("refresh response carried no token")
		}
	}
	if err != nil {
		c.log.Warn("token refresh failed, dropping session", "error", err)
		c.dropSession(ctx)
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if err := c.Session.Set(ctx, storage.KeyToken, []byte(resp.Token)); err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}
	c.log.Info("token refreshed")
	return resp.Token, nil
}

func (c *Client) send(ctx context.Context, req request, payload []byte, token string) ([]byte, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, baseURL+req.path, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s %s request: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", req.method, req.path, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, req.method, req.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s response: %v", ErrUnreachable, req.method, req.path, err)
	}
	c.log.Debug("backend response", "method", req.method, "path", req.path, "status", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if m := strings.TrimSpace(parsed.Message); m != "" {
		return m
	}
	return strings.TrimSpace(parsed.Error)
}

func (c *Client) token(ctx context.Context) (string, error) {
	raw, err := c.Session.Get(ctx, storage.KeyToken)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session token: %w", err)
	}
	return string(raw), nil
}

func (c *Client) dropSession(ctx context.Context) {
	for _, key := range []string{storage.KeyToken, storage.KeyUser} {
		if err := c.Session.Delete(ctx, key); err != nil {
			c.log.Error("drop session slot failed", "key", key, "error", err)
		}
	}
}
