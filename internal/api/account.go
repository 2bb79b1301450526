package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/macrobox/macrobox-cli/internal/model"
)

// Times of day a meal can be planned for.
var TimesOfDay = []string{"breakfast", "lunch", "snack", "dinner"}

// PlanItem assigns one meal to a time of day.
type PlanItem struct {
	MealID    string `json:"mealId"`
	TimeOfDay string `json:"timeOfDay"`
}

// ResetLink is the forgot-password response. The development backend hands
// back the link it would have mailed.
type ResetLink struct {
	Message   string `json:"message"`
	ResetLink string `json:"resetLink"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Signup registers an account. The backend mails a verification link; the
// account cannot log in until it is followed.
func (c *Client) Signup(ctx context.Context, name, email, password string) (string, error) {
	var resp messageResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/signup",
		body:      map[string]string{"name": name, "email": email, "password": password},
		noRefresh: true,
	}, &resp)
	if err != nil {
		return "", err
	}
	c.log.Info("signed up", "email", email)
	return resp.Message, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (ResetLink, error) {
	var resp ResetLink
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/forgot-password",
		body:      map[string]string{"email": email},
		noRefresh: true,
	}, &resp)
	if err != nil {
		return ResetLink{}, err
	}
	return resp, nil
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) (string, error) {
	var resp messageResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/reset-password/" + url.PathEscape(token),
		body:      map[string]string{"password": password},
		noRefresh: true,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	var resp messageResponse
	err := c.do(ctx, request{
		method:    http.MethodGet,
		path:      "/auth/verify-email/" + url.PathEscape(token),
		noRefresh: true,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) ResendVerification(ctx context.Context, email string) (string, error) {
	var resp messageResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/resend-verification",
		body:      map[string]string{"email": email},
		noRefresh: true,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// SaveDayPlan stores the signed-in user's plan for the day.
func (c *Client) SaveDayPlan(ctx context.Context, items []PlanItem) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/user/day-plan",
		body:   map[string]any{"items": items},
	}, nil)
}

func (c *Client) GetMeal(ctx context.Context, id string) (model.Meal, error) {
	var m model.Meal
	if err := c.do(ctx, request{method: http.MethodGet, path: "/meals/" + url.PathEscape(strings.TrimSpace(id))}, &m); err != nil {
		return model.Meal{}, err
	}
	return m, nil
}

// ValidTimeOfDay reports whether t is one of TimesOfDay.
func ValidTimeOfDay(t string) bool {
	for _, v := range TimesOfDay {
		if v == t {
			return true
		}
	}
	return false
}
