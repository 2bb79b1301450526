// Package backendtest runs an in-process storefront backend for tests. It
// speaks the same JSON routes as the real API, issues HS256 tokens, prices
// coupons and checks payment signatures.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
	"github.com/shopspring/decimal"
)

const (
	KeyID         = "rzp_test_macrobox"
	PaymentSecret = "sandbox-secret"
	TokenTTL      = time.Hour
)

type account struct {
	password string
	verified bool
	user     model.User
}

type order struct {
	model.Order
	userID          string
	razorpayOrderID string
	amount          int64
}

type Server struct {
	*httptest.Server

	// RefreshGate, when set, holds /auth/refresh until it is closed.
	RefreshGate chan struct{}
	// FailRefresh makes /auth/refresh answer 401.
	FailRefresh atomic.Bool
	// FailCreateOrder makes create-order answer 500 with no message.
	FailCreateOrder atomic.Bool

	Refreshes    atomic.Int32
	Unauthorized atomic.Int32
	Created      atomic.Int32

	secret []byte

	mu         sync.Mutex
	accounts   map[string]account
	meals      []model.Meal
	coupons    map[string]model.Coupon
	orders     map[string]*order
	byGateway  map[string]string
	byIdemKey  map[string]string
	lastCreate map[string]any
	now        func() time.Time

	verifyTokens map[string]string
	resetTokens  map[string]string
	plans        map[string][]PlanEntry
	nextUser     int
}

func New() *Server {
	s := &Server{
		secret:    []byte("backendtest-jwt-secret"),
		accounts:  map[string]account{},
		coupons:   map[string]model.Coupon{},
		orders:    map[string]*order{},
		byGateway: map[string]string{},
		byIdemKey: map[string]string{},
		now:       time.Now,

		verifyTokens: map[string]string{},
		resetTokens:  map[string]string{},
		plans:        map[string][]PlanEntry{},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// APIURL is the API root, suitable for api.New.
func (s *Server) APIURL() string {
	return s.Server.URL + "/api"
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)
		r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
		r.Post("/auth/signup", s.signup)
		r.Post("/auth/forgot-password", s.forgotPassword)
		r.Post("/auth/reset-password/{token}", s.resetPassword)
		r.Get("/auth/verify-email/{token}", s.verifyEmail)
		r.Post("/auth/resend-verification", s.resendVerification)
		r.Get("/meals", s.listMeals)
		r.Get("/meals/{id}", s.getMeal)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/coupons/apply", s.applyCoupon)
			r.Get("/coupons/available", s.availableCoupons)
			r.Post("/checkout/create-order", s.createOrder)
			r.Post("/checkout/verify", s.verify)
			r.Get("/orders", s.listOrders)
			r.Post("/user/day-plan", s.saveDayPlan)
		})
	})
	return r
}

// AddUser registers an already verified account.
func (s *Server) AddUser(email, password string, u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(email)] = account{password: password, verified: true, user: u}
}

func (s *Server) AddMeal(m model.Meal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meals = append(s.meals, m)
}

func (s *Server) AddCoupon(c model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[strings.ToUpper(c.Code)] = c
}

// Token issues a token for userID that expires ttl from now (negative for an
// already expired token).
func (s *Server) Token(userID string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("sign test token: %v", err))
	}
	return signed
}

// OrderStatus reports the payment status of a backend order.
func (s *Server) OrderStatus(orderID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return "", false
	}
	return o.Payment.Status, true
}

// LastCreateOrder returns the decoded body of the most recent create-order.
func (s *Server) LastCreateOrder() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCreate
}

func (s *Server) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type ctxKey struct{}

func (s *Server) parse(r *http.Request, opts ...jwt.ParserOption) (string, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return "", false
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return "", false
	}
	return claims.Subject, true
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.parse(r)
		if !ok {
			s.Unauthorized.Add(1)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		r = r.WithContext(contextWithUser(r.Context(), userID))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || acc.password != req.Password {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !acc.verified {
		respondError(w, http.StatusForbidden, "Please verify your email before logging in")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token": s.Token(acc.user.ID, TokenTTL),
		"user":  acc.user,
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.Refreshes.Add(1)
	if s.RefreshGate != nil {
		<-s.RefreshGate
	}
	if s.FailRefresh.Load() {
		respondError(w, http.StatusUnauthorized, "Session expired")
		return
	}
	userID, ok := s.parse(r, jwt.WithoutClaimsValidation())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Session expired")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": s.Token(userID, TokenTTL)})
}

func (s *Server) listMeals(w http.ResponseWriter, r *http.Request) {
	featured := r.URL.Query().Get("featured")
	s.mu.Lock()
	out := make([]model.Meal, 0, len(s.meals))
	for _, m := range s.meals {
		if featured == "" || (featured == "true") == m.Featured {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, out)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		respondJSON(w, status, map[string]string{})
		return
	}
	respondJSON(w, status, map[string]string{"message": message})
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func signature(orderID, paymentID string) string {
	return payment.Sign(PaymentSecret, orderID, paymentID)
}
