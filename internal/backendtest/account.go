package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/macrobox/macrobox-cli/internal/model"
)

// PlanEntry is one saved day-plan line.
type PlanEntry struct {
	MealID    string `json:"mealId"`
	TimeOfDay string `json:"timeOfDay"`
}

var timesOfDay = map[string]bool{"breakfast": true, "lunch": true, "snack": true, "dinner": true}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// VerifyToken returns the pending verification token mailed to email.
func (s *Server) VerifyToken(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	for tok, e := range s.verifyTokens {
		if e == email {
			return tok, true
		}
	}
	return "", false
}

// DayPlan returns the plan last saved by userID.
func (s *Server) DayPlan(userID string) []PlanEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlanEntry(nil), s.plans[userID]...)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if len(req.Password) < 6 {
		respondError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		respondError(w, http.StatusBadRequest, "User already exists")
		return
	}
	s.nextUser++
	s.accounts[email] = account{
		password: req.Password,
		user: model.User{
			ID:    fmt.Sprintf("new%d", s.nextUser),
			Name:  req.Name,
			Email: email,
			Role:  "user",
		},
	}
	s.verifyTokens[newToken()] = email
	respondJSON(w, http.StatusCreated, map[string]string{
		"message": "Signup successful. Please check your email to verify your account.",
	})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.verifyTokens[tok]
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid or expired verification link")
		return
	}
	delete(s.verifyTokens, tok)
	acc := s.accounts[email]
	acc.verified = true
	s.accounts[email] = acc
	respondJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	email, ok := decodeEmail(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, exists := s.accounts[email]
	if !exists {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if acc.verified {
		respondError(w, http.StatusBadRequest, "Email already verified")
		return
	}
	for tok, e := range s.verifyTokens {
		if e == email {
			delete(s.verifyTokens, tok)
		}
	}
	s.verifyTokens[newToken()] = email
	respondJSON(w, http.StatusOK, map[string]string{"message": "Verification email sent"})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	email, ok := decodeEmail(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; !exists {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	tok := newToken()
	s.resetTokens[tok] = email
	respondJSON(w, http.StatusOK, map[string]string{
		"message":   "Password reset link generated.",
		"resetLink": s.Server.URL + "/reset-password/" + tok,
	})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if len(req.Password) < 6 {
		respondError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.resetTokens[tok]
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid or expired token")
		return
	}
	delete(s.resetTokens, tok)
	acc := s.accounts[email]
	acc.password = req.Password
	s.accounts[email] = acc
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password reset successful"})
}

func (s *Server) getMeal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meals {
		if m.ID == id {
			respondJSON(w, http.StatusOK, m)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Meal not found")
}

func (s *Server) saveDayPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []PlanEntry `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "Plan has no meals")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range req.Items {
		if !timesOfDay[it.TimeOfDay] {
			respondError(w, http.StatusBadRequest, "Invalid time of day: "+it.TimeOfDay)
			return
		}
		if !s.hasMeal(it.MealID) {
			respondError(w, http.StatusBadRequest, "Meal not found")
			return
		}
	}
	s.plans[userFrom(r.Context())] = req.Items
	respondJSON(w, http.StatusOK, map[string]string{"message": "Plan saved"})
}

// hasMeal expects s.mu held.
func (s *Server) hasMeal(id string) bool {
	for _, m := range s.meals {
		if m.ID == id {
			return true
		}
	}
	return false
}

func decodeEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return "", false
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		respondError(w, http.StatusBadRequest, "Email is required")
		return "", false
	}
	return email, true
}
