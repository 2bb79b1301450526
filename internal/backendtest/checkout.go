package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
	"github.com/shopspring/decimal"
)

func contextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func userFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// discount prices a coupon against total. It returns the user-facing
// rejection message when the coupon does not apply.
func (s *Server) discount(code string, total decimal.Decimal) (decimal.Decimal, string) {
	c, ok := s.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return decimal.Zero, "Invalid coupon code"
	}
	now := s.now()
	if (c.ValidFrom != nil && now.Before(*c.ValidFrom)) || (c.ValidTo != nil && now.After(*c.ValidTo)) {
		return decimal.Zero, "Coupon expired"
	}
	if total.LessThan(money(c.MinCartTotal)) {
		return decimal.Zero, fmt.Sprintf("Minimum cart total is ₹%s", money(c.MinCartTotal).String())
	}
	var d decimal.Decimal
	switch c.Type {
	case "percent":
		d = total.Mul(money(c.Value)).Div(decimal.NewFromInt(100)).Round(2)
		if c.MaxDiscount > 0 && d.GreaterThan(money(c.MaxDiscount)) {
			d = money(c.MaxDiscount)
		}
	default:
		d = money(c.Value)
	}
	if d.GreaterThan(total) {
		d = total
	}
	return d, ""
}

func (s *Server) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string  `json:"code"`
		CartTotal float64 `json:"cartTotal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		respondError(w, http.StatusBadRequest, "Coupon code is required")
		return
	}
	s.mu.Lock()
	d, reason := s.discount(req.Code, money(req.CartTotal))
	s.mu.Unlock()
	if reason != "" {
		respondError(w, http.StatusBadRequest, reason)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"code":     strings.ToUpper(strings.TrimSpace(req.Code)),
		"discount": d.InexactFloat64(),
	})
}

func (s *Server) availableCoupons(w http.ResponseWriter, r *http.Request) {
	total, err := strconv.ParseFloat(r.URL.Query().Get("cartTotal"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "cartTotal is required")
		return
	}
	s.mu.Lock()
	out := make([]model.Coupon, 0, len(s.coupons))
	for code, c := range s.coupons {
		if _, reason := s.discount(code, money(total)); reason == "" {
			out = append(out, c)
		}
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, out)
}

type createOrderBody struct {
	Items []struct {
		MealID   string  `json:"mealId"`
		Title    string  `json:"title"`
		Price    float64 `json:"price"`
		Qty      int     `json:"qty"`
		Protein  float64 `json:"protein"`
		Calories float64 `json:"calories"`
	} `json:"items"`
	CouponCode   string          `json:"couponCode"`
	Address      model.Address   `json:"address"`
	DeliverySlot model.OrderSlot `json:"deliverySlot"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	s.Created.Add(1)
	if s.FailCreateOrder.Load() {
		respondError(w, http.StatusInternalServerError, "")
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	encoded, _ := json.Marshal(raw)
	var req createOrderBody
	if err := json.Unmarshal(encoded, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	if !req.Address.Complete() {
		respondError(w, http.StatusBadRequest, "Delivery address is incomplete")
		return
	}
	if req.DeliverySlot.Date == "" || req.DeliverySlot.Time == "" {
		respondError(w, http.StatusBadRequest, "Delivery slot is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCreate = raw

	key := r.Header.Get("X-Idempotency-Key")
	if id, ok := s.byIdemKey[key]; ok && key != "" {
		o := s.orders[id]
		respondJSON(w, http.StatusOK, s.handle(o))
		return
	}

	subtotal, protein, calories := decimal.Zero, decimal.Zero, decimal.Zero
	for _, it := range req.Items {
		q := decimal.NewFromInt(int64(it.Qty))
		subtotal = subtotal.Add(money(it.Price).Mul(q))
		protein = protein.Add(money(it.Protein).Mul(q))
		calories = calories.Add(money(it.Calories).Mul(q))
	}
	d := decimal.Zero
	if req.CouponCode != "" {
		var reason string
		d, reason = s.discount(req.CouponCode, subtotal)
		if reason != "" {
			respondError(w, http.StatusBadRequest, reason)
			return
		}
	}
	payable := subtotal.Sub(d)
	if payable.IsNegative() {
		payable = decimal.Zero
	}

	n := len(s.orders) + 1
	o := &order{
		Order: model.Order{
			ID:        fmt.Sprintf("ord_%04d", n),
			CreatedAt: s.now().UTC().Truncate(time.Second),
			Totals: model.OrderTotals{
				Subtotal:      subtotal.InexactFloat64(),
				Discount:      d.InexactFloat64(),
				Payable:       payable.InexactFloat64(),
				TotalProtein:  protein.InexactFloat64(),
				TotalCalories: calories.InexactFloat64(),
			},
			Delivery: model.OrderDelivery{Address: req.Address, Slot: req.DeliverySlot},
			Payment:  model.OrderPayment{Status: "pending"},
		},
		userID:          userFrom(r.Context()),
		razorpayOrderID: fmt.Sprintf("order_rzp%04d", n),
		amount:          payable.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
	}
	s.orders[o.ID] = o
	s.byGateway[o.razorpayOrderID] = o.ID
	if key != "" {
		s.byIdemKey[key] = o.ID
	}
	respondJSON(w, http.StatusOK, s.handle(o))
}

func (s *Server) handle(o *order) model.OrderHandle {
	return model.OrderHandle{
		OrderID:         o.ID,
		RazorpayOrderID: o.razorpayOrderID,
		Amount:          o.amount,
		Currency:        "INR",
		KeyID:           KeyID,
	}
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
		payment.Proof
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[req.OrderID]
	if !ok || s.byGateway[req.Proof.OrderID] != req.OrderID {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	if req.Signature != signature(req.Proof.OrderID, req.PaymentID) {
		o.Payment.Status = "failed"
		respondError(w, http.StatusBadRequest, "Payment verification failed")
		return
	}
	o.Payment.Status = "paid"
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	s.mu.Lock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.userID == userID {
			out = append(out, o.Order)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	respondJSON(w, http.StatusOK, out)
}
