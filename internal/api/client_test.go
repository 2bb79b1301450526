package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/macrobox/macrobox-cli/internal/backendtest"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
	"github.com/macrobox/macrobox-cli/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddUser("asha@example.com", "pw", model.User{ID: "u1", Name: "Asha", Email: "asha@example.com", Role: "user"})
	return srv
}

func sessionWith(t *testing.T, token string) *storage.MemoryKV {
	t.Helper()
	kv := storage.NewMemoryKV()
	if token != "" {
		require.NoError(t, kv.Set(context.Background(), storage.KeyToken, []byte(token)))
	}
	return kv
}

func TestConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	srv := newBackend(t)
	srv.RefreshGate = make(chan struct{})
	stale := srv.Token("u1", -time.Minute)
	kv := sessionWith(t, stale)
	c := New(srv.APIURL(), srv.Client(), kv)

	const n = 6
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.ListOrders(context.Background())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return c.refresh.pending() == n }, 3*time.Second, 5*time.Millisecond)
	close(srv.RefreshGate)

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), srv.Refreshes.Load())
	assert.Equal(t, 1, c.refresh.count())
	assert.Equal(t, int32(n), srv.Unauthorized.Load())

	fresh, err := kv.Get(context.Background(), storage.KeyToken)
	require.NoError(t, err)
	assert.NotEqual(t, stale, string(fresh))
	assert.False(t, TokenExpired(string(fresh), time.Now()))
}

func TestFailedRefreshRejectsEveryWaiter(t *testing.T) {
	srv := newBackend(t)
	srv.RefreshGate = make(chan struct{})
	srv.FailRefresh.Store(true)
	kv := sessionWith(t, srv.Token("u1", -time.Minute))
	require.NoError(t, kv.Set(context.Background(), storage.KeyUser, []byte(`{"_id":"u1"}`)))
	c := New(srv.APIURL(), srv.Client(), kv)

	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.AvailableCoupons(context.Background(), 100)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return c.refresh.pending() == n }, 3*time.Second, 5*time.Millisecond)
	close(srv.RefreshGate)

	for i := 0; i < n; i++ {
		err := <-errs
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, "Session expired", Describe(err))
	}
	assert.Equal(t, int32(1), srv.Refreshes.Load())

	_, err := kv.Get(context.Background(), storage.KeyToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = kv.Get(context.Background(), storage.KeyUser)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetriedRequestIsNotRefreshedTwice(t *testing.T) {
	var refreshes, calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			refreshes++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"still-bad"}`))
			return
		}
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
	}))
	defer ts.Close()

	c := New(ts.URL+"/api", ts.Client(), sessionWith(t, "bad"))
	_, err := c.ListOrders(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, calls)
}

func TestLoginRestoreAndLogout(t *testing.T) {
	srv := newBackend(t)
	kv := storage.NewMemoryKV()
	c := New(srv.APIURL(), srv.Client(), kv)
	ctx := context.Background()

	_, err := c.Login(ctx, "asha@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", Describe(err))
	assert.Equal(t, int32(0), srv.Refreshes.Load())

	u, err := c.Login(ctx, "asha@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Asha", u.Name)

	restored, ok, err := c.RestoreSession(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", restored.ID)

	_, ok, err = c.RestoreSession(ctx, time.Now().Add(2*backendtest.TokenTTL))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = kv.Get(ctx, storage.KeyToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = c.Login(ctx, "asha@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))
	_, ok, err = c.RestoreSession(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	srv := newBackend(t)
	now := time.Now()
	assert.False(t, TokenExpired(srv.Token("u1", time.Hour), now))
	assert.True(t, TokenExpired(srv.Token("u1", -time.Second), now))
	assert.True(t, TokenExpired("not-a-jwt", now))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "Coupon expired", Describe(&APIError{Status: 400, Message: "Coupon expired"}))
	assert.Equal(t, "Server error. Please try again later.", Describe(&APIError{Status: 502}))
	assert.Equal(t, "Unexpected error occurred.", Describe(errors.New("boom")))

	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	c := New(url, nil, storage.NewMemoryKV())
	_, err := c.ListMeals(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, "Cannot reach server. Check your network connection.", Describe(err))
}

func TestListMealsFeaturedFilter(t *testing.T) {
	srv := newBackend(t)
	srv.AddMeal(model.Meal{ID: "m1", Title: "Chicken Bowl", Price: 199, Featured: true})
	srv.AddMeal(model.Meal{ID: "m2", Title: "Paneer Wrap", Price: 149})
	c := New(srv.APIURL(), srv.Client(), storage.NewMemoryKV())

	all, err := c.ListMeals(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	yes := true
	featured, err := c.ListMeals(context.Background(), &yes)
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, "m1", featured[0].ID)
}

func TestCouponEndpoints(t *testing.T) {
	srv := newBackend(t)
	srv.AddCoupon(model.Coupon{Code: "SAVE50", Type: "flat", Value: 50})
	past := time.Now().Add(-24 * time.Hour)
	srv.AddCoupon(model.Coupon{Code: "OLD", Type: "flat", Value: 10, ValidTo: &past})
	c := New(srv.APIURL(), srv.Client(), sessionWith(t, srv.Token("u1", time.Hour)))
	ctx := context.Background()

	applied, err := c.ApplyCoupon(ctx, "save50", 398)
	require.NoError(t, err)
	assert.Equal(t, model.CouponApplication{Code: "SAVE50", Discount: 50, Subtotal: 398}, applied)

	_, err = c.ApplyCoupon(ctx, "OLD", 398)
	require.Error(t, err)
	assert.Equal(t, "Coupon expired", Describe(err))

	available, err := c.AvailableCoupons(ctx, 398)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "SAVE50", available[0].Code)
}

func TestCreateOrderIsIdempotentAndVerifies(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.APIURL(), srv.Client(), sessionWith(t, srv.Token("u1", time.Hour)))
	ctx := context.Background()

	req := CreateOrderRequest{
		Items: ItemsFromLines([]model.CartLine{{ItemID: "m1", Title: "Bowl", UnitPrice: 199, Quantity: 2}}),
		Address: model.Address{
			FullName: "Asha", Phone: "9999999999", Line1: "12 MG Road",
			City: "Pune", State: "MH", Pincode: "411001",
		},
		DeliverySlot: model.OrderSlot{Date: "2025-03-11", Time: "09:00"},
	}
	first, err := c.CreateOrder(ctx, req, "attempt-1")
	require.NoError(t, err)
	again, err := c.CreateOrder(ctx, req, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, srv.OrderCount())
	assert.Equal(t, int64(39800), first.Amount)
	assert.Equal(t, backendtest.KeyID, first.KeyID)

	body := srv.LastCreateOrder()
	items := body["items"].([]any)
	assert.Equal(t, "m1", items[0].(map[string]any)["mealId"])
	assert.NotContains(t, body, "couponCode")

	bad := payment.Proof{OrderID: first.RazorpayOrderID, PaymentID: "pay_1", Signature: "forged"}
	err = c.VerifyPayment(ctx, first.OrderID, bad)
	require.Error(t, err)
	assert.Equal(t, "Payment verification failed", Describe(err))

	good := payment.Proof{
		OrderID:   first.RazorpayOrderID,
		PaymentID: "pay_1",
		Signature: payment.Sign(backendtest.PaymentSecret, first.RazorpayOrderID, "pay_1"),
	}
	require.NoError(t, c.VerifyPayment(ctx, first.OrderID, good))
	status, _ := srv.OrderStatus(first.OrderID)
	assert.Equal(t, "paid", status)

	orders, err := c.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 398.0, orders[0].Totals.Payable)
}

func TestListOrdersDecodesTotalsDeliveryAndPayment(t *testing.T) {
	srv := newBackend(t)
	srv.AddCoupon(model.Coupon{Code: "SAVE50", Type: "flat", Value: 50})
	c := New(srv.APIURL(), srv.Client(), sessionWith(t, srv.Token("u1", time.Hour)))
	other := New(srv.APIURL(), srv.Client(), sessionWith(t, srv.Token("u2", time.Hour)))
	ctx := context.Background()

	addr := model.Address{
		FullName: "Asha", Phone: "9999999999", Line1: "12 MG Road",
		City: "Pune", State: "MH", Pincode: "411001",
		LocationMode: model.LocationModeManual, LocationText: "Near Deccan Gymkhana",
	}
	lines := []model.CartLine{
		{ItemID: "m1", Title: "Bowl", UnitPrice: 199, ProteinGrams: 35, Calories: 520, Quantity: 2},
		{ItemID: "m2", Title: "Wrap", UnitPrice: 149, ProteinGrams: 22, Calories: 430, Quantity: 1},
	}
	paid, err := c.CreateOrder(ctx, CreateOrderRequest{
		Items: ItemsFromLines(lines), CouponCode: "SAVE50", Address: addr,
		DeliverySlot: model.OrderSlot{Date: "2025-03-11", Time: "13:00"},
	}, "attempt-paid")
	require.NoError(t, err)
	require.NoError(t, c.VerifyPayment(ctx, paid.OrderID, payment.Proof{
		OrderID:   paid.RazorpayOrderID,
		PaymentID: "pay_2",
		Signature: payment.Sign(backendtest.PaymentSecret, paid.RazorpayOrderID, "pay_2"),
	}))
	_, err = c.CreateOrder(ctx, CreateOrderRequest{
		Items: ItemsFromLines(lines[:1]), Address: addr,
		DeliverySlot: model.OrderSlot{Date: "2025-03-12", Time: "07:00"},
	}, "attempt-pending")
	require.NoError(t, err)
	_, err = other.CreateOrder(ctx, CreateOrderRequest{
		Items: ItemsFromLines(lines[:1]), Address: addr,
		DeliverySlot: model.OrderSlot{Date: "2025-03-12", Time: "08:00"},
	}, "attempt-other")
	require.NoError(t, err)

	orders, err := c.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	first := orders[0]
	assert.Equal(t, paid.OrderID, first.ID)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Equal(t, model.OrderTotals{Subtotal: 547, Discount: 50, Payable: 497, TotalProtein: 92, TotalCalories: 1470}, first.Totals)
	assert.Equal(t, model.OrderSlot{Date: "2025-03-11", Time: "13:00"}, first.Delivery.Slot)
	assert.Equal(t, "Pune", first.Delivery.Address.City)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=Near+Deccan+Gymkhana", first.Delivery.Address.MapsLink())
	assert.Equal(t, "paid", first.Payment.Status)

	assert.Equal(t, "pending", orders[1].Payment.Status)
	assert.Equal(t, 199.0, orders[1].Totals.Payable)
}

func TestSignupVerifyThenLogin(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	c := New(srv.APIURL(), srv.Client(), sessionWith(t, ""))

	msg, err := c.Signup(ctx, "Ravi", "Ravi@Example.com", "secret1")
	require.NoError(t, err)
	assert.Contains(t, msg, "verify")

	_, err = c.Signup(ctx, "Ravi", "ravi@example.com", "secret1")
	assert.Equal(t, "User already exists", Describe(err))

	_, err = c.Login(ctx, "ravi@example.com", "secret1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	first, ok := srv.VerifyToken("ravi@example.com")
	require.True(t, ok)
	msg, err = c.ResendVerification(ctx, "ravi@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Verification email sent", msg)

	_, err = c.VerifyEmail(ctx, first)
	assert.Equal(t, "Invalid or expired verification link", Describe(err), "resend replaces the old link")

	tok, ok := srv.VerifyToken("ravi@example.com")
	require.True(t, ok)
	msg, err = c.VerifyEmail(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "Email verified successfully", msg)

	u, err := c.Login(ctx, "ravi@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", u.Name)

	_, err = c.ResendVerification(ctx, "ravi@example.com")
	assert.Equal(t, "Email already verified", Describe(err))
}

func TestForgotAndResetPassword(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	c := New(srv.APIURL(), srv.Client(), sessionWith(t, ""))

	_, err := c.ForgotPassword(ctx, "nobody@example.com")
	assert.Equal(t, "User not found", Describe(err))

	link, err := c.ForgotPassword(ctx, "asha@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, link.Message)
	require.Contains(t, link.ResetLink, "/reset-password/")
	tok := link.ResetLink[strings.LastIndex(link.ResetLink, "/")+1:]

	_, err = c.ResetPassword(ctx, tok, "abc")
	assert.Equal(t, "Password must be at least 6 characters", Describe(err))

	msg, err := c.ResetPassword(ctx, tok, "newpass1")
	require.NoError(t, err)
	assert.Equal(t, "Password reset successful", msg)

	_, err = c.ResetPassword(ctx, tok, "newpass2")
	assert.Equal(t, "Invalid or expired token", Describe(err))

	_, err = c.Login(ctx, "asha@example.com", "pw")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = c.Login(ctx, "asha@example.com", "newpass1")
	assert.NoError(t, err)
}

func TestSaveDayPlanAndGetMeal(t *testing.T) {
	srv := newBackend(t)
	srv.AddMeal(model.Meal{ID: "m1", Title: "Paneer Bowl", Price: 199, Protein: 35, Calories: 520})
	ctx := context.Background()

	anon := New(srv.APIURL(), srv.Client(), sessionWith(t, ""))
	err := anon.SaveDayPlan(ctx, []PlanItem{{MealID: "m1", TimeOfDay: "lunch"}})
	assert.ErrorIs(t, err, ErrUnauthorized)

	m, err := anon.GetMeal(ctx, " m1 ")
	require.NoError(t, err)
	assert.Equal(t, "Paneer Bowl", m.Title)
	_, err = anon.GetMeal(ctx, "m9")
	assert.Equal(t, "Meal not found", Describe(err))

	c := New(srv.APIURL(), srv.Client(), sessionWith(t, srv.Token("u1", time.Hour)))
	require.NoError(t, c.SaveDayPlan(ctx, []PlanItem{{MealID: "m1", TimeOfDay: "lunch"}}))
	assert.Equal(t, []backendtest.PlanEntry{{MealID: "m1", TimeOfDay: "lunch"}}, srv.DayPlan("u1"))

	err = c.SaveDayPlan(ctx, []PlanItem{{MealID: "m1", TimeOfDay: "brunch"}})
	assert.Equal(t, "Invalid time of day: brunch", Describe(err))
}
