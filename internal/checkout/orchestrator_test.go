package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/macrobox/macrobox-cli/internal/api"
	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
	"github.com/macrobox/macrobox-cli/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sandboxSecret = "test-secret"

type memLedger struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (l *memLedger) SaveAttempt(_ context.Context, a Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
	return nil
}

func (l *memLedger) statuses() []AttemptStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AttemptStatus, 0, len(l.attempts))
	for _, a := range l.attempts {
		out = append(out, a.Status)
	}
	return out
}

type fixture struct {
	backend *MockBackend
	cart    *cart.Store
	widget  *payment.SandboxWidget
	ledger  *memLedger
	o       *Orchestrator
	now     time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		backend: NewMockBackend(ctrl),
		cart:    cart.Open(context.Background(), storage.NewMemoryKV()),
		widget:  &payment.SandboxWidget{Secret: sandboxSecret},
		ledger:  &memLedger{},
		now:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.o = New(Deps{Cart: f.cart, Backend: f.backend, Widget: f.widget, Ledger: f.ledger}, cfg)
	return f
}

func validAddress() model.Address {
	return model.Address{
		FullName: "Asha Rao",
		Phone:    "9999999999",
		Line1:    "12 MG Road",
		City:     "Pune",
		State:    "MH",
		Pincode:  "411001",
	}
}

// ready fills the cart with m1 x2 at 199 and picks a valid address and slot.
func (f *fixture) ready() {
	meal := model.Item{ID: "m1", Title: "Chicken Bowl", Price: 199, Protein: 35, Calories: 520}
	f.cart.Add(meal)
	f.cart.Add(meal)
	f.o.SetAddress(validAddress())
	f.o.SetSlotDate("2025-03-10", f.now)
	f.o.SetSlotHour(14)
}

func handle() model.OrderHandle {
	return model.OrderHandle{OrderID: "ord_1", RazorpayOrderID: "order_rzp1", Amount: 34800, Currency: "INR", KeyID: "rzp_test"}
}

func TestCheckoutPaidWithCoupon(t *testing.T) {
	f := newFixture(t, Config{})
	f.ready()
	ctx := context.Background()

	f.o.SetCouponInput("SAVE50")
	f.backend.EXPECT().ApplyCoupon(gomock.Any(), "SAVE50", 398.0).
		Return(model.CouponApplication{Code: "SAVE50", Discount: 50}, nil)
	require.NoError(t, f.o.ApplyCoupon(ctx))
	assert.Equal(t, "348", f.o.Payable().String())
	assert.Equal(t, Message{Kind: KindSuccess, Text: "Coupon applied! You saved ₹50"}, f.o.Messages().Coupon)

	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req api.CreateOrderRequest, key string) (model.OrderHandle, error) {
			assert.NotEmpty(t, key)
			assert.Equal(t, "SAVE50", req.CouponCode)
			assert.Equal(t, model.OrderSlot{Date: "2025-03-10", Time: "14:00"}, req.DeliverySlot)
			require.Len(t, req.Items, 1)
			assert.Equal(t, api.OrderItem{MealID: "m1", Title: "Chicken Bowl", Price: 199, Qty: 2, Protein: 35, Calories: 520}, req.Items[0])
			return handle(), nil
		})
	f.backend.EXPECT().VerifyPayment(gomock.Any(), "ord_1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p payment.Proof) error {
			assert.Equal(t, "order_rzp1", p.OrderID)
			assert.True(t, payment.VerifySignature(sandboxSecret, p))
			return nil
		})

	res, err := f.o.Checkout(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, res.Outcome)
	assert.Equal(t, "ord_1", res.OrderID)
	assert.Equal(t, "348", res.Payable.String())

	v := f.o.View()
	assert.Equal(t, Completed, v.State)
	assert.Equal(t, Message{Kind: KindSuccess, Text: "Payment successful ✅"}, v.Messages.Checkout)
	assert.True(t, v.Messages.Coupon.Empty())
	assert.Equal(t, "", v.CouponInput)
	assert.Nil(t, v.Applied)
	assert.True(t, v.Discount.IsZero())
	assert.Equal(t, 0, f.cart.Len())
	assert.Equal(t, []AttemptStatus{AttemptPending, AttemptCompleted}, f.ledger.statuses())
}

func TestCheckoutCancelledKeepsCart(t *testing.T) {
	f := newFixture(t, Config{})
	f.ready()
	f.widget.Mode = payment.SandboxDismiss
	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)

	res, err := f.o.Checkout(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)

	assert.Equal(t, Idle, f.o.State())
	assert.Equal(t, Message{Kind: KindInfo, Text: "Payment cancelled."}, f.o.Messages().Checkout)
	assert.Equal(t, 2, f.cart.Count())
	assert.Equal(t, []AttemptStatus{AttemptPending, AttemptCancelled}, f.ledger.statuses())
}

func TestValidationKeepsFieldErrorsSeparate(t *testing.T) {
	f := newFixture(t, Config{})
	f.cart.Add(model.Item{ID: "m1", Price: 199})
	ctx := context.Background()

	f.o.SetCouponInput("OLD")
	f.backend.EXPECT().ApplyCoupon(gomock.Any(), "OLD", 199.0).Return(model.CouponApplication{}, errors.New("boom"))
	require.Error(t, f.o.ApplyCoupon(ctx))

	f.o.SetAddress(model.Address{FullName: "Asha"})
	res, err := f.o.Checkout(ctx, f.now)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, OutcomeInvalid, res.Outcome)

	msgs := f.o.Messages()
	assert.Equal(t, Message{Kind: KindError, Text: "Please fill complete delivery address."}, msgs.Address)
	assert.Equal(t, Message{Kind: KindError, Text: "Please select delivery time."}, msgs.Slot)
	assert.True(t, msgs.Checkout.Empty())
	assert.Equal(t, Message{Kind: KindError, Text: "Coupon expired"}, msgs.Coupon)

	f.o.SetAddress(validAddress())
	f.o.SetSlotDate("2025-03-10", f.now)
	f.o.SetSlotHour(10)
	_, err = f.o.Checkout(ctx, f.now)
	require.ErrorIs(t, err, ErrValidation)
	msgs = f.o.Messages()
	assert.True(t, msgs.Address.Empty())
	assert.Equal(t, "Time slot is not available.", msgs.Slot.Text)
	assert.Equal(t, Idle, f.o.State())
	assert.Empty(t, f.ledger.statuses())
}

func TestEmptyCartIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.o.SetAddress(validAddress())
	f.o.SetSlotDate("2025-03-11", f.now)

	_, err := f.o.Checkout(context.Background(), f.now)
	require.ErrorIs(t, err, ErrValidation)
	msgs := f.o.Messages()
	assert.Equal(t, "Your cart is empty.", msgs.Checkout.Text)
	assert.True(t, msgs.Address.Empty())
	assert.True(t, msgs.Slot.Empty())
}

func TestWidgetLoadFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.ready()
	f.widget.Mode = payment.SandboxFailLoad
	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)

	res, err := f.o.Checkout(context.Background(), f.now)
	require.ErrorIs(t, err, ErrWidgetLoad)
	assert.ErrorIs(t, err, payment.ErrLoad)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, Message{Kind: KindError, Text: "Razorpay failed to load. Try again."}, f.o.Messages().Checkout)
	assert.Equal(t, 2, f.cart.Count())
	assert.Equal(t, Idle, f.o.State())
	assert.Equal(t, []AttemptStatus{AttemptPending, AttemptFailed}, f.ledger.statuses())
}

func TestVerifyFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, Config{})
	f.ready()
	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)
	f.backend.EXPECT().VerifyPayment(gomock.Any(), "ord_1", gomock.Any()).
		Return(&api.APIError{Status: 400, Message: "Signature mismatch"}).Times(1)

	res, err := f.o.Checkout(context.Background(), f.now)
	require.ErrorIs(t, err, ErrVerify)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, Message{Kind: KindError, Text: "Signature mismatch"}, f.o.Messages().Checkout)
	assert.Equal(t, 2, f.cart.Count())
	assert.Equal(t, Idle, f.o.State())
}

func TestCreateOrderFailureFallsBackToGenericMessage(t *testing.T) {
	f := newFixture(t, Config{})
	f.ready()
	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(model.OrderHandle{}, &api.APIError{Status: 500})

	_, err := f.o.Checkout(context.Background(), f.now)
	require.ErrorIs(t, err, ErrCreateOrder)
	assert.Equal(t, "Failed to create order", f.o.Messages().Checkout.Text)
	assert.Equal(t, []AttemptStatus{AttemptFailed}, f.ledger.statuses())
}

func TestPaymentTimeoutAbandonsAttempt(t *testing.T) {
	f := newFixture(t, Config{PaymentTimeout: 30 * time.Millisecond})
	f.ready()
	f.widget.Mode = payment.SandboxHang
	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)

	res, err := f.o.Checkout(context.Background(), f.now)
	require.ErrorIs(t, err, ErrAbandoned)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Equal(t, "Payment was not completed in time.", f.o.Messages().Checkout.Text)
	assert.Equal(t, 2, f.cart.Count())
	assert.Equal(t, []AttemptStatus{AttemptPending, AttemptAbandoned}, f.ledger.statuses())
}

func TestConcurrentCheckoutIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.ready()
	f.widget.Mode = payment.SandboxHang
	f.backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.o.Checkout(ctx, f.now)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.o.State() == AwaitingPayment }, 2*time.Second, 5*time.Millisecond)

	_, err := f.o.Checkout(context.Background(), f.now)
	require.ErrorIs(t, err, ErrCheckoutBusy)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrAbandoned)
	case <-time.After(2 * time.Second):
		t.Fatalf("checkout did not return after cancellation")
	}
	assert.Equal(t, "Checkout interrupted.", f.o.Messages().Checkout.Text)
	assert.Equal(t, Idle, f.o.State())
}

type doubleWidget struct{}

func (doubleWidget) Open(_ context.Context, opts payment.Options, cb payment.Callbacks) error {
	go func() {
		cb.OnDismiss()
		cb.OnSuccess(payment.Proof{OrderID: opts.OrderID, PaymentID: "pay_late", Signature: "x"})
	}()
	return nil
}

func TestOnlyFirstContinuationCounts(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	c := cart.Open(context.Background(), storage.NewMemoryKV())
	o := New(Deps{Cart: c, Backend: backend, Widget: doubleWidget{}}, Config{})
	c.Add(model.Item{ID: "m1", Price: 100})
	o.SetAddress(validAddress())
	o.SetSlotDate("2025-03-11", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))

	backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)
	res, err := o.Checkout(context.Background(), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestLedgerFailureDoesNotFailCheckout(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	ledger := NewMockLedger(ctrl)
	c := cart.Open(context.Background(), storage.NewMemoryKV())
	o := New(Deps{
		Cart:    c,
		Backend: backend,
		Widget:  &payment.SandboxWidget{Mode: payment.SandboxDismiss},
		Ledger:  ledger,
	}, Config{})
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c.Add(model.Item{ID: "m1", Price: 100})
	o.SetAddress(validAddress())
	o.SetSlotDate("2025-03-11", now)

	backend.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any()).Return(handle(), nil)
	ledger.EXPECT().SaveAttempt(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).Times(2)

	res, err := o.Checkout(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestSetSlotDateReselectsHour(t *testing.T) {
	f := newFixture(t, Config{})
	noon := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

	f.o.SetSlotHour(9)
	f.o.SetSlotDate("2025-03-10", noon)
	assert.Equal(t, model.DeliverySlot{Date: "2025-03-10", Hour: 16}, f.o.View().Slot)

	f.o.SetSlotDate("2025-03-11", noon)
	assert.Equal(t, 16, f.o.View().Slot.Hour)

	late := time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)
	f.o.SetSlotDate("2025-03-10", late)
	assert.Equal(t, 0, f.o.View().Slot.Hour)

	f.o.SetAddress(validAddress())
	f.cart.Add(model.Item{ID: "m1", Price: 10})
	assert.False(t, f.o.Validate(late))
	assert.Equal(t, "Please select delivery time.", f.o.Messages().Slot.Text)
}
