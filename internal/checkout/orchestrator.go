// Package checkout drives one cart from validation through order creation,
// payment and verification. It owns the coupon, address and slot selection
// shown next to the cart.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/macrobox/macrobox-cli/internal/api"
	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/logging"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
	"github.com/macrobox/macrobox-cli/internal/slot"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCheckoutBusy = errors.New("checkout already in progress")
	ErrValidation   = errors.New("checkout validation failed")
	ErrCreateOrder  = errors.New("create order failed")
	ErrWidgetLoad   = errors.New("payment widget failed to load")
	ErrVerify       = errors.New("payment verification failed")
	ErrAbandoned    = errors.New("payment abandoned")
	ErrCouponStale  = errors.New("cart changed while the coupon was priced")
)

type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

type Result struct {
	Outcome   Outcome
	AttemptID string
	OrderID   string
	Payable   decimal.Decimal
}

type Config struct {
	Currency    string
	StoreName   string
	Description string
	// PaymentTimeout bounds the wait for the widget. Zero waits until the
	// widget reports or the context ends.
	PaymentTimeout time.Duration
}

type Deps struct {
	Cart    *cart.Store
	Backend Backend
	Widget  payment.Widget
	// Ledger is optional.
	Ledger Ledger
}

type Orchestrator struct {
	cart    *cart.Store
	backend Backend
	widget  payment.Widget
	ledger  Ledger
	cfg     Config
	log     *slog.Logger
	flight  singleflight.Group

	mu          sync.Mutex
	state       State
	busy        bool
	msgs        Messages
	couponInput string
	applied     *model.CouponApplication
	discount    decimal.Decimal
	eligible    []model.Coupon
	eligibleFor *decimal.Decimal
	watching    bool
	address     model.Address
	slot        model.DeliverySlot
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "MacroBox"
	}
	if cfg.Description == "" {
		cfg.Description = "Meal Order"
	}
	o := &Orchestrator{
		cart:     deps.Cart,
		backend:  deps.Backend,
		widget:   deps.Widget,
		ledger:   deps.Ledger,
		cfg:      cfg,
		log:      logging.New("checkout"),
		discount: decimal.Zero,
	}
	deps.Cart.Subscribe(o.onCartChange)
	return o
}

// View is a consistent snapshot of everything checkout shows.
type View struct {
	State       State
	Messages    Messages
	CouponInput string
	Applied     *model.CouponApplication
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Payable     decimal.Decimal
	Address     model.Address
	Slot        model.DeliverySlot
}

func (o *Orchestrator) View() View {
	totals := o.cart.Totals()
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{
		State:       o.state,
		Messages:    o.msgs,
		CouponInput: o.couponInput,
		Subtotal:    totals.Subtotal,
		Discount:    o.discount,
		Payable:     payable(totals.Subtotal, o.discount),
		Address:     o.address,
		Slot:        o.slot,
	}
	if o.applied != nil {
		a := *o.applied
		v.Applied = &a
	}
	return v
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Messages() Messages {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgs
}

// Payable is max(subtotal - discount, 0).
func (o *Orchestrator) Payable() decimal.Decimal {
	subtotal := o.cart.Totals().Subtotal
	o.mu.Lock()
	defer o.mu.Unlock()
	return payable(subtotal, o.discount)
}

func payable(subtotal, discount decimal.Decimal) decimal.Decimal {
	p := subtotal.Sub(discount)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

func (o *Orchestrator) SetAddress(a model.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.address = a
	o.msgs.Address = Message{}
}

// SetSlotDate moves the selection to date and reselects the hour: the
// current one if still allowed, else the first allowed hour, else none.
func (o *Orchestrator) SetSlotDate(date string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs.Slot = Message{}
	o.slot.Date = strings.TrimSpace(date)
	hour, ok := slot.Reselect(o.slot.Date, o.slot.Hour, now)
	if !ok {
		hour = 0
	}
	o.slot.Hour = hour
}

func (o *Orchestrator) SetSlotHour(hour int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs.Slot = Message{}
	o.slot.Hour = hour
}

// Validate checks address, slot and cart independently and sets each field's
// message. It reports whether checkout may proceed.
func (o *Orchestrator) Validate(now time.Time) bool {
	empty := o.cart.Len() == 0

	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs.Address = Message{}
	o.msgs.Slot = Message{}

	ok := true
	if !o.address.Complete() {
		o.msgs.Address = errorMsg(msgAddressIncomplete)
		ok = false
	}
	switch {
	case o.slot.Date == "" || o.slot.Hour == 0:
		o.msgs.Slot = errorMsg(msgSlotMissing)
		ok = false
	case !slot.IsAllowed(o.slot.Date, o.slot.Hour, now):
		o.msgs.Slot = errorMsg(msgSlotUnavailable)
		ok = false
	}
	if empty {
		o.msgs.Checkout = errorMsg(msgCartEmpty)
		ok = false
	}
	return ok
}

// Checkout runs one attempt to completion. A cancelled payment is not an
// error; every other non-paid outcome is, and leaves the cart untouched.
func (o *Orchestrator) Checkout(ctx context.Context, now time.Time) (Result, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return Result{}, ErrCheckoutBusy
	}
	o.busy = true
	o.state = Validating
	o.msgs.Checkout = Message{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.busy = false
		if o.state != Completed {
			o.state = Idle
		}
		o.mu.Unlock()
	}()

	if !o.Validate(now) {
		return Result{Outcome: OutcomeInvalid}, ErrValidation
	}

	lines := o.cart.Lines()
	subtotal := cart.ComputeTotals(lines).Subtotal
	o.mu.Lock()
	req := api.CreateOrderRequest{
		Items:        api.ItemsFromLines(lines),
		Address:      o.address,
		DeliverySlot: slot.Wire(o.slot),
	}
	if o.applied != nil {
		req.CouponCode = o.applied.Code
	}
	res := Result{AttemptID: uuid.NewString(), Payable: payable(subtotal, o.discount)}
	o.state = CreatingOrder
	o.mu.Unlock()

	attempt := Attempt{
		ID:         res.AttemptID,
		Currency:   o.cfg.Currency,
		CouponCode: req.CouponCode,
		SlotDate:   req.DeliverySlot.Date,
		SlotTime:   req.DeliverySlot.Time,
		Status:     AttemptPending,
		CreatedAt:  now,
	}
	log := o.log.With("attempt_id", attempt.ID)
	log.Info("creating order", "items", len(req.Items), "coupon", req.CouponCode)

	handle, err := o.backend.CreateOrder(ctx, req, attempt.ID)
	if err != nil {
		log.Error("create order failed", "error", err)
		return o.fail(ctx, res, &attempt, errorMsg(backendMessage(err, msgCreateOrder)), fmt.Errorf("%w: %w", ErrCreateOrder, err))
	}
	res.OrderID = handle.OrderID
	attempt.OrderID = handle.OrderID
	attempt.GatewayOrderID = handle.RazorpayOrderID
	attempt.Amount = handle.Amount
	if handle.Currency != "" {
		attempt.Currency = handle.Currency
	}
	o.save(ctx, &attempt)

	proof, outcome, err := o.awaitPayment(ctx, handle, attempt.Currency)
	switch outcome {
	case OutcomeFailed:
		log.Error("payment widget failed to load", "error", err)
		return o.fail(ctx, res, &attempt, errorMsg(msgWidgetLoad), fmt.Errorf("%w: %w", ErrWidgetLoad, err))
	case OutcomeCancelled:
		log.Info("payment dismissed", "order_id", handle.OrderID)
		attempt.Status = AttemptCancelled
		attempt.Message = msgCancelled
		o.save(context.WithoutCancel(ctx), &attempt)
		o.setCheckoutMsg(infoMsg(msgCancelled))
		res.Outcome = OutcomeCancelled
		return res, nil
	case OutcomeAbandoned:
		text := msgAbandoned
		if ctx.Err() != nil {
			text = msgInterrupted
		}
		log.Warn("payment abandoned, leaving pending order to expire", "order_id", handle.OrderID, "reason", err)
		attempt.Status = AttemptAbandoned
		attempt.Message = text
		o.save(context.WithoutCancel(ctx), &attempt)
		o.setCheckoutMsg(errorMsg(text))
		res.Outcome = OutcomeAbandoned
		return res, fmt.Errorf("%w: %w", ErrAbandoned, err)
	}

	o.setState(Verifying)
	if err := o.backend.VerifyPayment(ctx, handle.OrderID, proof); err != nil {
		log.Error("verify payment failed", "order_id", handle.OrderID, "error", err)
		return o.fail(ctx, res, &attempt, errorMsg(backendMessage(err, msgVerifyFailed)), fmt.Errorf("%w: %w", ErrVerify, err))
	}

	o.cart.Clear()
	o.mu.Lock()
	o.couponInput = ""
	o.applied = nil
	o.discount = decimal.Zero
	o.msgs.Coupon = Message{}
	o.msgs.Checkout = successMsg(msgPaid)
	o.state = Completed
	o.mu.Unlock()

	attempt.Status = AttemptCompleted
	attempt.Message = msgPaid
	o.save(ctx, &attempt)
	log.Info("checkout completed", "order_id", handle.OrderID, "amount", handle.Amount)
	res.Outcome = OutcomePaid
	return res, nil
}

type widgetOutcome struct {
	proof     payment.Proof
	dismissed bool
}

// awaitPayment opens the widget and blocks until exactly one continuation
// fires, the payment timeout passes, or ctx ends. Late continuations are
// dropped.
func (o *Orchestrator) awaitPayment(ctx context.Context, handle model.OrderHandle, currency string) (payment.Proof, Outcome, error) {
	outcomes := make(chan widgetOutcome, 1)
	var once sync.Once
	cb := payment.Callbacks{
		OnSuccess: func(p payment.Proof) {
			once.Do(func() { outcomes <- widgetOutcome{proof: p} })
		},
		OnDismiss: func() {
			once.Do(func() { outcomes <- widgetOutcome{dismissed: true} })
		},
	}

	o.mu.Lock()
	opts := payment.Options{
		KeyID:       handle.KeyID,
		Amount:      handle.Amount,
		Currency:    currency,
		Name:        o.cfg.StoreName,
		Description: o.cfg.Description,
		OrderID:     handle.RazorpayOrderID,
		Prefill:     payment.Prefill{Name: o.address.FullName, Contact: o.address.Phone},
	}
	o.state = AwaitingPayment
	o.mu.Unlock()

	if err := o.widget.Open(ctx, opts, cb); err != nil {
		return payment.Proof{}, OutcomeFailed, err
	}

	var timeout <-chan time.Time
	if o.cfg.PaymentTimeout > 0 {
		timer := time.NewTimer(o.cfg.PaymentTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-outcomes:
		if out.dismissed {
			return payment.Proof{}, OutcomeCancelled, nil
		}
		return out.proof, OutcomePaid, nil
	case <-timeout:
		return payment.Proof{}, OutcomeAbandoned, fmt.Errorf("no payment outcome after %s", o.cfg.PaymentTimeout)
	case <-ctx.Done():
		return payment.Proof{}, OutcomeAbandoned, ctx.Err()
	}
}

func (o *Orchestrator) fail(ctx context.Context, res Result, attempt *Attempt, msg Message, err error) (Result, error) {
	attempt.Status = AttemptFailed
	attempt.Message = msg.Text
	o.save(context.WithoutCancel(ctx), attempt)
	o.setCheckoutMsg(msg)
	res.Outcome = OutcomeFailed
	return res, err
}

func (o *Orchestrator) save(ctx context.Context, a *Attempt) {
	if o.ledger == nil {
		return
	}
	a.UpdatedAt = time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = a.UpdatedAt
	}
	if err := o.ledger.SaveAttempt(ctx, *a); err != nil {
		o.log.Error("record checkout attempt failed", "attempt_id", a.ID, "status", a.Status, "error", err)
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) setCheckoutMsg(m Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs.Checkout = m
}

// backendMessage prefers the message the backend sent over fallback.
func backendMessage(err error, fallback string) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
