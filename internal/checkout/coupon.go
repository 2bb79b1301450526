package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/shopspring/decimal"
)

const eligibleRefreshTimeout = 10 * time.Second

// SetCouponInput records an edit of the coupon code. Any applied discount is
// dropped along with the coupon message; the cart is not touched.
func (o *Orchestrator) SetCouponInput(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.couponInput = code
	o.applied = nil
	o.discount = decimal.Zero
	o.msgs.Coupon = Message{}
}

func (o *Orchestrator) CouponInput() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.couponInput
}

// ApplyCoupon asks the backend to price the entered code against the current
// subtotal. Errors only concern the coupon message.
func (o *Orchestrator) ApplyCoupon(ctx context.Context) error {
	o.mu.Lock()
	code := strings.TrimSpace(o.couponInput)
	o.msgs.Coupon = Message{}
	if code == "" {
		o.msgs.Coupon = errorMsg(msgCouponMissing)
		o.mu.Unlock()
		return fmt.Errorf("%w: coupon code is empty", ErrValidation)
	}
	o.mu.Unlock()

	subtotal := o.cart.Totals().Subtotal
	app, err := o.backend.ApplyCoupon(ctx, code, subtotal.InexactFloat64())
	current := o.cart.Totals().Subtotal

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.applied = nil
		o.discount = decimal.Zero
		o.msgs.Coupon = errorMsg(backendMessage(err, msgCouponFallback))
		o.log.Info("coupon rejected", "code", code, "error", err)
		return fmt.Errorf("apply coupon %s: %w", code, err)
	}
	if strings.TrimSpace(o.couponInput) != code {
		// Edited while the request was in flight.
		return nil
	}
	if !current.Equal(subtotal) {
		// Priced against a cart that no longer exists.
		o.applied = nil
		o.discount = decimal.Zero
		o.msgs.Coupon = infoMsg(msgCouponStale)
		o.log.Info("coupon priced for a stale subtotal", "code", code, "priced", subtotal.String(), "current", current.String())
		return fmt.Errorf("apply coupon %s: %w", code, ErrCouponStale)
	}

	d := decimal.NewFromFloat(app.Discount)
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	app.Discount = d.InexactFloat64()
	app.Subtotal = subtotal.InexactFloat64()
	o.applied = &app
	o.discount = d
	o.msgs.Coupon = successMsg(fmt.Sprintf("Coupon applied! You saved ₹%s", d.String()))
	o.log.Info("coupon applied", "code", app.Code, "discount", d.String())
	return nil
}

// EligibleCoupons lists coupons usable at the current subtotal. Concurrent
// calls for the same subtotal share one request, and the result is cached
// until the subtotal changes.
func (o *Orchestrator) EligibleCoupons(ctx context.Context) ([]model.Coupon, error) {
	subtotal := o.cart.Totals().Subtotal

	o.mu.Lock()
	o.watching = true
	if o.eligibleFor != nil && o.eligibleFor.Equal(subtotal) {
		out := append([]model.Coupon(nil), o.eligible...)
		o.mu.Unlock()
		return out, nil
	}
	o.mu.Unlock()

	return o.fetchEligible(ctx, subtotal)
}

func (o *Orchestrator) fetchEligible(ctx context.Context, subtotal decimal.Decimal) ([]model.Coupon, error) {
	v, err, _ := o.flight.Do(subtotal.String(), func() (any, error) {
		coupons, err := o.backend.AvailableCoupons(ctx, subtotal.InexactFloat64())
		if err != nil {
			return nil, err
		}
		current := o.cart.Totals().Subtotal
		o.mu.Lock()
		if current.Equal(subtotal) {
			s := subtotal
			o.eligibleFor = &s
			o.eligible = append([]model.Coupon(nil), coupons...)
		}
		o.mu.Unlock()
		return coupons, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list eligible coupons: %w", err)
	}
	return append([]model.Coupon(nil), v.([]model.Coupon)...), nil
}

// onCartChange marks an applied coupon stale whenever the subtotal moves: the
// backend priced it against a different cart.
func (o *Orchestrator) onCartChange(prev, next cart.Totals) {
	if !cart.SubtotalChanged(prev, next) {
		return
	}
	o.mu.Lock()
	if o.applied != nil || !o.discount.IsZero() {
		o.applied = nil
		o.discount = decimal.Zero
		o.msgs.Coupon = infoMsg(msgCouponStale)
	}
	o.eligibleFor = nil
	o.eligible = nil
	refresh := o.watching && o.backend != nil && !next.Subtotal.IsZero()
	o.mu.Unlock()

	if refresh {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), eligibleRefreshTimeout)
			defer cancel()
			if _, err := o.fetchEligible(ctx, next.Subtotal); err != nil {
				o.log.Warn("refresh eligible coupons failed", "error", err)
			}
		}()
	}
}
