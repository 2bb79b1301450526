package checkout

import (
	"context"
	"time"

	"github.com/macrobox/macrobox-cli/internal/api"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
)

//go:generate mockgen -source=ports.go -destination=mock_ports_test.go -package=checkout

// Backend is the part of the storefront API checkout depends on.
// *api.Client satisfies it.
type Backend interface {
	ApplyCoupon(ctx context.Context, code string, cartTotal float64) (model.CouponApplication, error)
	AvailableCoupons(ctx context.Context, cartTotal float64) ([]model.Coupon, error)
	CreateOrder(ctx context.Context, req api.CreateOrderRequest, idempotencyKey string) (model.OrderHandle, error)
	VerifyPayment(ctx context.Context, orderID string, proof payment.Proof) error
}

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptCompleted AttemptStatus = "completed"
	AttemptCancelled AttemptStatus = "cancelled"
	AttemptFailed    AttemptStatus = "failed"
	AttemptAbandoned AttemptStatus = "abandoned"
)

// Attempt is one pass through checkout, from order creation to its outcome.
type Attempt struct {
	ID             string
	OrderID        string
	GatewayOrderID string
	Amount         int64
	Currency       string
	CouponCode     string
	SlotDate       string
	SlotTime       string
	Status         AttemptStatus
	Message        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ledger records checkout attempts so unfinished ones can be found later.
type Ledger interface {
	SaveAttempt(ctx context.Context, a Attempt) error
}

var _ Backend = (*api.Client)(nil)
