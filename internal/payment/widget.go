// Package payment defines the contract between checkout and a payment widget:
// the widget is opened with an order and reports back through exactly one of
// two continuations.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrLoad is returned by Open when the widget cannot be shown at all.
var ErrLoad = errors.New("payment widget failed to load")

type Prefill struct {
	Name    string
	Contact string
}

type Options struct {
	KeyID       string
	Amount      int64 // minor units
	Currency    string
	Name        string
	Description string
	OrderID     string
	Prefill     Prefill
}

// Proof is what the gateway hands back after a successful payment.
type Proof struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type Callbacks struct {
	OnSuccess func(Proof)
	OnDismiss func()
}

// Widget opens a payment flow. Open returns once the widget is showing;
// the outcome arrives later through cb. A non-nil error means nothing was
// shown and no callback will fire.
type Widget interface {
	Open(ctx context.Context, opts Options, cb Callbacks) error
}

// Sign produces the gateway signature for an order/payment pair:
// hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, p Proof) bool {
	want := Sign(secret, p.OrderID, p.PaymentID)
	return hmac.Equal([]byte(want), []byte(p.Signature))
}
