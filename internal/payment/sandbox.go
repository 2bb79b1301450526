package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type SandboxMode int

const (
	SandboxApprove SandboxMode = iota
	SandboxDismiss
	SandboxFailLoad
	// SandboxHang opens but never reports an outcome.
	SandboxHang
)

// SandboxWidget completes payments locally with test-mode signatures.
type SandboxWidget struct {
	Secret string
	Mode   SandboxMode
}

func (w *SandboxWidget) Open(ctx context.Context, opts Options, cb Callbacks) error {
	if w.Mode == SandboxFailLoad {
		return fmt.Errorf("%w: sandbox configured to fail", ErrLoad)
	}
	if opts.OrderID == "" {
		return fmt.Errorf("%w: missing gateway order id", ErrLoad)
	}
	switch w.Mode {
	case SandboxDismiss:
		go cb.OnDismiss()
	case SandboxHang:
	default:
		paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
		proof := Proof{
			OrderID:   opts.OrderID,
			PaymentID: paymentID,
			Signature: Sign(w.Secret, opts.OrderID, paymentID),
		}
		go cb.OnSuccess(proof)
	}
	return nil
}
