package payment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// TerminalWidget stands in for the hosted checkout on a terminal: it prints
// the payment summary and reads "<payment_id> <signature>" or "cancel" from In.
type TerminalWidget struct {
	In  io.Reader
	Out io.Writer
}

func (w *TerminalWidget) Open(ctx context.Context, opts Options, cb Callbacks) error {
	if w.In == nil || w.Out == nil {
		return fmt.Errorf("%w: no terminal attached", ErrLoad)
	}
	if opts.OrderID == "" {
		return fmt.Errorf("%w: missing gateway order id", ErrLoad)
	}

	amount := decimal.New(opts.Amount, -2).StringFixed(2)
	fmt.Fprintf(w.Out, "%s | %s\n", opts.Name, opts.Description)
	fmt.Fprintf(w.Out, "Amount: %s %s\n", amount, opts.Currency)
	fmt.Fprintf(w.Out, "Gateway order: %s\n", opts.OrderID)
	if opts.Prefill.Name != "" || opts.Prefill.Contact != "" {
		fmt.Fprintf(w.Out, "Payer: %s %s\n", opts.Prefill.Name, opts.Prefill.Contact)
	}
	fmt.Fprint(w.Out, "Enter payment id and signature, or 'cancel': ")

	lines := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(w.In).ReadString('\n')
		if err != nil && line == "" {
			close(lines)
			return
		}
		lines <- line
	}()

	go func() {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			fields := strings.Fields(line)
			if !ok || len(fields) == 0 || strings.EqualFold(fields[0], "cancel") {
				cb.OnDismiss()
				return
			}
			if len(fields) < 2 {
				cb.OnDismiss()
				return
			}
			cb.OnSuccess(Proof{OrderID: opts.OrderID, PaymentID: fields[0], Signature: fields[1]})
		}
	}()
	return nil
}
