package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/checkout"
)

// AttemptLedger keeps checkout attempts in the checkout_attempts table.
type AttemptLedger struct {
	db *sql.DB
}

func NewAttemptLedger(db *sql.DB) *AttemptLedger {
	return &AttemptLedger{db: db}
}

func (l *AttemptLedger) SaveAttempt(ctx context.Context, a checkout.Attempt) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("attempt id is required")
	}
	if a.Amount < 0 {
		return fmt.Errorf("attempt amount must be >= 0")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO checkout_attempts(id, order_id, gateway_order_id, amount, currency, coupon_code, slot_date, slot_time, status, message, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  order_id=excluded.order_id,
  gateway_order_id=excluded.gateway_order_id,
  amount=excluded.amount,
  currency=excluded.currency,
  status=excluded.status,
  message=excluded.message,
  updated_at=excluded.updated_at
`, a.ID, a.OrderID, a.GatewayOrderID, a.Amount, a.Currency, a.CouponCode, a.SlotDate, a.SlotTime,
		string(a.Status), a.Message, a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save checkout attempt %s: %w", a.ID, err)
	}
	return nil
}

// ListAttempts returns attempts newest first, optionally filtered by status.
func ListAttempts(ctx context.Context, db *sql.DB, status checkout.AttemptStatus, limit int) ([]checkout.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, order_id, gateway_order_id, amount, currency, coupon_code, slot_date, slot_time, status, message, created_at, updated_at
FROM checkout_attempts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkout attempts: %w", err)
	}
	defer rows.Close()

	out := make([]checkout.Attempt, 0)
	for rows.Next() {
		var a checkout.Attempt
		var st, createdRaw, updatedRaw string
		if err := rows.Scan(&a.ID, &a.OrderID, &a.GatewayOrderID, &a.Amount, &a.Currency, &a.CouponCode,
			&a.SlotDate, &a.SlotTime, &st, &a.Message, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan checkout attempt: %w", err)
		}
		a.Status = checkout.AttemptStatus(st)
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdRaw); err != nil {
			return nil, fmt.Errorf("parse created_at for attempt %s: %w", a.ID, err)
		}
		if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedRaw); err != nil {
			return nil, fmt.Errorf("parse updated_at for attempt %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkout attempts: %w", err)
	}
	return out, nil
}

// AbandonStaleAttempts marks pending attempts last touched before cutoff as
// abandoned. The backend owns expiry of the orders themselves.
func AbandonStaleAttempts(ctx context.Context, db *sql.DB, cutoff time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `
UPDATE checkout_attempts
SET status = 'abandoned', message = 'No payment outcome recorded.', updated_at = ?
WHERE status = 'pending' AND updated_at < ?
`, time.Now().UTC().Format(time.RFC3339), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("abandon stale attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("abandon stale attempts: %w", err)
	}
	return int(n), nil
}

func countStaleAttempts(ctx context.Context, db *sql.DB, cutoff time.Time) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM checkout_attempts WHERE status = 'pending' AND updated_at < ?`, cutoff.UTC().Format(time.RFC3339)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stale attempts: %w", err)
	}
	return n, nil
}

var _ checkout.Ledger = (*AttemptLedger)(nil)
