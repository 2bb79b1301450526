package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/macrobox/macrobox-cli/internal/cart"
	"github.com/macrobox/macrobox-cli/internal/checkout"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/storage"
)

// LocalSummary describes what a database file holds for the storefront.
type LocalSummary struct {
	SchemaVersion int                            `json:"schema_version"`
	CartLines     int                            `json:"cart_lines"`
	CartItems     int                            `json:"cart_items"`
	CartMalformed bool                           `json:"cart_malformed,omitempty"`
	Attempts      map[checkout.AttemptStatus]int `json:"attempts"`
}

// Summarize reads the schema version, the stored cart (counted after
// normalization) and checkout attempts per status.
func Summarize(ctx context.Context, db *sql.DB) (LocalSummary, error) {
	sum := LocalSummary{Attempts: map[checkout.AttemptStatus]int{}}

	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&sum.SchemaVersion); err != nil {
		return sum, fmt.Errorf("read schema version: %w", err)
	}

	raw, err := storage.NewSQLiteKV(db).Get(ctx, storage.KeyCart)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return sum, fmt.Errorf("summary cart read: %w", err)
	default:
		var lines []model.CartLine
		if err := json.Unmarshal(raw, &lines); err != nil {
			sum.CartMalformed = true
			break
		}
		for _, l := range cart.Normalize(lines) {
			sum.CartLines++
			sum.CartItems += l.Quantity
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(1) FROM checkout_attempts GROUP BY status`)
	if err != nil {
		return sum, fmt.Errorf("count checkout attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return sum, fmt.Errorf("scan attempt count: %w", err)
		}
		sum.Attempts[checkout.AttemptStatus(st)] = n
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("iterate attempt counts: %w", err)
	}
	return sum, nil
}
