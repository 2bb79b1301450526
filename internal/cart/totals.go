package cart

import (
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/shopspring/decimal"
)

type Totals struct {
	Subtotal      decimal.Decimal
	TotalProtein  decimal.Decimal
	TotalCalories decimal.Decimal
	Count         int
}

func ComputeTotals(lines []model.CartLine) Totals {
	t := Totals{
		Subtotal:      decimal.Zero,
		TotalProtein:  decimal.Zero,
		TotalCalories: decimal.Zero,
	}
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.Quantity))
		t.Subtotal = t.Subtotal.Add(decimal.NewFromFloat(l.UnitPrice).Mul(qty))
		t.TotalProtein = t.TotalProtein.Add(decimal.NewFromFloat(l.ProteinGrams).Mul(qty))
		t.TotalCalories = t.TotalCalories.Add(decimal.NewFromFloat(l.Calories).Mul(qty))
		t.Count += l.Quantity
	}
	return t
}

// SubtotalChanged reports whether two snapshots differ in subtotal.
func SubtotalChanged(prev, next Totals) bool {
	return !prev.Subtotal.Equal(next.Subtotal)
}
