// Package validator checks candidate orders against portfolio state and asset limits.
package validator

import (
	"fmt"
	"strings"

	"github.com/STTM-NSU/signal-trader/internal/model"
)

// Portfolio is the read-only view of the ledger a validation needs.
type Portfolio interface {
	AvailableCash() float64
	AvailableQuantity(symbol string) float64
	Quantity(symbol string) float64
	// HeldValue is the quote value earmarked by open buy orders of symbol.
	HeldValue(symbol string) float64
	TotalValue() float64
}

type ValidationError struct {
	OrderID string
	Errors  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %s is invalid: %s", e.OrderID, strings.Join(e.Errors, "; "))
}

type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err returns nil for a valid result.
func (r Result) Err(orderID string) error {
	if r.Valid {
		return nil
	}
	return &ValidationError{OrderID: orderID, Errors: r.Errors}
}

// Validate runs every rule and collects all violations. refPrice values market orders.
func Validate(order *model.Order, p Portfolio, asset model.AssetConfig, refPrice float64) Result {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !order.Side.Valid() {
		fail("unknown side %q", order.Side)
	}
	if !order.Kind.Valid() {
		fail("unknown order kind %q", order.Kind)
	}
	if order.Amount <= 0 {
		fail("amount must be positive, got %v", order.Amount)
	}
	if order.Kind == model.Limit && order.Price <= 0 {
		fail("limit price must be positive, got %v", order.Price)
	}
	if asset.MinOrderSize > 0 && order.Amount > 0 && order.Amount < asset.MinOrderSize {
		fail("amount %v is below minimum order size %v", order.Amount, asset.MinOrderSize)
	}

	price := refPrice
	if order.Kind == model.Limit && order.Price > 0 {
		price = order.Price
	}
	if price <= 0 && order.Amount > 0 {
		fail("no reference price for %s", order.Symbol)
	}

	switch order.Side {
	case model.Sell:
		if held := p.AvailableQuantity(order.Symbol); order.Amount > held {
			fail("insufficient holdings: sell %v %s, held %v", order.Amount, order.Symbol, held)
		}
	case model.Buy:
		if cost, cash := order.Cost(refPrice), p.AvailableCash(); cost > cash {
			fail("insufficient funds: cost %.2f exceeds available cash %.2f", cost, cash)
		}
	}

	if asset.AllocationCeiling > 0 && order.Side == model.Buy && refPrice > 0 {
		if total := p.TotalValue(); total > 0 {
			after := ((p.Quantity(order.Symbol)+order.Amount)*refPrice + p.HeldValue(order.Symbol)) / total
			if after > asset.AllocationCeiling+1e-9 {
				fail("allocation of %s would be %.4f, ceiling is %.4f", order.Symbol, after, asset.AllocationCeiling)
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}
