package portfolio

import (
	"fmt"

	"github.com/STTM-NSU/signal-trader/internal/model"
)

// hold earmarks cash or quantity for an order that was validated but not yet filled.
type hold struct {
	symbol   string
	side     model.Side
	cash     float64
	quantity float64
}

// View is a point-in-time read of the ledger with open holds already deducted.
type View struct {
	cash         float64
	heldCash     float64
	holdings     map[string]float64
	heldQuantity map[string]float64
	heldValue    map[string]float64
	total        float64
}

func (v View) Cash() float64 { return v.cash }

func (v View) AvailableCash() float64 { return max(v.cash-v.heldCash, 0) }

func (v View) Quantity(symbol string) float64 { return v.holdings[symbol] }

func (v View) AvailableQuantity(symbol string) float64 {
	return max(v.holdings[symbol]-v.heldQuantity[symbol], 0)
}

func (v View) HeldValue(symbol string) float64 { return v.heldValue[symbol] }

func (v View) TotalValue() float64 { return v.total }

func (l *Ledger) View() View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view()
}

func (l *Ledger) view() View {
	v := View{
		cash:         l.state.Cash,
		holdings:     make(map[string]float64, len(l.state.Holdings)),
		heldQuantity: make(map[string]float64),
		heldValue:    make(map[string]float64),
		total:        totalValue(l.state),
	}
	for symbol, h := range l.state.Holdings {
		v.holdings[symbol] = h.Quantity
	}
	for _, h := range l.holds {
		v.heldCash += h.cash
		v.heldValue[h.symbol] += h.cash
		v.heldQuantity[h.symbol] += h.quantity
	}
	return v
}

// Reserve runs check against the current view and, if it passes, earmarks
// the order's cost (buy) or quantity (sell) so that concurrent orders can't
// spend the same funds. Check and earmark happen under one lock.
func (l *Ledger) Reserve(o model.Order, refPrice float64, check func(View) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return ErrNotInitialized
	}
	if _, ok := l.holds[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, o.ID)
	}
	if err := check(l.view()); err != nil {
		return err
	}

	h := hold{symbol: o.Symbol, side: o.Side}
	switch o.Side {
	case model.Buy:
		h.cash = o.Cost(refPrice)
	case model.Sell:
		h.quantity = o.Amount
	}
	l.holds[o.ID] = h
	return nil
}

// Release drops the hold of an order that will not fill.
func (l *Ledger) Release(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, orderID)
}

func (l *Ledger) Holds() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.holds)
}
