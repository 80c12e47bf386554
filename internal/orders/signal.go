package orders

import (
	"context"
	"fmt"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/tools"
)

const (
	_highConfidence   = 0.75
	_mediumConfidence = 0.5
)

// DefaultAllocation picks the share of portfolio value a signal deserves when
// the caller gives none: the signal's own suggestion, otherwise the per-asset
// maximum scaled by confidence.
func DefaultAllocation(sig model.Signal, maxAllocation float64) float64 {
	if sig.SuggestedAllocation > 0 {
		return sig.SuggestedAllocation
	}
	switch {
	case sig.Confidence >= _highConfidence:
		return maxAllocation
	case sig.Confidence >= _mediumConfidence:
		return maxAllocation * 0.6
	default:
		return maxAllocation * 0.3
	}
}

// CreateOrderFromSignal turns a signal into a pending market order sized at
// allocation of total portfolio value. Buys are capped by available cash and
// sells by available holdings; amounts are rounded down to the asset's step.
// A hold signal, or one that sizes to zero, yields nil.
func (s *Submitter) CreateOrderFromSignal(ctx context.Context, sig model.Signal, allocation *float64) (*model.Order, error) {
	side, ok := sig.Action.Side()
	if !ok {
		return nil, nil
	}
	asset, ok := s.assets[sig.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, sig.Symbol)
	}

	ceiling := asset.AllocationCeiling
	if ceiling <= 0 {
		ceiling = s.cfg.MaxAllocationPerAsset
	}
	alloc := DefaultAllocation(sig, ceiling)
	if allocation != nil {
		alloc = *allocation
	}
	if ceiling > 0 {
		alloc = min(alloc, ceiling)
	}
	if alloc <= 0 {
		return nil, nil
	}

	price := s.referencePrice(ctx, &model.Order{Symbol: sig.Symbol})
	if price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, sig.Symbol)
	}

	view := s.ledger.View()
	budget := alloc * view.TotalValue()
	var amount float64
	switch side {
	case model.Buy:
		amount = min(budget, view.AvailableCash()) / price
	case model.Sell:
		amount = min(budget/price, view.AvailableQuantity(sig.Symbol))
	}
	amount = tools.RoundDown(amount, asset.StepSize)
	if amount <= 0 || (asset.MinOrderSize > 0 && amount < asset.MinOrderSize) {
		s.logger.Infof("signal %s %s sizes below minimum, skipped", sig.Action, sig.Symbol)
		return nil, nil
	}

	o := s.NewOrder(sig.Symbol, side, model.Market, amount, 0,
		fmt.Sprintf("signal %s with %.2f confidence", sig.Action, sig.Confidence))
	o.AnalysisID = sig.AnalysisID
	return o, nil
}
