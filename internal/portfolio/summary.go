package portfolio

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/STTM-NSU/signal-trader/internal/model"
)

func (l *Ledger) Summary() model.PortfolioSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := totalValue(l.state)
	alloc := allocations(l.state, total)
	s := model.PortfolioSummary{
		TotalValue:     total,
		Cash:           l.state.Cash,
		CashAllocation: cashFraction(l.state),
		InvestedValue:  total - l.state.Cash,
		ProfitLoss:     total - l.state.InitialCapital,
		LastUpdated:    l.state.UpdatedAt,
	}
	if l.state.InitialCapital > 0 {
		s.ProfitLossPercent = s.ProfitLoss / l.state.InitialCapital * 100
	}

	for symbol, h := range l.state.Holdings {
		price := markPrice(l.state, symbol)
		value := h.Quantity * price
		s.Assets = append(s.Assets, model.AssetSummary{
			Symbol:       symbol,
			Quantity:     h.Quantity,
			Price:        price,
			Value:        value,
			Allocation:   alloc[symbol],
			AveragePrice: h.AveragePrice(),
			ProfitLoss:   value - h.CostBasis,
		})
	}
	slices.SortFunc(s.Assets, func(a, b model.AssetSummary) int {
		return cmp.Or(cmp.Compare(b.Allocation, a.Allocation), cmp.Compare(a.Symbol, b.Symbol))
	})
	return s
}

// GetAllocationRecommendations compares current allocations with target
// weights. Deltas smaller than MinAllocationPerAsset are ignored. Holdings
// above MaxAllocationPerAsset without a target are reduced to the cap, and
// idle cash above MaxCashAllocation is flagged for deployment. Advisory only.
func (l *Ledger) GetAllocationRecommendations(targets map[string]float64) []model.Recommendation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := totalValue(l.state)
	if total <= 0 {
		return nil
	}
	current := allocations(l.state, total)
	threshold := l.cfg.MinAllocationPerAsset

	var recs []model.Recommendation
	add := func(symbol string, cur, target float64, reason string) {
		delta := target - cur
		if math.Abs(delta) < threshold || math.Abs(delta) < _eps {
			return
		}
		action := model.Increase
		if delta < 0 {
			action = model.Reduce
		}
		recs = append(recs, model.Recommendation{
			Symbol:  symbol,
			Action:  action,
			Current: cur,
			Target:  target,
			Delta:   delta,
			Value:   delta * total,
			Reason:  reason,
		})
	}

	for symbol, target := range targets {
		if ceiling := l.cfg.MaxAllocationPerAsset; ceiling > 0 && target > ceiling {
			target = ceiling
		}
		add(symbol, current[symbol], target, fmt.Sprintf("target weight %.2f%%", target*100))
	}
	for symbol, cur := range current {
		if _, ok := targets[symbol]; ok {
			continue
		}
		if ceiling := l.cfg.MaxAllocationPerAsset; ceiling > 0 && cur > ceiling {
			add(symbol, cur, ceiling, fmt.Sprintf("above max allocation %.2f%%", ceiling*100))
		}
	}

	if maxCash := l.cfg.MaxCashAllocation; maxCash > 0 {
		if cash := cashFraction(l.state); cash > maxCash+threshold {
			recs = append(recs, model.Recommendation{
				Action:  model.Deploy,
				Current: cash,
				Target:  maxCash,
				Delta:   maxCash - cash,
				Value:   (cash - maxCash) * total,
				Reason:  fmt.Sprintf("cash %.2f%% above max %.2f%%", cash*100, maxCash*100),
			})
		}
	}

	slices.SortFunc(recs, func(a, b model.Recommendation) int {
		return cmp.Or(cmp.Compare(math.Abs(b.Delta), math.Abs(a.Delta)), cmp.Compare(a.Symbol, b.Symbol))
	})
	return recs
}
