// Package analysis fetches trade signals and target weights from the
// analysis service, or from local files and configuration.
package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/STTM-NSU/signal-trader/internal/model"
)

type Source interface {
	GetSignals(ctx context.Context, symbols []string) ([]model.Signal, error)
	GetTargets(ctx context.Context) (map[string]float64, error)
}

// signalDTO is the wire form. Confidence arrives either as a number in
// [0, 1] or as one of HIGH, MEDIUM, LOW.
type signalDTO struct {
	Symbol              string  `json:"symbol"`
	Action              string  `json:"action"`
	Confidence          any     `json:"confidence"`
	SuggestedAllocation float64 `json:"suggested_allocation"`
	AnalysisID          string  `json:"analysis_id"`
	Reason              string  `json:"reason"`
}

func (d signalDTO) toSignal() (model.Signal, error) {
	if d.Symbol == "" {
		return model.Signal{}, fmt.Errorf("signal without symbol")
	}
	action, err := model.ParseAction(d.Action)
	if err != nil {
		return model.Signal{}, fmt.Errorf("%w: signal for %s", err, d.Symbol)
	}
	confidence, err := parseConfidence(d.Confidence)
	if err != nil {
		return model.Signal{}, fmt.Errorf("%w: signal for %s", err, d.Symbol)
	}
	if d.SuggestedAllocation < 0 || d.SuggestedAllocation > 1 {
		return model.Signal{}, fmt.Errorf("suggested allocation %v out of [0, 1] for %s", d.SuggestedAllocation, d.Symbol)
	}
	return model.Signal{
		Symbol:              d.Symbol,
		Action:              action,
		Confidence:          confidence,
		SuggestedAllocation: d.SuggestedAllocation,
		AnalysisID:          d.AnalysisID,
		Reason:              d.Reason,
	}, nil
}

func parseConfidence(v any) (float64, error) {
	var c float64
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		c = t
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "HIGH":
			return 0.9, nil
		case "MEDIUM":
			return 0.6, nil
		case "LOW", "":
			return 0.3, nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("unknown confidence %q", t)
		}
		c = f
	default:
		return 0, fmt.Errorf("unsupported confidence %v", v)
	}
	if c < 0 || c > 1 {
		return 0, fmt.Errorf("confidence %v out of [0, 1]", c)
	}
	return c, nil
}

func filterSymbols(signals []model.Signal, symbols []string) []model.Signal {
	if len(symbols) == 0 {
		return signals
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[s] = struct{}{}
	}
	out := signals[:0]
	for _, s := range signals {
		if _, ok := want[s.Symbol]; ok {
			out = append(out, s)
		}
	}
	return out
}
