package model

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ParseAction accepts the upper-case variants the analysis service emits.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	case "none", "":
		return ActionHold, nil
	default:
		return "", fmt.Errorf("unknown signal action %q", s)
	}
}

func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return Buy, true
	case ActionSell:
		return Sell, true
	}
	return "", false
}

type Signal struct {
	Symbol              string  `json:"symbol"`
	Action              Action  `json:"action"`
	Confidence          float64 `json:"confidence"`
	SuggestedAllocation float64 `json:"suggested_allocation"`
	AnalysisID          string  `json:"analysis_id,omitempty"`
	Reason              string  `json:"reason,omitempty"`
}

type AssetConfig struct {
	Symbol            string  `yaml:"symbol" json:"symbol"`
	Exchange          string  `yaml:"exchange" json:"exchange"`
	AllocationCeiling float64 `yaml:"allocation_ceiling" json:"allocation_ceiling"`
	MinOrderSize      float64 `yaml:"min_order_size" json:"min_order_size"`
	StepSize          float64 `yaml:"step_size" json:"step_size"`
}
