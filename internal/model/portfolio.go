package model

import "time"

type Trade struct {
	OrderID   string    `json:"order_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Action    Side      `json:"action"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (t Trade) Value() float64 {
	return t.Quantity * t.Price
}

type Holding struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	// CostBasis is the quote amount paid for the current quantity.
	CostBasis float64 `json:"cost_basis"`
}

func (h Holding) AveragePrice() float64 {
	if h.Quantity <= 0 {
		return 0
	}
	return h.CostBasis / h.Quantity
}

type Snapshot struct {
	Timestamp    time.Time          `json:"timestamp"`
	TotalValue   float64            `json:"total_value"`
	Cash         float64            `json:"cash"`
	CashFraction float64            `json:"cash_fraction"`
	Allocations  map[string]float64 `json:"allocations"`
}

// PortfolioState is the persisted form of the ledger. Total value is never stored as ground truth.
type PortfolioState struct {
	InitialCapital float64            `json:"initial_capital"`
	Cash           float64            `json:"cash"`
	Holdings       map[string]Holding `json:"holdings"`
	Prices         map[string]Price   `json:"prices"`
	Trades         []Trade            `json:"trades"`
	Snapshots      []Snapshot         `json:"snapshots"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type AssetSummary struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Value        float64 `json:"value"`
	Allocation   float64 `json:"allocation"`
	AveragePrice float64 `json:"average_price"`
	ProfitLoss   float64 `json:"profit_loss"`
}

type PortfolioSummary struct {
	TotalValue        float64        `json:"total_value"`
	Cash              float64        `json:"cash"`
	CashAllocation    float64        `json:"cash_allocation"`
	InvestedValue     float64        `json:"invested_value"`
	ProfitLoss        float64        `json:"profit_loss"`
	ProfitLossPercent float64        `json:"profit_loss_percent"`
	Assets            []AssetSummary `json:"assets"`
	LastUpdated       time.Time      `json:"last_updated"`
}

type RecommendationAction string

const (
	Increase RecommendationAction = "INCREASE"
	Reduce   RecommendationAction = "REDUCE"
	Deploy   RecommendationAction = "DEPLOY"
)

type Recommendation struct {
	Symbol  string               `json:"symbol"`
	Action  RecommendationAction `json:"action"`
	Current float64              `json:"current"`
	Target  float64              `json:"target"`
	// Delta is target minus current allocation, as a fraction of total value.
	Delta   float64              `json:"delta"`
	Value   float64              `json:"value"`
	Reason  string               `json:"reason"`
}
