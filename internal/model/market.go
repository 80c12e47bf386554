package model

import "time"

type Price struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type Ticker struct {
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price"`
	BestBid float64   `json:"best_bid"`
	BestAsk float64   `json:"best_ask"`
	Time    time.Time `json:"time"`
}

type Stats24h struct {
	Symbol     string    `json:"symbol"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Last       float64   `json:"last"`
	Volume     float64   `json:"volume"`
	ChangeRate float64   `json:"change_rate"`
	Time       time.Time `json:"time"`
}

type Kline struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	Close  float64   `json:"close"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Volume float64   `json:"volume"`
}

type Account struct {
	ID        string  `json:"id"`
	Currency  string  `json:"currency"`
	Type      string  `json:"type"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
	Holds     float64 `json:"holds"`
}

// OrderAck is what an exchange reports back for a placed order.
type OrderAck struct {
	ExchangeOrderID string  `json:"exchange_order_id"`
	ClientOrderID   string  `json:"client_order_id"`
	Filled          bool    `json:"filled"`
	FilledAmount    float64 `json:"filled_amount"`
	FilledPrice     float64 `json:"filled_price"`
	// Closed is set once the order no longer works on the venue.
	Closed bool `json:"closed"`
}
