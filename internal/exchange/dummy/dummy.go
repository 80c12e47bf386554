// Package dummy is a deterministic offline exchange. Market orders fill at the
// configured price, limit orders rest until cancelled, and a client order id
// seen before returns the original acknowledgement without executing again.
package dummy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/model"
)

type restingOrder struct {
	clientOrderID string
	symbol        string
	side          model.Side
	amount        float64
	price         float64
}

type Exchange struct {
	mu sync.Mutex

	quote    string
	prices   map[string]float64
	balances map[string]float64
	acks     map[string]model.OrderAck
	resting  map[string]restingOrder
	seq      int

	rejectNext string
	failNext   error
	calls      map[string]int
	executions int
	now        func() time.Time
}

var (
	_ exchange.Exchange    = (*Exchange)(nil)
	_ exchange.OrderReader = (*Exchange)(nil)
)

func New(prices map[string]float64, quote string, cash float64) *Exchange {
	e := &Exchange{
		quote:    quote,
		prices:   make(map[string]float64, len(prices)),
		balances: map[string]float64{quote: cash},
		acks:     make(map[string]model.OrderAck),
		resting:  make(map[string]restingOrder),
		calls:    make(map[string]int),
		now:      time.Now,
	}
	for s, p := range prices {
		e.prices[s] = p
	}
	return e
}

func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

func (e *Exchange) RemovePrice(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.prices, symbol)
}

// RejectNext makes the next order placement fail with an exchange rejection.
func (e *Exchange) RejectNext(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectNext = reason
}

// FailNext makes the next call of any kind return err.
func (e *Exchange) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = err
}

func (e *Exchange) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// Executions counts orders that actually changed balances or started resting.
func (e *Exchange) Executions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions
}

func (e *Exchange) enter(op string) error {
	e.calls[op]++
	if err := e.failNext; err != nil {
		e.failNext = nil
		return err
	}
	return nil
}

func (e *Exchange) price(symbol string) (float64, error) {
	p, ok := e.prices[symbol]
	if !ok || p <= 0 {
		return 0, &exchange.ExchangeError{Code: "400100", Reason: "symbol not found: " + symbol}
	}
	return p, nil
}

func (e *Exchange) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("ticker"); err != nil {
		return model.Ticker{}, err
	}
	p, err := e.price(symbol)
	if err != nil {
		return model.Ticker{}, err
	}
	return model.Ticker{Symbol: symbol, Price: p, BestBid: p, BestAsk: p, Time: e.now()}, nil
}

func (e *Exchange) Get24hrStats(_ context.Context, symbol string) (model.Stats24h, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("stats"); err != nil {
		return model.Stats24h{}, err
	}
	p, err := e.price(symbol)
	if err != nil {
		return model.Stats24h{}, err
	}
	return model.Stats24h{Symbol: symbol, Open: p, High: p, Low: p, Last: p, Time: e.now()}, nil
}

// GetKlineData returns flat candles at the current price, one per interval step.
func (e *Exchange) GetKlineData(_ context.Context, symbol string, interval exchange.Interval, start, end time.Time) ([]model.Kline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("klines"); err != nil {
		return nil, err
	}
	p, err := e.price(symbol)
	if err != nil {
		return nil, err
	}
	step := interval.Duration()
	if step <= 0 {
		return nil, fmt.Errorf("unknown kline interval %q", interval)
	}
	var klines []model.Kline
	for t := start.Truncate(step); t.Before(end); t = t.Add(step) {
		if t.Before(start) {
			continue
		}
		klines = append(klines, model.Kline{Time: t, Open: p, Close: p, High: p, Low: p})
	}
	return klines, nil
}

func (e *Exchange) GetAccounts(_ context.Context) ([]model.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("accounts"); err != nil {
		return nil, err
	}
	held := make(map[string]float64)
	for _, o := range e.resting {
		if o.side == model.Buy {
			held[e.quote] += o.amount * o.price
		} else {
			held[base(o.symbol)] += o.amount
		}
	}
	accounts := make([]model.Account, 0, len(e.balances))
	for currency, balance := range e.balances {
		accounts = append(accounts, model.Account{
			ID:        "dummy-" + strings.ToLower(currency),
			Currency:  currency,
			Type:      "trade",
			Balance:   balance,
			Available: balance - held[currency],
			Holds:     held[currency],
		})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Currency < accounts[j].Currency })
	return accounts, nil
}

func (e *Exchange) CreateMarketOrder(_ context.Context, symbol string, side model.Side, amount float64, clientOrderID string) (model.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("order"); err != nil {
		return model.OrderAck{}, err
	}
	if ack, ok := e.acks[clientOrderID]; ok && clientOrderID != "" {
		return ack, nil
	}
	if err := e.checkOrder(side, amount); err != nil {
		return model.OrderAck{}, err
	}
	p, err := e.price(symbol)
	if err != nil {
		return model.OrderAck{}, err
	}

	asset := base(symbol)
	switch side {
	case model.Buy:
		if e.balances[e.quote] < amount*p {
			return model.OrderAck{}, &exchange.ExchangeError{Code: "200004", Reason: "balance insufficient"}
		}
		e.balances[e.quote] -= amount * p
		e.balances[asset] += amount
	case model.Sell:
		if e.balances[asset] < amount {
			return model.OrderAck{}, &exchange.ExchangeError{Code: "200004", Reason: "balance insufficient"}
		}
		e.balances[asset] -= amount
		e.balances[e.quote] += amount * p
	}

	ack := model.OrderAck{
		ExchangeOrderID: e.nextID(),
		ClientOrderID:   clientOrderID,
		Filled:          true,
		FilledAmount:    amount,
		FilledPrice:     p,
		Closed:          true,
	}
	e.acks[clientOrderID] = ack
	e.executions++
	return ack, nil
}

func (e *Exchange) CreateLimitOrder(_ context.Context, symbol string, side model.Side, amount, price float64, clientOrderID string) (model.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("order"); err != nil {
		return model.OrderAck{}, err
	}
	if ack, ok := e.acks[clientOrderID]; ok && clientOrderID != "" {
		return ack, nil
	}
	if err := e.checkOrder(side, amount); err != nil {
		return model.OrderAck{}, err
	}
	if price <= 0 {
		return model.OrderAck{}, &exchange.ExchangeError{Code: "400100", Reason: "price must be positive"}
	}
	if _, err := e.price(symbol); err != nil {
		return model.OrderAck{}, err
	}

	id := e.nextID()
	e.resting[id] = restingOrder{clientOrderID: clientOrderID, symbol: symbol, side: side, amount: amount, price: price}
	ack := model.OrderAck{ExchangeOrderID: id, ClientOrderID: clientOrderID}
	e.acks[clientOrderID] = ack
	e.executions++
	return ack, nil
}

func (e *Exchange) CancelOrder(_ context.Context, exchangeOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("cancel"); err != nil {
		return err
	}
	r, ok := e.resting[exchangeOrderID]
	if !ok {
		return &exchange.ExchangeError{Code: "400100", Reason: "order not exists or already done"}
	}
	delete(e.resting, exchangeOrderID)
	if ack, ok := e.acks[r.clientOrderID]; ok {
		ack.Closed = true
		e.acks[r.clientOrderID] = ack
	}
	return nil
}

func (e *Exchange) GetOrder(_ context.Context, clientOrderID string) (model.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("get_order"); err != nil {
		return model.OrderAck{}, err
	}
	ack, ok := e.acks[clientOrderID]
	if !ok || clientOrderID == "" {
		return model.OrderAck{}, &exchange.ExchangeError{Code: "400100", Reason: "order not exist"}
	}
	return ack, nil
}

// Fill executes the resting limit order placed under clientOrderID at its own price.
func (e *Exchange) Fill(clientOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ack, ok := e.acks[clientOrderID]
	if !ok {
		return fmt.Errorf("no order %s", clientOrderID)
	}
	r, ok := e.resting[ack.ExchangeOrderID]
	if !ok {
		return fmt.Errorf("order %s is not resting", clientOrderID)
	}

	asset := base(r.symbol)
	switch r.side {
	case model.Buy:
		e.balances[e.quote] -= r.amount * r.price
		e.balances[asset] += r.amount
	case model.Sell:
		e.balances[asset] -= r.amount
		e.balances[e.quote] += r.amount * r.price
	}
	delete(e.resting, ack.ExchangeOrderID)

	ack.Filled = true
	ack.Closed = true
	ack.FilledAmount = r.amount
	ack.FilledPrice = r.price
	e.acks[clientOrderID] = ack
	return nil
}

func (e *Exchange) checkOrder(side model.Side, amount float64) error {
	if reason := e.rejectNext; reason != "" {
		e.rejectNext = ""
		return &exchange.ExchangeError{Code: "400100", Reason: reason}
	}
	if !side.Valid() {
		return &exchange.ExchangeError{Code: "400100", Reason: "invalid side " + string(side)}
	}
	if amount <= 0 {
		return &exchange.ExchangeError{Code: "400100", Reason: "size must be positive"}
	}
	return nil
}

func (e *Exchange) nextID() string {
	e.seq++
	return "dummy-" + strconv.Itoa(e.seq)
}

// base returns BTC for BTC-USDT.
func base(symbol string) string {
	if i := strings.IndexAny(symbol, "-/"); i > 0 {
		return symbol[:i]
	}
	return symbol
}
