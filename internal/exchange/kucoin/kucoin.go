// Package kucoin talks to a KuCoin-style spot REST API through the gateway.
package kucoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/gateway"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/shopspring/decimal"
)

const (
	_codeOK = "200000"

	_tickerURL      = "/api/v1/market/orderbook/level1"
	_statsURL       = "/api/v1/market/stats"
	_candlesURL     = "/api/v1/market/candles"
	_accountsURL    = "/api/v1/accounts"
	_ordersURL      = "/api/v1/orders"
	_clientOrderURL = "/api/v1/order/client-order/"

	// endpoint names used for rate limiting
	MarketEndpoint   = "market"
	AccountsEndpoint = "accounts"
	OrdersEndpoint   = "orders"
)

type Requester interface {
	Request(ctx context.Context, call gateway.Call, out any) error
}

type Client struct {
	g      Requester
	logger logger.Logger
}

var (
	_ exchange.Exchange    = (*Client)(nil)
	_ exchange.OrderReader = (*Client)(nil)
)

func NewClient(g Requester, logger logger.Logger) *Client {
	return &Client{g: g, logger: logger}
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func call[T any](ctx context.Context, c *Client, gc gateway.Call) (T, error) {
	var env envelope[T]
	if err := c.g.Request(ctx, gc, &env); err != nil {
		var apiErr *gateway.APIError
		if gc.Endpoint == OrdersEndpoint && errors.As(err, &apiErr) {
			return env.Data, &exchange.ExchangeError{Code: strconv.Itoa(apiErr.StatusCode), Reason: apiErr.Message}
		}
		return env.Data, err
	}
	if env.Code != _codeOK {
		return env.Data, &exchange.ExchangeError{Code: env.Code, Reason: env.Msg}
	}
	return env.Data, nil
}

type tickerData struct {
	Time    int64  `json:"time"`
	Price   string `json:"price"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	data, err := call[*tickerData](ctx, c, gateway.Call{
		Method:   http.MethodGet,
		Path:     _tickerURL,
		Endpoint: MarketEndpoint,
		Query:    map[string]string{"symbol": symbol},
	})
	if err != nil {
		return model.Ticker{}, fmt.Errorf("%w: can't get ticker %s", err, symbol)
	}
	if data == nil {
		return model.Ticker{}, &exchange.ExchangeError{Reason: "no ticker for " + symbol}
	}
	return model.Ticker{
		Symbol:  symbol,
		Price:   parseFloat(data.Price),
		BestBid: parseFloat(data.BestBid),
		BestAsk: parseFloat(data.BestAsk),
		Time:    time.UnixMilli(data.Time),
	}, nil
}

type statsData struct {
	Time        int64  `json:"time"`
	Symbol      string `json:"symbol"`
	ChangeRate  string `json:"changeRate"`
	ChangePrice string `json:"changePrice"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Vol         string `json:"vol"`
	Last        string `json:"last"`
}

func (c *Client) Get24hrStats(ctx context.Context, symbol string) (model.Stats24h, error) {
	data, err := call[statsData](ctx, c, gateway.Call{
		Method:   http.MethodGet,
		Path:     _statsURL,
		Endpoint: MarketEndpoint,
		Query:    map[string]string{"symbol": symbol},
	})
	if err != nil {
		return model.Stats24h{}, fmt.Errorf("%w: can't get 24h stats %s", err, symbol)
	}
	last := parseFloat(data.Last)
	return model.Stats24h{
		Symbol:     symbol,
		Open:       last - parseFloat(data.ChangePrice),
		High:       parseFloat(data.High),
		Low:        parseFloat(data.Low),
		Last:       last,
		Volume:     parseFloat(data.Vol),
		ChangeRate: parseFloat(data.ChangeRate),
		Time:       time.UnixMilli(data.Time),
	}, nil
}

// GetKlineData returns candles oldest first; the API answers newest first as
// [time, open, close, high, low, volume, turnover] string tuples.
func (c *Client) GetKlineData(ctx context.Context, symbol string, interval exchange.Interval, start, end time.Time) ([]model.Kline, error) {
	rows, err := call[[][]string](ctx, c, gateway.Call{
		Method:   http.MethodGet,
		Path:     _candlesURL,
		Endpoint: MarketEndpoint,
		Query: map[string]string{
			"symbol":  symbol,
			"type":    string(interval),
			"startAt": strconv.FormatInt(start.Unix(), 10),
			"endAt":   strconv.FormatInt(end.Unix(), 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't get klines %s", err, symbol)
	}

	klines := make([]model.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			c.logger.Warnf("skip malformed kline for %s: %v", symbol, row)
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			c.logger.Warnf("%s: skip kline with bad time for %s", err, symbol)
			continue
		}
		klines = append(klines, model.Kline{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   parseFloat(row[1]),
			Close:  parseFloat(row[2]),
			High:   parseFloat(row[3]),
			Low:    parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	sort.Slice(klines, func(i, j int) bool { return klines[i].Time.Before(klines[j].Time) })
	return klines, nil
}

type accountData struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

func (c *Client) GetAccounts(ctx context.Context) ([]model.Account, error) {
	data, err := call[[]accountData](ctx, c, gateway.Call{
		Method:   http.MethodGet,
		Path:     _accountsURL,
		Endpoint: AccountsEndpoint,
		Signed:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't get accounts", err)
	}
	accounts := make([]model.Account, 0, len(data))
	for _, a := range data {
		accounts = append(accounts, model.Account{
			ID:        a.ID,
			Currency:  a.Currency,
			Type:      a.Type,
			Balance:   parseFloat(a.Balance),
			Available: parseFloat(a.Available),
			Holds:     parseFloat(a.Holds),
		})
	}
	return accounts, nil
}

type orderRequest struct {
	ClientOid string `json:"clientOid"`
	Side      string `json:"side"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
}

type orderCreated struct {
	OrderID string `json:"orderId"`
}

type orderDetails struct {
	ID        string `json:"id"`
	ClientOid string `json:"clientOid"`
	DealSize  string `json:"dealSize"`
	DealFunds string `json:"dealFunds"`
	IsActive  bool   `json:"isActive"`
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side model.Side, amount float64, clientOrderID string) (model.OrderAck, error) {
	return c.placeOrder(ctx, orderRequest{
		ClientOid: clientOrderID,
		Side:      string(side),
		Symbol:    symbol,
		Type:      string(model.Market),
		Size:      decimal.NewFromFloat(amount).String(),
	})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side model.Side, amount, price float64, clientOrderID string) (model.OrderAck, error) {
	return c.placeOrder(ctx, orderRequest{
		ClientOid: clientOrderID,
		Side:      string(side),
		Symbol:    symbol,
		Type:      string(model.Limit),
		Size:      decimal.NewFromFloat(amount).String(),
		Price:     decimal.NewFromFloat(price).String(),
	})
}

// placeOrder posts the order and reads back its fill. If the post fails, an
// order already accepted under the same clientOid is looked up and returned.
func (c *Client) placeOrder(ctx context.Context, req orderRequest) (model.OrderAck, error) {
	created, err := call[orderCreated](ctx, c, gateway.Call{
		Method:   http.MethodPost,
		Path:     _ordersURL,
		Endpoint: OrdersEndpoint,
		Body:     req,
		Signed:   true,
	})
	if err != nil {
		if ack, lookupErr := c.clientOrder(ctx, req.ClientOid); lookupErr == nil {
			c.logger.Warnf("%s: order %s already exists on exchange as %s", err, req.ClientOid, ack.ExchangeOrderID)
			return ack, nil
		}
		return model.OrderAck{}, fmt.Errorf("%w: can't place %s order %s", err, req.Type, req.ClientOid)
	}

	ack := model.OrderAck{ExchangeOrderID: created.OrderID, ClientOrderID: req.ClientOid}
	if req.Type != string(model.Market) {
		return ack, nil
	}

	details, err := call[orderDetails](ctx, c, gateway.Call{
		Method:   http.MethodGet,
		Path:     _ordersURL + "/" + created.OrderID,
		Endpoint: OrdersEndpoint,
		Signed:   true,
	})
	if err != nil {
		c.logger.Warnf("%s: can't read fill of order %s", err, created.OrderID)
		return ack, nil
	}
	return details.ack(), nil
}

// GetOrder reads the state of the order placed under clientOrderID.
func (c *Client) GetOrder(ctx context.Context, clientOrderID string) (model.OrderAck, error) {
	ack, err := c.clientOrder(ctx, clientOrderID)
	if err != nil {
		return model.OrderAck{}, fmt.Errorf("%w: can't read order %s", err, clientOrderID)
	}
	return ack, nil
}

func (c *Client) clientOrder(ctx context.Context, clientOid string) (model.OrderAck, error) {
	if clientOid == "" {
		return model.OrderAck{}, fmt.Errorf("empty client order id")
	}
	details, err := call[orderDetails](ctx, c, gateway.Call{
		Method:   http.MethodGet,
		Path:     _clientOrderURL + clientOid,
		Endpoint: OrdersEndpoint,
		Signed:   true,
	})
	if err != nil {
		return model.OrderAck{}, err
	}
	if details.ID == "" {
		return model.OrderAck{}, fmt.Errorf("no order for client id %s", clientOid)
	}
	return details.ack(), nil
}

func (d orderDetails) ack() model.OrderAck {
	ack := model.OrderAck{ExchangeOrderID: d.ID, ClientOrderID: d.ClientOid, Closed: !d.IsActive}
	size := parseFloat(d.DealSize)
	if !d.IsActive && size > 0 {
		ack.Filled = true
		ack.FilledAmount = size
		ack.FilledPrice = parseFloat(d.DealFunds) / size
	}
	return ack
}

type cancelled struct {
	CancelledOrderIDs []string `json:"cancelledOrderIds"`
}

func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	_, err := call[cancelled](ctx, c, gateway.Call{
		Method:   http.MethodDelete,
		Path:     _ordersURL + "/" + exchangeOrderID,
		Endpoint: OrdersEndpoint,
		Signed:   true,
	})
	if err != nil {
		return fmt.Errorf("%w: can't cancel order %s", err, exchangeOrderID)
	}
	return nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
