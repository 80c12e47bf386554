// Package tinvest adapts the T-Invest broker SDK to the exchange capability.
// Amounts are in instrument units and are converted to whole lots.
package tinvest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/tools"
	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
	"go.uber.org/ratelimit"
)

var (
	ErrNotExist = errors.New("instrument doesn't exist")
	ErrNotFound = errors.New("no tradable instrument")
)

type instrument struct {
	uid               string
	figi              string
	ticker            string
	currency          string
	lot               int64
	minPriceIncrement float64
}

type Client struct {
	accountID string
	logger    logger.Logger

	instrClient  *investgo.InstrumentsServiceClient
	mdClient     *investgo.MarketDataServiceClient
	opsClient    *investgo.OperationsServiceClient
	ordersClient *investgo.OrdersServiceClient

	instrRateLimiter  ratelimit.Limiter // 200 T/M
	mdRateLimiter     ratelimit.Limiter // 600 T/M but we keep lower
	opsRateLimiter    ratelimit.Limiter // 200 T/M
	ordersRateLimiter ratelimit.Limiter // 100 T/M

	mu    sync.Mutex
	cache map[string]instrument
}

var _ exchange.Exchange = (*Client)(nil)

func NewClient(c *investgo.Client, accountID string, logger logger.Logger) *Client {
	return &Client{
		accountID:         accountID,
		logger:            logger,
		instrClient:       c.NewInstrumentsServiceClient(),
		mdClient:          c.NewMarketDataServiceClient(),
		opsClient:         c.NewOperationsServiceClient(),
		ordersClient:      c.NewOrdersServiceClient(),
		instrRateLimiter:  ratelimit.New(200, ratelimit.Per(time.Minute)),
		mdRateLimiter:     ratelimit.New(500, ratelimit.Per(time.Minute)),
		opsRateLimiter:    ratelimit.New(200, ratelimit.Per(time.Minute)),
		ordersRateLimiter: ratelimit.New(100, ratelimit.Per(time.Minute)),
		cache:             make(map[string]instrument),
	}
}

// resolve maps a configured symbol (ticker, FIGI or ISIN) onto a tradable instrument.
func (c *Client) resolve(query string) (instrument, error) {
	c.mu.Lock()
	if i, ok := c.cache[query]; ok {
		c.mu.Unlock()
		return i, nil
	}
	c.mu.Unlock()

	c.instrRateLimiter.Take()
	resp, err := c.instrClient.FindInstrument(query)
	if err != nil {
		return instrument{}, fmt.Errorf("%w: can't find instrument", err)
	}
	if len(resp.GetInstruments()) == 0 {
		return instrument{}, ErrNotExist
	}

	for _, short := range resp.GetInstruments() {
		if !short.GetApiTradeAvailableFlag() {
			continue
		}

		c.instrRateLimiter.Take()
		info, err := c.instrClient.InstrumentByFigi(short.GetFigi())
		if err != nil {
			c.logger.Warnf("%s: can't get info for figi=%s", err, short.GetFigi())
			continue
		}
		full := info.GetInstrument()
		if !full.GetBuyAvailableFlag() || !full.GetSellAvailableFlag() {
			continue
		}

		i := instrument{
			uid:               full.GetUid(),
			figi:              full.GetFigi(),
			ticker:            full.GetTicker(),
			currency:          full.GetCurrency(),
			lot:               int64(full.GetLot()),
			minPriceIncrement: full.GetMinPriceIncrement().ToFloat(),
		}
		c.mu.Lock()
		c.cache[query] = i
		c.mu.Unlock()
		return i, nil
	}

	return instrument{}, ErrNotFound
}

func (c *Client) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	i, err := c.resolve(symbol)
	if err != nil {
		return model.Ticker{}, fmt.Errorf("%w: %s", err, symbol)
	}

	c.mdRateLimiter.Take()
	resp, err := c.mdClient.GetLastPrices([]string{i.uid})
	if err != nil {
		return model.Ticker{}, fmt.Errorf("%w: can't get last price", err)
	}
	if len(resp.GetLastPrices()) == 0 {
		return model.Ticker{}, &exchange.ExchangeError{Reason: "empty last price for " + symbol}
	}

	last := resp.GetLastPrices()[0]
	price := last.GetPrice().ToFloat()
	return model.Ticker{
		Symbol:  symbol,
		Price:   price,
		BestBid: price,
		BestAsk: price,
		Time:    last.GetTime().AsTime(),
	}, nil
}

func (c *Client) Get24hrStats(ctx context.Context, symbol string) (model.Stats24h, error) {
	to := time.Now().UTC()
	klines, err := c.GetKlineData(ctx, symbol, exchange.Hour, to.Add(-24*time.Hour), to)
	if err != nil {
		return model.Stats24h{}, err
	}
	if len(klines) == 0 {
		return model.Stats24h{}, &exchange.ExchangeError{Reason: "no candles for " + symbol}
	}

	st := model.Stats24h{
		Symbol: symbol,
		Open:   klines[0].Open,
		High:   klines[0].High,
		Low:    klines[0].Low,
		Last:   klines[len(klines)-1].Close,
		Time:   klines[len(klines)-1].Time,
	}
	for _, k := range klines {
		st.High = math.Max(st.High, k.High)
		st.Low = math.Min(st.Low, k.Low)
		st.Volume += k.Volume
	}
	if st.Open > 0 {
		st.ChangeRate = (st.Last - st.Open) / st.Open
	}
	return st, nil
}

func (c *Client) GetKlineData(_ context.Context, symbol string, interval exchange.Interval, start, end time.Time) ([]model.Kline, error) {
	ci, err := candleInterval(interval)
	if err != nil {
		return nil, err
	}
	i, err := c.resolve(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, symbol)
	}

	c.mdRateLimiter.Take()
	resp, err := c.mdClient.GetCandles(i.uid, ci, start, end, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("can't get candles from api: %w", err)
	}

	klines := make([]model.Kline, len(resp.GetCandles()))
	for idx, item := range resp.GetCandles() {
		klines[idx] = model.Kline{
			Time:   item.GetTime().AsTime(),
			Open:   item.GetOpen().ToFloat(),
			Close:  item.GetClose().ToFloat(),
			High:   item.GetHigh().ToFloat(),
			Low:    item.GetLow().ToFloat(),
			Volume: float64(item.GetVolume() * i.lot),
		}
	}
	return klines, nil
}

func (c *Client) GetAccounts(_ context.Context) ([]model.Account, error) {
	c.opsRateLimiter.Take()
	resp, err := c.opsClient.GetPositions(c.accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't get positions", err)
	}

	blocked := make(map[string]float64)
	for _, m := range resp.GetBlocked() {
		blocked[m.GetCurrency()] += m.ToFloat()
	}

	accounts := make([]model.Account, 0, len(resp.GetMoney())+len(resp.GetSecurities()))
	for _, m := range resp.GetMoney() {
		accounts = append(accounts, model.Account{
			ID:        c.accountID,
			Currency:  m.GetCurrency(),
			Type:      "money",
			Balance:   m.ToFloat() + blocked[m.GetCurrency()],
			Available: m.ToFloat(),
			Holds:     blocked[m.GetCurrency()],
		})
	}
	for _, s := range resp.GetSecurities() {
		accounts = append(accounts, model.Account{
			ID:        c.accountID,
			Currency:  s.GetFigi(),
			Type:      "security",
			Balance:   float64(s.GetBalance() + s.GetBlocked()),
			Available: float64(s.GetBalance()),
			Holds:     float64(s.GetBlocked()),
		})
	}
	return accounts, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side model.Side, amount float64, clientOrderID string) (model.OrderAck, error) {
	return c.postOrder(symbol, side, amount, 0, investapi.OrderType_ORDER_TYPE_MARKET, clientOrderID)
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side model.Side, amount, price float64, clientOrderID string) (model.OrderAck, error) {
	return c.postOrder(symbol, side, amount, price, investapi.OrderType_ORDER_TYPE_LIMIT, clientOrderID)
}

func (c *Client) postOrder(symbol string, side model.Side, amount, price float64, orderType investapi.OrderType, clientOrderID string) (model.OrderAck, error) {
	i, err := c.resolve(symbol)
	if err != nil {
		return model.OrderAck{}, fmt.Errorf("%w: %s", err, symbol)
	}
	lots, err := lotsFor(amount, i.lot)
	if err != nil {
		return model.OrderAck{}, err
	}

	req := &investgo.PostOrderRequestShort{
		InstrumentId: i.uid,
		Quantity:     lots,
		AccountId:    c.accountID,
		OrderType:    orderType,
		OrderId:      clientOrderID,
	}
	if orderType == investapi.OrderType_ORDER_TYPE_LIMIT {
		req.Price = tools.FloatToQuotation(price, i.minPriceIncrement)
	}

	c.ordersRateLimiter.Take()
	var resp *investgo.PostOrderResponse
	switch side {
	case model.Buy:
		resp, err = c.ordersClient.Buy(req)
	case model.Sell:
		resp, err = c.ordersClient.Sell(req)
	default:
		return model.OrderAck{}, &exchange.ExchangeError{Reason: "invalid side " + string(side)}
	}
	if err != nil {
		return model.OrderAck{}, fmt.Errorf("%w: can't post %s order", err, side)
	}

	ack := model.OrderAck{ExchangeOrderID: resp.GetOrderId(), ClientOrderID: clientOrderID}
	switch resp.GetExecutionReportStatus() {
	case investapi.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_FILL:
		ack.Filled = true
		ack.FilledAmount = float64(resp.GetLotsExecuted() * i.lot)
		ack.FilledPrice = resp.GetExecutedOrderPrice().ToFloat()
	case investapi.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_REJECTED:
		return model.OrderAck{}, &exchange.ExchangeError{Code: resp.GetExecutionReportStatus().String(), Reason: resp.GetMessage()}
	}
	return ack, nil
}

func (c *Client) CancelOrder(_ context.Context, exchangeOrderID string) error {
	if exchangeOrderID == "" {
		return fmt.Errorf("empty orders id")
	}
	orderIdType := new(investapi.OrderIdType)
	*orderIdType = investapi.OrderIdType_ORDER_ID_TYPE_EXCHANGE

	c.ordersRateLimiter.Take()
	if _, err := c.ordersClient.CancelOrder(c.accountID, exchangeOrderID, orderIdType); err != nil {
		return fmt.Errorf("%w: can't cancel order", err)
	}
	return nil
}

func lotsFor(amount float64, lot int64) (int64, error) {
	if lot <= 0 {
		lot = 1
	}
	lots := amount / float64(lot)
	rounded := math.Round(lots)
	if rounded < 1 || math.Abs(lots-rounded) > 1e-9 {
		return 0, &exchange.ExchangeError{Reason: fmt.Sprintf("amount %v is not a whole number of lots of %d", amount, lot)}
	}
	return int64(rounded), nil
}

func candleInterval(i exchange.Interval) (investapi.CandleInterval, error) {
	switch i {
	case exchange.Minute:
		return investapi.CandleInterval_CANDLE_INTERVAL_1_MIN, nil
	case exchange.Minute5:
		return investapi.CandleInterval_CANDLE_INTERVAL_5_MIN, nil
	case exchange.Minute15:
		return investapi.CandleInterval_CANDLE_INTERVAL_15_MIN, nil
	case exchange.Minute30:
		return investapi.CandleInterval_CANDLE_INTERVAL_30_MIN, nil
	case exchange.Hour:
		return investapi.CandleInterval_CANDLE_INTERVAL_HOUR, nil
	case exchange.Hour4:
		return investapi.CandleInterval_CANDLE_INTERVAL_4_HOUR, nil
	case exchange.Day:
		return investapi.CandleInterval_CANDLE_INTERVAL_DAY, nil
	case exchange.Week:
		return investapi.CandleInterval_CANDLE_INTERVAL_WEEK, nil
	}
	return investapi.CandleInterval_CANDLE_INTERVAL_UNSPECIFIED, fmt.Errorf("unsupported candle interval %q", i)
}
