// Package exchange defines the capability every trading venue client provides.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/model"
)

type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (model.Ticker, error)
	Get24hrStats(ctx context.Context, symbol string) (model.Stats24h, error)
	GetKlineData(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]model.Kline, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)
	CreateMarketOrder(ctx context.Context, symbol string, side model.Side, amount float64, clientOrderID string) (model.OrderAck, error)
	CreateLimitOrder(ctx context.Context, symbol string, side model.Side, amount, price float64, clientOrderID string) (model.OrderAck, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
}

// OrderReader looks an order up by the client order id it was placed with.
type OrderReader interface {
	GetOrder(ctx context.Context, clientOrderID string) (model.OrderAck, error)
}

// ExchangeError is a rejection by the venue's business logic. It is never retried.
type ExchangeError struct {
	Code   string
	Reason string
}

func (e *ExchangeError) Error() string {
	if e.Code == "" {
		return "exchange rejected request: " + e.Reason
	}
	return fmt.Sprintf("exchange rejected request (%s): %s", e.Code, e.Reason)
}

func IsRejection(err error) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr)
}

type Interval string

const (
	Minute   Interval = "1min"
	Minute5  Interval = "5min"
	Minute15 Interval = "15min"
	Minute30 Interval = "30min"
	Hour     Interval = "1hour"
	Hour4    Interval = "4hour"
	Day      Interval = "1day"
	Week     Interval = "1week"
)

var _intervals = map[Interval]time.Duration{
	Minute:   time.Minute,
	Minute5:  5 * time.Minute,
	Minute15: 15 * time.Minute,
	Minute30: 30 * time.Minute,
	Hour:     time.Hour,
	Hour4:    4 * time.Hour,
	Day:      24 * time.Hour,
	Week:     7 * 24 * time.Hour,
}

func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if _, ok := _intervals[i]; !ok {
		return "", fmt.Errorf("unknown kline interval %q", s)
	}
	return i, nil
}

func (i Interval) Duration() time.Duration {
	return _intervals[i]
}
