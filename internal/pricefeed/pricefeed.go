// Package pricefeed polls exchange tickers and serves the latest known price per symbol.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"go.uber.org/ratelimit"
)

const (
	_callsPerMinuteDefault = 120
	_maxAgeDefault         = 30 * time.Second
)

type Option func(*Fetcher)

func WithLimiter(l ratelimit.Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(f *Fetcher) {
		f.maxAge = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

type Fetcher struct {
	ex      exchange.Exchange
	symbols []string
	limiter ratelimit.Limiter // spaces ticker polls, the gateway window still applies underneath
	maxAge  time.Duration
	logger  logger.Logger
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]model.Price
}

func New(ex exchange.Exchange, symbols []string, logger logger.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		ex:      ex,
		symbols: symbols,
		limiter: ratelimit.New(_callsPerMinuteDefault, ratelimit.Per(time.Minute)),
		maxAge:  _maxAgeDefault,
		logger:  logger.With("component", "pricefeed"),
		now:     time.Now,
		cache:   make(map[string]model.Price),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LatestPrice serves a cached price younger than the max age, otherwise asks the exchange.
func (f *Fetcher) LatestPrice(ctx context.Context, symbol string) (model.Price, error) {
	f.mu.RLock()
	p, ok := f.cache[symbol]
	f.mu.RUnlock()
	if ok && f.now().Sub(p.Timestamp) < f.maxAge {
		return p, nil
	}
	return f.fetch(ctx, symbol)
}

func (f *Fetcher) fetch(ctx context.Context, symbol string) (model.Price, error) {
	if err := ctx.Err(); err != nil {
		return model.Price{}, err
	}
	f.limiter.Take()
	t, err := f.ex.GetTicker(ctx, symbol)
	if err != nil {
		return model.Price{}, fmt.Errorf("%w: can't fetch price of %s", err, symbol)
	}
	if t.Price <= 0 {
		return model.Price{}, fmt.Errorf("non-positive price %v for %s", t.Price, symbol)
	}

	p := model.Price{Symbol: symbol, Price: t.Price, Timestamp: f.now()}
	f.mu.Lock()
	f.cache[symbol] = p
	f.mu.Unlock()
	return p, nil
}

// Refresh fetches every configured symbol and reports all failures together.
func (f *Fetcher) Refresh(ctx context.Context) error {
	var errs []error
	for _, symbol := range f.symbols {
		if _, err := f.fetch(ctx, symbol); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Prices returns a copy of the cache.
func (f *Fetcher) Prices() map[string]model.Price {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]model.Price, len(f.cache))
	for s, p := range f.cache {
		out[s] = p
	}
	return out
}

// History returns klines oldest first. Ranges longer than one request allows
// are fetched window by window.
func (f *Fetcher) History(ctx context.Context, symbol string, interval exchange.Interval, start, end time.Time) ([]model.Kline, error) {
	var (
		out  []model.Kline
		seen = make(map[int64]struct{})
	)
	for _, w := range splitRange(start, end, interval.Duration()*_maxKlinesPerRequest) {
		f.limiter.Take()
		klines, err := f.ex.GetKlineData(ctx, symbol, interval, w.Start, w.End)
		if err != nil {
			return nil, fmt.Errorf("%w: can't fetch history of %s", err, symbol)
		}
		for _, k := range klines {
			key := k.Time.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b model.Kline) int { return a.Time.Compare(b.Time) })
	return out, nil
}

func (f *Fetcher) Stats(ctx context.Context, symbol string) (model.Stats24h, error) {
	f.limiter.Take()
	return f.ex.Get24hrStats(ctx, symbol)
}

func (f *Fetcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				f.logger.Warnf("%s: price refresh incomplete", err)
			}
		}
	}
}
