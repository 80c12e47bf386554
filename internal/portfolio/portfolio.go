// Package portfolio holds the ledger: cash, holdings, last known prices,
// the trade log and snapshot history. RecordTrade is the only path that
// moves cash or holdings.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/metrics"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/storage"
)

const _eps = 1e-9

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidTrade         = errors.New("invalid trade")
	ErrNotInitialized       = errors.New("ledger is not initialized")
	ErrAlreadyHeld          = errors.New("order already holds funds")
)

type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (model.Price, error)
}

type Config struct {
	InitialCapital        float64
	MaxAllocationPerAsset float64
	MaxCashAllocation     float64
	MinAllocationPerAsset float64
	// Symbols are priced on every update even when nothing is held.
	Symbols []string
}

type Option func(*Ledger)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

type Ledger struct {
	cfg     Config
	store   storage.LedgerStore
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	initialized bool
	state       model.PortfolioState
	holds       map[string]hold
}

func NewLedger(cfg Config, store storage.LedgerStore, logger logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
		holds:  make(map[string]hold),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init restores the saved ledger or starts a fresh one with the initial capital.
func (l *Ledger) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		state, exists, err := l.store.LoadLedger(ctx)
		if err != nil {
			return fmt.Errorf("%w: can't load ledger", err)
		}
		if exists {
			l.state = normalize(state)
			l.initialized = true
			l.logger.Infof("ledger restored: cash=%.2f holdings=%d trades=%d", l.state.Cash, len(l.state.Holdings), len(l.state.Trades))
			l.publish()
			return nil
		}
	}

	next := normalize(model.PortfolioState{
		InitialCapital: l.cfg.InitialCapital,
		Cash:           l.cfg.InitialCapital,
	})
	next.UpdatedAt = l.now()
	next.Snapshots = append(next.Snapshots, snapshotOf(next, next.UpdatedAt))
	if err := l.commit(ctx, next); err != nil {
		return err
	}
	l.initialized = true
	l.logger.Infof("new ledger with capital %.2f", l.cfg.InitialCapital)
	return nil
}

// UpdatePrices refreshes prices of held and tracked symbols. A symbol whose
// price can't be fetched keeps its previous price and the call reports false.
func (l *Ledger) UpdatePrices(ctx context.Context, src PriceSource) bool {
	l.mu.RLock()
	symbols := l.pricedSymbols()
	l.mu.RUnlock()

	fetched := make(map[string]model.Price, len(symbols))
	ok := true
	for _, symbol := range symbols {
		p, err := src.LatestPrice(ctx, symbol)
		if err == nil && p.Price <= 0 {
			err = fmt.Errorf("non-positive price %v", p.Price)
		}
		if err != nil {
			l.logger.Warnf("%s: keep stale price for %s", err, symbol)
			ok = false
			continue
		}
		fetched[symbol] = p
	}
	if len(fetched) == 0 {
		return ok && len(symbols) == 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		l.logger.Errorf("%s: prices not applied", ErrNotInitialized)
		return false
	}

	next := clone(l.state)
	for symbol, p := range fetched {
		next.Prices[symbol] = p
	}
	next.UpdatedAt = l.now()
	if err := l.commit(ctx, next); err != nil {
		l.logger.Errorf("%s: prices not applied", err)
		return false
	}
	return ok
}

// RecordTrade applies a fill to cash and holdings as one step. On any error
// the ledger is left exactly as it was. A trade for an order id already in
// the trade log is not applied again and reports true.
func (l *Ledger) RecordTrade(ctx context.Context, t model.Trade) (bool, error) {
	if t.Quantity <= 0 || t.Price <= 0 || !t.Action.Valid() || t.Symbol == "" {
		return false, fmt.Errorf("%w: %s %v %s at %v", ErrInvalidTrade, t.Action, t.Quantity, t.Symbol, t.Price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return false, ErrNotInitialized
	}
	if _, ok := l.tradeFor(t.OrderID); ok {
		delete(l.holds, t.OrderID)
		l.logger.Warnf("fill of order %s already recorded, skipped", t.OrderID)
		return true, nil
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = l.now()
	}

	next := clone(l.state)
	h := next.Holdings[t.Symbol]
	h.Symbol = t.Symbol
	value := t.Value()

	switch t.Action {
	case model.Buy:
		if value > next.Cash+_eps {
			return false, fmt.Errorf("%w: cost %.2f, cash %.2f", ErrInsufficientFunds, value, next.Cash)
		}
		next.Cash = max(next.Cash-value, 0)
		h.Quantity += t.Quantity
		h.CostBasis += value
	case model.Sell:
		if t.Quantity > h.Quantity+_eps {
			return false, fmt.Errorf("%w: sell %v %s, held %v", ErrInsufficientHoldings, t.Quantity, t.Symbol, h.Quantity)
		}
		h.CostBasis -= h.AveragePrice() * min(t.Quantity, h.Quantity)
		h.Quantity -= t.Quantity
		next.Cash += value
	}

	if h.Quantity <= _eps {
		delete(next.Holdings, t.Symbol)
	} else {
		next.Holdings[t.Symbol] = h
	}
	next.Prices[t.Symbol] = model.Price{Symbol: t.Symbol, Price: t.Price, Timestamp: t.Timestamp}
	next.Trades = append(next.Trades, t)
	next.UpdatedAt = t.Timestamp
	next.Snapshots = append(next.Snapshots, snapshotOf(next, t.Timestamp))

	if err := l.commit(ctx, next); err != nil {
		return false, err
	}
	delete(l.holds, t.OrderID)

	l.metrics.Trade(t.Action)
	l.logger.Infof("recorded %s %v %s at %v, cash=%.2f", t.Action, t.Quantity, t.Symbol, t.Price, next.Cash)
	return true, nil
}

// commit persists next and only then makes it current. Must hold mu.
func (l *Ledger) commit(ctx context.Context, next model.PortfolioState) error {
	if l.store != nil {
		if err := l.store.SaveLedger(ctx, next); err != nil {
			return fmt.Errorf("%w: ledger not advanced", err)
		}
	}
	l.state = next
	l.publish()
	return nil
}

func (l *Ledger) publish() {
	l.metrics.Portfolio(totalValue(l.state), l.state.Cash)
}

// CalculateAllocations returns each holding's share of total value. Together
// with CashFraction the shares sum to one.
func (l *Ledger) CalculateAllocations() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return allocations(l.state, totalValue(l.state))
}

func (l *Ledger) CashFraction() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cashFraction(l.state)
}

func (l *Ledger) TotalValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return totalValue(l.state)
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Cash
}

func (l *Ledger) Holding(symbol string) model.Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Holdings[symbol]
}

// Price is the last known price of symbol.
func (l *Ledger) Price(symbol string) (model.Price, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.state.Prices[symbol]
	return p, ok
}

func (l *Ledger) Trades() []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.state.Trades)
}

// TradeFor returns the trade recorded for orderID, if any.
func (l *Ledger) TradeFor(orderID string) (model.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradeFor(orderID)
}

func (l *Ledger) tradeFor(orderID string) (model.Trade, bool) {
	if orderID == "" {
		return model.Trade{}, false
	}
	for i := len(l.state.Trades) - 1; i >= 0; i-- {
		if l.state.Trades[i].OrderID == orderID {
			return l.state.Trades[i], true
		}
	}
	return model.Trade{}, false
}

func (l *Ledger) Snapshots() []model.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.state.Snapshots)
}

// State returns a deep copy of the current ledger state.
func (l *Ledger) State() model.PortfolioState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.state)
}

// Run refreshes prices every interval until ctx is done.
func (l *Ledger) Run(ctx context.Context, src PriceSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.UpdatePrices(ctx, src) {
				l.logger.Warnf("price refresh incomplete")
			}
		}
	}
}

func (l *Ledger) pricedSymbols() []string {
	set := make(map[string]struct{}, len(l.state.Holdings)+len(l.cfg.Symbols))
	for s := range l.state.Holdings {
		set[s] = struct{}{}
	}
	for _, s := range l.cfg.Symbols {
		set[s] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

func normalize(s model.PortfolioState) model.PortfolioState {
	if s.Holdings == nil {
		s.Holdings = make(map[string]model.Holding)
	}
	if s.Prices == nil {
		s.Prices = make(map[string]model.Price)
	}
	return s
}

func clone(s model.PortfolioState) model.PortfolioState {
	c := s
	c.Holdings = maps.Clone(s.Holdings)
	c.Prices = maps.Clone(s.Prices)
	c.Trades = slices.Clone(s.Trades)
	c.Snapshots = slices.Clone(s.Snapshots)
	return normalize(c)
}

// markPrice falls back to the average entry price when no market price was ever seen.
func markPrice(s model.PortfolioState, symbol string) float64 {
	if p, ok := s.Prices[symbol]; ok && p.Price > 0 {
		return p.Price
	}
	return s.Holdings[symbol].AveragePrice()
}

func totalValue(s model.PortfolioState) float64 {
	total := s.Cash
	for symbol, h := range s.Holdings {
		total += h.Quantity * markPrice(s, symbol)
	}
	return total
}

func allocations(s model.PortfolioState, total float64) map[string]float64 {
	out := make(map[string]float64, len(s.Holdings))
	if total <= 0 {
		return out
	}
	for symbol, h := range s.Holdings {
		out[symbol] = h.Quantity * markPrice(s, symbol) / total
	}
	return out
}

func cashFraction(s model.PortfolioState) float64 {
	total := totalValue(s)
	if total <= 0 {
		return 1
	}
	return s.Cash / total
}

func snapshotOf(s model.PortfolioState, at time.Time) model.Snapshot {
	total := totalValue(s)
	return model.Snapshot{
		Timestamp:    at,
		TotalValue:   total,
		Cash:         s.Cash,
		CashFraction: cashFraction(s),
		Allocations:  allocations(s, total),
	}
}
