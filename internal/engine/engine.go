// Package engine runs the trading cycle: refresh prices, revalue the
// ledger, read signals, size orders and optionally submit them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/analysis"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/orders"
	"github.com/STTM-NSU/signal-trader/internal/portfolio"
)

const (
	_workersDefault  = 4
	_intervalDefault = time.Hour
)

type Refresher interface {
	Refresh(ctx context.Context) error
}

type Ledger interface {
	UpdatePrices(ctx context.Context, src portfolio.PriceSource) bool
	GetAllocationRecommendations(targets map[string]float64) []model.Recommendation
}

type Submitter interface {
	CreateOrderFromSignal(ctx context.Context, sig model.Signal, allocation *float64) (*model.Order, error)
	SubmitOrder(ctx context.Context, order *model.Order, confirm orders.Confirm) (model.SubmissionResult, error)
	Reconcile(ctx context.Context) ([]model.SubmissionResult, error)
}

type Config struct {
	Symbols []string
	// Workers bounds concurrent submissions.
	Workers int
}

type Trader struct {
	cfg       Config
	ledger    Ledger
	submitter Submitter
	signals   analysis.Source
	prices    portfolio.PriceSource
	feed      Refresher
	logger    logger.Logger

	cycles atomic.Int64
}

// NewTrader wires the cycle. feed may be nil when prices are fetched lazily.
func NewTrader(cfg Config, ledger Ledger, submitter Submitter, signals analysis.Source, prices portfolio.PriceSource, feed Refresher, logger logger.Logger) *Trader {
	if cfg.Workers <= 0 {
		cfg.Workers = _workersDefault
	}
	return &Trader{
		cfg:       cfg,
		ledger:    ledger,
		submitter: submitter,
		signals:   signals,
		prices:    prices,
		feed:      feed,
		logger:    logger.With("component", "engine"),
	}
}

type CycleReport struct {
	Cycle         int64                    `json:"cycle"`
	StartedAt     time.Time                `json:"started_at"`
	Duration      time.Duration            `json:"duration"`
	PricesUpdated bool                     `json:"prices_updated"`
	Reconciled    []model.SubmissionResult `json:"reconciled,omitempty"`
	Signals       []model.Signal           `json:"signals"`
	Orders        []model.Order            `json:"orders"`
	Results       []model.SubmissionResult `json:"results,omitempty"`
	Errors        []string                 `json:"errors,omitempty"`
}

// RunCycle performs one pass. With execute unset orders are only built and
// reported, otherwise submitted orders are first reconciled with the exchange.
// A failing signal or order is reported and does not stop the others.
func (t *Trader) RunCycle(ctx context.Context, execute bool, confirm orders.Confirm) (CycleReport, error) {
	report := CycleReport{Cycle: t.cycles.Add(1), StartedAt: time.Now().UTC()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	if t.feed != nil {
		if err := t.feed.Refresh(ctx); err != nil {
			report.Errors = append(report.Errors, err.Error())
			t.logger.Warnf("%s: price refresh incomplete", err)
		}
	}
	report.PricesUpdated = t.ledger.UpdatePrices(ctx, t.prices)

	if execute {
		reconciled, err := t.submitter.Reconcile(ctx)
		report.Reconciled = reconciled
		switch {
		case errors.Is(err, orders.ErrNoOrderLookup):
			t.logger.Debugf("%s: submitted orders are not reconciled", err)
		case err != nil:
			report.Errors = append(report.Errors, err.Error())
			t.logger.Warnf("%s: reconcile incomplete", err)
		}
	}

	signals, err := t.signals.GetSignals(ctx, t.cfg.Symbols)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, fmt.Errorf("%w: cycle %d", err, report.Cycle)
	}
	report.Signals = signals

	var built []*model.Order
	for _, sig := range signals {
		o, err := t.submitter.CreateOrderFromSignal(ctx, sig, nil)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			t.logger.Warnf("%s: skip signal %s %s", err, sig.Action, sig.Symbol)
			continue
		}
		if o == nil {
			continue
		}
		built = append(built, o)
	}

	if execute {
		results, errs := t.submitAll(ctx, built, confirm)
		report.Results = results
		for _, err := range errs {
			report.Errors = append(report.Errors, err.Error())
		}
	}
	for _, o := range built {
		report.Orders = append(report.Orders, *o)
	}

	t.logger.Infof("cycle %d: %d signals, %d orders, %d errors", report.Cycle, len(signals), len(built), len(report.Errors))
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

func (t *Trader) submitAll(ctx context.Context, built []*model.Order, confirm orders.Confirm) ([]model.SubmissionResult, []error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		results = make([]model.SubmissionResult, len(built))
		sem     = make(chan struct{}, t.cfg.Workers)
	)
	for i, o := range built {
		wg.Add(1)
		go func(i int, o *model.Order) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Errorf("%w: order %s not submitted", ctx.Err(), o.ID))
				mu.Unlock()
				results[i] = model.SubmissionResult{OrderID: o.ID, Status: o.Status}
				return
			}
			defer func() { <-sem }()

			res, err := t.submitter.SubmitOrder(ctx, o, confirm)
			results[i] = res
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%w: order %s", err, o.ID))
				mu.Unlock()
			}
		}(i, o)
	}
	wg.Wait()
	return results, errs
}

// Run starts a cycle immediately and then every interval until ctx is done.
func (t *Trader) Run(ctx context.Context, interval time.Duration, execute bool, confirm orders.Confirm) error {
	if interval <= 0 {
		interval = _intervalDefault
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := t.RunCycle(ctx, execute, confirm); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			t.logger.Errorf("%s: cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Rebalance returns advisory deltas against the analysis targets.
func (t *Trader) Rebalance(ctx context.Context) ([]model.Recommendation, error) {
	t.ledger.UpdatePrices(ctx, t.prices)
	targets, err := t.signals.GetTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't get targets", err)
	}
	return t.ledger.GetAllocationRecommendations(targets), nil
}
