// Package app assembles the trader's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/STTM-NSU/signal-trader/internal/analysis"
	"github.com/STTM-NSU/signal-trader/internal/config"
	"github.com/STTM-NSU/signal-trader/internal/engine"
	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/exchange/dummy"
	"github.com/STTM-NSU/signal-trader/internal/exchange/kucoin"
	"github.com/STTM-NSU/signal-trader/internal/exchange/tinvest"
	"github.com/STTM-NSU/signal-trader/internal/gateway"
	"github.com/STTM-NSU/signal-trader/internal/limiter"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/metrics"
	"github.com/STTM-NSU/signal-trader/internal/orders"
	"github.com/STTM-NSU/signal-trader/internal/portfolio"
	"github.com/STTM-NSU/signal-trader/internal/pricefeed"
	"github.com/STTM-NSU/signal-trader/internal/storage"
	"github.com/STTM-NSU/signal-trader/internal/storage/file"
	"github.com/STTM-NSU/signal-trader/internal/storage/postgres"
	"github.com/russianinvestments/invest-api-go-sdk/investgo"
)

type App struct {
	Config    config.TraderConfig
	Metrics   *metrics.Metrics
	Exchange  exchange.Exchange
	Store     storage.Store
	Signals   analysis.Source
	Feed      *pricefeed.Fetcher
	Ledger    *portfolio.Ledger
	Submitter *orders.Submitter
	Trader    *engine.Trader

	logger  logger.Logger
	closers []func() error
}

// New builds every component and restores the ledger. Close releases
// connections even when New fails halfway.
func New(ctx context.Context, cfg config.TraderConfig, log logger.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  log,
	}

	var err error
	if a.Exchange, err = a.newExchange(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%w: can't create exchange", err)
	}
	if a.Store, err = a.newStore(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%w: can't create storage", err)
	}
	a.Signals = a.newSignals()

	symbols := cfg.Symbols()
	a.Feed = pricefeed.New(a.Exchange, symbols, log)

	a.Ledger = portfolio.NewLedger(portfolio.Config{
		InitialCapital:        cfg.Portfolio.InitialCapital,
		MaxAllocationPerAsset: cfg.System.MaxAllocationPerAsset,
		MaxCashAllocation:     cfg.Portfolio.MaxCashAllocation,
		MinAllocationPerAsset: cfg.Portfolio.MinAllocationPerAsset,
		Symbols:               symbols,
	}, a.Store, log, portfolio.WithMetrics(a.Metrics))
	if err := a.Ledger.Init(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%w: can't init ledger", err)
	}

	a.Submitter = orders.NewSubmitter(orders.Config{
		RequireConfirmation:   cfg.System.RequireConfirmation(),
		MaxAllocationPerAsset: cfg.System.MaxAllocationPerAsset,
		Assets:                cfg.Assets,
	}, a.Exchange, a.Store, a.Ledger, a.Feed, log, orders.WithMetrics(a.Metrics))

	a.Trader = engine.NewTrader(engine.Config{Symbols: symbols}, a.Ledger, a.Submitter, a.Signals, a.Feed, a.Feed, log)
	return a, nil
}

func (a *App) newExchange(ctx context.Context) (exchange.Exchange, error) {
	cfg := a.Config.Exchange
	switch cfg.Kind {
	case config.Dummy:
		a.logger.Warnf("using offline dummy exchange, no real orders are placed")
		return dummy.New(cfg.DummyPrices, cfg.QuoteCurrency, a.Config.Portfolio.InitialCapital), nil

	case config.KuCoin:
		gc := a.Config.Gateway
		lim := limiter.New(gc.Endpoints, gc.DefaultCallsPerMinute, a.logger, limiter.WithMetrics(a.Metrics))
		g := gateway.New(gateway.Config{
			BaseURL:     gc.BaseURL,
			Timeout:     gc.Timeout,
			CallTimeout: gc.CallTimeout,
			Retry: gateway.RetryPolicy{
				MaxAttempts: gc.MaxAttempts,
				BaseDelay:   gc.BaseDelay,
				MaxDelay:    gc.MaxDelay,
				Jitter:      gc.Jitter,
			},
		}, lim, a.logger.With("component", "gateway"),
			gateway.WithSigner(kucoin.NewSigner(cfg.APIKey, cfg.APISecret, cfg.Passphrase)),
			gateway.WithMetrics(a.Metrics),
		)
		a.closers = append(a.closers, g.Close)
		return kucoin.NewClient(g, a.logger.With("component", "kucoin")), nil

	case config.TInvest:
		investCfg, err := config.LoadInvestConfig(cfg.InvestConfig, cfg.AccountID, cfg.Sandbox)
		if err != nil {
			return nil, fmt.Errorf("%w: can't load invest cfg", err)
		}
		client, err := investgo.NewClient(ctx, investCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: can't create invest client", err)
		}
		a.closers = append(a.closers, client.Stop)
		return tinvest.NewClient(client, investCfg.AccountId, a.logger.With("component", "tinvest")), nil
	}
	return nil, fmt.Errorf("unknown exchange kind %q", cfg.Kind)
}

func (a *App) newStore(ctx context.Context) (storage.Store, error) {
	switch a.Config.Storage.Kind {
	case config.PostgresStorage:
		pg := a.Config.Storage.Postgres
		s, err := postgres.Open(ctx, postgres.Options{
			Host:            pg.Host,
			Port:            pg.Port,
			User:            pg.User,
			Password:        pg.Password,
			Database:        pg.Database,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxOpenConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return file.New(a.Config.Storage.Dir)
	}
}

func (a *App) newSignals() analysis.Source {
	cfg := a.Config.Analysis
	switch {
	case cfg.Address != "":
		c := analysis.NewClient(cfg.Address, cfg.Timeout, a.logger)
		a.closers = append(a.closers, c.Close)
		return c
	case cfg.SignalsDir != "":
		return analysis.NewFileSource(cfg.SignalsDir, cfg.Targets, a.logger)
	default:
		a.logger.Warnf("no analysis source configured, cycles will see no signals")
		return &analysis.StaticSource{Targets: cfg.Targets}
	}
}

// Close releases clients in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
