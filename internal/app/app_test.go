package app

import (
	"context"
	"testing"

	"github.com/STTM-NSU/signal-trader/internal/config"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.TraderConfig {
	t.Helper()
	confirm := false
	cfg := config.TraderConfig{
		System:    config.SystemConfig{TradeConfirmation: &confirm, MaxAllocationPerAsset: 0.5},
		Portfolio: config.PortfolioConfig{InitialCapital: 1000},
		Exchange: config.ExchangeConfig{
			Kind:        config.Dummy,
			DummyPrices: map[string]float64{"BTC-USDT": 40000},
		},
		Storage:  config.StorageConfig{Kind: config.FileStorage, Dir: t.TempDir()},
		Analysis: config.AnalysisConfig{Targets: map[string]float64{"BTC-USDT": 0.4}},
		Assets:   []model.AssetConfig{{Symbol: "BTC-USDT", StepSize: 0.0001}},
	}
	require.NoError(t, cfg.ValidateAndSetup())
	return cfg
}

func TestNewDummyStack(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.InDelta(t, 1000, a.Ledger.Cash(), 1e-9)

	o := a.Submitter.NewOrder("BTC-USDT", model.Buy, model.Market, 0.005, 0, "manual")
	res, err := a.Submitter.SubmitOrder(ctx, o, orders.ConfirmDefault)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, res.Status)
	assert.InDelta(t, 800, a.Ledger.Cash(), 1e-6)

	recs, err := a.Trader.Rebalance(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, logger.NewNopLogger())
	require.NoError(t, err)
	o := a.Submitter.NewOrder("BTC-USDT", model.Buy, model.Market, 0.005, 0, "manual")
	_, err = a.Submitter.SubmitOrder(ctx, o, orders.ConfirmDefault)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer b.Close()

	assert.InDelta(t, 800, b.Ledger.Cash(), 1e-6)
	assert.InDelta(t, 0.005, b.Ledger.Holding("BTC-USDT").Quantity, 1e-9)

	stored, err := b.Submitter.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, stored.Status)
}

func TestUnknownExchangeFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchange.Kind = "nowhere"

	_, err := New(context.Background(), cfg, logger.NewNopLogger())
	assert.Error(t, err)
}
