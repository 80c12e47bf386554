package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTraderConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  kind: dummy
  dummy_prices:
    BTC-USDT: 40000
assets:
  - symbol: BTC-USDT
    min_order_size: 0.0001
  - symbol: ETH-USDT
    allocation_ceiling: 0.1
gateway:
  timeout: 3s
  endpoints:
    orders: 30
`)

	cfg, err := LoadTraderConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.System.RequireConfirmation())
	assert.Equal(t, 0.2, cfg.System.MaxAllocationPerAsset)
	assert.Equal(t, time.Hour, cfg.System.CycleInterval)
	assert.Equal(t, 10000.0, cfg.Portfolio.InitialCapital)
	assert.Equal(t, 0.3, cfg.Portfolio.MaxCashAllocation)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 4, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 30, cfg.Gateway.Endpoints["orders"])
	assert.Equal(t, FileStorage, cfg.Storage.Kind)
	assert.Equal(t, "./data", cfg.Storage.Dir)
	assert.Equal(t, 40000.0, cfg.Exchange.DummyPrices["BTC-USDT"])

	btc, ok := cfg.Asset("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, 0.2, btc.AllocationCeiling)
	assert.Equal(t, "dummy", btc.Exchange)

	eth, ok := cfg.Asset("ETH-USDT")
	require.True(t, ok)
	assert.Equal(t, 0.1, eth.AllocationCeiling)

	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Symbols())
}

func TestTradeConfirmationCanBeDisabled(t *testing.T) {
	path := writeConfig(t, `
system:
  trade_confirmation: false
assets:
  - symbol: BTC-USDT
`)
	cfg, err := LoadTraderConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.System.RequireConfirmation())
}

func TestLoadTraderConfigErrors(t *testing.T) {
	cases := map[string]string{
		"no assets": `
exchange:
  kind: dummy
`,
		"duplicate asset": `
assets:
  - symbol: BTC-USDT
  - symbol: BTC-USDT
`,
		"unknown exchange": `
exchange:
  kind: ftx
assets:
  - symbol: BTC-USDT
`,
		"targets over one": `
analysis:
  targets:
    BTC-USDT: 0.7
    ETH-USDT: 0.5
assets:
  - symbol: BTC-USDT
`,
		"tinvest without account": `
exchange:
  kind: tinvest
assets:
  - symbol: SBER
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTraderConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestKuCoinCredentialsFromEnv(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "key")
	t.Setenv("EXCHANGE_API_SECRET", "secret")
	t.Setenv("EXCHANGE_API_PASSPHRASE", "pass")

	cfg := ExchangeConfig{Kind: KuCoin}
	require.NoError(t, cfg.Setup())
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, "secret", cfg.APISecret)
	assert.Equal(t, "pass", cfg.Passphrase)

	t.Setenv("EXCHANGE_API_KEY", "")
	cfg = ExchangeConfig{Kind: KuCoin}
	assert.Error(t, cfg.Setup())
}

func TestMissingFile(t *testing.T) {
	_, err := LoadTraderConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresStorageDefaults(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "from-env")
	path := writeConfig(t, `
storage:
  kind: postgres
  postgres:
    host: db
    conn_max_lifetime: 5m
assets:
  - symbol: BTC-USDT
`)

	cfg, err := LoadTraderConfig(path)
	require.NoError(t, err)

	pg := cfg.Storage.Postgres
	assert.Equal(t, PostgresStorage, cfg.Storage.Kind)
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "trader", pg.User)
	assert.Equal(t, "from-env", pg.Password)
	assert.Equal(t, "trader", pg.Database)
	assert.Equal(t, "disable", pg.SSLMode)
	assert.Equal(t, 4, pg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, pg.ConnMaxLifetime)
}

func TestPostgresStorageRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
storage:
  kind: postgres
  postgres:
    port: 70000
assets:
  - symbol: BTC-USDT
`)

	_, err := LoadTraderConfig(path)
	assert.ErrorContains(t, err, "invalid postgres port 70000")
}
