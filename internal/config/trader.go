package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"gopkg.in/yaml.v3"
)

type SystemConfig struct {
	TradeConfirmation     *bool         `yaml:"trade_confirmation"`
	MaxAllocationPerAsset float64       `yaml:"max_allocation_per_asset"`
	CycleInterval         time.Duration `yaml:"cycle_interval"`
	MetricsPort           string        `yaml:"metrics_port"`
}

const (
	_tradeConfirmationDefault     = true
	_maxAllocationPerAssetDefault = 0.2
	_cycleIntervalDefault         = time.Hour
)

func (c *SystemConfig) Setup() error {
	if c.TradeConfirmation == nil {
		v := _tradeConfirmationDefault
		c.TradeConfirmation = &v
	}
	if c.MaxAllocationPerAsset <= 0 {
		c.MaxAllocationPerAsset = _maxAllocationPerAssetDefault
	}
	if c.MaxAllocationPerAsset > 1 {
		return fmt.Errorf("max_allocation_per_asset must be in (0, 1]")
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = _cycleIntervalDefault
	}
	return nil
}

func (c SystemConfig) RequireConfirmation() bool {
	return c.TradeConfirmation == nil || *c.TradeConfirmation
}

type PortfolioConfig struct {
	InitialCapital        float64       `yaml:"initial_capital"`
	MaxCashAllocation     float64       `yaml:"max_cash_allocation"`
	MinAllocationPerAsset float64       `yaml:"min_allocation_per_asset"`
	PriceRefreshInterval  time.Duration `yaml:"price_refresh_interval"`
}

const (
	_initialCapitalDefault        = 10000.0
	_maxCashAllocationDefault     = 0.3
	_minAllocationPerAssetDefault = 0.01
	_priceRefreshIntervalDefault  = 5 * time.Minute
)

func (c *PortfolioConfig) Setup() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = _initialCapitalDefault
	}
	if c.MaxCashAllocation <= 0 || c.MaxCashAllocation > 1 {
		c.MaxCashAllocation = _maxCashAllocationDefault
	}
	if c.MinAllocationPerAsset <= 0 {
		c.MinAllocationPerAsset = _minAllocationPerAssetDefault
	}
	if c.PriceRefreshInterval <= 0 {
		c.PriceRefreshInterval = _priceRefreshIntervalDefault
	}
}

type GatewayConfig struct {
	BaseURL               string         `yaml:"base_url"`
	Timeout               time.Duration  `yaml:"timeout"`
	CallTimeout           time.Duration  `yaml:"call_timeout"`
	MaxAttempts           int            `yaml:"max_attempts"`
	BaseDelay             time.Duration  `yaml:"base_delay"`
	MaxDelay              time.Duration  `yaml:"max_delay"`
	Jitter                time.Duration  `yaml:"jitter"`
	Endpoints             map[string]int `yaml:"endpoints"` // calls per minute
	DefaultCallsPerMinute int            `yaml:"default_calls_per_minute"`
}

const (
	_baseURLDefault               = "https://api.kucoin.com"
	_timeoutDefault               = 10 * time.Second
	_callTimeoutDefault           = 2 * time.Minute
	_maxAttemptsDefault           = 4
	_baseDelayDefault             = 300 * time.Millisecond
	_maxDelayDefault              = 30 * time.Second
	_jitterDefault                = 100 * time.Millisecond
	_defaultCallsPerMinuteDefault = 60
)

func (c *GatewayConfig) Setup() error {
	if c.BaseURL == "" {
		c.BaseURL = _baseURLDefault
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		c.Timeout = _timeoutDefault
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = _callTimeoutDefault
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = _maxAttemptsDefault
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = _baseDelayDefault
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = _maxDelayDefault
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	} else if c.Jitter == 0 {
		c.Jitter = _jitterDefault
	}
	if c.DefaultCallsPerMinute <= 0 {
		c.DefaultCallsPerMinute = _defaultCallsPerMinuteDefault
	}
	if c.Endpoints == nil {
		c.Endpoints = make(map[string]int)
	}
	return nil
}

type ExchangeKind string

const (
	KuCoin  ExchangeKind = "kucoin"
	Dummy   ExchangeKind = "dummy"
	TInvest ExchangeKind = "tinvest"
)

type ExchangeConfig struct {
	Kind          ExchangeKind       `yaml:"kind"`
	Sandbox       bool               `yaml:"sandbox"`
	InvestConfig  string             `yaml:"tinvest_config"`
	AccountID     string             `yaml:"account_id"`
	QuoteCurrency string             `yaml:"quote_currency"`
	DummyPrices   map[string]float64 `yaml:"dummy_prices"`

	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	Passphrase string `yaml:"-"`
}

const (
	_exchangeKindDefault  = Dummy
	_investConfigDefault  = "./configs/invest.yaml"
	_quoteCurrencyDefault = "USDT"
)

func (c *ExchangeConfig) Setup() error {
	if c.Kind == "" {
		c.Kind = _exchangeKindDefault
	}
	if c.QuoteCurrency == "" {
		c.QuoteCurrency = _quoteCurrencyDefault
	}

	switch c.Kind {
	case Dummy:
	case KuCoin:
		c.APIKey = os.Getenv("EXCHANGE_API_KEY")
		c.APISecret = os.Getenv("EXCHANGE_API_SECRET")
		c.Passphrase = os.Getenv("EXCHANGE_API_PASSPHRASE")
		if c.APIKey == "" || c.APISecret == "" || c.Passphrase == "" {
			return fmt.Errorf("empty exchange api credentials")
		}
	case TInvest:
		if c.InvestConfig == "" {
			c.InvestConfig = _investConfigDefault
		}
		if c.AccountID == "" {
			return fmt.Errorf("account_id is required for %s", c.Kind)
		}
	default:
		return fmt.Errorf("unknown exchange kind %q", c.Kind)
	}
	return nil
}

type StorageKind string

const (
	FileStorage     StorageKind = "file"
	PostgresStorage StorageKind = "postgres"
)

type StorageConfig struct {
	Kind     StorageKind    `yaml:"kind"`
	Dir      string         `yaml:"dir"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig is read only for the postgres kind. The password comes
// from POSTGRES_PASSWORD when the file leaves it out.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

const (
	_storageKindDefault = FileStorage
	_storageDirDefault  = "./data"

	_postgresHostDefault         = "localhost"
	_postgresPortDefault         = 5432
	_postgresUserDefault         = "trader"
	_postgresDatabaseDefault     = "trader"
	_postgresSSLModeDefault      = "disable"
	_postgresMaxOpenConnsDefault = 4
)

func (c *StorageConfig) Setup() error {
	if c.Kind == "" {
		c.Kind = _storageKindDefault
	}
	if c.Dir == "" {
		c.Dir = _storageDirDefault
	}
	switch c.Kind {
	case FileStorage:
	case PostgresStorage:
		return c.Postgres.Setup()
	default:
		return fmt.Errorf("unknown storage kind %q", c.Kind)
	}
	return nil
}

func (c *PostgresConfig) Setup() error {
	if c.Host == "" {
		c.Host = _postgresHostDefault
	}
	if c.Port == 0 {
		c.Port = _postgresPortDefault
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid postgres port %d", c.Port)
	}
	if c.User == "" {
		c.User = _postgresUserDefault
	}
	if c.Password == "" {
		c.Password = os.Getenv("POSTGRES_PASSWORD")
	}
	if c.Database == "" {
		c.Database = _postgresDatabaseDefault
	}
	if c.SSLMode == "" {
		c.SSLMode = _postgresSSLModeDefault
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = _postgresMaxOpenConnsDefault
	}
	return nil
}

type AnalysisConfig struct {
	Address    string             `yaml:"address"`
	SignalsDir string             `yaml:"signals_dir"`
	Targets    map[string]float64 `yaml:"targets"`
	Timeout    time.Duration      `yaml:"timeout"`
}

const (
	_analysisTimeoutDefault = 30 * time.Second
)

func (c *AnalysisConfig) Setup() error {
	if c.Address != "" {
		if _, err := url.Parse(c.Address); err != nil {
			return err
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = _analysisTimeoutDefault
	}
	var sum float64
	for symbol, w := range c.Targets {
		if w < 0 || w > 1 {
			return fmt.Errorf("target weight for %s must be in [0, 1]", symbol)
		}
		sum += w
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("target weights sum to %.4f, more than 1", sum)
	}
	return nil
}

type TraderConfig struct {
	LogLevel  string              `yaml:"log_level"`
	System    SystemConfig        `yaml:"system"`
	Portfolio PortfolioConfig     `yaml:"portfolio"`
	Gateway   GatewayConfig       `yaml:"gateway"`
	Exchange  ExchangeConfig      `yaml:"exchange"`
	Storage   StorageConfig       `yaml:"storage"`
	Analysis  AnalysisConfig      `yaml:"analysis"`
	Assets    []model.AssetConfig `yaml:"assets"`
}

func (c *TraderConfig) ValidateAndSetup() error {
	if err := c.System.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup system", err)
	}
	c.Portfolio.Setup()
	if err := c.Gateway.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup gateway", err)
	}
	if err := c.Exchange.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup exchange", err)
	}
	if err := c.Storage.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup storage", err)
	}
	if err := c.Analysis.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup analysis", err)
	}

	if len(c.Assets) == 0 {
		return fmt.Errorf("empty assets")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i := range c.Assets {
		a := &c.Assets[i]
		if a.Symbol == "" {
			return fmt.Errorf("asset #%d has no symbol", i)
		}
		if _, ok := seen[a.Symbol]; ok {
			return fmt.Errorf("duplicate asset %s", a.Symbol)
		}
		seen[a.Symbol] = struct{}{}

		if a.Exchange == "" {
			a.Exchange = string(c.Exchange.Kind)
		}
		if a.AllocationCeiling <= 0 {
			a.AllocationCeiling = c.System.MaxAllocationPerAsset
		}
		if a.AllocationCeiling > 1 {
			return fmt.Errorf("allocation ceiling for %s must be in (0, 1]", a.Symbol)
		}
		if a.MinOrderSize < 0 || a.StepSize < 0 {
			return fmt.Errorf("negative order size limits for %s", a.Symbol)
		}
	}

	return nil
}

func (c TraderConfig) Asset(symbol string) (model.AssetConfig, bool) {
	for _, a := range c.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return model.AssetConfig{}, false
}

func (c TraderConfig) Symbols() []string {
	symbols := make([]string, 0, len(c.Assets))
	for _, a := range c.Assets {
		symbols = append(symbols, a.Symbol)
	}
	return symbols
}

func LoadTraderConfig(filename string) (TraderConfig, error) {
	var cfg TraderConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
