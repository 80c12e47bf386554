package config

import (
	"fmt"
	"os"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
)

func LoadInvestConfig(filename string, accountID string, sandbox bool) (investgo.Config, error) {
	cfg, err := investgo.LoadConfig(filename)
	if err != nil {
		return investgo.Config{}, fmt.Errorf("%w: can't load config", err)
	}

	cfg.Token = os.Getenv("T_INVEST_API_TOKEN")
	if cfg.Token == "" {
		return investgo.Config{}, fmt.Errorf("empty t-invest api token")
	}
	if cfg.AccountId == "" {
		cfg.AccountId = accountID
	}
	if sandbox && cfg.EndPoint == "" {
		cfg.EndPoint = "sandbox-invest-public-api.tinkoff.ru:443"
	}

	return cfg, nil
}
