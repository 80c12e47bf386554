package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/STTM-NSU/signal-trader/internal/app"
	"github.com/STTM-NSU/signal-trader/internal/config"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/orders"
	"github.com/bytedance/sonic"
	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

// bootstrap loads .env and the config, then builds the app. The returned
// cleanup closes clients and flushes the logger.
func bootstrap(ctx context.Context) (*app.App, logger.Logger, func(), error) {
	envErr := godotenv.Load()

	cfg, err := config.LoadTraderConfig(*_configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: can't load trader cfg", err)
	}

	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	if envErr != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	a, err := app.New(ctx, cfg, zapLogger)
	if err != nil {
		loggerSync()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			zapLogger.Errorf("%s: can't close clients", err)
		}
		loggerSync()
	}
	return a, zapLogger, cleanup, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}

func printJSON(v any) subcommands.ExitStatus {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fail(err)
	}
	fmt.Println(string(data))
	return subcommands.ExitSuccess
}

func parseConfirm(s string) (orders.Confirm, error) {
	switch s {
	case "", "default":
		return orders.ConfirmDefault, nil
	case "yes", "given":
		return orders.ConfirmGiven, nil
	case "required", "no":
		return orders.ConfirmRequired, nil
	}
	return orders.ConfirmDefault, fmt.Errorf("unknown confirm mode %q, want default, yes or required", s)
}
