package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/google/subcommands"
)

const _configFilePathDefault = "./configs/trader.yaml"

var _configPath = flag.String("config", _configFilePathDefault, "path to the trader config")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&runCmd{}, "trading")
	commander.Register(&cycleCmd{}, "trading")
	commander.Register(&rebalanceCmd{}, "trading")

	commander.Register(&orderCmd{side: model.Buy}, "orders")
	commander.Register(&orderCmd{side: model.Sell}, "orders")
	commander.Register(&confirmCmd{}, "orders")
	commander.Register(&cancelCmd{}, "orders")
	commander.Register(&cancelAllCmd{}, "orders")
	commander.Register(&historyCmd{}, "orders")
	commander.Register(&reconcileCmd{}, "orders")
	commander.Register(&fillCmd{}, "orders")

	commander.Register(&summaryCmd{}, "portfolio")
	commander.Register(&balanceCmd{}, "portfolio")
	commander.Register(&marketCmd{}, "portfolio")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := commander.Execute(ctx)
	cancel()
	os.Exit(int(status))
}
