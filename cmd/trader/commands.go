package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/server"
	"github.com/google/subcommands"
)

type runCmd struct {
	execute bool
	confirm string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run trading cycles until interrupted" }
func (*runCmd) Usage() string {
	return `trader [-config <file>] run [-execute] [-confirm default|yes|required]

  Runs a cycle every system.cycle_interval, refreshes prices in the background
  and serves /metrics, /healthz and /portfolio on system.metrics_port.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.execute, "execute", false, "Submit the orders built from signals.")
	f.StringVar(&c.confirm, "confirm", "default", "Confirmation mode for submitted orders.")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	confirm, err := parseConfirm(c.confirm)
	if err != nil {
		return fail(err)
	}
	a, log, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	cfg := a.Config
	var wg sync.WaitGroup

	if cfg.System.MetricsPort != "" {
		srv := server.NewHTTPServer(ctx, cfg.System.MetricsPort, server.NewHandler(a.Metrics.Handler(), a.Ledger.Summary, log))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Errorf("%s: http server stopped", err)
			}
		}()
		log.Infof("serving metrics on :%s", cfg.System.MetricsPort)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Ledger.Run(ctx, a.Feed, cfg.Portfolio.PriceRefreshInterval)
	}()

	log.Infof("trader started, cycle every %s, execute=%t", cfg.System.CycleInterval, c.execute)
	if err := a.Trader.Run(ctx, cfg.System.CycleInterval, c.execute, confirm); err != nil {
		log.Errorf("%s: trader stopped", err)
	}
	wg.Wait()
	log.Infof("trader stopped")
	return subcommands.ExitSuccess
}

type cycleCmd struct {
	execute bool
	confirm string
}

func (*cycleCmd) Name() string     { return "cycle" }
func (*cycleCmd) Synopsis() string { return "run a single trading cycle and print the report" }
func (*cycleCmd) Usage() string {
	return `trader [-config <file>] cycle [-execute] [-confirm default|yes|required]
`
}

func (c *cycleCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.execute, "execute", false, "Submit the orders built from signals.")
	f.StringVar(&c.confirm, "confirm", "default", "Confirmation mode for submitted orders.")
}

func (c *cycleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	confirm, err := parseConfirm(c.confirm)
	if err != nil {
		return fail(err)
	}
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	report, err := a.Trader.RunCycle(ctx, c.execute, confirm)
	if status := printJSON(report); status != subcommands.ExitSuccess {
		return status
	}
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type rebalanceCmd struct{}

func (*rebalanceCmd) Name() string           { return "rebalance" }
func (*rebalanceCmd) Synopsis() string       { return "print allocation recommendations against targets" }
func (*rebalanceCmd) Usage() string          { return "trader [-config <file>] rebalance\n" }
func (*rebalanceCmd) SetFlags(*flag.FlagSet) {}

func (*rebalanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	recs, err := a.Trader.Rebalance(ctx)
	if err != nil {
		return fail(err)
	}
	return printJSON(recs)
}

type orderCmd struct {
	side    model.Side
	limit   float64
	confirm string
	reason  string
}

func (c *orderCmd) Name() string     { return string(c.side) }
func (c *orderCmd) Synopsis() string { return fmt.Sprintf("submit a manual %s order", c.side) }
func (c *orderCmd) Usage() string {
	return fmt.Sprintf(`trader [-config <file>] %s [-limit <price>] [-confirm default|yes|required] <symbol> <amount>

  Amount is in base units. Without -limit a market order is placed.
`, c.side)
}

func (c *orderCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.limit, "limit", 0, "Limit price. Zero places a market order.")
	f.StringVar(&c.confirm, "confirm", "default", "Confirmation mode.")
	f.StringVar(&c.reason, "reason", "manual", "Reason recorded with the order.")
}

func (c *orderCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Println(c.Usage())
		return subcommands.ExitUsageError
	}
	amount, err := strconv.ParseFloat(f.Arg(1), 64)
	if err != nil {
		return fail(fmt.Errorf("%w: bad amount", err))
	}
	confirm, err := parseConfirm(c.confirm)
	if err != nil {
		return fail(err)
	}
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	kind := model.Market
	if c.limit > 0 {
		kind = model.Limit
	}
	a.Ledger.UpdatePrices(ctx, a.Feed)
	o := a.Submitter.NewOrder(f.Arg(0), c.side, kind, amount, c.limit, c.reason)
	res, err := a.Submitter.SubmitOrder(ctx, o, confirm)
	if status := printJSON(res); status != subcommands.ExitSuccess {
		return status
	}
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type confirmCmd struct{}

func (*confirmCmd) Name() string           { return "confirm" }
func (*confirmCmd) Synopsis() string       { return "confirm and submit a pending order" }
func (*confirmCmd) Usage() string          { return "trader [-config <file>] confirm <order-id>\n" }
func (*confirmCmd) SetFlags(*flag.FlagSet) {}

func (c *confirmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Println(c.Usage())
		return subcommands.ExitUsageError
	}
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	a.Ledger.UpdatePrices(ctx, a.Feed)
	res, err := a.Submitter.ConfirmOrder(ctx, f.Arg(0))
	if err != nil {
		return fail(err)
	}
	return printJSON(res)
}

type cancelCmd struct{}

func (*cancelCmd) Name() string           { return "cancel" }
func (*cancelCmd) Synopsis() string       { return "cancel an order" }
func (*cancelCmd) Usage() string          { return "trader [-config <file>] cancel <order-id>\n" }
func (*cancelCmd) SetFlags(*flag.FlagSet) {}

func (c *cancelCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Println(c.Usage())
		return subcommands.ExitUsageError
	}
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	res, err := a.Submitter.CancelOrder(ctx, f.Arg(0))
	if err != nil {
		return fail(err)
	}
	return printJSON(res)
}

type cancelAllCmd struct {
	symbol string
}

func (*cancelAllCmd) Name() string     { return "cancel-all" }
func (*cancelAllCmd) Synopsis() string { return "cancel every open order" }
func (*cancelAllCmd) Usage() string {
	return "trader [-config <file>] cancel-all [-symbol <symbol>]\n"
}

func (c *cancelAllCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "", "Only cancel orders for this symbol.")
}

func (c *cancelAllCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	res, err := a.Submitter.CancelAllOrders(ctx, c.symbol)
	if status := printJSON(res); status != subcommands.ExitSuccess {
		return status
	}
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type reconcileCmd struct{}

func (*reconcileCmd) Name() string           { return "reconcile" }
func (*reconcileCmd) Synopsis() string       { return "sync submitted orders with the exchange" }
func (*reconcileCmd) Usage() string          { return "trader [-config <file>] reconcile\n" }
func (*reconcileCmd) SetFlags(*flag.FlagSet) {}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	a.Ledger.UpdatePrices(ctx, a.Feed)
	res, err := a.Submitter.Reconcile(ctx)
	if status := printJSON(res); status != subcommands.ExitSuccess {
		return status
	}
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type fillCmd struct{}

func (*fillCmd) Name() string     { return "fill" }
func (*fillCmd) Synopsis() string { return "record the fill of a submitted order" }
func (*fillCmd) Usage() string {
	return "trader [-config <file>] fill <order-id> <quantity> <price>\n"
}
func (*fillCmd) SetFlags(*flag.FlagSet) {}

func (c *fillCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		fmt.Println(c.Usage())
		return subcommands.ExitUsageError
	}
	qty, err := strconv.ParseFloat(f.Arg(1), 64)
	if err != nil {
		return fail(fmt.Errorf("%w: bad quantity", err))
	}
	price, err := strconv.ParseFloat(f.Arg(2), 64)
	if err != nil {
		return fail(fmt.Errorf("%w: bad price", err))
	}
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	res, err := a.Submitter.ApplyFill(ctx, f.Arg(0), qty, price)
	if err != nil {
		return fail(err)
	}
	return printJSON(res)
}

type historyCmd struct {
	days int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list recent orders, newest first" }
func (*historyCmd) Usage() string    { return "trader [-config <file>] history [-days <n>]\n" }

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 7, "How many days back to look.")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	history, err := a.Submitter.OrderHistory(ctx, c.days)
	if err != nil {
		return fail(err)
	}
	return printJSON(history)
}

type summaryCmd struct{}

func (*summaryCmd) Name() string           { return "summary" }
func (*summaryCmd) Synopsis() string       { return "print the portfolio summary" }
func (*summaryCmd) Usage() string          { return "trader [-config <file>] summary\n" }
func (*summaryCmd) SetFlags(*flag.FlagSet) {}

func (*summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	a.Ledger.UpdatePrices(ctx, a.Feed)
	return printJSON(a.Ledger.Summary())
}

type balanceCmd struct{}

func (*balanceCmd) Name() string           { return "balance" }
func (*balanceCmd) Synopsis() string       { return "print balances held on the exchange" }
func (*balanceCmd) Usage() string          { return "trader [-config <file>] balance\n" }
func (*balanceCmd) SetFlags(*flag.FlagSet) {}

func (*balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	accounts, err := a.Exchange.GetAccounts(ctx)
	if err != nil {
		return fail(err)
	}
	return printJSON(accounts)
}

type marketCmd struct {
	interval string
	hours    int
}

func (*marketCmd) Name() string     { return "market" }
func (*marketCmd) Synopsis() string { return "print 24h stats and recent klines for a symbol" }
func (*marketCmd) Usage() string {
	return "trader [-config <file>] market [-interval 1hour] [-hours 24] <symbol>\n"
}

func (c *marketCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.interval, "interval", string(exchange.Hour), "Kline interval.")
	f.IntVar(&c.hours, "hours", 24, "How many hours of klines to fetch.")
}

func (c *marketCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Println(c.Usage())
		return subcommands.ExitUsageError
	}
	interval, err := exchange.ParseInterval(c.interval)
	if err != nil {
		return fail(err)
	}
	a, _, cleanup, err := bootstrap(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	symbol := f.Arg(0)
	stats, err := a.Feed.Stats(ctx, symbol)
	if err != nil {
		return fail(err)
	}
	end := time.Now().UTC()
	klines, err := a.Feed.History(ctx, symbol, interval, end.Add(-time.Duration(c.hours)*time.Hour), end)
	if err != nil {
		return fail(err)
	}
	return printJSON(struct {
		Stats  model.Stats24h `json:"stats"`
		Klines []model.Kline  `json:"klines"`
	}{stats, klines})
}
