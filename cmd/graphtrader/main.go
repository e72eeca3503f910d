package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/analyzer"
	"github.com/pvelab/graphtrader/internal/backtest"
	"github.com/pvelab/graphtrader/internal/bot"
	"github.com/pvelab/graphtrader/internal/config"
	"github.com/pvelab/graphtrader/internal/datasource"
	"github.com/pvelab/graphtrader/internal/exchange"
	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
)

const reconcileInterval = 10 * time.Second

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg := config.DefaultConfig()

		return &cfg, nil
	}

	return config.Load(path)
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the yaml config file",
	}
}

func dateFlag(name, alias, usage string, required bool) cli.Flag {
	return &cli.TimestampFlag{
		Name:     name,
		Aliases:  []string{alias},
		Usage:    usage,
		Required: required,
		Config: cli.TimestampConfig{
			Layouts: []string{"2006-01-02", "2006-01-02T15:04"},
		},
	}
}

// downloadAction backfills one-minute candles from the venue into the store.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	zlog, err := logger.NewLogger()
	if err != nil {
		return err
	}

	store, err := datasource.NewCandleStore(cfg.Database.CandlePath, zlog)
	if err != nil {
		return err
	}

	defer store.Close()

	exchange.UseTestnet(cfg.Exchange.Testnet)
	provider := exchange.NewBinanceProvider(cfg.Exchange.APIKey, cfg.Exchange.APISecret, zlog)
	backfiller := datasource.NewBackfiller(provider, store, zlog)

	symbol := cmd.String("symbol")
	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")

	total, err := backfiller.Run(ctx, symbol, start, end)
	if err != nil {
		return err
	}

	fmt.Printf("downloaded %d candles for %s\n", total, symbol)

	return nil
}

// backtestAction replays stored candles through a strategy graph and prints
// the resulting metrics.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	zlog, err := logger.NewLogger()
	if err != nil {
		return err
	}

	graphDoc, err := os.ReadFile(cmd.String("graph"))
	if err != nil {
		return fmt.Errorf("failed to read graph file: %w", err)
	}

	store, err := datasource.NewCandleStore(cfg.Database.CandlePath, zlog)
	if err != nil {
		return err
	}

	defer store.Close()

	capital := cfg.Backtest.InitialCapital
	if cmd.Float("capital") > 0 {
		capital = cmd.Float("capital")
	}

	fees := analyzer.DefaultFeeModel()
	fees.MakerRate = decimal.NewFromFloat(cfg.Backtest.MakerFeeRate)
	fees.TakerRate = decimal.NewFromFloat(cfg.Backtest.TakerFeeRate)

	runCfg := backtest.Config{
		GraphDoc:       graphDoc,
		Symbol:         cmd.String("symbol"),
		Timeframe:      types.Interval(cmd.String("timeframe")),
		Start:          cmd.Timestamp("start"),
		End:            cmd.Timestamp("end"),
		InitialCapital: decimal.NewFromFloat(capital),
		Specs: types.InstrumentSpecs{
			TickSize:    decimal.NewFromFloat(cmd.Float("tick-size")),
			MinOrderQty: decimal.NewFromFloat(cmd.Float("min-qty")),
			QtyStep:     decimal.NewFromFloat(cmd.Float("qty-step")),
			Precision:   int32(cmd.Int("precision")),
		},
		Fees:     fees,
		Store:    store,
		Logger:   zlog,
		Progress: cfg.Backtest.Progress,
	}

	runner, err := backtest.NewRunner(runCfg)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	metrics := summary.Report.Metrics
	fmt.Printf("trades: %d  win rate: %.2f%%  pnl: %s  fees: %s  return: %s%%  max dd: %.2f%%\n",
		metrics.NumTrades, metrics.WinRatePct, metrics.TotalPnL,
		metrics.TotalFees, metrics.GlobalReturnPct, metrics.MaxDrawdownPct)

	if statsPath := cmd.String("stats"); statsPath != "" {
		if err := backtest.WriteStats(statsPath, runCfg.Timeframe, metrics); err != nil {
			return err
		}

		fmt.Printf("stats written to %s\n", statsPath)
	}

	if cmd.Bool("save") {
		resultsPath := cfg.Database.ResultsPath
		if resultsPath == "" {
			return fmt.Errorf("results_path must be configured to save runs")
		}

		results, err := backtest.NewResultStore(resultsPath, zlog)
		if err != nil {
			return err
		}

		defer results.Close()

		id, err := results.Save(ctx, runCfg, summary)
		if err != nil {
			return err
		}

		fmt.Printf("run archived as %s\n", id)
	}

	return nil
}

// streamAction subscribes to the venue's closed-candle feed and persists
// every bar into the local store until interrupted.
func streamAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	zlog, err := logger.NewLogger()
	if err != nil {
		return err
	}

	store, err := datasource.NewCandleStore(cfg.Database.CandlePath, zlog)
	if err != nil {
		return err
	}

	defer store.Close()

	symbol := cmd.String("symbol")
	stream := datasource.NewKlineStream(symbol, "1m", zlog)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream.Start(ctx)
	defer stream.Stop()

	zlog.Info("candle stream started", zap.String("symbol", symbol))

	for {
		select {
		case <-ctx.Done():
			return nil
		case candle, ok := <-stream.Candles():
			if !ok {
				return nil
			}

			if err := store.Write(ctx, []types.MarketData{candle}); err != nil {
				zlog.Warn("failed to persist streamed candle",
					zap.String("symbol", symbol),
					zap.Time("time", candle.Time),
					zap.Error(err))
			}
		}
	}
}

// runAction starts the bot manager service and keeps reconciling desired
// statuses from the registry until interrupted.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	var zlog *logger.Logger
	if cfg.Logging.FilePath != "" {
		zlog, err = logger.NewFileLogger(cfg.Logging.FilePath)
	} else {
		zlog, err = logger.NewLogger()
	}

	if err != nil {
		return err
	}

	store, err := bot.NewStore(cfg.Database.BotPath, zlog)
	if err != nil {
		return err
	}

	defer store.Close()

	exchange.UseTestnet(cfg.Exchange.Testnet)
	provider := exchange.NewBinanceProvider(cfg.Exchange.APIKey, cfg.Exchange.APISecret, zlog)
	history := datasource.NewVenueHistory(provider)
	control := bot.NewChannelControlPlane()

	defer control.Close()

	manager, err := bot.NewManager(store, control, provider, history, zlog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pollDesiredStatus(ctx, store, control, zlog)

	zlog.Info("bot service starting", zap.String("registry", cfg.Database.BotPath))

	return manager.Run(ctx)
}

// pollDesiredStatus turns registry status edits into control messages, so
// external writers only need database access to drive the service.
func pollDesiredStatus(ctx context.Context, store *bot.Store, control bot.ControlPlane, zlog *logger.Logger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := store.ListByStatus(ctx, types.BotStatusToBeLaunched, types.BotStatusToBeStopped)
		if err != nil {
			zlog.Warn("status poll failed", zap.Error(err))

			continue
		}

		for _, row := range rows {
			action := bot.ActionLaunch
			if row.Status == types.BotStatusToBeStopped {
				action = bot.ActionStop
			}

			if err := control.Publish(ctx, bot.ControlMessage{Action: action, BotID: row.ID}); err != nil {
				zlog.Warn("control publish failed", zap.Int64("bot_id", row.ID), zap.Error(err))
			}
		}
	}
}

// botAddAction registers a bot row marked for launch.
func botAddAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	graphDoc, err := os.ReadFile(cmd.String("graph"))
	if err != nil {
		return fmt.Errorf("failed to read graph file: %w", err)
	}

	botCfg := types.BotConfig{
		Symbol:         cmd.String("symbol"),
		Timeframe:      types.Interval(cmd.String("timeframe")),
		Graph:          graphDoc,
		APIKey:         cfg.Exchange.APIKey,
		APISecret:      cfg.Exchange.APISecret,
		InitialCapital: cmd.Float("capital"),
	}
	if err := botCfg.Validate(); err != nil {
		return err
	}

	store, err := bot.NewStore(cfg.Database.BotPath, nil)
	if err != nil {
		return err
	}

	defer store.Close()

	id := cmd.Int("id")
	if err := store.SaveBot(ctx, id, types.BotStatusToBeLaunched, botCfg); err != nil {
		return err
	}

	fmt.Printf("bot %d registered for launch\n", id)

	return nil
}

// botStopAction marks a bot row to be stopped by the running service.
func botStopAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	store, err := bot.NewStore(cfg.Database.BotPath, nil)
	if err != nil {
		return err
	}

	defer store.Close()

	id := cmd.Int("id")
	if err := store.UpdateStatus(ctx, id, types.BotStatusToBeStopped); err != nil {
		return err
	}

	fmt.Printf("bot %d marked for stop\n", id)

	return nil
}

// schemaAction prints the JSON schema of the config file.
func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "graphtrader",
		Usage: "Graph-driven trading strategies: backtesting and live bots",
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "Backfill one-minute candles into the local store",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Instrument symbol", Required: true},
					dateFlag("start", "f", "Range start", true),
					dateFlag("end", "t", "Range end", true),
				},
				Action: downloadAction,
			},
			{
				Name:  "backtest",
				Usage: "Replay stored candles through a strategy graph",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "graph", Aliases: []string{"g"}, Usage: "Path to the strategy graph JSON", Required: true},
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Instrument symbol", Required: true},
					&cli.StringFlag{Name: "timeframe", Usage: "Candle timeframe (1min, 5min, 1h, ...)", Value: "1min"},
					dateFlag("start", "f", "Range start", true),
					dateFlag("end", "t", "Range end", true),
					&cli.FloatFlag{Name: "capital", Usage: "Override the configured initial capital"},
					&cli.FloatFlag{Name: "tick-size", Usage: "Price tick size", Value: 0.1},
					&cli.FloatFlag{Name: "min-qty", Usage: "Minimum order quantity", Value: 0.001},
					&cli.FloatFlag{Name: "qty-step", Usage: "Quantity step", Value: 0.001},
					&cli.IntFlag{Name: "precision", Usage: "Price precision in decimal places", Value: 1},
					&cli.StringFlag{Name: "stats", Usage: "Write run metrics to this yaml file"},
					&cli.BoolFlag{Name: "save", Usage: "Archive the run in the results database"},
				},
				Action: backtestAction,
			},
			{
				Name:  "stream",
				Usage: "Persist live closed candles into the local store",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Instrument symbol", Required: true},
				},
				Action: streamAction,
			},
			{
				Name:   "run",
				Usage:  "Run the live bot service",
				Flags:  []cli.Flag{configFlag()},
				Action: runAction,
			},
			{
				Name:  "bot",
				Usage: "Manage bot registry rows",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Register a bot and mark it for launch",
						Flags: []cli.Flag{
							configFlag(),
							&cli.IntFlag{Name: "id", Usage: "Bot id", Required: true},
							&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Instrument symbol", Required: true},
							&cli.StringFlag{Name: "timeframe", Usage: "Candle timeframe (1min, 5min, 1h, ...)", Value: "1min"},
							&cli.StringFlag{Name: "graph", Aliases: []string{"g"}, Usage: "Path to the strategy graph JSON", Required: true},
							&cli.FloatFlag{Name: "capital", Usage: "Initial capital for the bot", Value: 1000},
						},
						Action: botAddAction,
					},
					{
						Name:  "stop",
						Usage: "Mark a bot to be stopped",
						Flags: []cli.Flag{
							configFlag(),
							&cli.IntFlag{Name: "id", Usage: "Bot id", Required: true},
						},
						Action: botStopAction,
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the config file",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
