// Package backtest replays stored candles through a compiled strategy graph
// and reports the resulting trades and metrics.
package backtest

import (
	"context"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/pvelab/graphtrader/internal/analyzer"
	"github.com/pvelab/graphtrader/internal/datasource"
	"github.com/pvelab/graphtrader/internal/engine"
	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/ledger"
	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Config describes one backtest run.
type Config struct {
	GraphDoc       []byte
	Symbol         string
	Timeframe      types.Interval
	Start          time.Time
	End            time.Time
	InitialCapital decimal.Decimal
	Specs          types.InstrumentSpecs
	Fees           analyzer.FeeModel
	Funding        analyzer.FundingSource

	Store    *datasource.CandleStore
	Logger   *logger.Logger
	Progress bool
}

// Summary bundles the engine output with the analyzer report.
type Summary struct {
	Result *engine.Result
	Report *analyzer.Report
}

// Runner executes backtests against the candle store.
type Runner struct {
	cfg Config
	log *logger.Logger
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "backtest requires a candle store")
	}

	if !cfg.Specs.Valid() {
		return nil, errors.Newf(errors.ErrCodeInstrumentSpecs,
			"unusable instrument specs for %s", cfg.Symbol)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Runner{cfg: cfg, log: log.Named("backtest")}, nil
}

// Run compiles the graph, replays the range bar by bar and analyzes the
// resulting order stream.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	g, err := graph.Parse(r.cfg.GraphDoc)
	if err != nil {
		return nil, err
	}

	plan, err := graph.Compile(g, engine.KnownType)
	if err != nil {
		return nil, err
	}

	raw, err := r.cfg.Store.ReadRangeSlice(ctx, r.cfg.Symbol, r.cfg.Start, r.cfg.End)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, errors.Newf(errors.ErrCodeNoDataFound,
			"no candles for %s between %s and %s", r.cfg.Symbol, r.cfg.Start, r.cfg.End)
	}

	bars, err := datasource.Resample(raw, r.cfg.Timeframe)
	if err != nil {
		return nil, err
	}

	book, err := ledger.New(r.cfg.Symbol, r.cfg.Specs, r.log)
	if err != nil {
		return nil, err
	}

	session, err := engine.NewSession(engine.Config{
		Graph:  g,
		Plan:   plan,
		Ledger: book,
		Mode:   engine.ModeBacktest,
		Logger: r.log,
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("backtest starting",
		zap.String("symbol", r.cfg.Symbol),
		zap.String("timeframe", string(r.cfg.Timeframe)),
		zap.Int("bars", len(bars)),
		zap.Int("lookback", plan.Lookback))

	var bar *progressbar.ProgressBar
	if r.cfg.Progress {
		bar = progressbar.Default(int64(len(bars)))
	}

	for _, row := range bars {
		if err := session.Step(ctx, row); err != nil {
			return nil, err
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	result := session.Result()

	report, err := analyzer.New(analyzer.Config{
		Symbol:         r.cfg.Symbol,
		Rows:           result.Rows,
		Orders:         result.Orders,
		InitialCapital: r.cfg.InitialCapital,
		Specs:          r.cfg.Specs,
		Fees:           r.cfg.Fees,
		Funding:        r.cfg.Funding,
		Logger:         r.log,
	}).Analyze(ctx)
	if err != nil {
		return nil, err
	}

	r.log.Info("backtest finished",
		zap.Int("orders", len(result.Orders)),
		zap.Int("trades", report.Metrics.NumTrades),
		zap.String("pnl", report.Metrics.TotalPnL.String()))

	return &Summary{Result: result, Report: report}, nil
}

// statsDump is the yaml layout of the stats file.
type statsDump struct {
	Symbol           string  `yaml:"symbol"`
	Timeframe        string  `yaml:"timeframe"`
	InitialCapital   string  `yaml:"initial_capital"`
	FinalCapital     string  `yaml:"final_capital"`
	TotalPnL         string  `yaml:"total_pnl"`
	TotalFees        string  `yaml:"total_fees"`
	TotalFundingCost string  `yaml:"total_funding_cost"`
	GlobalReturnPct  string  `yaml:"global_return_pct"`
	NumTrades        int     `yaml:"num_trades"`
	WinRatePct       float64 `yaml:"win_rate_pct"`
	SharpeRatio      float64 `yaml:"sharpe_ratio"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`
	AvgTradeDuration string  `yaml:"avg_trade_duration"`
	FirstBar         string  `yaml:"first_bar"`
	LastBar          string  `yaml:"last_bar"`
}

// WriteStats dumps the run metrics to a yaml file.
func WriteStats(path string, timeframe types.Interval, m analyzer.Metrics) error {
	dump := statsDump{
		Symbol:           m.Symbol,
		Timeframe:        string(timeframe),
		InitialCapital:   m.InitialCapital.String(),
		FinalCapital:     m.FinalCapital.String(),
		TotalPnL:         m.TotalPnL.String(),
		TotalFees:        m.TotalFees.String(),
		TotalFundingCost: m.TotalFundingCost.String(),
		GlobalReturnPct:  m.GlobalReturnPct.String(),
		NumTrades:        m.NumTrades,
		WinRatePct:       m.WinRatePct,
		SharpeRatio:      m.SharpeRatio,
		MaxDrawdownPct:   m.MaxDrawdownPct,
		AvgTradeDuration: m.AvgTradeDuration.String(),
		FirstBar:         m.FirstBar.Format(time.RFC3339),
		LastBar:          m.LastBar.Format(time.RFC3339),
	}

	out, err := yaml.Marshal(dump)
	if err != nil {
		return errors.Wrap(errors.ErrCodeAnalyzerFailed, "failed to serialize stats", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeAnalyzerFailed, "failed to write stats file", err)
	}

	return nil
}
