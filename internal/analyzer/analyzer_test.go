package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/pvelab/graphtrader/internal/types"
)

type AnalyzerTestSuite struct {
	suite.Suite
}

func TestAnalyzerSuite(t *testing.T) {
	suite.Run(t, new(AnalyzerTestSuite))
}

var (
	t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// zeroFees is a deliberate no-fee model; leaving Config.Fees unset
	// selects the default derivatives rates instead.
	zeroFees = FeeModel{TakerProximityPct: 0.01}

	analyzerSpecs = types.InstrumentSpecs{
		Symbol:      "BTCUSDT",
		Precision:   2,
		TickSize:    decimal.NewFromFloat(0.1),
		MinOrderQty: decimal.NewFromFloat(0.01),
		QtyStep:     decimal.NewFromFloat(0.01),
	}
)

func executedOrder(side types.Side, kind types.OrderKind, price, qty float64, at time.Time) types.Order {
	return types.Order{
		LocalID:    "local_0_0",
		Symbol:     "BTCUSDT",
		Side:       side,
		Kind:       kind,
		Price:      price,
		Quantity:   qty,
		Status:     types.OrderStatusExecuted,
		CreatedAt:  at,
		ExecutedAt: at,
	}
}

func (suite *AnalyzerTestSuite) analyze(orders []types.Order, fees FeeModel, src FundingSource) *Report {
	a := New(Config{
		Symbol:         "BTCUSDT",
		Orders:         orders,
		InitialCapital: decimal.NewFromInt(1000),
		Specs:          analyzerSpecs,
		Fees:           fees,
		Funding:        src,
	})

	report, err := a.Analyze(context.Background())
	suite.Require().NoError(err)

	return report
}

func (suite *AnalyzerTestSuite) TestRoundTripWithoutFees() {
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 2, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 2, t0.Add(time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)

	suite.Require().Len(report.Trades, 1)
	trade := report.Trades[0]
	suite.True(decimal.NewFromInt(100).Equal(trade.EntryPrice))
	suite.True(decimal.NewFromInt(110).Equal(trade.ExitPrice))
	suite.True(decimal.NewFromInt(2).Equal(trade.Quantity))
	suite.True(decimal.NewFromInt(20).Equal(trade.Profit), "profit is (110-100)*2 with no fees, got %s", trade.Profit)
	suite.True(decimal.NewFromInt(10).Equal(trade.ReturnPct))

	suite.Equal(1, report.Metrics.NumTrades)
	suite.True(decimal.NewFromInt(20).Equal(report.Metrics.TotalPnL))
	suite.True(decimal.NewFromInt(1020).Equal(report.Metrics.FinalCapital))
	suite.True(decimal.NewFromInt(2).Equal(report.Metrics.GlobalReturnPct))
	suite.InDelta(100.0, report.Metrics.WinRatePct, 1e-9)
}

func (suite *AnalyzerTestSuite) TestShortRoundTrip() {
	orders := []types.Order{
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 1, t0),
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, t0.Add(time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)

	suite.Require().Len(report.Trades, 1)
	suite.True(decimal.NewFromInt(10).Equal(report.Trades[0].Profit),
		"short profits when price falls, got %s", report.Trades[0].Profit)
}

func (suite *AnalyzerTestSuite) TestReversalSplitsIntoTwoTrades() {
	// long 2 @ 100, then sell 5 @ 110: closes 2 and opens a short 3, which
	// is closed at 105.
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 2, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 5, t0.Add(time.Hour)),
		executedOrder(types.SideBuy, types.OrderKindMarket, 105, 3, t0.Add(2*time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)

	suite.Require().Len(report.Trades, 2)

	closed := report.Trades[0]
	suite.True(decimal.NewFromInt(2).Equal(closed.Quantity))
	suite.True(decimal.NewFromInt(20).Equal(closed.Profit))

	short := report.Trades[1]
	suite.True(decimal.NewFromInt(3).Equal(short.Quantity))
	suite.True(decimal.NewFromInt(110).Equal(short.EntryPrice), "short opens at the reversal price")
	suite.True(decimal.NewFromInt(15).Equal(short.Profit), "(110-105)*3 short profit, got %s", short.Profit)
}

func (suite *AnalyzerTestSuite) TestPartialCloseAllocatesOpeningFeesProRata() {
	fees := FeeModel{
		MakerRate:         decimal.Zero,
		TakerRate:         decimal.RequireFromString("0.001"),
		TakerProximityPct: 0.01,
	}

	// open 4 @ 100 (taker fee 0.4), close 1 @ 110 (taker fee 0.11)
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 4, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 1, t0.Add(time.Hour)),
	}

	report := suite.analyze(orders, fees, nil)

	suite.Require().Len(report.Trades, 1)
	trade := report.Trades[0]
	suite.True(decimal.NewFromInt(1).Equal(trade.Quantity))
	suite.True(decimal.RequireFromString("0.1").Equal(trade.OpeningFees),
		"quarter of the 0.4 opening fee, got %s", trade.OpeningFees)
	suite.True(decimal.RequireFromString("0.11").Equal(trade.ClosingFees))
	// (110-100)*1 - 0.21
	suite.True(decimal.RequireFromString("9.79").Equal(trade.Profit), "got %s", trade.Profit)
}

func (suite *AnalyzerTestSuite) TestAddToPositionAveragesEntry() {
	// buy 1 @ 100, buy 1 @ 110, close 2 @ 120: avg entry 105.
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, t0),
		executedOrder(types.SideBuy, types.OrderKindMarket, 110, 1, t0.Add(time.Hour)),
		executedOrder(types.SideSell, types.OrderKindMarket, 120, 2, t0.Add(2*time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)

	suite.Require().Len(report.Trades, 1)
	suite.True(decimal.NewFromInt(105).Equal(report.Trades[0].EntryPrice))
	suite.True(decimal.NewFromInt(30).Equal(report.Trades[0].Profit))
}

func (suite *AnalyzerTestSuite) TestFeeModelRateSelection() {
	model := DefaultFeeModel()
	bar := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	closeAt := func(time.Time) (float64, bool) { return 100.0, true }

	market := executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, bar)
	suite.True(model.TakerRate.Equal(model.Rate(market, closeAt)))

	conditional := executedOrder(types.SideBuy, types.OrderKindConditional, 100, 1, bar)
	suite.True(model.TakerRate.Equal(model.Rate(conditional, closeAt)))

	passive := executedOrder(types.SideBuy, types.OrderKindLimit, 99, 1, bar)
	suite.True(model.MakerRate.Equal(model.Rate(passive, closeAt)),
		"limit 1%% away from market pays maker")

	aggressive := executedOrder(types.SideBuy, types.OrderKindLimit, 100.005, 1, bar)
	suite.True(model.TakerRate.Equal(model.Rate(aggressive, closeAt)),
		"limit within 0.01%% of market pays taker")

	blind := executedOrder(types.SideBuy, types.OrderKindLimit, 100.005, 1, bar)
	suite.True(model.MakerRate.Equal(model.Rate(blind, nil)),
		"without market context limit defaults to maker")
}

func (suite *AnalyzerTestSuite) TestSharpeRatioKnownSeries() {
	// Two trades returning 10% and 20%: mean .15, sample stdev ~.0707,
	// sharpe = .15/.0707 * sqrt(2) = 3.
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 1, t0.Add(time.Hour)),
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, t0.Add(2*time.Hour)),
		executedOrder(types.SideSell, types.OrderKindMarket, 120, 1, t0.Add(3*time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)
	suite.InDelta(3.0, report.Metrics.SharpeRatio, 1e-9)
}

func (suite *AnalyzerTestSuite) TestMaxDrawdownFromEquityCurve() {
	// profits +20, -50, +10 on 1000: equity 1020 -> 970 -> 980, deepest
	// drawdown (1020-970)/1020.
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 2, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 2, t0.Add(time.Hour)),
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 5, t0.Add(2*time.Hour)),
		executedOrder(types.SideSell, types.OrderKindMarket, 90, 5, t0.Add(3*time.Hour)),
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, t0.Add(4*time.Hour)),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 1, t0.Add(5*time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)

	suite.Require().Len(report.EquityCurve, 3)
	suite.True(decimal.NewFromInt(980).Equal(report.EquityCurve[2].Equity))
	suite.InDelta(50.0/1020.0*100, report.Metrics.MaxDrawdownPct, 1e-9)
}

func (suite *AnalyzerTestSuite) TestOpenPositionProducesNoTrade() {
	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 2, t0),
	}

	report := suite.analyze(orders, zeroFees, nil)
	suite.Empty(report.Trades)
	suite.True(decimal.NewFromInt(1000).Equal(report.Metrics.FinalCapital))
}

func (suite *AnalyzerTestSuite) TestNonExecutedOrdersIgnored() {
	open := executedOrder(types.SideBuy, types.OrderKindLimit, 90, 1, t0)
	open.Status = types.OrderStatusOpen
	cancelled := executedOrder(types.SideSell, types.OrderKindLimit, 130, 1, t0)
	cancelled.Status = types.OrderStatusCancelled

	orders := []types.Order{
		open,
		cancelled,
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 1, t0.Add(time.Hour)),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 1, t0.Add(2*time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, nil)
	suite.Require().Len(report.Trades, 1)
	suite.True(decimal.NewFromInt(10).Equal(report.Trades[0].Profit))
}

type fakeFundingSource struct {
	rates []decimal.Decimal
	err   error
	calls int
}

func (f *fakeFundingSource) FundingRates(_ context.Context, _ string, _, _ time.Time) ([]decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	return f.rates, nil
}

func (suite *AnalyzerTestSuite) TestFundingCostSeparateFromProfit() {
	src := &fakeFundingSource{rates: []decimal.Decimal{
		decimal.RequireFromString("0.0001"),
		decimal.RequireFromString("0.0001"),
	}}

	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 2, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 2, t0.Add(16*time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, src)

	suite.Require().Len(report.Trades, 1)
	suite.Equal(1, src.calls)
	// entry notional 200, two events at 0.01bp*100 -> 0.04
	suite.True(decimal.RequireFromString("0.04").Equal(report.Trades[0].FundingCost),
		"got %s", report.Trades[0].FundingCost)
	suite.True(decimal.NewFromInt(20).Equal(report.Trades[0].Profit),
		"funding never folds into profit")
	suite.True(decimal.RequireFromString("0.04").Equal(report.Metrics.TotalFundingCost))
}

func (suite *AnalyzerTestSuite) TestFundingFailureDegradesToZero() {
	src := &fakeFundingSource{err: context.DeadlineExceeded}

	orders := []types.Order{
		executedOrder(types.SideBuy, types.OrderKindMarket, 100, 2, t0),
		executedOrder(types.SideSell, types.OrderKindMarket, 110, 2, t0.Add(time.Hour)),
	}

	report := suite.analyze(orders, zeroFees, src)

	suite.Require().Len(report.Trades, 1)
	suite.True(report.Trades[0].FundingCost.IsZero())
}
