package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v2"

	"github.com/pvelab/graphtrader/internal/analyzer"
	"github.com/pvelab/graphtrader/internal/datasource"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

type RunnerTestSuite struct {
	suite.Suite

	store *datasource.CandleStore
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (suite *RunnerTestSuite) SetupTest() {
	store, err := datasource.NewCandleStore(filepath.Join(suite.T().TempDir(), "candles.db"), nil)
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *RunnerTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

var runnerBase = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func runnerSpecs() types.InstrumentSpecs {
	return types.InstrumentSpecs{
		TickSize:    decimal.NewFromFloat(0.1),
		MinOrderQty: decimal.NewFromFloat(0.01),
		QtyStep:     decimal.NewFromFloat(0.01),
		Precision:   1,
	}
}

func (suite *RunnerTestSuite) seedCandles(symbol string, closes ...float64) {
	rows := make([]types.MarketData, len(closes))
	for i, c := range closes {
		rows[i] = types.MarketData{
			Symbol: symbol,
			Time:   runnerBase.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 10,
		}
	}

	suite.Require().NoError(suite.store.Write(context.Background(), rows))
}

// indicatorDoc: close -> sma(window) -> indicator column named "sma".
func indicatorDoc(window int) []byte {
	return fmt.Appendf(nil, `{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/set/integer", "properties": {"value": %d},
			 "outputs": [{"name": "Integer", "type": "int", "links": [2]}]},
			{"id": 3, "type": "custom/indicators/ma",
			 "properties": {"ma_type": "sma", "window": %d},
			 "inputs": [{"name": "Value", "type": "float", "link": 1},
			            {"name": "Window", "type": "int", "link": 2}],
			 "outputs": [{"name": "Float", "type": "float", "links": [3]}]},
			{"id": 4, "type": "custom/tools/add_indicator", "properties": {"name": "sma"},
			 "inputs": [{"name": "Value", "type": "float", "link": 3}]}
		],
		"links": [
			[1, 1, 0, 3, 0, "float"],
			[2, 2, 0, 3, 1, "int"],
			[3, 3, 0, 4, 0, "float"]
		]
	}`, window, window)
}

// buyAboveDoc buys qty at market whenever close exceeds the threshold.
func buyAboveDoc(threshold, qty float64) []byte {
	return fmt.Appendf(nil, `{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/set/float", "properties": {"value": %v},
			 "outputs": [{"name": "Float", "type": "float", "links": [2]}]},
			{"id": 3, "type": "custom/compare/greater",
			 "inputs": [{"name": "A", "type": "float", "link": 1},
			            {"name": "B", "type": "float", "link": 2}],
			 "outputs": [{"name": "Bool", "type": "bool", "links": [3]}]},
			{"id": 4, "type": "custom/logic/if",
			 "inputs": [{"name": "Condition", "type": "bool", "link": 3}],
			 "outputs": [{"name": "True", "type": "exec", "links": [4]},
			             {"name": "False", "type": "exec", "links": []}]},
			{"id": 5, "type": "custom/set/bool", "properties": {"value": true},
			 "outputs": [{"name": "Bool", "type": "bool", "links": [5]}]},
			{"id": 6, "type": "custom/set/bool", "properties": {"value": false},
			 "outputs": [{"name": "Bool", "type": "bool", "links": [6]}]},
			{"id": 7, "type": "custom/set/float", "properties": {"value": %v},
			 "outputs": [{"name": "Float", "type": "float", "links": [7]}]},
			{"id": 8, "type": "custom/trade/create_order",
			 "inputs": [{"name": "Exec", "type": "exec", "link": 4},
			            {"name": "Long/Short", "type": "bool", "link": 5},
			            {"name": "Limit?", "type": "bool", "link": 6},
			            {"name": "Price", "type": "float", "link": null},
			            {"name": "Quantity", "type": "float", "link": 7}],
			 "outputs": [{"name": "ID", "type": "string", "links": []},
			             {"name": "Exec", "type": "exec", "links": []}]}
		],
		"links": [
			[1, 1, 0, 3, 0, "float"],
			[2, 2, 0, 3, 1, "float"],
			[3, 3, 0, 4, 0, "bool"],
			[4, 4, 0, 8, 0, "exec"],
			[5, 5, 0, 8, 1, "bool"],
			[6, 6, 0, 8, 2, "bool"],
			[7, 7, 0, 8, 4, "float"]
		]
	}`, threshold, qty)
}

func (suite *RunnerTestSuite) runnerConfig(doc []byte) Config {
	return Config{
		GraphDoc:       doc,
		Symbol:         "BTCUSDT",
		Timeframe:      types.Interval1m,
		Start:          runnerBase,
		End:            runnerBase.Add(time.Hour),
		InitialCapital: decimal.NewFromInt(10000),
		Specs:          runnerSpecs(),
		Fees:           analyzer.DefaultFeeModel(),
		Store:          suite.store,
	}
}

func (suite *RunnerTestSuite) TestIndicatorRunProducesRowsAndColumns() {
	suite.seedCandles("BTCUSDT", 100, 101, 102, 103, 104, 105)

	runner, err := NewRunner(suite.runnerConfig(indicatorDoc(3)))
	suite.Require().NoError(err)

	summary, err := runner.Run(context.Background())
	suite.Require().NoError(err)

	suite.Len(summary.Result.Rows, 6)
	suite.Require().Len(summary.Result.Indicators, 1)
	suite.Equal("sma", summary.Result.Indicators[0].Name)
	suite.Len(summary.Result.Indicators[0].Values, 6)

	suite.Empty(summary.Result.Orders)
	suite.Zero(summary.Report.Metrics.NumTrades)
	suite.True(summary.Report.Metrics.InitialCapital.Equal(decimal.NewFromInt(10000)))
	suite.Equal("BTCUSDT", summary.Report.Metrics.Symbol)
}

func (suite *RunnerTestSuite) TestTradingRunReachesAnalyzer() {
	suite.seedCandles("BTCUSDT", 99, 101, 102, 103, 99, 99)

	runner, err := NewRunner(suite.runnerConfig(buyAboveDoc(100, 1)))
	suite.Require().NoError(err)

	summary, err := runner.Run(context.Background())
	suite.Require().NoError(err)

	suite.Len(summary.Result.Orders, 3, "one buy per bar above the threshold")
	suite.Equal(runnerBase, summary.Report.Metrics.FirstBar)
	suite.Equal(runnerBase.Add(5*time.Minute), summary.Report.Metrics.LastBar)
}

func (suite *RunnerTestSuite) TestMissingStoreRejected() {
	cfg := suite.runnerConfig(indicatorDoc(3))
	cfg.Store = nil

	_, err := NewRunner(cfg)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *RunnerTestSuite) TestInvalidSpecsRejected() {
	cfg := suite.runnerConfig(indicatorDoc(3))
	cfg.Specs = types.InstrumentSpecs{}

	_, err := NewRunner(cfg)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInstrumentSpecs))
}

func (suite *RunnerTestSuite) TestEmptyRangeReportsNoData() {
	runner, err := NewRunner(suite.runnerConfig(indicatorDoc(3)))
	suite.Require().NoError(err)

	_, err = runner.Run(context.Background())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNoDataFound))
}

func (suite *RunnerTestSuite) TestWriteStatsRoundTrip() {
	suite.seedCandles("BTCUSDT", 99, 101, 102, 103, 99, 99)

	runner, err := NewRunner(suite.runnerConfig(buyAboveDoc(100, 1)))
	suite.Require().NoError(err)

	summary, err := runner.Run(context.Background())
	suite.Require().NoError(err)

	path := filepath.Join(suite.T().TempDir(), "stats.yaml")
	suite.Require().NoError(WriteStats(path, types.Interval1m, summary.Report.Metrics))

	raw, err := os.ReadFile(path)
	suite.Require().NoError(err)

	var dump map[string]interface{}
	suite.Require().NoError(yaml.Unmarshal(raw, &dump))
	suite.Equal("BTCUSDT", dump["symbol"])
	suite.Equal("1min", dump["timeframe"])
	suite.Equal("10000", dump["initial_capital"])
	suite.Contains(dump, "sharpe_ratio")
	suite.Contains(dump, "max_drawdown_pct")
}

func (suite *RunnerTestSuite) TestResultStoreSaveAndList() {
	suite.seedCandles("BTCUSDT", 99, 101, 102, 103, 99, 99)

	cfg := suite.runnerConfig(buyAboveDoc(100, 1))
	runner, err := NewRunner(cfg)
	suite.Require().NoError(err)

	summary, err := runner.Run(context.Background())
	suite.Require().NoError(err)

	results, err := NewResultStore(filepath.Join(suite.T().TempDir(), "results.db"), nil)
	suite.Require().NoError(err)
	defer results.Close()

	id, err := results.Save(context.Background(), cfg, summary)
	suite.Require().NoError(err)
	suite.NotEmpty(id)

	runs, err := results.List(context.Background())
	suite.Require().NoError(err)
	suite.Require().Len(runs, 1)
	suite.Equal(id, runs[0].ID)
	suite.Equal("BTCUSDT", runs[0].Symbol)
	suite.Equal(types.Interval1m, runs[0].Timeframe)
	suite.Equal(runnerBase, runs[0].Start)
}
