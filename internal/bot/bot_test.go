package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// fakeVenue counts shutdown calls and serves fixed instrument specs.
type fakeVenue struct {
	cancelAllCalls atomic.Int64
	flattenCalls   atomic.Int64
	placeCalls     atomic.Int64
	badSpecs       bool
}

var _ Venue = (*fakeVenue)(nil)

func (v *fakeVenue) PlaceOrder(_ context.Context, order *types.Order) (string, error) {
	v.placeCalls.Add(1)
	return "remote-" + order.LocalID, nil
}

func (v *fakeVenue) AmendOrder(context.Context, *types.Order, float64, float64) error { return nil }
func (v *fakeVenue) CancelOrder(context.Context, *types.Order) error                  { return nil }

func (v *fakeVenue) CancelAllOrders(context.Context, string) error {
	v.cancelAllCalls.Add(1)
	return nil
}

func (v *fakeVenue) FetchPosition(_ context.Context, symbol string) (types.Position, error) {
	return types.Position{Symbol: symbol}, nil
}

func (v *fakeVenue) Instrument(_ context.Context, symbol string) (types.InstrumentSpecs, error) {
	if v.badSpecs {
		return types.InstrumentSpecs{}, errors.Newf(errors.ErrCodeInstrumentSpecs, "no specs for %s", symbol)
	}

	return types.InstrumentSpecs{
		Symbol:      symbol,
		Precision:   2,
		TickSize:    decimal.NewFromFloat(0.1),
		MinOrderQty: decimal.NewFromFloat(0.01),
		QtyStep:     decimal.NewFromFloat(0.01),
	}, nil
}

func (v *fakeVenue) Flatten(context.Context, string) error {
	v.flattenCalls.Add(1)
	return nil
}

// fakeHistory serves synthetic minute candles for any requested range, or a
// scripted error.
type fakeHistory struct {
	err error
}

func (h *fakeHistory) Fetch(_ context.Context, symbol string, start, end time.Time) ([]types.MarketData, error) {
	if h.err != nil {
		return nil, h.err
	}

	var out []types.MarketData

	for t := start.Truncate(time.Minute); !t.After(end); t = t.Add(time.Minute) {
		out = append(out, types.MarketData{
			Symbol: symbol,
			Time:   t,
			Open:   100, High: 101, Low: 99, Close: 100.5,
			Volume: 1,
		})
	}

	return out, nil
}

func testGraphDoc() []byte {
	return fmt.Appendf(nil, `{
		"nodes": [
			{"id": 1, "type": "custom/get/close",
			 "outputs": [{"name": "Close", "type": "float", "links": [1]}]},
			{"id": 2, "type": "custom/set/integer", "properties": {"value": 3},
			 "outputs": [{"name": "Integer", "type": "int", "links": [2]}]},
			{"id": 3, "type": "custom/indicators/ma",
			 "properties": {"ma_type": "sma", "window": 3},
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
	}`)
}

func testBotConfig() types.BotConfig {
	return types.BotConfig{
		Symbol:         "BTCUSDT",
		Timeframe:      types.Interval1m,
		Graph:          testGraphDoc(),
		InitialCapital: 1000,
	}
}

type BotTestSuite struct {
	suite.Suite

	venue   *fakeVenue
	history *fakeHistory
}

func TestBotSuite(t *testing.T) {
	suite.Run(t, new(BotTestSuite))
}

func (suite *BotTestSuite) SetupTest() {
	suite.venue = &fakeVenue{}
	suite.history = &fakeHistory{}
}

func (suite *BotTestSuite) newBot() *Bot {
	b, err := NewBot(7, testBotConfig(), suite.venue, suite.history, nil, logger.NewNopLogger())
	suite.Require().NoError(err)

	return b
}

func (suite *BotTestSuite) TestInvalidConfigRejected() {
	cfg := testBotConfig()
	cfg.Timeframe = "4h"

	_, err := NewBot(1, cfg, suite.venue, suite.history, nil, logger.NewNopLogger())

	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
}

func (suite *BotTestSuite) TestFatalSetupErrorTriggersEmergencyShutdown() {
	suite.history.err = errors.New(errors.ErrCodeDataSourceUnavailable, "history down")

	b := suite.newBot()
	suite.Require().NoError(b.Start(context.Background()))

	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("bot did not exit")
	}

	select {
	case <-b.flattenDone:
	case <-time.After(5 * time.Second):
		suite.FailNow("flatten did not run")
	}

	suite.Equal(types.BotStatusError, b.Status())
	suite.Equal(int64(1), suite.venue.cancelAllCalls.Load())
	suite.Equal(int64(1), suite.venue.flattenCalls.Load())
}

func (suite *BotTestSuite) TestStopFlattensExactlyOnce() {
	b := suite.newBot()
	suite.Require().NoError(b.Start(context.Background()))

	// Let the warmup finish and the loop settle into its first sleep.
	time.Sleep(500 * time.Millisecond)

	b.Stop()
	b.Stop()

	select {
	case <-b.flattenDone:
	case <-time.After(5 * time.Second):
		suite.FailNow("flatten did not run")
	}

	suite.Equal(types.BotStatusStopped, b.Status())
	suite.Equal(int64(1), suite.venue.cancelAllCalls.Load())
	suite.Equal(int64(1), suite.venue.flattenCalls.Load())
}

func (suite *BotTestSuite) TestStartWhileRunningIsNoOp() {
	b := suite.newBot()
	suite.Require().NoError(b.Start(context.Background()))

	done := b.Done()
	suite.NoError(b.Start(context.Background()))
	suite.Equal(done, b.Done())

	b.Stop()
}

func (suite *BotTestSuite) TestStoppedBotReportsStopped() {
	b := suite.newBot()

	suite.Equal(types.BotStatusStopped, b.Status())
	b.Stop()
	suite.Equal(types.BotStatusStopped, b.Status())
	suite.Equal(int64(0), suite.venue.flattenCalls.Load())
}
