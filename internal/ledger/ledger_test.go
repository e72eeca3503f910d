package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

func testSpecs() types.InstrumentSpecs {
	return types.InstrumentSpecs{
		Symbol:      "TONUSDT",
		Precision:   4,
		TickSize:    decimal.RequireFromString("0.0001"),
		MinOrderQty: decimal.RequireFromString("1"),
		QtyStep:     decimal.RequireFromString("1"),
	}
}

func bar(t time.Time, open, high, low, close float64) types.MarketData {
	return types.MarketData{
		Symbol: "TONUSDT",
		Time:   t,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 1000,
	}
}

type LedgerTestSuite struct {
	suite.Suite
	ledger *Ledger
	t0     time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	var err error
	suite.ledger, err = New("TONUSDT", testSpecs(), logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *LedgerTestSuite) barAt(minute int, open, high, low, close float64) types.MarketData {
	return bar(suite.t0.Add(time.Duration(minute)*time.Minute), open, high, low, close)
}

func (suite *LedgerTestSuite) TestRejectsInvalidSpecs() {
	_, err := New("TONUSDT", types.InstrumentSpecs{}, logger.NewNopLogger())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInstrumentSpecs))
}

func (suite *LedgerTestSuite) TestMarketOrderExecutesOnCreationBar() {
	b := suite.barAt(0, 5.0, 5.2, 4.9, 5.1)
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindMarket, Quantity: 2, Bar: b,
	})
	suite.Require().NoError(err)

	suite.Equal(types.OrderStatusExecuted, order.Status)
	suite.Equal(b.Time, order.ExecutedAt)
	suite.InDelta(5.1, order.Price, 1e-9)
}

func (suite *LedgerTestSuite) TestLimitBuyFillsOnFirstLowTouch() {
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindLimit, Price: 4.5, Quantity: 1,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)

	// Low stays above the limit: still open.
	suite.ledger.UpdateOrders(suite.barAt(1, 5.1, 5.3, 4.6, 5.2))
	suite.Equal(types.OrderStatusOpen, order.Status)

	// Low touches the limit: fills now.
	fillBar := suite.barAt(2, 5.2, 5.2, 4.5, 4.8)
	suite.ledger.UpdateOrders(fillBar)
	suite.Equal(types.OrderStatusExecuted, order.Status)
	suite.Equal(fillBar.Time, order.ExecutedAt)
}

func (suite *LedgerTestSuite) TestLimitSellFillsOnFirstHighTouch() {
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideSell, Kind: types.OrderKindLimit, Price: 5.5, Quantity: 1,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)

	suite.ledger.UpdateOrders(suite.barAt(1, 5.1, 5.4, 5.0, 5.3))
	suite.Equal(types.OrderStatusOpen, order.Status)

	suite.ledger.UpdateOrders(suite.barAt(2, 5.3, 5.5, 5.2, 5.4))
	suite.Equal(types.OrderStatusExecuted, order.Status)
}

func (suite *LedgerTestSuite) TestConditionalTriggers() {
	buy, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindConditional, TriggerPrice: 5.5, Quantity: 1,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)
	sell, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideSell, Kind: types.OrderKindConditional, TriggerPrice: 4.5, Quantity: 1,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)

	suite.Equal(types.TriggerRise, buy.TriggerDir)
	suite.Equal(types.TriggerFall, sell.TriggerDir)

	// Neither side touched.
	suite.ledger.UpdateOrders(suite.barAt(1, 5.1, 5.3, 4.7, 5.0))
	suite.Equal(types.OrderStatusOpen, buy.Status)
	suite.Equal(types.OrderStatusOpen, sell.Status)

	// High crosses the buy trigger.
	suite.ledger.UpdateOrders(suite.barAt(2, 5.0, 5.6, 4.8, 5.5))
	suite.Equal(types.OrderStatusExecuted, buy.Status)
	suite.Equal(types.OrderStatusOpen, sell.Status)

	// Low crosses the sell trigger.
	suite.ledger.UpdateOrders(suite.barAt(3, 5.5, 5.6, 4.4, 4.5))
	suite.Equal(types.OrderStatusExecuted, sell.Status)
}

func (suite *LedgerTestSuite) TestConditionalWithoutTriggerFiresImmediately() {
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindConditional, Quantity: 1,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)

	suite.ledger.UpdateOrders(suite.barAt(1, 5.1, 5.2, 5.0, 5.1))
	suite.Equal(types.OrderStatusExecuted, order.Status)
}

func (suite *LedgerTestSuite) TestQuantitySnapping() {
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindMarket, Quantity: 2.7,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)
	suite.InDelta(2.0, order.Quantity, 1e-9, "floored to whole units")
}

func (suite *LedgerTestSuite) TestCancelLifecycle() {
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindLimit, Price: 4.0, Quantity: 1,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)

	suite.NoError(suite.ledger.Cancel(order.LocalID))
	suite.Equal(types.OrderStatusCancelled, order.Status)

	// No reverse transitions.
	err = suite.ledger.Cancel(order.LocalID)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderNotOpen))

	suite.ledger.UpdateOrders(suite.barAt(1, 4.0, 4.1, 3.9, 4.0))
	suite.Equal(types.OrderStatusCancelled, order.Status, "cancelled orders never fill")
}

func (suite *LedgerTestSuite) TestCancelAllOpen() {
	for i := 0; i < 3; i++ {
		_, err := suite.ledger.Create(NewOrderParams{
			Side: types.SideBuy, Kind: types.OrderKindLimit, Price: 4.0, Quantity: 1,
			Bar: suite.barAt(i, 5.0, 5.2, 4.9, 5.1),
		})
		suite.Require().NoError(err)
	}

	suite.Equal(3, suite.ledger.CancelAllOpen())
	suite.Empty(suite.ledger.OpenOrders())
}

func (suite *LedgerTestSuite) TestAmendRecordsHistory() {
	order, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideBuy, Kind: types.OrderKindLimit, Price: 4.0, Quantity: 2,
		Bar: suite.barAt(0, 5.0, 5.2, 4.9, 5.1),
	})
	suite.Require().NoError(err)

	amended, err := suite.ledger.Amend(order.LocalID, 4.2, 0, 0, suite.t0.Add(time.Minute))
	suite.Require().NoError(err)
	suite.InDelta(4.2, amended.Price, 1e-9)
	suite.Require().Len(amended.Amendments, 1)
	suite.True(amended.Amendments[0].PriceChanged)
	suite.False(amended.Amendments[0].QtyChanged)

	// No-op amendment records nothing.
	_, err = suite.ledger.Amend(order.LocalID, 0, 0, 0, suite.t0.Add(2*time.Minute))
	suite.Require().NoError(err)
	suite.Len(amended.Amendments, 1)
}

func (suite *LedgerTestSuite) TestLocalIDSequence() {
	b := suite.barAt(0, 5.0, 5.2, 4.9, 5.1)
	first, err := suite.ledger.Create(NewOrderParams{Side: types.SideBuy, Kind: types.OrderKindMarket, Quantity: 1, Bar: b})
	suite.Require().NoError(err)
	second, err := suite.ledger.Create(NewOrderParams{Side: types.SideSell, Kind: types.OrderKindMarket, Quantity: 1, Bar: b})
	suite.Require().NoError(err)

	suite.Regexp(`^local_0_\d+$`, first.LocalID)
	suite.Regexp(`^local_1_\d+$`, second.LocalID)

	last := suite.ledger.Last()
	suite.True(last.IsSome())
	suite.Equal(second.LocalID, last.Unwrap().LocalID)
}

func (suite *LedgerTestSuite) TestGetByRemoteID() {
	b := suite.barAt(0, 5.0, 5.2, 4.9, 5.1)
	order, err := suite.ledger.Create(NewOrderParams{Side: types.SideBuy, Kind: types.OrderKindMarket, Quantity: 1, Bar: b})
	suite.Require().NoError(err)

	suite.ledger.SetRemote(order.LocalID, "exch-42")
	found := suite.ledger.Get("exch-42")
	suite.True(found.IsSome())
	suite.Equal(order.LocalID, found.Unwrap().LocalID)

	suite.True(suite.ledger.Get("missing").IsNone())
}

func (suite *LedgerTestSuite) TestReset() {
	b := suite.barAt(0, 5.0, 5.2, 4.9, 5.1)
	_, err := suite.ledger.Create(NewOrderParams{Side: types.SideBuy, Kind: types.OrderKindMarket, Quantity: 1, Bar: b})
	suite.Require().NoError(err)

	suite.ledger.Reset()
	suite.Empty(suite.ledger.Orders())

	again, err := suite.ledger.Create(NewOrderParams{Side: types.SideBuy, Kind: types.OrderKindMarket, Quantity: 1, Bar: b})
	suite.Require().NoError(err)
	suite.Regexp(`^local_0_`, again.LocalID)
}

type PositionTestSuite struct {
	suite.Suite
	ledger *Ledger
	t0     time.Time
}

func TestPositionSuite(t *testing.T) {
	suite.Run(t, new(PositionTestSuite))
}

func (suite *PositionTestSuite) SetupTest() {
	var err error
	suite.ledger, err = New("TONUSDT", testSpecs(), logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *PositionTestSuite) marketOrder(minute int, side types.Side, qty, price float64) {
	_, err := suite.ledger.Create(NewOrderParams{
		Side: side, Kind: types.OrderKindMarket, Quantity: qty,
		Bar: bar(suite.t0.Add(time.Duration(minute)*time.Minute), price, price, price, price),
	})
	suite.Require().NoError(err)
}

func (suite *PositionTestSuite) TestFlatWhenNoOrders() {
	suite.True(suite.ledger.Position().IsFlat())
}

func (suite *PositionTestSuite) TestNetQuantityIsSignedSum() {
	suite.marketOrder(0, types.SideBuy, 3, 100)
	suite.marketOrder(1, types.SideSell, 1, 110)
	suite.marketOrder(2, types.SideBuy, 2, 105)

	position := suite.ledger.Position()
	suite.Equal("4", position.Quantity.String())
}

func (suite *PositionTestSuite) TestWeightedAveragePrice() {
	suite.marketOrder(0, types.SideBuy, 2, 100)
	suite.marketOrder(1, types.SideBuy, 2, 110)

	position := suite.ledger.Position()
	suite.Equal("4", position.Quantity.String())
	suite.Equal("105", position.AveragePrice.String())
	suite.Equal(suite.t0, position.OpenedAt)
}

func (suite *PositionTestSuite) TestFIFOOffsetConsumesOldestFirst() {
	suite.marketOrder(0, types.SideBuy, 2, 100)
	suite.marketOrder(1, types.SideBuy, 2, 110)
	suite.marketOrder(2, types.SideSell, 3, 120)

	position := suite.ledger.Position()
	suite.Equal("1", position.Quantity.String())
	// Only one unit of the 110 lot remains.
	suite.Equal("110", position.AveragePrice.String())
}

func (suite *PositionTestSuite) TestShortPosition() {
	suite.marketOrder(0, types.SideSell, 5, 100)
	suite.marketOrder(1, types.SideBuy, 2, 95)

	position := suite.ledger.Position()
	suite.Equal("-3", position.Quantity.String())
	suite.Equal("100", position.AveragePrice.String())
}

func (suite *PositionTestSuite) TestFullCloseIsFlat() {
	suite.marketOrder(0, types.SideBuy, 2, 100)
	suite.marketOrder(1, types.SideSell, 2, 110)

	position := suite.ledger.Position()
	suite.True(position.IsFlat())
	suite.True(position.AveragePrice.IsZero())
}

func (suite *PositionTestSuite) TestOpenOrdersDoNotCount() {
	suite.marketOrder(0, types.SideBuy, 2, 100)

	_, err := suite.ledger.Create(NewOrderParams{
		Side: types.SideSell, Kind: types.OrderKindLimit, Price: 200, Quantity: 2,
		Bar: bar(suite.t0.Add(time.Minute), 100, 101, 99, 100),
	})
	suite.Require().NoError(err)

	suite.Equal("2", suite.ledger.Position().Quantity.String())
}

func (suite *PositionTestSuite) TestNoQuantityDoubleCountedOnReversal() {
	suite.marketOrder(0, types.SideBuy, 2, 100)
	suite.marketOrder(1, types.SideSell, 5, 110)

	position := suite.ledger.Position()
	suite.Equal("-3", position.Quantity.String())
	suite.Equal("110", position.AveragePrice.String())

	var total decimal.Decimal
	for _, order := range suite.ledger.Orders() {
		if order.Status == types.OrderStatusExecuted {
			total = total.Add(decimal.NewFromFloat(order.SignedQuantity()))
		}
	}
	suite.True(total.Equal(position.Quantity), "net equals algebraic sum of signed quantities")
}
