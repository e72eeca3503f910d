package datasource

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
)

type CandleStoreTestSuite struct {
	suite.Suite

	store *CandleStore
}

func TestCandleStoreSuite(t *testing.T) {
	suite.Run(t, new(CandleStoreTestSuite))
}

func (suite *CandleStoreTestSuite) SetupTest() {
	store, err := NewCandleStore(filepath.Join(suite.T().TempDir(), "candles.db"), logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *CandleStoreTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

func (suite *CandleStoreTestSuite) rows(start time.Time, n int) []types.MarketData {
	out := make([]types.MarketData, n)
	for i := range out {
		out[i] = types.MarketData{
			Symbol: "BTCUSDT",
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100.5 + float64(i),
			Volume: 10,
		}
	}

	return out
}

func (suite *CandleStoreTestSuite) TestWriteAndReadRange() {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.store.Write(context.Background(), suite.rows(start, 5)))

	got, err := suite.store.ReadRangeSlice(context.Background(), "BTCUSDT",
		start.Add(time.Minute), start.Add(3*time.Minute))

	suite.NoError(err)
	suite.Require().Len(got, 3)
	suite.Equal(start.Add(time.Minute), got[0].Time)
	suite.Equal(101.0, got[0].Open)
	suite.Equal(start.Add(3*time.Minute), got[2].Time)
}

func (suite *CandleStoreTestSuite) TestRewriteReplacesRow() {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := suite.rows(start, 1)
	suite.Require().NoError(suite.store.Write(context.Background(), rows))

	rows[0].Close = 999
	suite.Require().NoError(suite.store.Write(context.Background(), rows))

	count, err := suite.store.Count(context.Background(), "BTCUSDT")
	suite.NoError(err)
	suite.Equal(1, count)

	got, err := suite.store.ReadRangeSlice(context.Background(), "BTCUSDT", start, start)
	suite.NoError(err)
	suite.Require().Len(got, 1)
	suite.Equal(999.0, got[0].Close)
}

func (suite *CandleStoreTestSuite) TestLatestTime() {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	latest, err := suite.store.LatestTime(context.Background(), "BTCUSDT")
	suite.NoError(err)
	suite.True(latest.IsZero())

	suite.Require().NoError(suite.store.Write(context.Background(), suite.rows(start, 3)))

	latest, err = suite.store.LatestTime(context.Background(), "BTCUSDT")
	suite.NoError(err)
	suite.Equal(start.Add(2*time.Minute), latest)
}

func (suite *CandleStoreTestSuite) TestSymbolsIsolated() {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := suite.rows(start, 2)
	rows[1].Symbol = "ETHUSDT"
	suite.Require().NoError(suite.store.Write(context.Background(), rows))

	got, err := suite.store.ReadRangeSlice(context.Background(), "ETHUSDT",
		start, start.Add(time.Hour))

	suite.NoError(err)
	suite.Require().Len(got, 1)
	suite.Equal("ETHUSDT", got[0].Symbol)
}

func (suite *CandleStoreTestSuite) TestReadRangeStopsEarly() {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.store.Write(context.Background(), suite.rows(start, 10)))

	seen := 0
	for _, err := range suite.store.ReadRange(context.Background(), "BTCUSDT", start, start.Add(time.Hour)) {
		suite.NoError(err)

		seen++
		if seen == 3 {
			break
		}
	}

	suite.Equal(3, seen)
}
