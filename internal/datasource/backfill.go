package datasource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// klinePageSize matches the venue's per-request limit.
const klinePageSize = 500

// KlineSource fetches historical candles from the venue. The exchange
// provider satisfies this.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]types.MarketData, error)
}

// VenueInterval translates an internal timeframe to the venue's notation.
func VenueInterval(interval types.Interval) (string, bool) {
	switch interval {
	case types.Interval1m:
		return "1m", true
	case types.Interval3m:
		return "3m", true
	case types.Interval5m:
		return "5m", true
	case types.Interval15m:
		return "15m", true
	case types.Interval30m:
		return "30m", true
	case types.Interval1h:
		return "1h", true
	default:
		return "", false
	}
}

// Backfiller pages one-minute candles from the venue into the store.
type Backfiller struct {
	source KlineSource
	store  *CandleStore
	log    *logger.Logger
}

func NewBackfiller(source KlineSource, store *CandleStore, log *logger.Logger) *Backfiller {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Backfiller{source: source, store: store, log: log}
}

// Run fetches [start, end] one page at a time and writes each page before
// requesting the next, so an interrupted backfill keeps what it already
// fetched. A short page marks the end of available history.
func (b *Backfiller) Run(ctx context.Context, symbol string, start, end time.Time) (int, error) {
	total := 0
	cursor := start

	for cursor.Before(end) {
		if err := ctx.Err(); err != nil {
			return total, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "backfill aborted", err)
		}

		page, err := b.source.Klines(ctx, symbol, "1m", cursor, end, klinePageSize)
		if err != nil {
			return total, err
		}

		if len(page) == 0 {
			break
		}

		if err := b.store.Write(ctx, page); err != nil {
			return total, err
		}

		total += len(page)
		last := page[len(page)-1].Time

		b.log.Debug("backfill page written",
			zap.String("symbol", symbol),
			zap.Int("rows", len(page)),
			zap.Time("through", last))

		if len(page) < klinePageSize {
			break
		}

		cursor = last.Add(time.Minute)
	}

	b.log.Info("backfill complete",
		zap.String("symbol", symbol),
		zap.Int("rows", total))

	return total, nil
}

// VenueHistory serves warmup reads straight from the venue, paging the same
// way the backfiller does but keeping the rows in memory.
type VenueHistory struct {
	source KlineSource
}

func NewVenueHistory(source KlineSource) *VenueHistory {
	return &VenueHistory{source: source}
}

func (h *VenueHistory) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]types.MarketData, error) {
	var out []types.MarketData

	cursor := start

	for cursor.Before(end) || cursor.Equal(end) {
		page, err := h.source.Klines(ctx, symbol, "1m", cursor, end, klinePageSize)
		if err != nil {
			return nil, err
		}

		if len(page) == 0 {
			break
		}

		out = append(out, page...)

		if len(page) < klinePageSize {
			break
		}

		cursor = page[len(page)-1].Time.Add(time.Minute)
	}

	return out, nil
}
