package datasource

import (
	"sort"
	"time"

	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Resample aggregates base candles into the target timeframe. Buckets are
// right-labeled and closed on the left: the candle stamped 10:05 on a
// five-minute frame covers [10:00, 10:05). Open is the first row of the
// bucket, high/low the extremes, close the last row, volume the sum. Buckets
// with no rows are dropped, not zero-filled.
func Resample(rows []types.MarketData, target types.Interval) ([]types.MarketData, error) {
	step, ok := target.Duration()
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported timeframe %s", target)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	if target == types.Interval1m {
		out := make([]types.MarketData, len(rows))
		copy(out, rows)
		sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

		return out, nil
	}

	sorted := make([]types.MarketData, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var (
		out     []types.MarketData
		current types.MarketData
		label   time.Time
		open    bool
	)

	flush := func() {
		if open {
			current.Time = label
			out = append(out, current)
			open = false
		}
	}

	for _, row := range sorted {
		l := bucketLabel(row.Time, step)
		if !open || !l.Equal(label) {
			flush()

			label = l
			current = row
			open = true

			continue
		}

		if row.High > current.High {
			current.High = row.High
		}

		if row.Low < current.Low {
			current.Low = row.Low
		}

		current.Close = row.Close
		current.Volume += row.Volume
	}

	flush()

	return out, nil
}

// bucketLabel maps a row time to the right edge of its bucket. Buckets are
// closed on the left: a row exactly on a boundary opens the next bucket, so
// the 10:00 row of a five-minute frame lands in the candle stamped 10:05.
func bucketLabel(t time.Time, step time.Duration) time.Time {
	return t.UTC().Truncate(step).Add(step)
}
