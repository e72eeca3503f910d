// Package datasource stores candles in duckdb and serves them to backtests
// and live bots, resampled to the requested timeframe.
package datasource

import (
	"context"
	"database/sql"
	"iter"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

const candlesSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol VARCHAR NOT NULL,
	time TIMESTAMP NOT NULL,
	open DOUBLE NOT NULL,
	high DOUBLE NOT NULL,
	low DOUBLE NOT NULL,
	close DOUBLE NOT NULL,
	volume DOUBLE NOT NULL,
	PRIMARY KEY (symbol, time)
);
`

// CandleStore owns the duckdb candles table. Stored rows are always the base
// one-minute timeframe; coarser frames come out of Resample.
type CandleStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewCandleStore opens (or creates) the duckdb database at path and ensures
// the candles table exists.
func NewCandleStore(path string, log *logger.Logger) (*CandleStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open candle database", err)
	}

	if _, err := db.Exec(candlesSchema); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to create candles table", err)
	}

	return &CandleStore{db: db, log: log}, nil
}

func (s *CandleStore) Close() error {
	return s.db.Close()
}

// Write upserts a batch of candles inside one transaction. Re-writing an
// existing (symbol, time) row replaces it, so backfills can overlap safely.
func (s *CandleStore) Write(ctx context.Context, rows []types.MarketData) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin transaction", err)
	}

	defer tx.Rollback()

	builder := sq.Insert("candles").
		Columns("symbol", "time", "open", "high", "low", "close", "volume").
		Suffix("ON CONFLICT (symbol, time) DO UPDATE SET open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close, volume = excluded.volume")

	for _, row := range rows {
		builder = builder.Values(row.Symbol, row.Time.UTC(), row.Open, row.High, row.Low, row.Close, row.Volume)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build insert", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to write candles", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit candles", err)
	}

	s.log.Debug("candles written", zap.Int("rows", len(rows)))

	return nil
}

// Count returns the number of stored candles for a symbol.
func (s *CandleStore) Count(ctx context.Context, symbol string) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("candles").
		Where(sq.Eq{"symbol": symbol}).ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count candles", err)
	}

	return count, nil
}

// LatestTime returns the newest stored candle time for a symbol, or the zero
// time when no rows exist.
func (s *CandleStore) LatestTime(ctx context.Context, symbol string) (time.Time, error) {
	query, args, err := sq.Select("MAX(time)").From("candles").
		Where(sq.Eq{"symbol": symbol}).ToSql()
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return time.Time{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read latest candle", err)
	}

	if !latest.Valid {
		return time.Time{}, nil
	}

	return latest.Time.UTC(), nil
}

// ReadRange streams base candles for [start, end] in ascending time order.
// Iteration stops at the first scan error, which is yielded to the caller.
func (s *CandleStore) ReadRange(ctx context.Context, symbol string, start, end time.Time) iter.Seq2[types.MarketData, error] {
	return func(yield func(types.MarketData, error) bool) {
		query, args, err := sq.Select("symbol", "time", "open", "high", "low", "close", "volume").
			From("candles").
			Where(sq.Eq{"symbol": symbol}).
			Where(sq.GtOrEq{"time": start.UTC()}).
			Where(sq.LtOrEq{"time": end.UTC()}).
			OrderBy("time ASC").
			ToSql()
		if err != nil {
			yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build range query", err))
			return
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query candles", err))
			return
		}

		defer rows.Close()

		for rows.Next() {
			var row types.MarketData
			if err := rows.Scan(&row.Symbol, &row.Time, &row.Open, &row.High, &row.Low, &row.Close, &row.Volume); err != nil {
				yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan candle", err))
				return
			}

			row.Time = row.Time.UTC()

			if !yield(row, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "candle iteration failed", err))
		}
	}
}

// ReadRangeSlice collects ReadRange into memory.
func (s *CandleStore) ReadRangeSlice(ctx context.Context, symbol string, start, end time.Time) ([]types.MarketData, error) {
	var out []types.MarketData

	for row, err := range s.ReadRange(ctx, symbol, start, end) {
		if err != nil {
			return nil, err
		}

		out = append(out, row)
	}

	return out, nil
}
