package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id VARCHAR PRIMARY KEY,
	symbol VARCHAR NOT NULL,
	timeframe VARCHAR NOT NULL,
	range_start TIMESTAMP NOT NULL,
	range_end TIMESTAMP NOT NULL,
	metrics VARCHAR NOT NULL,
	trades VARCHAR NOT NULL,
	orders VARCHAR NOT NULL,
	equity_curve VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// ResultStore archives finished backtest runs in duckdb so runs can be
// compared later.
type ResultStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewResultStore(path string, log *logger.Logger) (*ResultStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open results database", err)
	}

	if _, err := db.Exec(resultsSchema); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to create results table", err)
	}

	return &ResultStore{db: db, log: log}, nil
}

func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Save archives one run and returns its generated id.
func (s *ResultStore) Save(ctx context.Context, cfg Config, summary *Summary) (string, error) {
	id := uuid.NewString()

	metricsJSON, err := json.Marshal(summary.Report.Metrics)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to serialize metrics", err)
	}

	tradesJSON, err := json.Marshal(summary.Report.Trades)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to serialize trades", err)
	}

	ordersJSON, err := json.Marshal(summary.Result.Orders)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to serialize orders", err)
	}

	curveJSON, err := json.Marshal(summary.Report.EquityCurve)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to serialize equity curve", err)
	}

	query, args, err := sq.Insert("backtest_runs").
		Columns("id", "symbol", "timeframe", "range_start", "range_end",
			"metrics", "trades", "orders", "equity_curve", "created_at").
		Values(id, cfg.Symbol, string(cfg.Timeframe), cfg.Start.UTC(), cfg.End.UTC(),
			string(metricsJSON), string(tradesJSON), string(ordersJSON), string(curveJSON),
			time.Now().UTC()).
		ToSql()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to build run insert", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to save run", err)
	}

	return id, nil
}

// RunInfo is one archived run's identity row.
type RunInfo struct {
	ID        string
	Symbol    string
	Timeframe types.Interval
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
}

// List returns archived runs, newest first.
func (s *ResultStore) List(ctx context.Context) ([]RunInfo, error) {
	query, args, err := sq.Select("id", "symbol", "timeframe", "range_start", "range_end", "created_at").
		From("backtest_runs").OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build run listing", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to list runs", err)
	}

	defer rows.Close()

	var out []RunInfo

	for rows.Next() {
		var (
			info      RunInfo
			timeframe string
		)

		if err := rows.Scan(&info.ID, &info.Symbol, &timeframe,
			&info.Start, &info.End, &info.CreatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan run row", err)
		}

		info.Timeframe = types.Interval(timeframe)
		info.Start = info.Start.UTC()
		info.End = info.End.UTC()
		info.CreatedAt = info.CreatedAt.UTC()

		out = append(out, info)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "run listing failed", err)
	}

	return out, nil
}
