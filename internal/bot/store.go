package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

const botSchema = `
CREATE TABLE IF NOT EXISTS bots (
	id BIGINT PRIMARY KEY,
	status VARCHAR NOT NULL,
	parameters VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS bot_performance (
	bot_id BIGINT PRIMARY KEY,
	last_update TIMESTAMP NOT NULL,
	orders VARCHAR NOT NULL,
	rows_json VARCHAR NOT NULL,
	price_precision INTEGER NOT NULL,
	tick_size DOUBLE NOT NULL
);
`

// BotRow is one persisted bot record.
type BotRow struct {
	ID        int64
	Status    types.BotStatus
	Config    types.BotConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists bot status and per-bot performance snapshots in duckdb.
// The status column is the source of truth the manager reconciles against.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore opens the duckdb database at path and ensures the bot tables
// exist.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to open bot database", err)
	}

	if _, err := db.Exec(botSchema); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to create bot tables", err)
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBot inserts or replaces a bot row.
func (s *Store) SaveBot(ctx context.Context, id int64, status types.BotStatus, cfg types.BotConfig) error {
	params, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to serialize bot config", err)
	}

	now := time.Now().UTC()

	query, args, err := sq.Insert("bots").
		Columns("id", "status", "parameters", "created_at", "updated_at").
		Values(id, string(status), string(params), now, now).
		Suffix("ON CONFLICT (id) DO UPDATE SET status = excluded.status, parameters = excluded.parameters, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to build bot insert", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to save bot", err)
	}

	return nil
}

// UpdateStatus patches the status column and bumps updated_at.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status types.BotStatus) error {
	query, args, err := sq.Update("bots").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to build status update", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to update bot status", err)
	}

	return nil
}

// FetchBot loads one bot row.
func (s *Store) FetchBot(ctx context.Context, id int64) (BotRow, error) {
	query, args, err := sq.Select("id", "status", "parameters", "created_at", "updated_at").
		From("bots").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return BotRow{}, errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to build bot query", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)

	bot, err := scanBotRow(row)
	if err == sql.ErrNoRows {
		return BotRow{}, errors.Newf(errors.ErrCodeBotNotFound, "bot %d not found", id)
	}

	if err != nil {
		return BotRow{}, err
	}

	return bot, nil
}

// ListByStatus returns all bot rows in any of the given statuses.
func (s *Store) ListByStatus(ctx context.Context, statuses ...types.BotStatus) ([]BotRow, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	query, args, err := sq.Select("id", "status", "parameters", "created_at", "updated_at").
		From("bots").Where(sq.Eq{"status": values}).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to build list query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to list bots", err)
	}

	defer rows.Close()

	var out []BotRow

	for rows.Next() {
		bot, err := scanBotRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, bot)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBotStoreFailed, "bot listing failed", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBotRow(scanner rowScanner) (BotRow, error) {
	var (
		bot    BotRow
		status string
		params string
	)

	if err := scanner.Scan(&bot.ID, &status, &params, &bot.CreatedAt, &bot.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return BotRow{}, err
		}

		return BotRow{}, errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to scan bot row", err)
	}

	bot.Status = types.BotStatus(status)

	if err := json.Unmarshal([]byte(params), &bot.Config); err != nil {
		return BotRow{}, errors.Wrap(errors.ErrCodeBotConfigFailed, "failed to parse bot config", err)
	}

	bot.CreatedAt = bot.CreatedAt.UTC()
	bot.UpdatedAt = bot.UpdatedAt.UTC()

	return bot, nil
}

// PerformanceSnapshot is what the UI reads: the augmented rows, the order
// list, and the instrument display parameters.
type PerformanceSnapshot struct {
	BotID     int64           `json:"bot_id"`
	Orders    []types.Order   `json:"orders"`
	Rows      json.RawMessage `json:"rows"`
	Precision int32           `json:"precision"`
	TickSize  float64         `json:"tick_size"`
}

// SavePerformance upserts the bot's latest snapshot.
func (s *Store) SavePerformance(ctx context.Context, snap PerformanceSnapshot) error {
	ordersJSON, err := json.Marshal(snap.Orders)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to serialize orders", err)
	}

	rowsJSON := snap.Rows
	if rowsJSON == nil {
		rowsJSON = json.RawMessage("[]")
	}

	query, args, err := sq.Insert("bot_performance").
		Columns("bot_id", "last_update", "orders", "rows_json", "price_precision", "tick_size").
		Values(snap.BotID, time.Now().UTC(), string(ordersJSON), string(rowsJSON), snap.Precision, snap.TickSize).
		Suffix("ON CONFLICT (bot_id) DO UPDATE SET last_update = excluded.last_update, orders = excluded.orders, rows_json = excluded.rows_json, price_precision = excluded.price_precision, tick_size = excluded.tick_size").
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to build performance upsert", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeBotStoreFailed, "failed to save performance", err)
	}

	return nil
}
