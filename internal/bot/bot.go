// Package bot runs compiled strategy graphs against the live market: one
// goroutine per bot, a manager that reconciles persisted status rows with
// running sessions, and an emergency shutdown path that flattens exactly
// once.
package bot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/datasource"
	"github.com/pvelab/graphtrader/internal/engine"
	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/ledger"
	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

const (
	startGrace    = 10 * time.Second
	stopGrace     = 5 * time.Second
	maxSleepSlice = 10 * time.Second
)

// HistorySource serves one-minute candles for warmup and the steady-state
// loop.
type HistorySource interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]types.MarketData, error)
}

// Venue is the exchange surface one bot needs: order mirroring for the
// engine plus instrument filters and the flatten used on shutdown.
type Venue interface {
	engine.Broker

	Instrument(ctx context.Context, symbol string) (types.InstrumentSpecs, error)
	Flatten(ctx context.Context, symbol string) error
}

// Bot binds one config to one engine session and drives it bar by bar. All
// engine and ledger state is owned by the bot's goroutine; Status and the
// shutdown path are the only concurrent surfaces.
type Bot struct {
	id      int64
	cfg     types.BotConfig
	venue   Venue
	history HistorySource
	store   *Store
	log     *logger.Logger

	mu     sync.Mutex
	status types.BotStatus
	cancel context.CancelFunc
	done   chan struct{}

	flattenOnce sync.Once
	flattenDone chan struct{}
}

// NewBot validates the config and prepares a stopped bot.
func NewBot(id int64, cfg types.BotConfig, venue Venue, history HistorySource, store *Store, log *logger.Logger) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if venue == nil || history == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "bot requires a venue and a history source")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Bot{
		id:          id,
		cfg:         cfg,
		venue:       venue,
		history:     history,
		store:       store,
		log:         log.Named("bot").With(zap.Int64("bot_id", id)),
		status:      types.BotStatusStopped,
		flattenDone: make(chan struct{}),
	}, nil
}

// ID returns the bot's persisted identifier.
func (b *Bot) ID() int64 { return b.id }

// Status returns the current in-memory status.
func (b *Bot) Status() types.BotStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.status
}

func (b *Bot) setStatus(status types.BotStatus) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

// Done is closed when the run goroutine has exited.
func (b *Bot) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.done
}

// Start launches the run goroutine. Starting a running bot is a no-op; if a
// previous run is still winding down, Start waits briefly for it and fails
// rather than double-launching.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()

	if b.status == types.BotStatusRunning {
		b.mu.Unlock()
		return nil
	}

	prev := b.done
	b.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-time.After(startGrace):
			return errors.Newf(errors.ErrCodeBotAlreadyRuns, "bot %d previous run still active", b.id)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	b.status = types.BotStatusRunning
	done := b.done
	b.mu.Unlock()

	go b.run(runCtx, done)

	b.log.Info("bot started",
		zap.String("symbol", b.cfg.Symbol),
		zap.String("timeframe", string(b.cfg.Timeframe)))

	return nil
}

// Stop requests a cooperative shutdown and waits up to the grace period for
// the loop to exit. The flatten is dispatched regardless, on its own
// goroutine, so a stuck loop cannot block it. Exactly one flatten happens
// per bot lifetime across graceful and emergency paths.
func (b *Bot) Stop() {
	b.mu.Lock()

	if b.status != types.BotStatusRunning {
		b.mu.Unlock()
		return
	}

	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	b.log.Info("stop requested")

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(stopGrace):
			b.log.Warn("run loop did not exit within grace period")
		}
	}

	b.dispatchFlatten()
	b.setStatus(types.BotStatusStopped)

	b.log.Info("bot stopped")
}

// dispatchFlatten starts the cancel-all + flatten pair on an independent
// goroutine, at most once.
func (b *Bot) dispatchFlatten() {
	b.flattenOnce.Do(func() {
		go func() {
			defer close(b.flattenDone)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := b.venue.CancelAllOrders(ctx, b.cfg.Symbol); err != nil {
				b.log.Error("cancel-all during shutdown failed", zap.Error(err))
			}

			if err := b.venue.Flatten(ctx, b.cfg.Symbol); err != nil {
				b.log.Error("flatten during shutdown failed", zap.Error(err))
			} else {
				b.log.Info("position flattened")
			}
		}()
	})
}

// emergencyShutdown handles a fatal error from setup or the loop: one
// cancel-all + flatten, status error.
func (b *Bot) emergencyShutdown(reason error) {
	b.log.Error("fatal error, shutting down", zap.Error(reason))

	b.dispatchFlatten()
	b.setStatus(types.BotStatusError)
}

func (b *Bot) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := b.trade(ctx)
	if err == nil || ctx.Err() != nil {
		// Cooperative stop; Stop() owns the status transition.
		b.log.Info("run loop ended")
		return
	}

	b.emergencyShutdown(errors.Wrap(errors.ErrCodeBotFatal, "bot run failed", err))
}

// trade is the whole bot lifecycle: compile, warm up on history, replay the
// newest bar live, then follow bar boundaries.
func (b *Bot) trade(ctx context.Context) error {
	g, err := graph.Parse(b.cfg.Graph)
	if err != nil {
		return err
	}

	plan, err := graph.Compile(g, engine.KnownType)
	if err != nil {
		return err
	}

	specs, err := b.venue.Instrument(ctx, b.cfg.Symbol)
	if err != nil {
		return err
	}

	frame, _ := b.cfg.Timeframe.Duration()

	now := time.Now().UTC()
	start := now.Add(-time.Duration(plan.Lookback-1) * frame)

	hist, err := b.history.Fetch(ctx, b.cfg.Symbol, start, now)
	if err != nil {
		return err
	}

	if len(hist) == 0 {
		return errors.Newf(errors.ErrCodeNoDataFound,
			"no historical data for %s between %s and %s", b.cfg.Symbol, start, now)
	}

	bars, err := datasource.Resample(hist, b.cfg.Timeframe)
	if err != nil {
		return err
	}

	led, err := ledger.New(b.cfg.Symbol, specs, b.log)
	if err != nil {
		return err
	}

	session, err := engine.NewSession(engine.Config{
		Graph:  g,
		Plan:   plan,
		Ledger: led,
		Mode:   engine.ModeBacktest,
		Logger: b.log,
	})
	if err != nil {
		return err
	}

	if err := session.RunBulk(ctx, bars); err != nil {
		return err
	}

	b.log.Info("warmup complete",
		zap.Int("bars", len(bars)),
		zap.Int("lookback", plan.Lookback))

	// Warmup orders are simulation artifacts. Wipe them so the live book
	// starts clean, then replay the newest bar with real side effects so
	// trade nodes reconcile with the exchange.
	led.Reset()

	if err := session.SwitchToLive(b.venue); err != nil {
		return err
	}

	newest := bars[len(bars)-1]
	if err := session.Step(ctx, newest); err != nil {
		return err
	}

	b.persistPerformance(ctx, session, specs)

	return b.followBars(ctx, session, specs, frame)
}

// followBars sleeps to each timeframe boundary, pulls the just-completed
// period, and advances the session one bar at a time.
func (b *Bot) followBars(ctx context.Context, session *engine.Session, specs types.InstrumentSpecs, frame time.Duration) error {
	settle := 5 * time.Second
	if frame == time.Minute {
		settle = 2 * time.Second
	}

	minutes := int(frame / time.Minute)
	next := nextBoundary(time.Now().UTC(), frame)

	for {
		if err := sleepUntil(ctx, next); err != nil {
			return err
		}

		// Give the upstream feed a moment to finish writing the period.
		if err := sleepFor(ctx, settle); err != nil {
			return err
		}

		current := time.Now().UTC().Truncate(time.Minute)
		periodEnd := current.Add(-time.Minute)
		periodStart := periodEnd.Add(-frame).Add(time.Minute)

		fresh, err := b.fetchPeriod(ctx, periodStart, periodEnd, minutes)
		if err != nil {
			return err
		}

		next = nextBoundary(current, frame)

		if len(fresh) == 0 {
			b.log.Warn("no fresh data for period",
				zap.Time("start", periodStart),
				zap.Time("end", periodEnd))

			continue
		}

		bars, err := datasource.Resample(fresh, b.cfg.Timeframe)
		if err != nil {
			return err
		}

		for _, bar := range bars {
			if err := session.Step(ctx, bar); err != nil {
				return err
			}
		}

		b.persistPerformance(ctx, session, specs)

		b.log.Info("bar processed",
			zap.Time("bar", bars[len(bars)-1].Time),
			zap.Time("next", next))
	}
}

// fetchPeriod pulls the minute rows of one completed period, retrying once
// after a short wait when the feed is lagging.
func (b *Bot) fetchPeriod(ctx context.Context, start, end time.Time, expected int) ([]types.MarketData, error) {
	fresh, err := b.history.Fetch(ctx, b.cfg.Symbol, start, end)
	if err != nil {
		return nil, err
	}

	if len(fresh) >= expected {
		return fresh, nil
	}

	wait := 10 * time.Second
	if len(fresh) == 0 {
		wait = 5 * time.Second
	}

	b.log.Warn("short period, retrying",
		zap.Int("got", len(fresh)),
		zap.Int("expected", expected),
		zap.Duration("wait", wait))

	if err := sleepFor(ctx, wait); err != nil {
		return nil, err
	}

	return b.history.Fetch(ctx, b.cfg.Symbol, start, end)
}

// persistPerformance upserts the run snapshot. Persistence failures are
// logged, not fatal: trading continues without the dashboard row.
func (b *Bot) persistPerformance(ctx context.Context, session *engine.Session, specs types.InstrumentSpecs) {
	if b.store == nil {
		return
	}

	result := session.Result()

	rowsJSON, err := marshalAugmentedRows(result)
	if err != nil {
		b.log.Warn("failed to serialize performance rows", zap.Error(err))
		return
	}

	tick, _ := specs.TickSize.Float64()

	snap := PerformanceSnapshot{
		BotID:     b.id,
		Orders:    result.Orders,
		Rows:      rowsJSON,
		Precision: specs.Precision,
		TickSize:  tick,
	}

	if err := b.store.SavePerformance(ctx, snap); err != nil {
		b.log.Warn("failed to persist performance", zap.Error(err))
	}
}

// marshalAugmentedRows flattens the result into one JSON record per bar:
// OHLCV plus every indicator and signal column, nil where a series has no
// value. Times are unix seconds.
func marshalAugmentedRows(result *engine.Result) (json.RawMessage, error) {
	records := make([]map[string]any, len(result.Rows))

	for i, row := range result.Rows {
		record := map[string]any{
			"date":   row.Time.Unix(),
			"open":   row.Open,
			"high":   row.High,
			"low":    row.Low,
			"close":  row.Close,
			"volume": row.Volume,
		}

		for _, col := range result.Indicators {
			if i < len(col.Values) {
				record[col.Name] = col.Values[i]
			}
		}

		for _, col := range result.Signals {
			if i < len(col.Values) {
				record[col.Name] = col.Values[i]
			}
		}

		records[i] = record
	}

	return json.Marshal(records)
}

// nextBoundary returns the first instant strictly after now that sits on a
// frame boundary.
func nextBoundary(now time.Time, frame time.Duration) time.Time {
	return now.Truncate(frame).Add(frame)
}

// sleepUntil blocks until the deadline, waking in short slices so a cancel
// is observed promptly.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		slice := remaining
		if slice > maxSleepSlice {
			slice = maxSleepSlice
		}

		if err := sleepFor(ctx, slice); err != nil {
			return err
		}
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeEngineAborted, "bot loop cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}
