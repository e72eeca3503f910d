package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Manager owns the registry of running bots, acts on control-plane messages
// and keeps the persisted status column truthful. The registry map is the
// only structure shared between the subscriber and per-bot watcher
// goroutines.
type Manager struct {
	store   *Store
	control ControlPlane
	venue   Venue
	history HistorySource
	log     *logger.Logger

	mu   sync.Mutex
	bots map[int64]*Bot
	wg   sync.WaitGroup
}

// NewManager wires a manager; Run must be called to start serving.
func NewManager(store *Store, control ControlPlane, venue Venue, history HistorySource, log *logger.Logger) (*Manager, error) {
	if store == nil || control == nil || venue == nil || history == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration,
			"manager requires a store, control plane, venue and history source")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		store:   store,
		control: control,
		venue:   venue,
		history: history,
		log:     log.Named("manager"),
		bots:    make(map[int64]*Bot),
	}, nil
}

// Run reconciles persisted statuses, then serves control messages until the
// context is cancelled. On exit every running bot is stopped.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.reconcile(ctx); err != nil {
		return err
	}

	messages, err := m.control.Subscribe(ctx)
	if err != nil {
		return err
	}

	m.log.Info("manager serving control messages")

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			m.wg.Wait()

			return nil
		case msg, ok := <-messages:
			if !ok {
				m.stopAll()
				m.wg.Wait()

				return nil
			}

			m.handle(ctx, msg)
		}
	}
}

func (m *Manager) handle(ctx context.Context, msg ControlMessage) {
	switch msg.Action {
	case ActionLaunch:
		m.log.Info("launch request", zap.Int64("bot_id", msg.BotID))

		if err := m.StartBot(ctx, msg.BotID); err != nil {
			m.log.Error("launch failed", zap.Int64("bot_id", msg.BotID), zap.Error(err))
		}
	case ActionStop:
		m.log.Info("stop request", zap.Int64("bot_id", msg.BotID))
		m.StopBot(ctx, msg.BotID)
	default:
		m.log.Warn("unknown control action", zap.String("action", string(msg.Action)))
	}
}

// reconcile brings persisted intent and reality back together after a
// manager restart: rows still marked running, or queued while the manager
// was down, are launched; stale stop requests are normalized to stopped.
func (m *Manager) reconcile(ctx context.Context) error {
	rows, err := m.store.ListByStatus(ctx,
		types.BotStatusRunning, types.BotStatusToBeLaunched, types.BotStatusToBeStopped)
	if err != nil {
		return err
	}

	launched := 0

	for _, row := range rows {
		switch row.Status {
		case types.BotStatusRunning, types.BotStatusToBeLaunched:
			if err := m.StartBot(ctx, row.ID); err != nil {
				m.log.Error("failed to re-attach bot", zap.Int64("bot_id", row.ID), zap.Error(err))
				continue
			}

			launched++
		case types.BotStatusToBeStopped:
			if err := m.store.UpdateStatus(ctx, row.ID, types.BotStatusStopped); err != nil {
				m.log.Error("failed to normalize stale stop", zap.Int64("bot_id", row.ID), zap.Error(err))
			}
		}
	}

	m.log.Info("reconciliation complete",
		zap.Int("rows", len(rows)),
		zap.Int("launched", launched))

	return nil
}

// StartBot hydrates the bot from its persisted row and launches it with a
// watcher. Starting an already-running bot is a no-op.
func (m *Manager) StartBot(ctx context.Context, id int64) error {
	m.mu.Lock()

	if existing, ok := m.bots[id]; ok && existing.Status() == types.BotStatusRunning {
		m.mu.Unlock()

		m.log.Info("bot already running", zap.Int64("bot_id", id))

		return nil
	}

	m.mu.Unlock()

	row, err := m.store.FetchBot(ctx, id)
	if err != nil {
		return err
	}

	// Refuse launch when the instrument cannot be traded with known steps.
	specs, err := m.venue.Instrument(ctx, row.Config.Symbol)
	if err != nil || !specs.Valid() {
		if statusErr := m.store.UpdateStatus(ctx, id, types.BotStatusError); statusErr != nil {
			m.log.Error("failed to persist error status", zap.Int64("bot_id", id), zap.Error(statusErr))
		}

		if err == nil {
			err = errors.Newf(errors.ErrCodeInstrumentSpecs, "unusable instrument specs for %s", row.Config.Symbol)
		}

		return err
	}

	b, err := NewBot(id, row.Config, m.venue, m.history, m.store, m.log)
	if err != nil {
		return err
	}

	if err := b.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.bots[id] = b
	m.mu.Unlock()

	if err := m.store.UpdateStatus(ctx, id, types.BotStatusRunning); err != nil {
		m.log.Error("failed to persist running status", zap.Int64("bot_id", id), zap.Error(err))
	}

	m.wg.Add(1)
	go m.watch(id, b)

	return nil
}

// StopBot stops a registered bot, or — for a bot this manager does not hold,
// say after a crash — still patches the status row and dispatches an
// emergency flatten from the persisted config so the stop request never
// strands a position.
func (m *Manager) StopBot(ctx context.Context, id int64) {
	m.mu.Lock()
	b, ok := m.bots[id]
	m.mu.Unlock()

	if !ok {
		m.log.Warn("stop request for unknown bot", zap.Int64("bot_id", id))

		if row, err := m.store.FetchBot(ctx, id); err == nil {
			go m.emergencyFlatten(id, row.Config)
		}

		if err := m.store.UpdateStatus(ctx, id, types.BotStatusStopped); err != nil {
			m.log.Error("failed to patch status for unknown bot", zap.Int64("bot_id", id), zap.Error(err))
		}

		return
	}

	b.Stop()

	if err := m.store.UpdateStatus(ctx, id, types.BotStatusStopped); err != nil {
		m.log.Error("failed to persist stopped status", zap.Int64("bot_id", id), zap.Error(err))
	}

	m.remove(id, "stop completed")
}

// watch blocks until the bot's goroutine exits, persists the terminal
// status, and purges the registry entry so the id can be relaunched.
func (m *Manager) watch(id int64, b *Bot) {
	defer m.wg.Done()

	<-b.Done()

	final := b.Status()

	status := types.BotStatusStopped
	if final == types.BotStatusError {
		status = types.BotStatusError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.store.UpdateStatus(ctx, id, status); err != nil {
		m.log.Error("failed to persist terminal status", zap.Int64("bot_id", id), zap.Error(err))
	}

	if status == types.BotStatusError {
		m.log.Error("bot crashed", zap.Int64("bot_id", id))
	} else {
		m.log.Info("bot exited cleanly", zap.Int64("bot_id", id))
	}

	m.remove(id, "run ended")
}

// emergencyFlatten closes out a bot this manager never hosted, using only
// its persisted config.
func (m *Manager) emergencyFlatten(id int64, cfg types.BotConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.log.Info("emergency flatten for unattached bot",
		zap.Int64("bot_id", id),
		zap.String("symbol", cfg.Symbol))

	if err := m.venue.CancelAllOrders(ctx, cfg.Symbol); err != nil {
		m.log.Error("emergency cancel-all failed", zap.Int64("bot_id", id), zap.Error(err))
	}

	if err := m.venue.Flatten(ctx, cfg.Symbol); err != nil {
		m.log.Error("emergency flatten failed", zap.Int64("bot_id", id), zap.Error(err))
	}
}

func (m *Manager) remove(id int64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bots[id]; ok {
		delete(m.bots, id)
		m.log.Info("bot removed from registry",
			zap.Int64("bot_id", id),
			zap.String("reason", reason))
	}
}

// Running lists the ids currently held in the registry.
func (m *Manager) Running() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int64, 0, len(m.bots))
	for id := range m.bots {
		out = append(out, id)
	}

	return out
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))

	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()

	for _, b := range bots {
		b.Stop()
	}
}
