// Package ledger keeps the per-session order book: an append-only order
// list, bar-driven trigger evaluation, and FIFO position reconstruction.
package ledger

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Ledger is owned by exactly one engine session and is never shared across
// bots. All mutation happens on the owning session's goroutine.
type Ledger struct {
	symbol string
	specs  types.InstrumentSpecs
	orders []*types.Order
	seq    int
	log    *logger.Logger
}

// New creates an empty ledger for one symbol. The instrument specs must be
// valid: a ledger must not snap against unknown steps.
func New(symbol string, specs types.InstrumentSpecs, log *logger.Logger) (*Ledger, error) {
	if !specs.Valid() {
		return nil, errors.Newf(errors.ErrCodeInstrumentSpecs,
			"instrument specs missing for %s", symbol)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Ledger{
		symbol: symbol,
		specs:  specs,
		log:    log,
	}, nil
}

// Symbol returns the ledger's instrument symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Specs returns the instrument filters used for snapping.
func (l *Ledger) Specs() types.InstrumentSpecs { return l.specs }

// nextLocalID issues monotonically increasing local ids of the form
// local_<seq>_<unix-ms>.
func (l *Ledger) nextLocalID(now time.Time) string {
	id := fmt.Sprintf("local_%d_%d", l.seq, now.UnixMilli())
	l.seq++

	return id
}

// NewOrderParams carries everything a trade node supplies when creating an
// order. Price and quantity are snapped to the instrument filters before
// storage.
type NewOrderParams struct {
	Side         types.Side
	Kind         types.OrderKind
	Price        float64
	TriggerPrice float64
	Quantity     float64
	Bar          types.MarketData
}

// Create appends a new order. Market orders execute immediately at the bar's
// close; everything else stays open until a later bar satisfies its trigger.
func (l *Ledger) Create(p NewOrderParams) (*types.Order, error) {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}

	if qty == 0 {
		return nil, errors.New(errors.ErrCodeInvalidQuantity, "order quantity must be positive")
	}

	order := &types.Order{
		LocalID:   l.nextLocalID(p.Bar.Time),
		Symbol:    l.symbol,
		Side:      p.Side,
		Kind:      p.Kind,
		Quantity:  l.specs.AdjustQuantity(qty),
		Status:    types.OrderStatusOpen,
		CreatedAt: p.Bar.Time,
	}

	switch p.Kind {
	case types.OrderKindMarket:
		order.Price = l.specs.AdjustPrice(p.Bar.Close)
		order.Status = types.OrderStatusExecuted
		order.ExecutedAt = p.Bar.Time
	case types.OrderKindLimit:
		order.Price = l.specs.AdjustPrice(p.Price)
	case types.OrderKindConditional:
		order.TriggerPrice = l.specs.AdjustPrice(p.TriggerPrice)
		if p.Side == types.SideBuy {
			order.TriggerDir = types.TriggerRise
		} else {
			order.TriggerDir = types.TriggerFall
		}
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order kind %q", p.Kind)
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}

	l.orders = append(l.orders, order)
	l.log.Info("order created",
		zap.String("id", order.LocalID),
		zap.String("side", string(order.Side)),
		zap.String("kind", string(order.Kind)),
		zap.Float64("price", order.Price),
		zap.Float64("qty", order.Quantity))

	return order, nil
}

// UpdateOrders evaluates every open order against one bar. It runs exactly
// once per bar, before node execution.
//
// Rules: limit buys fill when the bar's low reaches the limit price, limit
// sells when the high reaches it. Conditional buys fire when the high crosses
// the trigger, conditional sells when the low does; a conditional without a
// trigger price fires immediately.
func (l *Ledger) UpdateOrders(bar types.MarketData) {
	for _, order := range l.orders {
		if order.Status != types.OrderStatusOpen {
			continue
		}

		switch order.Kind {
		case types.OrderKindMarket:
			// Market orders normally execute at creation; an open one can
			// only come from a live reconciliation and fills here.
			l.execute(order, bar.Time, "market order executed")
		case types.OrderKindLimit:
			if order.Side == types.SideBuy && bar.Low <= order.Price {
				l.execute(order, bar.Time, "limit buy executed")
			} else if order.Side == types.SideSell && bar.High >= order.Price {
				l.execute(order, bar.Time, "limit sell executed")
			}
		case types.OrderKindConditional:
			if order.TriggerPrice == 0 {
				l.execute(order, bar.Time, "conditional executed immediately")
			} else if order.Side == types.SideBuy && bar.High >= order.TriggerPrice {
				l.execute(order, bar.Time, "conditional buy triggered")
			} else if order.Side == types.SideSell && bar.Low <= order.TriggerPrice {
				l.execute(order, bar.Time, "conditional sell triggered")
			}
		}
	}
}

func (l *Ledger) execute(order *types.Order, at time.Time, msg string) {
	order.Status = types.OrderStatusExecuted
	if order.ExecutedAt.IsZero() {
		order.ExecutedAt = at
	}

	l.log.Info(msg,
		zap.String("id", order.LocalID),
		zap.String("symbol", l.symbol),
		zap.Float64("price", order.Price),
		zap.Float64("qty", order.Quantity),
		zap.Time("at", at))
}

// Cancel marks an open order cancelled. Cancelling a terminal order is an
// error.
func (l *Ledger) Cancel(localID string) error {
	order, ok := l.find(localID)
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", localID)
	}

	if order.Status != types.OrderStatusOpen {
		return errors.Newf(errors.ErrCodeOrderNotOpen, "order %s is %s", localID, order.Status)
	}

	order.Status = types.OrderStatusCancelled
	l.log.Info("order cancelled", zap.String("id", localID))

	return nil
}

// CancelAllOpen cancels every open order and returns how many were affected.
func (l *Ledger) CancelAllOpen() int {
	count := 0

	for _, order := range l.orders {
		if order.Status == types.OrderStatusOpen {
			order.Status = types.OrderStatusCancelled
			count++
		}
	}

	if count > 0 {
		l.log.Info("cancelled all open orders", zap.Int("count", count))
	}

	return count
}

// Amend applies price/quantity/trigger changes to an open order and records
// the amendment. Unchanged fields pass through as zero.
func (l *Ledger) Amend(localID string, newPrice, newQty, newTrigger float64, at time.Time) (*types.Order, error) {
	order, ok := l.find(localID)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", localID)
	}

	if order.Status != types.OrderStatusOpen {
		return nil, errors.Newf(errors.ErrCodeOrderNotOpen, "order %s is %s", localID, order.Status)
	}

	amendment := types.Amendment{
		Time:        at,
		OldPrice:    order.Price,
		OldQuantity: order.Quantity,
		OldTrigger:  order.TriggerPrice,
	}

	if newPrice > 0 && newPrice != order.Price {
		order.Price = l.specs.AdjustPrice(newPrice)
		amendment.PriceChanged = true
	}

	if newQty > 0 && newQty != order.Quantity {
		order.Quantity = l.specs.AdjustQuantity(newQty)
		amendment.QtyChanged = true
	}

	if newTrigger > 0 && newTrigger != order.TriggerPrice {
		order.TriggerPrice = l.specs.AdjustPrice(newTrigger)
		amendment.TrigChanged = true
	}

	if !amendment.PriceChanged && !amendment.QtyChanged && !amendment.TrigChanged {
		return order, nil
	}

	amendment.NewPrice = order.Price
	amendment.NewQuantity = order.Quantity
	amendment.NewTrigger = order.TriggerPrice
	order.Amendments = append(order.Amendments, amendment)

	l.log.Info("order amended",
		zap.String("id", localID),
		zap.Bool("price", amendment.PriceChanged),
		zap.Bool("qty", amendment.QtyChanged),
		zap.Bool("trigger", amendment.TrigChanged))

	return order, nil
}

// SetRemote attaches the exchange order id once a live placement succeeds.
func (l *Ledger) SetRemote(localID, remoteID string) {
	if order, ok := l.find(localID); ok {
		order.RemoteID = remoteID
	}
}

// MarkError moves an order to the error state (exchange rejection).
func (l *Ledger) MarkError(localID string) {
	if order, ok := l.find(localID); ok {
		order.Status = types.OrderStatusError
	}
}

func (l *Ledger) find(localID string) (*types.Order, bool) {
	for _, order := range l.orders {
		if order.LocalID == localID || order.RemoteID == localID {
			return order, true
		}
	}

	return nil, false
}

// Get returns the order with the given local (or remote) id.
func (l *Ledger) Get(id string) optional.Option[*types.Order] {
	if order, ok := l.find(id); ok {
		return optional.Some(order)
	}

	return optional.None[*types.Order]()
}

// Last returns the most recently created order.
func (l *Ledger) Last() optional.Option[*types.Order] {
	if len(l.orders) == 0 {
		return optional.None[*types.Order]()
	}

	return optional.Some(l.orders[len(l.orders)-1])
}

// Orders returns a snapshot copy of every order in creation sequence.
func (l *Ledger) Orders() []types.Order {
	out := make([]types.Order, len(l.orders))
	for i, order := range l.orders {
		out[i] = *order
	}

	return out
}

// OpenOrders returns the currently open orders.
func (l *Ledger) OpenOrders() []*types.Order {
	var open []*types.Order

	for _, order := range l.orders {
		if order.Status == types.OrderStatusOpen {
			open = append(open, order)
		}
	}

	return open
}

// OrdersSince returns orders created strictly after t.
func (l *Ledger) OrdersSince(t time.Time) []types.Order {
	var out []types.Order

	for _, order := range l.orders {
		if order.CreatedAt.After(t) {
			out = append(out, *order)
		}
	}

	return out
}

// Reset drops all orders and restarts the id sequence. Used when switching a
// warmed-up session from backtest to live so historical synthetic orders do
// not leak into live reconciliation.
func (l *Ledger) Reset() {
	l.orders = nil
	l.seq = 0
}
