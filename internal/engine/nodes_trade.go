package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/ledger"
	"github.com/pvelab/graphtrader/internal/types"
)

// createOrder books a market or limit order when its trigger wire fires.
//
// Inputs: 0 trigger, 1 direction (true=buy), 2 limit flag, 3 limit price,
// 4 quantity. Outputs: ID (local id, or remote id once a live placement is
// acknowledged) and an Exec wire that fires only on the creation bar. On
// quiet bars the node keeps republishing the id of its most recent order so
// downstream lookups stay wired.
type createOrder struct {
	BaseNode
	lastID string
}

func newCreateOrder(spec *graph.NodeSpec) Node {
	return &createOrder{BaseNode: newBase(spec)}
}

func (n *createOrder) Execute(ctx context.Context, s *Session, row types.MarketData) error {
	if !IsGo(n.Input(0)) {
		if n.lastID != "" {
			n.Emit("ID", n.lastID)
		}

		n.Emit("Exec", nil)

		return nil
	}

	dir, dok := AsBool(n.Input(1))
	limit, lok := AsBool(n.Input(2))
	qty, qok := n.InputFloat(4)

	if !dok || !lok || !qok {
		s.log.Error("order node missing inputs", zap.Int("node", n.ID()))
		n.Emit("ID", nil)
		n.Emit("Exec", nil)

		return nil
	}

	params := ledger.NewOrderParams{
		Side:     sideFromDirection(dir),
		Kind:     types.OrderKindMarket,
		Quantity: qty,
		Bar:      row,
	}

	if limit {
		price, pok := n.InputFloat(3)
		if !pok {
			s.log.Error("limit order without price", zap.Int("node", n.ID()))
			n.Emit("ID", nil)
			n.Emit("Exec", nil)

			return nil
		}

		params.Kind = types.OrderKindLimit
		params.Price = price
	}

	order, err := s.ledger.Create(params)
	if err != nil {
		s.log.Error("order rejected", zap.Int("node", n.ID()), zap.Error(err))
		n.Emit("ID", nil)
		n.Emit("Exec", nil)

		return nil
	}

	n.lastID = order.LocalID

	if s.mode == ModeLive {
		remoteID, err := s.broker.PlaceOrder(ctx, order)
		if err != nil {
			s.ledger.MarkError(order.LocalID)
			s.log.Error("live order placement failed",
				zap.Int("node", n.ID()),
				zap.String("id", order.LocalID),
				zap.Error(err))
			n.Emit("ID", nil)
			n.Emit("Exec", nil)

			return nil
		}

		s.ledger.SetRemote(order.LocalID, remoteID)
		n.Emit("ID", remoteID)
		n.Emit("Exec", Go)

		return nil
	}

	n.Emit("ID", order.LocalID)
	n.Emit("Exec", Go)

	return nil
}

// createConditionalOrder books a stop-market order that fires once price
// crosses its trigger level.
//
// Inputs: 0 trigger, 1 direction, 2 trigger price, 3 quantity.
type createConditionalOrder struct {
	BaseNode
	lastID string
}

func newCreateConditionalOrder(spec *graph.NodeSpec) Node {
	return &createConditionalOrder{BaseNode: newBase(spec)}
}

func (n *createConditionalOrder) Execute(ctx context.Context, s *Session, row types.MarketData) error {
	if !IsGo(n.Input(0)) {
		if n.lastID != "" {
			n.Emit("ID", n.lastID)
		}

		n.Emit("Exec", nil)

		return nil
	}

	dir, dok := AsBool(n.Input(1))
	trigger, tok := n.InputFloat(2)
	qty, qok := n.InputFloat(3)

	if !dok || !tok || !qok {
		s.log.Error("conditional order node missing inputs", zap.Int("node", n.ID()))
		n.Emit("ID", nil)
		n.Emit("Exec", nil)

		return nil
	}

	order, err := s.ledger.Create(ledger.NewOrderParams{
		Side:         sideFromDirection(dir),
		Kind:         types.OrderKindConditional,
		TriggerPrice: trigger,
		Quantity:     qty,
		Bar:          row,
	})
	if err != nil {
		s.log.Error("conditional order rejected", zap.Int("node", n.ID()), zap.Error(err))
		n.Emit("ID", nil)
		n.Emit("Exec", nil)

		return nil
	}

	n.lastID = order.LocalID

	if s.mode == ModeLive {
		remoteID, err := s.broker.PlaceOrder(ctx, order)
		if err != nil {
			s.ledger.MarkError(order.LocalID)
			s.log.Error("live conditional placement failed",
				zap.Int("node", n.ID()),
				zap.String("id", order.LocalID),
				zap.Error(err))
			n.Emit("ID", nil)
			n.Emit("Exec", nil)

			return nil
		}

		s.ledger.SetRemote(order.LocalID, remoteID)
		n.Emit("ID", remoteID)
		n.Emit("Exec", Go)

		return nil
	}

	n.Emit("ID", order.LocalID)
	n.Emit("Exec", Go)

	return nil
}

// cancelOrder cancels one open order by id. Inputs: 0 trigger, 1 order id.
type cancelOrder struct {
	BaseNode
}

func newCancelOrder(spec *graph.NodeSpec) Node {
	return &cancelOrder{BaseNode: newBase(spec)}
}

func (n *cancelOrder) Execute(ctx context.Context, s *Session, _ types.MarketData) error {
	id, iok := AsString(n.Input(1))
	if !IsGo(n.Input(0)) || !iok || id == "" {
		n.Emit("Exec", nil)

		return nil
	}

	order, err := s.ledger.Get(id).Take()
	if err != nil || order.Status != types.OrderStatusOpen {
		n.Emit("Exec", nil)

		return nil
	}

	if s.mode == ModeLive {
		if err := s.broker.CancelOrder(ctx, order); err != nil {
			s.ledger.MarkError(order.LocalID)
			s.log.Error("live cancel failed",
				zap.Int("node", n.ID()),
				zap.String("id", order.LocalID),
				zap.Error(err))
			n.Emit("Exec", nil)

			return nil
		}
	}

	if err := s.ledger.Cancel(order.LocalID); err != nil {
		n.Emit("Exec", nil)

		return nil
	}

	n.Emit("Exec", Go)

	return nil
}

// cancelAllOrders flushes every open order. In live mode the remote cancel
// goes first; local state is cleared regardless of the remote outcome so the
// book never disagrees with what the strategy asked for.
type cancelAllOrders struct {
	BaseNode
}

func newCancelAllOrders(spec *graph.NodeSpec) Node {
	return &cancelAllOrders{BaseNode: newBase(spec)}
}

func (n *cancelAllOrders) Execute(ctx context.Context, s *Session, _ types.MarketData) error {
	if !IsGo(n.Input(0)) {
		n.Emit("Exec", nil)

		return nil
	}

	open := s.ledger.OpenOrders()

	if s.mode == ModeLive && len(open) > 0 {
		if err := s.broker.CancelAllOrders(ctx, s.ledger.Symbol()); err != nil {
			s.log.Warn("remote cancel-all failed",
				zap.Int("node", n.ID()),
				zap.Error(err))
		}
	}

	s.ledger.CancelAllOpen()
	n.Emit("Exec", Go)

	return nil
}

// modifyOrder amends price and/or quantity of an open order. A no-op change
// still reports success. Inputs: 0 trigger, 1 order id, 2 new price, 3 new
// quantity.
type modifyOrder struct {
	BaseNode
}

func newModifyOrder(spec *graph.NodeSpec) Node {
	return &modifyOrder{BaseNode: newBase(spec)}
}

func (n *modifyOrder) Execute(ctx context.Context, s *Session, row types.MarketData) error {
	id, iok := AsString(n.Input(1))
	if !IsGo(n.Input(0)) || !iok || id == "" {
		n.Emit("Exec", nil)

		return nil
	}

	order, err := s.ledger.Get(id).Take()
	if err != nil || order.Status != types.OrderStatusOpen {
		n.Emit("Exec", nil)

		return nil
	}

	price, _ := n.InputFloat(2)
	qty, _ := n.InputFloat(3)

	if s.mode == ModeLive && (price != order.Price || qty != order.Quantity) {
		if err := s.broker.AmendOrder(ctx, order, price, qty); err != nil {
			s.ledger.MarkError(order.LocalID)
			s.log.Error("live amend failed",
				zap.Int("node", n.ID()),
				zap.String("id", order.LocalID),
				zap.Error(err))
			n.Emit("Exec", nil)

			return nil
		}
	}

	if _, err := s.ledger.Amend(order.LocalID, price, qty, 0, row.Time); err != nil {
		n.Emit("Exec", nil)

		return nil
	}

	n.Emit("ID", order.LocalID)
	n.Emit("Exec", Go)

	return nil
}

// getOrder inspects one order by id. Outputs: ID, Price, Quantity, Created
// (minutes since creation), Executed? (fills on this very bar) and Open?.
type getOrder struct {
	BaseNode
}

func newGetOrder(spec *graph.NodeSpec) Node {
	return &getOrder{BaseNode: newBase(spec)}
}

func (n *getOrder) Execute(_ context.Context, s *Session, row types.MarketData) error {
	id, iok := AsString(n.Input(0))
	if !iok || id == "" {
		n.emitEmpty()

		return nil
	}

	order, err := s.ledger.Get(id).Take()
	if err != nil {
		n.emitEmpty()

		return nil
	}

	n.Emit("ID", order.LocalID)
	n.Emit("Price", order.Price)
	n.Emit("Quantity", order.Quantity)
	n.Emit("Created", row.Time.Sub(order.CreatedAt).Minutes())
	n.Emit("Executed?", order.Status == types.OrderStatusExecuted && order.ExecutedAt.Equal(row.Time))
	n.Emit("Open?", order.Status == types.OrderStatusOpen)

	return nil
}

func (n *getOrder) emitEmpty() {
	for _, name := range []string{"ID", "Price", "Quantity", "Created", "Executed?", "Open?"} {
		n.Emit(name, nil)
	}
}

// getLastOrder exposes the most recently created order, whatever its state.
type getLastOrder struct {
	BaseNode
}

func newGetLastOrder(spec *graph.NodeSpec) Node {
	return &getLastOrder{BaseNode: newBase(spec)}
}

func (n *getLastOrder) Execute(_ context.Context, s *Session, _ types.MarketData) error {
	order, err := s.ledger.Last().Take()
	if err != nil {
		for _, name := range []string{"ID", "Long/Short", "Normal/Conditional", "Cancelled"} {
			n.Emit(name, nil)
		}

		return nil
	}

	n.Emit("ID", order.LocalID)
	n.Emit("Long/Short", order.Side == types.SideBuy)
	n.Emit("Normal/Conditional", order.Kind == types.OrderKindLimit)
	n.Emit("Cancelled", order.Status == types.OrderStatusCancelled)

	return nil
}

// getPosition reports the current net position: weighted average price (nil
// when flat), signed quantity, and when the open run started. Live sessions
// ask the exchange instead of the local book.
type getPosition struct {
	BaseNode
}

func newGetPosition(spec *graph.NodeSpec) Node {
	return &getPosition{BaseNode: newBase(spec)}
}

func (n *getPosition) Execute(ctx context.Context, s *Session, _ types.MarketData) error {
	var pos types.Position

	if s.mode == ModeLive {
		fetched, err := s.broker.FetchPosition(ctx, s.ledger.Symbol())
		if err != nil {
			s.log.Error("position fetch failed", zap.Int("node", n.ID()), zap.Error(err))
			n.Emit("Price", nil)
			n.Emit("Quantity", nil)
			n.Emit("Created", nil)

			return nil
		}

		pos = fetched
	} else {
		pos = s.ledger.Position()
	}

	if pos.IsFlat() {
		n.Emit("Price", nil)
		n.Emit("Quantity", 0.0)
		n.Emit("Created", nil)

		return nil
	}

	n.Emit("Price", pos.AveragePrice.InexactFloat64())
	n.Emit("Quantity", pos.Quantity.InexactFloat64())
	n.Emit("Created", pos.OpenedAt)

	return nil
}

// sendMessage pushes a text message to the configured notifier when its
// trigger fires. Inputs: 0 trigger, 1 message, 2 chat id.
type sendMessage struct {
	BaseNode
}

func newSendMessage(spec *graph.NodeSpec) Node {
	return &sendMessage{BaseNode: newBase(spec)}
}

func (n *sendMessage) Execute(ctx context.Context, s *Session, _ types.MarketData) error {
	if n.Input(0) == nil {
		n.Emit("Exec", nil)

		return nil
	}

	text, tok := AsString(n.Input(1))
	chatID, cok := AsString(n.Input(2))

	if !tok || !cok || s.notifier == nil {
		n.Emit("Exec", nil)

		return nil
	}

	if err := s.notifier.Send(ctx, chatID, text); err != nil {
		s.log.Error("message delivery failed", zap.Int("node", n.ID()), zap.Error(err))
		n.Emit("Exec", nil)

		return nil
	}

	n.Emit("Exec", true)

	return nil
}

func sideFromDirection(buy bool) types.Side {
	if buy {
		return types.SideBuy
	}

	return types.SideSell
}
