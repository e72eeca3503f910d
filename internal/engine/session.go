package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/ledger"
	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Mode selects whether trade nodes only book orders locally or also mirror
// them to the exchange.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Broker is the slice of an exchange client the trade nodes call in live
// mode. Implementations are expected to retry transient failures themselves
// and return a typed error when an operation is rejected outright.
type Broker interface {
	PlaceOrder(ctx context.Context, order *types.Order) (remoteID string, err error)
	AmendOrder(ctx context.Context, order *types.Order, price, qty float64) error
	CancelOrder(ctx context.Context, order *types.Order) error
	CancelAllOrders(ctx context.Context, symbol string) error
	FetchPosition(ctx context.Context, symbol string) (types.Position, error)
}

// Notifier delivers strategy-generated messages to a user channel.
type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
}

// wire is one resolved link: pull the named output of origin into a slot of
// the owning node.
type wire struct {
	slot   int
	origin int
	output string
}

// Session holds everything one strategy run needs: node instances with their
// private memory, the resolved wiring, and the order ledger. The same
// session replays history in bulk and then continues incrementally; node
// state carries over, so the two modes produce identical values.
//
// A session is confined to a single goroutine.
type Session struct {
	plan     *graph.Plan
	nodes    map[int]Node
	wires    map[int][]wire
	ledger   *ledger.Ledger
	mode     Mode
	broker   Broker
	notifier Notifier
	log      *logger.Logger
	rows     []types.MarketData
}

// Config wires a session together. Graph, Plan and Ledger are required;
// Broker is required in live mode.
type Config struct {
	Graph    *graph.Graph
	Plan     *graph.Plan
	Ledger   *ledger.Ledger
	Mode     Mode
	Broker   Broker
	Notifier Notifier
	Logger   *logger.Logger
}

// NewSession instantiates every node in the plan and resolves the links into
// direct slot wires.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Graph == nil || cfg.Plan == nil {
		return nil, errors.New(errors.ErrCodeInvalidGraph, "session requires a compiled graph")
	}

	if cfg.Ledger == nil {
		return nil, errors.New(errors.ErrCodeInvalidOrder, "session requires a ledger")
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeBacktest
	}

	if cfg.Mode == ModeLive && cfg.Broker == nil {
		return nil, errors.New(errors.ErrCodeExchangeClient, "live session requires a broker")
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	s := &Session{
		plan:     cfg.Plan,
		nodes:    make(map[int]Node, len(cfg.Graph.Nodes)),
		wires:    make(map[int][]wire),
		ledger:   cfg.Ledger,
		mode:     cfg.Mode,
		broker:   cfg.Broker,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
	}

	for i := range cfg.Graph.Nodes {
		spec := &cfg.Graph.Nodes[i]

		build, ok := nodeConstructors[spec.Type]
		if !ok {
			return nil, errors.Newf(errors.ErrCodeUnknownNodeType,
				"unknown node type %q (node %d)", spec.Type, spec.ID)
		}

		s.nodes[spec.ID] = build(spec)
	}

	for _, link := range cfg.Graph.Links {
		origin := cfg.Graph.Node(link.Origin)
		if origin == nil || s.nodes[link.Target] == nil {
			continue
		}

		if link.OriginSlot < 0 || link.OriginSlot >= len(origin.Outputs) {
			return nil, errors.Newf(errors.ErrCodeInvalidLink,
				"link %d references output slot %d of node %d", link.ID, link.OriginSlot, link.Origin)
		}

		s.wires[link.Target] = append(s.wires[link.Target], wire{
			slot:   link.TargetSlot,
			origin: link.Origin,
			output: origin.Outputs[link.OriginSlot].Name,
		})
	}

	return s, nil
}

// Step processes one bar: open orders are settled against the bar first,
// then every node runs in plan order with its inputs pulled from upstream
// outputs.
func (s *Session) Step(ctx context.Context, row types.MarketData) error {
	s.ledger.UpdateOrders(row)

	for _, id := range s.plan.Order {
		node := s.nodes[id]

		for _, w := range s.wires[id] {
			node.SetInput(w.slot, s.nodes[w.origin].Output(w.output))
		}

		if err := node.Execute(ctx, s, row); err != nil {
			s.log.Error("node execution failed",
				zap.Int("node", id),
				zap.Time("bar", row.Time),
				zap.Error(err))

			return err
		}
	}

	s.rows = append(s.rows, row)

	return nil
}

// RunBulk replays a window of history through Step. Because each bar goes
// through the exact same code path as an incremental Step, a bulk pass
// followed by live stepping behaves like one continuous series.
func (s *Session) RunBulk(ctx context.Context, rows []types.MarketData) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeEngineAborted, "bulk run cancelled", err)
		}

		if err := s.Step(ctx, row); err != nil {
			return err
		}
	}

	return nil
}

// Ledger exposes the session's order book.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Mode reports whether the session mirrors orders to the exchange.
func (s *Session) Mode() Mode { return s.mode }

// SwitchToLive flips a warmed-up session into live mode. Node memory and the
// execution order are untouched, so the next Step continues the same series
// with orders mirrored to the broker.
func (s *Session) SwitchToLive(broker Broker) error {
	if broker == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "live mode requires a broker")
	}

	s.mode = ModeLive
	s.broker = broker

	return nil
}

// Rows returns the bars processed so far.
func (s *Session) Rows() []types.MarketData { return s.rows }

// Column is one named output series aligned with the processed rows. Values
// holds nil where a series has no datum for the row.
type Column struct {
	Name   string
	Values []Value
}

// Result is the flattened outcome of a run: the processed rows, the overlay
// columns collected by tools nodes, and the final order book state.
type Result struct {
	Rows       []types.MarketData
	Indicators []Column
	Signals    []Column
	Orders     []types.Order
	Position   types.Position
}

type indicatorSource interface {
	indicatorColumn(rows []types.MarketData) Column
}

type signalSource interface {
	signalColumn(rows []types.MarketData) Column
}

// Result assembles the run output. Overlay columns appear in plan order so
// repeated runs serialize identically.
func (s *Session) Result() *Result {
	res := &Result{
		Rows:     s.rows,
		Orders:   s.ledger.Orders(),
		Position: s.ledger.Position(),
	}

	for _, id := range s.plan.Order {
		switch src := s.nodes[id].(type) {
		case indicatorSource:
			res.Indicators = append(res.Indicators, src.indicatorColumn(s.rows))
		case signalSource:
			res.Signals = append(res.Signals, src.signalColumn(s.rows))
		}
	}

	return res
}
