package engine

import (
	"context"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/types"
)

// latchedWindow resolves a window length from an input slot exactly once.
// The wired constant does not change mid-run, so the first resolved value
// sticks for the life of the node.
type latchedWindow struct {
	window *int
}

func (w *latchedWindow) resolve(b *BaseNode, slot int) (int, bool) {
	if w.window == nil {
		if v, ok := b.InputFloat(slot); ok && v >= 1 {
			wi := int(v)
			w.window = &wi
		}
	}

	if w.window == nil {
		return 0, false
	}

	return *w.window, true
}

// maNode feeds input slot 0 into the moving-average calculator selected by
// the ma_type property. The window comes from input slot 1. Output is nil
// until the calculator warms up.
type maNode struct {
	BaseNode
	latchedWindow
	kind string
	calc *maCalc
}

func newMANode(spec *graph.NodeSpec) Node {
	kind := "ema"
	if s, ok := spec.StringProperty("ma_type"); ok {
		kind = s
	}

	return &maNode{BaseNode: newBase(spec), kind: kind}
}

func (n *maNode) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	window, wok := n.resolve(&n.BaseNode, 1)
	price, pok := n.InputFloat(0)

	if !wok || !pok {
		n.Emit("Float", nil)

		return nil
	}

	if n.calc == nil {
		n.calc = newMACalc(n.kind, window)
	}

	if v, ok := n.calc.Update(price); ok {
		n.Emit("Float", v)
	} else {
		n.Emit("Float", nil)
	}

	return nil
}

// rsiNode computes Wilder's RSI of input slot 0 over the window wired into
// slot 1.
type rsiNode struct {
	BaseNode
	latchedWindow
	calc *rsiCalc
}

func newRSINode(spec *graph.NodeSpec) Node {
	return &rsiNode{BaseNode: newBase(spec)}
}

func (n *rsiNode) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	window, wok := n.resolve(&n.BaseNode, 1)
	price, pok := n.InputFloat(0)

	if !wok || !pok {
		n.Emit("Float", nil)

		return nil
	}

	if n.calc == nil {
		n.calc = newRSICalc(window)
	}

	if v, ok := n.calc.Update(price); ok {
		n.Emit("Float", v)
	} else {
		n.Emit("Float", nil)
	}

	return nil
}

// supertrendNode takes high/low/close on slots 0..2 and the ATR window on
// slot 3. The band multiplier is a node property, 3.0 when unset.
type supertrendNode struct {
	BaseNode
	latchedWindow
	multiplier float64
	calc       *supertrendCalc
}

func newSupertrendNode(spec *graph.NodeSpec) Node {
	mult, ok := spec.FloatProperty("multiplier")
	if !ok {
		mult = 3.0
	}

	return &supertrendNode{BaseNode: newBase(spec), multiplier: mult}
}

func (n *supertrendNode) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	window, wok := n.resolve(&n.BaseNode, 3)
	high, hok := n.InputFloat(0)
	low, lok := n.InputFloat(1)
	close, cok := n.InputFloat(2)

	if !wok || !hok || !lok || !cok {
		n.Emit("Float", nil)

		return nil
	}

	if n.calc == nil {
		n.calc = newSupertrendCalc(window, n.multiplier)
	}

	if v, ok := n.calc.Update(high, low, close); ok {
		n.Emit("Float", v)
	} else {
		n.Emit("Float", nil)
	}

	return nil
}
