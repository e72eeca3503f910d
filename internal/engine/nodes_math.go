package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/types"
)

// binaryFloat covers the four arithmetic nodes. A nil operand or a division
// by zero yields nil rather than an error.
type binaryFloat struct {
	BaseNode
	op string
}

func newBinaryFloat(op string) constructor {
	return func(spec *graph.NodeSpec) Node {
		return &binaryFloat{BaseNode: newBase(spec), op: op}
	}
}

func (n *binaryFloat) Execute(_ context.Context, s *Session, _ types.MarketData) error {
	a, aok := n.InputFloat(0)
	b, bok := n.InputFloat(1)

	if !aok || !bok {
		n.Emit("Float", nil)

		return nil
	}

	switch n.op {
	case "add":
		n.Emit("Float", a+b)
	case "subtract":
		n.Emit("Float", a-b)
	case "multiply":
		n.Emit("Float", a*b)
	case "divide":
		if b == 0 {
			s.log.Warn("division by zero", zap.Int("node", n.ID()))
			n.Emit("Float", nil)

			return nil
		}

		n.Emit("Float", a/b)
	}

	return nil
}

// clipFloat bounds input slot 2 to [min, max] taken from slots 0 and 1.
// Swapped bounds are tolerated.
type clipFloat struct {
	BaseNode
}

func newClipFloat(spec *graph.NodeSpec) Node {
	return &clipFloat{BaseNode: newBase(spec)}
}

func (n *clipFloat) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	lo, lok := n.InputFloat(0)
	hi, hok := n.InputFloat(1)
	v, vok := n.InputFloat(2)

	if !lok || !hok || !vok {
		n.Emit("Float", nil)

		return nil
	}

	if lo > hi {
		lo, hi = hi, lo
	}

	switch {
	case v < lo:
		v = lo
	case v > hi:
		v = hi
	}

	n.Emit("Float", v)

	return nil
}

// rollingExtreme is the lowest/highest pair: the min or max over the last
// window values. Until the window fills it reports the extreme of whatever
// has been seen so far. The window comes from input slot 1 and is latched on
// first resolution.
type rollingExtreme struct {
	BaseNode
	lowest bool
	window *int
	values []float64
}

func newRollingExtreme(lowest bool) constructor {
	return func(spec *graph.NodeSpec) Node {
		return &rollingExtreme{BaseNode: newBase(spec), lowest: lowest}
	}
}

func (n *rollingExtreme) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	if n.window == nil {
		if w, ok := n.InputFloat(1); ok && w >= 1 {
			wi := int(w)
			n.window = &wi
		}
	}

	v, vok := n.InputFloat(0)
	if !vok || n.window == nil {
		n.Emit("Float", nil)

		return nil
	}

	n.values = append(n.values, v)
	if len(n.values) > *n.window {
		n.values = n.values[1:]
	}

	extreme := n.values[0]
	for _, x := range n.values[1:] {
		if (n.lowest && x < extreme) || (!n.lowest && x > extreme) {
			extreme = x
		}
	}

	n.Emit("Float", extreme)

	return nil
}
