package engine

import (
	"context"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/types"
)

// comparison is greater/smaller/equal over two inputs. Numeric inputs are
// compared as floats; equal falls back to direct comparison for strings.
type comparison struct {
	BaseNode
	op string
}

func newComparison(op string) constructor {
	return func(spec *graph.NodeSpec) Node {
		return &comparison{BaseNode: newBase(spec), op: op}
	}
}

func (n *comparison) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	a, b := n.Input(0), n.Input(1)
	if a == nil || b == nil {
		n.Emit("Bool", nil)

		return nil
	}

	af, aok := AsFloat(a)
	bf, bok := AsFloat(b)

	switch n.op {
	case "greater":
		if !aok || !bok {
			n.Emit("Bool", nil)

			return nil
		}

		n.Emit("Bool", af > bf)
	case "smaller":
		if !aok || !bok {
			n.Emit("Bool", nil)

			return nil
		}

		n.Emit("Bool", af < bf)
	case "equal":
		if aok && bok {
			n.Emit("Bool", af == bf)
		} else {
			n.Emit("Bool", a == b)
		}
	}

	return nil
}

// crossing detects the bar on which series A moves across series B. It needs
// the previous pair of values, so the first comparable bar is always false,
// and a nil input resets the memory.
type crossing struct {
	BaseNode
	over  bool
	lastA *float64
	lastB *float64
}

func newCrossing(over bool) constructor {
	return func(spec *graph.NodeSpec) Node {
		return &crossing{BaseNode: newBase(spec), over: over}
	}
}

func (n *crossing) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	a, aok := n.InputFloat(0)
	b, bok := n.InputFloat(1)

	if !aok || !bok {
		n.Emit("Condition", nil)
		n.lastA, n.lastB = nil, nil

		return nil
	}

	crossed := false
	if n.lastA != nil && n.lastB != nil {
		if n.over {
			crossed = *n.lastA < *n.lastB && a > b
		} else {
			crossed = *n.lastA > *n.lastB && a < b
		}
	}

	n.Emit("Condition", crossed)
	av, bv := a, b
	n.lastA, n.lastB = &av, &bv

	return nil
}

// boolGate is and/or/not over condition inputs.
type boolGate struct {
	BaseNode
	op string
}

func newBoolGate(op string) constructor {
	return func(spec *graph.NodeSpec) Node {
		return &boolGate{BaseNode: newBase(spec), op: op}
	}
}

func (n *boolGate) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	a, aok := AsBool(n.Input(0))

	if n.op == "not" {
		if n.Input(0) == nil || !aok {
			n.Emit("Bool", nil)

			return nil
		}

		n.Emit("Bool", !a)

		return nil
	}

	b, bok := AsBool(n.Input(1))
	if n.Input(0) == nil || n.Input(1) == nil || !aok || !bok {
		n.Emit("Bool", nil)

		return nil
	}

	if n.op == "and" {
		n.Emit("Bool", a && b)
	} else {
		n.Emit("Bool", a || b)
	}

	return nil
}

// ifGate converts a condition into a pair of execution wires: exactly one of
// True/False carries the trigger token, the other is nil. A nil condition
// fires neither.
type ifGate struct {
	BaseNode
}

func newIfGate(spec *graph.NodeSpec) Node {
	return &ifGate{BaseNode: newBase(spec)}
}

func (n *ifGate) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	cond := n.Input(0)
	if cond == nil {
		n.Emit("True", nil)
		n.Emit("False", nil)

		return nil
	}

	if Truthy(cond) {
		n.Emit("True", Go)
		n.Emit("False", nil)
	} else {
		n.Emit("True", nil)
		n.Emit("False", Go)
	}

	return nil
}
