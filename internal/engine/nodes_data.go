package engine

import (
	"context"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/types"
)

// candleField exposes one OHLCV field of the current row under the matching
// output name.
type candleField struct {
	BaseNode
	field string
}

func newCandleField(field string) constructor {
	return func(spec *graph.NodeSpec) Node {
		return &candleField{BaseNode: newBase(spec), field: field}
	}
}

func (n *candleField) Execute(_ context.Context, _ *Session, row types.MarketData) error {
	var v float64

	switch n.field {
	case "open":
		v = row.Open
	case "close":
		v = row.Close
	case "high":
		v = row.High
	case "low":
		v = row.Low
	case "volume":
		v = row.Volume
	}

	n.Emit(n.field, v)

	return nil
}

// constantValue emits a static property as a typed constant every row.
type constantValue struct {
	BaseNode
	output string
	value  Value
}

func newConstant(spec *graph.NodeSpec, output string, value Value) Node {
	return &constantValue{BaseNode: newBase(spec), output: output, value: value}
}

func newSetFloat(spec *graph.NodeSpec) Node {
	v, ok := spec.FloatProperty("value")
	if !ok {
		v = 1.0
	}

	return newConstant(spec, "Float", v)
}

func newSetInteger(spec *graph.NodeSpec) Node {
	v, ok := spec.FloatProperty("value")
	if !ok {
		v = 1
	}

	return newConstant(spec, "Integer", int(v))
}

func newSetString(spec *graph.NodeSpec) Node {
	v, _ := spec.StringProperty("value")

	return newConstant(spec, "String", v)
}

func newSetBool(spec *graph.NodeSpec) Node {
	v := false
	if raw, ok := spec.Properties["value"]; ok {
		if b, bok := raw.(bool); bok {
			v = b
		}
	}

	return newConstant(spec, "Bool", v)
}

func (n *constantValue) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	n.Emit(n.output, n.value)

	return nil
}

// isNone tests the nil sentinel, turning "no value yet" into a usable
// condition.
type isNone struct {
	BaseNode
}

func newIsNone(spec *graph.NodeSpec) Node {
	return &isNone{BaseNode: newBase(spec)}
}

func (n *isNone) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	n.Emit("None?", n.Input(0) == nil)

	return nil
}
