package engine

import (
	"context"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/types"
)

// Node is the runtime counterpart of one graph.NodeSpec. Execute is called
// once per row in plan order; implementations read inputs from their base,
// update private memory, and publish outputs by name.
//
// Execute returns an error only for conditions that must abort the whole
// run. Everything recoverable degrades to nil outputs instead.
type Node interface {
	ID() int
	SetInput(slot int, v Value)
	Output(name string) Value
	Execute(ctx context.Context, s *Session, row types.MarketData) error
}

// BaseNode carries the per-row input/output value caches every node shares.
// Inputs are keyed by slot index, outputs by slot name, mirroring how links
// address them.
type BaseNode struct {
	id      int
	props   map[string]any
	inputs  map[int]Value
	outputs map[string]Value
}

func newBase(spec *graph.NodeSpec) BaseNode {
	return BaseNode{
		id:      spec.ID,
		props:   spec.Properties,
		inputs:  make(map[int]Value),
		outputs: make(map[string]Value),
	}
}

// ID returns the node id from the graph document.
func (b *BaseNode) ID() int { return b.id }

// Input returns the value wired into a slot, nil when unresolved.
func (b *BaseNode) Input(slot int) Value { return b.inputs[slot] }

// InputFloat resolves a slot as float64.
func (b *BaseNode) InputFloat(slot int) (float64, bool) { return AsFloat(b.inputs[slot]) }

// SetInput stores a pulled value; called by the session before Execute.
func (b *BaseNode) SetInput(slot int, v Value) { b.inputs[slot] = v }

// Emit publishes an output value under its slot name.
func (b *BaseNode) Emit(name string, v Value) { b.outputs[name] = v }

// Output returns a published output by name, nil when absent.
func (b *BaseNode) Output(name string) Value { return b.outputs[name] }

// Prop reads a static property from the node spec.
func (b *BaseNode) Prop(key string) (any, bool) {
	v, ok := b.props[key]

	return v, ok
}

// FloatProp reads a numeric property.
func (b *BaseNode) FloatProp(key string) (float64, bool) {
	v, ok := b.props[key]
	if !ok {
		return 0, false
	}

	return AsFloat(v)
}

// StringProp reads a string property, falling back to def when absent.
func (b *BaseNode) StringProp(key, def string) string {
	if v, ok := b.props[key]; ok {
		if s, sok := v.(string); sok {
			return s
		}
	}

	return def
}
