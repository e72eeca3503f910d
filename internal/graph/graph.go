// Package graph parses the visual-editor strategy document and compiles it
// into a deterministic execution plan.
package graph

import (
	"encoding/json"
	"strings"

	"github.com/pvelab/graphtrader/pkg/errors"
)

// InputSlot is one named input of a node. An input accepts at most one link.
type InputSlot struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Link *int   `json:"link"`
}

// OutputSlot is one named output of a node. An output may fan out to many
// links.
type OutputSlot struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Links []int  `json:"links"`
}

// NodeSpec is the immutable description of one node as authored in the
// editor.
type NodeSpec struct {
	ID         int            `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Inputs     []InputSlot    `json:"inputs"`
	Outputs    []OutputSlot   `json:"outputs"`
}

// Link connects one producer output slot to one consumer input slot. On the
// wire it is a 6-tuple array: [id, origin, originSlot, target, targetSlot,
// payloadType].
type Link struct {
	ID          int
	Origin      int
	OriginSlot  int
	Target      int
	TargetSlot  int
	PayloadType string
}

// UnmarshalJSON decodes the 6-tuple array form.
func (l *Link) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidLink, "link is not an array", err)
	}

	if len(raw) != 6 {
		return errors.Newf(errors.ErrCodeInvalidLink, "link has %d elements, want 6", len(raw))
	}

	ints := []*int{&l.ID, &l.Origin, &l.OriginSlot, &l.Target, &l.TargetSlot}
	for i, dst := range ints {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidLink, err, "link element %d is not an integer", i)
		}
	}

	if err := json.Unmarshal(raw[5], &l.PayloadType); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidLink, "link payload type is not a string", err)
	}

	return nil
}

// Graph is the full node/link description of one strategy.
type Graph struct {
	Nodes []NodeSpec `json:"nodes"`
	Links []Link     `json:"links"`

	byID map[int]*NodeSpec
}

// Parse decodes a strategy document. Node types carry an editor namespace
// prefix ("custom/") which is stripped; nodes with no connected input or
// output are dropped, matching the editor's behavior of leaving orphaned
// nodes on the canvas.
func Parse(doc []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidGraph, "failed to decode graph document", err)
	}

	connected := make([]NodeSpec, 0, len(g.Nodes))

	for _, node := range g.Nodes {
		node.Type = strings.TrimPrefix(node.Type, "custom/")
		if nodeIsConnected(node) {
			connected = append(connected, node)
		}
	}

	g.Nodes = connected
	g.byID = make(map[int]*NodeSpec, len(g.Nodes))

	for i := range g.Nodes {
		g.byID[g.Nodes[i].ID] = &g.Nodes[i]
	}

	return &g, nil
}

func nodeIsConnected(node NodeSpec) bool {
	for _, out := range node.Outputs {
		if len(out.Links) > 0 {
			return true
		}
	}

	for _, in := range node.Inputs {
		if in.Link != nil {
			return true
		}
	}

	return false
}

// Node returns the spec for an id, or nil when absent.
func (g *Graph) Node(id int) *NodeSpec {
	return g.byID[id]
}

// FloatProperty reads a numeric property, accepting the JSON number and
// string encodings the editor produces.
func (n *NodeSpec) FloatProperty(key string) (float64, bool) {
	v, ok := n.Properties[key]
	if !ok {
		return 0, false
	}

	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}

	return 0, false
}

// StringProperty reads a string property.
func (n *NodeSpec) StringProperty(key string) (string, bool) {
	v, ok := n.Properties[key]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}
