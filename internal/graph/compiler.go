package graph

import (
	"sort"

	"github.com/pvelab/graphtrader/pkg/errors"
)

// Plan is a compiled graph: a total execution order consistent with every
// link, plus the inferred warm-up window. The order is deterministic for a
// given graph (ties broken by ascending node id).
type Plan struct {
	Order    []int
	Lookback int
}

// node types whose output depends on a rolling history window.
var windowedTypes = map[string]bool{
	"indicators/ma":          true,
	"indicators/rsi":         true,
	"indicators/super_trend": true,
	"math/lowest":            true,
	"math/highest":           true,
}

// property keys consulted, in priority order, when inferring a node's window.
var windowPropertyKeys = []string{"window", "windows", "length", "period"}

// Compile validates node types against known, orders the graph with Kahn's
// algorithm and infers the lookback. A cyclic graph is a fatal compile error:
// no partial plan is returned.
func Compile(g *Graph, known func(nodeType string) bool) (*Plan, error) {
	if known != nil {
		for i := range g.Nodes {
			if !known(g.Nodes[i].Type) {
				return nil, errors.Newf(errors.ErrCodeUnknownNodeType,
					"unknown node type %q (node %d)", g.Nodes[i].Type, g.Nodes[i].ID)
			}
		}
	}

	order, err := topologicalOrder(g)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Order:    order,
		Lookback: inferLookback(g),
	}, nil
}

func topologicalOrder(g *Graph) ([]int, error) {
	inDegree := make(map[int]int, len(g.Nodes))
	adjacency := make(map[int][]int, len(g.Nodes))

	for i := range g.Nodes {
		inDegree[g.Nodes[i].ID] = 0
	}

	for _, link := range g.Links {
		// Links touching dropped (disconnected or absent) nodes are ignored.
		if g.byID[link.Origin] == nil || g.byID[link.Target] == nil {
			continue
		}

		adjacency[link.Origin] = append(adjacency[link.Origin], link.Target)
		inDegree[link.Target]++
	}

	ready := make([]int, 0, len(g.Nodes))

	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sort.Ints(ready)

	order := make([]int, 0, len(g.Nodes))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]int, 0)

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				released = append(released, next)
			}
		}

		sort.Ints(released)
		ready = mergeSorted(ready, released)
	}

	if len(order) != len(g.Nodes) {
		return nil, errors.Newf(errors.ErrCodeCyclicGraph,
			"graph has a cycle: ordered %d of %d nodes", len(order), len(g.Nodes))
	}

	return order, nil
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}

	out = append(out, a[i:]...)
	out = append(out, b[j:]...)

	return out
}

// inferLookback statically determines how many leading bars the graph's
// windowed nodes need before their outputs are meaningful. The value is
// advisory: callers use it to size historical fetches, the engine does not
// enforce it.
//
// Heuristic chain per windowed node, first hit wins: a declared window
// property; an integer constant feeding input slot 1 (the editor wires MA
// windows that way); any numeric property greater than one; any connected
// integer constant greater than one. The maximum is additionally unioned
// with every set/integer literal in the graph, and floored at one.
func inferLookback(g *Graph) int {
	lookback := 1

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if !windowedTypes[node.Type] {
			continue
		}

		if w := nodeWindow(g, node); w > lookback {
			lookback = w
		}
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Type != "set/integer" {
			continue
		}

		if v, ok := node.FloatProperty("value"); ok && int(v) > lookback {
			lookback = int(v)
		}
	}

	return lookback
}

func nodeWindow(g *Graph, node *NodeSpec) int {
	for _, key := range windowPropertyKeys {
		if v, ok := node.FloatProperty(key); ok && v > 0 {
			return int(v)
		}
	}

	if v, ok := constantFeeding(g, node.ID, 1); ok && v > 1 {
		return int(v)
	}

	for _, value := range node.Properties {
		if f, ok := value.(float64); ok && f > 1 {
			return int(f)
		}
	}

	for slot := range node.Inputs {
		if v, ok := constantFeeding(g, node.ID, slot); ok && v > 1 {
			return int(v)
		}
	}

	return 0
}

// constantFeeding resolves the literal value of a set/integer or set/float
// node wired into the given input slot.
func constantFeeding(g *Graph, nodeID, slot int) (float64, bool) {
	for _, link := range g.Links {
		if link.Target != nodeID || link.TargetSlot != slot {
			continue
		}

		origin := g.byID[link.Origin]
		if origin == nil {
			continue
		}

		if origin.Type == "set/integer" || origin.Type == "set/float" {
			return origin.FloatProperty("value")
		}
	}

	return 0, false
}
