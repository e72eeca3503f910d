package engine

import "github.com/pvelab/graphtrader/internal/graph"

type constructor func(spec *graph.NodeSpec) Node

// nodeConstructors maps every supported node type to its constructor. The
// session looks nodes up here exactly once at build time; nothing in the
// per-row path branches on type strings.
var nodeConstructors = map[string]constructor{
	// candle fields
	"get/open":   newCandleField("open"),
	"get/close":  newCandleField("close"),
	"get/high":   newCandleField("high"),
	"get/low":    newCandleField("low"),
	"get/volume": newCandleField("volume"),

	// constants
	"set/float":   newSetFloat,
	"set/integer": newSetInteger,
	"set/string":  newSetString,
	"set/bool":    newSetBool,

	// arithmetic
	"math/add_float":      newBinaryFloat("add"),
	"math/subtract_float": newBinaryFloat("subtract"),
	"math/multiply_float": newBinaryFloat("multiply"),
	"math/divide_float":   newBinaryFloat("divide"),
	"math/clip_float":     newClipFloat,
	"math/lowest":         newRollingExtreme(true),
	"math/highest":        newRollingExtreme(false),

	// comparisons and logic
	"compare/greater":     newComparison("greater"),
	"compare/smaller":     newComparison("smaller"),
	"compare/equal":       newComparison("equal"),
	"compare/cross_over":  newCrossing(true),
	"compare/cross_under": newCrossing(false),
	"logic/and":           newBoolGate("and"),
	"logic/or":            newBoolGate("or"),
	"logic/not":           newBoolGate("not"),
	"logic/if":            newIfGate,

	// indicators
	"indicators/ma":          newMANode,
	"indicators/rsi":         newRSINode,
	"indicators/super_trend": newSupertrendNode,

	// trading
	"trade/is_none":                  newIsNone,
	"trade/create_order":             newCreateOrder,
	"trade/create_conditional_order": newCreateConditionalOrder,
	"trade/cancel_order":             newCancelOrder,
	"trade/cancel_all_order":         newCancelAllOrders,
	"trade/modify_order":             newModifyOrder,
	"trade/get_order":                newGetOrder,
	"trade/get_last_order":           newGetLastOrder,
	"trade/get_position":             newGetPosition,

	// chart overlays and messaging
	"tools/add_indicator":   newAddIndicator,
	"tools/add_signal":      newAddSignal,
	"notify/send_message":   newSendMessage,
	"telegram/send_message": newSendMessage,
}

// KnownType reports whether a node type has a registered constructor. The
// compiler uses this to reject graphs before any node is instantiated.
func KnownType(nodeType string) bool {
	_, ok := nodeConstructors[nodeType]

	return ok
}
