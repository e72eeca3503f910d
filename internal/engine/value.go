// Package engine evaluates a compiled strategy graph over candle rows. Each
// node type owns its private memory; a session replays the graph either in
// bulk over history or incrementally one new row at a time, with identical
// results.
package engine

// Value is one datum flowing along a link. nil is the "no value" sentinel:
// an indicator that has not filled its window, an unresolved input, or a
// failed computation all propagate nil instead of an error, and consumers
// degrade to nil in turn.
type Value = any

// Go is the trigger token carried on execution wires.
const Go = "GO"

// AsFloat coerces a value to float64. Booleans coerce to 0/1 the way the
// graph editor's comparison wiring expects.
func AsFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}

// AsBool coerces a value to bool. Numbers are truthy when non-zero, strings
// when non-empty.
func AsBool(v Value) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case string:
		return t != "", true
	}

	return false, false
}

// AsString coerces a value to string.
func AsString(v Value) (string, bool) {
	s, ok := v.(string)

	return s, ok
}

// IsGo reports whether a value is the trigger token.
func IsGo(v Value) bool {
	s, ok := AsString(v)

	return ok && s == Go
}

// Truthy collapses AsBool to plain truthiness with nil false.
func Truthy(v Value) bool {
	b, ok := AsBool(v)

	return ok && b
}
