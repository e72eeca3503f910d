package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pvelab/graphtrader/internal/graph"
	"github.com/pvelab/graphtrader/internal/types"
)

// addIndicator collects a numeric series for charting. The column name comes
// from the name property, or from input slot 1 when wired. Rows where the
// input is nil stay nil in the column.
type addIndicator struct {
	BaseNode
	name   string
	series []Value
}

func newAddIndicator(spec *graph.NodeSpec) Node {
	name, ok := spec.StringProperty("name")
	if !ok || name == "" {
		name = fmt.Sprintf("Indicator_%d", spec.ID)
	}

	return &addIndicator{BaseNode: newBase(spec), name: name}
}

func (n *addIndicator) Execute(_ context.Context, _ *Session, _ types.MarketData) error {
	if s, ok := AsString(n.Input(1)); ok && s != "" {
		n.name = s
	}

	if v, ok := n.InputFloat(0); ok {
		n.series = append(n.series, v)
	} else {
		n.series = append(n.series, nil)
	}

	return nil
}

// indicatorColumn aligns the collected series with the processed rows: when
// the node saw more values than there are rows (warm-up history) the excess
// head is dropped, when it saw fewer the head is nil-padded.
func (n *addIndicator) indicatorColumn(rows []types.MarketData) Column {
	values := make([]Value, len(rows))

	if len(n.series) >= len(rows) {
		copy(values, n.series[len(n.series)-len(rows):])
	} else {
		copy(values[len(rows)-len(n.series):], n.series)
	}

	return Column{Name: n.name, Values: values}
}

type marker struct {
	at   time.Time
	text string
}

// addSignal records chart markers on the bars where its condition input is
// truthy. The resulting column carries the marker text at matching rows and
// is name-prefixed with "$" to keep signal columns apart from indicators.
type addSignal struct {
	BaseNode
	name    string
	markers []marker
}

func newAddSignal(spec *graph.NodeSpec) Node {
	name, ok := spec.StringProperty("name")
	if !ok || name == "" {
		name = fmt.Sprintf("Signal_%d", spec.ID)
	}

	return &addSignal{BaseNode: newBase(spec), name: name}
}

func (n *addSignal) Execute(_ context.Context, _ *Session, row types.MarketData) error {
	name := n.name
	if s, ok := AsString(n.Input(1)); ok && s != "" {
		name = s
		n.name = s
	}

	if Truthy(n.Input(0)) {
		n.markers = append(n.markers, marker{at: row.Time, text: name})
	}

	return nil
}

func (n *addSignal) signalColumn(rows []types.MarketData) Column {
	values := make([]Value, len(rows))
	byTime := make(map[time.Time]string, len(n.markers))

	for _, m := range n.markers {
		byTime[m.at] = m.text
	}

	for i, row := range rows {
		if text, ok := byTime[row.Time]; ok {
			values[i] = text
		}
	}

	return Column{Name: "$" + n.name, Values: values}
}
