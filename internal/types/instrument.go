package types

import (
	"github.com/shopspring/decimal"
)

// InstrumentSpecs captures the exchange's trading filters for one symbol.
// Quantities and prices must be snapped to these before any order leaves the
// ledger.
type InstrumentSpecs struct {
	Symbol      string          `json:"symbol" yaml:"symbol"`
	Precision   int32           `json:"precision" yaml:"precision"`
	TickSize    decimal.Decimal `json:"tick_size" yaml:"tick_size"`
	MinOrderQty decimal.Decimal `json:"min_order_qty" yaml:"min_order_qty"`
	QtyStep     decimal.Decimal `json:"qty_step" yaml:"qty_step"`
}

// Valid reports whether the specs carry usable tick and step sizes. A run must
// not proceed with unknown steps.
func (s InstrumentSpecs) Valid() bool {
	return s.TickSize.IsPositive() && s.QtyStep.IsPositive()
}

// AdjustQuantity snaps a requested quantity to the instrument's lot filter:
// below the minimum it becomes the minimum; otherwise it is floored to the
// nearest step above the minimum.
func (s InstrumentSpecs) AdjustQuantity(qty float64) float64 {
	q := decimal.NewFromFloat(qty)
	if q.LessThan(s.MinOrderQty) {
		f, _ := s.MinOrderQty.Float64()
		return f
	}

	steps := q.Sub(s.MinOrderQty).Div(s.QtyStep).Floor()
	adjusted := s.MinOrderQty.Add(steps.Mul(s.QtyStep))
	f, _ := adjusted.Float64()

	return f
}

// AdjustPrice quantizes a price to the instrument's tick size using banker's
// rounding.
func (s InstrumentSpecs) AdjustPrice(price float64) float64 {
	p := decimal.NewFromFloat(price)
	ticks := p.Div(s.TickSize).RoundBank(0)
	f, _ := ticks.Mul(s.TickSize).Float64()

	return f
}

// WholeUnits reports whether order quantities are integral for this
// instrument (quantity step of one or more).
func (s InstrumentSpecs) WholeUnits() bool {
	return s.QtyStep.GreaterThanOrEqual(decimal.NewFromInt(1))
}
