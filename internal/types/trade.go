package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the FIFO-reconstructed net inventory for a symbol at a point in
// time. Quantity is signed: positive long, negative short.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// IsFlat reports whether there is no open inventory.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Trade is one closed (or reduced) position run, derived from executed
// orders. It is never created directly by strategy code.
type Trade struct {
	Symbol      string          `json:"symbol"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Quantity    decimal.Decimal `json:"qty"`
	OpeningFees decimal.Decimal `json:"opening_fees"`
	ClosingFees decimal.Decimal `json:"closing_fees"`
	Fees        decimal.Decimal `json:"fees"`
	Profit      decimal.Decimal `json:"profit"`
	ReturnPct   decimal.Decimal `json:"return_pct"`
	FundingCost decimal.Decimal `json:"funding_cost"`
}

// Duration is the time the position stayed open.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// IsWin reports whether the trade closed with non-negative profit.
func (t Trade) IsWin() bool {
	return t.Profit.IsPositive()
}
