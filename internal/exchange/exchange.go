// Package exchange defines the trading API contract live bots speak, the
// retry policy for transient venue failures, and the binance futures
// adapter.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pvelab/graphtrader/internal/types"
)

// TradingProvider is everything a live bot needs from the venue: order entry
// and amendment, position lookup, instrument filters, and funding history.
// The engine and analyzer each consume their own subset of this interface.
type TradingProvider interface {
	// PlaceOrder submits an order and returns the venue order id. The local
	// id travels as the client order id so fills can be reconciled.
	PlaceOrder(ctx context.Context, order *types.Order) (remoteID string, err error)

	// AmendOrder changes price and/or quantity of an open order. A zero
	// value leaves the field untouched.
	AmendOrder(ctx context.Context, order *types.Order, price, qty float64) error

	CancelOrder(ctx context.Context, order *types.Order) error
	CancelAllOrders(ctx context.Context, symbol string) error

	// FetchPosition returns the venue's net position for a symbol; a flat
	// position comes back with zero quantity, not an error.
	FetchPosition(ctx context.Context, symbol string) (types.Position, error)

	// Instrument returns the trading filters for a symbol.
	Instrument(ctx context.Context, symbol string) (types.InstrumentSpecs, error)

	// FundingRates returns the funding rates settled between start and end.
	FundingRates(ctx context.Context, symbol string, start, end time.Time) ([]decimal.Decimal, error)

	// Flatten closes the symbol's net position with a reduce-only market
	// order. Used by the emergency shutdown path.
	Flatten(ctx context.Context, symbol string) error
}
