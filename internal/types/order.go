package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pvelab/graphtrader/pkg/errors"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind is how an order is triggered.
type OrderKind string

const (
	OrderKindMarket      OrderKind = "market"
	OrderKindLimit       OrderKind = "limit"
	OrderKindConditional OrderKind = "conditional"
)

// OrderStatus is the lifecycle state of an order. Transitions are monotonic:
// open -> {executed, cancelled, error}; there is no path back to open.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusError     OrderStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusCancelled || s == OrderStatusError
}

// TriggerDirection tells which way price must cross a conditional order's
// trigger: rising through it for a buy stop, falling through it for a sell
// stop.
type TriggerDirection int

const (
	TriggerRise TriggerDirection = 1
	TriggerFall TriggerDirection = 2
)

// Amendment records one modification applied to an open order.
type Amendment struct {
	Time         time.Time `json:"time"`
	OldPrice     float64   `json:"old_price"`
	NewPrice     float64   `json:"new_price"`
	OldQuantity  float64   `json:"old_quantity"`
	NewQuantity  float64   `json:"new_quantity"`
	OldTrigger   float64   `json:"old_trigger"`
	NewTrigger   float64   `json:"new_trigger"`
	PriceChanged bool      `json:"price_changed"`
	QtyChanged   bool      `json:"qty_changed"`
	TrigChanged  bool      `json:"trigger_changed"`
}

// Order is one entry in the session ledger. LocalID is assigned by the
// ledger; RemoteID is filled in live mode once the exchange accepts the
// order.
type Order struct {
	LocalID      string           `json:"id" validate:"required"`
	RemoteID     string           `json:"remote_id"`
	Symbol       string           `json:"symbol" validate:"required"`
	Side         Side             `json:"side" validate:"oneof=BUY SELL"`
	Kind         OrderKind        `json:"kind" validate:"oneof=market limit conditional"`
	Price        float64          `json:"price" validate:"gte=0"`
	TriggerPrice float64          `json:"trigger_price" validate:"gte=0"`
	TriggerDir   TriggerDirection `json:"trigger_direction"`
	Quantity     float64          `json:"quantity" validate:"gt=0"`
	Status       OrderStatus      `json:"status" validate:"oneof=open executed cancelled error"`
	CreatedAt    time.Time        `json:"time_created"`
	ExecutedAt   time.Time        `json:"time_executed"`
	Amendments   []Amendment      `json:"modifications,omitempty"`
}

var orderValidator = validator.New()

// Validate checks the order fields against their constraints.
func (o *Order) Validate() error {
	if err := orderValidator.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "order validation failed", err)
	}

	return nil
}

// SignedQuantity returns the quantity with buy positive and sell negative.
func (o *Order) SignedQuantity() float64 {
	if o.Side == SideBuy {
		return o.Quantity
	}

	return -o.Quantity
}

// ExecutionTime returns the execution time when set, otherwise the creation
// time. Analysis sorts orders by this value.
func (o *Order) ExecutionTime() time.Time {
	if !o.ExecutedAt.IsZero() {
		return o.ExecutedAt
	}

	return o.CreatedAt
}
