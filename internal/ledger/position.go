package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pvelab/graphtrader/internal/types"
)

type lot struct {
	side    types.Side
	qty     decimal.Decimal
	price   decimal.Decimal
	created time.Time
}

// Position reconstructs the current net inventory by FIFO offsetting of
// executed orders in execution-time order: a fill offsets the oldest
// unmatched opposite-direction lots first, and whatever remains becomes a new
// unmatched lot. The average price is the cost-weighted mean over unmatched
// lots; the opened-at time is the earliest unmatched lot.
func (l *Ledger) Position() types.Position {
	executed := make([]*types.Order, 0, len(l.orders))

	for _, order := range l.orders {
		if order.Status == types.OrderStatusExecuted {
			executed = append(executed, order)
		}
	}

	sort.SliceStable(executed, func(i, j int) bool {
		return executed[i].ExecutionTime().Before(executed[j].ExecutionTime())
	})

	var unmatched []lot

	for _, order := range executed {
		remaining := decimal.NewFromFloat(order.Quantity)
		price := decimal.NewFromFloat(order.Price)

		for remaining.IsPositive() && len(unmatched) > 0 && unmatched[0].side != order.Side {
			offset := decimal.Min(remaining, unmatched[0].qty)
			unmatched[0].qty = unmatched[0].qty.Sub(offset)
			remaining = remaining.Sub(offset)

			if unmatched[0].qty.IsZero() {
				unmatched = unmatched[1:]
			}
		}

		if remaining.IsPositive() {
			unmatched = append(unmatched, lot{
				side:    order.Side,
				qty:     remaining,
				price:   price,
				created: order.CreatedAt,
			})
		}
	}

	position := types.Position{Symbol: l.symbol}
	cost := decimal.Zero

	for _, entry := range unmatched {
		signed := entry.qty
		if entry.side == types.SideSell {
			signed = signed.Neg()
		}

		position.Quantity = position.Quantity.Add(signed)
		cost = cost.Add(entry.qty.Mul(entry.price))

		if position.OpenedAt.IsZero() || entry.created.Before(position.OpenedAt) {
			position.OpenedAt = entry.created
		}
	}

	if !position.Quantity.IsZero() {
		position.AveragePrice = cost.Div(position.Quantity.Abs())
	}

	return position
}
