package analyzer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pvelab/graphtrader/internal/types"
)

// FundingSource yields the funding rates settled for a symbol inside a time
// window. The exchange adapter implements this against the venue's funding
// rate history endpoint.
type FundingSource interface {
	FundingRates(ctx context.Context, symbol string, start, end time.Time) ([]decimal.Decimal, error)
}

// TradeFundingCost sums entry-notional times rate over every funding event
// inside the trade's open interval. The cost is reported as its own line and
// never folded into the trade profit.
func TradeFundingCost(ctx context.Context, src FundingSource, trade *types.Trade) (decimal.Decimal, error) {
	rates, err := src.FundingRates(ctx, trade.Symbol, trade.EntryTime, trade.ExitTime)
	if err != nil {
		return decimal.Zero, err
	}

	notional := trade.EntryPrice.Mul(trade.Quantity)
	cost := decimal.Zero

	for _, rate := range rates {
		cost = cost.Add(notional.Mul(rate))
	}

	return cost.RoundBank(moneyScale), nil
}
