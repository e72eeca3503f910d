// Package analyzer turns an executed order list into closed trades and
// performance metrics. Trades are reconstructed the way a derivatives
// exchange nets them: a running signed position with a cost-weighted entry
// price, so reversals and partial closes each produce their own trade with a
// pro-rata fee split.
package analyzer

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
)

// FeeModel decides the fee rate per fill. Market and conditional orders
// always pay the taker rate. Limit orders pay the maker rate unless they were
// priced within TakerProximityPct of the market close at execution time, in
// which case they almost certainly crossed the book.
type FeeModel struct {
	MakerRate         decimal.Decimal
	TakerRate         decimal.Decimal
	TakerProximityPct float64
}

// DefaultFeeModel matches observed derivatives fee schedules.
func DefaultFeeModel() FeeModel {
	return FeeModel{
		MakerRate:         decimal.RequireFromString("0.00036"),
		TakerRate:         decimal.RequireFromString("0.001"),
		TakerProximityPct: 0.01,
	}
}

// Rate picks the fee rate for one executed order. closeAt returns the last
// known close at or before a time, with ok=false when no bar precedes it.
func (m FeeModel) Rate(order types.Order, closeAt func(time.Time) (float64, bool)) decimal.Decimal {
	if order.Kind == types.OrderKindMarket || order.Kind == types.OrderKindConditional {
		return m.TakerRate
	}

	if order.Kind == types.OrderKindLimit && closeAt != nil {
		if close, ok := closeAt(order.ExecutionTime()); ok && close != 0 {
			diffPct := math.Abs(order.Price-close) / close * 100
			if diffPct < m.TakerProximityPct {
				return m.TakerRate
			}
		}
	}

	return m.MakerRate
}

// Config wires an analyzer run.
type Config struct {
	Symbol         string
	Rows           []types.MarketData
	Orders         []types.Order
	InitialCapital decimal.Decimal
	Specs          types.InstrumentSpecs
	Fees           FeeModel
	Funding        FundingSource
	Logger         *logger.Logger
}

// EquityPoint is one step of the equity curve: capital after a trade exit.
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Metrics is the aggregate performance summary of a run.
type Metrics struct {
	Symbol           string          `json:"symbol"`
	InitialCapital   decimal.Decimal `json:"initial_capital"`
	FinalCapital     decimal.Decimal `json:"final_capital"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TotalFundingCost decimal.Decimal `json:"total_funding_cost"`
	NumTrades        int             `json:"num_trades"`
	WinRatePct       float64         `json:"win_rate_pct"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	MaxDrawdownPct   float64         `json:"max_drawdown_pct"`
	AvgTradeDuration time.Duration   `json:"avg_trade_duration"`
	GlobalReturnPct  decimal.Decimal `json:"global_return_pct"`
	FirstBar         time.Time       `json:"first_bar"`
	LastBar          time.Time       `json:"last_bar"`
}

// Report is the full analyzer output.
type Report struct {
	Trades      []types.Trade
	EquityCurve []EquityPoint
	Metrics     Metrics
}

// Analyzer reconstructs trades from executed orders.
type Analyzer struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config) *Analyzer {
	if cfg.Fees == (FeeModel{}) {
		cfg.Fees = DefaultFeeModel()
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Analyzer{cfg: cfg, log: log}
}

// Analyze parses trades, attaches funding costs and computes metrics. The
// context is only consulted by the funding source.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	trades := a.parseTrades()
	a.attachFunding(ctx, trades)

	curve := equityCurve(a.cfg.InitialCapital, trades)

	report := &Report{
		Trades:      trades,
		EquityCurve: curve,
		Metrics:     a.metrics(trades, curve),
	}

	return report, nil
}

const moneyScale = 4

// runState tracks the open position while orders are replayed.
type runState struct {
	position decimal.Decimal // signed net quantity
	value    decimal.Decimal // cost basis of the open position
	fees     decimal.Decimal // accumulated opening fees
	start    time.Time
}

func (a *Analyzer) parseTrades() []types.Trade {
	orders := make([]types.Order, 0, len(a.cfg.Orders))

	for _, o := range a.cfg.Orders {
		if o.Status == types.OrderStatusExecuted {
			orders = append(orders, o)
		}
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].ExecutionTime().Before(orders[j].ExecutionTime())
	})

	var (
		state  runState
		trades []types.Trade
	)

	for _, order := range orders {
		price := a.snapPrice(order.Price)
		qty := decimal.NewFromFloat(order.Quantity).Abs()

		signedQty := qty
		if order.Side == types.SideSell {
			signedQty = qty.Neg()
		}

		rate := a.cfg.Fees.Rate(order, a.closeAt)
		fee := price.Mul(qty).Mul(rate).RoundBank(moneyScale)

		prev := state
		state.position = state.position.Add(signedQty)
		at := order.ExecutionTime()

		switch {
		case prev.position.IsZero():
			// opening a fresh position
			state.value = price.Mul(qty)
			state.fees = fee
			state.start = at

		case state.position.IsZero():
			// full close
			trades = append(trades, a.closeTrade(prev, price, prev.position.Abs(), prev.fees, fee, at))
			state.value = decimal.Zero
			state.fees = decimal.Zero
			state.start = time.Time{}

		case prev.position.Sign() != state.position.Sign():
			// reversal: the fill both closes the old run and opens a new one,
			// so its fee is split by the closing portion
			closedQty := prev.position.Abs()
			closingPortion := closedQty.Div(qty)
			closingFee := fee.Mul(closingPortion).RoundBank(moneyScale)
			trades = append(trades, a.closeTrade(prev, price, closedQty, prev.fees, closingFee, at))

			remaining := state.position.Abs()
			state.value = price.Mul(remaining)
			state.fees = fee.Mul(decimal.NewFromInt(1).Sub(closingPortion)).RoundBank(moneyScale)
			state.start = at

		case state.position.Abs().GreaterThan(prev.position.Abs()):
			// adding to the open position
			state.value = prev.value.Add(price.Mul(qty))
			state.fees = prev.fees.Add(fee).RoundBank(moneyScale)

		default:
			// partial close: opening fees are allocated pro-rata to the
			// closed slice, the remainder stays with the open position
			closedQty := prev.position.Abs().Sub(state.position.Abs())
			closingRatio := closedQty.Div(prev.position.Abs())
			allocated := prev.fees.Mul(closingRatio).RoundBank(moneyScale)
			trades = append(trades, a.closePartial(prev, price, closedQty, allocated, fee, at))

			remainingRatio := state.position.Abs().Div(prev.position.Abs())
			state.value = prev.value.Mul(remainingRatio)
			state.fees = prev.fees.Mul(remainingRatio).RoundBank(moneyScale)
		}
	}

	return trades
}

// closeTrade books a full close (or the closed leg of a reversal): the whole
// cost basis of the run is consumed, so return is measured against it.
func (a *Analyzer) closeTrade(prev runState, price, closedQty, openingFees, closingFee decimal.Decimal, at time.Time) types.Trade {
	avgEntry := prev.value.Div(closedQty).RoundBank(moneyScale)
	exitPrice := price.RoundBank(moneyScale)
	totalFees := openingFees.Add(closingFee).RoundBank(moneyScale)

	gross := exitPrice.Sub(avgEntry).Mul(closedQty)
	if prev.position.Sign() < 0 {
		gross = avgEntry.Sub(exitPrice).Mul(closedQty)
	}

	profit := gross.Sub(totalFees).RoundBank(moneyScale)

	returnPct := decimal.Zero
	if !prev.value.IsZero() {
		returnPct = profit.Div(prev.value).Mul(decimal.NewFromInt(100)).RoundBank(2)
	}

	return types.Trade{
		Symbol:      a.cfg.Symbol,
		EntryTime:   prev.start,
		ExitTime:    at,
		EntryPrice:  avgEntry,
		ExitPrice:   exitPrice,
		Quantity:    closedQty,
		OpeningFees: openingFees,
		ClosingFees: closingFee,
		Fees:        totalFees,
		Profit:      profit,
		ReturnPct:   returnPct,
	}
}

// closePartial books a partial close; return is measured against the cost of
// the closed slice only.
func (a *Analyzer) closePartial(prev runState, price, closedQty, allocatedOpening, closingFee decimal.Decimal, at time.Time) types.Trade {
	avgEntry := prev.value.Div(prev.position.Abs()).RoundBank(moneyScale)
	exitPrice := price.RoundBank(moneyScale)
	totalFees := allocatedOpening.Add(closingFee).RoundBank(moneyScale)

	gross := exitPrice.Sub(avgEntry).Mul(closedQty)
	if prev.position.Sign() < 0 {
		gross = avgEntry.Sub(exitPrice).Mul(closedQty)
	}

	profit := gross.Sub(totalFees).RoundBank(moneyScale)

	basis := avgEntry.Mul(closedQty)
	returnPct := decimal.Zero
	if !basis.IsZero() {
		returnPct = profit.Div(basis).Mul(decimal.NewFromInt(100)).RoundBank(2)
	}

	return types.Trade{
		Symbol:      a.cfg.Symbol,
		EntryTime:   prev.start,
		ExitTime:    at,
		EntryPrice:  avgEntry,
		ExitPrice:   exitPrice,
		Quantity:    closedQty,
		OpeningFees: allocatedOpening,
		ClosingFees: closingFee,
		Fees:        totalFees,
		Profit:      profit,
		ReturnPct:   returnPct,
	}
}

// snapPrice quantizes a fill price to the instrument's precision and floors
// it to the tick grid, so analyzer prices match what the venue would report.
func (a *Analyzer) snapPrice(price float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)

	if a.cfg.Specs.Precision > 0 {
		p = p.RoundBank(int32(a.cfg.Specs.Precision))
	}

	if a.cfg.Specs.TickSize.IsPositive() {
		tick := a.cfg.Specs.TickSize
		p = p.Div(tick).Floor().Mul(tick)
	}

	return p
}

// closeAt returns the close of the last bar at or before t.
func (a *Analyzer) closeAt(t time.Time) (float64, bool) {
	close := 0.0
	found := false

	for _, row := range a.cfg.Rows {
		if row.Time.After(t) {
			break
		}

		close = row.Close
		found = true
	}

	return close, found
}

func (a *Analyzer) attachFunding(ctx context.Context, trades []types.Trade) {
	if a.cfg.Funding == nil {
		return
	}

	for i := range trades {
		cost, err := TradeFundingCost(ctx, a.cfg.Funding, &trades[i])
		if err != nil {
			a.log.Warn("funding lookup failed, assuming zero",
				zap.String("symbol", trades[i].Symbol),
				zap.Time("entry", trades[i].EntryTime),
				zap.Error(err))

			continue
		}

		trades[i].FundingCost = cost
	}
}

func equityCurve(initial decimal.Decimal, trades []types.Trade) []EquityPoint {
	sorted := make([]types.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	capital := initial
	curve := make([]EquityPoint, 0, len(sorted))

	for _, trade := range sorted {
		capital = capital.Add(trade.Profit)
		curve = append(curve, EquityPoint{Time: trade.ExitTime, Equity: capital})
	}

	return curve
}

func (a *Analyzer) metrics(trades []types.Trade, curve []EquityPoint) Metrics {
	m := Metrics{
		Symbol:         a.cfg.Symbol,
		InitialCapital: a.cfg.InitialCapital,
		FinalCapital:   a.cfg.InitialCapital,
		NumTrades:      len(trades),
	}

	if len(a.cfg.Rows) > 0 {
		m.FirstBar = a.cfg.Rows[0].Time
		m.LastBar = a.cfg.Rows[len(a.cfg.Rows)-1].Time
	}

	wins := 0
	var totalDuration time.Duration

	for _, trade := range trades {
		m.TotalPnL = m.TotalPnL.Add(trade.Profit)
		m.TotalFees = m.TotalFees.Add(trade.Fees)
		m.TotalFundingCost = m.TotalFundingCost.Add(trade.FundingCost)
		totalDuration += trade.Duration()

		if trade.IsWin() {
			wins++
		}
	}

	m.TotalFundingCost = m.TotalFundingCost.RoundBank(moneyScale)

	if len(trades) > 0 {
		m.WinRatePct = float64(wins) / float64(len(trades)) * 100
		m.AvgTradeDuration = totalDuration / time.Duration(len(trades))
	}

	m.SharpeRatio = sharpeRatio(trades)
	m.MaxDrawdownPct = maxDrawdown(curve)

	if len(curve) > 0 {
		m.FinalCapital = curve[len(curve)-1].Equity
	}

	if !a.cfg.InitialCapital.IsZero() {
		m.GlobalReturnPct = m.FinalCapital.Sub(a.cfg.InitialCapital).
			Div(a.cfg.InitialCapital).Mul(decimal.NewFromInt(100)).RoundBank(2)
	}

	return m
}

// sharpeRatio over per-trade fractional returns: mean over sample stdev,
// scaled by sqrt(n). Fewer than two trades, or zero variance, yields zero.
func sharpeRatio(trades []types.Trade) float64 {
	n := len(trades)
	if n < 2 {
		return 0
	}

	returns := make([]float64, n)
	sum := 0.0

	for i, trade := range trades {
		returns[i] = trade.ReturnPct.InexactFloat64() / 100
		sum += returns[i]
	}

	mean := sum / float64(n)
	variance := 0.0

	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}

	variance /= float64(n - 1)
	if variance <= 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(float64(n))
}

// maxDrawdown is the deepest peak-to-trough loss on the equity curve, as a
// positive percentage of the peak.
func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}

	peak := curve[0].Equity.InexactFloat64()
	worst := 0.0

	for _, point := range curve {
		eq := point.Equity.InexactFloat64()
		if eq > peak {
			peak = eq
		}

		if peak != 0 {
			dd := (eq - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}

	return math.Abs(worst * 100)
}
