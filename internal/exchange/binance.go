package exchange

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Service seams over the binance futures client so tests can fake the venue.

// CreateOrderService mirrors the futures create-order builder.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side futures.SideType) CreateOrderService
	Type(orderType futures.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	StopPrice(price string) CreateOrderService
	TimeInForce(tif futures.TimeInForceType) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	ReduceOnly(reduce bool) CreateOrderService
	Do(ctx context.Context) (*futures.CreateOrderResponse, error)
}

// CancelOrderService mirrors the futures cancel-order builder.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrigClientOrderID(id string) CancelOrderService
	Do(ctx context.Context) (*futures.CancelOrderResponse, error)
}

// CancelAllOpenOrdersService mirrors the futures cancel-all builder.
type CancelAllOpenOrdersService interface {
	Symbol(symbol string) CancelAllOpenOrdersService
	Do(ctx context.Context) error
}

// PositionRiskService mirrors the futures position-risk builder.
type PositionRiskService interface {
	Symbol(symbol string) PositionRiskService
	Do(ctx context.Context) ([]*futures.PositionRiskV3, error)
}

// ExchangeInfoService mirrors the futures exchange-info builder.
type ExchangeInfoService interface {
	Do(ctx context.Context) (*futures.ExchangeInfo, error)
}

// FundingRateService mirrors the futures funding-rate-history builder.
type FundingRateService interface {
	Symbol(symbol string) FundingRateService
	StartTime(ms int64) FundingRateService
	EndTime(ms int64) FundingRateService
	Limit(limit int) FundingRateService
	Do(ctx context.Context) ([]*futures.FundingRate, error)
}

// KlinesService mirrors the futures klines builder.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	StartTime(ms int64) KlinesService
	EndTime(ms int64) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*futures.Kline, error)
}

// FuturesClient abstracts the binance futures client for testing.
type FuturesClient interface {
	NewCreateOrderService() CreateOrderService
	NewCancelOrderService() CancelOrderService
	NewCancelAllOpenOrdersService() CancelAllOpenOrdersService
	NewPositionRiskService() PositionRiskService
	NewExchangeInfoService() ExchangeInfoService
	NewFundingRateService() FundingRateService
	NewKlinesService() KlinesService
}

// BinanceProvider implements TradingProvider against binance USD-M futures.
// It is stateless: every call goes straight to the venue, wrapped in the
// package retry policy.
type BinanceProvider struct {
	client FuturesClient
	log    *logger.Logger
}

var _ TradingProvider = (*BinanceProvider)(nil)

// UseTestnet routes all futures requests to the exchange testnet. Call it
// before constructing providers.
func UseTestnet(enabled bool) {
	futures.UseTestnet = enabled
}

// NewBinanceProvider connects to binance futures with the given keys.
func NewBinanceProvider(apiKey, apiSecret string, log *logger.Logger) *BinanceProvider {
	client := futures.NewClient(apiKey, apiSecret)

	return newBinanceProviderWithClient(&realFuturesClient{client: client}, log)
}

func newBinanceProviderWithClient(client FuturesClient, log *logger.Logger) *BinanceProvider {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &BinanceProvider{client: client, log: log}
}

// classify maps a venue error to a typed error: API rejections with a
// negative binance code are client errors and never retried, everything else
// is transient.
func classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return errors.Wrapf(errors.ErrCodeExchangeClient, err, "%s rejected by venue", op)
	}

	return errors.Wrapf(errors.ErrCodeExchangeTransient, err, "%s failed", op)
}

// PlaceOrder submits an order, carrying the local id as client order id. The
// returned remote id is the venue's numeric order id.
func (b *BinanceProvider) PlaceOrder(ctx context.Context, order *types.Order) (string, error) {
	side := futures.SideTypeBuy
	if order.Side == types.SideSell {
		side = futures.SideTypeSell
	}

	var remoteID string

	err := Do(ctx, b.log, "place order", func() error {
		svc := b.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(side).
			Quantity(formatQty(order.Quantity)).
			NewClientOrderID(order.LocalID)

		switch order.Kind {
		case types.OrderKindLimit:
			svc = svc.Type(futures.OrderTypeLimit).
				Price(formatPrice(order.Price)).
				TimeInForce(futures.TimeInForceTypeGTC)
		case types.OrderKindConditional:
			svc = svc.Type(futures.OrderTypeStopMarket).
				StopPrice(formatPrice(order.TriggerPrice))
		default:
			svc = svc.Type(futures.OrderTypeMarket)
		}

		res, err := svc.Do(ctx)
		if err != nil {
			return classify("place order", err)
		}

		remoteID = strconv.FormatInt(res.OrderID, 10)

		return nil
	})
	if err != nil {
		return "", err
	}

	b.log.Info("order placed",
		zap.String("symbol", order.Symbol),
		zap.String("local", order.LocalID),
		zap.String("remote", remoteID))

	return remoteID, nil
}

// AmendOrder is cancel-and-replace: futures has no in-place amend for every
// order kind, so the open order is cancelled and re-submitted with the new
// parameters under the same local id.
func (b *BinanceProvider) AmendOrder(ctx context.Context, order *types.Order, price, qty float64) error {
	if err := b.CancelOrder(ctx, order); err != nil {
		return err
	}

	amended := *order
	if price > 0 {
		amended.Price = price
	}

	if qty > 0 {
		amended.Quantity = qty
	}

	remoteID, err := b.PlaceOrder(ctx, &amended)
	if err != nil {
		return err
	}

	order.RemoteID = remoteID

	return nil
}

func (b *BinanceProvider) CancelOrder(ctx context.Context, order *types.Order) error {
	return Do(ctx, b.log, "cancel order", func() error {
		_, err := b.client.NewCancelOrderService().
			Symbol(order.Symbol).
			OrigClientOrderID(order.LocalID).
			Do(ctx)
		if err != nil {
			return classify("cancel order", err)
		}

		return nil
	})
}

func (b *BinanceProvider) CancelAllOrders(ctx context.Context, symbol string) error {
	return Do(ctx, b.log, "cancel all orders", func() error {
		if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
			return classify("cancel all orders", err)
		}

		return nil
	})
}

// FetchPosition reads the venue's net position. Position amount is signed in
// one-way mode; a missing entry means flat.
func (b *BinanceProvider) FetchPosition(ctx context.Context, symbol string) (types.Position, error) {
	var risks []*futures.PositionRiskV3

	err := Do(ctx, b.log, "fetch position", func() error {
		var err error

		risks, err = b.client.NewPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return classify("fetch position", err)
		}

		return nil
	})
	if err != nil {
		return types.Position{}, err
	}

	pos := types.Position{Symbol: symbol}

	for _, risk := range risks {
		if risk.Symbol != symbol {
			continue
		}

		amt, err := decimal.NewFromString(risk.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}

		entry, _ := decimal.NewFromString(risk.EntryPrice)
		pos.Quantity = amt
		pos.AveragePrice = entry
		pos.OpenedAt = time.UnixMilli(risk.UpdateTime).UTC()

		break
	}

	return pos, nil
}

// Instrument reads the symbol's trading filters from exchange info.
func (b *BinanceProvider) Instrument(ctx context.Context, symbol string) (types.InstrumentSpecs, error) {
	var info *futures.ExchangeInfo

	err := Do(ctx, b.log, "exchange info", func() error {
		var err error

		info, err = b.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return classify("exchange info", err)
		}

		return nil
	})
	if err != nil {
		return types.InstrumentSpecs{}, err
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}

		specs := types.InstrumentSpecs{
			Symbol:    symbol,
			Precision: int32(s.PricePrecision),
		}

		if f := s.PriceFilter(); f != nil {
			specs.TickSize, _ = decimal.NewFromString(f.TickSize)
		}

		if f := s.LotSizeFilter(); f != nil {
			specs.MinOrderQty, _ = decimal.NewFromString(f.MinQuantity)
			specs.QtyStep, _ = decimal.NewFromString(f.StepSize)
		}

		if !specs.Valid() {
			return types.InstrumentSpecs{}, errors.Newf(errors.ErrCodeInstrumentSpecs,
				"incomplete filters for %s", symbol)
		}

		return specs, nil
	}

	return types.InstrumentSpecs{}, errors.Newf(errors.ErrCodeInstrumentSpecs,
		"symbol %s not listed", symbol)
}

// FundingRates returns the rates settled in [start, end].
func (b *BinanceProvider) FundingRates(ctx context.Context, symbol string, start, end time.Time) ([]decimal.Decimal, error) {
	var events []*futures.FundingRate

	err := Do(ctx, b.log, "funding rates", func() error {
		var err error

		events, err = b.client.NewFundingRateService().
			Symbol(symbol).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return classify("funding rates", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	rates := make([]decimal.Decimal, 0, len(events))

	for _, event := range events {
		rate, err := decimal.NewFromString(event.FundingRate)
		if err != nil {
			continue
		}

		rates = append(rates, rate)
	}

	return rates, nil
}

// Flatten closes the net position with a reduce-only market order. A flat
// position is a no-op.
func (b *BinanceProvider) Flatten(ctx context.Context, symbol string) error {
	pos, err := b.FetchPosition(ctx, symbol)
	if err != nil {
		return err
	}

	if pos.IsFlat() {
		return nil
	}

	side := futures.SideTypeSell
	if pos.Quantity.Sign() < 0 {
		side = futures.SideTypeBuy
	}

	return Do(ctx, b.log, "flatten position", func() error {
		_, err := b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(pos.Quantity.Abs().String()).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return classify("flatten position", err)
		}

		return nil
	})
}

// Klines fetches historical candles for warmup. Interval uses the venue
// notation ("1m", "5m", "1h").
func (b *BinanceProvider) Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]types.MarketData, error) {
	var klines []*futures.Kline

	err := Do(ctx, b.log, "klines", func() error {
		var err error

		svc := b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if !start.IsZero() {
			svc = svc.StartTime(start.UnixMilli())
		}

		if !end.IsZero() {
			svc = svc.EndTime(end.UnixMilli())
		}

		klines, err = svc.Do(ctx)
		if err != nil {
			return classify("klines", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]types.MarketData, 0, len(klines))

	for _, k := range klines {
		rows = append(rows, types.MarketData{
			Symbol: symbol,
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   parseFloat(k.Open),
			High:   parseFloat(k.High),
			Low:    parseFloat(k.Low),
			Close:  parseFloat(k.Close),
			Volume: parseFloat(k.Volume),
		})
	}

	return rows, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
