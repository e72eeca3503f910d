package exchange

import (
	"context"

	"github.com/adshao/go-binance/v2/futures"
)

// realFuturesClient adapts the concrete binance futures client to the
// service seams. Each wrapper forwards builder calls and returns itself so
// chaining keeps working through the interface.
type realFuturesClient struct {
	client *futures.Client
}

var _ FuturesClient = (*realFuturesClient)(nil)

func (c *realFuturesClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{svc: c.client.NewCreateOrderService()}
}

func (c *realFuturesClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{svc: c.client.NewCancelOrderService()}
}

func (c *realFuturesClient) NewCancelAllOpenOrdersService() CancelAllOpenOrdersService {
	return &realCancelAllOpenOrdersService{svc: c.client.NewCancelAllOpenOrdersService()}
}

func (c *realFuturesClient) NewPositionRiskService() PositionRiskService {
	return &realPositionRiskService{svc: c.client.NewGetPositionRiskV3Service()}
}

func (c *realFuturesClient) NewExchangeInfoService() ExchangeInfoService {
	return &realExchangeInfoService{svc: c.client.NewExchangeInfoService()}
}

func (c *realFuturesClient) NewFundingRateService() FundingRateService {
	return &realFundingRateService{svc: c.client.NewFundingRateService()}
}

func (c *realFuturesClient) NewKlinesService() KlinesService {
	return &realKlinesService{svc: c.client.NewKlinesService()}
}

type realCreateOrderService struct {
	svc *futures.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.svc = s.svc.Symbol(symbol)
	return s
}

func (s *realCreateOrderService) Side(side futures.SideType) CreateOrderService {
	s.svc = s.svc.Side(side)
	return s
}

func (s *realCreateOrderService) Type(orderType futures.OrderType) CreateOrderService {
	s.svc = s.svc.Type(orderType)
	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.svc = s.svc.Quantity(quantity)
	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.svc = s.svc.Price(price)
	return s
}

func (s *realCreateOrderService) StopPrice(price string) CreateOrderService {
	s.svc = s.svc.StopPrice(price)
	return s
}

func (s *realCreateOrderService) TimeInForce(tif futures.TimeInForceType) CreateOrderService {
	s.svc = s.svc.TimeInForce(tif)
	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.svc = s.svc.NewClientOrderID(id)
	return s
}

func (s *realCreateOrderService) ReduceOnly(reduce bool) CreateOrderService {
	s.svc = s.svc.ReduceOnly(reduce)
	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*futures.CreateOrderResponse, error) {
	return s.svc.Do(ctx)
}

type realCancelOrderService struct {
	svc *futures.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.svc = s.svc.Symbol(symbol)
	return s
}

func (s *realCancelOrderService) OrigClientOrderID(id string) CancelOrderService {
	s.svc = s.svc.OrigClientOrderID(id)
	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*futures.CancelOrderResponse, error) {
	return s.svc.Do(ctx)
}

type realCancelAllOpenOrdersService struct {
	svc *futures.CancelAllOpenOrdersService
}

func (s *realCancelAllOpenOrdersService) Symbol(symbol string) CancelAllOpenOrdersService {
	s.svc = s.svc.Symbol(symbol)
	return s
}

func (s *realCancelAllOpenOrdersService) Do(ctx context.Context) error {
	return s.svc.Do(ctx)
}

type realPositionRiskService struct {
	svc *futures.GetPositionRiskV3Service
}

func (s *realPositionRiskService) Symbol(symbol string) PositionRiskService {
	s.svc = s.svc.Symbol(symbol)
	return s
}

func (s *realPositionRiskService) Do(ctx context.Context) ([]*futures.PositionRiskV3, error) {
	return s.svc.Do(ctx)
}

type realExchangeInfoService struct {
	svc *futures.ExchangeInfoService
}

func (s *realExchangeInfoService) Do(ctx context.Context) (*futures.ExchangeInfo, error) {
	return s.svc.Do(ctx)
}

type realFundingRateService struct {
	svc *futures.FundingRateService
}

func (s *realFundingRateService) Symbol(symbol string) FundingRateService {
	s.svc = s.svc.Symbol(symbol)
	return s
}

func (s *realFundingRateService) StartTime(ms int64) FundingRateService {
	s.svc = s.svc.StartTime(ms)
	return s
}

func (s *realFundingRateService) EndTime(ms int64) FundingRateService {
	s.svc = s.svc.EndTime(ms)
	return s
}

func (s *realFundingRateService) Limit(limit int) FundingRateService {
	s.svc = s.svc.Limit(limit)
	return s
}

func (s *realFundingRateService) Do(ctx context.Context) ([]*futures.FundingRate, error) {
	return s.svc.Do(ctx)
}

type realKlinesService struct {
	svc *futures.KlinesService
}

func (s *realKlinesService) Symbol(symbol string) KlinesService {
	s.svc = s.svc.Symbol(symbol)
	return s
}

func (s *realKlinesService) Interval(interval string) KlinesService {
	s.svc = s.svc.Interval(interval)
	return s
}

func (s *realKlinesService) StartTime(ms int64) KlinesService {
	s.svc = s.svc.StartTime(ms)
	return s
}

func (s *realKlinesService) EndTime(ms int64) KlinesService {
	s.svc = s.svc.EndTime(ms)
	return s
}

func (s *realKlinesService) Limit(limit int) KlinesService {
	s.svc = s.svc.Limit(limit)
	return s
}

func (s *realKlinesService) Do(ctx context.Context) ([]*futures.Kline, error) {
	return s.svc.Do(ctx)
}
