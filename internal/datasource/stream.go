package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/internal/types"
)

const (
	futuresStreamBase = "wss://fstream.binance.com/ws"
	streamReadTimeout = 60 * time.Second
)

// klineEvent is the venue's kline stream payload. Only closed candles are
// forwarded.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// KlineStream subscribes to the venue's kline websocket and delivers closed
// candles on a channel. It reconnects with growing delays until its context
// is cancelled.
type KlineStream struct {
	url    string
	symbol string
	log    *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	out    chan types.MarketData
}

// NewKlineStream prepares a stream for one symbol at the venue interval
// notation ("1m", "5m").
func NewKlineStream(symbol, venueInterval string, log *logger.Logger) *KlineStream {
	if log == nil {
		log = logger.NewNopLogger()
	}

	url := fmt.Sprintf("%s/%s@kline_%s", futuresStreamBase, strings.ToLower(symbol), venueInterval)

	return &KlineStream{
		url:    url,
		symbol: symbol,
		log:    log,
		out:    make(chan types.MarketData, 16),
	}
}

// Candles returns the channel of closed candles. It is closed when the
// stream stops.
func (s *KlineStream) Candles() <-chan types.MarketData {
	return s.out
}

// Start launches the connection loop.
func (s *KlineStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runLoop(ctx)
}

// Stop tears the stream down and waits for the loop to exit.
func (s *KlineStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.closeConn()
	s.wg.Wait()
}

func (s *KlineStream) runLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.out)

	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			delay := reconnectDelay(retry)
			retry++

			s.log.Warn("kline stream connect failed",
				zap.String("symbol", s.symbol),
				zap.Int("retry", retry),
				zap.Duration("delay", delay),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		s.readLoop(ctx)
	}
}

func (s *KlineStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	// Answer the venue's keepalive pings in kind.
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("kline stream connected", zap.String("symbol", s.symbol))

	return nil
}

func (s *KlineStream) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("kline stream read failed",
					zap.String("symbol", s.symbol),
					zap.Error(err))
			}

			s.closeConn()

			return
		}

		row, ok := parseKlineEvent(msg)
		if !ok {
			continue
		}

		select {
		case s.out <- row:
		case <-ctx.Done():
			s.closeConn()
			return
		}
	}
}

func (s *KlineStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// parseKlineEvent decodes a stream message into a candle. Open candles and
// unrelated events report false.
func parseKlineEvent(msg []byte) (types.MarketData, bool) {
	var event klineEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return types.MarketData{}, false
	}

	if event.EventType != "kline" || !event.Kline.Closed {
		return types.MarketData{}, false
	}

	open, err1 := strconv.ParseFloat(event.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(event.Kline.High, 64)
	low, err3 := strconv.ParseFloat(event.Kline.Low, 64)
	cls, err4 := strconv.ParseFloat(event.Kline.Close, 64)
	vol, err5 := strconv.ParseFloat(event.Kline.Volume, 64)

	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return types.MarketData{}, false
	}

	return types.MarketData{
		Symbol: event.Symbol,
		Time:   time.UnixMilli(event.Kline.StartTime).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  cls,
		Volume: vol,
	}, true
}

func reconnectDelay(retry int) time.Duration {
	delays := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	if retry >= len(delays) {
		return 30 * time.Second
	}

	return delays[retry]
}
