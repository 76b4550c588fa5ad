package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// KeepalivePeriod keeps the listen key alive; the exchange expires it
// after an hour without one.
const KeepalivePeriod = 30 * time.Minute

// ListenKeySource issues and extends user data stream keys.
type ListenKeySource interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepaliveUserStream(ctx context.Context, listenKey string) error
}

// UserHandlers receive decoded user data events. Nil handlers are skipped.
type UserHandlers struct {
	OnBalance func(model.Balance)
	// OnBalanceChange fires for deposits, withdrawals and transfers.
	OnBalanceChange func(asset string, delta decimal.Decimal)
	OnOrder         func(model.OrderUpdate)
}

// UserStream follows account and order events of the authenticated user.
type UserStream struct {
	baseURL  string
	keys     ListenKeySource
	handlers UserHandlers

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

func NewUserStream(baseURL string, keys ListenKeySource, handlers UserHandlers) *UserStream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UserStream{
		baseURL:  strings.TrimRight(baseURL, "/"),
		keys:     keys,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *UserStream) Start() {
	go s.runLoop()
}

func (s *UserStream) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *UserStream) runLoop() {
	delay := ReconnBaseDelay
	for s.ctx.Err() == nil {
		key, err := s.keys.StartUserStream(s.ctx)
		if err == nil {
			err = s.connectAndRead(key)
		}
		if s.ctx.Err() != nil {
			return
		}
		logger.Error("User stream disconnected", "error", err, "retry_in", delay)
		t := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay = min(delay*2, ReconnMaxDelay)
	}
}

func (s *UserStream) connectAndRead(listenKey string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.baseURL+"/ws/"+listenKey, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(listenKey, done)

	logger.Info("User stream connected")
	for {
		conn.SetReadDeadline(time.Now().Add(KeepalivePeriod + time.Minute))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *UserStream) keepalive(listenKey string, done <-chan struct{}) {
	ticker := time.NewTicker(KeepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.keys.KeepaliveUserStream(s.ctx, listenKey); err != nil {
				logger.Warn("User stream keepalive failed", "error", err)
			}
		}
	}
}

type eventHeader struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

type accountPositionEvent struct {
	Event      string `json:"e"`
	EventTime  int64  `json:"E"`
	LastUpdate int64  `json:"u"`
	Balances   []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

type balanceUpdateEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Asset     string `json:"a"`
	Delta     string `json:"d"`
	ClearTime int64  `json:"T"`
}

// Keys that differ only in case are all declared so each binds exactly.
type executionReportEvent struct {
	Event              string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	Side               string `json:"S"`
	ClientOrderID      string `json:"c"`
	OrigClientOrderID  string `json:"C"`
	OrderType          string `json:"o"`
	TimeInForce        string `json:"f"`
	Quantity           string `json:"q"`
	QuoteOrderQty      string `json:"Q"`
	Price              string `json:"p"`
	StopPrice          string `json:"P"`
	ExecutionType      string `json:"x"`
	Status             string `json:"X"`
	OrderID            int64  `json:"i"`
	Ignore             int64  `json:"I"`
	LastQuantity       string `json:"l"`
	LastPrice          string `json:"L"`
	CumulativeQuantity string `json:"z"`
	CumulativeQuote    string `json:"Z"`
	Commission         string `json:"n"`
	CommissionAsset    string `json:"N"`
	TradeID            int64  `json:"t"`
	TransactionTime    int64  `json:"T"`
	OnBook             bool   `json:"w"`
	Maker              bool   `json:"m"`
	CreatedAt          int64  `json:"O"`
}

func (s *UserStream) handleMessage(raw []byte) {
	var h eventHeader
	if err := sonic.Unmarshal(raw, &h); err != nil {
		logger.Debug("Skipping user stream message", "error", err)
		return
	}

	switch h.Event {
	case "outboundAccountPosition":
		var ev accountPositionEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			logger.Warn("Bad account position event", "error", err)
			return
		}
		if s.handlers.OnBalance == nil {
			return
		}
		for _, b := range ev.Balances {
			s.handlers.OnBalance(model.Balance{Asset: b.Asset, Free: dec(b.Free), Locked: dec(b.Locked)})
		}

	case "balanceUpdate":
		var ev balanceUpdateEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			logger.Warn("Bad balance update event", "error", err)
			return
		}
		if s.handlers.OnBalanceChange != nil {
			s.handlers.OnBalanceChange(ev.Asset, dec(ev.Delta))
		}

	case "executionReport":
		var ev executionReportEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			logger.Warn("Bad execution report", "error", err)
			return
		}
		if s.handlers.OnOrder != nil {
			s.handlers.OnOrder(orderUpdate(ev))
		}
	}
}

func orderUpdate(ev executionReportEvent) model.OrderUpdate {
	clientID := ev.ClientOrderID
	// cancels report the canceled order's id in C
	if ev.OrigClientOrderID != "" {
		clientID = ev.OrigClientOrderID
	}
	return model.OrderUpdate{
		Pair:             ev.Symbol,
		OrderID:          ev.OrderID,
		ClientOrderID:    clientID,
		Side:             model.OrderSide(ev.Side),
		Type:             model.OrderType(ev.OrderType),
		Status:           model.OrderStatus(ev.Status),
		ExecutedQuantity: dec(ev.CumulativeQuantity),
		QuoteQuantity:    dec(ev.CumulativeQuote),
		Commission:       dec(ev.Commission),
		CommissionAsset:  ev.CommissionAsset,
		At:               time.UnixMilli(ev.TransactionTime).UTC(),
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
