package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	DefaultStreamURL = "wss://stream.binance.com:9443"
	TestnetStreamURL = "wss://stream.testnet.binance.vision"

	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second // Keep-alive interval
)

// BookTickerStream follows best bid/ask of the subscribed pairs over one
// combined stream connection, reconnecting with backoff.
type BookTickerStream struct {
	baseURL string
	handler TickHandler
	quotes  *Quotes
	now     func() time.Time

	mu          sync.RWMutex
	conn        *websocket.Conn
	subs        []string
	isConnected bool
	nextID      int64

	// gorilla allows one concurrent writer
	wmu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBookTickerStream(baseURL string, handler TickHandler) *BookTickerStream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BookTickerStream{
		baseURL: strings.TrimRight(baseURL, "/"),
		handler: handler,
		quotes:  NewQuotes(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the connection loop in a background goroutine
func (s *BookTickerStream) Start() {
	go s.runLoop()
}

func (s *BookTickerStream) Stop() {
	s.cancel()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *BookTickerStream) Quote(pair string) (model.Tick, bool) {
	return s.quotes.Get(pair)
}

// Subscribe adds pairs to the subscription list and subscribes them on the
// live connection, if any.
func (s *BookTickerStream) Subscribe(pairs []string) error {
	s.mu.Lock()
	added := make([]string, 0, len(pairs))
	for _, p := range pairs {
		p = strings.ToUpper(p)
		found := false
		for _, existing := range s.subs {
			if existing == p {
				found = true
				break
			}
		}
		if !found {
			s.subs = append(s.subs, p)
			added = append(added, p)
		}
	}
	connected := s.isConnected
	s.mu.Unlock()

	if len(added) > 0 && connected {
		return s.sendSubscribe(added)
	}
	return nil
}

func (s *BookTickerStream) runLoop() {
	delay := ReconnBaseDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.connect(); err != nil {
			logger.Error("Market stream connection failed", "error", err, "retry_in", delay)
			if !s.sleep(delay) {
				return
			}
			delay = min(delay*2, ReconnMaxDelay)
			continue
		}

		// Connected successfully
		delay = ReconnBaseDelay
		s.mu.Lock()
		s.isConnected = true
		allSubs := append([]string(nil), s.subs...)
		s.mu.Unlock()

		if len(allSubs) > 0 {
			if err := s.sendSubscribe(allSubs); err != nil {
				logger.Error("Failed to resubscribe", "error", err)
				s.disconnect()
				continue
			}
		}

		s.readLoop()
		s.disconnect()
	}
}

func (s *BookTickerStream) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *BookTickerStream) connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.baseURL+"/stream", nil)
	if err != nil {
		return err
	}

	// If we don't receive ANY data (or Pong) within PingPeriod + Buffer, we assume dead.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.pinger(conn)
	return nil
}

func (s *BookTickerStream) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *BookTickerStream) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.isConnected = false
}

type combinedMessage struct {
	Stream string         `json:"stream"`
	Data   bookTickerData `json:"data"`
}

// Single-letter keys differ only in case, so both spellings are declared.
type bookTickerData struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	BidQty   string `json:"B"`
	Ask      string `json:"a"`
	AskQty   string `json:"A"`
}

func (s *BookTickerStream) readLoop() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	readTimeout := PingPeriod + 10*time.Second
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Error("Market stream read error", "error", err)
			}
			return
		}

		var msg combinedMessage
		if err := sonic.Unmarshal(message, &msg); err != nil {
			logger.Debug("Skipping market stream message", "error", err)
			continue
		}
		// subscription acks carry no stream
		if msg.Stream == "" || msg.Data.Symbol == "" {
			continue
		}
		s.processTicker(msg.Data)
	}
}

func (s *BookTickerStream) processTicker(d bookTickerData) {
	bid, err := decimal.NewFromString(d.Bid)
	if err != nil {
		return
	}
	ask, err := decimal.NewFromString(d.Ask)
	if err != nil {
		return
	}
	t := model.Tick{Pair: d.Symbol, Bid: bid, Ask: ask, At: s.now()}
	if !s.quotes.Update(t) {
		return
	}
	if s.handler != nil {
		s.handler(t)
	}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (s *BookTickerStream) sendSubscribe(pairs []string) error {
	params := make([]string, 0, len(pairs))
	for _, p := range pairs {
		params = append(params, strings.ToLower(p)+"@bookTicker")
	}

	s.mu.Lock()
	conn := s.conn
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	raw, err := sonic.Marshal(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: id})
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}
