package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeExchange records every call. Handlers left nil return empty results.
type fakeExchange struct {
	mu    sync.Mutex
	calls map[string]int

	account      *model.Account
	accountDelay time.Duration
	info         *model.ExchangeInfo
	prices       map[string]decimal.Decimal
	trades       map[string][]model.Trade

	orders   []model.OrderRequest
	replaces []model.CancelReplaceRequest
	requests []model.RawRequest

	orderFn   func(model.OrderRequest) (*model.OrderResult, error)
	replaceFn func(model.CancelReplaceRequest) (*model.OrderResult, error)
	doFn      func(model.RawRequest) ([]byte, error)
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		calls:   make(map[string]int),
		account: &model.Account{Balances: map[string]model.Balance{}},
		info: &model.ExchangeInfo{
			Symbols: map[string]model.SymbolInfo{
				"BTCUSDT": {Pair: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING", Filter: model.LotFilter{
					StepSize: d("0.001"), MinQty: d("0.001"), TickSize: d("0.01"), MinNotional: d("5"),
				}},
				"ETHUSDT": {Pair: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Status: "TRADING", Filter: model.LotFilter{
					StepSize: d("0.0001"), MinQty: d("0.0001"), TickSize: d("0.01"), MinNotional: d("5"),
				}},
				"WBETHETH": {Pair: "WBETHETH", BaseAsset: "WBETH", QuoteAsset: "ETH", Status: "TRADING", Filter: model.LotFilter{
					StepSize: d("0.0001"), MinQty: d("0.0001"), TickSize: d("0.00001"),
				}},
			},
		},
		prices: make(map[string]decimal.Decimal),
		trades: make(map[string][]model.Trade),
	}
}

func (f *fakeExchange) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeExchange) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeExchange) placed() []model.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OrderRequest(nil), f.orders...)
}

func (f *fakeExchange) setBalance(asset, free string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account.Balances[asset] = model.Balance{Asset: asset, Free: d(free)}
}

func (f *fakeExchange) Account(ctx context.Context) (*model.Account, error) {
	f.hit("account")
	f.mu.Lock()
	acc := &model.Account{Balances: make(map[string]model.Balance, len(f.account.Balances)), UpdatedAt: time.Now()}
	for k, v := range f.account.Balances {
		acc.Balances[k] = v
	}
	delay := f.accountDelay
	f.mu.Unlock()
	// the snapshot is taken on request and answered after the delay
	time.Sleep(delay)
	return acc, nil
}

func (f *fakeExchange) ExchangeInfo(ctx context.Context) (*model.ExchangeInfo, error) {
	f.hit("exchangeInfo")
	return f.info, nil
}

func (f *fakeExchange) Candles(ctx context.Context, req model.CandleRequest) ([]model.Candle, error) {
	f.hit("klines")
	return nil, nil
}

func (f *fakeExchange) MyTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error) {
	f.hit("myTrades")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Trade(nil), f.trades[pair]...), nil
}

func (f *fakeExchange) TickerPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	f.hit("tickerPrice")
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", pair)
	}
	return p, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	f.hit("order")
	f.mu.Lock()
	f.orders = append(f.orders, req)
	fn := f.orderFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil, errors.New("orders disabled")
}

func (f *fakeExchange) CancelOrder(ctx context.Context, pair string, orderID int64) error {
	f.hit("cancelOrder")
	return nil
}

func (f *fakeExchange) CancelReplace(ctx context.Context, req model.CancelReplaceRequest) (*model.OrderResult, error) {
	f.hit("cancelReplace")
	f.mu.Lock()
	f.replaces = append(f.replaces, req)
	fn := f.replaceFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil, errors.New("replace disabled")
}

func (f *fakeExchange) StartUserStream(ctx context.Context) (string, error) {
	f.hit("userDataStream")
	return "listen-key", nil
}

func (f *fakeExchange) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	f.hit("userDataStream")
	return nil
}

func (f *fakeExchange) Do(ctx context.Context, req model.RawRequest) ([]byte, error) {
	f.hit(req.Path)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.doFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil, errors.New("no handler for " + req.Path)
}

func (f *fakeExchange) rawRequests(path string) []model.RawRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RawRequest
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// filledMarket answers market orders as fully filled at price.
func filledMarket(price string) func(model.OrderRequest) (*model.OrderResult, error) {
	var id int64
	var mu sync.Mutex
	return func(req model.OrderRequest) (*model.OrderResult, error) {
		mu.Lock()
		id++
		orderID := id
		mu.Unlock()
		var qty decimal.Decimal
		if req.QuoteQuantity != "" {
			qty = d(req.QuoteQuantity).Div(d(price))
		} else {
			qty = d(req.Quantity)
		}
		return &model.OrderResult{
			Pair:             req.Pair,
			OrderID:          orderID,
			ClientOrderID:    req.ClientOrderID,
			Status:           model.OrderStatusFilled,
			ExecutedQuantity: qty,
			QuoteQuantity:    qty.Mul(d(price)),
			TransactTime:     time.Now(),
		}, nil
	}
}

// memStore is an in-memory SettingsStore.
type memStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves map[string]int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte), saves: make(map[string]int)}
}

func (s *memStore) Load(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (s *memStore) Save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = raw
	s.saves[key]++
	return nil
}

func (s *memStore) saveCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[key]
}

var testGlobals = model.Globals{
	BuyThreshold:  20,
	SellThreshold: 20,
	MaxDailyLoss:  0,
	InterpSpeed:   0.001,
	EnableBuy:     true,
	EnableSell:    true,
	QuoteCurrency: "USDT",
}

type testEnv struct {
	ex     *fakeExchange
	app    *App
	exec   *Executor
	trades *MemoryTradeStore
	store  *memStore
}

func newTestEnv(t *testing.T, allocations map[string]float64) *testEnv {
	t.Helper()
	ex := newFakeExchange()
	gw := NewGateway(ex, GatewayOptions{})
	store := newMemStore()
	settings := NewSettingsRepo(store, testGlobals, time.Millisecond)
	if err := settings.Load(context.Background(), allocations); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	msgs, err := NewMessageLog("", 200)
	if err != nil {
		t.Fatalf("message log: %v", err)
	}
	trades := NewMemoryTradeStore()
	app := NewApp(AppDeps{
		Gateway:  gw,
		Settings: settings,
		Balances: NewBalances(gw),
		Staking:  NewStakingLedger(gw, msgs, StakingOptions{SwapRoutes: map[string]string{"ETH": "WBETH"}}),
		Trades:   trades,
		Guard:    NewDailyLossGuard(trades, time.Minute),
		Messages: msgs,
	})
	if err := app.Preload(context.Background()); err != nil {
		t.Fatalf("preload: %v", err)
	}
	t.Cleanup(func() { settings.Close() })
	return &testEnv{
		ex:     ex,
		app:    app,
		exec:   NewExecutor(app, ExecutorOptions{StopOffsetTicks: 10}),
		trades: trades,
		store:  store,
	}
}

func (e *testEnv) asset(t *testing.T, symbol string) *model.Asset {
	t.Helper()
	a, ok := e.app.Asset(symbol)
	if !ok {
		t.Fatalf("asset %s not loaded", symbol)
	}
	return a
}

func (e *testEnv) messages(symbol string) []string {
	var out []string
	for _, m := range e.app.Messages.List(symbol, 0) {
		out = append(out, m.Text)
	}
	return out
}
