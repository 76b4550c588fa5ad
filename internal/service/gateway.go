package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/cache"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/metrics"
	"github.com/A2K/binance-trading-cli-sub000/internal/ratelimit"
	"github.com/shopspring/decimal"
)

// Endpoint weights as published by the exchange.
const (
	weightOrder        = 1
	weightCancel       = 1
	weightAccount      = 20
	weightExchangeInfo = 20
	weightMyTrades     = 20
	weightTickerPrice  = 2
	weightUserStream   = 2
)

const (
	LimiterWeight = "weight"
	LimiterRaw    = "raw"
	LimiterOrders = "orders"
	LimiterSAPI   = "sapi"
)

// Limits used until Init replaces them with the exchange's own.
var (
	DefaultWeightWindows = []ratelimit.Window{{Capacity: 1200, Interval: time.Minute}}
	DefaultRawWindows    = []ratelimit.Window{{Capacity: 6100, Interval: 5 * time.Minute}}
	DefaultOrderWindows  = []ratelimit.Window{
		{Capacity: 50, Interval: 10 * time.Second},
		{Capacity: 160000, Interval: 24 * time.Hour},
	}
	DefaultSAPIWindows = []ratelimit.Window{{Capacity: 12000, Interval: time.Minute}}
)

type GatewayOptions struct {
	AccountTTL      time.Duration
	ExchangeInfoTTL time.Duration
	// WaitTimeout bounds limiter waits and calls. Zero waits forever.
	WaitTimeout  time.Duration
	LimiterClock []ratelimit.Option
}

// Gateway is the single egress to the exchange. Every call is paid for in
// the limiters before it is sent; tokens are not refunded when it fails.
type Gateway struct {
	ex      Exchange
	weight  *ratelimit.Composite
	raw     *ratelimit.Composite
	orders  *ratelimit.Composite
	sapi    *ratelimit.Composite
	timeout time.Duration

	account *cache.TTL[string, *model.Account]
	info    *cache.TTL[string, *model.ExchangeInfo]

	usageMu sync.Mutex
	usage   map[string]int64
}

const (
	accountKey = "account"
	infoKey    = "exchangeInfo"
)

func NewGateway(ex Exchange, opts GatewayOptions) *Gateway {
	if opts.AccountTTL <= 0 {
		opts.AccountTTL = 100 * time.Millisecond
	}
	if opts.ExchangeInfoTTL <= 0 {
		opts.ExchangeInfoTTL = time.Hour
	}
	return &Gateway{
		ex:      ex,
		weight:  ratelimit.New(LimiterWeight, DefaultWeightWindows, opts.LimiterClock...),
		raw:     ratelimit.New(LimiterRaw, DefaultRawWindows, opts.LimiterClock...),
		orders:  ratelimit.New(LimiterOrders, DefaultOrderWindows, opts.LimiterClock...),
		sapi:    ratelimit.New(LimiterSAPI, DefaultSAPIWindows, opts.LimiterClock...),
		timeout: opts.WaitTimeout,
		account: cache.New[string, *model.Account](opts.AccountTTL),
		info:    cache.New[string, *model.ExchangeInfo](opts.ExchangeInfoTTL),
		usage:   make(map[string]int64),
	}
}

// Init replaces the default limiter windows with the exchange-published
// ones. On failure the defaults stay in force.
func (g *Gateway) Init(ctx context.Context) error {
	info, err := g.ExchangeInfo(ctx)
	if err != nil {
		logger.Warn("Using default rate limits", "error", err)
		return err
	}

	windows := map[model.RateLimitKind][]ratelimit.Window{}
	for _, rl := range info.RateLimits {
		windows[rl.Kind] = append(windows[rl.Kind], ratelimit.Window{Capacity: rl.Limit, Interval: rl.Interval})
	}
	apply := func(c *ratelimit.Composite, kind model.RateLimitKind) {
		if w := windows[kind]; len(w) > 0 {
			c.Reset(w)
			logger.Info("Rate limits loaded", "limiter", c.Name(), "windows", fmt.Sprint(w))
		}
	}
	apply(g.weight, model.RateLimitRequestWeight)
	apply(g.raw, model.RateLimitRawRequests)
	apply(g.orders, model.RateLimitOrders)
	return nil
}

func (g *Gateway) waitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// throttle pays for one call: order count first when it is an order, then
// weight, then the raw request count.
func (g *Gateway) throttle(ctx context.Context, endpoint string, weight int, order bool) error {
	if order {
		if err := g.orders.Consume(ctx, 1); err != nil {
			return err
		}
	}
	w := g.weight
	if strings.HasPrefix(endpoint, "/sapi") {
		w = g.sapi
	}
	if err := w.Consume(ctx, weight); err != nil {
		return err
	}
	if err := g.raw.Consume(ctx, 1); err != nil {
		return err
	}
	g.record(endpoint, weight)
	return nil
}

func (g *Gateway) record(endpoint string, weight int) {
	g.usageMu.Lock()
	g.usage[endpoint] += int64(weight)
	g.usageMu.Unlock()
	metrics.ExchangeWeight.WithLabelValues(endpoint).Add(float64(weight))
}

// call throttles and then runs fn, timing it.
func call[T any](ctx context.Context, g *Gateway, endpoint string, weight int, order bool, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := g.waitCtx(ctx)
	defer cancel()
	if err := g.throttle(ctx, endpoint, weight, order); err != nil {
		var zero T
		return zero, err
	}
	start := time.Now()
	res, err := fn(ctx)
	metrics.LatencyBucket.WithLabelValues("exchange:" + endpoint).Observe(time.Since(start).Seconds())
	return res, err
}

func (g *Gateway) Order(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	return call(ctx, g, "order", weightOrder, true, func(ctx context.Context) (*model.OrderResult, error) {
		return g.ex.CreateOrder(ctx, req)
	})
}

func (g *Gateway) CancelOrder(ctx context.Context, pair string, orderID int64) error {
	_, err := call(ctx, g, "cancelOrder", weightCancel, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.ex.CancelOrder(ctx, pair, orderID)
	})
	return err
}

func (g *Gateway) CancelReplace(ctx context.Context, req model.CancelReplaceRequest) (*model.OrderResult, error) {
	return call(ctx, g, "cancelReplace", weightOrder, true, func(ctx context.Context) (*model.OrderResult, error) {
		return g.ex.CancelReplace(ctx, req)
	})
}

// AccountInfo returns the account snapshot. Calls within the cache window
// share one snapshot and cost nothing.
func (g *Gateway) AccountInfo(ctx context.Context) (*model.Account, error) {
	return g.account.GetOrLoad(ctx, accountKey, func(ctx context.Context) (*model.Account, error) {
		return call(ctx, g, "account", weightAccount, false, g.ex.Account)
	})
}

// InvalidateAccount drops the cached snapshot after balances changed.
func (g *Gateway) InvalidateAccount() {
	g.account.Invalidate(accountKey)
}

func (g *Gateway) ExchangeInfo(ctx context.Context) (*model.ExchangeInfo, error) {
	return g.info.GetOrLoad(ctx, infoKey, func(ctx context.Context) (*model.ExchangeInfo, error) {
		return call(ctx, g, "exchangeInfo", weightExchangeInfo, false, g.ex.ExchangeInfo)
	})
}

func (g *Gateway) Symbol(ctx context.Context, pair string) (model.SymbolInfo, error) {
	info, err := g.ExchangeInfo(ctx)
	if err != nil {
		return model.SymbolInfo{}, err
	}
	sym, ok := info.Symbols[pair]
	if !ok {
		return model.SymbolInfo{}, fmt.Errorf("unknown pair %s", pair)
	}
	return sym, nil
}

// CandleWeight is the weight of a klines request for limit candles.
func CandleWeight(limit int) int {
	switch {
	case limit < 100:
		return 1
	case limit < 500:
		return 2
	default:
		return 5
	}
}

func (g *Gateway) Candles(ctx context.Context, req model.CandleRequest) ([]model.Candle, error) {
	return call(ctx, g, "klines", CandleWeight(req.Limit), false, func(ctx context.Context) ([]model.Candle, error) {
		return g.ex.Candles(ctx, req)
	})
}

func (g *Gateway) MyTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error) {
	return call(ctx, g, "myTrades", weightMyTrades, false, func(ctx context.Context) ([]model.Trade, error) {
		return g.ex.MyTrades(ctx, pair, limit)
	})
}

func (g *Gateway) TickerPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return call(ctx, g, "tickerPrice", weightTickerPrice, false, func(ctx context.Context) (decimal.Decimal, error) {
		return g.ex.TickerPrice(ctx, pair)
	})
}

func (g *Gateway) StartUserStream(ctx context.Context) (string, error) {
	return call(ctx, g, "userDataStream", weightUserStream, false, g.ex.StartUserStream)
}

func (g *Gateway) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	_, err := call(ctx, g, "userDataStream", weightUserStream, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.ex.KeepaliveUserStream(ctx, listenKey)
	})
	return err
}

// PrivateRequest sends a signed raw request of the given weight. Paths
// under /sapi are metered by the SAPI limiter instead of request weight.
func (g *Gateway) PrivateRequest(ctx context.Context, req model.RawRequest, weight int) ([]byte, error) {
	req.Signed = true
	return call(ctx, g, req.Path, weight, false, func(ctx context.Context) ([]byte, error) {
		return g.ex.Do(ctx, req)
	})
}

func (g *Gateway) PublicRequest(ctx context.Context, req model.RawRequest, weight int) ([]byte, error) {
	req.Signed = false
	return call(ctx, g, req.Path, weight, false, func(ctx context.Context) ([]byte, error) {
		return g.ex.Do(ctx, req)
	})
}

// WeightUsage returns the weight spent per endpoint since start.
func (g *Gateway) WeightUsage() map[string]int64 {
	g.usageMu.Lock()
	defer g.usageMu.Unlock()
	out := make(map[string]int64, len(g.usage))
	for k, v := range g.usage {
		out[k] = v
	}
	return out
}

type LimiterStatus struct {
	Limiter string                   `json:"limiter"`
	Windows []ratelimit.BucketStatus `json:"windows"`
}

// LimiterStatus reports current and max tokens of every limiter window and
// mirrors them into the limiter gauge.
func (g *Gateway) LimiterStatus() []LimiterStatus {
	out := make([]LimiterStatus, 0, 4)
	for _, c := range []*ratelimit.Composite{g.weight, g.raw, g.orders, g.sapi} {
		st := c.Status()
		for _, b := range st {
			metrics.LimiterTokens.WithLabelValues(c.Name(), b.Interval.String()).Set(b.Tokens)
		}
		out = append(out, LimiterStatus{Limiter: c.Name(), Windows: st})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Limiter < out[j].Limiter })
	return out
}
