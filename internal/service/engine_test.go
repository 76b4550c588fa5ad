package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(pair, bid, ask string, at time.Time) model.Tick {
	return model.Tick{Pair: pair, Bid: d(bid), Ask: d(ask), At: at}
}

func hasMessage(env *testEnv, symbol, substr string) bool {
	for _, text := range env.messages(symbol) {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

func TestEngine_DryRunLogsInsteadOfOrdering(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	engine := NewEngine(env.app, env.exec, EngineOptions{DryRun: true})

	engine.Tick(context.Background(), tick("BTCUSDT", "49999", "50001", time.Now()))

	assert.Zero(t, env.ex.count("order"))
	assert.True(t, hasMessage(env, "BTC", "dry run: BUY 0.002"), "messages: %v", env.messages("BTC"))
	btc := env.asset(t, "BTC")
	assert.True(t, btc.Delta.IsZero())
	assert.False(t, btc.Evaluating)
}

func TestEngine_BuysTowardTarget(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = filledMarket("50000")
	engine := NewEngine(env.app, env.exec, EngineOptions{})

	engine.Tick(context.Background(), tick("BTCUSDT", "49999", "50001", time.Now()))

	orders := env.ex.placed()
	require.Len(t, orders, 1)
	assert.Equal(t, model.SideBuy, orders[0].Side)
	assert.Equal(t, "0.002", orders[0].Quantity)
}

func TestEngine_HoldsWithinThreshold(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.setBalance("BTC", "0.009") // 90 USD held
	engine := NewEngine(env.app, env.exec, EngineOptions{})

	engine.Tick(context.Background(), tick("BTCUSDT", "10000", "10000", time.Now()))

	assert.Zero(t, env.ex.count("order"))
	btc := env.asset(t, "BTC")
	assert.True(t, btc.Delta.IsPositive(), "delta is kept for display while holding")
}

func TestEngine_DebouncesTicks(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 0})
	engine := NewEngine(env.app, env.exec, EngineOptions{Debounce: 100 * time.Millisecond})
	t0 := time.Now()

	engine.Tick(context.Background(), tick("BTCUSDT", "100", "100", t0))
	engine.Tick(context.Background(), tick("BTCUSDT", "120", "120", t0.Add(50*time.Millisecond)))

	btc := env.asset(t, "BTC")
	assert.Equal(t, "100", btc.Price.String())
	assert.Equal(t, t0, btc.LastTick)

	engine.Tick(context.Background(), tick("BTCUSDT", "120", "120", t0.Add(150*time.Millisecond)))
	assert.Equal(t, "120", btc.Price.String())
}

func TestEngine_TracksVelocity(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 0})
	engine := NewEngine(env.app, env.exec, EngineOptions{})
	t0 := time.Now()

	engine.Tick(context.Background(), tick("BTCUSDT", "100", "100", t0))
	// interp speed 0.001 over 1s saturates the blend
	engine.Tick(context.Background(), tick("BTCUSDT", "110", "110", t0.Add(time.Second)))
	assert.InDelta(t, 10.0/110.0, env.asset(t, "BTC").Velocity, 1e-9)

	engine.Tick(context.Background(), tick("BTCUSDT", "110", "110", t0.Add(1200*time.Millisecond)))
	// 200ms at 0.001/ms moves a fifth of the way to zero
	assert.InDelta(t, 0.8*10.0/110.0, env.asset(t, "BTC").Velocity, 1e-9)
}

func TestEngine_FallingPriceHoldsBuy(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = filledMarket("40000")
	engine := NewEngine(env.app, env.exec, EngineOptions{DryRun: true})
	t0 := time.Now()

	slow := 0.00001
	env.app.Settings.UpdateOverrides("BTC", func(o *model.AssetOverrides) { o.InterpSpeed = &slow })

	btc := env.asset(t, "BTC")
	btc.Velocity = -0.5
	btc.LastTick = t0.Add(-time.Second)
	btc.LastPrice = d("50000")
	engine.Tick(context.Background(), tick("BTCUSDT", "49900", "49900", t0))

	assert.Less(t, btc.Velocity, -HysteresisBound)
	assert.False(t, hasMessage(env, "BTC", "dry run"))
	assert.True(t, btc.Delta.IsPositive())

	// the price settles and a full blend brings velocity back to zero
	env.app.Settings.UpdateOverrides("BTC", func(o *model.AssetOverrides) { o.InterpSpeed = nil })
	engine.Tick(context.Background(), tick("BTCUSDT", "49900", "49900", t0.Add(time.Second)))

	assert.Greater(t, btc.Velocity, -HysteresisBound)
	assert.True(t, hasMessage(env, "BTC", "dry run: BUY"), "messages: %v", env.messages("BTC"))
	assert.True(t, btc.Delta.IsZero(), "the buy settles the delta")
}

func TestEngine_SkipsAssetWithOutstandingOrder(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = filledMarket("50000")
	btc := env.asset(t, "BTC")
	btc.CurrentOrder = &model.Order{ClientID: "open", Type: model.OrderTypeMarket}
	engine := NewEngine(env.app, env.exec, EngineOptions{})

	engine.Tick(context.Background(), tick("BTCUSDT", "50000", "50000", time.Now()))

	assert.Zero(t, env.ex.count("order"))
	assert.Zero(t, env.ex.count("account"), "no evaluation while an order is open")
	assert.Equal(t, "50000", btc.Price.String(), "prices still update")
}

func TestEngine_DailyLossLimitBlocksBuyUnlessForced(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = filledMarket("50000")
	env.app.Settings.UpdateGlobals(func(g *model.Globals) { g.MaxDailyLoss = 10 })
	require.NoError(t, env.trades.InsertTrade(context.Background(), &model.Trade{
		Symbol: "BTC", Pair: "BTCUSDT", Side: model.SideSell, Profit: -10, ExecutedAt: time.Now(),
	}))
	require.NoError(t, env.trades.RefreshAggregates(context.Background()))
	engine := NewEngine(env.app, env.exec, EngineOptions{})
	t0 := time.Now()

	engine.Tick(context.Background(), tick("BTCUSDT", "50000", "50000", t0))
	assert.Zero(t, env.ex.count("order"))
	assert.True(t, hasMessage(env, "BTC", "daily loss limit"))

	require.NoError(t, env.app.ForceTrade("BTC"))
	engine.Tick(context.Background(), tick("BTCUSDT", "50000", "50000", t0.Add(time.Second)))
	assert.Equal(t, 1, env.ex.count("order"))
	assert.False(t, env.asset(t, "BTC").ForceTrade, "force is cleared after the attempt")
}

func TestEngine_DailyLossClampsBuy(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = filledMarket("50000")
	env.app.Settings.UpdateGlobals(func(g *model.Globals) { g.MaxDailyLoss = 60 })
	engine := NewEngine(env.app, env.exec, EngineOptions{})

	engine.Tick(context.Background(), tick("BTCUSDT", "50000", "50000", time.Now()))

	orders := env.ex.placed()
	require.Len(t, orders, 1)
	assert.Equal(t, "0.001", orders[0].Quantity)
}

func TestEngine_RejectsNotionalBelowMinimum(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"ETH": 4})
	env.ex.orderFn = filledMarket("1000")
	one := 1.0
	_, err := env.app.SetThreshold("ETH", &one, nil)
	require.NoError(t, err)
	engine := NewEngine(env.app, env.exec, EngineOptions{})

	engine.Tick(context.Background(), tick("ETHUSDT", "1000", "1000", time.Now()))

	assert.Zero(t, env.ex.count("order"))
	assert.True(t, hasMessage(env, "ETH", "notional too small"))
}

func TestEngine_OptimizedModeMovesLiveStop(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = stopResult(model.OrderStatusNew, 7)
	env.ex.replaceFn = func(req model.CancelReplaceRequest) (*model.OrderResult, error) {
		return &model.OrderResult{Pair: req.Pair, OrderID: 8, ClientOrderID: req.ClientOrderID, Status: model.OrderStatusNew}, nil
	}
	engine := NewEngine(env.app, env.exec, EngineOptions{OrderMode: OrderModeOptimized})
	t0 := time.Now()

	engine.Tick(context.Background(), tick("BTCUSDT", "50000", "50000", t0))
	require.Equal(t, 1, env.ex.count("order"))

	engine.Tick(context.Background(), tick("BTCUSDT", "49000", "49000", t0.Add(time.Second)))
	assert.Equal(t, 1, env.ex.count("cancelReplace"))
	assert.Equal(t, int64(8), env.asset(t, "BTC").CurrentOrder.ExchangeID)
}

func TestEngine_HandleTickEvaluatesInBackground(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	env.ex.orderFn = filledMarket("50000")
	engine := NewEngine(env.app, env.exec, EngineOptions{})

	engine.HandleTick(context.Background(), tick("BTCUSDT", "50000", "50000", time.Now()))
	engine.Wait()

	assert.Equal(t, 1, env.ex.count("order"))
}

func TestEngine_UnknownPairIgnored(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	engine := NewEngine(env.app, env.exec, EngineOptions{})
	engine.Tick(context.Background(), tick("DOGEUSDT", "1", "1", time.Now()))
	assert.Zero(t, env.ex.count("account"))
}
