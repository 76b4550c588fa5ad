package service

import (
	"context"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	OrderModeMarket    = "market"
	OrderModeOptimized = "optimized"
)

type EngineOptions struct {
	Debounce  time.Duration
	OrderMode string
	DryRun    bool
}

// Engine turns price ticks into rebalancing orders.
type Engine struct {
	app  *App
	exec *Executor
	opts EngineOptions
	wg   sync.WaitGroup
}

func NewEngine(app *App, exec *Executor, opts EngineOptions) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.OrderMode != OrderModeOptimized {
		opts.OrderMode = OrderModeMarket
	}
	return &Engine{app: app, exec: exec, opts: opts}
}

// Tick applies t and evaluates its asset before returning.
func (e *Engine) Tick(ctx context.Context, t model.Tick) {
	if asset, ok := e.observe(t); ok {
		e.evaluate(ctx, asset)
	}
}

// HandleTick applies t and evaluates its asset in the background, so one
// slow asset never holds up ticks of the others.
func (e *Engine) HandleTick(ctx context.Context, t model.Tick) {
	asset, ok := e.observe(t)
	if !ok {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.evaluate(ctx, asset)
	}()
}

// Wait blocks until background evaluations finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// observe updates price and velocity from t. It reports whether the asset
// should be evaluated, and marks it as evaluating when so.
func (e *Engine) observe(t model.Tick) (*model.Asset, bool) {
	asset, ok := e.app.AssetByPair(t.Pair)
	if !ok {
		return nil, false
	}
	price := t.Mid()
	if t.Bid.IsZero() || t.Ask.IsZero() {
		price = decimal.Max(t.Bid, t.Ask)
	}
	if price.Sign() <= 0 {
		return nil, false
	}
	interp := e.app.Settings.Effective(asset.Symbol).InterpSpeed

	asset.Lock()
	defer asset.Unlock()
	if !asset.LastTick.IsZero() && t.At.Sub(asset.LastTick) < e.opts.Debounce {
		return nil, false
	}
	if !asset.LastTick.IsZero() && asset.LastPrice.Sign() > 0 {
		ms := float64(t.At.Sub(asset.LastTick).Milliseconds())
		sample := price.Sub(asset.LastPrice).Div(price).InexactFloat64()
		asset.Velocity = lerp(asset.Velocity, sample, clamp01(interp*ms))
	}
	asset.Bid, asset.Ask, asset.Price = t.Bid, t.Ask, price
	asset.LastPrice = price
	asset.LastTick = t.At

	if asset.Evaluating {
		return nil, false
	}
	if o := asset.CurrentOrder; o != nil && !(e.opts.OrderMode == OrderModeOptimized && o.Replaceable()) {
		return nil, false
	}
	asset.Evaluating = true
	return asset, true
}

func (e *Engine) evaluate(ctx context.Context, asset *model.Asset) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Evaluation panicked", "symbol", asset.Symbol, "panic", r)
		}
		asset.Lock()
		asset.Evaluating = false
		asset.Unlock()
	}()

	asset.Lock()
	symbol, price, filter := asset.Symbol, asset.Price, asset.Filter
	velocity, force := asset.Velocity, asset.ForceTrade
	asset.Unlock()

	target, ok := e.app.Settings.Allocation(symbol)
	if !ok {
		return
	}
	eff := e.app.Settings.Effective(symbol)

	holding, err := e.app.Balances.Free(ctx, symbol)
	if err != nil {
		e.app.Messages.Error(symbol, "balance unavailable: %v", err)
		return
	}
	if eff.Staking {
		holding = holding.Add(e.app.Staking.StakedQuantity(ctx, symbol))
	}

	d := Decide(DecisionInput{
		Holding:  holding,
		Price:    price,
		Target:   target,
		Step:     filter.StepSize,
		Velocity: velocity,
		Force:    force,
		Settings: eff,
	})
	asset.Lock()
	asset.Delta = d.DeltaUSD
	asset.Unlock()
	metrics.Decisions.WithLabelValues(string(d.Outcome)).Inc()

	switch d.Outcome {
	case OutcomeBuy, OutcomeSell:
	case OutcomeVelocity:
		logger.Debug("Holding against price move", "symbol", symbol, "velocity", velocity, "delta", d.DeltaUSD.String())
		return
	default:
		return
	}

	qty := d.Quantity
	if d.Outcome == OutcomeBuy && !force {
		clamped, err := e.app.Guard.ClampBuy(ctx, symbol, qty, price, filter.StepSize, eff.MaxDailyLoss)
		if err != nil {
			e.app.Messages.Warn(symbol, "today's profit unavailable, skipping buy: %v", err)
			return
		}
		if clamped.IsZero() {
			e.app.Messages.Warn(symbol, "daily loss limit %.2f reached", eff.MaxDailyLoss)
			return
		}
		if clamped.LessThan(qty) {
			e.app.Messages.Notice(symbol, "buy clamped from %s to %s by daily loss limit", qty, clamped)
			qty = clamped
		}
	}

	if reason := CheckMinimums(qty, price, filter); reason != "" {
		metrics.Decisions.WithLabelValues(string(reason)).Inc()
		switch reason {
		case OutcomeQtyTooSmall:
			e.app.Messages.Info(symbol, "quantity too small: %s < %s", qty.Abs(), filter.MinQty)
		case OutcomeNotionalTooSmall:
			e.app.Messages.Info(symbol, "notional too small: %s < %s", qty.Abs().Mul(price).StringFixed(2), filter.MinNotional)
		}
		if force {
			e.settle(asset)
		}
		return
	}

	if e.opts.DryRun {
		e.app.Messages.Notice(symbol, "dry run: %s %s at %s (%s USD)", model.SideOf(qty), qty.Abs(), price, qty.Mul(price).Abs().StringFixed(2))
		e.settle(asset)
		return
	}

	if e.opts.OrderMode == OrderModeOptimized {
		e.exec.OrderOptimized(ctx, symbol, qty)
	} else {
		e.exec.Order(ctx, symbol, qty)
	}
	e.settle(asset)
}

// settle clears the tracked delta and force flag once a trade was attempted.
func (e *Engine) settle(asset *model.Asset) {
	asset.Lock()
	asset.Delta = decimal.Zero
	asset.ForceTrade = false
	asset.Unlock()
}
