package service

import (
	"context"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/lot"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// quoteStep is the granularity quote currency redemptions are rounded up to.
var quoteStep = decimal.New(1, -2)

type ExecutorOptions struct {
	// StopOffsetTicks is how many ticks from the price optimized orders
	// place their stop.
	StopOffsetTicks int
	// BuyBufferPct is quote headroom kept on top of a buy's notional when
	// checking liquidity.
	BuyBufferPct float64
}

// Executor places orders for assets. An asset never has more than one
// outstanding order.
type Executor struct {
	app  *App
	opts ExecutorOptions
	now  func() time.Time
}

func NewExecutor(app *App, opts ExecutorOptions) *Executor {
	if opts.StopOffsetTicks <= 0 {
		opts.StopOffsetTicks = 10
	}
	return &Executor{app: app, opts: opts, now: time.Now}
}

// claim reserves the asset for a new order. It fails when one is already
// outstanding.
func (x *Executor) claim(asset *model.Asset, order *model.Order) bool {
	asset.Lock()
	defer asset.Unlock()
	if asset.CurrentOrder != nil {
		return false
	}
	asset.CurrentOrder = order
	return true
}

func (x *Executor) release(asset *model.Asset, clientID string) {
	asset.Lock()
	defer asset.Unlock()
	if asset.CurrentOrder != nil && asset.CurrentOrder.ClientID == clientID {
		asset.CurrentOrder = nil
	}
}

// Order market-trades qty of symbol, positive buys. It reports whether the
// order filled.
func (x *Executor) Order(ctx context.Context, symbol string, qty decimal.Decimal) bool {
	asset, ok := x.app.Asset(symbol)
	if !ok || qty.IsZero() {
		return false
	}
	asset.Lock()
	price, filter, pair := asset.Price, asset.Filter, asset.Pair
	asset.Unlock()

	order := &model.Order{
		Symbol:    symbol,
		Pair:      pair,
		Quantity:  qty,
		Price:     price,
		Type:      model.OrderTypeMarket,
		ClientID:  uuid.NewString(),
		Status:    model.OrderStatusPending,
		CreatedAt: x.now(),
	}
	if !x.claim(asset, order) {
		return false
	}
	defer x.release(asset, order.ClientID)

	x.ensureLiquidity(ctx, symbol, qty, price, filter)

	side := model.SideOf(qty)
	res, err := x.app.Gateway.Order(ctx, model.OrderRequest{
		Pair:          pair,
		Side:          side,
		Type:          model.OrderTypeMarket,
		Quantity:      lot.Format(qty.Abs(), filter.StepSize),
		ClientOrderID: order.ClientID,
	})
	x.app.Balances.MarkStale()
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("error", string(side)).Inc()
		x.app.Messages.Error(symbol, "%s %s failed: %v", side, qty.Abs(), err)
		return false
	}
	metrics.OrdersTotal.WithLabelValues(string(res.Status), string(side)).Inc()
	if res.Status != model.OrderStatusFilled {
		x.app.Messages.Warn(symbol, "%s %s not filled: %s", side, qty.Abs(), res.Status)
		return false
	}

	x.app.Messages.Notice(symbol, "%s %s at %s", side, res.ExecutedQuantity, res.AveragePrice().StringFixed(lot.Places(filter.TickSize)))
	x.afterFill(ctx, asset, side, res)
	return true
}

// OrderOptimized places a stop order k ticks beyond the price in the trade
// direction. A live stop order of the asset is moved with cancel/replace;
// when the replace fails the previous order stays in place.
func (x *Executor) OrderOptimized(ctx context.Context, symbol string, qty decimal.Decimal) bool {
	asset, ok := x.app.Asset(symbol)
	if !ok || qty.IsZero() {
		return false
	}
	side := model.SideOf(qty)

	asset.Lock()
	price, filter, pair := asset.Price, asset.Filter, asset.Pair
	var current *model.Order
	if asset.CurrentOrder != nil {
		o := *asset.CurrentOrder
		current = &o
	}
	asset.Unlock()
	if current != nil && !current.Replaceable() {
		return false
	}

	offset := filter.TickSize.Mul(decimal.NewFromInt(int64(x.opts.StopOffsetTicks)))
	stop := price.Sub(offset)
	if side == model.SideBuy {
		stop = price.Add(offset)
	}
	stop = lot.Round(stop, filter.TickSize)
	if stop.Sign() <= 0 {
		x.app.Messages.Warn(symbol, "stop price %s out of range", stop)
		return false
	}

	next := &model.Order{
		Symbol:    symbol,
		Pair:      pair,
		Quantity:  qty,
		Price:     price,
		StopPrice: stop,
		Type:      model.OrderTypeStopLoss,
		ClientID:  uuid.NewString(),
		Status:    model.OrderStatusPending,
		CreatedAt: x.now(),
	}
	req := model.OrderRequest{
		Pair:          pair,
		Side:          side,
		Type:          model.OrderTypeStopLoss,
		Quantity:      lot.Format(qty.Abs(), filter.StepSize),
		StopPrice:     lot.Format(stop, filter.TickSize),
		ClientOrderID: next.ClientID,
	}

	if current != nil {
		if current.Quantity.Equal(qty) && current.StopPrice.Equal(stop) {
			return true
		}
		return x.replace(ctx, asset, current, next, req)
	}

	if !x.claim(asset, next) {
		return false
	}
	x.ensureLiquidity(ctx, symbol, qty, price, filter)

	res, err := x.app.Gateway.Order(ctx, req)
	x.app.Balances.MarkStale()
	if err != nil {
		x.release(asset, next.ClientID)
		metrics.OrdersTotal.WithLabelValues("error", string(side)).Inc()
		x.app.Messages.Error(symbol, "stop %s %s @ %s failed: %v", side, qty.Abs(), stop, err)
		return false
	}
	metrics.OrdersTotal.WithLabelValues(string(res.Status), string(side)).Inc()
	return x.track(ctx, asset, next.ClientID, side, res)
}

func (x *Executor) replace(ctx context.Context, asset *model.Asset, current, next *model.Order, req model.OrderRequest) bool {
	side := req.Side
	asset.Lock()
	if cur := asset.CurrentOrder; cur == nil || cur.ClientID != current.ClientID || !cur.Replaceable() {
		asset.Unlock()
		return false
	}
	asset.CurrentOrder.ReplacingWith = next.ClientID
	asset.Unlock()

	res, err := x.app.Gateway.CancelReplace(ctx, model.CancelReplaceRequest{
		OrderRequest:  req,
		CancelOrderID: current.ExchangeID,
	})
	x.app.Balances.MarkStale()
	if err != nil {
		asset.Lock()
		var canceled bool
		if cur := asset.CurrentOrder; cur != nil && cur.ClientID == current.ClientID {
			cur.ReplacingWith = ""
			canceled = cur.Status.Terminal()
		}
		asset.Unlock()
		metrics.OrdersTotal.WithLabelValues("replace_error", string(side)).Inc()
		if canceled {
			x.release(asset, current.ClientID)
			x.app.Messages.Warn(next.Symbol, "replace of order %d failed after it was canceled: %v", current.ExchangeID, err)
			return false
		}
		x.app.Messages.Warn(next.Symbol, "replace of order %d failed, keeping it: %v", current.ExchangeID, err)
		return false
	}

	asset.Lock()
	if cur := asset.CurrentOrder; cur != nil && cur.ClientID != current.ClientID {
		asset.Unlock()
		logger.Warn("Asset claimed during replace", "symbol", next.Symbol, "order", res.OrderID, "current", cur.ClientID)
		return false
	}
	asset.CurrentOrder = next
	asset.Unlock()
	x.app.Messages.Info(next.Symbol, "moved stop %s %s to %s", side, next.Quantity.Abs(), next.StopPrice)
	return x.track(ctx, asset, next.ClientID, side, res)
}

// track records the exchange state of a placed stop order. Terminal results
// release the asset.
func (x *Executor) track(ctx context.Context, asset *model.Asset, clientID string, side model.OrderSide, res *model.OrderResult) bool {
	if res.Status.Terminal() {
		x.release(asset, clientID)
		if res.Status == model.OrderStatusFilled {
			x.afterFill(ctx, asset, side, res)
			return true
		}
		x.app.Messages.Warn(asset.Symbol, "stop order %s", res.Status)
		return false
	}
	asset.Lock()
	if asset.CurrentOrder != nil && asset.CurrentOrder.ClientID == clientID {
		asset.CurrentOrder.ExchangeID = res.OrderID
		asset.CurrentOrder.Status = res.Status
	}
	asset.Unlock()
	return true
}

// ensureLiquidity redeems staked funds when free balance cannot cover the
// order: the asset for sells, the quote currency for buys. It never blocks
// the order.
func (x *Executor) ensureLiquidity(ctx context.Context, symbol string, qty, price decimal.Decimal, filter model.LotFilter) {
	var (
		asset string
		need  decimal.Decimal
		step  decimal.Decimal
	)
	if qty.Sign() < 0 {
		if !x.app.Settings.Effective(symbol).Staking {
			return
		}
		asset, need, step = symbol, qty.Abs(), filter.StepSize
	} else {
		if !x.app.Settings.Globals().StakeQuote {
			return
		}
		buffer := decimal.NewFromFloat(1 + x.opts.BuyBufferPct/100)
		asset, need, step = x.app.Settings.QuoteCurrency(), qty.Mul(price).Mul(buffer), quoteStep
	}

	free, err := x.app.Balances.Free(ctx, asset)
	if err != nil {
		x.app.Messages.Warn(symbol, "balance of %s unavailable: %v", asset, err)
		return
	}
	if free.GreaterThanOrEqual(need) {
		return
	}
	shortfall := lot.Ceil(need.Sub(free), step)
	left, err := x.app.Staking.Redeem(ctx, asset, shortfall)
	x.app.Balances.MarkStale()
	if err != nil {
		x.app.Messages.Warn(symbol, "redeeming %s %s failed: %v", shortfall, asset, err)
	}
	if left.Sign() > 0 {
		x.app.Messages.Warn(symbol, "%s %s could not be redeemed", left, asset)
	}
}

// afterFill books a filled order: trade log, profit cache, the just-traded
// flag and, for staking assets, re-staking what was received.
func (x *Executor) afterFill(ctx context.Context, asset *model.Asset, side model.OrderSide, res *model.OrderResult) {
	now := x.now()
	asset.Lock()
	asset.LastTradeAt = now
	symbol, pair := asset.Symbol, asset.Pair
	asset.Unlock()
	x.app.Balances.MarkStale()
	x.app.Guard.Invalidate(symbol)

	quote := x.app.Settings.QuoteCurrency()
	avgCost, err := x.app.Trades.AverageBuyPrice(ctx, symbol)
	if err != nil {
		logger.Warn("Average buy price unavailable", "symbol", symbol, "error", err)
		avgCost = decimal.Zero
	}
	for _, t := range tradesFromResult(symbol, pair, side, res, now) {
		t.Profit = realisedProfit(t, avgCost, quote)
		if err := x.app.Trades.InsertTrade(ctx, t); err != nil {
			x.app.Messages.Error(symbol, "recording trade failed: %v", err)
		}
	}
	if err := x.app.Trades.RefreshAggregates(ctx); err != nil {
		logger.Warn("Refreshing profit aggregates failed", "error", err)
	}
	x.app.Guard.Invalidate(symbol)

	switch side {
	case model.SideBuy:
		if x.app.Settings.Effective(symbol).Staking {
			x.restake(ctx, symbol, symbol, res.ExecutedQuantity.Sub(res.Commission(symbol)))
		}
	case model.SideSell:
		if x.app.Settings.Globals().StakeQuote {
			x.restake(ctx, symbol, quote, res.QuoteQuantity.Sub(res.Commission(quote)))
		}
	}
}

func (x *Executor) restake(ctx context.Context, symbol, asset string, amount decimal.Decimal) {
	if amount.Sign() <= 0 {
		return
	}
	if err := x.app.Staking.Subscribe(ctx, asset, amount); err != nil {
		x.app.Messages.Warn(symbol, "re-staking %s %s failed: %v", amount, asset, err)
	}
	x.app.Balances.MarkStale()
}

// OnOrderUpdate applies an execution report from the user data stream.
// Market orders settle synchronously in Order; stop orders are booked here
// when they fill.
func (x *Executor) OnOrderUpdate(ctx context.Context, u model.OrderUpdate) {
	asset, ok := x.app.AssetByPair(u.Pair)
	if !ok {
		return
	}
	x.app.Balances.MarkStale()

	asset.Lock()
	cur := asset.CurrentOrder
	if cur == nil || cur.Type != model.OrderTypeStopLoss || (cur.ClientID != u.ClientOrderID && cur.ExchangeID != u.OrderID) {
		asset.Unlock()
		return
	}
	cur.Status = u.Status
	if cur.ExchangeID == 0 {
		cur.ExchangeID = u.OrderID
	}
	clientID := cur.ClientID
	// a cancel/replace in flight settles a canceled order itself
	replacing := cur.ReplacingWith != "" && u.Status != model.OrderStatusFilled
	asset.Unlock()
	if replacing {
		return
	}

	if !u.Status.Terminal() {
		return
	}
	x.release(asset, clientID)
	metrics.OrdersTotal.WithLabelValues(string(u.Status), string(u.Side)).Inc()
	if u.Status != model.OrderStatusFilled {
		x.app.Messages.Warn(asset.Symbol, "stop order %d %s", u.OrderID, u.Status)
		return
	}

	res := &model.OrderResult{
		Pair:             u.Pair,
		OrderID:          u.OrderID,
		ClientOrderID:    u.ClientOrderID,
		Status:           u.Status,
		ExecutedQuantity: u.ExecutedQuantity,
		QuoteQuantity:    u.QuoteQuantity,
		TransactTime:     u.At,
	}
	if u.Commission.Sign() > 0 {
		res.Fills = []model.Fill{{
			Price:           res.AveragePrice(),
			Quantity:        u.ExecutedQuantity,
			Commission:      u.Commission,
			CommissionAsset: u.CommissionAsset,
		}}
	}
	x.app.Messages.Notice(asset.Symbol, "stop %s %s filled at %s", u.Side, u.ExecutedQuantity, res.AveragePrice())
	x.afterFill(ctx, asset, u.Side, res)
}
