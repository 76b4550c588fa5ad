package service

import (
	"context"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/cache"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/lot"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// ProfitSource reports realised profit over a time bucket.
type ProfitSource interface {
	SumProfit(ctx context.Context, symbol string, bucket model.ProfitBucket) (float64, error)
}

type profitKey struct {
	symbol string
	day    string
}

// DailyLossGuard caps buys so realised losses for the UTC day stay within
// the configured maximum.
type DailyLossGuard struct {
	source ProfitSource
	cache  *cache.TTL[profitKey, float64]
	now    func() time.Time
}

func NewDailyLossGuard(source ProfitSource, ttl time.Duration) *DailyLossGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DailyLossGuard{
		source: source,
		cache:  cache.New[profitKey, float64](ttl),
		now:    time.Now,
	}
}

func (g *DailyLossGuard) key(symbol string) profitKey {
	return profitKey{symbol: symbol, day: g.now().UTC().Format("2006-01-02")}
}

// TodayProfit is the realised profit of symbol for the current UTC day.
func (g *DailyLossGuard) TodayProfit(ctx context.Context, symbol string) (float64, error) {
	return g.cache.GetOrLoad(ctx, g.key(symbol), func(ctx context.Context) (float64, error) {
		return g.source.SumProfit(ctx, symbol, model.BucketDay)
	})
}

// Invalidate drops the cached profit after a trade of symbol.
func (g *DailyLossGuard) Invalidate(symbol string) {
	g.cache.Invalidate(g.key(symbol))
}

// ClampBuy returns the buy quantity allowed for symbol: qty itself, a
// smaller step-aligned quantity that spends exactly the remaining budget,
// or zero when the budget is used up. maxDailyLoss <= 0 disables the cap.
func (g *DailyLossGuard) ClampBuy(ctx context.Context, symbol string, qty, price, step decimal.Decimal, maxDailyLoss float64) (decimal.Decimal, error) {
	if maxDailyLoss <= 0 || qty.Sign() <= 0 {
		return qty, nil
	}
	profit, err := g.TodayProfit(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	clamped := clampBuy(qty, price, step, maxDailyLoss, profit)
	switch {
	case clamped.IsZero():
		metrics.Decisions.WithLabelValues("daily_loss_exhausted").Inc()
	case clamped.LessThan(qty):
		metrics.Decisions.WithLabelValues("daily_loss_clamped").Inc()
	}
	return clamped, nil
}

func clampBuy(qty, price, step decimal.Decimal, maxDailyLoss, todayProfit float64) decimal.Decimal {
	budget := decimal.NewFromFloat(maxDailyLoss + todayProfit)
	if budget.Sign() <= 0 || price.Sign() <= 0 {
		return decimal.Zero
	}
	if qty.Mul(price).LessThanOrEqual(budget) {
		return qty
	}
	return lot.Floor(budget.Div(price), step)
}
