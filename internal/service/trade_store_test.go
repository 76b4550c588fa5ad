package service

import (
	"context"
	"testing"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTradeStore_InsertDeduplicatesExchangeIDs(t *testing.T) {
	s := NewMemoryTradeStore()
	ctx := context.Background()
	now := time.Now()

	t1 := &model.Trade{ExchangeID: 7, Symbol: "BTC", Pair: "BTCUSDT", Side: model.SideBuy, Quantity: d("1"), QuoteQuantity: d("100"), ExecutedAt: now}
	require.NoError(t, s.InsertTrade(ctx, t1))
	assert.Equal(t, int64(1), t1.ID)

	dup := *t1
	dup.ID = 0
	require.NoError(t, s.InsertTrade(ctx, &dup))
	assert.Zero(t, dup.ID)

	// trades without an exchange id are never duplicates
	require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: "BTC", Pair: "BTCUSDT", ExecutedAt: now}))
	require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: "BTC", Pair: "BTCUSDT", ExecutedAt: now}))

	all, err := s.QueryTrades(ctx, "BTC", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryTradeStore_QueryNewestFirst(t *testing.T) {
	s := NewMemoryTradeStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, sym := range []string{"BTC", "ETH", "BTC"} {
		require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: sym, Pair: sym + "USDT", ExecutedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	btc, err := s.QueryTrades(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.True(t, btc[0].ExecutedAt.After(btc[1].ExecutedAt))

	latest, err := s.QueryTrades(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "BTC", latest[0].Symbol)
}

func TestMemoryTradeStore_ProfitNeedsRefresh(t *testing.T) {
	s := NewMemoryTradeStore()
	now := time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC) // Wednesday
	s.now = func() time.Time { return now }
	ctx := context.Background()

	add := func(sym string, at time.Time, profit float64) {
		require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: sym, Pair: sym + "USDT", Profit: profit, ExecutedAt: at}))
	}
	add("BTC", now.Add(-time.Hour), -3)
	add("BTC", now.Add(-24*time.Hour), 5) // Tuesday
	add("BTC", now.AddDate(0, 0, -10), 7) // last month
	add("ETH", now.Add(-2*time.Hour), 11)

	day, _ := s.SumProfit(ctx, "BTC", model.BucketDay)
	assert.Zero(t, day, "aggregates are stale until refreshed")

	require.NoError(t, s.RefreshAggregates(ctx))
	day, _ = s.SumProfit(ctx, "BTC", model.BucketDay)
	week, _ := s.SumProfit(ctx, "BTC", model.BucketWeek)
	all, _ := s.SumProfit(ctx, "BTC", model.BucketAll)
	everyone, _ := s.SumProfit(ctx, "", model.BucketDay)

	assert.Equal(t, -3.0, day)
	assert.Equal(t, 2.0, week)
	assert.Equal(t, 9.0, all)
	assert.Equal(t, 8.0, everyone)
}

func TestMemoryTradeStore_AverageBuyPrice(t *testing.T) {
	s := NewMemoryTradeStore()
	ctx := context.Background()
	require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: "BTC", Side: model.SideBuy, Quantity: d("1"), QuoteQuantity: d("100")}))
	require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: "BTC", Side: model.SideBuy, Quantity: d("3"), QuoteQuantity: d("500")}))
	require.NoError(t, s.InsertTrade(ctx, &model.Trade{Symbol: "BTC", Side: model.SideSell, Quantity: d("2"), QuoteQuantity: d("1000")}))

	avg, err := s.AverageBuyPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, avg.Equal(d("150")))

	none, _ := s.AverageBuyPrice(ctx, "ETH")
	assert.True(t, none.IsZero())
}

func TestProfitBucketSince(t *testing.T) {
	now := time.Date(2024, 3, 6, 15, 4, 5, 0, time.UTC) // Wednesday
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), model.BucketDay.Since(now))
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), model.BucketWeek.Since(now))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), model.BucketMonth.Since(now))
	assert.True(t, model.BucketAll.Since(now).IsZero())

	_, ok := model.ParseProfitBucket("year")
	assert.False(t, ok)
	b, ok := model.ParseProfitBucket("")
	assert.True(t, ok)
	assert.Equal(t, model.BucketDay, b)
}
