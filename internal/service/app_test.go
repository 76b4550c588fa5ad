package service

import (
	"context"
	"testing"

	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_PreloadSkipsUnlistedSymbols(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100, "DOGE": 5, "USDT": 10})

	assert.Equal(t, []string{"BTCUSDT"}, env.app.Pairs())
	require.NotEmpty(t, env.messages("DOGE"))
	assert.Contains(t, env.messages("DOGE")[0], "skipping")

	asset, ok := env.app.AssetByPair("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTC", asset.Symbol)
	_, ok = env.app.AssetByPair("DOGEUSDT")
	assert.False(t, ok)
}

func TestApp_EnsureAsset(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a1, err := env.app.EnsureAsset(ctx, "eth")
	require.NoError(t, err)
	a2, err := env.app.EnsureAsset(ctx, "ETH")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, "ETHUSDT", a1.Pair)

	_, err = env.app.EnsureAsset(ctx, "DOGE")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestApp_SetTargetAllocation(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})
	ctx := context.Background()

	require.NoError(t, env.app.SetTargetAllocation(ctx, "eth", 40))
	alloc, ok := env.app.Settings.Allocation("ETH")
	require.True(t, ok)
	assert.Equal(t, 40.0, alloc)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, env.app.Pairs())

	require.NoError(t, env.app.SetTargetAllocation(ctx, "BTC", -1))
	_, ok = env.app.Settings.Allocation("BTC")
	assert.False(t, ok)

	err := env.app.SetTargetAllocation(ctx, "DOGE", 10)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, ok = env.app.Settings.Allocation("DOGE")
	assert.False(t, ok)
}

func TestApp_SetThreshold(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})

	_, err := env.app.SetThreshold("BTC", nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRequest))

	neg := -1.0
	_, err = env.app.SetThreshold("BTC", &neg, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRequest))

	sell := 7.5
	eff, err := env.app.SetThreshold("btc", nil, &sell)
	require.NoError(t, err)
	assert.Equal(t, 7.5, eff.SellThreshold)
	assert.Equal(t, testGlobals.BuyThreshold, eff.BuyThreshold)
}

func TestApp_ToggleAndForce(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"BTC": 100})

	assert.False(t, env.app.ToggleEnableBuy("btc"))
	assert.False(t, env.app.ToggleEnableSell("BTC"))
	assert.Contains(t, env.messages("BTC"), "buying enabled: false")

	require.NoError(t, env.app.ForceTrade("btc"))
	assert.True(t, env.asset(t, "BTC").ForceTrade)

	err := env.app.ForceTrade("ETH")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestApp_ViewsSortedBySymbol(t *testing.T) {
	env := newTestEnv(t, map[string]float64{"ETH": 10, "BTC": 100})

	views := env.app.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "BTC", views[0].Symbol)
	assert.Equal(t, "ETH", views[1].Symbol)

	v, ok := env.app.View("ETH")
	require.True(t, ok)
	assert.Equal(t, "ETH", v.Symbol)
	_, ok = env.app.View("SOL")
	assert.False(t, ok)
}
