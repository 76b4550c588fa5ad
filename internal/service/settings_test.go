package service

import (
	"context"
	"testing"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepo_SeedsAllocationsOnce(t *testing.T) {
	store := newMemStore()
	repo := NewSettingsRepo(store, testGlobals, time.Hour)
	require.NoError(t, repo.Load(context.Background(), map[string]float64{"btc": 100, "eth": 50}))
	assert.Equal(t, []string{"BTC", "ETH"}, repo.Symbols())

	repo.SetAllocation("SOL", 25)
	repo.RemoveAllocation("ETH")
	require.NoError(t, repo.Close())

	reloaded := NewSettingsRepo(store, testGlobals, time.Hour)
	require.NoError(t, reloaded.Load(context.Background(), map[string]float64{"xrp": 10}))
	assert.Equal(t, map[string]float64{"BTC": 100, "SOL": 25}, reloaded.Allocations())
}

func TestSettingsRepo_CoalescesWrites(t *testing.T) {
	store := newMemStore()
	repo := NewSettingsRepo(store, testGlobals, time.Hour)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Load(context.Background(), nil))

	for i := 0; i < 50; i++ {
		repo.SetAllocation("BTC", float64(i))
	}
	assert.Zero(t, store.saveCount(keyAllocations))
	require.NoError(t, repo.Flush())
	assert.Equal(t, 1, store.saveCount(keyAllocations))

	var saved map[string]float64
	found, err := store.Load(context.Background(), keyAllocations, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 49.0, saved["BTC"])
}

func TestSettingsRepo_DebouncedFlush(t *testing.T) {
	store := newMemStore()
	repo := NewSettingsRepo(store, testGlobals, 10*time.Millisecond)
	t.Cleanup(func() { repo.Close() })
	repo.SetAllocation("BTC", 1)
	repo.SetAllocation("BTC", 2)
	assert.Eventually(t, func() bool { return store.saveCount(keyAllocations) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSettingsRepo_EffectiveMergesOverrides(t *testing.T) {
	repo := NewSettingsRepo(newMemStore(), testGlobals, time.Hour)
	t.Cleanup(func() { repo.Close() })

	buy := 5.0
	repo.SetThreshold("BTC", &buy, nil)
	eff := repo.Effective("BTC")
	assert.Equal(t, 5.0, eff.BuyThreshold)
	assert.Equal(t, testGlobals.SellThreshold, eff.SellThreshold)
	assert.Equal(t, testGlobals.BuyThreshold, repo.Effective("ETH").BuyThreshold)

	assert.False(t, repo.ToggleEnableBuy("BTC"))
	assert.False(t, repo.Effective("BTC").EnableBuy)
	assert.True(t, repo.ToggleEnableBuy("BTC"))
	assert.True(t, repo.Effective("BTC").EnableBuy)

	// a global off switch wins over the asset flag
	repo.UpdateGlobals(func(g *model.Globals) { g.EnableSell = false })
	assert.False(t, repo.Effective("BTC").EnableSell)
	assert.False(t, repo.ToggleEnableSell("BTC"))
	assert.True(t, repo.ToggleEnableSell("BTC"))
	assert.False(t, repo.Effective("BTC").EnableSell)

	repo.SetStaking("BTC", true)
	assert.True(t, repo.Effective("BTC").Staking)
	assert.False(t, repo.Effective("ETH").Staking)
}

func TestSettingsRepo_OverridesPersistAcrossLoad(t *testing.T) {
	store := newMemStore()
	repo := NewSettingsRepo(store, testGlobals, time.Hour)
	sell := 42.0
	repo.SetThreshold("ETH", nil, &sell)
	repo.UpdateGlobals(func(g *model.Globals) { g.QuoteCurrency = "USDC" })
	require.NoError(t, repo.Close())

	reloaded := NewSettingsRepo(store, testGlobals, time.Hour)
	require.NoError(t, reloaded.Load(context.Background(), nil))
	assert.Equal(t, 42.0, reloaded.Effective("ETH").SellThreshold)
	assert.Equal(t, "USDC", reloaded.QuoteCurrency())
}
