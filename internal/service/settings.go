package service

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/coalesce"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/samber/lo"
)

// SettingsStore persists one JSON document per key.
type SettingsStore interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Save(ctx context.Context, key string, value any) error
}

const (
	keyGlobals     = "globals"
	keyOverrides   = "overrides"
	keyAllocations = "allocations"
)

// SettingsRepo owns global settings, per-asset overrides and the target
// allocation map. Every mutation is persisted through a coalescing writer.
type SettingsRepo struct {
	store       SettingsStore
	mu          sync.RWMutex
	globals     model.Globals
	overrides   map[string]model.AssetOverrides
	allocations map[string]float64

	globalsW     *coalesce.Writer[model.Globals]
	overridesW   *coalesce.Writer[map[string]model.AssetOverrides]
	allocationsW *coalesce.Writer[map[string]float64]
}

func NewSettingsRepo(store SettingsStore, defaults model.Globals, debounce time.Duration) *SettingsRepo {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	r := &SettingsRepo{
		store:       store,
		globals:     defaults,
		overrides:   make(map[string]model.AssetOverrides),
		allocations: make(map[string]float64),
	}
	r.globalsW = coalesce.NewWriter(debounce, func(v model.Globals) error {
		return r.save(keyGlobals, v)
	}, onSaveError(keyGlobals))
	r.overridesW = coalesce.NewWriter(debounce, func(v map[string]model.AssetOverrides) error {
		return r.save(keyOverrides, v)
	}, onSaveError(keyOverrides))
	r.allocationsW = coalesce.NewWriter(debounce, func(v map[string]float64) error {
		return r.save(keyAllocations, v)
	}, onSaveError(keyAllocations))
	return r
}

func (r *SettingsRepo) save(key string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.store.Save(ctx, key, v)
}

func onSaveError(key string) func(error) {
	return func(err error) {
		logger.Error("Failed to persist settings", "key", key, "error", err)
	}
}

// Load reads stored settings over the defaults. seed fills the allocation
// map when the store has none.
func (r *SettingsRepo) Load(ctx context.Context, seed map[string]float64) error {
	var (
		globals     = r.Globals()
		overrides   = map[string]model.AssetOverrides{}
		allocations = map[string]float64{}
	)
	if _, err := r.store.Load(ctx, keyGlobals, &globals); err != nil {
		return err
	}
	if _, err := r.store.Load(ctx, keyOverrides, &overrides); err != nil {
		return err
	}
	found, err := r.store.Load(ctx, keyAllocations, &allocations)
	if err != nil {
		return err
	}
	if !found {
		// config keys arrive lowercased
		for symbol, usd := range seed {
			allocations[strings.ToUpper(symbol)] = usd
		}
	}

	r.mu.Lock()
	r.globals = globals
	r.overrides = overrides
	r.allocations = allocations
	r.mu.Unlock()
	return nil
}

func (r *SettingsRepo) Globals() model.Globals {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.globals
}

func (r *SettingsRepo) UpdateGlobals(fn func(*model.Globals)) model.Globals {
	r.mu.Lock()
	fn(&r.globals)
	g := r.globals
	r.mu.Unlock()
	r.globalsW.Write(g)
	return g
}

func (r *SettingsRepo) QuoteCurrency() string {
	return r.Globals().QuoteCurrency
}

func (r *SettingsRepo) Overrides(symbol string) model.AssetOverrides {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides[symbol]
}

// UpdateOverrides applies fn to a copy of the symbol's overrides. fn must
// assign fresh pointers rather than write through existing ones.
func (r *SettingsRepo) UpdateOverrides(symbol string, fn func(*model.AssetOverrides)) model.AssetOverrides {
	r.mu.Lock()
	o := r.overrides[symbol]
	fn(&o)
	r.overrides[symbol] = o
	snapshot := maps.Clone(r.overrides)
	r.mu.Unlock()
	r.overridesW.Write(snapshot)
	return o
}

func (r *SettingsRepo) Effective(symbol string) model.EffectiveSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides[symbol].Resolve(r.globals)
}

func (r *SettingsRepo) Allocation(symbol string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.allocations[symbol]
	return v, ok
}

func (r *SettingsRepo) Allocations() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.allocations)
}

// Symbols lists allocated symbols in sorted order.
func (r *SettingsRepo) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := lo.Keys(r.allocations)
	slices.Sort(keys)
	return keys
}

func (r *SettingsRepo) SetAllocation(symbol string, usd float64) {
	r.mu.Lock()
	r.allocations[symbol] = usd
	snapshot := maps.Clone(r.allocations)
	r.mu.Unlock()
	r.allocationsW.Write(snapshot)
}

func (r *SettingsRepo) RemoveAllocation(symbol string) {
	r.mu.Lock()
	delete(r.allocations, symbol)
	snapshot := maps.Clone(r.allocations)
	r.mu.Unlock()
	r.allocationsW.Write(snapshot)
}

// SetThreshold overrides the buy and/or sell threshold of one symbol.
func (r *SettingsRepo) SetThreshold(symbol string, buy, sell *float64) model.AssetOverrides {
	return r.UpdateOverrides(symbol, func(o *model.AssetOverrides) {
		if buy != nil {
			o.BuyThreshold = lo.ToPtr(*buy)
		}
		if sell != nil {
			o.SellThreshold = lo.ToPtr(*sell)
		}
	})
}

// ToggleEnableBuy flips the per-asset buy flag and returns the new value.
func (r *SettingsRepo) ToggleEnableBuy(symbol string) bool {
	o := r.UpdateOverrides(symbol, func(o *model.AssetOverrides) {
		o.EnableBuy = lo.ToPtr(!lo.FromPtrOr(o.EnableBuy, true))
	})
	return *o.EnableBuy
}

func (r *SettingsRepo) ToggleEnableSell(symbol string) bool {
	o := r.UpdateOverrides(symbol, func(o *model.AssetOverrides) {
		o.EnableSell = lo.ToPtr(!lo.FromPtrOr(o.EnableSell, true))
	})
	return *o.EnableSell
}

func (r *SettingsRepo) SetStaking(symbol string, enabled bool) {
	r.UpdateOverrides(symbol, func(o *model.AssetOverrides) {
		o.Staking = lo.ToPtr(enabled)
	})
}

// Flush persists pending writes immediately.
func (r *SettingsRepo) Flush() error {
	if err := r.globalsW.Flush(); err != nil {
		return err
	}
	if err := r.overridesW.Flush(); err != nil {
		return err
	}
	return r.allocationsW.Flush()
}

func (r *SettingsRepo) Close() error {
	var firstErr error
	for _, closeFn := range []func() error{r.globalsW.Close, r.overridesW.Close, r.allocationsW.Close} {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
