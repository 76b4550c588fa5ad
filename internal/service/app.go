package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type AppDeps struct {
	Gateway  *Gateway
	Settings *SettingsRepo
	Balances *Balances
	Staking  *StakingLedger
	Trades   TransactionStore
	Guard    *DailyLossGuard
	Messages *MessageLog
	// TradeFlagDecay is how long an asset shows as just traded.
	TradeFlagDecay time.Duration
}

// App is the process-wide trading context: the asset table plus every
// component the engine, executor and control API share.
type App struct {
	AppDeps

	mu     sync.RWMutex
	assets map[string]*model.Asset
	pairs  map[string]string
	now    func() time.Time
}

func NewApp(deps AppDeps) *App {
	if deps.TradeFlagDecay <= 0 {
		deps.TradeFlagDecay = 3 * time.Second
	}
	return &App{
		AppDeps: deps,
		assets:  make(map[string]*model.Asset),
		pairs:   make(map[string]string),
		now:     time.Now,
	}
}

func (a *App) Pair(symbol string) string {
	return symbol + a.Settings.QuoteCurrency()
}

func (a *App) Asset(symbol string) (*model.Asset, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	asset, ok := a.assets[symbol]
	return asset, ok
}

func (a *App) AssetByPair(pair string) (*model.Asset, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	symbol, ok := a.pairs[pair]
	if !ok {
		return nil, false
	}
	return a.assets[symbol], true
}

// EnsureAsset returns the symbol's state, creating it with the pair's lot
// filter on first use.
func (a *App) EnsureAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	symbol = strings.ToUpper(symbol)
	if asset, ok := a.Asset(symbol); ok {
		return asset, nil
	}
	pair := a.Pair(symbol)
	info, err := a.Gateway.Symbol(ctx, pair)
	if err != nil {
		return nil, apperrors.NewNotFound(fmt.Sprintf("%s is not tradable: %v", symbol, err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if asset, ok := a.assets[symbol]; ok {
		return asset, nil
	}
	asset := model.NewAsset(symbol, pair, info.Filter)
	a.assets[symbol] = asset
	a.pairs[pair] = symbol
	return asset, nil
}

// Preload creates state for every allocated symbol in parallel. Symbols the
// exchange does not list are reported and skipped.
func (a *App) Preload(ctx context.Context) error {
	quote := a.Settings.QuoteCurrency()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, symbol := range a.Settings.Symbols() {
		if symbol == quote {
			continue
		}
		symbol := symbol
		g.Go(func() error {
			if _, err := a.EnsureAsset(ctx, symbol); err != nil {
				if apperrors.Is(err, apperrors.ErrNotFound) {
					a.Messages.Warn(symbol, "skipping: %v", err)
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Assets loaded", "count", len(a.Pairs()))
	return nil
}

// Pairs lists the trading pairs of all known assets.
func (a *App) Pairs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.pairs))
	for pair := range a.pairs {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}

func (a *App) View(symbol string) (model.AssetView, bool) {
	asset, ok := a.Asset(symbol)
	if !ok {
		return model.AssetView{}, false
	}
	return asset.View(a.now(), a.TradeFlagDecay), true
}

// Views snapshots every asset, sorted by symbol.
func (a *App) Views() []model.AssetView {
	a.mu.RLock()
	assets := make([]*model.Asset, 0, len(a.assets))
	for _, asset := range a.assets {
		assets = append(assets, asset)
	}
	a.mu.RUnlock()

	now := a.now()
	out := make([]model.AssetView, 0, len(assets))
	for _, asset := range assets {
		out = append(out, asset.View(now, a.TradeFlagDecay))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetTargetAllocation sets the USD target of symbol. A negative value
// removes the symbol from the basket.
func (a *App) SetTargetAllocation(ctx context.Context, symbol string, usd float64) error {
	symbol = strings.ToUpper(symbol)
	if usd < 0 {
		a.Settings.RemoveAllocation(symbol)
		a.Messages.Notice(symbol, "removed from allocations")
		return nil
	}
	if _, err := a.EnsureAsset(ctx, symbol); err != nil {
		return err
	}
	a.Settings.SetAllocation(symbol, usd)
	a.Messages.Notice(symbol, "target allocation set to %.2f", usd)
	return nil
}

func (a *App) SetThreshold(symbol string, buy, sell *float64) (model.EffectiveSettings, error) {
	symbol = strings.ToUpper(symbol)
	if buy == nil && sell == nil {
		return model.EffectiveSettings{}, apperrors.NewInvalidRequest("buy or sell threshold required")
	}
	if (buy != nil && *buy < 0) || (sell != nil && *sell < 0) {
		return model.EffectiveSettings{}, apperrors.NewInvalidRequest("thresholds must not be negative")
	}
	a.Settings.SetThreshold(symbol, buy, sell)
	return a.Settings.Effective(symbol), nil
}

func (a *App) ToggleEnableBuy(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	on := a.Settings.ToggleEnableBuy(symbol)
	a.Messages.Notice(symbol, "buying enabled: %t", on)
	return on
}

func (a *App) ToggleEnableSell(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	on := a.Settings.ToggleEnableSell(symbol)
	a.Messages.Notice(symbol, "selling enabled: %t", on)
	return on
}

// ForceTrade makes the next tick of symbol trade regardless of thresholds,
// enable flags, velocity and the daily loss cap.
func (a *App) ForceTrade(symbol string) error {
	symbol = strings.ToUpper(symbol)
	asset, ok := a.Asset(symbol)
	if !ok {
		return apperrors.NewNotFound("unknown asset " + symbol)
	}
	asset.Lock()
	asset.ForceTrade = true
	asset.Unlock()
	a.Messages.Notice(symbol, "force trade armed")
	return nil
}
