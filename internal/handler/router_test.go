package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/config"
	"github.com/A2K/binance-trading-cli-sub000/internal/middleware"
	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/repository"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "secret"

var errStub = errors.New("not available in tests")

// stubExchange lists BTCUSDT and ETHUSDT and holds a fixed account.
type stubExchange struct{}

func (stubExchange) Account(ctx context.Context) (*model.Account, error) {
	return &model.Account{Balances: map[string]model.Balance{
		"BTC":  {Asset: "BTC", Free: decimal.RequireFromString("0.5")},
		"USDT": {Asset: "USDT", Locked: decimal.RequireFromString("10")},
		"DOGE": {Asset: "DOGE"},
	}, UpdatedAt: time.Now()}, nil
}

func (stubExchange) ExchangeInfo(ctx context.Context) (*model.ExchangeInfo, error) {
	filter := model.LotFilter{
		StepSize: decimal.RequireFromString("0.001"), MinQty: decimal.RequireFromString("0.001"),
		TickSize: decimal.RequireFromString("0.01"), MinNotional: decimal.RequireFromString("5"),
	}
	return &model.ExchangeInfo{Symbols: map[string]model.SymbolInfo{
		"BTCUSDT": {Pair: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING", Filter: filter},
		"ETHUSDT": {Pair: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Status: "TRADING", Filter: filter},
	}}, nil
}

func (stubExchange) Candles(ctx context.Context, req model.CandleRequest) ([]model.Candle, error) {
	return nil, nil
}

func (stubExchange) MyTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error) {
	return nil, nil
}

func (stubExchange) TickerPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return decimal.Zero, errStub
}

func (stubExchange) CreateOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	return nil, errStub
}

func (stubExchange) CancelOrder(ctx context.Context, pair string, orderID int64) error {
	return errStub
}

func (stubExchange) CancelReplace(ctx context.Context, req model.CancelReplaceRequest) (*model.OrderResult, error) {
	return nil, errStub
}

func (stubExchange) StartUserStream(ctx context.Context) (string, error) { return "", errStub }

func (stubExchange) KeepaliveUserStream(ctx context.Context, listenKey string) error { return errStub }

func (stubExchange) Do(ctx context.Context, req model.RawRequest) ([]byte, error) {
	return nil, errStub
}

func newTestRouter(t *testing.T, readOnly bool) (*gin.Engine, *service.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repository.NewFileSettingsStore(t.TempDir())
	require.NoError(t, err)
	settings := service.NewSettingsRepo(store, model.Globals{
		BuyThreshold: 20, SellThreshold: 20, InterpSpeed: 0.001,
		EnableBuy: true, EnableSell: true, QuoteCurrency: "USDT",
	}, time.Millisecond)
	require.NoError(t, settings.Load(context.Background(), map[string]float64{"btc": 100}))
	t.Cleanup(func() { settings.Close() })

	msgs, err := service.NewMessageLog("", 50)
	require.NoError(t, err)

	gw := service.NewGateway(stubExchange{}, service.GatewayOptions{})
	trades := service.NewMemoryTradeStore()
	app := service.NewApp(service.AppDeps{
		Gateway:  gw,
		Settings: settings,
		Balances: service.NewBalances(gw),
		Staking:  service.NewStakingLedger(gw, msgs, service.StakingOptions{}),
		Trades:   trades,
		Guard:    service.NewDailyLossGuard(trades, time.Minute),
		Messages: msgs,
	})
	require.NoError(t, app.Preload(context.Background()))

	cfg := &config.Config{}
	cfg.Auth.ControlKey = testKey
	cfg.Server.ReadOnly = readOnly
	return NewRouter(cfg, app), app
}

func do(r http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set(middleware.HeaderControlKey, testKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r, _ := newTestRouter(t, false)
	w := do(r, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"assets":1`)
}

func TestRouter_RequiresControlKey(t *testing.T) {
	r, _ := newTestRouter(t, false)

	w := do(r, http.MethodGet, "/v1/assets", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "AUTH_FAILED", body["code"])
}

func TestRouter_ListAndGetAssets(t *testing.T) {
	r, _ := newTestRouter(t, false)

	w := do(r, http.MethodGet, "/v1/assets", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var assets []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assets))
	require.Len(t, assets, 1)
	assert.Equal(t, "BTC", assets[0]["symbol"])
	assert.Equal(t, 100.0, assets[0]["target"])

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/v1/assets/btc", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/assets/doge", "", true).Code)
}

func TestRouter_SetAllocation(t *testing.T) {
	r, app := newTestRouter(t, false)

	w := do(r, http.MethodPut, "/v1/allocations/eth", `{"usd":250}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	usd, ok := app.Settings.Allocation("ETH")
	require.True(t, ok)
	assert.Equal(t, 250.0, usd)
	assert.Contains(t, app.Pairs(), "ETHUSDT")

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/allocations/eth", `{}`, true).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPut, "/v1/allocations/doge", `{"usd":1}`, true).Code)

	w = do(r, http.MethodPut, "/v1/allocations/eth", `{"usd":-1}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok = app.Settings.Allocation("ETH")
	assert.False(t, ok)
}

func TestRouter_Thresholds(t *testing.T) {
	r, app := newTestRouter(t, false)

	w := do(r, http.MethodPut, "/v1/assets/btc/threshold", `{"buy":5}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5.0, app.Settings.Effective("BTC").BuyThreshold)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/assets/btc/threshold", `{}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/assets/btc/threshold", `{"sell":-2}`, true).Code)
}

func TestRouter_TogglesAndForce(t *testing.T) {
	r, app := newTestRouter(t, false)

	w := do(r, http.MethodPost, "/v1/assets/btc/toggle-buy", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enableBuy":false`)
	assert.False(t, app.Settings.Effective("BTC").EnableBuy)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/v1/assets/btc/force", "", true).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/assets/sol/force", "", true).Code)
}

func TestRouter_ReadOnlyRejectsMutations(t *testing.T) {
	r, app := newTestRouter(t, true)

	w := do(r, http.MethodPost, "/v1/assets/btc/toggle-sell", "", true)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, app.Settings.Effective("BTC").EnableSell)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/v1/allocations", "", true).Code)
}

func TestRouter_Profit(t *testing.T) {
	r, app := newTestRouter(t, false)
	ctx := context.Background()
	require.NoError(t, app.Trades.InsertTrade(ctx, &model.Trade{ExchangeID: 1, Symbol: "BTC", Pair: "BTCUSDT", Side: model.SideSell, Profit: 12.5, ExecutedAt: time.Now()}))
	require.NoError(t, app.Trades.RefreshAggregates(ctx))

	w := do(r, http.MethodGet, "/v1/profit?bucket=all&symbol=btc", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 12.5, body["profit"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/profit?bucket=year", "", true).Code)

	w = do(r, http.MethodGet, "/v1/trades?limit=5", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbol":"BTC"`)
}

func TestRouter_BalancesOmitEmpty(t *testing.T) {
	r, _ := newTestRouter(t, false)

	w := do(r, http.MethodGet, "/v1/balances", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "BTC")
	assert.Contains(t, body, "USDT")
	assert.NotContains(t, body, "DOGE")
}

func TestRouter_ImportWithoutBody(t *testing.T) {
	r, _ := newTestRouter(t, false)

	w := do(r, http.MethodPost, "/v1/trades/import", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"imported":0}`, w.Body.String())
}

func TestRouter_StakingUpstreamError(t *testing.T) {
	r, _ := newTestRouter(t, false)

	w := do(r, http.MethodGet, "/v1/staking", "", true)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
