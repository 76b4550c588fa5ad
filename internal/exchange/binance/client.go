// Package binance adapts the spot REST API to the gateway's exchange
// interface, decoding wire payloads into model types field by field.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/config"
	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/signer"
	gobinance "github.com/adshao/go-binance/v2"
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

const (
	testnetRESTURL = "https://testnet.binance.vision"

	pathCancelReplace = "/api/v3/order/cancelReplace"
)

type Client struct {
	api  *gobinance.Client
	rest *RESTClient
}

func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	baseURL := cfg.RESTURL
	if cfg.Testnet {
		gobinance.UseTestnet = true
		baseURL = testnetRESTURL
	}

	var s *signer.Signer
	if cfg.APISecret != "" {
		var err error
		s, err = signer.NewSigner(cfg.APISecret, cfg.RecvWindow())
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		api:  gobinance.NewClient(cfg.APIKey, cfg.APISecret),
		rest: NewRESTClient(baseURL, cfg.APIKey, s),
	}, nil
}

func (c *Client) Account(ctx context.Context) (*model.Account, error) {
	res, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	acc := &model.Account{
		Balances:  make(map[string]model.Balance, len(res.Balances)),
		UpdatedAt: time.Now(),
	}
	for _, b := range res.Balances {
		free := parseDecimal(b.Free)
		locked := parseDecimal(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		acc.Balances[b.Asset] = model.Balance{Asset: b.Asset, Free: free, Locked: locked}
	}
	return acc, nil
}

func (c *Client) ExchangeInfo(ctx context.Context) (*model.ExchangeInfo, error) {
	res, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	info := &model.ExchangeInfo{
		RateLimits: make([]model.RateLimit, 0, len(res.RateLimits)),
		Symbols:    make(map[string]model.SymbolInfo, len(res.Symbols)),
	}
	for _, rl := range res.RateLimits {
		interval, ok := intervalDuration(rl.Interval, rl.IntervalNum)
		if !ok {
			continue
		}
		info.RateLimits = append(info.RateLimits, model.RateLimit{
			Kind:     model.RateLimitKind(rl.RateLimitType),
			Interval: interval,
			Limit:    int(rl.Limit),
		})
	}
	for _, sym := range res.Symbols {
		info.Symbols[sym.Symbol] = model.SymbolInfo{
			Pair:       sym.Symbol,
			BaseAsset:  sym.BaseAsset,
			QuoteAsset: sym.QuoteAsset,
			Status:     sym.Status,
			Filter:     parseFilters(sym.Filters),
		}
	}
	return info, nil
}

func (c *Client) Candles(ctx context.Context, req model.CandleRequest) ([]model.Candle, error) {
	res, err := c.api.NewKlinesService().
		Symbol(req.Pair).
		Interval(req.Interval).
		Limit(req.Limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(res))
	for _, k := range res {
		out = append(out, model.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseDecimal(k.Open),
			High:      parseDecimal(k.High),
			Low:       parseDecimal(k.Low),
			Close:     parseDecimal(k.Close),
			Volume:    parseDecimal(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return out, nil
}

func (c *Client) MyTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error) {
	res, err := c.api.NewListTradesService().Symbol(pair).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Trade, 0, len(res))
	for _, t := range res {
		side := model.SideSell
		if t.IsBuyer {
			side = model.SideBuy
		}
		out = append(out, model.Trade{
			ExchangeID:      t.ID,
			Pair:            t.Symbol,
			OrderID:         t.OrderID,
			Side:            side,
			Quantity:        parseDecimal(t.Quantity),
			Price:           parseDecimal(t.Price),
			QuoteQuantity:   parseDecimal(t.QuoteQuantity),
			Commission:      parseDecimal(t.Commission),
			CommissionAsset: t.CommissionAsset,
			ExecutedAt:      time.UnixMilli(t.Time).UTC(),
		})
	}
	return out, nil
}

func (c *Client) TickerPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	res, err := c.api.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range res {
		if p.Symbol == pair {
			return parseDecimal(p.Price), nil
		}
	}
	return decimal.Zero, fmt.Errorf("no price for %s", pair)
}

func (c *Client) CreateOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(req.Pair).
		Side(gobinance.SideType(req.Side)).
		Type(gobinance.OrderType(req.Type)).
		NewOrderRespType(gobinance.NewOrderRespTypeFULL)
	if req.Quantity != "" {
		svc = svc.Quantity(req.Quantity)
	}
	if req.QuoteQuantity != "" {
		svc = svc.QuoteOrderQty(req.QuoteQuantity)
	}
	if req.StopPrice != "" {
		svc = svc.StopPrice(req.StopPrice)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := &model.OrderResult{
		Pair:             res.Symbol,
		OrderID:          res.OrderID,
		ClientOrderID:    res.ClientOrderID,
		Status:           model.OrderStatus(res.Status),
		ExecutedQuantity: parseDecimal(res.ExecutedQuantity),
		QuoteQuantity:    parseDecimal(res.CummulativeQuoteQuantity),
		TransactTime:     time.UnixMilli(res.TransactTime),
	}
	for _, f := range res.Fills {
		out.Fills = append(out.Fills, model.Fill{
			Price:           parseDecimal(f.Price),
			Quantity:        parseDecimal(f.Quantity),
			Commission:      parseDecimal(f.Commission),
			CommissionAsset: f.CommissionAsset,
			TradeID:         f.TradeID,
		})
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, pair string, orderID int64) error {
	_, err := c.api.NewCancelOrderService().Symbol(pair).OrderID(orderID).Do(ctx)
	return err
}

type orderResponse struct {
	Symbol                   string `json:"symbol"`
	OrderID                  int64  `json:"orderId"`
	ClientOrderID            string `json:"clientOrderId"`
	TransactTime             int64  `json:"transactTime"`
	ExecutedQuantity         string `json:"executedQty"`
	CummulativeQuoteQuantity string `json:"cummulativeQuoteQty"`
	Status                   string `json:"status"`
}

type cancelReplaceResponse struct {
	CancelResult     string        `json:"cancelResult"`
	NewOrderResult   string        `json:"newOrderResult"`
	NewOrderResponse orderResponse `json:"newOrderResponse"`
}

// CancelReplace cancels an order and places its replacement atomically.
// With STOP_ON_FAILURE the new order is not placed if the cancel fails.
func (c *Client) CancelReplace(ctx context.Context, req model.CancelReplaceRequest) (*model.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Pair)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("cancelReplaceMode", "STOP_ON_FAILURE")
	params.Set("cancelOrderId", strconv.FormatInt(req.CancelOrderID, 10))
	params.Set("quantity", req.Quantity)
	if req.StopPrice != "" {
		params.Set("stopPrice", req.StopPrice)
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	data, err := c.rest.Do(ctx, model.RawRequest{
		Method: http.MethodPost,
		Path:   pathCancelReplace,
		Params: params,
		Signed: true,
	})
	if err != nil {
		return nil, err
	}
	var res cancelReplaceResponse
	if err := sonic.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode cancelReplace: %w", err)
	}
	if res.NewOrderResult != "SUCCESS" {
		return nil, fmt.Errorf("cancelReplace %s: cancel %s, new order %s", req.Pair, res.CancelResult, res.NewOrderResult)
	}
	o := res.NewOrderResponse
	return &model.OrderResult{
		Pair:             o.Symbol,
		OrderID:          o.OrderID,
		ClientOrderID:    o.ClientOrderID,
		Status:           model.OrderStatus(o.Status),
		ExecutedQuantity: parseDecimal(o.ExecutedQuantity),
		QuoteQuantity:    parseDecimal(o.CummulativeQuoteQuantity),
		TransactTime:     time.UnixMilli(o.TransactTime),
	}, nil
}

func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	return c.api.NewStartUserStreamService().Do(ctx)
}

func (c *Client) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	return c.api.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
}

// Do forwards a raw request, used for simple earn endpoints.
func (c *Client) Do(ctx context.Context, req model.RawRequest) ([]byte, error) {
	return c.rest.Do(ctx, req)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func intervalDuration(unit string, n int64) (time.Duration, bool) {
	var base time.Duration
	switch unit {
	case "SECOND":
		base = time.Second
	case "MINUTE":
		base = time.Minute
	case "HOUR":
		base = time.Hour
	case "DAY":
		base = 24 * time.Hour
	default:
		return 0, false
	}
	if n <= 0 {
		n = 1
	}
	return base * time.Duration(n), true
}

func parseFilters(filters []map[string]interface{}) model.LotFilter {
	var f model.LotFilter
	for _, raw := range filters {
		kind, _ := raw["filterType"].(string)
		switch kind {
		case "LOT_SIZE":
			f.StepSize = filterDecimal(raw, "stepSize")
			f.MinQty = filterDecimal(raw, "minQty")
		case "PRICE_FILTER":
			f.TickSize = filterDecimal(raw, "tickSize")
		case "NOTIONAL", "MIN_NOTIONAL":
			if n := filterDecimal(raw, "minNotional"); n.GreaterThan(f.MinNotional) {
				f.MinNotional = n
			}
		}
	}
	return f
}

func filterDecimal(raw map[string]interface{}, key string) decimal.Decimal {
	switch v := raw[key].(type) {
	case string:
		return parseDecimal(v)
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}
