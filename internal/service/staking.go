package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/cache"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/lot"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	pathFlexibleList      = "/sapi/v1/simple-earn/flexible/list"
	pathFlexiblePosition  = "/sapi/v1/simple-earn/flexible/position"
	pathFlexibleSubscribe = "/sapi/v1/simple-earn/flexible/subscribe"
	pathFlexibleRedeem    = "/sapi/v1/simple-earn/flexible/redeem"
	pathEarnAccount       = "/sapi/v1/simple-earn/account"

	weightEarnQuery  = 150
	weightEarnAction = 1

	// earn amounts carry at most 8 decimals
	earnPlaces = 8
)

type flexibleListResponse struct {
	Rows []struct {
		Asset                      string `json:"asset"`
		ProductID                  string `json:"productId"`
		LatestAnnualPercentageRate string `json:"latestAnnualPercentageRate"`
		MinPurchaseAmount          string `json:"minPurchaseAmount"`
		CanPurchase                bool   `json:"canPurchase"`
		CanRedeem                  bool   `json:"canRedeem"`
		IsSoldOut                  bool   `json:"isSoldOut"`
	} `json:"rows"`
}

type flexiblePositionResponse struct {
	Rows []struct {
		Asset       string `json:"asset"`
		ProductID   string `json:"productId"`
		TotalAmount string `json:"totalAmount"`
		CanRedeem   bool   `json:"canRedeem"`
	} `json:"rows"`
}

type earnActionResponse struct {
	Success bool `json:"success"`
}

type earnAccountResponse struct {
	TotalAmountInBTC          string `json:"totalAmountInBTC"`
	TotalAmountInUSDT         string `json:"totalAmountInUSDT"`
	TotalFlexibleAmountInUSDT string `json:"totalFlexibleAmountInUSDT"`
}

type StakingOptions struct {
	// SwapRoutes maps an asset without a usable flexible product to the
	// token it is staked through, e.g. ETH -> WBETH.
	SwapRoutes  map[string]string
	ProductTTL  time.Duration
	PositionTTL time.Duration
}

// StakingLedger mediates flexible earn subscriptions and redemptions. Cached
// positions of an asset are dropped after every subscribe or redeem.
type StakingLedger struct {
	gw     *Gateway
	msgs   *MessageLog
	routes map[string]string

	products  *cache.TTL[string, *model.FlexibleProduct]
	positions *cache.TTL[string, []model.FlexiblePosition]
	staked    *cache.TTL[string, decimal.Decimal]
	summary   *cache.TTL[string, *model.StakingSummary]
}

func NewStakingLedger(gw *Gateway, msgs *MessageLog, opts StakingOptions) *StakingLedger {
	if opts.ProductTTL <= 0 {
		opts.ProductTTL = time.Hour
	}
	if opts.PositionTTL <= 0 {
		opts.PositionTTL = 30 * time.Second
	}
	routes := make(map[string]string, len(opts.SwapRoutes))
	for k, v := range opts.SwapRoutes {
		routes[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	return &StakingLedger{
		gw:        gw,
		msgs:      msgs,
		routes:    routes,
		products:  cache.New[string, *model.FlexibleProduct](opts.ProductTTL),
		positions: cache.New[string, []model.FlexiblePosition](opts.PositionTTL),
		staked:    cache.New[string, decimal.Decimal](opts.PositionTTL),
		summary:   cache.New[string, *model.StakingSummary](opts.PositionTTL),
	}
}

// FindFlexibleProduct returns the purchasable, redeemable, not sold out
// product with the highest APR, or nil when the asset has none.
func (l *StakingLedger) FindFlexibleProduct(ctx context.Context, asset string) (*model.FlexibleProduct, error) {
	return l.products.GetOrLoad(ctx, asset, func(ctx context.Context) (*model.FlexibleProduct, error) {
		params := url.Values{}
		params.Set("asset", asset)
		params.Set("size", "100")
		data, err := l.gw.PrivateRequest(ctx, model.RawRequest{Method: http.MethodGet, Path: pathFlexibleList, Params: params}, weightEarnQuery)
		if err != nil {
			return nil, err
		}
		var res flexibleListResponse
		if err := sonic.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode flexible products: %w", err)
		}

		products := make([]model.FlexibleProduct, 0, len(res.Rows))
		for _, row := range res.Rows {
			if !row.CanPurchase || !row.CanRedeem || row.IsSoldOut {
				continue
			}
			products = append(products, model.FlexibleProduct{
				ProductID:         row.ProductID,
				Asset:             row.Asset,
				APR:               dec(row.LatestAnnualPercentageRate),
				MinPurchaseAmount: dec(row.MinPurchaseAmount),
				CanPurchase:       row.CanPurchase,
				CanRedeem:         row.CanRedeem,
				SoldOut:           row.IsSoldOut,
			})
		}
		if len(products) == 0 {
			return nil, nil
		}
		best := lo.MaxBy(products, func(a, b model.FlexibleProduct) bool {
			return a.APR.GreaterThan(b.APR)
		})
		return &best, nil
	})
}

// Positions lists the asset's flexible placements in exchange order.
func (l *StakingLedger) Positions(ctx context.Context, asset string) ([]model.FlexiblePosition, error) {
	return l.positions.GetOrLoad(ctx, asset, func(ctx context.Context) ([]model.FlexiblePosition, error) {
		params := url.Values{}
		params.Set("asset", asset)
		params.Set("size", "100")
		data, err := l.gw.PrivateRequest(ctx, model.RawRequest{Method: http.MethodGet, Path: pathFlexiblePosition, Params: params}, weightEarnQuery)
		if err != nil {
			return nil, err
		}
		var res flexiblePositionResponse
		if err := sonic.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode flexible positions: %w", err)
		}
		out := make([]model.FlexiblePosition, 0, len(res.Rows))
		for _, row := range res.Rows {
			out = append(out, model.FlexiblePosition{
				ProductID: row.ProductID,
				Asset:     row.Asset,
				Amount:    dec(row.TotalAmount),
				CanRedeem: row.CanRedeem,
			})
		}
		return out, nil
	})
}

// StakedQuantity is the asset amount held in flexible products. Swap-staked
// assets are valued through the intermediate pair. Lookup failures are
// logged and read as zero.
func (l *StakingLedger) StakedQuantity(ctx context.Context, asset string) decimal.Decimal {
	qty, err := l.staked.GetOrLoad(ctx, asset, func(ctx context.Context) (decimal.Decimal, error) {
		if via, ok := l.routes[asset]; ok {
			total, err := l.positionTotal(ctx, via)
			if err != nil || total.IsZero() {
				return decimal.Zero, err
			}
			price, err := l.gw.TickerPrice(ctx, via+asset)
			if err != nil {
				return decimal.Zero, err
			}
			return total.Mul(price), nil
		}
		return l.positionTotal(ctx, asset)
	})
	if err != nil {
		l.msgs.Warn(asset, "staked quantity unavailable: %v", err)
		return decimal.Zero
	}
	return qty
}

func (l *StakingLedger) positionTotal(ctx context.Context, asset string) (decimal.Decimal, error) {
	positions, err := l.Positions(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return sumPositions(positions), nil
}

func sumPositions(positions []model.FlexiblePosition) decimal.Decimal {
	return lo.Reduce(positions, func(acc decimal.Decimal, p model.FlexiblePosition, _ int) decimal.Decimal {
		return acc.Add(p.Amount)
	}, decimal.Zero)
}

// Subscribe stakes amount of asset. Swap-routed assets are first swapped
// into their intermediate token, which is then subscribed.
func (l *StakingLedger) Subscribe(ctx context.Context, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return nil
	}
	stakeAsset, qty := asset, amount
	if via, ok := l.routes[asset]; ok {
		received, err := l.swapIn(ctx, asset, via, amount)
		defer l.invalidate(asset, via)
		if err != nil {
			return err
		}
		stakeAsset, qty = via, received
	}
	defer l.invalidate(asset, stakeAsset)

	product, err := l.FindFlexibleProduct(ctx, stakeAsset)
	if err != nil {
		return err
	}
	if product == nil {
		return apperrors.NewNotFound("no flexible product for " + stakeAsset)
	}
	if qty.LessThan(product.MinPurchaseAmount) {
		return apperrors.NewInvalidRequest(fmt.Sprintf("%s %s below product minimum %s", qty, stakeAsset, product.MinPurchaseAmount))
	}

	params := url.Values{}
	params.Set("productId", product.ProductID)
	params.Set("amount", qty.Truncate(earnPlaces).String())
	if err := l.earnAction(ctx, pathFlexibleSubscribe, params); err != nil {
		return err
	}
	l.msgs.Notice(asset, "staked %s %s in %s", qty.Truncate(earnPlaces), stakeAsset, product.ProductID)
	return nil
}

// Redeem takes amount of asset out of flexible products, row by row, and
// returns what could not be redeemed.
func (l *StakingLedger) Redeem(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, nil
	}
	via, ok := l.routes[asset]
	if !ok {
		return l.redeemRows(ctx, asset, amount)
	}

	defer l.invalidate(asset, via)
	pair := via + asset
	price, err := l.gw.TickerPrice(ctx, pair)
	if err != nil {
		return amount, err
	}
	if price.Sign() <= 0 {
		return amount, fmt.Errorf("no price for %s", pair)
	}
	viaAmount := amount.Div(price)
	left, redeemErr := l.redeemRows(ctx, via, viaAmount)
	redeemed := viaAmount.Sub(left)
	if redeemed.Sign() > 0 {
		if err := l.swapOut(ctx, asset, via, redeemed); err != nil {
			redeemErr = errors.Join(redeemErr, err)
		}
	}
	return left.Mul(price), redeemErr
}

func (l *StakingLedger) redeemRows(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	defer l.invalidate(asset)
	positions, err := l.Positions(ctx, asset)
	if err != nil {
		return amount, err
	}
	if total := sumPositions(positions); total.LessThan(amount) {
		l.msgs.Warn(asset, "only %s staked, %s short of %s", total, amount.Sub(total), amount)
	}

	left := amount
	var errs []error
	for _, p := range positions {
		if left.Sign() <= 0 {
			break
		}
		if !p.CanRedeem || p.Amount.Sign() <= 0 {
			continue
		}
		take := decimal.Min(left, p.Amount)
		params := url.Values{}
		params.Set("productId", p.ProductID)
		if take.Equal(p.Amount) {
			params.Set("redeemAll", "true")
		} else {
			params.Set("amount", take.Truncate(earnPlaces).String())
		}
		if err := l.earnAction(ctx, pathFlexibleRedeem, params); err != nil {
			errs = append(errs, fmt.Errorf("redeem %s from %s: %w", take, p.ProductID, err))
			continue
		}
		left = left.Sub(take)
	}
	if redeemed := amount.Sub(left); redeemed.Sign() > 0 {
		l.msgs.Notice(asset, "redeemed %s %s", redeemed, asset)
	}
	return left, errors.Join(errs...)
}

func (l *StakingLedger) earnAction(ctx context.Context, path string, params url.Values) error {
	data, err := l.gw.PrivateRequest(ctx, model.RawRequest{Method: http.MethodPost, Path: path, Params: params}, weightEarnAction)
	if err != nil {
		return err
	}
	var res earnActionResponse
	if err := sonic.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if !res.Success {
		return apperrors.NewUpstream(path+" was not accepted", nil)
	}
	return nil
}

// swapIn market-buys via with amount of asset and returns the via received
// net of commission.
func (l *StakingLedger) swapIn(ctx context.Context, asset, via string, amount decimal.Decimal) (decimal.Decimal, error) {
	pair := via + asset
	res, err := l.gw.Order(ctx, model.OrderRequest{
		Pair:          pair,
		Side:          model.SideBuy,
		Type:          model.OrderTypeMarket,
		QuoteQuantity: amount.Truncate(earnPlaces).String(),
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap %s into %s: %w", asset, via, err)
	}
	if res.Status != model.OrderStatusFilled {
		return decimal.Zero, fmt.Errorf("swap %s into %s: order %s", asset, via, res.Status)
	}
	return res.ExecutedQuantity.Sub(res.Commission(via)), nil
}

// swapOut sells viaQty of via back into asset.
func (l *StakingLedger) swapOut(ctx context.Context, asset, via string, viaQty decimal.Decimal) error {
	pair := via + asset
	sym, err := l.gw.Symbol(ctx, pair)
	if err != nil {
		return err
	}
	qty := lot.Floor(viaQty, sym.Filter.StepSize)
	if qty.Sign() <= 0 {
		return nil
	}
	res, err := l.gw.Order(ctx, model.OrderRequest{
		Pair:          pair,
		Side:          model.SideSell,
		Type:          model.OrderTypeMarket,
		Quantity:      lot.Format(qty, sym.Filter.StepSize),
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("swap %s back into %s: %w", via, asset, err)
	}
	if res.Status != model.OrderStatusFilled {
		return fmt.Errorf("swap %s back into %s: order %s", via, asset, res.Status)
	}
	return nil
}

// Summary reports staking account totals.
func (l *StakingLedger) Summary(ctx context.Context) (*model.StakingSummary, error) {
	return l.summary.GetOrLoad(ctx, "account", func(ctx context.Context) (*model.StakingSummary, error) {
		data, err := l.gw.PrivateRequest(ctx, model.RawRequest{Method: http.MethodGet, Path: pathEarnAccount}, weightEarnQuery)
		if err != nil {
			return nil, err
		}
		var res earnAccountResponse
		if err := sonic.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode earn account: %w", err)
		}
		return &model.StakingSummary{
			TotalInUSDT:    dec(res.TotalAmountInUSDT),
			TotalInBTC:     dec(res.TotalAmountInBTC),
			FlexibleInUSDT: dec(res.TotalFlexibleAmountInUSDT),
		}, nil
	})
}

func (l *StakingLedger) invalidate(assets ...string) {
	l.positions.Invalidate(assets...)
	l.staked.Invalidate(assets...)
	l.summary.Invalidate("account")
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
