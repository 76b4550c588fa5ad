package model

import (
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type Account struct {
	Balances  map[string]Balance `json:"balances"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func (a *Account) Free(asset string) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return a.Balances[asset].Free
}

// RateLimitKind mirrors the exchange's rateLimitType values.
type RateLimitKind string

const (
	RateLimitRequestWeight RateLimitKind = "REQUEST_WEIGHT"
	RateLimitOrders        RateLimitKind = "ORDERS"
	RateLimitRawRequests   RateLimitKind = "RAW_REQUESTS"
)

type RateLimit struct {
	Kind     RateLimitKind
	Interval time.Duration
	Limit    int
}

type SymbolInfo struct {
	Pair       string
	BaseAsset  string
	QuoteAsset string
	Status     string
	Filter     LotFilter
}

type ExchangeInfo struct {
	RateLimits []RateLimit
	Symbols    map[string]SymbolInfo
}

type CandleRequest struct {
	Pair     string
	Interval string
	Limit    int
}

type Candle struct {
	OpenTime  time.Time       `json:"openTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"closeTime"`
}

// RawRequest is a generic REST call for endpoints without a typed wrapper.
type RawRequest struct {
	Method string
	Path   string
	Params url.Values
	Signed bool
}
