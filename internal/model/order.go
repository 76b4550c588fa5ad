package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeStopLoss OrderType = "STOP_LOSS"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// SideOf maps a signed quantity to an order side (positive buys).
func SideOf(qty decimal.Decimal) OrderSide {
	if qty.Sign() < 0 {
		return SideSell
	}
	return SideBuy
}

// Order is the single outstanding order an asset may have.
type Order struct {
	Symbol     string          `json:"symbol"`
	Pair       string          `json:"pair"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	StopPrice  decimal.Decimal `json:"stopPrice,omitempty"`
	Type       OrderType       `json:"type"`
	ClientID   string          `json:"clientId"`
	ExchangeID int64           `json:"exchangeId,omitempty"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`

	// ReplacingWith is the client id of the order a pending cancel/replace
	// swaps this one for.
	ReplacingWith string `json:"replacingWith,omitempty"`
}

// Replaceable reports whether the order is a live stop order that can be
// adjusted with cancel/replace. An order already being replaced is not.
func (o *Order) Replaceable() bool {
	return o.Type == OrderTypeStopLoss && o.ExchangeID != 0 && !o.Status.Terminal() && o.ReplacingWith == ""
}

// OrderRequest is what the gateway sends to the exchange. Quantities are
// already formatted to the pair's step.
type OrderRequest struct {
	Pair          string
	Side          OrderSide
	Type          OrderType
	Quantity      string
	QuoteQuantity string
	StopPrice     string
	ClientOrderID string
}

// CancelReplaceRequest cancels CancelOrderID and places the new order in one
// exchange call.
type CancelReplaceRequest struct {
	OrderRequest
	CancelOrderID int64
}

type Fill struct {
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	TradeID         int64
}

type OrderResult struct {
	Pair             string
	OrderID          int64
	ClientOrderID    string
	Status           OrderStatus
	ExecutedQuantity decimal.Decimal
	QuoteQuantity    decimal.Decimal
	Fills            []Fill
	TransactTime     time.Time
}

// AveragePrice is the quote spent per unit executed.
func (r *OrderResult) AveragePrice() decimal.Decimal {
	if r.ExecutedQuantity.IsZero() {
		return decimal.Zero
	}
	return r.QuoteQuantity.Div(r.ExecutedQuantity)
}

// Commission sums fill commissions charged in asset.
func (r *OrderResult) Commission(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, f := range r.Fills {
		if f.CommissionAsset == asset {
			total = total.Add(f.Commission)
		}
	}
	return total
}

// OrderUpdate is an execution report from the user data stream.
type OrderUpdate struct {
	Pair             string
	OrderID          int64
	ClientOrderID    string
	Side             OrderSide
	Type             OrderType
	Status           OrderStatus
	ExecutedQuantity decimal.Decimal
	QuoteQuantity    decimal.Decimal
	Commission       decimal.Decimal
	CommissionAsset  string
	At               time.Time
}
