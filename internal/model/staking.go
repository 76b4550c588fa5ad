package model

import "github.com/shopspring/decimal"

// FlexibleProduct is a redeemable-anytime earn product for one asset.
type FlexibleProduct struct {
	ProductID         string          `json:"productId"`
	Asset             string          `json:"asset"`
	APR               decimal.Decimal `json:"apr"`
	MinPurchaseAmount decimal.Decimal `json:"minPurchaseAmount"`
	CanPurchase       bool            `json:"canPurchase"`
	CanRedeem         bool            `json:"canRedeem"`
	SoldOut           bool            `json:"soldOut"`
}

// FlexiblePosition is one placement of an asset in a flexible product.
type FlexiblePosition struct {
	ProductID string          `json:"productId"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	CanRedeem bool            `json:"canRedeem"`
}

type StakingSummary struct {
	TotalInUSDT    decimal.Decimal `json:"totalInUsdt"`
	TotalInBTC     decimal.Decimal `json:"totalInBtc"`
	FlexibleInUSDT decimal.Decimal `json:"flexibleInUsdt"`
}
