package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one executed fill as stored in the transaction log.
type Trade struct {
	ID              int64           `db:"id" json:"id"`
	ExchangeID      int64           `db:"exchange_id" json:"exchangeId"`
	Symbol          string          `db:"symbol" json:"symbol"`
	Pair            string          `db:"pair" json:"pair"`
	OrderID         int64           `db:"order_id" json:"orderId"`
	Side            OrderSide       `db:"side" json:"side"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	Price           decimal.Decimal `db:"price" json:"price"`
	QuoteQuantity   decimal.Decimal `db:"quote_quantity" json:"quoteQuantity"`
	Commission      decimal.Decimal `db:"commission" json:"commission"`
	CommissionAsset string          `db:"commission_asset" json:"commissionAsset"`
	Profit          float64         `db:"profit" json:"profit"`
	ExecutedAt      time.Time       `db:"executed_at" json:"executedAt"`
}

type ProfitBucket string

const (
	BucketDay   ProfitBucket = "day"
	BucketWeek  ProfitBucket = "week"
	BucketMonth ProfitBucket = "month"
	BucketAll   ProfitBucket = "all"
)

func ParseProfitBucket(s string) (ProfitBucket, bool) {
	switch b := ProfitBucket(s); b {
	case BucketDay, BucketWeek, BucketMonth, BucketAll:
		return b, true
	case "":
		return BucketDay, true
	}
	return "", false
}

// Since returns the UTC start of the bucket containing now. Weeks start on
// Monday. BucketAll returns the zero time.
func (b ProfitBucket) Since(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch b {
	case BucketDay:
		return day
	case BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}
