package model

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LotFilter holds the exchange quantization rules for one trading pair.
type LotFilter struct {
	StepSize    decimal.Decimal `json:"stepSize"`
	MinQty      decimal.Decimal `json:"minQty"`
	TickSize    decimal.Decimal `json:"tickSize"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

// Tick is one best bid/ask update for a pair.
type Tick struct {
	Pair string
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	At   time.Time
}

func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Asset is the live trading state of one symbol. Trading fields are guarded
// by the embedded mutex; thresholds and flags live in Settings.
type Asset struct {
	sync.Mutex

	Symbol string
	Pair   string
	Filter LotFilter

	Bid   decimal.Decimal
	Ask   decimal.Decimal
	Price decimal.Decimal

	Velocity  float64
	LastPrice decimal.Decimal
	LastTick  time.Time

	// Delta is the USD distance to target seen on the last evaluation.
	Delta        decimal.Decimal
	ForceTrade   bool
	CurrentOrder *Order
	LastTradeAt  time.Time
	Evaluating   bool
}

func NewAsset(symbol, pair string, filter LotFilter) *Asset {
	return &Asset{Symbol: symbol, Pair: pair, Filter: filter}
}

// AssetView is a lock-free copy of Asset for readers.
type AssetView struct {
	Symbol       string          `json:"symbol"`
	Pair         string          `json:"pair"`
	Filter       LotFilter       `json:"filter"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Price        decimal.Decimal `json:"price"`
	Velocity     float64         `json:"velocity"`
	LastTick     time.Time       `json:"lastTick"`
	Delta        decimal.Decimal `json:"delta"`
	ForceTrade   bool            `json:"forceTrade"`
	CurrentOrder *Order          `json:"currentOrder,omitempty"`
	JustTraded   bool            `json:"justTraded"`
}

// View copies the asset. decay is how long JustTraded stays set after a fill.
func (a *Asset) View(now time.Time, decay time.Duration) AssetView {
	a.Lock()
	defer a.Unlock()
	v := AssetView{
		Symbol:     a.Symbol,
		Pair:       a.Pair,
		Filter:     a.Filter,
		Bid:        a.Bid,
		Ask:        a.Ask,
		Price:      a.Price,
		Velocity:   a.Velocity,
		LastTick:   a.LastTick,
		Delta:      a.Delta,
		ForceTrade: a.ForceTrade,
		JustTraded: !a.LastTradeAt.IsZero() && now.Sub(a.LastTradeAt) < decay,
	}
	if a.CurrentOrder != nil {
		o := *a.CurrentOrder
		v.CurrentOrder = &o
	}
	return v
}
