package service

import (
	"context"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/shopspring/decimal"
)

// Exchange is the raw exchange client. Only the Gateway talks to it.
type Exchange interface {
	Account(ctx context.Context) (*model.Account, error)
	ExchangeInfo(ctx context.Context) (*model.ExchangeInfo, error)
	Candles(ctx context.Context, req model.CandleRequest) ([]model.Candle, error)
	MyTrades(ctx context.Context, pair string, limit int) ([]model.Trade, error)
	TickerPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	CreateOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error)
	CancelOrder(ctx context.Context, pair string, orderID int64) error
	CancelReplace(ctx context.Context, req model.CancelReplaceRequest) (*model.OrderResult, error)
	StartUserStream(ctx context.Context) (string, error)
	KeepaliveUserStream(ctx context.Context, listenKey string) error
	Do(ctx context.Context, req model.RawRequest) ([]byte, error)
}
