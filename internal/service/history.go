package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

// tradesFromResult splits a filled order into one trade per fill. Results
// without fill detail become a single trade at the average price.
func tradesFromResult(symbol, pair string, side model.OrderSide, res *model.OrderResult, now time.Time) []*model.Trade {
	at := res.TransactTime
	if at.Unix() <= 0 {
		at = now
	}
	if len(res.Fills) == 0 {
		return []*model.Trade{{
			Symbol:        symbol,
			Pair:          pair,
			OrderID:       res.OrderID,
			Side:          side,
			Quantity:      res.ExecutedQuantity,
			Price:         res.AveragePrice(),
			QuoteQuantity: res.QuoteQuantity,
			ExecutedAt:    at,
		}}
	}
	out := make([]*model.Trade, 0, len(res.Fills))
	for _, f := range res.Fills {
		out = append(out, &model.Trade{
			ExchangeID:      f.TradeID,
			Symbol:          symbol,
			Pair:            pair,
			OrderID:         res.OrderID,
			Side:            side,
			Quantity:        f.Quantity,
			Price:           f.Price,
			QuoteQuantity:   f.Price.Mul(f.Quantity),
			Commission:      f.Commission,
			CommissionAsset: f.CommissionAsset,
			ExecutedAt:      at,
		})
	}
	return out
}

// commissionValue is the trade's commission in quote currency. Fees paid in
// a third asset are not valued.
func commissionValue(t *model.Trade, quote string) decimal.Decimal {
	switch t.CommissionAsset {
	case quote:
		return t.Commission
	case t.Symbol:
		return t.Commission.Mul(t.Price)
	}
	return decimal.Zero
}

// realisedProfit books sells against the average buy cost. Buys, and sells
// without a known cost, realise only their fee.
func realisedProfit(t *model.Trade, avgCost decimal.Decimal, quote string) float64 {
	fee := commissionValue(t, quote)
	if t.Side == model.SideSell && avgCost.Sign() > 0 {
		return t.Price.Sub(avgCost).Mul(t.Quantity).Sub(fee).InexactFloat64()
	}
	return fee.Neg().InexactFloat64()
}

// costBasis tracks average cost while replaying trades in time order.
type costBasis struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

func (c *costBasis) average() decimal.Decimal {
	if c.qty.Sign() <= 0 {
		return decimal.Zero
	}
	return c.cost.Div(c.qty)
}

func (c *costBasis) apply(t *model.Trade) {
	if t.Side == model.SideBuy {
		c.qty = c.qty.Add(t.Quantity)
		c.cost = c.cost.Add(t.QuoteQuantity)
		return
	}
	avg := c.average()
	c.qty = c.qty.Sub(t.Quantity)
	c.cost = c.cost.Sub(avg.Mul(t.Quantity))
	if c.qty.Sign() <= 0 {
		c.qty, c.cost = decimal.Zero, decimal.Zero
	}
}

// ImportTrades copies the latest limit exchange trades of each symbol into
// the trade log, replaying them to compute realised profit, then refreshes
// the profit aggregates once. Trades already stored are skipped by the
// store. It returns the number of trades offered to the store.
func (a *App) ImportTrades(ctx context.Context, symbols []string, limit int) (int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if len(symbols) == 0 {
		symbols = a.Settings.Symbols()
	}
	quote := a.Settings.QuoteCurrency()

	total := 0
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		if symbol == quote {
			continue
		}
		pair := symbol + quote
		trades, err := a.Gateway.MyTrades(ctx, pair, limit)
		if err != nil {
			return total, fmt.Errorf("fetch trades of %s: %w", pair, err)
		}
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })

		var basis costBasis
		for i := range trades {
			t := &trades[i]
			t.Symbol = symbol
			t.Profit = realisedProfit(t, basis.average(), quote)
			basis.apply(t)
			if err := a.Trades.InsertTrade(ctx, t); err != nil {
				return total, fmt.Errorf("store trade %d of %s: %w", t.ExchangeID, pair, err)
			}
			total++
		}
		a.Guard.Invalidate(symbol)
		logger.Info("Trades imported", "symbol", symbol, "count", len(trades))
	}

	if err := a.Trades.RefreshAggregates(ctx); err != nil {
		return total, fmt.Errorf("refresh aggregates: %w", err)
	}
	a.Messages.Info("", "imported %d trades", total)
	return total, nil
}
