package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/shopspring/decimal"
)

// TransactionStore is the durable trade log. Profit sums read aggregates
// that only reflect new trades after RefreshAggregates.
type TransactionStore interface {
	InsertTrade(ctx context.Context, trade *model.Trade) error
	QueryTrades(ctx context.Context, symbol string, limit int) ([]*model.Trade, error)
	SumProfit(ctx context.Context, symbol string, bucket model.ProfitBucket) (float64, error)
	AverageBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	RefreshAggregates(ctx context.Context) error
}

type dailyKey struct {
	symbol string
	day    time.Time
}

// MemoryTradeStore keeps trades in process. Daily profit aggregates are
// rebuilt on RefreshAggregates, matching the SQL store's view semantics.
type MemoryTradeStore struct {
	mu     sync.RWMutex
	trades []*model.Trade
	seen   map[string]struct{}
	daily  map[dailyKey]float64
	nextID int64
	now    func() time.Time
}

func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{
		seen:  make(map[string]struct{}),
		daily: make(map[dailyKey]float64),
		now:   time.Now,
	}
}

func (s *MemoryTradeStore) InsertTrade(ctx context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trade.ExchangeID != 0 {
		key := trade.Pair + ":" + strconv.FormatInt(trade.ExchangeID, 10)
		if _, dup := s.seen[key]; dup {
			return nil
		}
		s.seen[key] = struct{}{}
	}
	s.nextID++
	t := *trade
	t.ID = s.nextID
	trade.ID = t.ID
	s.trades = append(s.trades, &t)
	return nil
}

// QueryTrades returns the newest trades first.
func (s *MemoryTradeStore) QueryTrades(ctx context.Context, symbol string, limit int) ([]*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Trade, 0)
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryTradeStore) SumProfit(ctx context.Context, symbol string, bucket model.ProfitBucket) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	since := bucket.Since(s.now())
	total := 0.0
	for k, v := range s.daily {
		if symbol != "" && k.symbol != symbol {
			continue
		}
		if k.day.Before(since) {
			continue
		}
		total += v
	}
	return total, nil
}

func (s *MemoryTradeStore) AverageBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, quote := decimal.Zero, decimal.Zero
	for _, t := range s.trades {
		if t.Symbol != symbol || t.Side != model.SideBuy {
			continue
		}
		qty = qty.Add(t.Quantity)
		quote = quote.Add(t.QuoteQuantity)
	}
	if qty.IsZero() {
		return decimal.Zero, nil
	}
	return quote.Div(qty), nil
}

func (s *MemoryTradeStore) RefreshAggregates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	daily := make(map[dailyKey]float64)
	for _, t := range s.trades {
		at := t.ExecutedAt.UTC()
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		daily[dailyKey{symbol: t.Symbol, day: day}] += t.Profit
	}
	s.daily = daily
	return nil
}
