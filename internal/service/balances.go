package service

import (
	"context"
	"sync"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/shopspring/decimal"
)

// Balances tracks free and locked balances. It is fed by the user data
// stream and re-reads the account whenever it has been marked stale.
type Balances struct {
	gw *Gateway

	mu        sync.RWMutex
	balances  map[string]model.Balance
	stale     bool
	updatedAt time.Time

	// gen counts local changes. A snapshot requested before a change is
	// not committed.
	gen uint64
}

// refreshAttempts bounds how often Refresh re-reads an account that keeps
// changing underneath it.
const refreshAttempts = 3

func NewBalances(gw *Gateway) *Balances {
	return &Balances{
		gw:       gw,
		balances: make(map[string]model.Balance),
		stale:    true,
	}
}

// MarkStale forces the next read to fetch the account from the exchange.
func (b *Balances) MarkStale() {
	b.mu.Lock()
	b.stale = true
	b.gen++
	b.mu.Unlock()
	b.gw.InvalidateAccount()
}

// Refresh replaces the balances with an account snapshot. A snapshot that
// was requested before a MarkStale or Apply is discarded and fetched again.
func (b *Balances) Refresh(ctx context.Context) error {
	for i := 0; i < refreshAttempts; i++ {
		committed, err := b.refresh(ctx)
		if err != nil || committed {
			return err
		}
		b.gw.InvalidateAccount()
	}
	return nil
}

func (b *Balances) refresh(ctx context.Context) (bool, error) {
	b.mu.RLock()
	gen := b.gen
	b.mu.RUnlock()

	acc, err := b.gw.AccountInfo(ctx)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return false, nil
	}
	b.balances = make(map[string]model.Balance, len(acc.Balances))
	for k, v := range acc.Balances {
		b.balances[k] = v
	}
	b.stale = false
	b.updatedAt = acc.UpdatedAt
	return true, nil
}

func (b *Balances) Free(ctx context.Context, asset string) (decimal.Decimal, error) {
	b.mu.RLock()
	stale := b.stale
	b.mu.RUnlock()
	if stale {
		if err := b.Refresh(ctx); err != nil {
			return decimal.Zero, err
		}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[asset].Free, nil
}

// Apply records a balance pushed by the user data stream.
func (b *Balances) Apply(bal model.Balance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[bal.Asset] = bal
	b.updatedAt = time.Now()
	b.gen++
}

func (b *Balances) Snapshot() map[string]model.Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]model.Balance, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out
}
