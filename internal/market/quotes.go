package market

import (
	"sync"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
)

// Quotes holds the latest top of book per pair.
type Quotes struct {
	mu     sync.RWMutex
	latest map[string]model.Tick
}

func NewQuotes() *Quotes {
	return &Quotes{latest: make(map[string]model.Tick)}
}

// Update stores t. It reports false when bid and ask are unchanged.
func (q *Quotes) Update(t model.Tick) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev, ok := q.latest[t.Pair]
	if ok && prev.Bid.Equal(t.Bid) && prev.Ask.Equal(t.Ask) {
		return false
	}
	q.latest[t.Pair] = t
	return true
}

func (q *Quotes) Get(pair string) (model.Tick, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.latest[pair]
	return t, ok
}

// Snapshot returns a copy of all quotes.
func (q *Quotes) Snapshot() map[string]model.Tick {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]model.Tick, len(q.latest))
	for k, v := range q.latest {
		out[k] = v
	}
	return out
}
