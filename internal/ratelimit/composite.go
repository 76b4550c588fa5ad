// Package ratelimit enforces several overlapping exchange rate windows for
// one resource class.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrWeightExceedsCapacity = errors.New("weight exceeds window capacity")

// Window allows Capacity units per Interval, refilled continuously.
type Window struct {
	Capacity int           `json:"capacity"`
	Interval time.Duration `json:"interval"`
}

func (w Window) String() string {
	return fmt.Sprintf("%d/%s", w.Capacity, w.Interval)
}

// BucketStatus is a point-in-time readout of one window.
type BucketStatus struct {
	Window
	Tokens float64 `json:"tokens"`
}

type bucket struct {
	window  Window
	limiter *rate.Limiter
}

func newBucket(w Window) *bucket {
	perSecond := float64(w.Capacity) / w.Interval.Seconds()
	return &bucket{
		window:  w,
		limiter: rate.NewLimiter(rate.Limit(perSecond), w.Capacity),
	}
}

// Composite admits a request only after every window debited its weight.
// Windows are drained least-available first so the binding constraint is
// waited on before the others are touched.
type Composite struct {
	name    string
	mu      sync.RWMutex
	buckets []*bucket
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Composite)

// WithClock swaps the time source and the sleep used while waiting.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Composite) {
		c.now = now
		c.sleep = sleep
	}
}

func New(name string, windows []Window, opts ...Option) *Composite {
	c := &Composite{
		name:  name,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset(windows)
	return c
}

func (c *Composite) Name() string {
	return c.name
}

// Reset replaces the windows, starting each one full. Invalid windows are
// skipped.
func (c *Composite) Reset(windows []Window) {
	buckets := make([]*bucket, 0, len(windows))
	for _, w := range windows {
		if w.Capacity <= 0 || w.Interval <= 0 {
			continue
		}
		buckets = append(buckets, newBucket(w))
	}
	c.mu.Lock()
	c.buckets = buckets
	c.mu.Unlock()
}

func (c *Composite) Windows() []Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Window, len(c.buckets))
	for i, b := range c.buckets {
		out[i] = b.window
	}
	return out
}

// Consume blocks until weight has been debited from every window. It only
// fails when weight can never fit a window or ctx ends while waiting; a
// window already debited is not refunded in that case.
func (c *Composite) Consume(ctx context.Context, weight int) error {
	if weight <= 0 {
		return nil
	}
	for _, b := range c.ordered() {
		now := c.now()
		r := b.limiter.ReserveN(now, weight)
		if !r.OK() {
			return fmt.Errorf("%s %s: %w (weight %d)", c.name, b.window, ErrWeightExceedsCapacity, weight)
		}
		delay := r.DelayFrom(now)
		if delay <= 0 {
			continue
		}
		if err := c.sleep(ctx, delay); err != nil {
			r.CancelAt(c.now())
			return err
		}
	}
	return nil
}

// ordered returns the buckets sorted by the fraction of their capacity
// still available, lowest first. Ties keep configuration order.
func (c *Composite) ordered() []*bucket {
	c.mu.RLock()
	buckets := make([]*bucket, len(c.buckets))
	copy(buckets, c.buckets)
	c.mu.RUnlock()

	now := c.now()
	left := make(map[*bucket]float64, len(buckets))
	for _, b := range buckets {
		left[b] = b.limiter.TokensAt(now) / float64(b.window.Capacity)
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return left[buckets[i]] < left[buckets[j]]
	})
	return buckets
}

// Status reports the tokens left per window, clamped to [0, capacity].
func (c *Composite) Status() []BucketStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make([]BucketStatus, 0, len(c.buckets))
	for _, b := range c.buckets {
		tokens := b.limiter.TokensAt(now)
		if tokens < 0 {
			tokens = 0
		}
		if max := float64(b.window.Capacity); tokens > max {
			tokens = max
		}
		out = append(out, BucketStatus{Window: b.window, Tokens: tokens})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
