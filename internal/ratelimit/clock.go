package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Clock provides the current time. Limiters take one so tests can drive time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock returns a settable time. Safe for concurrent use.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewFixedClock creates a FixedClock starting at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the fixed time.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set replaces the current time.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// StateStore is the subset of the durable key-value store the limiters need.
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	clock  Clock
	store  StateStore
	logger *slog.Logger
	rand   func() float64
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithStore persists limiter state to s.
func WithStore(s StateStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRand sets the jitter source. f must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(o *options) {
		o.rand = f
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// storeTimeout bounds a single state load or save.
const storeTimeout = 2 * time.Second
