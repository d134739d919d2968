package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// TokenBucketConfig configures a TokenBucket.
type TokenBucketConfig struct {
	Capacity       int           // Maximum tokens held
	RefillRate     int           // Tokens added per elapsed RefillInterval
	RefillInterval time.Duration // Refill granularity
	StorageKey     string        // Store key for persisted state
}

// DefaultTokenBucketConfig returns 60 tokens refilled at 1 token per second.
func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{
		Capacity:       60,
		RefillRate:     1,
		RefillInterval: time.Second,
		StorageKey:     "message_rate_limit",
	}
}

// TokenBucket is an integer token bucket. Callers check CanSend, transmit,
// then Consume. Exhaustion never blocks; callers re-check after TimeUntilNext.
type TokenBucket struct {
	cfg    TokenBucketConfig
	clock  Clock
	store  StateStore
	logger *slog.Logger

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time

	stopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

type bucketState struct {
	Tokens     int   `json:"tokens"`
	LastRefill int64 `json:"lastRefill"` // unix ms
}

// NewTokenBucket creates a bucket. Persisted state is restored when a store
// is configured; otherwise the bucket starts full.
func NewTokenBucket(cfg TokenBucketConfig, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillRate < 1 {
		cfg.RefillRate = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}

	b := &TokenBucket{
		cfg:        cfg,
		clock:      o.clock,
		store:      o.store,
		logger:     o.logger.With("limiter", cfg.StorageKey),
		tokens:     cfg.Capacity,
		lastRefill: o.clock.Now(),
	}
	b.load()
	return b
}

// Start runs a background refill every RefillInterval so waiting callers
// observe replenishment without polling. It returns immediately.
func (b *TokenBucket) Start(ctx context.Context) {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go b.refillLoop(ctx, b.stop, b.done)
}

// Stop halts the background refill and waits for it to exit.
func (b *TokenBucket) Stop() {
	b.stopMu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	b.stopMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (b *TokenBucket) refillLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.cfg.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.refill()
			b.mu.Unlock()
		}
	}
}

// CanSend refills and reports whether at least one token is available.
func (b *TokenBucket) CanSend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens > 0
}

// Consume takes one token if available. It is a no-op on an empty bucket.
func (b *TokenBucket) Consume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tokens > 0 {
		b.tokens--
		b.save()
	}
}

// TimeUntilNext returns how long until a token is available (0 if one is).
func (b *TokenBucket) TimeUntilNext() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tokens > 0 {
		return 0
	}

	elapsed := b.clock.Now().Sub(b.lastRefill)
	if elapsed >= b.cfg.RefillInterval {
		b.refill()
		if b.tokens > 0 {
			return 0
		}
		return b.cfg.RefillInterval
	}
	if elapsed < 0 {
		return b.cfg.RefillInterval
	}
	return b.cfg.RefillInterval - elapsed%b.cfg.RefillInterval
}

// Tokens returns the current token count after a refill pass.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// Capacity returns the configured capacity.
func (b *TokenBucket) Capacity() int {
	return b.cfg.Capacity
}

// refill adds whole intervals' worth of tokens. Caller holds b.mu.
func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)

	// Clock went backwards: restart the interval without adding tokens.
	if elapsed < 0 {
		b.lastRefill = now
		return
	}

	add := int(elapsed/b.cfg.RefillInterval) * b.cfg.RefillRate
	if add <= 0 {
		return
	}

	prev := b.tokens
	b.tokens = min(b.cfg.Capacity, b.tokens+add)
	b.lastRefill = now

	// A full bucket only moved lastRefill; the next Consume persists it.
	if b.tokens != prev {
		b.save()
	}
}

func (b *TokenBucket) load() {
	if b.store == nil || b.cfg.StorageKey == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	raw, ok, err := b.store.Get(ctx, b.cfg.StorageKey)
	if err != nil {
		b.logger.Warn("failed to load bucket state", "error", err)
		return
	}
	if !ok {
		return
	}

	var st bucketState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		b.logger.Debug("discarding malformed bucket state", "error", err)
		return
	}

	b.tokens = max(0, min(b.cfg.Capacity, st.Tokens))
	b.lastRefill = time.UnixMilli(st.LastRefill)
}

// save persists state. Caller holds b.mu.
func (b *TokenBucket) save() {
	if b.store == nil || b.cfg.StorageKey == "" {
		return
	}

	data, _ := json.Marshal(bucketState{
		Tokens:     b.tokens,
		LastRefill: b.lastRefill.UnixMilli(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := b.store.Set(ctx, b.cfg.StorageKey, string(data)); err != nil {
		b.logger.Debug("failed to save bucket state", "error", err)
	}
}
