package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// StatePrefix namespaces persisted backoff state per limiter key.
const StatePrefix = "rate_limit_"

// BackoffConfig configures a Backoff limiter.
type BackoffConfig struct {
	MaxAttempts  int           // Failed attempts allowed per window
	Window       time.Duration // Attempt window length
	InitialDelay time.Duration // Base spacing after a reset
	MaxDelay     time.Duration // Spacing ceiling
	Jitter       bool          // Scale spacing by a factor in [0.5, 1.5)
}

// DefaultBackoffConfig returns 5 attempts per minute, spacing 1s doubling to 32s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:  5,
		Window:       60 * time.Second,
		InitialDelay: time.Second,
		MaxDelay:     32 * time.Second,
		Jitter:       true,
	}
}

// BackoffState is a snapshot of a limiter's counters.
type BackoffState struct {
	Attempts        int
	ResetTime       time.Time
	NextAttemptTime time.Time
	CurrentDelay    time.Duration
}

type backoffRecord struct {
	Attempts        int   `json:"attempts"`
	ResetTime       int64 `json:"resetTime"`       // unix ms
	NextAttemptTime int64 `json:"nextAttemptTime"` // unix ms
	CurrentDelay    int64 `json:"currentDelay"`    // ms
}

// Backoff gates attempts with two independent rules: a fixed window caps the
// number of failed attempts, and exponential spacing enforces a minimum gap
// between attempts. Both must pass for CanAttempt to return true.
type Backoff struct {
	key    string
	cfg    BackoffConfig
	clock  Clock
	store  StateStore
	rand   func() float64
	logger *slog.Logger

	mu sync.Mutex
	st BackoffState
}

// NewBackoff creates a limiter whose persisted state lives under key.
func NewBackoff(key string, cfg BackoffConfig, opts ...Option) *Backoff {
	o := buildOptions(opts)
	if o.rand == nil {
		o.rand = rand.Float64
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	b := &Backoff{
		key:    key,
		cfg:    cfg,
		clock:  o.clock,
		store:  o.store,
		rand:   o.rand,
		logger: o.logger.With("limiter", key),
	}
	b.st = b.freshState(b.clock.Now())
	b.load()
	return b
}

// Key returns the limiter key.
func (b *Backoff) Key() string {
	return b.key
}

// CanAttempt reports whether an attempt is currently permitted.
func (b *Backoff) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if !now.Before(b.st.ResetTime) {
		b.st = b.freshState(now)
		b.save()
		return true
	}

	if now.Before(b.st.NextAttemptTime) {
		return false
	}

	return b.st.Attempts < b.cfg.MaxAttempts
}

// RecordAttempt records the outcome of an attempt. Success halves the delay
// (floored at InitialDelay); failure counts against the window and doubles
// the delay (capped at MaxDelay).
func (b *Backoff) RecordAttempt(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.roll(now)

	var spacing time.Duration
	if success {
		b.st.CurrentDelay = max(b.cfg.InitialDelay, b.st.CurrentDelay/2)
		spacing = b.st.CurrentDelay
	} else {
		b.st.Attempts = min(b.cfg.MaxAttempts, b.st.Attempts+1)

		next := b.st.CurrentDelay * 2
		if next <= 0 {
			next = b.cfg.InitialDelay
		}
		b.st.CurrentDelay = min(b.cfg.MaxDelay, next)

		spacing = b.st.CurrentDelay
		if b.cfg.Jitter {
			spacing = time.Duration(float64(spacing) * (0.5 + b.rand()))
		}
	}

	b.st.NextAttemptTime = now.Add(spacing)
	b.save()

	b.logger.Debug("attempt recorded",
		"success", success,
		"attempts", b.st.Attempts,
		"delay", b.st.CurrentDelay,
		"next_in", spacing,
	)
}

// NextAttemptDelay returns the remaining spacing before the next attempt.
func (b *Backoff) NextAttemptDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.roll(now)
	return max(0, b.st.NextAttemptTime.Sub(now))
}

// ResetIn returns the time until the current attempt window resets.
func (b *Backoff) ResetIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.roll(now)
	return max(0, b.st.ResetTime.Sub(now))
}

// IsRateLimited reports whether the window's attempt cap has been reached.
func (b *Backoff) IsRateLimited() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(b.clock.Now())
	return b.st.Attempts >= b.cfg.MaxAttempts
}

// State returns a snapshot of the limiter counters.
func (b *Backoff) State() BackoffState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(b.clock.Now())
	return b.st
}

// roll resets the window once it has elapsed. Caller holds b.mu.
func (b *Backoff) roll(now time.Time) {
	if !now.Before(b.st.ResetTime) {
		b.st = b.freshState(now)
		b.save()
	}
}

func (b *Backoff) freshState(now time.Time) BackoffState {
	return BackoffState{
		ResetTime:    now.Add(b.cfg.Window),
		CurrentDelay: b.cfg.InitialDelay,
	}
}

func (b *Backoff) storageKey() string {
	return StatePrefix + b.key
}

func (b *Backoff) load() {
	if b.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	raw, ok, err := b.store.Get(ctx, b.storageKey())
	if err != nil {
		b.logger.Warn("failed to load limiter state", "error", err)
		return
	}
	if !ok {
		return
	}

	var rec backoffRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		b.logger.Debug("discarding malformed limiter state", "error", err)
		return
	}

	st := BackoffState{
		Attempts:        min(max(0, rec.Attempts), b.cfg.MaxAttempts),
		ResetTime:       time.UnixMilli(rec.ResetTime),
		NextAttemptTime: time.UnixMilli(rec.NextAttemptTime),
		CurrentDelay:    time.Duration(rec.CurrentDelay) * time.Millisecond,
	}

	// Expired state is replaced by the fresh state built in NewBackoff.
	if !b.clock.Now().Before(st.ResetTime) {
		return
	}
	b.st = st
}

// save persists state. Caller holds b.mu.
func (b *Backoff) save() {
	if b.store == nil {
		return
	}

	data, _ := json.Marshal(backoffRecord{
		Attempts:        b.st.Attempts,
		ResetTime:       b.st.ResetTime.UnixMilli(),
		NextAttemptTime: b.st.NextAttemptTime.UnixMilli(),
		CurrentDelay:    b.st.CurrentDelay.Milliseconds(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := b.store.Set(ctx, b.storageKey(), string(data)); err != nil {
		b.logger.Debug("failed to save limiter state", "error", err)
	}
}
