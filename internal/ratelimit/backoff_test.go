package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rickgao/huddle-client/internal/store"
)

func noJitter() BackoffConfig {
	cfg := DefaultBackoffConfig()
	cfg.Jitter = false
	return cfg
}

func TestBackoff_WindowCap(t *testing.T) {
	clock := NewFixedClock(epoch)
	b := NewBackoff("websocket_connection", noJitter(), WithClock(clock))

	// Six rapid failures within ten seconds.
	for i := 0; i < 6; i++ {
		b.RecordAttempt(false)
		clock.Advance(time.Second)
	}

	st := b.State()
	if st.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5 (capped)", st.Attempts)
	}
	if !b.IsRateLimited() {
		t.Error("IsRateLimited() = false, want true")
	}

	// Past the spacing but inside the window: still blocked by the cap.
	clock.Set(epoch.Add(50 * time.Second))
	if b.CanAttempt() {
		t.Error("CanAttempt() = true inside window, want false")
	}
	if got := b.ResetIn(); got != 10*time.Second {
		t.Errorf("ResetIn() = %v, want 10s", got)
	}

	clock.Set(epoch.Add(60 * time.Second))
	if !b.CanAttempt() {
		t.Error("CanAttempt() = false after window reset, want true")
	}
	st = b.State()
	if st.Attempts != 0 || st.CurrentDelay != time.Second {
		t.Errorf("state after reset = %+v, want attempts=0 delay=1s", st)
	}
}

func TestBackoff_DelayDoubling(t *testing.T) {
	clock := NewFixedClock(epoch)
	cfg := noJitter()
	cfg.MaxAttempts = 10
	b := NewBackoff("k", cfg, WithClock(clock))

	want := []time.Duration{2, 4, 8, 16, 32, 32, 32}
	for i, w := range want {
		b.RecordAttempt(false)
		if got := b.State().CurrentDelay; got != w*time.Second {
			t.Errorf("after %d failures delay = %v, want %v", i+1, got, w*time.Second)
		}
		if got := b.NextAttemptDelay(); got != w*time.Second {
			t.Errorf("after %d failures NextAttemptDelay() = %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func TestBackoff_SuccessHalves(t *testing.T) {
	clock := NewFixedClock(epoch)
	b := NewBackoff("k", noJitter(), WithClock(clock))

	for i := 0; i < 3; i++ {
		b.RecordAttempt(false)
	}
	if got := b.State().CurrentDelay; got != 8*time.Second {
		t.Fatalf("delay = %v, want 8s", got)
	}

	for _, want := range []time.Duration{4, 2, 1, 1} {
		b.RecordAttempt(true)
		if got := b.State().CurrentDelay; got != want*time.Second {
			t.Errorf("delay after success = %v, want %v", got, want*time.Second)
		}
	}

	// Success does not count against the window.
	if got := b.State().Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
}

func TestBackoff_Spacing(t *testing.T) {
	clock := NewFixedClock(epoch)
	b := NewBackoff("k", noJitter(), WithClock(clock))

	if !b.CanAttempt() {
		t.Fatal("CanAttempt() = false on fresh limiter")
	}

	b.RecordAttempt(false)
	if b.CanAttempt() {
		t.Error("CanAttempt() = true before spacing elapsed")
	}

	clock.Advance(1999 * time.Millisecond)
	if b.CanAttempt() {
		t.Error("CanAttempt() = true 1ms before spacing elapsed")
	}

	clock.Advance(time.Millisecond)
	if !b.CanAttempt() {
		t.Error("CanAttempt() = false once spacing elapsed")
	}
	if b.IsRateLimited() {
		t.Error("IsRateLimited() = true after one failure")
	}
}

func TestBackoff_Jitter(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want time.Duration
	}{
		{name: "low", r: 0, want: time.Second},
		{name: "mid", r: 0.5, want: 2 * time.Second},
		{name: "high", r: 0.75, want: 2500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewFixedClock(epoch)
			b := NewBackoff("k", DefaultBackoffConfig(),
				WithClock(clock),
				WithRand(func() float64 { return tt.r }),
			)

			b.RecordAttempt(false)

			if got := b.NextAttemptDelay(); got != tt.want {
				t.Errorf("NextAttemptDelay() = %v, want %v", got, tt.want)
			}
			// The stored delay is not jittered.
			if got := b.State().CurrentDelay; got != 2*time.Second {
				t.Errorf("CurrentDelay = %v, want 2s", got)
			}
		})
	}
}

func TestBackoff_Persistence(t *testing.T) {
	clock := NewFixedClock(epoch)
	kv := store.NewMemory()

	a := NewBackoff("websocket_connection", noJitter(), WithClock(clock), WithStore(kv))
	a.RecordAttempt(false)
	a.RecordAttempt(false)

	if _, ok, _ := kv.Get(context.Background(), StatePrefix+"websocket_connection"); !ok {
		t.Fatal("state not persisted under prefixed key")
	}

	b := NewBackoff("websocket_connection", noJitter(), WithClock(clock), WithStore(kv))
	st := b.State()
	if st.Attempts != 2 || st.CurrentDelay != 4*time.Second {
		t.Errorf("restored state = %+v, want attempts=2 delay=4s", st)
	}
	if !st.ResetTime.Equal(epoch.Add(time.Minute)) {
		t.Errorf("restored ResetTime = %v, want %v", st.ResetTime, epoch.Add(time.Minute))
	}

	// Independent keys do not share counters.
	other := NewBackoff("api_login", noJitter(), WithClock(clock), WithStore(kv))
	if got := other.State().Attempts; got != 0 {
		t.Errorf("other key Attempts = %d, want 0", got)
	}

	// Expired persisted state is discarded.
	clock.Advance(2 * time.Minute)
	c := NewBackoff("websocket_connection", noJitter(), WithClock(clock), WithStore(kv))
	if got := c.State().Attempts; got != 0 {
		t.Errorf("expired state Attempts = %d, want 0", got)
	}
}
