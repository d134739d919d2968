package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultQueueSize = 64

// Registry fans events of type T out to subscribers.
type Registry[T any] struct {
	name   string
	logger *slog.Logger
	queue  *Queue[T]

	mu   sync.RWMutex
	subs []subscription[T]

	delivered atomic.Int64
	panics    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type subscription[T any] struct {
	id uuid.UUID
	fn func(T)
}

// RegistryStats is a snapshot of registry counters.
type RegistryStats struct {
	Subscribers int
	Delivered   int64 // Callback invocations
	Panics      int64
	Queue       QueueStats
}

// NewRegistry creates a registry and starts its dispatch goroutine. name
// labels log output.
func NewRegistry[T any](name string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry[T]{
		name:   name,
		logger: logger.With("registry", name),
		queue:  NewQueue[T](defaultQueueSize),
		done:   make(chan struct{}),
	}
	go r.dispatchLoop()
	return r
}

// Subscribe adds fn and returns a func that removes it. Calling the
// returned func more than once is safe.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	id := uuid.New()

	r.mu.Lock()
	r.subs = append(r.subs, subscription[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

// Publish queues v for delivery. It returns false after Close.
func (r *Registry[T]) Publish(v T) bool {
	return r.queue.Push(v)
}

// Len returns the number of subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close stops accepting events and waits until queued events are delivered.
func (r *Registry[T]) Close() {
	r.closeOnce.Do(r.queue.Close)
	<-r.done
}

// Stats returns a snapshot of registry counters.
func (r *Registry[T]) Stats() RegistryStats {
	return RegistryStats{
		Subscribers: r.Len(),
		Delivered:   r.delivered.Load(),
		Panics:      r.panics.Load(),
		Queue:       r.queue.Stats(),
	}
}

func (r *Registry[T]) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

func (r *Registry[T]) dispatchLoop() {
	defer close(r.done)

	for {
		v, ok := r.queue.Pop()
		if !ok {
			return
		}

		r.mu.RLock()
		subs := r.subs
		r.mu.RUnlock()

		for _, s := range subs {
			r.deliver(s, v)
		}
	}
}

func (r *Registry[T]) deliver(s subscription[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("subscriber panicked", "subscription", s.id, "panic", p)
		}
	}()

	s.fn(v)
	r.delivered.Add(1)
}
