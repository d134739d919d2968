package store

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store is a durable string key-value store with change notification.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Watch registers fn for changes made by other instances sharing the
	// same underlying storage. The returned func unregisters it.
	Watch(fn func(Change)) (unwatch func())

	// Close releases resources and stops change delivery.
	Close() error
}

// Op is the kind of change observed.
type Op int

const (
	OpSet Op = iota + 1
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change describes a modification made by another instance.
type Change struct {
	Key     string
	Op      Op
	Value   string // New value for OpSet
	Created bool   // OpSet on a key that did not previously exist
}

// watchers is a registry of change callbacks shared by the backends.
type watchers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(Change)
}

func (w *watchers) add(fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fns == nil {
		w.fns = make(map[uint64]func(Change))
	}
	w.next++
	id := w.next
	w.fns[id] = fn

	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watchers) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	w.mu.RLock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// diff computes the changes that turn prev into next.
func diff(prev, next map[string]string) []Change {
	var changes []Change
	for k, v := range next {
		old, ok := prev[k]
		if !ok {
			changes = append(changes, Change{Key: k, Op: OpSet, Value: v, Created: true})
		} else if old != v {
			changes = append(changes, Change{Key: k, Op: OpSet, Value: v})
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changes = append(changes, Change{Key: k, Op: OpDelete})
		}
	}
	return changes
}
