package store

import (
	"context"
	"sync"
)

// memoryData is the storage shared by all views of a Memory store.
type memoryData struct {
	mu    sync.RWMutex
	kv    map[string]string
	views map[*Memory]struct{}
}

// Memory is an in-process Store. Views created with Sibling share data and
// observe each other's changes, standing in for separate processes.
type Memory struct {
	data *memoryData
	w    watchers

	mu     sync.Mutex
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	d := &memoryData{
		kv:    make(map[string]string),
		views: make(map[*Memory]struct{}),
	}
	m := &Memory{data: d}
	d.views[m] = struct{}{}
	return m
}

// Sibling returns another view onto the same data.
func (m *Memory) Sibling() *Memory {
	s := &Memory{data: m.data}
	m.data.mu.Lock()
	m.data.views[s] = struct{}{}
	m.data.mu.Unlock()
	return s
}

// Get returns the value for key.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := m.check(ctx); err != nil {
		return "", false, err
	}

	m.data.mu.RLock()
	defer m.data.mu.RUnlock()

	v, ok := m.data.kv[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	m.data.mu.Lock()
	old, existed := m.data.kv[key]
	m.data.kv[key] = value
	others := m.others()
	m.data.mu.Unlock()

	if existed && old == value {
		return nil
	}
	change := Change{Key: key, Op: OpSet, Value: value, Created: !existed}
	for _, o := range others {
		o.w.notify(change)
	}
	return nil
}

// Delete removes keys.
func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	var changes []Change
	m.data.mu.Lock()
	for _, k := range keys {
		if _, ok := m.data.kv[k]; ok {
			delete(m.data.kv, k)
			changes = append(changes, Change{Key: k, Op: OpDelete})
		}
	}
	others := m.others()
	m.data.mu.Unlock()

	for _, o := range others {
		o.w.notify(changes...)
	}
	return nil
}

// Watch registers fn for changes made through sibling views.
func (m *Memory) Watch(fn func(Change)) func() {
	return m.w.add(fn)
}

// Close detaches this view. Other views keep working.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.data.mu.Lock()
	delete(m.data.views, m)
	m.data.mu.Unlock()
	return nil
}

// others returns the other live views. Caller holds data.mu.
func (m *Memory) others() []*Memory {
	out := make([]*Memory, 0, len(m.data.views))
	for v := range m.data.views {
		if v != m {
			out = append(out, v)
		}
	}
	return out
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}
