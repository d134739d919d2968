package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of filesystem events for one write.
const reloadDebounce = 50 * time.Millisecond

// File is a Store backed by a single JSON document. Writes replace the file
// atomically; a directory watch picks up writes made by other processes.
type File struct {
	path   string
	logger *slog.Logger
	w      watchers

	mu   sync.Mutex
	snap map[string]string // Last contents seen or written by this instance

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// OpenFile opens or creates the document at path and starts watching it.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	snap, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: rename-based writes replace the file inode.
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	f := &File{
		path:    path,
		logger:  logger.With("store", "file", "path", path),
		snap:    snap,
		watcher: w,
		done:    make(chan struct{}),
	}

	f.wg.Add(1)
	go f.watchLoop()

	return f, nil
}

// Get returns the value for key.
func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if f.isClosed() {
		return "", false, ErrClosed
	}

	// Read through to disk so writes from other processes are visible
	// before the watcher reports them.
	m, err := readDocument(f.path)
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set stores value under key.
func (f *File) Set(ctx context.Context, key, value string) error {
	return f.update(ctx, func(m map[string]string) {
		m[key] = value
	})
}

// Delete removes keys.
func (f *File) Delete(ctx context.Context, keys ...string) error {
	return f.update(ctx, func(m map[string]string) {
		for _, k := range keys {
			delete(m, k)
		}
	})
}

// Watch registers fn for changes written by other processes.
func (f *File) Watch(fn func(Change)) func() {
	return f.w.add(fn)
}

// Close stops the watcher.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
		f.wg.Wait()
	})
	return err
}

func (f *File) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// update applies mutate to the current on-disk contents and writes the
// result. External changes found on disk are reported before the write.
func (f *File) update(ctx context.Context, mutate func(map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.isClosed() {
		return ErrClosed
	}

	f.mu.Lock()

	current, err := readDocument(f.path)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	external := diff(f.snap, current)

	next := make(map[string]string, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	mutate(next)

	if err := writeDocument(f.path, next); err != nil {
		f.snap = current
		f.mu.Unlock()
		f.w.notify(external...)
		return err
	}
	f.snap = next
	f.mu.Unlock()

	f.w.notify(external...)
	return nil
}

func (f *File) watchLoop() {
	defer f.wg.Done()

	name := filepath.Clean(f.path)
	var pending <-chan time.Time

	for {
		select {
		case <-f.done:
			return

		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.After(reloadDebounce)
			}

		case <-pending:
			pending = nil
			f.reload()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("watch error", "error", err)
		}
	}
}

// reload re-reads the document and reports differences from the snapshot.
func (f *File) reload() {
	f.mu.Lock()
	current, err := readDocument(f.path)
	if err != nil {
		f.mu.Unlock()
		f.logger.Debug("reload failed", "error", err)
		return
	}
	changes := diff(f.snap, current)
	f.snap = current
	f.mu.Unlock()

	if len(changes) > 0 {
		f.logger.Debug("external changes", "count", len(changes))
	}
	f.w.notify(changes...)
}

func readDocument(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}

	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	return m, nil
}

// writeDocument writes m via a temp file and rename so readers never see a
// partial document.
func writeDocument(path string, m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
