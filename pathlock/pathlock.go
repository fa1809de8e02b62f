// Package pathlock serializes writers that target the same destination path.
//
// A Table lazily creates one binary semaphore per key. The table guard is held
// only while looking up or inserting an entry; waiting on a per-key semaphore
// happens outside it, so unrelated keys never serialize against each other.
// Entries are never removed: the table grows with the set of distinct
// destinations seen by the process.
package pathlock

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/tgdrop/log"
)

// Table is a registry of per-key mutual exclusion handles.
// Safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	locks map[string]chan struct{}

	logger *log.Logger
}

// New creates an empty lock table. A nil logger discards diagnostics.
func New(logger *log.Logger) *Table {
	if logger == nil {
		logger = log.Discard()
	}
	return &Table{
		locks:  make(map[string]chan struct{}),
		logger: logger,
	}
}

// normalize makes "a/./b.jpg" and "a/b.jpg" the same key.
func normalize(key string) string {
	if key == "" {
		return key
	}
	return filepath.Clean(key)
}

// handle returns the semaphore for key, creating it on first use.
// Creation is double-checked under the write lock so concurrent first
// callers share one semaphore.
func (t *Table) handle(key string) chan struct{} {
	t.mu.RLock()
	sem, ok := t.locks[key]
	t.mu.RUnlock()
	if ok {
		return sem
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if sem, ok = t.locks[key]; !ok {
		sem = make(chan struct{}, 1)
		t.locks[key] = sem
	}
	return sem
}

// Acquire blocks until the caller holds the lock for key or ctx is done.
// On a nil return the caller must call Release(key) exactly once.
func (t *Table) Acquire(ctx context.Context, key string) error {
	sem := t.handle(normalize(key))

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives up the lock for key.
// Releasing a key that was never registered, or is not currently held, is a no-op.
func (t *Table) Release(key string) {
	key = normalize(key)

	t.mu.RLock()
	sem, ok := t.locks[key]
	t.mu.RUnlock()
	if !ok {
		t.logger.Debug("release of unregistered lock ignored", map[string]any{"key": key})
		return
	}

	select {
	case <-sem:
	default:
		t.logger.Debug("release of unheld lock ignored", map[string]any{"key": key})
	}
}

// Len returns the number of registered keys.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.locks)
}
