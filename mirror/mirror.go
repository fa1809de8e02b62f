// Package mirror copies saved files into a Lode store.
//
// Mirroring is an optional post-save hook. Replicas land under a day
// partition, files/day=<yyyy-mm-dd>/<name>, so repeated saves of the same
// name on different days are kept apart.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/tgdrop/iox"
)

// Mirror replicates local files into a store created lazily from a factory.
// Safe for concurrent use.
type Mirror struct {
	factory lode.StoreFactory
	backend string
	now     func() time.Time

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithClock overrides the clock used for day partitions.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// WithBackend sets the backend label reported by Backend.
func WithBackend(name string) Option {
	return func(m *Mirror) { m.backend = name }
}

// New creates a Mirror over factory. The store is not opened until the
// first Replicate call.
func New(factory lode.StoreFactory, opts ...Option) (*Mirror, error) {
	if factory == nil {
		return nil, errors.New("mirror: store factory is required")
	}
	m := &Mirror{factory: factory, backend: "custom", now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewFS creates a Mirror backed by a local directory, created if missing.
func NewFS(root string) (*Mirror, error) {
	if root == "" {
		return nil, errors.New("mirror: fs root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, WrapInitError(err, root)
	}
	return New(lode.NewFSFactory(root), WithBackend("fs"))
}

// Backend returns the backend label (fs, s3 or custom).
func (m *Mirror) Backend() string { return m.backend }

// Key returns the store path for name at time t.
func Key(name string, t time.Time) string {
	return fmt.Sprintf("files/day=%s/%s", t.UTC().Format(time.DateOnly), name)
}

// Replicate copies the file at localPath into the store under name and
// returns the store path.
func (m *Mirror) Replicate(ctx context.Context, localPath, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("mirror: invalid name %q", name)
	}

	store, err := m.getOrCreateStore()
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", WrapReadError(err, localPath)
	}
	defer iox.DiscardClose(f)

	key := Key(name, m.now())
	if err := store.Put(ctx, key, f); err != nil {
		return "", WrapWriteError(err, key)
	}
	return key, nil
}

// getOrCreateStore lazily initializes the store from the factory.
func (m *Mirror) getOrCreateStore() (lode.Store, error) {
	m.storeOnce.Do(func() {
		m.store, m.storeErr = m.factory()
		if m.storeErr != nil {
			m.storeErr = WrapInitError(m.storeErr, m.backend)
		}
	})
	return m.store, m.storeErr
}
