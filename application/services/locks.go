package services

import (
	"context"
	"sync"

	"github.com/teesha-ghevariya/to-do/application/ports"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// KeyedLocker is an in-process ports.GroupLocker. Each key is guarded by a
// one-slot channel so waiting can be abandoned when the context ends.
// Entries are reference counted and dropped once nobody holds or waits.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker creates an empty locker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*lockEntry)}
}

// Acquire takes every key of req in ports.LockRequest.Keys order.
func (l *KeyedLocker) Acquire(ctx context.Context, req ports.LockRequest) (func(), error) {
	keys := req.Keys()
	held := make([]string, 0, len(keys))

	for _, key := range keys {
		entry := l.ref(key)
		select {
		case entry.sem <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.unref(key)
			l.release(held)
			return nil, pkgerrors.NewLockTimeoutError(key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(held) })
	}, nil
}

// Held returns the number of keys currently tracked
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLocker) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *KeyedLocker) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		entry := l.entries[keys[i]]
		l.mu.Unlock()

		<-entry.sem
		l.unref(keys[i])
	}
}

var _ ports.GroupLocker = (*KeyedLocker)(nil)
