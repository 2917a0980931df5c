package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadFunc computes the value for a key.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// Loader is a compute-and-cache map with freshness and staleness windows.
//
// A value younger than the fresh window is returned as-is. A value older
// than the fresh window but younger than the stale window is returned
// immediately while a background refresh runs (stale-while-revalidate).
// Anything older is recomputed, blocking the caller.
//
// Concurrent Gets for the same key never run the load function twice: the
// second caller awaits the first's in-flight result (single-flight). Load
// failures are not cached.
//
// Computations deliberately run on a context detached from the caller: a
// request that goes away mid-computation still populates the cache for the
// next caller.
type Loader[V any] struct {
	load  LoadFunc[V]
	fresh time.Duration
	stale time.Duration
	now   func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*loaderEntry[V]
}

type loaderEntry[V any] struct {
	value    V
	storedAt time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	fresh time.Duration
	stale time.Duration
	now   func() time.Time
}

// WithFreshFor sets the freshness window.
func WithFreshFor(d time.Duration) LoaderOption {
	return func(o *loaderOptions) { o.fresh = d }
}

// WithStaleFor sets the staleness window. A value not past this window may
// still be served while a refresh happens in the background. Values equal
// to or below the fresh window disable stale serving.
func WithStaleFor(d time.Duration) LoaderOption {
	return func(o *loaderOptions) { o.stale = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) LoaderOption {
	return func(o *loaderOptions) { o.now = now }
}

// NewLoader creates a Loader around the given load function.
// Defaults: fresh 1h, stale 2h.
func NewLoader[V any](load LoadFunc[V], opts ...LoaderOption) *Loader[V] {
	o := loaderOptions{fresh: time.Hour, stale: 2 * time.Hour, now: time.Now}
	for _, f := range opts {
		f(&o)
	}
	if o.stale < o.fresh {
		o.stale = o.fresh
	}
	return &Loader[V]{
		load:    load,
		fresh:   o.fresh,
		stale:   o.stale,
		now:     o.now,
		entries: make(map[string]*loaderEntry[V]),
	}
}

// Get returns the cached value for key, computing it if needed.
func (l *Loader[V]) Get(ctx context.Context, key string) (V, error) {
	now := l.now()
	l.mu.Lock()
	e := l.entries[key]
	if e != nil {
		age := now.Sub(e.storedAt)
		switch {
		case age < l.fresh:
			v := e.value
			l.mu.Unlock()
			return v, nil
		case age < l.stale:
			v := e.value
			l.mu.Unlock()
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = l.group.Do(key, func() (any, error) { return l.compute(refreshCtx, key) })
			}()
			return v, nil
		default:
			delete(l.entries, key)
		}
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(key, func() (any, error) {
		return l.compute(context.WithoutCancel(ctx), key)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (l *Loader[V]) compute(ctx context.Context, key string) (V, error) {
	v, err := l.load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	l.mu.Lock()
	l.entries[key] = &loaderEntry[V]{value: v, storedAt: l.now()}
	l.mu.Unlock()
	return v, nil
}

// Peek returns the cached value without computing, regardless of windows.
func (l *Loader[V]) Peek(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Forget drops a cached key.
func (l *Loader[V]) Forget(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// Len reports the number of cached entries.
func (l *Loader[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
