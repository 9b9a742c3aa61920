// Package store holds the last-settled calendar state the controller
// renders from. Stores never edit their snapshot from a write response;
// callers reload after every mutation.
package store

import (
	"errors"
	"sync"
	"time"
)

// ErrStale is returned by a load whose result was discarded because a
// newer load started before it settled.
var ErrStale = errors.New("store: load superseded by a newer one")

// window is a generation-guarded snapshot keyed by the range it covers.
type window[K comparable, T any] struct {
	mu     sync.RWMutex
	gen    uint64
	key    K
	loaded bool
	items  []T
}

// begin starts a load and returns its generation.
func (w *window[K, T]) begin() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	return w.gen
}

// settle applies the outcome of load gen. A failed load keeps the snapshot
// when it targeted the same key and clears it otherwise.
func (w *window[K, T]) settle(gen uint64, key K, items []T, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen {
		return ErrStale
	}
	if err != nil {
		if !w.loaded || w.key != key {
			w.key, w.loaded, w.items = key, false, nil
		}
		return err
	}
	w.key, w.loaded, w.items = key, true, items
	return nil
}

// invalidate drops the snapshot and makes in-flight loads stale.
func (w *window[K, T]) invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.loaded = false
	w.items = nil
}

func (w *window[K, T]) snapshot() (K, []T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]T, len(w.items))
	copy(out, w.items)
	return w.key, out, w.loaded
}

func (w *window[K, T]) find(match func(T) bool) (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, it := range w.items {
		if match(it) {
			return it, true
		}
	}
	var zero T
	return zero, false
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock used for past-time checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
