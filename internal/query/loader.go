// Package query serves the read side: batched per-request loaders, static
// query analysis and execution of read-only GraphQL documents.
package query

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultBatchWait = 2 * time.Millisecond
	DefaultMaxBatch  = 100
)

// BatchFunc fetches many keys in one call. Keys missing from the map are
// reported as not found.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Loader collects the keys requested within a short window into one
// BatchFunc call and remembers every result for its own lifetime. A Loader
// belongs to a single request and must not be shared across requests.
type Loader[K comparable, V any] struct {
	fetch    BatchFunc[K, V]
	wait     time.Duration
	maxBatch int

	mu      sync.Mutex
	results map[K]*result[V]
	pending *batch[K, V]
}

type result[V any] struct {
	done  chan struct{}
	value V
	found bool
	err   error
}

type batch[K comparable, V any] struct {
	ctx        context.Context
	keys       []K
	dispatched bool
}

func NewLoader[K comparable, V any](fetch BatchFunc[K, V], wait time.Duration, maxBatch int) *Loader[K, V] {
	if wait <= 0 {
		wait = DefaultBatchWait
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Loader[K, V]{
		fetch:    fetch,
		wait:     wait,
		maxBatch: maxBatch,
		results:  make(map[K]*result[V]),
	}
}

// Load returns the value for key. found is false when the batch function did
// not return the key.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (value V, found bool, err error) {
	r := l.enqueue(ctx, key)

	select {
	case <-r.done:
		return r.value, r.found, r.err
	case <-ctx.Done():
		return value, false, ctx.Err()
	}
}

// LoadMany loads keys through the same batches as Load and returns the ones
// that were found.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) (map[K]V, error) {
	pending := make(map[K]*result[V], len(keys))
	for _, k := range keys {
		pending[k] = l.enqueue(ctx, k)
	}

	out := make(map[K]V, len(keys))
	for k, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.found {
			out[k] = r.value
		}
	}
	return out, nil
}

func (l *Loader[K, V]) enqueue(ctx context.Context, key K) *result[V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.results[key]; ok {
		return r
	}

	r := &result[V]{done: make(chan struct{})}
	l.results[key] = r

	if l.pending == nil {
		b := &batch[K, V]{ctx: ctx}
		l.pending = b
		time.AfterFunc(l.wait, func() { l.dispatch(b) })
	}
	b := l.pending
	b.keys = append(b.keys, key)
	if len(b.keys) >= l.maxBatch {
		l.pending = nil
		go l.dispatch(b)
	}
	return r
}

func (l *Loader[K, V]) dispatch(b *batch[K, V]) {
	l.mu.Lock()
	if b.dispatched {
		l.mu.Unlock()
		return
	}
	b.dispatched = true
	if l.pending == b {
		l.pending = nil
	}
	l.mu.Unlock()

	values, err := l.fetch(b.ctx, b.keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range b.keys {
		r := l.results[k]
		if err != nil {
			r.err = err
			// A failed key is fetched again on the next Load.
			delete(l.results, k)
		} else {
			r.value, r.found = values[k]
		}
		close(r.done)
	}
}
