// Package pool provides reusable scratch buffers for traversal-heavy code.
//
// Instructions run inside tight interpreter loops and almost every traversal
// needs a short-lived list to collect candidate ids while a neuron lock is
// held. Pooling those lists keeps allocation churn (and GC pressure) out of
// the hot path.
//
// Pooled objects are typed lists, one List per element type:
//   - neuron id lists
//   - link lists
//   - neuron lists (argument stack frames)
//
// Usage:
//
//	ids := lists.Get(hint)
//	defer ids.Release()
//
//	ids.Items = append(ids.Items, id)
//
// A Buffer must not be touched after Release. Release is idempotent, so a
// deferred Release is safe even if the code already released the buffer.
package pool

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Config configures pooling behaviour.
type Config struct {
	// Enabled controls whether pooling is active. When false every Get
	// allocates and Recycle discards.
	Enabled bool `yaml:"enabled"`

	// MaxSize is the largest buffer capacity kept for reuse. Bigger buffers
	// are dropped so one huge traversal does not pin memory forever.
	MaxSize int `yaml:"max_size" validate:"gte=0"`
}

// DefaultConfig returns pooling enabled with a 4096-element cap.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		MaxSize: 4096,
	}
}

// Buffer is a pooled list. Items always starts with length 0.
//
// Each Get returns a fresh Buffer handle; only the backing array is pooled.
// A stale handle therefore can never release a buffer that has since been
// handed to someone else.
type Buffer[T any] struct {
	Items []T
	owner *List[T]
}

// Release hands the buffer back to the pool it came from and nils Items.
func (b *Buffer[T]) Release() {
	if b == nil || b.owner == nil {
		return
	}
	b.owner.Recycle(b)
}

// List is a pool of buffers of one element type.
type List[T any] struct {
	name       string
	cfg        Config
	defaultCap int
	pool       sync.Pool // of *[]T

	gets   atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
	drops  atomic.Uint64
}

// NewList creates a buffer pool. defaultCap is the capacity of freshly
// allocated buffers when the caller's hint is smaller.
func NewList[T any](name string, defaultCap int, cfg Config) *List[T] {
	if defaultCap <= 0 {
		defaultCap = 16
	}
	return &List[T]{
		name:       name,
		cfg:        cfg,
		defaultCap: defaultCap,
	}
}

// Name returns the pool's name.
func (l *List[T]) Name() string {
	return l.name
}

// Get returns an empty buffer with capacity of at least hint.
func (l *List[T]) Get(hint int) *Buffer[T] {
	l.gets.Add(1)
	if hint < 0 {
		hint = 0
	}

	var items *[]T
	if l.cfg.Enabled {
		items, _ = l.pool.Get().(*[]T)
	}
	if items == nil {
		l.misses.Add(1)
		return &Buffer[T]{Items: make([]T, 0, max(hint, l.defaultCap)), owner: l}
	}
	l.hits.Add(1)
	b := &Buffer[T]{Items: (*items)[:0], owner: l}
	if cap(b.Items) < hint {
		b.Items = slices.Grow(b.Items, hint)
	}
	return b
}

// Recycle returns a buffer to the pool. References held by the buffer are
// cleared so pooled buffers never keep graph objects alive.
func (l *List[T]) Recycle(b *Buffer[T]) {
	if b == nil || b.owner == nil {
		return
	}
	items := b.Items
	b.owner = nil
	b.Items = nil
	if !l.cfg.Enabled {
		return
	}
	// Don't pool very large buffers (memory leak prevention)
	if l.cfg.MaxSize > 0 && cap(items) > l.cfg.MaxSize {
		l.drops.Add(1)
		return
	}
	clear(items)
	items = items[:0]
	l.pool.Put(&items)
}

// Stats returns cumulative counters: gets, pool hits, misses (fresh
// allocations) and drops (oversized buffers not pooled).
func (l *List[T]) Stats() (gets, hits, misses, drops uint64) {
	return l.gets.Load(), l.hits.Load(), l.misses.Load(), l.drops.Load()
}
