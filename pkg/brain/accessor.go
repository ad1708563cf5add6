package brain

import (
	"slices"

	"github.com/orneryd/brainrt/pkg/lock"
)

// ListAccessor gives guarded, read-only access to one collection of a neuron.
//
// Callers either bracket direct enumeration with Lock/Close:
//
//	acc := n.LinksOut()
//	acc.Lock()
//	defer acc.Close()
//	for _, l := range acc.Items() { ... }
//
// or take a Snapshot when the per-item work needs other locks. Holding the
// accessor's lock while touching another neuron's collections is forbidden;
// use lock.Manager.RequestLocks for that.
type ListAccessor[T any] struct {
	locks  *lock.Manager
	target lock.Target
	level  lock.Level
	items  *[]T
	locked bool
}

func newAccessor[T any](n *Node, level lock.Level, items *[]T) *ListAccessor[T] {
	var locks *lock.Manager
	if n.brain != nil {
		locks = n.brain.locks
	}
	return &ListAccessor[T]{
		locks:  locks,
		target: n,
		level:  level,
		items:  items,
	}
}

// Lock takes the read lock. Calling Lock twice is a no-op.
func (a *ListAccessor[T]) Lock() {
	if a.locked {
		return
	}
	if a.locks != nil {
		a.locks.RequestLock(a.target, a.level, false)
	} else {
		a.target.Mutex(a.level).RLock()
	}
	a.locked = true
}

// Unlock releases the read lock.
func (a *ListAccessor[T]) Unlock() {
	if !a.locked {
		return
	}
	if a.locks != nil {
		a.locks.ReleaseLock(a.target, a.level, false)
	} else {
		a.target.Mutex(a.level).RUnlock()
	}
	a.locked = false
}

// Close unlocks if the accessor is locked.
func (a *ListAccessor[T]) Close() {
	a.Unlock()
}

// Items returns the live list. The slice is only valid while the accessor
// is locked and must not be modified; it is nil when the accessor is not
// locked.
func (a *ListAccessor[T]) Items() []T {
	if !a.locked {
		return nil
	}
	return *a.items
}

// Len returns the number of items, locking briefly if needed.
func (a *ListAccessor[T]) Len() int {
	if a.locked {
		return len(*a.items)
	}
	a.Lock()
	defer a.Unlock()
	return len(*a.items)
}

// Snapshot returns a copy of the list taken under the read lock.
func (a *ListAccessor[T]) Snapshot() []T {
	if a.locked {
		return slices.Clone(*a.items)
	}
	a.Lock()
	defer a.Unlock()
	return slices.Clone(*a.items)
}
