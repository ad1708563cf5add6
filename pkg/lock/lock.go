// Package lock coordinates the per-neuron, per-collection reader/writer locks
// that guard the brain's graph.
//
// Every neuron carries one sync.RWMutex per Level. Code that needs a single
// collection calls RequestLock/ReleaseLock. Code that needs several collections
// at once (for example the outgoing list of one neuron and the incoming list of
// another while a link is created) MUST go through RequestLocks, which sorts the
// requests into the single global order (neuron id, then level) before
// acquiring anything. Because every multi-lock acquisition uses that order, two
// goroutines asking for overlapping sets can never deadlock.
//
// Example:
//
//	set := mgr.RequestLocks(lock.Set{
//		{Target: from, Level: lock.LinksOut, Write: true},
//		{Target: to, Level: lock.LinksIn, Write: true},
//	})
//	defer mgr.ReleaseLocks(set)
//
// Thread Safety:
//
//	Manager has no mutable state of its own and is safe for concurrent use.
package lock

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/brainrt/pkg/metrics"
)

// Level identifies which collection of a neuron a lock protects.
type Level uint8

const (
	// LinksIn guards the incoming link list.
	LinksIn Level = iota
	// LinksOut guards the outgoing link list.
	LinksOut
	// Children guards a cluster's ordered child list and its meaning.
	Children
	// Parents guards the list of clusters that contain the neuron.
	Parents
	// Info guards the Info lists of all links that start at the neuron.
	Info

	// NumLevels is the number of lock levels a Target must provide.
	NumLevels
)

var levelNames = [NumLevels]string{"links_in", "links_out", "children", "parents", "info"}

func (l Level) String() string {
	if l < NumLevels {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// Target is anything that owns per-level locks. Neurons implement it.
type Target interface {
	LockID() uint64
	Mutex(level Level) *sync.RWMutex
}

// Request asks for one lock.
type Request struct {
	Target Target
	Level  Level
	Write  bool
}

// Set is a group of lock requests acquired atomically with respect to lock order.
type Set []Request

// Stats reports cumulative lock acquisitions.
type Stats struct {
	Reads  uint64
	Writes uint64
}

// Manager acquires and releases neuron locks.
type Manager struct {
	metrics *metrics.Collector

	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewManager creates a lock manager. The collector may be nil.
func NewManager(m *metrics.Collector) *Manager {
	return &Manager{metrics: m}
}

// RequestLock blocks until the requested lock is held. A nil target or an
// unknown level is a no-op so callers racing with deletion do not fault.
func (m *Manager) RequestLock(t Target, level Level, write bool) {
	mu := mutexFor(t, level)
	if mu == nil {
		return
	}
	m.acquire(mu, level, write)
}

// ReleaseLock releases a lock obtained with RequestLock.
func (m *Manager) ReleaseLock(t Target, level Level, write bool) {
	mu := mutexFor(t, level)
	if mu == nil {
		return
	}
	if write {
		mu.Unlock()
	} else {
		mu.RUnlock()
	}
}

// RequestLocks acquires every lock in the set in global order and returns the
// normalised set, which must be handed to ReleaseLocks.
//
// Normalisation drops nil targets and merges duplicate (neuron, level) pairs;
// if any of the duplicates asked for write access, the merged request is a
// write. Merging matters: taking the same RWMutex twice from one goroutine
// would self-deadlock.
func (m *Manager) RequestLocks(set Set) Set {
	normalized := Normalize(set)
	for _, r := range normalized {
		m.acquire(r.Target.Mutex(r.Level), r.Level, r.Write)
	}
	return normalized
}

// ReleaseLocks releases a set returned by RequestLocks, in reverse order.
func (m *Manager) ReleaseLocks(set Set) {
	for i := len(set) - 1; i >= 0; i-- {
		r := set[i]
		m.ReleaseLock(r.Target, r.Level, r.Write)
	}
}

// Stats returns cumulative acquisition counts.
func (m *Manager) Stats() Stats {
	return Stats{Reads: m.reads.Load(), Writes: m.writes.Load()}
}

func (m *Manager) acquire(mu *sync.RWMutex, level Level, write bool) {
	var start time.Time
	if m.metrics != nil {
		start = time.Now()
	}
	if write {
		mu.Lock()
		m.writes.Add(1)
	} else {
		mu.RLock()
		m.reads.Add(1)
	}
	if m.metrics != nil {
		m.metrics.ObserveLockWait(level.String(), write, time.Since(start))
	}
}

// Normalize returns a sorted, de-duplicated copy of the set.
func Normalize(set Set) Set {
	out := make(Set, 0, len(set))
	for _, r := range set {
		if mutexFor(r.Target, r.Level) == nil {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ai, bi := a.Target.LockID(), b.Target.LockID(); ai != bi {
			return ai < bi
		}
		return a.Level < b.Level
	})

	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.Target.LockID() == r.Target.LockID() && last.Level == r.Level && sameTarget(last.Target, r.Target) {
				last.Write = last.Write || r.Write
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}

// sameTarget guards against two distinct unregistered targets that both
// report id 0; they own different mutexes and must both be locked.
func sameTarget(a, b Target) bool {
	return a.Mutex(Info) == b.Mutex(Info)
}

func mutexFor(t Target, level Level) *sync.RWMutex {
	if t == nil || level >= NumLevels {
		return nil
	}
	return t.Mutex(level)
}
