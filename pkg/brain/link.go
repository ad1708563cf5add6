package brain

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/orneryd/brainrt/pkg/lock"
)

// Link is a directed, meaning-typed edge between two neurons.
//
// The (From, To, Meaning) triple is unique within a Brain. Pointer identity
// matters: a destroyed link stays destroyed even if an equal link is created
// again later.
//
// The Info list is guarded by the From neuron's lock.Info level.
type Link struct {
	from    *Node
	to      *Node
	meaning ID
	info    []ID

	destroyed atomic.Bool
}

// FromID returns the id of the source neuron.
func (l *Link) FromID() ID { return l.from.id }

// ToID returns the id of the target neuron.
func (l *Link) ToID() ID { return l.to.id }

// MeaningID returns the id of the meaning neuron.
func (l *Link) MeaningID() ID { return l.meaning }

// From returns the source node.
func (l *Link) From() *Node { return l.from }

// To returns the target node.
func (l *Link) To() *Node { return l.to }

// Destroyed reports whether the link has been destroyed.
func (l *Link) Destroyed() bool { return l.destroyed.Load() }

func (l *Link) String() string {
	return fmt.Sprintf("%d -[%d]-> %d", l.FromID(), l.meaning, l.ToID())
}

// Destroy removes the link from both endpoints. Destroying twice is a no-op.
func (l *Link) Destroy() bool {
	if l == nil || l.from.brain == nil {
		return false
	}
	return l.from.brain.DestroyLink(l)
}

// Info returns an accessor over the link's annotation ids. The accessor
// locks the From neuron's Info level.
func (l *Link) Info() *ListAccessor[ID] {
	return newAccessor(l.from, lock.Info, &l.info)
}

// InfoLocked returns the live info list. The caller must hold the From
// neuron's Info lock.
func (l *Link) InfoLocked() []ID {
	return l.info
}

// AddInfo appends annotation ids to the link.
func (l *Link) AddInfo(ids ...ID) {
	if len(ids) == 0 {
		return
	}
	locks := l.from.brain.locks
	locks.RequestLock(l.from, lock.Info, true)
	defer locks.ReleaseLock(l.from, lock.Info, true)
	l.info = append(l.info, ids...)
}

// RemoveInfo removes the first occurrence of id from the info list.
func (l *Link) RemoveInfo(id ID) bool {
	locks := l.from.brain.locks
	locks.RequestLock(l.from, lock.Info, true)
	defer locks.ReleaseLock(l.from, lock.Info, true)
	i := slices.Index(l.info, id)
	if i < 0 {
		return false
	}
	l.info = slices.Delete(l.info, i, i+1)
	if len(l.info) == 0 {
		l.info = nil
	}
	return true
}

// =============================================================================
// Brain link operations
// =============================================================================

// CreateLink connects from to to with the given meaning. It fails with
// ErrLinkExists when an identical link is already present.
//
// Both endpoint lists are updated under one ordered multi-lock, so readers
// never observe a link on one side only.
func (b *Brain) CreateLink(from, to Neuron, meaning ID) (*Link, error) {
	link, created, err := b.link(from, to, meaning)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrLinkExists, link)
	}
	return link, nil
}

// EnsureLink returns the existing (from, to, meaning) link or creates it.
func (b *Brain) EnsureLink(from, to Neuron, meaning ID) (*Link, error) {
	link, _, err := b.link(from, to, meaning)
	return link, err
}

func (b *Brain) link(from, to Neuron, meaning ID) (*Link, bool, error) {
	f, err := b.own(from)
	if err != nil {
		return nil, false, fmt.Errorf("link source: %w", err)
	}
	t, err := b.own(to)
	if err != nil {
		return nil, false, fmt.Errorf("link target: %w", err)
	}
	m, ok := b.TryFindNeuron(meaning)
	if !ok {
		return nil, false, fmt.Errorf("link meaning %d: %w", meaning, ErrNotFound)
	}

	set := b.locks.RequestLocks(lock.Set{
		{Target: f, Level: lock.LinksOut, Write: true},
		{Target: t, Level: lock.LinksIn, Write: true},
	})
	defer b.locks.ReleaseLocks(set)

	if f.Deleted() || t.Deleted() {
		return nil, false, ErrDeleted
	}
	if existing := f.out.find(t.id, meaning, (*Link).ToID); existing != nil {
		return existing, false, nil
	}

	// The meaning may have been deleted since the lookup above.
	if !b.retainLiveMeaning(m.Core()) {
		return nil, false, fmt.Errorf("link meaning %d: %w", meaning, ErrDeleted)
	}
	link := &Link{from: f, to: t, meaning: meaning}
	f.out.add(link, b.cfg.IndexThreshold)
	t.in.add(link, b.cfg.IndexThreshold)
	b.linkCount.Add(1)
	b.metrics.LinkCreated()
	return link, true, nil
}

// FindLink returns the (from, to, meaning) link, or nil.
func (b *Brain) FindLink(from, to Neuron, meaning ID) *Link {
	f, t := coreOf(from), coreOf(to)
	if f == nil || t == nil || f.brain != b {
		return nil
	}
	b.locks.RequestLock(f, lock.LinksOut, false)
	defer b.locks.ReleaseLock(f, lock.LinksOut, false)
	return f.out.find(t.id, meaning, (*Link).ToID)
}

// LinkExists reports whether a (from, to, meaning) link exists.
func (b *Brain) LinkExists(from, to Neuron, meaning ID) bool {
	return b.FindLink(from, to, meaning) != nil
}

// DestroyLink removes l from both endpoints and notifies link listeners.
// It returns false when l was already destroyed.
func (b *Brain) DestroyLink(l *Link) bool {
	if l == nil || l.from.brain != b {
		return false
	}

	removed := func() bool {
		set := b.locks.RequestLocks(lock.Set{
			{Target: l.from, Level: lock.LinksOut, Write: true},
			{Target: l.to, Level: lock.LinksIn, Write: true},
		})
		defer b.locks.ReleaseLocks(set)

		if !l.destroyed.CompareAndSwap(false, true) {
			return false
		}
		l.from.out.remove(l, b.cfg.IndexThreshold)
		l.to.in.remove(l, b.cfg.IndexThreshold)
		return true
	}()
	if !removed {
		return false
	}

	b.releaseMeaning(l.meaning)
	b.linkCount.Add(-1)
	b.metrics.LinkDestroyed()
	b.notifyLinkDestroyed(l)
	return true
}

// LinkCount returns the number of live links.
func (b *Brain) LinkCount() int {
	return int(b.linkCount.Load())
}
