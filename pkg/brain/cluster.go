package brain

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/orneryd/brainrt/pkg/lock"
)

// Cluster is a neuron that also owns an ordered list of child neurons and a
// meaning that tags the whole group (for example CodeID for code clusters).
//
// The child list may contain the same neuron more than once. Every
// occurrence is mirrored by one entry in the child's Parents list.
type Cluster struct {
	Node
	children []ID
	meaning  atomic.Uint64
}

// AsCluster returns n as a cluster, or an InvalidOperationError when n is a
// different kind.
func AsCluster(n Neuron) (*Cluster, error) {
	if c, ok := n.(*Cluster); ok && c != nil {
		return c, nil
	}
	id := EmptyID
	if n != nil {
		id = n.ID()
	}
	return nil, &InvalidOperationError{Op: "assign cluster", ID: id, Reason: "neuron is not a cluster"}
}

// Meaning returns the cluster's meaning id.
func (c *Cluster) Meaning() ID {
	return ID(c.meaning.Load())
}

// SetMeaning replaces the cluster's meaning.
func (c *Cluster) SetMeaning(id ID) {
	old := ID(c.meaning.Swap(uint64(id)))
	if old == id || c.brain == nil {
		return
	}
	c.brain.releaseMeaning(old)
	c.brain.retainMeaning(id)
}

// Children returns an accessor over the child ids.
func (c *Cluster) Children() *ListAccessor[ID] {
	return newAccessor(&c.Node, lock.Children, &c.children)
}

// AddChild appends n to the children.
func (c *Cluster) AddChild(n Neuron) error {
	return c.InsertChild(-1, n)
}

// InsertChild inserts n at position i. An index outside the list appends.
func (c *Cluster) InsertChild(i int, n Neuron) error {
	b := c.brain
	if b == nil {
		return fmt.Errorf("cluster: %w: unregistered cluster", ErrNotFound)
	}
	child, err := b.own(n)
	if err != nil {
		return fmt.Errorf("cluster %d child: %w", c.id, err)
	}

	set := b.locks.RequestLocks(lock.Set{
		{Target: &c.Node, Level: lock.Children, Write: true},
		{Target: child, Level: lock.Parents, Write: true},
	})
	defer b.locks.ReleaseLocks(set)

	if c.Deleted() || child.Deleted() {
		return fmt.Errorf("cluster %d: %w", c.id, ErrDeleted)
	}
	if i < 0 || i > len(c.children) {
		i = len(c.children)
	}
	c.children = slices.Insert(c.children, i, child.id)
	child.parents = append(child.parents, c.id)
	return nil
}

// RemoveChild removes the first occurrence of n. It reports whether n was a
// child.
func (c *Cluster) RemoveChild(n Neuron) bool {
	child := coreOf(n)
	if c.brain == nil || child == nil {
		return false
	}
	return c.removeChild(child, false) > 0
}

// removeChild removes one (or, with all, every) occurrence of child and the
// mirrored parent entries. It returns the number removed.
func (c *Cluster) removeChild(child *Node, all bool) int {
	b := c.brain
	set := b.locks.RequestLocks(lock.Set{
		{Target: &c.Node, Level: lock.Children, Write: true},
		{Target: child, Level: lock.Parents, Write: true},
	})
	defer b.locks.ReleaseLocks(set)

	removed := 0
	for {
		i := slices.Index(c.children, child.id)
		if i < 0 {
			break
		}
		c.children = slices.Delete(c.children, i, i+1)
		if j := slices.Index(child.parents, c.id); j >= 0 {
			child.parents = slices.Delete(child.parents, j, j+1)
		}
		removed++
		if !all {
			break
		}
	}
	if len(c.children) == 0 {
		c.children = nil
	}
	if len(child.parents) == 0 {
		child.parents = nil
	}
	return removed
}

// ClearChildren removes every child.
func (c *Cluster) ClearChildren() {
	b := c.brain
	if b == nil {
		return
	}
	for {
		ids := c.Children().Snapshot()
		if len(ids) == 0 {
			return
		}

		set := lock.Set{{Target: &c.Node, Level: lock.Children, Write: true}}
		nodes := make(map[ID]*Node, len(ids))
		for _, id := range ids {
			if n, ok := b.TryFindNeuron(id); ok {
				nodes[id] = n.Core()
				set = append(set, lock.Request{Target: n.Core(), Level: lock.Parents, Write: true})
			}
		}

		held := b.locks.RequestLocks(set)
		// The list may have changed between the snapshot and the locks.
		if !slices.Equal(ids, c.children) {
			b.locks.ReleaseLocks(held)
			continue
		}
		for _, id := range c.children {
			child, ok := nodes[id]
			if !ok {
				continue
			}
			if j := slices.Index(child.parents, c.id); j >= 0 {
				child.parents = slices.Delete(child.parents, j, j+1)
			}
			if len(child.parents) == 0 {
				child.parents = nil
			}
		}
		c.children = nil
		b.locks.ReleaseLocks(held)
		return
	}
}
