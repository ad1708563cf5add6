package brain

import (
	"go.uber.org/zap"

	"github.com/orneryd/brainrt/pkg/lock"
)

// DeletionMethod decides whether a neuron is deleted.
type DeletionMethod int

const (
	// DeleteAlways deletes the neuron unless CanBeDeleted forbids it, in
	// which case the call fails with an InvalidOperationError.
	DeleteAlways DeletionMethod = iota
	// DeleteIfNoRef deletes the neuron only when nothing refers to it: no
	// incoming links and no parent clusters. Otherwise it is kept and the
	// call reports false without an error.
	DeleteIfNoRef
)

func (m DeletionMethod) String() string {
	switch m {
	case DeleteAlways:
		return "always"
	case DeleteIfNoRef:
		return "if_no_ref"
	}
	return "unknown"
}

// BranchHandling decides what happens to the children of a deleted cluster.
type BranchHandling int

const (
	// BranchIgnore leaves the children in place.
	BranchIgnore BranchHandling = iota
	// BranchDelete applies the same deletion method to every child,
	// recursively, after the cluster itself is gone.
	BranchDelete
)

func (h BranchHandling) String() string {
	switch h {
	case BranchIgnore:
		return "ignore"
	case BranchDelete:
		return "delete"
	}
	return "unknown"
}

// CanBeDeleted reports whether n may be deleted at all. Predefined neurons
// and neurons used as the meaning of a live link or cluster are protected.
func (b *Brain) CanBeDeleted(n Neuron) bool {
	core := coreOf(n)
	if core == nil || core.brain != b {
		return false
	}
	if IsPredefined(core.id) {
		return false
	}
	return b.MeaningRefs(core.id) == 0
}

// Delete deletes n with DeleteAlways and BranchIgnore.
func (b *Brain) Delete(n Neuron) (bool, error) {
	return b.DeleteWith(n, DeleteAlways, BranchIgnore)
}

// DeleteWith deletes n according to method and, for clusters, branch.
//
// Deleting a neuron destroys all of its links (notifying link listeners),
// removes it from every parent cluster, detaches its children and finally
// unregisters it. It reports whether n was deleted.
func (b *Brain) DeleteWith(n Neuron, method DeletionMethod, branch BranchHandling) (bool, error) {
	if _, err := b.own(n); err != nil {
		return false, err
	}
	return b.deleteNeuron(n, method, branch, make(map[ID]struct{}), true)
}

func (b *Brain) deleteNeuron(n Neuron, method DeletionMethod, branch BranchHandling, visited map[ID]struct{}, top bool) (bool, error) {
	core := n.Core()
	if _, seen := visited[core.id]; seen {
		return false, nil
	}
	visited[core.id] = struct{}{}

	protected := func() (bool, error) {
		if top && method == DeleteAlways {
			return false, &InvalidOperationError{Op: "delete", ID: core.id, Reason: "neuron is protected or still used as a meaning"}
		}
		return false, nil
	}
	if !b.CanBeDeleted(n) {
		return protected()
	}
	if method == DeleteIfNoRef && b.referenced(core) {
		return false, nil
	}
	marked, inUse := b.markDeleted(core)
	if inUse {
		return protected()
	}
	if !marked {
		return false, nil
	}

	var children []ID
	cluster, isCluster := n.(*Cluster)
	if isCluster {
		children = cluster.Children().Snapshot()
	}

	destroyed := b.cut(core)
	for _, parentID := range core.Parents().Snapshot() {
		if p, ok := b.TryFindNeuron(parentID); ok {
			if pc, ok := p.(*Cluster); ok {
				pc.removeChild(core, true)
			}
		}
	}
	if isCluster {
		cluster.ClearChildren()
		cluster.SetMeaning(EmptyID)
	}

	b.mu.Lock()
	delete(b.neurons, core.id)
	b.mu.Unlock()

	b.metrics.NeuronDeleted()
	b.logger.Debug("neuron deleted",
		zap.Uint64("id", uint64(core.id)),
		zap.Int("links_destroyed", destroyed),
		zap.Stringer("method", method),
	)
	b.notifyNeuronDeleted(core.id)

	if isCluster && branch == BranchDelete {
		for _, id := range children {
			child, ok := b.TryFindNeuron(id)
			if !ok {
				continue
			}
			if _, err := b.deleteNeuron(child, method, branch, visited, false); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// referenced reports whether anything points at n.
func (b *Brain) referenced(n *Node) bool {
	set := b.locks.RequestLocks(lock.Set{
		{Target: n, Level: lock.LinksIn},
		{Target: n, Level: lock.Parents},
	})
	defer b.locks.ReleaseLocks(set)
	return len(n.in.items) > 0 || len(n.parents) > 0
}

// cut destroys every link touching n. n must already be marked deleted so
// no new links can attach while the lists are drained.
func (b *Brain) cut(n *Node) int {
	links := b.factories.LinkLists.Get(0)
	defer links.Release()
	for _, acc := range []*ListAccessor[*Link]{n.LinksOut(), n.LinksIn()} {
		acc.Lock()
		links.Items = append(links.Items, acc.Items()...)
		acc.Unlock()
	}

	destroyed := 0
	for _, l := range links.Items {
		if b.DestroyLink(l) {
			destroyed++
		}
	}
	return destroyed
}
