package instructions

import (
	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/pool"
	"github.com/orneryd/brainrt/pkg/processor"
)

func getInFiltered(p *processor.Processor, args []brain.Neuron) {
	filtered(p, "GetInFiltered", args, incoming)
}

func getOutFiltered(p *processor.Processor, args []brain.Neuron) {
	filtered(p, "GetOutFiltered", args, outgoing)
}

// filtered walks the links of args[0] in direction d. For each link the
// meaning is bound to variable args[1], the neighbour to variable args[2],
// and predicate args[3] is evaluated; the neighbour is kept when it yields
// exactly True.
//
// The (meaning, neighbour) pairs are copied while the list is read-locked
// and the lock is released before any predicate runs. Predicates are
// arbitrary sub-programs that may lock other neurons, or this one.
func filtered(p *processor.Processor, name string, args []brain.Neuron, d direction) {
	anchor := p.Resolve(args[0])
	if anchor == nil {
		p.ArgError(name, 0, "neuron expected")
		return
	}
	meaningVar, ok := args[1].(*processor.Variable)
	if !ok {
		p.ArgError(name, 1, "variable expected")
		return
	}
	neighborVar, ok := args[2].(*processor.Variable)
	if !ok {
		p.ArgError(name, 2, "variable expected")
		return
	}
	pred, ok := args[3].(processor.ResultExpression)
	if !ok {
		p.ArgError(name, 3, "result expression expected")
		return
	}

	// Flattened (meaning, neighbour) pairs.
	pairs := snapshotPairs(p, anchor.Core(), d)
	defer pairs.Release()
	if len(pairs.Items) == 0 {
		return
	}

	keep := p.Brain().Factories().NeuronLists.Get(len(pairs.Items) / 2)
	defer keep.Release()

	restoreMeaning := p.Bind(meaningVar)
	defer restoreMeaning()
	restoreNeighbor := p.Bind(neighborVar)
	defer restoreNeighbor()

	b := p.Brain()
	for i := 0; i+1 < len(pairs.Items); i += 2 {
		if p.Interrupted() {
			break
		}
		meaning, ok := b.TryFindNeuron(pairs.Items[i])
		if !ok {
			continue
		}
		neighbor, ok := b.TryFindNeuron(pairs.Items[i+1])
		if !ok {
			continue
		}
		p.StoreValue(meaningVar, meaning)
		p.StoreValue(neighborVar, neighbor)
		if p.IsTrue(pred) {
			keep.Items = append(keep.Items, neighbor)
		}
	}
	p.Mem.ArgumentStack.Peek().Add(keep.Items...)
}

// snapshotPairs copies the (meaning, neighbour) id pairs of core's links in
// direction d under the list's read lock.
func snapshotPairs(p *processor.Processor, core *brain.Node, d direction) *pool.Buffer[brain.ID] {
	locks := p.Locks()
	locks.RequestLock(core, d.level, false)
	defer locks.ReleaseLock(core, d.level, false)

	items := d.locked(core)
	pairs := p.Brain().Factories().IDLists.Get(2 * len(items))
	for _, l := range items {
		pairs.Items = append(pairs.Items, l.MeaningID(), d.other(l))
	}
	return pairs
}
