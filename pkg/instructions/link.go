package instructions

import (
	"go.uber.org/zap"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/lock"
	"github.com/orneryd/brainrt/pkg/pool"
	"github.com/orneryd/brainrt/pkg/processor"
)

// getLinkMeaning returns the meaning of every link from args[0] to args[1].
// Both endpoint lists are locked together and the shorter one is scanned.
func getLinkMeaning(p *processor.Processor, args []brain.Neuron) {
	from, to := args[0], args[1]
	if from == nil {
		p.ArgError("GetLinkMeaning", 0, "neuron expected")
		return
	}
	if to == nil {
		p.ArgError("GetLinkMeaning", 1, "neuron expected")
		return
	}
	f, t := from.Core(), to.Core()
	locks := p.Locks()
	ids := p.Brain().Factories().IDLists.Get(2)
	defer ids.Release()

	func() {
		set := locks.RequestLocks(lock.Set{
			{Target: f, Level: lock.LinksOut},
			{Target: t, Level: lock.LinksIn},
		})
		defer locks.ReleaseLocks(set)

		out, in := f.OutLocked(), t.InLocked()
		if len(out) <= len(in) {
			for _, l := range out {
				if l.To() == t {
					ids.Items = append(ids.Items, l.MeaningID())
				}
			}
			return
		}
		for _, l := range in {
			if l.From() == f {
				ids.Items = append(ids.Items, l.MeaningID())
			}
		}
	}()

	resolve(p, ids.Items)
}

// infoArgs validates the (from, to, meaning) triple of the info instructions.
func infoArgs(p *processor.Processor, name string, args []brain.Neuron) (from, to, meaning brain.Neuron, ok bool) {
	for i := 0; i < 3; i++ {
		if args[i] == nil {
			p.ArgError(name, i, "neuron expected")
			return nil, nil, nil, false
		}
	}
	return args[0], args[1], args[2], true
}

// linkInfo appends the info ids of the (from, to, meaning) link to dst. The
// link is located and read under one multi-lock, so it cannot be destroyed
// between the lookup and the read. A missing link is logged as a warning.
func linkInfo(p *processor.Processor, name string, from, to, meaning brain.Neuron, dst *pool.Buffer[brain.ID]) {
	f, t := from.Core(), to.Core()
	locks := p.Locks()

	set := locks.RequestLocks(lock.Set{
		{Target: f, Level: lock.LinksOut},
		{Target: t, Level: lock.LinksIn},
		{Target: f, Level: lock.Info},
	})
	defer locks.ReleaseLocks(set)

	link := f.FindOut(t.ID(), meaning.ID())
	if link == nil {
		p.Warn(name, "link not found",
			zap.Uint64("from", uint64(from.ID())),
			zap.Uint64("to", uint64(to.ID())),
			zap.Uint64("meaning", uint64(meaning.ID())),
		)
		return
	}
	dst.Items = append(dst.Items, link.InfoLocked()...)
}

func getInfo(p *processor.Processor, args []brain.Neuron) {
	from, to, meaning, ok := infoArgs(p, "GetInfo", args)
	if !ok {
		return
	}
	ids := p.Brain().Factories().IDLists.Get(0)
	defer ids.Release()
	linkInfo(p, "GetInfo", from, to, meaning, ids)
	resolve(p, ids.Items)
}

// getInfoFiltered is GetInfo followed by a predicate. For every info item
// the variable args[3] is bound to the item and args[4] evaluated; the item
// is kept when the predicate yields exactly True. The predicate runs with
// no graph locks held.
func getInfoFiltered(p *processor.Processor, args []brain.Neuron) {
	const name = "GetInfoFiltered"
	resolved := []brain.Neuron{p.Resolve(args[0]), p.Resolve(args[1]), p.Resolve(args[2])}
	from, to, meaning, ok := infoArgs(p, name, resolved)
	if !ok {
		return
	}
	v, ok := args[3].(*processor.Variable)
	if !ok {
		p.ArgError(name, 3, "variable expected")
		return
	}
	pred, ok := args[4].(processor.ResultExpression)
	if !ok {
		p.ArgError(name, 4, "result expression expected")
		return
	}

	ids := p.Brain().Factories().IDLists.Get(0)
	defer ids.Release()
	linkInfo(p, name, from, to, meaning, ids)
	if len(ids.Items) == 0 {
		return
	}

	keep := p.Brain().Factories().NeuronLists.Get(len(ids.Items))
	defer keep.Release()

	restore := p.Bind(v)
	defer restore()
	b := p.Brain()
	for _, id := range ids.Items {
		if p.Interrupted() {
			break
		}
		item, ok := b.TryFindNeuron(id)
		if !ok {
			continue
		}
		p.StoreValue(v, item)
		if p.IsTrue(pred) {
			keep.Items = append(keep.Items, item)
		}
	}
	p.Mem.ArgumentStack.Peek().Add(keep.Items...)
}
