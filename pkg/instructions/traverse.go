package instructions

import (
	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/lock"
	"github.com/orneryd/brainrt/pkg/pool"
	"github.com/orneryd/brainrt/pkg/processor"
)

// direction abstracts over incoming and outgoing link lists.
type direction struct {
	level     lock.Level
	locked    func(*brain.Node) []*brain.Link
	byMeaning func(*brain.Node, brain.ID) ([]*brain.Link, bool)
	// other returns the endpoint on the far side of the link.
	other func(*brain.Link) brain.ID
}

var (
	outgoing = direction{
		level:     lock.LinksOut,
		locked:    (*brain.Node).OutLocked,
		byMeaning: (*brain.Node).OutByMeaning,
		other:     (*brain.Link).ToID,
	}
	incoming = direction{
		level:     lock.LinksIn,
		locked:    (*brain.Node).InLocked,
		byMeaning: (*brain.Node).InByMeaning,
		other:     (*brain.Link).FromID,
	}
)

func getAllIncoming(p *processor.Processor, args []brain.Neuron) {
	neighbors(p, "GetAllIncoming", args[0], incoming, nil)
}

func getAllOutgoing(p *processor.Processor, args []brain.Neuron) {
	neighbors(p, "GetAllOutgoing", args[0], outgoing, nil)
}

func getIncoming(p *processor.Processor, args []brain.Neuron) {
	if meanings, ok := meaningArgs(p, "GetIncoming", args); ok {
		neighbors(p, "GetIncoming", args[0], incoming, meanings)
	}
}

func getOutgoing(p *processor.Processor, args []brain.Neuron) {
	if meanings, ok := meaningArgs(p, "GetOutgoing", args); ok {
		neighbors(p, "GetOutgoing", args[0], outgoing, meanings)
	}
}

// meaningArgs extracts the meaning ids from args[1:]. Nil meanings are
// reported and skipped; ok is false when none are left.
func meaningArgs(p *processor.Processor, name string, args []brain.Neuron) ([]brain.ID, bool) {
	meanings := make([]brain.ID, 0, len(args)-1)
	for i, m := range args[1:] {
		if m == nil {
			p.ArgError(name, i+1, "meaning expected")
			continue
		}
		meanings = append(meanings, m.ID())
	}
	return meanings, len(meanings) > 0
}

// neighbors collects the far endpoints of n's links in direction d. With no
// meanings every link counts; otherwise only links whose meaning is in the
// list, one pass per meaning.
func neighbors(p *processor.Processor, name string, n brain.Neuron, d direction, meanings []brain.ID) {
	if n == nil {
		p.ArgError(name, 0, "neuron expected")
		return
	}
	core := n.Core()
	locks := p.Locks()

	var ids *pool.Buffer[brain.ID]
	func() {
		locks.RequestLock(core, d.level, false)
		defer locks.ReleaseLock(core, d.level, false)

		items := d.locked(core)
		ids = p.Brain().Factories().IDLists.Get(len(items))
		switch len(meanings) {
		case 0:
			for _, l := range items {
				ids.Items = append(ids.Items, d.other(l))
			}
		case 1:
			ids.Items = collectMeaning(ids.Items, core, d, items, meanings[0])
		default:
			for _, m := range meanings {
				ids.Items = collectMeaning(ids.Items, core, d, items, m)
			}
		}
	}()
	defer ids.Release()

	resolve(p, ids.Items)
}

// collectMeaning appends the far endpoints of links with meaning m, using
// the meaning index when the list has one and a linear scan otherwise. Both
// paths yield the same ids in the same order.
func collectMeaning(dst []brain.ID, core *brain.Node, d direction, items []*brain.Link, m brain.ID) []brain.ID {
	if bucket, indexed := d.byMeaning(core, m); indexed {
		for _, l := range bucket {
			dst = append(dst, d.other(l))
		}
		return dst
	}
	for _, l := range items {
		if l.MeaningID() == m {
			dst = append(dst, d.other(l))
		}
	}
	return dst
}
