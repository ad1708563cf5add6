package instructions

import (
	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/processor"
)

// getClusterMeaning returns the meaning neuron of a cluster, or nil when the
// cluster has no meaning or the meaning no longer exists.
func getClusterMeaning(p *processor.Processor, args []brain.Neuron) brain.Neuron {
	if args[0] == nil {
		p.ArgError("GetClusterMeaning", 0, "neuron expected")
		return nil
	}
	c, ok := args[0].(*brain.Cluster)
	if !ok {
		p.ArgError("GetClusterMeaning", 0, "cluster expected")
		return nil
	}
	m := c.Meaning()
	if m == brain.EmptyID {
		return nil
	}
	n, ok := p.Brain().TryFindNeuron(m)
	if !ok {
		return nil
	}
	return n
}
