package brain

import (
	"github.com/orneryd/brainrt/pkg/metrics"
	"github.com/orneryd/brainrt/pkg/pool"
)

// Factories bundles the scratch-buffer pools used by traversal code.
// One instance is shared by a Brain and every processor running on it.
type Factories struct {
	IDLists     *pool.List[ID]
	LinkLists   *pool.List[*Link]
	NeuronLists *pool.List[Neuron]
}

// NewFactories creates the buffer pools with the given configuration.
func NewFactories(cfg pool.Config) *Factories {
	return &Factories{
		IDLists:     pool.NewList[ID]("id_lists", 16, cfg),
		LinkLists:   pool.NewList[*Link]("link_lists", 16, cfg),
		NeuronLists: pool.NewList[Neuron]("neuron_lists", 8, cfg),
	}
}

// DefaultFactories returns pools built from pool.DefaultConfig.
func DefaultFactories() *Factories {
	return NewFactories(pool.DefaultConfig())
}

// Register exposes the pool counters on the collector.
func (f *Factories) Register(m *metrics.Collector) error {
	if m == nil {
		return nil
	}
	if err := m.RegisterPool(f.IDLists.Name(), f.IDLists.Stats); err != nil {
		return err
	}
	if err := m.RegisterPool(f.LinkLists.Name(), f.LinkLists.Stats); err != nil {
		return err
	}
	return m.RegisterPool(f.NeuronLists.Name(), f.NeuronLists.Stats)
}
