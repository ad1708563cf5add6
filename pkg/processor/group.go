package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/brainrt/pkg/brain"
)

// Group runs many processors concurrently over one brain. Each root neuron
// is solved by its own processor; they share nothing but the graph, whose
// per-neuron locks keep them consistent.
type Group struct {
	brain   *brain.Brain
	set     *InstructionSet
	opts    []Option
	workers int
}

// NewGroup creates a group. workers limits how many processors run at
// once; zero or less means no limit.
func NewGroup(b *brain.Brain, set *InstructionSet, workers int, opts ...Option) *Group {
	return &Group{brain: b, set: set, workers: workers, opts: opts}
}

// Solve solves every root on a separate processor. The first error cancels
// the remaining processors and is returned.
func (g *Group) Solve(ctx context.Context, roots ...brain.Neuron) error {
	eg, ctx := errgroup.WithContext(ctx)
	if g.workers > 0 {
		eg.SetLimit(g.workers)
	}
	for i, root := range roots {
		opts := append(append([]Option(nil), g.opts...), WithName(fmt.Sprintf("worker-%d", i)))
		p := New(g.brain, g.set, opts...)
		root := root
		p.Push(root)
		eg.Go(func() error {
			if err := p.Solve(ctx); err != nil {
				p.Logger().Debug("solve aborted", zap.Error(err))
				return fmt.Errorf("solving %s: %w", brain.Describe(root), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
