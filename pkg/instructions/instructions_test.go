package instructions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/processor"
)

type fixture struct {
	b    *brain.Brain
	p    *processor.Processor
	logs *observer.ObservedLogs
}

func newFixture(t *testing.T, cfg brain.Config) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	b := brain.New(cfg)
	p := processor.New(b, Default(), processor.WithLogger(zap.New(core)), processor.WithName("test"))
	return &fixture{b: b, p: p, logs: logs}
}

func (f *fixture) link(t *testing.T, from, to brain.Neuron, meaning brain.ID) *brain.Link {
	t.Helper()
	l, err := f.b.CreateLink(from, to, meaning)
	require.NoError(t, err)
	return l
}

func (f *fixture) call(t *testing.T, op processor.Opcode, args ...brain.Neuron) []brain.ID {
	t.Helper()
	depth := f.p.Mem.ArgumentStack.Depth()
	out, status := f.p.Call(op, args)
	require.Equal(t, processor.StatusOK, status)
	require.Equal(t, depth, f.p.Mem.ArgumentStack.Depth(), "argument stack not balanced")
	return idsOf(out)
}

func idsOf(ns []brain.Neuron) []brain.ID {
	if len(ns) == 0 {
		return nil
	}
	out := make([]brain.ID, len(ns))
	for i, n := range ns {
		out[i] = n.ID()
	}
	return out
}

// =============================================================================
// Table Tests
// =============================================================================

func TestDefault(t *testing.T) {
	set := Default()
	assert.Equal(t, 10, set.Len())

	in, ok := set.Lookup(OpGetInfoFiltered)
	require.True(t, ok)
	assert.Equal(t, "GetInfoFiltered", in.Name)
	assert.Equal(t, 5, in.ArgCount)
	assert.True(t, in.Lazy)

	in, ok = set.LookupName("GetClusterMeaning")
	require.True(t, ok)
	assert.Equal(t, processor.SingleResult, in.Kind)

	assert.Error(t, Register(set), "registering twice must fail")
}

// =============================================================================
// GetAll* Tests
// =============================================================================

func TestGetAll(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a := f.b.NewNeuron()
	x, y, z := f.b.NewNeuron(), f.b.NewNeuron(), f.b.NewNeuron()
	f.link(t, a, x, brain.InfoID)
	f.link(t, a, y, brain.ArgumentID)
	f.link(t, z, a, brain.InfoID)

	assert.Equal(t, []brain.ID{x.ID(), y.ID()}, f.call(t, OpGetAllOutgoing, a))
	assert.Equal(t, []brain.ID{z.ID()}, f.call(t, OpGetAllIncoming, a))

	leaf := f.b.NewNeuron()
	assert.Empty(t, f.call(t, OpGetAllOutgoing, leaf))
	assert.Empty(t, f.call(t, OpGetAllIncoming, leaf))

	// A deleted target disappears from traversal results.
	_, err := f.b.Delete(x)
	require.NoError(t, err)
	assert.Equal(t, []brain.ID{y.ID()}, f.call(t, OpGetAllOutgoing, a))
	assert.Zero(t, f.logs.Len())
}

func TestGetAll_ManyLinks(t *testing.T) {
	f := newFixture(t, brain.Config{IndexThreshold: 4})
	hub := f.b.NewNeuron()
	var want []brain.ID
	for i := 0; i < 50; i++ {
		n := f.b.NewNeuron()
		f.link(t, hub, n, brain.InfoID)
		want = append(want, n.ID())
	}
	assert.Equal(t, want, f.call(t, OpGetAllOutgoing, hub))
}

func TestGetAll_NilArgument(t *testing.T) {
	f := newFixture(t, brain.Config{})
	out, status := f.p.Call(OpGetAllOutgoing, []brain.Neuron{nil})
	assert.Equal(t, processor.StatusOK, status)
	assert.Empty(t, out)
	assert.Equal(t, 1, f.logs.FilterMessage("neuron expected").Len())
}

// =============================================================================
// GetIncoming / GetOutgoing Tests
// =============================================================================

func TestGetOutgoing_MeaningFilter(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a := f.b.NewNeuron()
	likes, hates := f.b.NewText("likes"), f.b.NewText("hates")
	x, y, z := f.b.NewNeuron(), f.b.NewNeuron(), f.b.NewNeuron()
	f.link(t, a, x, likes.ID())
	f.link(t, a, y, hates.ID())
	f.link(t, a, z, likes.ID())

	assert.Equal(t, []brain.ID{x.ID(), z.ID()}, f.call(t, OpGetOutgoing, a, likes))
	assert.Equal(t, []brain.ID{y.ID(), x.ID(), z.ID()}, f.call(t, OpGetOutgoing, a, hates, likes))
	// Repeated meanings accumulate; no dedup.
	assert.Equal(t, []brain.ID{x.ID(), z.ID(), x.ID(), z.ID()}, f.call(t, OpGetOutgoing, a, likes, likes))

	assert.Equal(t, []brain.ID{a.ID()}, f.call(t, OpGetIncoming, y, hates))
	assert.Empty(t, f.call(t, OpGetIncoming, y, likes))
}

func TestGetOutgoing_ArgumentErrors(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a := f.b.NewNeuron()

	_, status := f.p.Call(OpGetOutgoing, []brain.Neuron{a})
	assert.Equal(t, processor.StatusArgumentError, status)

	out, status := f.p.Call(OpGetOutgoing, []brain.Neuron{a, nil})
	assert.Equal(t, processor.StatusOK, status)
	assert.Empty(t, out)

	entries := f.logs.FilterField(zap.String("instruction", "GetOutgoing")).All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

// TestGetOutgoing_IndexedMatchesLinear builds the same graph in a brain that
// indexes and one that never does, and compares every query.
func TestGetOutgoing_IndexedMatchesLinear(t *testing.T) {
	indexed := newFixture(t, brain.Config{IndexThreshold: 4})
	linear := newFixture(t, brain.Config{IndexThreshold: -1})

	type graph struct {
		hub      *brain.Node
		meanings []*brain.Text
		links    []*brain.Link
	}
	build := func(f *fixture) *graph {
		g := &graph{hub: f.b.NewNeuron()}
		for _, name := range []string{"m0", "m1", "m2"} {
			g.meanings = append(g.meanings, f.b.NewText(name))
		}
		for i := 0; i < 30; i++ {
			m := g.meanings[(i*7)%3]
			g.links = append(g.links, f.link(t, g.hub, f.b.NewNeuron(), m.ID()))
			if i%4 == 0 {
				f.link(t, f.b.NewNeuron(), g.hub, m.ID())
			}
		}
		return g
	}
	gi, gl := build(indexed), build(linear)

	isIndexed := func(n *brain.Node) bool {
		acc := n.LinksOut()
		acc.Lock()
		defer acc.Close()
		return n.OutIndexed()
	}
	require.True(t, isIndexed(gi.hub))
	require.False(t, isIndexed(gl.hub))

	queries := [][]int{{0}, {1}, {2}, {1, 2}, {2, 0, 2}}
	compare := func() {
		for _, q := range queries {
			for _, op := range []processor.Opcode{OpGetOutgoing, OpGetIncoming} {
				ai := []brain.Neuron{gi.hub}
				al := []brain.Neuron{gl.hub}
				for _, m := range q {
					ai = append(ai, gi.meanings[m])
					al = append(al, gl.meanings[m])
				}
				got := indexed.call(t, op, ai...)
				want := linear.call(t, op, al...)
				require.Equal(t, want, got, "op %d meanings %v", op, q)
			}
		}
	}
	compare()

	for i := 0; i < len(gi.links); i += 3 {
		gi.links[i].Destroy()
		gl.links[i].Destroy()
	}
	compare()
}

// =============================================================================
// GetLinkMeaning Tests
// =============================================================================

func TestGetLinkMeaning(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a, c := f.b.NewNeuron(), f.b.NewNeuron()
	m1, m2 := f.b.NewText("m1"), f.b.NewText("m2")
	f.link(t, a, c, m1.ID())
	f.link(t, a, c, m2.ID())

	t.Run("scans outgoing side", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			f.link(t, f.b.NewNeuron(), c, m1.ID())
		}
		assert.Equal(t, []brain.ID{m1.ID(), m2.ID()}, f.call(t, OpGetLinkMeaning, a, c))
	})

	t.Run("scans incoming side", func(t *testing.T) {
		for i := 0; i < 6; i++ {
			f.link(t, a, f.b.NewNeuron(), m1.ID())
		}
		assert.Equal(t, []brain.ID{m1.ID(), m2.ID()}, f.call(t, OpGetLinkMeaning, a, c))
	})

	t.Run("no link", func(t *testing.T) {
		assert.Empty(t, f.call(t, OpGetLinkMeaning, c, a))
	})
}

// =============================================================================
// GetClusterMeaning Tests
// =============================================================================

func TestGetClusterMeaning(t *testing.T) {
	f := newFixture(t, brain.Config{})
	asset := f.b.NewText("asset")
	c := f.b.NewCluster(asset.ID())

	first := f.call(t, OpGetClusterMeaning, c)
	second := f.call(t, OpGetClusterMeaning, c)
	assert.Equal(t, []brain.ID{asset.ID()}, first)
	assert.Equal(t, first, second)

	empty := f.b.NewCluster(brain.EmptyID)
	assert.Empty(t, f.call(t, OpGetClusterMeaning, empty))
	assert.Empty(t, f.call(t, OpGetClusterMeaning, empty))
	assert.Zero(t, f.logs.Len())

	plain := f.b.NewNeuron()
	assert.Empty(t, f.call(t, OpGetClusterMeaning, plain))
	assert.Empty(t, f.call(t, OpGetClusterMeaning, plain))
	assert.Equal(t, 2, f.logs.FilterMessage("cluster expected").Len())
}

// =============================================================================
// GetInfo Tests
// =============================================================================

func TestGetInfo(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a, c := f.b.NewNeuron(), f.b.NewNeuron()
	x, y, z := f.b.NewText("x"), f.b.NewText("y"), f.b.NewText("z")
	l := f.link(t, a, c, brain.InfoID)
	l.AddInfo(x.ID(), y.ID(), z.ID())

	assert.Equal(t, []brain.ID{x.ID(), y.ID(), z.ID()}, f.call(t, OpGetInfo, a, c, mustGet(t, f.b, brain.InfoID)))
	assert.Zero(t, f.logs.Len())

	// Same endpoints, different meaning: no such link.
	assert.Empty(t, f.call(t, OpGetInfo, a, c, f.b.True()))
	assert.Equal(t, 1, f.logs.FilterMessage("link not found").Len())
}

func TestGetInfo_MissingLinkWarnsOnce(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a, c := f.b.NewNeuron(), f.b.NewNeuron()

	var out []brain.ID
	assert.NotPanics(t, func() {
		out = f.call(t, OpGetInfo, a, c, mustGet(t, f.b, brain.InfoID))
	})
	assert.Empty(t, out)

	entries := f.logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "link not found", entries[0].Message)
	assert.Equal(t, "GetInfo", entries[0].ContextMap()["instruction"])
}

func TestGetInfoFiltered(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a, c := f.b.NewNeuron(), f.b.NewNeuron()
	x, y, z := f.b.NewText("x"), f.b.NewText("y"), f.b.NewText("z")
	l := f.link(t, a, c, brain.InfoID)
	l.AddInfo(x.ID(), y.ID(), z.ID())
	info := mustGet(t, f.b, brain.InfoID)

	v := processor.NewVariable("item")
	pred := processor.NewBoolExpression(v, processor.Different, y)

	f.p.StoreValue(v, a)
	got := f.call(t, OpGetInfoFiltered, a, c, info, v, pred)
	assert.Equal(t, []brain.ID{x.ID(), z.ID()}, got)
	assert.Equal(t, []brain.ID{a.ID()}, idsOf(f.p.Value(v)), "binding restored")

	t.Run("argument errors", func(t *testing.T) {
		f.logs.TakeAll()
		assert.Empty(t, f.call(t, OpGetInfoFiltered, a, c, info, x, pred))
		assert.Empty(t, f.call(t, OpGetInfoFiltered, a, c, info, v, x))
		assert.Empty(t, f.call(t, OpGetInfoFiltered, nil, c, info, v, pred))
		assert.Equal(t, 1, f.logs.FilterMessage("variable expected").Len())
		assert.Equal(t, 1, f.logs.FilterMessage("result expression expected").Len())
		assert.Equal(t, 1, f.logs.FilterMessage("neuron expected").Len())
	})
}

// =============================================================================
// Filtered Traversal Tests
// =============================================================================

func TestGetOutFiltered_LikesDislikes(t *testing.T) {
	f := newFixture(t, brain.Config{})
	likes, dislikes := f.b.NewText("likes"), f.b.NewText("dislikes")
	a, bNeuron, c := f.b.NewNeuron(), f.b.NewNeuron(), f.b.NewNeuron()
	f.link(t, a, bNeuron, likes.ID())
	f.link(t, a, c, dislikes.ID())

	meaningVar := processor.NewVariable("meaning")
	neighborVar := processor.NewVariable("neighbor")
	pred := processor.NewBoolExpression(meaningVar, processor.Equal, likes)

	depth := f.p.Mem.ArgumentStack.Depth()
	got := f.call(t, OpGetOutFiltered, a, meaningVar, neighborVar, pred)
	assert.Equal(t, []brain.ID{bNeuron.ID()}, got)
	assert.Equal(t, depth, f.p.Mem.ArgumentStack.Depth())
	assert.Empty(t, f.p.Value(meaningVar))
	assert.Empty(t, f.p.Value(neighborVar))

	t.Run("incoming", func(t *testing.T) {
		byNeighbor := processor.NewBoolExpression(neighborVar, processor.Equal, a)
		assert.Equal(t, []brain.ID{a.ID()}, f.call(t, OpGetInFiltered, c, meaningVar, neighborVar, byNeighbor))
	})

	t.Run("anchor from variable", func(t *testing.T) {
		anchor := processor.NewVariable("anchor")
		f.p.StoreValue(anchor, a)
		assert.Equal(t, []brain.ID{bNeuron.ID()}, f.call(t, OpGetOutFiltered, anchor, meaningVar, neighborVar, pred))
	})

	t.Run("argument errors", func(t *testing.T) {
		f.logs.TakeAll()
		assert.Empty(t, f.call(t, OpGetOutFiltered, a, likes, neighborVar, pred))
		assert.Empty(t, f.call(t, OpGetOutFiltered, a, meaningVar, neighborVar, likes))
		assert.Equal(t, 2, f.logs.Len())
	})
}

// mutatingPredicate links the anchor to a fresh neuron every time it is
// evaluated. It needs the anchor's LinksOut write lock, so it would block
// forever if the traversal still held the read lock.
type mutatingPredicate struct {
	brain.Node
	anchor brain.Neuron
}

func (m *mutatingPredicate) Evaluate(p *processor.Processor) {
	b := p.Brain()
	if _, err := b.CreateLink(m.anchor, b.NewNeuron(), brain.ArgumentID); err != nil {
		return
	}
	p.Mem.ArgumentStack.Peek().Add(b.True())
}

func TestGetOutFiltered_PredicateRunsUnlocked(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a := f.b.NewNeuron()
	x, y := f.b.NewNeuron(), f.b.NewNeuron()
	f.link(t, a, x, brain.InfoID)
	f.link(t, a, y, brain.InfoID)

	pred := &mutatingPredicate{anchor: a}
	mv, nv := processor.NewVariable("m"), processor.NewVariable("n")

	done := make(chan []brain.ID, 1)
	go func() {
		out, _ := f.p.Call(OpGetOutFiltered, []brain.Neuron{a, mv, nv, pred})
		done <- idsOf(out)
	}()

	select {
	case got := <-done:
		assert.Equal(t, []brain.ID{x.ID(), y.ID()}, got, "snapshot excludes links added by the predicate")
	case <-time.After(5 * time.Second):
		t.Fatal("predicate deadlocked against the traversal lock")
	}
	assert.Equal(t, 4, a.LinksOut().Len())
}

// =============================================================================
// Processor Integration Tests
// =============================================================================

func TestSolve_RunsRules(t *testing.T) {
	f := newFixture(t, brain.Config{})
	cur := f.p.CurrentVar()

	result := processor.NewVariable("result")
	call := processor.NewResultStatement(OpGetAllOutgoing, cur)
	assign := processor.NewAssignment(result, call)
	for _, n := range []brain.Neuron{result, call, assign} {
		_, err := f.b.Add(n)
		require.NoError(t, err)
	}
	code := f.b.NewCluster(brain.CodeID)
	require.NoError(t, code.AddChild(assign))

	a, x := f.b.NewNeuron(), f.b.NewNeuron()
	f.link(t, a, x, brain.InfoID)
	f.link(t, a, code, brain.RulesID)

	f.p.Push(a)
	require.NoError(t, f.p.Solve(context.Background()))

	assert.Equal(t, []brain.ID{x.ID(), code.ID()}, idsOf(f.p.Value(result)))
	assert.Empty(t, f.p.Value(cur), "current binding restored after solve")
	assert.Zero(t, f.p.Pending())
	assert.Zero(t, f.p.Mem.ArgumentStack.Depth())
}

func TestCallSingle(t *testing.T) {
	f := newFixture(t, brain.Config{})
	a, x, y := f.b.NewNeuron(), f.b.NewNeuron(), f.b.NewNeuron()
	f.link(t, a, x, brain.InfoID)
	f.link(t, y, a, brain.InfoID)

	out := processor.NewResultStatement(OpGetAllOutgoing, a)
	in := processor.NewResultStatement(OpGetAllIncoming, a)
	code := f.b.NewCluster(brain.CodeID)
	for _, n := range []brain.Neuron{out, in} {
		_, err := f.b.Add(n)
		require.NoError(t, err)
		require.NoError(t, code.AddChild(n))
	}

	got, err := f.p.CallSingle(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, []brain.ID{x.ID(), y.ID()}, idsOf(got))

	_, err = f.p.CallSingle(context.Background(), a)
	assert.True(t, brain.IsInvalidOperation(err))
}

func TestGroup_ConcurrentSolve(t *testing.T) {
	b := brain.New(brain.Config{IndexThreshold: 4})
	set := Default()

	cur, err := processor.Current(b)
	require.NoError(t, err)
	call := processor.NewStatement(OpGetOutgoing, cur, mustGet(t, b, brain.InfoID))
	_, err = b.Add(call)
	require.NoError(t, err)
	code := b.NewCluster(brain.CodeID)
	require.NoError(t, code.AddChild(call))

	hub := b.NewNeuron()
	roots := make([]brain.Neuron, 16)
	for i := range roots {
		r := b.NewNeuron()
		_, err := b.CreateLink(r, code, brain.RulesID)
		require.NoError(t, err)
		_, err = b.CreateLink(r, hub, brain.InfoID)
		require.NoError(t, err)
		roots[i] = r
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			n := b.NewNeuron()
			for _, r := range roots[:4] {
				_, _ = b.CreateLink(r, n, brain.InfoID)
			}
			_, _ = b.Delete(n)
		}
	}()

	g := processor.NewGroup(b, set, 4)
	for i := 0; i < 20; i++ {
		require.NoError(t, g.Solve(context.Background(), roots...))
	}
	close(stop)
	wg.Wait()
}

func mustGet(t *testing.T, b *brain.Brain, id brain.ID) brain.Neuron {
	t.Helper()
	n, err := b.Get(id)
	require.NoError(t, err)
	return n
}
