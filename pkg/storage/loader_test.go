package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/instructions"
	"github.com/orneryd/brainrt/pkg/processor"
)

const sampleGraph = `
neurons:
  - name: alice
  - name: bob
  - name: age
    kind: int
    value: 42
  - name: ratio
    kind: double
    value: 0.5
  - name: anchor
    kind: neuron
  - name: program
    kind: cluster
    meaning: code
    children: [alice, age, bob]
links:
  - from: alice
    to: bob
    meaning: likes
    info: [strongly, true]
  - from: bob
    to: anchor
    meaning: info
  - from: alice
    to: bob
    meaning: likes
`

func TestLoadGraph(t *testing.T) {
	b := brain.New(brain.Config{})
	res, err := LoadGraph(b, strings.NewReader(sampleGraph))
	require.NoError(t, err)

	get := func(name string) brain.Neuron {
		t.Helper()
		id, ok := res.Neurons[name]
		require.True(t, ok, "name %q not in result", name)
		n, err := b.Get(id)
		require.NoError(t, err)
		return n
	}

	t.Run("declared kinds", func(t *testing.T) {
		assert.Equal(t, "alice", get("alice").(*brain.Text).Value())
		assert.Equal(t, int64(42), get("age").(*brain.Int).Value())
		assert.Equal(t, 0.5, get("ratio").(*brain.Double).Value())
		assert.IsType(t, &brain.Node{}, get("anchor"))
	})

	t.Run("undeclared names become text neurons", func(t *testing.T) {
		likes, ok := get("likes").(*brain.Text)
		require.True(t, ok)
		assert.Equal(t, "likes", likes.Value())
		assert.Equal(t, "strongly", get("strongly").(*brain.Text).Value())
	})

	t.Run("predefined names resolve to predefined neurons", func(t *testing.T) {
		assert.True(t, b.LinkExists(get("bob"), get("anchor"), brain.InfoID))
		_, declared := res.Neurons["info"]
		assert.False(t, declared)
	})

	t.Run("links and info", func(t *testing.T) {
		l := b.FindLink(get("alice"), get("bob"), res.Neurons["likes"])
		require.NotNil(t, l)
		assert.Equal(t, []brain.ID{res.Neurons["strongly"], brain.TrueID}, l.Info().Snapshot())
		assert.Equal(t, 2, res.LinksCreated)
		assert.Equal(t, 1, res.LinksExisting)
	})

	t.Run("cluster meaning and children", func(t *testing.T) {
		c, err := brain.AsCluster(get("program"))
		require.NoError(t, err)
		assert.Equal(t, brain.CodeID, c.Meaning())
		assert.Equal(t, []brain.ID{res.Neurons["alice"], res.Neurons["age"], res.Neurons["bob"]}, c.Children().Snapshot())
	})

	t.Run("created count", func(t *testing.T) {
		// six declared plus "likes" and "strongly"
		assert.Equal(t, 8, res.NeuronsCreated)
		assert.Equal(t, brain.FirstDynamicID+8, b.NextID())
	})
}

// rulesGraph gives alice a rule that collects her outgoing neighbours into
// a variable and yields them, plus a check whether bob is among them.
const rulesGraph = `
neurons:
  - name: friends
    kind: variable
  - name: outgoing
    kind: result
    op: GetAllOutgoing
    args: [current]
  - name: find
    kind: assign
    var: friends
    expr: outgoing
  - name: knows-bob
    kind: bool
    left: friends
    operator: contains
    right: bob
  - name: report
    kind: cluster
    meaning: code
    children: [find, friends, knows-bob]
links:
  - from: alice
    to: bob
    meaning: likes
  - from: alice
    to: carol
    meaning: knows
  - from: alice
    to: report
    meaning: rules
`

// solveRules runs alice's rules and returns the descriptions of the results.
func solveRules(t *testing.T, b *brain.Brain, set *processor.InstructionSet) []string {
	t.Helper()
	alice, ok := b.FindText("alice")
	require.True(t, ok)

	var out []string
	p := processor.New(b, set, processor.WithSolved(func(n brain.Neuron, results []brain.Neuron) {
		for _, r := range results {
			out = append(out, brain.Describe(r))
		}
	}))
	p.Push(alice)
	require.NoError(t, p.Solve(context.Background()))
	return out
}

func TestLoadGraph_Rules(t *testing.T) {
	set := instructions.Default()
	b := brain.New(brain.Config{})
	res, err := LoadGraph(b, strings.NewReader(rulesGraph), WithInstructions(set))
	require.NoError(t, err)

	get := func(name string) brain.Neuron {
		t.Helper()
		n, err := b.Get(res.Neurons[name])
		require.NoError(t, err)
		return n
	}

	t.Run("code kinds", func(t *testing.T) {
		v, ok := get("friends").(*processor.Variable)
		require.True(t, ok)
		assert.Equal(t, "friends", v.Name)

		rs, ok := get("outgoing").(*processor.ResultStatement)
		require.True(t, ok)
		assert.Equal(t, instructions.OpGetAllOutgoing, rs.Op)
		require.Len(t, rs.Args, 1)
		assert.Equal(t, brain.CurrentID, rs.Args[0].ID())

		a, ok := get("find").(*processor.Assignment)
		require.True(t, ok)
		assert.Same(t, v, a.Var)
		assert.Same(t, rs, a.Value)

		be, ok := get("knows-bob").(*processor.BoolExpression)
		require.True(t, ok)
		assert.Equal(t, processor.Contains, be.Operator)
	})

	t.Run("solving runs the rule", func(t *testing.T) {
		assert.Equal(t, []string{`"bob"`, `"carol"`, get("report").(*brain.Cluster).String(), "true"}, solveRules(t, b, set))
	})
}

func TestLoadGraph_CodeErrors(t *testing.T) {
	set := instructions.Default()
	tests := []struct {
		name  string
		input string
	}{
		{"unknown instruction", "neurons:\n  - name: s\n    kind: result\n    op: Frobnicate\n"},
		{"statement without op", "neurons:\n  - name: s\n    kind: statement\n"},
		{"assign without var", "neurons:\n  - name: a\n    kind: assign\n    expr: x\n"},
		{"assign without expr", "neurons:\n  - name: a\n    kind: assign\n    var: v\n"},
		{"assign to a text", "neurons:\n  - name: a\n    kind: assign\n    var: v\n    expr: x\n"},
		{"bool without right", "neurons:\n  - name: e\n    kind: bool\n    left: x\n    operator: and\n"},
		{"bool with bad operator", "neurons:\n  - name: e\n    kind: bool\n    left: x\n    operator: xor\n    right: y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGraph(brain.New(brain.Config{}), strings.NewReader(tt.input), WithInstructions(set))
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}

	t.Run("statement without instruction set", func(t *testing.T) {
		_, err := LoadGraph(brain.New(brain.Config{}), strings.NewReader(rulesGraph))
		assert.ErrorIs(t, err, ErrInvalidGraph)
		assert.ErrorIs(t, err, ErrNoInstructions)
	})
}

func TestLoadGraph_MergesInfoOnReimport(t *testing.T) {
	b := brain.New(brain.Config{})
	first := "links:\n  - from: a\n    to: b\n    meaning: m\n    info: [x, y]\n"
	before, err := LoadGraph(b, strings.NewReader(first))
	require.NoError(t, err)

	second := "links:\n  - from: a\n    to: b\n    meaning: m\n    info: [y, z, z]\n"
	after, err := LoadGraph(b, strings.NewReader(second))
	require.NoError(t, err)
	assert.Equal(t, 1, after.LinksExisting)
	assert.Zero(t, after.LinksCreated)
	assert.Equal(t, 1, after.InfoMerged)

	a, err := b.Get(before.Neurons["a"])
	require.NoError(t, err)
	bb, err := b.Get(before.Neurons["b"])
	require.NoError(t, err)
	l := b.FindLink(a, bb, before.Neurons["m"])
	require.NotNil(t, l)
	assert.Equal(t, []brain.ID{before.Neurons["x"], before.Neurons["y"], after.Neurons["z"]}, l.Info().Snapshot())
}

func TestLoadGraph_ReusesExistingText(t *testing.T) {
	b := brain.New(brain.Config{})
	existing := b.NewText("alice")

	res, err := LoadGraph(b, strings.NewReader(`
links:
  - from: alice
    to: bob
    meaning: knows
`))
	require.NoError(t, err)
	assert.Equal(t, existing.ID(), res.Neurons["alice"])
	assert.Equal(t, 2, res.NeuronsCreated)
}

func TestLoadGraph_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"duplicate name", "neurons:\n  - name: a\n  - name: a\n"},
		{"missing name", "neurons:\n  - kind: int\n    value: 1\n"},
		{"bad int", "neurons:\n  - name: a\n    kind: int\n    value: x\n"},
		{"bad double", "neurons:\n  - name: a\n    kind: double\n    value: x\n"},
		{"unknown kind", "neurons:\n  - name: a\n    kind: widget\n"},
		{"empty reference", "links:\n  - from: a\n    meaning: m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGraph(brain.New(brain.Config{}), strings.NewReader(tt.input))
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadGraph(brain.New(brain.Config{}), strings.NewReader("neurons: ["))
		assert.Error(t, err)
	})

	t.Run("cluster meaning on non-cluster is ignored", func(t *testing.T) {
		_, err := LoadGraph(brain.New(brain.Config{}), strings.NewReader("neurons:\n  - name: a\n    meaning: code\n"))
		assert.NoError(t, err)
	})
}

func TestLoadGraph_Empty(t *testing.T) {
	res, err := LoadGraph(brain.New(brain.Config{}), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, res.Neurons)
}

func TestLoadGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGraph), 0o644))

	b := brain.New(brain.Config{})
	res, err := LoadGraphFile(b, path)
	require.NoError(t, err)
	assert.Contains(t, res.Neurons, "program")

	_, err = LoadGraphFile(b, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
