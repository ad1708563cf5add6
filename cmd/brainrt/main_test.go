package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGraph = `
neurons:
  - name: alice
  - name: bob
  - name: carol
links:
  - from: alice
    to: bob
    meaning: likes
  - from: alice
    to: carol
    meaning: knows
  - from: carol
    to: bob
    meaning: likes
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestCLI_ImportQueryStats(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	graph := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graph, []byte(testGraph), 0o644))

	out, err := run(t, "import", graph, "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "5 neurons created, 3 links created")

	t.Run("all outgoing", func(t *testing.T) {
		out, err := run(t, "query", "alice", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Equal(t, []string{`"bob"`, `"carol"`}, lines(out))
	})

	t.Run("incoming with meaning", func(t *testing.T) {
		out, err := run(t, "query", "bob", "--direction", "in", "--meaning", "likes", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Equal(t, []string{`"alice"`, `"carol"`}, lines(out))
	})

	t.Run("unknown neuron", func(t *testing.T) {
		_, err := run(t, "query", "dave", "--data-dir", dataDir)
		assert.Error(t, err)
	})

	t.Run("bad direction", func(t *testing.T) {
		_, err := run(t, "query", "alice", "--direction", "sideways", "--data-dir", dataDir)
		assert.Error(t, err)
	})

	t.Run("reimport is idempotent", func(t *testing.T) {
		out, err := run(t, "import", graph, "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Contains(t, out, "0 neurons created, 0 links created, 3 links already present")
	})

	t.Run("stats", func(t *testing.T) {
		out, err := run(t, "stats", "--data-dir", dataDir)
		require.NoError(t, err)
		// six predefined neurons plus five imported
		assert.Contains(t, out, "Neurons:  11")
		assert.Contains(t, out, "Links:    3")
		assert.Contains(t, out, "Pool id_lists")
		assert.Contains(t, out, "Metrics:")
		assert.Contains(t, out, "brainrt_links_created_total 3")
	})

	t.Run("solve without rules", func(t *testing.T) {
		out, err := run(t, "solve", "alice", "bob", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Equal(t, []string{"Solved 2 neurons"}, lines(out))
	})
}

// =============================================================================
// Rules Tests
// =============================================================================

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

func TestCLI_SolveRunsRules(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	graph := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(graph, []byte(rulesGraph), 0o644))

	_, err := run(t, "import", graph, "--data-dir", dataDir)
	require.NoError(t, err)

	t.Run("results", func(t *testing.T) {
		out, err := run(t, "solve", "alice", "bob", "--data-dir", dataDir)
		require.NoError(t, err)

		got := lines(out)
		require.Len(t, got, 2, "bob has no rules and prints nothing")
		assert.True(t, strings.HasPrefix(got[0], "alice: "), got[0])
		assert.Contains(t, got[0], `"bob"`)
		assert.Contains(t, got[0], `"carol"`)
		assert.True(t, strings.HasSuffix(got[0], " true"), got[0])
		assert.Equal(t, "Solved 2 neurons", got[1])
	})

	t.Run("metrics", func(t *testing.T) {
		out, err := run(t, "solve", "alice", "--metrics", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Contains(t, out, `brainrt_instructions_total{instruction="GetAllOutgoing",status="ok"} 1`)
	})

	t.Run("trace", func(t *testing.T) {
		out, err := run(t, "--trace", "solve", "alice", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Contains(t, out, `"processor.Solve"`)
	})

	t.Run("rules survive a restart", func(t *testing.T) {
		out, err := run(t, "query", "alice", "--data-dir", dataDir)
		require.NoError(t, err)
		assert.Len(t, lines(out), 3)
	})
}

func TestCLI_Init(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "brainrt.yaml")
	dataDir := filepath.Join(dir, "data")

	out, err := run(t, "init", "--data-dir", dataDir, "--output", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote config")
	assert.DirExists(t, dataDir)
	assert.FileExists(t, cfgPath)

	_, err = run(t, "init", "--data-dir", dataDir, "--output", cfgPath)
	assert.Error(t, err, "existing config must not be overwritten")

	_, err = run(t, "init", "--data-dir", dataDir, "--output", cfgPath, "--force")
	assert.NoError(t, err)

	out, err = run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Neurons:  6")
}

func TestCLI_VersionAndInstructions(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "brainrt v"+version)

	out, err = run(t, "instructions")
	require.NoError(t, err)
	assert.Contains(t, out, "GetAllOutgoing")
	assert.Len(t, lines(out), 10)
}

func TestCLI_InvalidConfig(t *testing.T) {
	_, err := run(t, "stats", "--log-level", "loud")
	assert.Error(t, err)
}
