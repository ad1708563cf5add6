package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/processor"
)

// GraphFile is the YAML graph description read by LoadGraph.
//
// Example:
//
//	neurons:
//	  - name: alice
//	  - name: age
//	    kind: int
//	    value: 42
//	  - name: greeting
//	    kind: cluster
//	    meaning: code
//	    children: [alice, age]
//	links:
//	  - from: alice
//	    to: bob
//	    meaning: likes
//	    info: [strongly]
//
// Rules are written with the code kinds. This cluster, attached to alice
// through a "rules" link, stores alice's outgoing neighbours in a variable
// and yields them:
//
//	neurons:
//	  - name: friends
//	    kind: variable
//	  - name: outgoing
//	    kind: result
//	    op: GetAllOutgoing
//	    args: [current]
//	  - name: find
//	    kind: assign
//	    var: friends
//	    expr: outgoing
//	  - name: report
//	    kind: cluster
//	    meaning: code
//	    children: [find, friends]
//	links:
//	  - from: alice
//	    to: report
//	    meaning: rules
//
// "statement" is like "result" but discards its output, and "bool" takes
// left, operator and right.
//
// Every reference (from, to, meaning, info, children, a cluster's meaning,
// args, var, expr, left, right) is a name. A name is resolved in this
// order: a neuron declared in the file, a predefined neuron ("true",
// "false", "rules", "code", "argument", "info", or "current" for the
// variable bound to the neuron being solved), an existing text neuron of
// the brain, and finally a new text neuron created on the spot.
type GraphFile struct {
	Neurons []GraphNeuron `yaml:"neurons"`
	Links   []GraphLink   `yaml:"links"`
}

// GraphNeuron declares one neuron. Kind defaults to "text", in which case
// the name is also the text value. A variable's name defaults to the
// neuron name as well.
type GraphNeuron struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind,omitempty"`
	Value    string   `yaml:"value,omitempty"`
	Meaning  string   `yaml:"meaning,omitempty"`
	Children []string `yaml:"children,omitempty"`

	// code kinds
	Op       string   `yaml:"op,omitempty"`
	Args     []string `yaml:"args,omitempty"`
	Var      string   `yaml:"var,omitempty"`
	Expr     string   `yaml:"expr,omitempty"`
	Left     string   `yaml:"left,omitempty"`
	Operator string   `yaml:"operator,omitempty"`
	Right    string   `yaml:"right,omitempty"`
}

// GraphLink declares one link.
type GraphLink struct {
	From    string   `yaml:"from"`
	To      string   `yaml:"to"`
	Meaning string   `yaml:"meaning"`
	Info    []string `yaml:"info,omitempty"`
}

// ImportResult summarises a LoadGraph call.
type ImportResult struct {
	// Neurons maps every name used in the file to its neuron id.
	Neurons map[string]brain.ID

	NeuronsCreated int
	LinksCreated   int
	// LinksExisting counts declared links that were already present.
	LinksExisting int
	// InfoMerged counts info entries added to links that already existed.
	InfoMerged int
}

var ErrInvalidGraph = errors.New("invalid graph file")

// ImportOption configures LoadGraph.
type ImportOption func(*importer)

// WithInstructions sets the instruction set that "result" and "statement"
// neurons name their instruction from.
func WithInstructions(set *processor.InstructionSet) ImportOption {
	return func(imp *importer) {
		imp.set = set
	}
}

// LoadGraphFile reads a YAML graph description from path into b.
func LoadGraphFile(b *brain.Brain, path string, opts ...ImportOption) (*ImportResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	return LoadGraph(b, file, opts...)
}

// LoadGraph reads a YAML graph description from r into b. Declared neurons
// are created first, then links, then cluster children, then the references
// of code neurons, so declarations may reference each other in any order.
//
// Importing a link that already exists merges its info: entries missing
// from the link are appended, the rest are left alone.
func LoadGraph(b *brain.Brain, r io.Reader, opts ...ImportOption) (*ImportResult, error) {
	var g GraphFile
	if err := yaml.NewDecoder(r).Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return &ImportResult{Neurons: map[string]brain.ID{}}, nil
		}
		return nil, fmt.Errorf("decoding YAML: %w", err)
	}

	imp := &importer{
		brain:    b,
		declared: make(map[string]brain.Neuron, len(g.Neurons)),
		result:   &ImportResult{Neurons: make(map[string]brain.ID, len(g.Neurons))},
	}
	for _, opt := range opts {
		opt(imp)
	}

	for i, gn := range g.Neurons {
		if err := imp.declare(gn); err != nil {
			return imp.result, fmt.Errorf("neuron %d: %w", i, err)
		}
	}

	for i, gl := range g.Links {
		if err := imp.link(gl); err != nil {
			return imp.result, fmt.Errorf("link %d (%s -> %s): %w", i, gl.From, gl.To, err)
		}
	}

	for _, gn := range g.Neurons {
		if gn.Kind != kindCluster {
			continue
		}
		if err := imp.fillCluster(gn); err != nil {
			return imp.result, fmt.Errorf("cluster %q: %w", gn.Name, err)
		}
	}

	for _, gn := range g.Neurons {
		if !isCodeKind(gn.Kind) {
			continue
		}
		if err := imp.bindCode(gn); err != nil {
			return imp.result, fmt.Errorf("%s %q: %w", gn.Kind, gn.Name, err)
		}
	}
	return imp.result, nil
}

type importer struct {
	brain    *brain.Brain
	set      *processor.InstructionSet
	declared map[string]brain.Neuron
	result   *ImportResult
}

func (imp *importer) declare(gn GraphNeuron) error {
	if gn.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidGraph)
	}
	if _, dup := imp.declared[gn.Name]; dup {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalidGraph, gn.Name)
	}

	var n brain.Neuron
	switch gn.Kind {
	case "", kindText:
		text := gn.Value
		if text == "" {
			text = gn.Name
		}
		if t, ok := imp.brain.FindText(text); ok {
			n = t
			break
		}
		n = imp.brain.NewText(text)
		imp.result.NeuronsCreated++
	case kindNeuron:
		n = imp.brain.NewNeuron()
		imp.result.NeuronsCreated++
	case kindCluster:
		n = imp.brain.NewCluster(brain.EmptyID)
		imp.result.NeuronsCreated++
	case kindInt:
		v, err := strconv.ParseInt(gn.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: int value %q", ErrInvalidGraph, gn.Name, gn.Value)
		}
		n = imp.brain.NewInt(v)
		imp.result.NeuronsCreated++
	case kindDouble:
		v, err := strconv.ParseFloat(gn.Value, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: double value %q", ErrInvalidGraph, gn.Name, gn.Value)
		}
		n = imp.brain.NewDouble(v)
		imp.result.NeuronsCreated++
	case kindVariable, kindResult, kindStatement, kindAssign, kindBool:
		if err := checkCode(gn); err != nil {
			return err
		}
		name := gn.Value
		if name == "" {
			name = gn.Name
		}
		c, err := newCode(codeSpec{Kind: gn.Kind, Name: name, Op: gn.Op, Operator: gn.Operator}, imp.set)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidGraph, gn.Name, err)
		}
		if _, err := imp.brain.Add(c); err != nil {
			return err
		}
		n = c
		imp.result.NeuronsCreated++
	default:
		return fmt.Errorf("%w: %q: unknown kind %q", ErrInvalidGraph, gn.Name, gn.Kind)
	}

	imp.declared[gn.Name] = n
	imp.result.Neurons[gn.Name] = n.ID()
	return nil
}

// resolve maps a name to a neuron, creating a text neuron when nothing
// else matches.
func (imp *importer) resolve(name string) (brain.Neuron, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrInvalidGraph)
	}
	if n, ok := imp.declared[name]; ok {
		return n, nil
	}
	if name == brain.PredefinedName(brain.CurrentID) {
		v, err := processor.Current(imp.brain)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	for id := brain.TrueID; id <= brain.InfoID; id++ {
		if brain.PredefinedName(id) == name {
			return imp.brain.Get(id)
		}
	}

	var n brain.Neuron
	if t, ok := imp.brain.FindText(name); ok {
		n = t
	} else {
		n = imp.brain.NewText(name)
		imp.result.NeuronsCreated++
	}
	imp.declared[name] = n
	imp.result.Neurons[name] = n.ID()
	return n, nil
}

func (imp *importer) link(gl GraphLink) error {
	from, err := imp.resolve(gl.From)
	if err != nil {
		return err
	}
	to, err := imp.resolve(gl.To)
	if err != nil {
		return err
	}
	meaning, err := imp.resolve(gl.Meaning)
	if err != nil {
		return err
	}

	l, err := imp.brain.CreateLink(from, to, meaning.ID())
	existed := errors.Is(err, brain.ErrLinkExists)
	switch {
	case existed:
		imp.result.LinksExisting++
		if l = imp.brain.FindLink(from, to, meaning.ID()); l == nil {
			return fmt.Errorf("link vanished during import: %w", brain.ErrNotFound)
		}
	case err != nil:
		return err
	default:
		imp.result.LinksCreated++
	}

	var have []brain.ID
	if existed {
		have = l.Info().Snapshot()
	}
	for _, name := range gl.Info {
		info, err := imp.resolve(name)
		if err != nil {
			return err
		}
		if existed {
			if slices.Contains(have, info.ID()) {
				continue
			}
			have = append(have, info.ID())
			imp.result.InfoMerged++
		}
		l.AddInfo(info.ID())
	}
	return nil
}

func (imp *importer) fillCluster(gn GraphNeuron) error {
	c, err := brain.AsCluster(imp.declared[gn.Name])
	if err != nil {
		return err
	}
	if gn.Meaning != "" {
		m, err := imp.resolve(gn.Meaning)
		if err != nil {
			return err
		}
		c.SetMeaning(m.ID())
	}
	for _, name := range gn.Children {
		child, err := imp.resolve(name)
		if err != nil {
			return err
		}
		if err := c.AddChild(child); err != nil {
			return err
		}
	}
	return nil
}

// checkCode rejects code declarations that miss a required field.
func checkCode(gn GraphNeuron) error {
	var missing string
	switch gn.Kind {
	case kindResult, kindStatement:
		if gn.Op == "" {
			missing = "op"
		}
	case kindAssign:
		if gn.Var == "" {
			missing = "var"
		} else if gn.Expr == "" {
			missing = "expr"
		}
	case kindBool:
		switch {
		case gn.Left == "":
			missing = "left"
		case gn.Right == "":
			missing = "right"
		case gn.Operator == "":
			missing = "operator"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s %q: missing %s", ErrInvalidGraph, gn.Kind, gn.Name, missing)
	}
	return nil
}

func (imp *importer) bindCode(gn GraphNeuron) error {
	optional := func(name string) (brain.Neuron, error) {
		if name == "" {
			return nil, nil
		}
		return imp.resolve(name)
	}

	var refs codeRefs
	for _, name := range gn.Args {
		a, err := imp.resolve(name)
		if err != nil {
			return err
		}
		refs.Args = append(refs.Args, a)
	}
	var err error
	if refs.Var, err = optional(gn.Var); err != nil {
		return err
	}
	if refs.Value, err = optional(gn.Expr); err != nil {
		return err
	}
	if refs.Left, err = optional(gn.Left); err != nil {
		return err
	}
	if refs.Right, err = optional(gn.Right); err != nil {
		return err
	}
	if err := bindCode(imp.declared[gn.Name], refs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return nil
}
