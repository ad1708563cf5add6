package processor

import (
	"fmt"
	"strings"

	"github.com/orneryd/brainrt/pkg/brain"
)

// ResultExpression is a neuron that evaluates to zero or more neurons. Its
// results are appended to p.Mem.ArgumentStack.Peek().
type ResultExpression interface {
	brain.Neuron
	Evaluate(p *Processor)
}

// Runnable is a neuron executed for its effect, such as a statement inside
// a code cluster.
type Runnable interface {
	brain.Neuron
	Run(p *Processor)
}

// Variable is a named slot. Each processor keeps its own binding for every
// variable, so one code cluster can run on many processors at once.
type Variable struct {
	brain.Node
	Name string
}

// NewVariable builds an unregistered variable.
func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

// Evaluate yields the variable's current binding.
func (v *Variable) Evaluate(p *Processor) {
	p.Mem.ArgumentStack.Peek().Add(p.Value(v)...)
}

func (v *Variable) String() string {
	return "$" + v.Name
}

// Current returns the brain's current-neuron variable. Solve binds it to
// the neuron being solved.
func Current(b *brain.Brain) (*Variable, error) {
	n, err := b.Predefined(brain.CurrentID, func() brain.Neuron {
		return NewVariable("current")
	})
	if err != nil {
		return nil, err
	}
	v, ok := n.(*Variable)
	if !ok {
		return nil, &brain.InvalidOperationError{Op: "current variable", ID: brain.CurrentID, Reason: "reserved slot holds a different kind"}
	}
	return v, nil
}

// ResultStatement is an instruction call whose output is its result.
type ResultStatement struct {
	brain.Node
	Op   Opcode
	Args []brain.Neuron
}

// NewResultStatement builds an unregistered result statement.
func NewResultStatement(op Opcode, args ...brain.Neuron) *ResultStatement {
	return &ResultStatement{Op: op, Args: args}
}

// Evaluate runs the instruction into the current frame.
func (s *ResultStatement) Evaluate(p *Processor) {
	p.Execute(s.Op, s.Args)
}

// Statement is an instruction call whose output is discarded.
type Statement struct {
	brain.Node
	Op   Opcode
	Args []brain.Neuron
}

// NewStatement builds an unregistered statement.
func NewStatement(op Opcode, args ...brain.Neuron) *Statement {
	return &Statement{Op: op, Args: args}
}

// Run executes the instruction in a scratch frame.
func (s *Statement) Run(p *Processor) {
	p.Call(s.Op, s.Args)
}

// Assignment binds a variable to the results of an expression.
type Assignment struct {
	brain.Node
	Var   *Variable
	Value brain.Neuron
}

// NewAssignment builds an unregistered assignment.
func NewAssignment(v *Variable, value brain.Neuron) *Assignment {
	return &Assignment{Var: v, Value: value}
}

// Run evaluates the value and stores it.
func (a *Assignment) Run(p *Processor) {
	if a.Var == nil {
		p.ArgError("assignment", 0, "variable expected")
		return
	}
	p.StoreValue(a.Var, p.EvaluateExpression(a.Value)...)
}

// BoolOperator is the comparison a BoolExpression performs.
type BoolOperator uint8

const (
	// Equal holds when both sides yield the same neurons in the same order.
	Equal BoolOperator = iota
	// Different is the negation of Equal.
	Different
	// Contains holds when every right-hand neuron appears on the left.
	Contains
	// And holds when both sides are true.
	And
	// Or holds when either side is true.
	Or
)

func (o BoolOperator) String() string {
	switch o {
	case Equal:
		return "=="
	case Different:
		return "!="
	case Contains:
		return "contains"
	case And:
		return "&&"
	case Or:
		return "||"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseBoolOperator parses an operator written either symbolically ("==",
// "!=", "contains", "&&", "||") or as a word ("equal", "different", "and",
// "or").
func ParseBoolOperator(s string) (BoolOperator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "==", "equal":
		return Equal, nil
	case "!=", "different":
		return Different, nil
	case "contains":
		return Contains, nil
	case "&&", "and":
		return And, nil
	case "||", "or":
		return Or, nil
	}
	return 0, fmt.Errorf("unknown bool operator %q", s)
}

// BoolExpression compares two operands and yields the True or False neuron.
type BoolExpression struct {
	brain.Node
	Left     brain.Neuron
	Operator BoolOperator
	Right    brain.Neuron
}

// NewBoolExpression builds an unregistered boolean expression.
func NewBoolExpression(left brain.Neuron, op BoolOperator, right brain.Neuron) *BoolExpression {
	return &BoolExpression{Left: left, Operator: op, Right: right}
}

// Evaluate pushes True or False onto the current frame.
func (e *BoolExpression) Evaluate(p *Processor) {
	result := p.Brain().False()
	if e.holds(p) {
		result = p.Brain().True()
	}
	p.Mem.ArgumentStack.Peek().Add(result)
}

func (e *BoolExpression) holds(p *Processor) bool {
	switch e.Operator {
	case And:
		return p.IsTrue(e.Left) && p.IsTrue(e.Right)
	case Or:
		return p.IsTrue(e.Left) || p.IsTrue(e.Right)
	}

	left := p.EvaluateExpression(e.Left)
	right := p.EvaluateExpression(e.Right)
	switch e.Operator {
	case Equal:
		return sameNeurons(left, right)
	case Different:
		return !sameNeurons(left, right)
	case Contains:
		for _, r := range right {
			if !containsNeuron(left, r) {
				return false
			}
		}
		return true
	}
	p.ArgError("bool expression", 1, "unknown operator "+e.Operator.String())
	return false
}

func sameNeurons(a, b []brain.Neuron) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Core() != b[i].Core() {
			return false
		}
	}
	return true
}

func containsNeuron(list []brain.Neuron, n brain.Neuron) bool {
	for _, x := range list {
		if x.Core() == n.Core() {
			return true
		}
	}
	return false
}
