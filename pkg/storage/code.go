package storage

import (
	"errors"
	"fmt"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/processor"
)

// Code neuron kinds. They are the processor's expression types, so rules
// attached to neurons survive a save and can be written in graph files.
const (
	kindVariable  = "variable"
	kindResult    = "result"
	kindStatement = "statement"
	kindAssign    = "assign"
	kindBool      = "bool"
)

// ErrNoInstructions is returned when a statement has to be resolved but no
// instruction set was configured.
var ErrNoInstructions = errors.New("no instruction set configured")

func isCodeKind(kind string) bool {
	switch kind {
	case kindVariable, kindResult, kindStatement, kindAssign, kindBool:
		return true
	}
	return false
}

// codeSpec is the part of a code neuron that does not reference other
// neurons.
type codeSpec struct {
	Kind     string
	Name     string // variable name
	Op       string // instruction name
	Operator string // bool operator
}

// codeRefs are the neurons a code neuron points at.
type codeRefs struct {
	Args        []brain.Neuron
	Var         brain.Neuron
	Value       brain.Neuron
	Left, Right brain.Neuron
}

// newCode builds an unregistered code neuron. Its references stay empty
// until bindCode, so code neurons may point at each other in any order.
func newCode(cs codeSpec, set *processor.InstructionSet) (brain.Neuron, error) {
	switch cs.Kind {
	case kindVariable:
		return processor.NewVariable(cs.Name), nil
	case kindResult, kindStatement:
		if set == nil {
			return nil, fmt.Errorf("%w: instruction %q", ErrNoInstructions, cs.Op)
		}
		in, ok := set.LookupName(cs.Op)
		if !ok {
			return nil, fmt.Errorf("%w: %q", processor.ErrUnknownOpcode, cs.Op)
		}
		if cs.Kind == kindResult {
			return processor.NewResultStatement(in.Op), nil
		}
		return processor.NewStatement(in.Op), nil
	case kindAssign:
		return processor.NewAssignment(nil, nil), nil
	case kindBool:
		op, err := processor.ParseBoolOperator(cs.Operator)
		if err != nil {
			return nil, err
		}
		return processor.NewBoolExpression(nil, op, nil), nil
	}
	return nil, fmt.Errorf("unknown code kind %q", cs.Kind)
}

// bindCode fills in the references of a code neuron built by newCode.
func bindCode(n brain.Neuron, refs codeRefs) error {
	switch x := n.(type) {
	case *processor.ResultStatement:
		x.Args = refs.Args
	case *processor.Statement:
		x.Args = refs.Args
	case *processor.Assignment:
		if refs.Var != nil {
			v, ok := refs.Var.(*processor.Variable)
			if !ok {
				return fmt.Errorf("assignment target %s is not a variable", brain.Describe(refs.Var))
			}
			x.Var = v
		}
		x.Value = refs.Value
	case *processor.BoolExpression:
		x.Left, x.Right = refs.Left, refs.Right
	}
	return nil
}

// describeCode is the inverse of newCode and bindCode: it splits a code
// neuron into its codeSpec and references. ok is false for other kinds.
func describeCode(n brain.Neuron, set *processor.InstructionSet) (cs codeSpec, refs codeRefs, ok bool, err error) {
	opName := func(op processor.Opcode) (string, error) {
		if set == nil {
			return "", fmt.Errorf("%w: opcode %d", ErrNoInstructions, op)
		}
		in, err := set.Get(op)
		if err != nil {
			return "", err
		}
		return in.Name, nil
	}

	switch x := n.(type) {
	case *processor.Variable:
		cs = codeSpec{Kind: kindVariable, Name: x.Name}
	case *processor.ResultStatement:
		cs.Kind = kindResult
		cs.Op, err = opName(x.Op)
		refs.Args = x.Args
	case *processor.Statement:
		cs.Kind = kindStatement
		cs.Op, err = opName(x.Op)
		refs.Args = x.Args
	case *processor.Assignment:
		cs.Kind = kindAssign
		if x.Var != nil {
			refs.Var = x.Var
		}
		refs.Value = x.Value
	case *processor.BoolExpression:
		cs = codeSpec{Kind: kindBool, Operator: x.Operator.String()}
		refs.Left, refs.Right = x.Left, x.Right
	default:
		return cs, refs, false, nil
	}
	return cs, refs, true, err
}
