package processor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/orneryd/brainrt/pkg/brain"
)

// Opcode identifies an instruction.
type Opcode uint16

// Kind tells how an instruction produces results.
type Kind uint8

const (
	// SingleResult instructions return at most one neuron.
	SingleResult Kind = iota
	// MultiResult instructions append any number of neurons to the top
	// argument frame.
	MultiResult
)

func (k Kind) String() string {
	if k == SingleResult {
		return "single"
	}
	return "multi"
}

// SingleFunc implements a single-result instruction. A nil return means "no
// result".
type SingleFunc func(p *Processor, args []brain.Neuron) brain.Neuron

// MultiFunc implements a multi-result instruction. Results go to
// p.Mem.ArgumentStack.Peek().
type MultiFunc func(p *Processor, args []brain.Neuron)

// Instruction describes one entry of the dispatch table.
type Instruction struct {
	Op   Opcode
	Name string

	// ArgCount is the minimum number of arguments. Instructions that take
	// trailing meaning filters treat extra arguments as more meanings.
	ArgCount int
	Kind     Kind

	// Lazy instructions receive their arguments unevaluated. They resolve
	// the ones they need with Processor.Resolve and keep the rest (such as
	// variables and predicates) as they are.
	Lazy bool

	Single SingleFunc
	Multi  MultiFunc

	Description string
}

// ErrUnknownOpcode is returned for opcodes missing from an InstructionSet.
var ErrUnknownOpcode = errors.New("unknown opcode")

// InstructionSet maps opcodes to instructions.
type InstructionSet struct {
	mu     sync.RWMutex
	byOp   map[Opcode]*Instruction
	byName map[string]*Instruction
}

// NewInstructionSet creates an empty set.
func NewInstructionSet() *InstructionSet {
	return &InstructionSet{
		byOp:   make(map[Opcode]*Instruction),
		byName: make(map[string]*Instruction),
	}
}

// Register adds an instruction. Opcodes and names must be unique and the
// handler must match the declared kind.
func (s *InstructionSet) Register(in *Instruction) error {
	if in == nil || in.Name == "" {
		return fmt.Errorf("instruction must have a name")
	}
	switch in.Kind {
	case SingleResult:
		if in.Single == nil {
			return fmt.Errorf("instruction %s: single-result handler missing", in.Name)
		}
	case MultiResult:
		if in.Multi == nil {
			return fmt.Errorf("instruction %s: multi-result handler missing", in.Name)
		}
	default:
		return fmt.Errorf("instruction %s: unknown kind %d", in.Name, in.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.byOp[in.Op]; exists {
		return fmt.Errorf("opcode %d already registered as %s", in.Op, existing.Name)
	}
	if _, exists := s.byName[in.Name]; exists {
		return fmt.Errorf("instruction %s already registered", in.Name)
	}
	s.byOp[in.Op] = in
	s.byName[in.Name] = in
	return nil
}

// MustRegister is Register that panics on error. Use it for static tables.
func (s *InstructionSet) MustRegister(in *Instruction) {
	if err := s.Register(in); err != nil {
		panic(err)
	}
}

// Lookup returns the instruction for op.
func (s *InstructionSet) Lookup(op Opcode) (*Instruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.byOp[op]
	return in, ok
}

// Get returns the instruction for op or ErrUnknownOpcode.
func (s *InstructionSet) Get(op Opcode) (*Instruction, error) {
	in, ok := s.Lookup(op)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, op)
	}
	return in, nil
}

// LookupName returns the instruction with the given name.
func (s *InstructionSet) LookupName(name string) (*Instruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.byName[name]
	return in, ok
}

// Names returns all instruction names, sorted.
func (s *InstructionSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered instructions.
func (s *InstructionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byOp)
}

// Status is the outcome of one instruction call.
type Status uint8

const (
	StatusOK Status = iota
	StatusArgumentError
	StatusUnknownOpcode
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusArgumentError:
		return "argument_error"
	case StatusUnknownOpcode:
		return "unknown_opcode"
	case StatusKilled:
		return "killed"
	}
	return "unknown"
}
