// Package processor executes instructions over a brain.
//
// A Processor is one logical thread of execution. It owns an argument stack
// of result frames and a private table of variable bindings. Instructions
// are looked up by opcode in an InstructionSet and either return a single
// neuron or append results to the top frame.
//
// Rules are code clusters attached to a neuron through a link with meaning
// brain.RulesID. Solve binds the current-neuron variable to each queued
// neuron and runs its rules; CallSingle runs one code cluster directly.
//
// Instruction failures never abort execution: bad arguments are logged with
// the instruction name and argument index, and the call yields an empty
// result.
//
// Example:
//
//	p := processor.New(b, instructions.Default(), processor.WithLogger(logger))
//	p.Push(alice)
//	if err := p.Solve(ctx); err != nil {
//		return err
//	}
//
// Thread Safety:
//
//	A Processor must be driven by one goroutine. The debug controls
//	(DebugPause, DebugContinue, DebugStepNext, Kill) may be called from any
//	goroutine. Run many processors over one brain with Group.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/lock"
)

const tracerName = "github.com/orneryd/brainrt/pkg/processor"

// ErrKilled is returned by Solve and CallSingle after Kill.
var ErrKilled = errors.New("processor killed")

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for instruction errors and warnings.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithName sets the display name. The default is a random UUID.
func WithName(name string) Option {
	return func(p *Processor) {
		if name != "" {
			p.name = name
		}
	}
}

// WithTracer overrides the tracer. The default comes from the global
// OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithSolved registers fn to receive the rule results of every neuron Solve
// finishes. Processors of a Group share their options, so fn may be called
// from several goroutines at once.
func WithSolved(fn func(n brain.Neuron, results []brain.Neuron)) Option {
	return func(p *Processor) {
		p.onSolved = fn
	}
}

// Processor runs instructions over one brain.
type Processor struct {
	Mem Memory

	brain  *brain.Brain
	set    *InstructionSet
	logger *zap.Logger
	tracer trace.Tracer
	name   string

	current *Variable
	vars    map[*Variable][]brain.Neuron
	queue   []brain.Neuron

	onSolved func(n brain.Neuron, results []brain.Neuron)

	ctx   context.Context
	debug debugState
}

// New creates a processor. A nil set yields a processor that knows no
// instructions.
func New(b *brain.Brain, set *InstructionSet, opts ...Option) *Processor {
	if set == nil {
		set = NewInstructionSet()
	}
	p := &Processor{
		Mem:    Memory{ArgumentStack: NewArgumentStack(b.Factories().NeuronLists)},
		brain:  b,
		set:    set,
		logger: b.Logger(),
		tracer: otel.Tracer(tracerName),
		name:   uuid.NewString(),
		vars:   make(map[*Variable][]brain.Neuron),
		ctx:    context.Background(),
	}
	p.debug.init()
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("processor", p.name))

	cur, err := Current(b)
	if err != nil {
		p.logger.Error("current variable unavailable", zap.Error(err))
		cur = NewVariable("current")
	}
	p.current = cur
	return p
}

// Brain returns the brain the processor runs on.
func (p *Processor) Brain() *brain.Brain { return p.brain }

// Instructions returns the processor's instruction set.
func (p *Processor) Instructions() *InstructionSet { return p.set }

// Name returns the display name.
func (p *Processor) Name() string { return p.name }

// Logger returns the processor's logger.
func (p *Processor) Logger() *zap.Logger { return p.logger }

// Locks returns the brain's lock manager.
func (p *Processor) Locks() *lock.Manager { return p.brain.Locks() }

// CurrentVar returns the variable Solve binds to the neuron being solved.
func (p *Processor) CurrentVar() *Variable { return p.current }

// =============================================================================
// Variables
// =============================================================================

// StoreValue binds v to the given neurons, replacing any earlier binding.
func (p *Processor) StoreValue(v *Variable, ns ...brain.Neuron) {
	if v == nil {
		return
	}
	p.vars[v] = append([]brain.Neuron(nil), ns...)
}

// Value returns v's binding.
func (p *Processor) Value(v *Variable) []brain.Neuron {
	return p.vars[v]
}

// Bind binds v and returns a function that restores the previous binding
// (or absence of one).
func (p *Processor) Bind(v *Variable, ns ...brain.Neuron) (restore func()) {
	old, had := p.vars[v]
	p.StoreValue(v, ns...)
	return func() {
		if had {
			p.vars[v] = old
		} else {
			delete(p.vars, v)
		}
	}
}

// =============================================================================
// Expressions
// =============================================================================

// EvaluateExpression evaluates n in a fresh frame and returns the results.
// The frame is always popped, even if evaluation panics. A neuron that is
// not an expression evaluates to itself.
func (p *Processor) EvaluateExpression(n brain.Neuron) (out []brain.Neuron) {
	expr, ok := n.(ResultExpression)
	if !ok {
		if n == nil {
			return nil
		}
		return []brain.Neuron{n}
	}
	p.Mem.ArgumentStack.Push()
	defer func() { out = p.Mem.ArgumentStack.Pop() }()
	expr.Evaluate(p)
	return nil
}

// IsTrue reports whether n evaluates to exactly the True neuron.
func (p *Processor) IsTrue(n brain.Neuron) bool {
	res := p.EvaluateExpression(n)
	return len(res) == 1 && res[0].ID() == brain.TrueID
}

// Resolve evaluates n and returns its first result. Lazy instructions use
// it for arguments that must be a single neuron.
func (p *Processor) Resolve(n brain.Neuron) brain.Neuron {
	if _, ok := n.(ResultExpression); !ok {
		return n
	}
	res := p.EvaluateExpression(n)
	if len(res) == 0 {
		return nil
	}
	return res[0]
}

func (p *Processor) resolveArgs(args []brain.Neuron) []brain.Neuron {
	needs := false
	for _, a := range args {
		if _, ok := a.(ResultExpression); ok {
			needs = true
			break
		}
	}
	if !needs {
		return args
	}
	out := make([]brain.Neuron, 0, len(args))
	for _, a := range args {
		if _, ok := a.(ResultExpression); ok {
			out = append(out, p.EvaluateExpression(a)...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// =============================================================================
// Instruction dispatch
// =============================================================================

// Call runs op in its own frame and returns the results.
func (p *Processor) Call(op Opcode, args []brain.Neuron) (out []brain.Neuron, status Status) {
	p.Mem.ArgumentStack.Push()
	defer func() { out = p.Mem.ArgumentStack.Pop() }()
	return nil, p.Execute(op, args)
}

// Execute runs op and appends its results to the current frame.
func (p *Processor) Execute(op Opcode, args []brain.Neuron) Status {
	in, err := p.set.Get(op)
	if err != nil {
		p.logger.Error("instruction dispatch failed", zap.Error(err))
		return StatusUnknownOpcode
	}
	if p.Interrupted() {
		return StatusKilled
	}
	if !in.Lazy {
		args = p.resolveArgs(args)
	}

	start := time.Now()
	status := StatusOK
	if len(args) < in.ArgCount {
		p.ArgError(in.Name, len(args), fmt.Sprintf("expected at least %d arguments, got %d", in.ArgCount, len(args)))
		status = StatusArgumentError
	} else if in.Kind == SingleResult {
		p.Mem.ArgumentStack.Peek().Add(in.Single(p, args))
	} else {
		in.Multi(p, args)
	}
	p.brain.Metrics().ObserveInstruction(in.Name, status.String(), time.Since(start))
	return status
}

// ArgError logs an argument error for instruction instr. arg is the index of
// the offending argument.
func (p *Processor) ArgError(instr string, arg int, reason string) {
	p.logger.Error(reason,
		zap.String("instruction", instr),
		zap.Int("arg", arg),
	)
}

// Warn logs a non-fatal instruction condition.
func (p *Processor) Warn(instr, msg string, fields ...zap.Field) {
	p.logger.Warn(msg, append([]zap.Field{zap.String("instruction", instr)}, fields...)...)
}

// =============================================================================
// Solving
// =============================================================================

// Push queues n for Solve.
func (p *Processor) Push(n brain.Neuron) {
	if n != nil {
		p.queue = append(p.queue, n)
	}
}

// Pending returns the number of queued neurons.
func (p *Processor) Pending() int {
	return len(p.queue)
}

// Solve runs the rules of every queued neuron, most recently pushed first.
// Rules may push more neurons; Solve returns when the queue is empty.
func (p *Processor) Solve(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "processor.Solve", trace.WithAttributes(
		attribute.String("processor", p.name),
		attribute.Int("queued", len(p.queue)),
	))
	defer span.End()
	defer p.enter(ctx)()

	solved := 0
	for len(p.queue) > 0 {
		last := len(p.queue) - 1
		n := p.queue[last]
		p.queue[last] = nil
		p.queue = p.queue[:last]

		if err := p.solveOne(ctx, n); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		solved++
	}
	span.SetAttributes(attribute.Int("solved", solved))
	return nil
}

func (p *Processor) solveOne(ctx context.Context, n brain.Neuron) error {
	restore := p.Bind(p.current, n)
	defer restore()

	var results []brain.Neuron
	for _, c := range p.rules(n) {
		out, err := p.runCluster(ctx, c)
		if err != nil {
			return err
		}
		results = append(results, out...)
	}
	if p.onSolved != nil {
		p.onSolved(n, results)
	}
	return nil
}

// rules returns the code clusters attached to n with meaning RulesID.
func (p *Processor) rules(n brain.Neuron) []*brain.Cluster {
	core := n.Core()
	ids := p.brain.Factories().IDLists.Get(4)
	defer ids.Release()

	func() {
		acc := core.LinksOut()
		acc.Lock()
		defer acc.Close()
		links, indexed := core.OutByMeaning(brain.RulesID)
		if !indexed {
			links = acc.Items()
		}
		for _, l := range links {
			if l.MeaningID() == brain.RulesID {
				ids.Items = append(ids.Items, l.ToID())
			}
		}
	}()

	var out []*brain.Cluster
	for _, id := range ids.Items {
		if c, ok := p.lookupCluster(id); ok {
			out = append(out, c)
		}
	}
	return out
}

func (p *Processor) lookupCluster(id brain.ID) (*brain.Cluster, bool) {
	n, ok := p.brain.TryFindNeuron(id)
	if !ok {
		return nil, false
	}
	c, ok := n.(*brain.Cluster)
	return c, ok
}

// CallSingle runs the children of one code cluster and returns the results
// of the expressions among them. A neuron that is not a cluster yields an
// InvalidOperationError.
func (p *Processor) CallSingle(ctx context.Context, n brain.Neuron) ([]brain.Neuron, error) {
	c, err := brain.AsCluster(n)
	if err != nil {
		return nil, err
	}
	ctx, span := p.tracer.Start(ctx, "processor.CallSingle", trace.WithAttributes(
		attribute.String("processor", p.name),
		attribute.Int64("cluster", int64(c.ID())),
	))
	defer span.End()
	defer p.enter(ctx)()

	out, err := p.runCluster(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// runCluster executes the children of c in order. Nested code clusters run
// inline.
func (p *Processor) runCluster(ctx context.Context, c *brain.Cluster) ([]brain.Neuron, error) {
	var results []brain.Neuron
	for _, id := range c.Children().Snapshot() {
		if err := p.checkpoint(ctx); err != nil {
			return results, err
		}
		child, ok := p.brain.TryFindNeuron(id)
		if !ok {
			continue
		}
		switch x := child.(type) {
		case Runnable:
			x.Run(p)
		case ResultExpression:
			results = append(results, p.EvaluateExpression(x)...)
		case *brain.Cluster:
			if x.Meaning() != brain.CodeID {
				results = append(results, x)
				continue
			}
			nested, err := p.runCluster(ctx, x)
			results = append(results, nested...)
			if err != nil {
				return results, err
			}
		default:
			results = append(results, child)
		}
	}
	if err := p.checkpoint(ctx); err != nil {
		return results, err
	}
	return results, nil
}

// enter records the active context for Interrupted and arranges for a
// paused processor to wake when ctx is cancelled.
func (p *Processor) enter(ctx context.Context) (leave func()) {
	prev := p.ctx
	depth := p.Mem.ArgumentStack.Depth()
	p.ctx = ctx
	stop := context.AfterFunc(ctx, p.debug.wake)
	return func() {
		stop()
		p.ctx = prev
		p.Mem.ArgumentStack.truncate(depth)
	}
}
