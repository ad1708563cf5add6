package processor

import (
	"slices"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/pool"
)

// Memory is the per-processor working memory.
type Memory struct {
	ArgumentStack *ArgumentStack
}

// Frame collects the results of one evaluation.
type Frame struct {
	buf *pool.Buffer[brain.Neuron]
}

// Add appends neurons to the frame. Nil neurons are ignored.
func (f *Frame) Add(ns ...brain.Neuron) {
	if f == nil || f.buf == nil {
		return
	}
	for _, n := range ns {
		if n != nil {
			f.buf.Items = append(f.buf.Items, n)
		}
	}
}

// Items returns the frame contents. The slice is only valid until the frame
// is popped.
func (f *Frame) Items() []brain.Neuron {
	if f == nil || f.buf == nil {
		return nil
	}
	return f.buf.Items
}

// Len returns the number of collected neurons.
func (f *Frame) Len() int {
	return len(f.Items())
}

// ArgumentStack is a stack of result frames. Every Push must be matched by
// exactly one Pop.
type ArgumentStack struct {
	frames  []*Frame
	lists   *pool.List[brain.Neuron]
	discard Frame
}

// NewArgumentStack creates a stack whose frames come from lists.
func NewArgumentStack(lists *pool.List[brain.Neuron]) *ArgumentStack {
	return &ArgumentStack{
		lists:   lists,
		discard: Frame{buf: &pool.Buffer[brain.Neuron]{}},
	}
}

// Push opens a new frame and returns it.
func (s *ArgumentStack) Push() *Frame {
	f := &Frame{buf: s.lists.Get(0)}
	s.frames = append(s.frames, f)
	return f
}

// Peek returns the top frame. On an empty stack it returns a frame that
// silently drops whatever is added to it.
func (s *ArgumentStack) Peek() *Frame {
	if len(s.frames) == 0 {
		s.discard.buf.Items = s.discard.buf.Items[:0]
		return &s.discard
	}
	return s.frames[len(s.frames)-1]
}

// Pop removes the top frame and returns a copy of its contents. The frame's
// buffer goes back to the pool.
func (s *ArgumentStack) Pop() []brain.Neuron {
	if len(s.frames) == 0 {
		return nil
	}
	last := len(s.frames) - 1
	f := s.frames[last]
	s.frames[last] = nil
	s.frames = s.frames[:last]

	out := slices.Clone(f.buf.Items)
	f.buf.Release()
	f.buf = nil
	return out
}

// Depth returns the number of open frames.
func (s *ArgumentStack) Depth() int {
	return len(s.frames)
}

// truncate pops frames until depth remain.
func (s *ArgumentStack) truncate(depth int) {
	for len(s.frames) > depth {
		s.Pop()
	}
}
