package brain

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/orneryd/brainrt/pkg/lock"
)

// Neuron is anything that can live in a Brain. Every kind embeds Node, which
// carries the id, the link lists and the per-level locks.
//
// Packages outside brain add kinds the same way:
//
//	type Variable struct {
//		brain.Node
//		Name string
//	}
type Neuron interface {
	ID() ID
	Core() *Node
}

// Node is the plain neuron and the base of every other kind.
//
// Links, parents and the info lists of outgoing links are only reachable
// through accessors or Brain methods that take the matching lock.Level.
type Node struct {
	id    ID
	brain *Brain

	locks   [lock.NumLevels]sync.RWMutex
	in      linkList
	out     linkList
	parents []ID

	deleted atomic.Bool
}

// ID returns the neuron id, or EmptyID when it is not registered.
func (n *Node) ID() ID {
	return n.id
}

// Core returns the node itself.
func (n *Node) Core() *Node {
	return n
}

// Brain returns the brain the neuron is registered in, or nil.
func (n *Node) Brain() *Brain {
	return n.brain
}

// Deleted reports whether the neuron has been deleted.
func (n *Node) Deleted() bool {
	return n.deleted.Load()
}

// LockID implements lock.Target.
func (n *Node) LockID() uint64 {
	return uint64(n.id)
}

// Mutex implements lock.Target.
func (n *Node) Mutex(level lock.Level) *sync.RWMutex {
	return &n.locks[level]
}

// LinksIn returns an accessor over the incoming links.
func (n *Node) LinksIn() *ListAccessor[*Link] {
	return newAccessor(n, lock.LinksIn, &n.in.items)
}

// LinksOut returns an accessor over the outgoing links.
func (n *Node) LinksOut() *ListAccessor[*Link] {
	return newAccessor(n, lock.LinksOut, &n.out.items)
}

// Parents returns an accessor over the ids of clusters that contain n.
func (n *Node) Parents() *ListAccessor[ID] {
	return newAccessor(n, lock.Parents, &n.parents)
}

// OutLocked returns the live outgoing list for callers that already hold
// the LinksOut lock, typically through lock.Manager.RequestLocks. The slice
// must not be modified or kept after the lock is released.
func (n *Node) OutLocked() []*Link {
	return n.out.items
}

// InLocked is OutLocked for incoming links. Requires the LinksIn lock.
func (n *Node) InLocked() []*Link {
	return n.in.items
}

// OutByMeaning returns the outgoing links with the given meaning from the
// meaning index. indexed is false when the list is not indexed, in which
// case the caller scans LinksOut().Items() instead. The caller must hold
// the LinksOut read lock and must not keep the slice after releasing it.
func (n *Node) OutByMeaning(meaning ID) (links []*Link, indexed bool) {
	return n.out.byMeaning(meaning)
}

// InByMeaning is OutByMeaning for incoming links. Requires the LinksIn lock.
func (n *Node) InByMeaning(meaning ID) (links []*Link, indexed bool) {
	return n.in.byMeaning(meaning)
}

// OutIndexed reports whether the outgoing list currently has a meaning
// index. Requires the LinksOut lock.
func (n *Node) OutIndexed() bool {
	return n.out.index != nil
}

// InIndexed reports whether the incoming list currently has a meaning index.
// Requires the LinksIn lock.
func (n *Node) InIndexed() bool {
	return n.in.index != nil
}

// FindOut returns the outgoing link to `to` with the given meaning, or nil.
// Requires the LinksOut lock.
func (n *Node) FindOut(to, meaning ID) *Link {
	return n.out.find(to, meaning, (*Link).ToID)
}

// FindIn returns the incoming link from `from` with the given meaning, or
// nil. Requires the LinksIn lock.
func (n *Node) FindIn(from, meaning ID) *Link {
	return n.in.find(from, meaning, (*Link).FromID)
}

func (n *Node) String() string {
	if name := PredefinedName(n.id); name != "" {
		return name
	}
	return "#" + strconv.FormatUint(uint64(n.id), 10)
}

// target converts a possibly nil node to a lock.Target without producing a
// non-nil interface holding a nil pointer.
func target(n *Node) lock.Target {
	if n == nil {
		return nil
	}
	return n
}

// coreOf returns n's Node, or nil for a nil neuron.
func coreOf(n Neuron) *Node {
	if n == nil {
		return nil
	}
	return n.Core()
}

// =============================================================================
// Value neurons
// =============================================================================

// Text is a neuron carrying an immutable string. Loaders use text neurons
// to name things.
type Text struct {
	Node
	value string
}

// Value returns the text.
func (t *Text) Value() string { return t.value }

func (t *Text) String() string { return strconv.Quote(t.value) }

// Int is a neuron carrying an immutable integer.
type Int struct {
	Node
	value int64
}

// Value returns the integer.
func (i *Int) Value() int64 { return i.value }

func (i *Int) String() string { return strconv.FormatInt(i.value, 10) }

// Double is a neuron carrying an immutable float.
type Double struct {
	Node
	value float64
}

// Value returns the float.
func (d *Double) Value() float64 { return d.value }

func (d *Double) String() string { return strconv.FormatFloat(d.value, 'g', -1, 64) }

// NewTextValue builds an unregistered text neuron.
func NewTextValue(s string) *Text { return &Text{value: s} }

// NewIntValue builds an unregistered integer neuron.
func NewIntValue(v int64) *Int { return &Int{value: v} }

// NewDoubleValue builds an unregistered float neuron.
func NewDoubleValue(v float64) *Double { return &Double{value: v} }

// Describe renders a neuron for logs and CLI output.
func Describe(n Neuron) string {
	if n == nil {
		return "<nil>"
	}
	if s, ok := n.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("#%d", n.ID())
}
