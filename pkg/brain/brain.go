// Package brain implements the neuron/link graph store and the registry that
// owns it.
//
// A Brain maps neuron ids to neurons. Neurons are connected by directed,
// meaning-typed links; clusters additionally own an ordered list of child
// neurons. Every collection a neuron owns (incoming links, outgoing links,
// children, parents, info lists of its outgoing links) is guarded by its own
// reader/writer lock, acquired through a lock.Manager. There is no global
// graph lock: many processors read and mutate one Brain concurrently.
//
// Brains are ordinary values. Create as many as needed; nothing in this
// package keeps process-wide state.
//
// Example:
//
//	b := brain.New(brain.Config{Logger: logger})
//
//	alice := b.NewText("alice")
//	bob := b.NewText("bob")
//	likes := b.NewText("likes")
//
//	if _, err := b.CreateLink(alice, bob, likes.ID()); err != nil {
//		return err
//	}
//
//	b.LinkExists(alice, bob, likes.ID()) // true
//
// Deletion cascades: deleting a neuron destroys every link that touches it
// and removes it from every cluster.
package brain

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/orneryd/brainrt/pkg/lock"
	"github.com/orneryd/brainrt/pkg/metrics"
)

// DefaultIndexThreshold is the link count at which a direction list builds
// its meaning index.
const DefaultIndexThreshold = 8

// Config holds the dependencies and tuning of a Brain. Zero fields get
// defaults.
type Config struct {
	// IndexThreshold is the list length at which a meaning index is built.
	// Zero selects DefaultIndexThreshold; a negative value disables
	// indexing.
	IndexThreshold int

	Logger    *zap.Logger
	Locks     *lock.Manager
	Factories *Factories
	Metrics   *metrics.Collector
}

// GroupListener is told when a group of mutations starts and ends. Undo
// systems use it to bundle changes.
type GroupListener interface {
	BeginGroup()
	EndGroup()
}

// Brain is the neuron registry.
type Brain struct {
	cfg       Config
	logger    *zap.Logger
	locks     *lock.Manager
	factories *Factories
	metrics   *metrics.Collector

	mu      sync.RWMutex
	neurons map[ID]Neuron
	nextID  ID

	refMu       sync.Mutex
	meaningRefs map[ID]int

	linkCount atomic.Int64

	listenerMu      sync.RWMutex
	linkListeners   []func(*Link)
	deleteListeners []func(ID)
	groupListeners  []GroupListener
	groupDepth      int
}

// New creates a brain holding only the predefined neurons.
func New(cfg Config) *Brain {
	switch {
	case cfg.IndexThreshold == 0:
		cfg.IndexThreshold = DefaultIndexThreshold
	case cfg.IndexThreshold < 0:
		cfg.IndexThreshold = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Locks == nil {
		cfg.Locks = lock.NewManager(cfg.Metrics)
	}
	if cfg.Factories == nil {
		cfg.Factories = DefaultFactories()
	}

	b := &Brain{
		cfg:         cfg,
		logger:      cfg.Logger,
		locks:       cfg.Locks,
		factories:   cfg.Factories,
		metrics:     cfg.Metrics,
		neurons:     make(map[ID]Neuron),
		nextID:      FirstDynamicID,
		meaningRefs: make(map[ID]int),
	}
	for _, id := range []ID{TrueID, FalseID, RulesID, CodeID, ArgumentID, InfoID} {
		n := &Node{id: id}
		if _, err := b.Add(n); err != nil {
			panic(fmt.Sprintf("brain: registering predefined neuron %d: %v", id, err))
		}
	}
	return b
}

// Locks returns the lock manager shared by everything touching this brain.
func (b *Brain) Locks() *lock.Manager { return b.locks }

// Factories returns the buffer pools.
func (b *Brain) Factories() *Factories { return b.factories }

// Logger returns the brain's logger.
func (b *Brain) Logger() *zap.Logger { return b.logger }

// Metrics returns the collector, which may be nil.
func (b *Brain) Metrics() *metrics.Collector { return b.metrics }

// IndexThreshold returns the effective index threshold; zero means indexing
// is disabled.
func (b *Brain) IndexThreshold() int { return b.cfg.IndexThreshold }

// True returns the predefined True neuron.
func (b *Brain) True() Neuron {
	n, _ := b.TryFindNeuron(TrueID)
	return n
}

// False returns the predefined False neuron.
func (b *Brain) False() Neuron {
	n, _ := b.TryFindNeuron(FalseID)
	return n
}

// =============================================================================
// Registration
// =============================================================================

// Add registers n. A neuron without an id gets the next free id; a neuron
// that already carries one (built by AddWithID or a loader) is registered
// under it and the id counter moves past it.
func (b *Brain) Add(n Neuron) (ID, error) {
	core := coreOf(n)
	if core == nil {
		return EmptyID, ErrNilNeuron
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if core.brain != nil {
		return core.id, fmt.Errorf("%w: %d", ErrAlreadyExists, core.id)
	}
	id := core.id
	if id == EmptyID {
		id = b.nextID
		b.nextID++
	} else {
		if _, exists := b.neurons[id]; exists {
			return id, fmt.Errorf("%w: %d", ErrAlreadyExists, id)
		}
		if id >= b.nextID {
			b.nextID = id + 1
		}
	}

	core.id = id
	core.brain = b
	b.neurons[id] = n
	b.metrics.NeuronRegistered()
	return id, nil
}

// AddWithID registers n under a caller-chosen id.
func (b *Brain) AddWithID(n Neuron, id ID) error {
	core := coreOf(n)
	if core == nil {
		return ErrNilNeuron
	}
	if id == EmptyID {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if core.brain != nil {
		return fmt.Errorf("%w: %d", ErrAlreadyExists, core.id)
	}
	core.id = id
	if _, err := b.Add(n); err != nil {
		core.id = EmptyID
		return err
	}
	return nil
}

// Predefined returns the neuron registered under a reserved id, creating it
// with build when the slot is still empty. Packages that own a predefined
// kind (such as the processor's current-neuron variable) claim their slot
// this way.
func (b *Brain) Predefined(id ID, build func() Neuron) (Neuron, error) {
	if !IsPredefined(id) {
		return nil, &InvalidOperationError{Op: "predefined", ID: id, Reason: "id outside the reserved range"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n, ok := b.neurons[id]; ok {
		return n, nil
	}
	n := build()
	core := coreOf(n)
	if core == nil {
		return nil, ErrNilNeuron
	}
	if core.brain != nil {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyExists, core.id)
	}
	core.id = id
	core.brain = b
	b.neurons[id] = n
	b.metrics.NeuronRegistered()
	return n, nil
}

// NewNeuron creates and registers a plain neuron.
func (b *Brain) NewNeuron() *Node {
	n := &Node{}
	b.mustAdd(n)
	return n
}

// NewCluster creates and registers a cluster with the given meaning.
func (b *Brain) NewCluster(meaning ID) *Cluster {
	c := &Cluster{}
	b.mustAdd(c)
	if meaning != EmptyID {
		c.SetMeaning(meaning)
	}
	return c
}

// NewText creates and registers a text neuron.
func (b *Brain) NewText(s string) *Text {
	t := NewTextValue(s)
	b.mustAdd(t)
	return t
}

// NewInt creates and registers an integer neuron.
func (b *Brain) NewInt(v int64) *Int {
	n := NewIntValue(v)
	b.mustAdd(n)
	return n
}

// NewDouble creates and registers a float neuron.
func (b *Brain) NewDouble(v float64) *Double {
	d := NewDoubleValue(v)
	b.mustAdd(d)
	return d
}

// mustAdd registers a freshly built neuron; that cannot fail.
func (b *Brain) mustAdd(n Neuron) {
	if _, err := b.Add(n); err != nil {
		panic(fmt.Sprintf("brain: registering new neuron: %v", err))
	}
}

// =============================================================================
// Lookup
// =============================================================================

// TryFindNeuron returns the neuron with the given id. It never fails loudly:
// ids of deleted neurons simply report false.
func (b *Brain) TryFindNeuron(id ID) (Neuron, bool) {
	if id == EmptyID {
		return nil, false
	}
	b.mu.RLock()
	n, ok := b.neurons[id]
	b.mu.RUnlock()
	return n, ok
}

// Get returns the neuron with the given id or ErrNotFound.
func (b *Brain) Get(id ID) (Neuron, error) {
	n, ok := b.TryFindNeuron(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return n, nil
}

// Count returns the number of registered neurons, predefined ones included.
func (b *Brain) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.neurons)
}

// NextID returns the id the next Add will assign.
func (b *Brain) NextID() ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextID
}

// AdvanceNextID moves the id counter forward to id. Loaders call it so ids
// that were handed out and later deleted are not reused. Smaller values are
// ignored.
func (b *Brain) AdvanceNextID(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id > b.nextID {
		b.nextID = id
	}
}

// Neurons returns a snapshot of all registered neurons ordered by id.
func (b *Brain) Neurons() []Neuron {
	b.mu.RLock()
	out := make([]Neuron, 0, len(b.neurons))
	for _, n := range b.neurons {
		out = append(out, n)
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(x, y Neuron) int {
		switch {
		case x.ID() < y.ID():
			return -1
		case x.ID() > y.ID():
			return 1
		}
		return 0
	})
	return out
}

// FindText returns the lowest-id text neuron holding s.
func (b *Brain) FindText(s string) (*Text, bool) {
	for _, n := range b.Neurons() {
		if t, ok := n.(*Text); ok && t.value == s {
			return t, true
		}
	}
	return nil, false
}

// FindTextFold is FindText with case-insensitive matching.
func (b *Brain) FindTextFold(s string) (*Text, bool) {
	for _, n := range b.Neurons() {
		if t, ok := n.(*Text); ok && strings.EqualFold(t.value, s) {
			return t, true
		}
	}
	return nil, false
}

// own checks that n is a live neuron of this brain.
func (b *Brain) own(n Neuron) (*Node, error) {
	core := coreOf(n)
	switch {
	case core == nil:
		return nil, ErrNilNeuron
	case core.brain == nil:
		return nil, fmt.Errorf("%w: unregistered neuron", ErrNotFound)
	case core.brain != b:
		return nil, ErrForeignNeuron
	case core.Deleted():
		return nil, fmt.Errorf("%w: %d", ErrDeleted, core.id)
	}
	return core, nil
}

// =============================================================================
// Meaning references
// =============================================================================

func (b *Brain) retainMeaning(id ID) {
	if id == EmptyID {
		return
	}
	b.refMu.Lock()
	b.meaningRefs[id]++
	b.refMu.Unlock()
}

// retainLiveMeaning counts a link reference to m unless m has already been
// deleted. markDeleted checks the count under the same mutex, so a meaning
// and a link using it are never committed on both sides of a deletion.
func (b *Brain) retainLiveMeaning(m *Node) bool {
	b.refMu.Lock()
	defer b.refMu.Unlock()
	if m.deleted.Load() {
		return false
	}
	b.meaningRefs[m.id]++
	return true
}

// markDeleted flags n as deleted. It reports inUse when n is still the
// meaning of a live link or cluster, and marked=false when n was already
// deleted.
func (b *Brain) markDeleted(n *Node) (marked, inUse bool) {
	b.refMu.Lock()
	defer b.refMu.Unlock()
	if b.meaningRefs[n.id] > 0 {
		return false, true
	}
	return n.deleted.CompareAndSwap(false, true), false
}

func (b *Brain) releaseMeaning(id ID) {
	if id == EmptyID {
		return
	}
	b.refMu.Lock()
	if b.meaningRefs[id] <= 1 {
		delete(b.meaningRefs, id)
	} else {
		b.meaningRefs[id]--
	}
	b.refMu.Unlock()
}

// MeaningRefs returns how many live links and clusters use id as meaning.
func (b *Brain) MeaningRefs(id ID) int {
	b.refMu.Lock()
	defer b.refMu.Unlock()
	return b.meaningRefs[id]
}

// =============================================================================
// Listeners
// =============================================================================

// OnLinkDestroyed registers a callback run after a link is destroyed. It
// runs outside all graph locks and may call back into the brain.
func (b *Brain) OnLinkDestroyed(fn func(*Link)) {
	b.listenerMu.Lock()
	b.linkListeners = append(b.linkListeners, fn)
	b.listenerMu.Unlock()
}

// OnNeuronDeleted registers a callback run after a neuron is deleted.
func (b *Brain) OnNeuronDeleted(fn func(ID)) {
	b.listenerMu.Lock()
	b.deleteListeners = append(b.deleteListeners, fn)
	b.listenerMu.Unlock()
}

// OnGroup registers a group listener.
func (b *Brain) OnGroup(l GroupListener) {
	b.listenerMu.Lock()
	b.groupListeners = append(b.groupListeners, l)
	b.listenerMu.Unlock()
}

// BeginGroup opens a mutation group. Groups nest; listeners only see the
// outermost boundary.
func (b *Brain) BeginGroup() {
	b.listenerMu.Lock()
	b.groupDepth++
	outer := b.groupDepth == 1
	listeners := slices.Clone(b.groupListeners)
	b.listenerMu.Unlock()

	if outer {
		for _, l := range listeners {
			l.BeginGroup()
		}
	}
}

// EndGroup closes the group opened by the matching BeginGroup.
func (b *Brain) EndGroup() {
	b.listenerMu.Lock()
	if b.groupDepth == 0 {
		b.listenerMu.Unlock()
		b.logger.Warn("EndGroup without matching BeginGroup")
		return
	}
	b.groupDepth--
	outer := b.groupDepth == 0
	listeners := slices.Clone(b.groupListeners)
	b.listenerMu.Unlock()

	if outer {
		for _, l := range listeners {
			l.EndGroup()
		}
	}
}

func (b *Brain) notifyLinkDestroyed(l *Link) {
	b.listenerMu.RLock()
	listeners := slices.Clone(b.linkListeners)
	b.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(l)
	}
}

func (b *Brain) notifyNeuronDeleted(id ID) {
	b.listenerMu.RLock()
	listeners := slices.Clone(b.deleteListeners)
	b.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}
