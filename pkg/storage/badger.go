// Package storage persists brains to disk and imports graph descriptions.
//
// BadgerStore keeps a snapshot of a brain in BadgerDB. Save writes every
// persistable neuron and every link between them; Load rebuilds the graph in
// an empty brain with the original ids, so ids handed out before a restart
// stay valid afterwards.
//
// Stored kinds are plain neurons, clusters, the text/int/double value
// neurons and the processor's code neurons (variables, statements,
// assignments and bool expressions), so rules survive a restart. Statements
// are stored by instruction name, which needs Options.Instructions.
// Predefined neurons are recreated by brain.New and are never written. Any
// other kind is skipped, together with every link or reference that points
// at it.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/processor"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixNeuron = byte(0x01) // neuron:id -> neuronRecord
	prefixLink   = byte(0x02) // link:from:meaning:to -> linkRecord
	prefixMeta   = byte(0x03) // meta:name -> value
)

var metaNextID = append([]byte{prefixMeta}, "next-id"...)

var (
	ErrStoreClosed   = errors.New("store closed")
	ErrBrainNotEmpty = errors.New("brain already holds dynamic neurons")
	ErrInvalidRecord = errors.New("invalid record")
)

// Neuron kinds as written to disk.
const (
	kindNeuron  = "neuron"
	kindCluster = "cluster"
	kindText    = "text"
	kindInt     = "int"
	kindDouble  = "double"
)

type neuronRecord struct {
	ID       brain.ID   `json:"id"`
	Kind     string     `json:"kind"`
	Text     string     `json:"text,omitempty"`
	Int      int64      `json:"int,omitempty"`
	Double   float64    `json:"double,omitempty"`
	Meaning  brain.ID   `json:"meaning,omitempty"`
	Children []brain.ID `json:"children,omitempty"`

	// code neurons
	Name     string     `json:"name,omitempty"`
	Op       string     `json:"op,omitempty"`
	Operator string     `json:"operator,omitempty"`
	Args     []brain.ID `json:"args,omitempty"`
	Var      brain.ID   `json:"var,omitempty"`
	Value    brain.ID   `json:"value,omitempty"`
	Left     brain.ID   `json:"left,omitempty"`
	Right    brain.ID   `json:"right,omitempty"`
}

type linkRecord struct {
	From    brain.ID   `json:"from"`
	To      brain.ID   `json:"to"`
	Meaning brain.ID   `json:"meaning"`
	Info    []brain.ID `json:"info,omitempty"`
}

// Options configures a BadgerStore.
type Options struct {
	// DataDir is the directory for storing data files.
	// Ignored when InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// LowMemory shrinks memtables and caches for constrained hosts.
	LowMemory bool

	// Logger receives BadgerDB's internal logging and the store's own.
	// Nil silences both.
	Logger *zap.Logger

	// Instructions maps statement opcodes to the names stored on disk.
	// Brains without statements need none.
	Instructions *processor.InstructionSet
}

// BadgerStore saves and loads brains using BadgerDB.
//
// Key Structure:
//   - Neurons: 0x01 + id (8 bytes, big endian) -> JSON(neuronRecord)
//   - Links:   0x02 + from + meaning + to (8 bytes each) -> JSON(linkRecord)
//   - Meta:    0x03 + "next-id" -> id counter (8 bytes)
//
// Example:
//
//	store, err := storage.Open(storage.Options{DataDir: "./data"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Save(ctx, b); err != nil {
//		return err
//	}
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
	set    *processor.InstructionSet

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a store.
func Open(opts Options) (*BadgerStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithLogger(newBadgerLogger(logger))

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With(zap.String("component", "storage")),
		set:    opts.Instructions,
	}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Sync forces buffered writes to disk.
func (s *BadgerStore) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Sync()
}

// =============================================================================
// Save
// =============================================================================

// Save replaces the stored snapshot with the current contents of b.
//
// The graph is read neuron by neuron through the normal accessors, so Save
// may run while processors are working; the snapshot is then consistent per
// collection, not across the whole brain.
func (s *BadgerStore) Save(ctx context.Context, b *brain.Brain) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	neurons := b.Neurons()
	persisted := make(map[brain.ID]struct{}, len(neurons))
	for _, n := range neurons {
		if persistable(n) {
			persisted[n.ID()] = struct{}{}
		}
	}
	known := func(id brain.ID) bool {
		if brain.IsPredefined(id) {
			n, ok := b.TryFindNeuron(id)
			return ok && storable(n)
		}
		_, ok := persisted[id]
		return ok
	}

	stale, err := s.keys(ctx)
	if err != nil {
		return fmt.Errorf("reading previous snapshot: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	set := func(key, val []byte) error {
		delete(stale, string(key))
		return wb.Set(key, val)
	}

	var neuronCount, linkCount int
	for _, n := range neurons {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok, err := s.encodeNeuron(n, known)
		if err != nil {
			return err
		}
		if ok {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode neuron %d: %w", rec.ID, err)
			}
			if err := set(neuronKey(rec.ID), data); err != nil {
				return err
			}
			neuronCount++
		}
		// Links leaving predefined neurons are kept even though their
		// sources have no neuron record.
		if !known(n.ID()) {
			continue
		}
		written, err := writeLinks(n, known, set)
		if err != nil {
			return err
		}
		linkCount += written
	}

	if err := set(metaNextID, idBytes(b.NextID())); err != nil {
		return err
	}
	for key := range stale {
		if err := wb.Delete([]byte(key)); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Info("brain saved",
		zap.Int("neurons", neuronCount),
		zap.Int("links", linkCount))
	return nil
}

// keys returns every key of the current snapshot.
func (s *BadgerStore) keys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range []byte{prefixNeuron, prefixLink, prefixMeta} {
			p := []byte{prefix}
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				keys[string(it.Item().Key())] = struct{}{}
			}
		}
		return nil
	})
	return keys, err
}

func writeLinks(n brain.Neuron, known func(brain.ID) bool, set func(key, val []byte) error) (int, error) {
	written := 0
	for _, l := range n.Core().LinksOut().Snapshot() {
		if l.Destroyed() || !known(l.ToID()) || !known(l.MeaningID()) {
			continue
		}
		rec := linkRecord{
			From:    l.FromID(),
			To:      l.ToID(),
			Meaning: l.MeaningID(),
			Info:    filterIDs(l.Info().Snapshot(), known),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return written, fmt.Errorf("failed to encode link %s: %w", l, err)
		}
		if err := set(linkKey(rec.From, rec.Meaning, rec.To), data); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// storable reports whether n is of a kind the store knows how to write.
func storable(n brain.Neuron) bool {
	switch n.(type) {
	case *brain.Node, *brain.Cluster, *brain.Text, *brain.Int, *brain.Double,
		*processor.Variable, *processor.ResultStatement, *processor.Statement,
		*processor.Assignment, *processor.BoolExpression:
		return true
	}
	return false
}

func persistable(n brain.Neuron) bool {
	return !brain.IsPredefined(n.ID()) && storable(n)
}

func (s *BadgerStore) encodeNeuron(n brain.Neuron, known func(brain.ID) bool) (neuronRecord, bool, error) {
	if !persistable(n) || n.Core().Deleted() {
		return neuronRecord{}, false, nil
	}
	rec := neuronRecord{ID: n.ID()}

	cs, refs, isCode, err := describeCode(n, s.set)
	if err != nil {
		return rec, false, fmt.Errorf("failed to encode neuron %d: %w", rec.ID, err)
	}
	if isCode {
		ref := func(r brain.Neuron) brain.ID {
			if r == nil || !known(r.ID()) {
				return brain.EmptyID
			}
			return r.ID()
		}
		rec.Kind, rec.Name, rec.Op, rec.Operator = cs.Kind, cs.Name, cs.Op, cs.Operator
		for _, a := range refs.Args {
			if id := ref(a); id != brain.EmptyID {
				rec.Args = append(rec.Args, id)
			}
		}
		rec.Var, rec.Value = ref(refs.Var), ref(refs.Value)
		rec.Left, rec.Right = ref(refs.Left), ref(refs.Right)
		return rec, true, nil
	}

	switch v := n.(type) {
	case *brain.Node:
		rec.Kind = kindNeuron
	case *brain.Cluster:
		rec.Kind = kindCluster
		if known(v.Meaning()) {
			rec.Meaning = v.Meaning()
		}
		rec.Children = filterIDs(v.Children().Snapshot(), known)
	case *brain.Text:
		rec.Kind = kindText
		rec.Text = v.Value()
	case *brain.Int:
		rec.Kind = kindInt
		rec.Int = v.Value()
	case *brain.Double:
		rec.Kind = kindDouble
		rec.Double = v.Value()
	}
	return rec, true, nil
}

func filterIDs(ids []brain.ID, keep func(brain.ID) bool) []brain.ID {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// =============================================================================
// Load
// =============================================================================

// Load rebuilds the stored snapshot in b, which must not hold any dynamic
// neurons yet. Neurons are registered first under their stored ids, then
// links are created, then cluster meanings and children are restored.
//
// A record that references an id missing from the snapshot is skipped with
// a warning rather than failing the whole load.
func (s *BadgerStore) Load(ctx context.Context, b *brain.Brain) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	if b.NextID() != brain.FirstDynamicID {
		return ErrBrainNotEmpty
	}

	var neurons []neuronRecord
	var links []linkRecord
	var nextID brain.ID
	err := s.db.View(func(txn *badger.Txn) error {
		if err := scan(ctx, txn, prefixNeuron, func(val []byte) error {
			var rec neuronRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("%w: neuron: %v", ErrInvalidRecord, err)
			}
			neurons = append(neurons, rec)
			return nil
		}); err != nil {
			return err
		}
		if err := scan(ctx, txn, prefixLink, func(val []byte) error {
			var rec linkRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("%w: link: %v", ErrInvalidRecord, err)
			}
			links = append(links, rec)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get(metaNextID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("%w: next-id has %d bytes", ErrInvalidRecord, len(val))
			}
			nextID = brain.ID(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return err
	}

	// lookup resolves a stored reference. The current-neuron variable is
	// claimed on first use, since only processors create it otherwise.
	lookup := func(id brain.ID) (brain.Neuron, bool) {
		if id == brain.CurrentID {
			v, err := processor.Current(b)
			if err != nil {
				return nil, false
			}
			return v, true
		}
		return b.TryFindNeuron(id)
	}

	// Neurons
	for _, rec := range neurons {
		n, err := s.decodeNeuron(rec)
		if err != nil {
			return err
		}
		if err := b.AddWithID(n, rec.ID); err != nil {
			return fmt.Errorf("restoring neuron %d: %w", rec.ID, err)
		}
	}

	// Links
	restored := 0
	for _, rec := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		from, okFrom := lookup(rec.From)
		to, okTo := lookup(rec.To)
		if !okFrom || !okTo {
			s.logger.Warn("skipping link with missing endpoint",
				zap.Uint64("from", uint64(rec.From)),
				zap.Uint64("to", uint64(rec.To)))
			continue
		}
		l, err := b.EnsureLink(from, to, rec.Meaning)
		if err != nil {
			s.logger.Warn("skipping link",
				zap.Uint64("from", uint64(rec.From)),
				zap.Uint64("to", uint64(rec.To)),
				zap.Uint64("meaning", uint64(rec.Meaning)),
				zap.Error(err))
			continue
		}
		l.AddInfo(rec.Info...)
		restored++
	}

	// Cluster meanings and children
	for _, rec := range neurons {
		if rec.Kind != kindCluster {
			continue
		}
		n, _ := b.TryFindNeuron(rec.ID)
		c, err := brain.AsCluster(n)
		if err != nil {
			return err
		}
		if rec.Meaning != brain.EmptyID {
			c.SetMeaning(rec.Meaning)
		}
		for _, id := range rec.Children {
			child, ok := lookup(id)
			if !ok {
				s.logger.Warn("skipping missing child",
					zap.Uint64("cluster", uint64(rec.ID)),
					zap.Uint64("child", uint64(id)))
				continue
			}
			if err := c.AddChild(child); err != nil {
				return fmt.Errorf("restoring cluster %d: %w", rec.ID, err)
			}
		}
	}

	// Code references
	for _, rec := range neurons {
		if !isCodeKind(rec.Kind) {
			continue
		}
		ref := func(id brain.ID) brain.Neuron {
			if id == brain.EmptyID {
				return nil
			}
			n, ok := lookup(id)
			if !ok {
				s.logger.Warn("skipping missing code reference",
					zap.Uint64("neuron", uint64(rec.ID)),
					zap.Uint64("ref", uint64(id)))
				return nil
			}
			return n
		}
		refs := codeRefs{Var: ref(rec.Var), Value: ref(rec.Value), Left: ref(rec.Left), Right: ref(rec.Right)}
		for _, id := range rec.Args {
			if a := ref(id); a != nil {
				refs.Args = append(refs.Args, a)
			}
		}
		n, _ := b.TryFindNeuron(rec.ID)
		if err := bindCode(n, refs); err != nil {
			return fmt.Errorf("%w: neuron %d: %v", ErrInvalidRecord, rec.ID, err)
		}
	}

	b.AdvanceNextID(nextID)

	s.logger.Info("brain loaded",
		zap.Int("neurons", len(neurons)),
		zap.Int("links", restored))
	return nil
}

func scan(ctx context.Context, txn *badger.Txn, prefix byte, fn func(val []byte) error) error {
	p := []byte{prefix}
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) decodeNeuron(rec neuronRecord) (brain.Neuron, error) {
	if rec.ID < brain.FirstDynamicID {
		return nil, fmt.Errorf("%w: neuron id %d is reserved", ErrInvalidRecord, rec.ID)
	}
	if isCodeKind(rec.Kind) {
		n, err := newCode(codeSpec{Kind: rec.Kind, Name: rec.Name, Op: rec.Op, Operator: rec.Operator}, s.set)
		if err != nil {
			return nil, fmt.Errorf("%w: neuron %d: %w", ErrInvalidRecord, rec.ID, err)
		}
		return n, nil
	}
	switch rec.Kind {
	case kindNeuron:
		return &brain.Node{}, nil
	case kindCluster:
		return &brain.Cluster{}, nil
	case kindText:
		return brain.NewTextValue(rec.Text), nil
	case kindInt:
		return brain.NewIntValue(rec.Int), nil
	case kindDouble:
		return brain.NewDoubleValue(rec.Double), nil
	}
	return nil, fmt.Errorf("%w: neuron %d has unknown kind %q", ErrInvalidRecord, rec.ID, rec.Kind)
}

// =============================================================================
// Key encoding helpers
// =============================================================================

func idBytes(id brain.ID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

// neuronKey creates a key for storing a neuron.
func neuronKey(id brain.ID) []byte {
	key := make([]byte, 0, 9)
	key = append(key, prefixNeuron)
	return binary.BigEndian.AppendUint64(key, uint64(id))
}

// linkKey creates a key for storing a link.
// Format: prefix + from + meaning + to
func linkKey(from, meaning, to brain.ID) []byte {
	key := make([]byte, 0, 25)
	key = append(key, prefixLink)
	key = binary.BigEndian.AppendUint64(key, uint64(from))
	key = binary.BigEndian.AppendUint64(key, uint64(meaning))
	return binary.BigEndian.AppendUint64(key, uint64(to))
}
