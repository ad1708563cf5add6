// Package instructions provides the graph traversal instruction family.
//
// Every traversal follows the same shape: take the narrowest read lock that
// covers the collection, copy candidate ids into a pooled buffer, release
// the lock, then resolve the ids to neurons. Ids whose neuron has been
// deleted in the meantime are skipped without comment. Instructions never
// panic or return errors; bad arguments are logged through
// Processor.ArgError and produce an empty result.
package instructions

import (
	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/processor"
)

// Opcodes of the traversal family.
const (
	OpGetAllIncoming processor.Opcode = iota + 1
	OpGetAllOutgoing
	OpGetIncoming
	OpGetOutgoing
	OpGetLinkMeaning
	OpGetClusterMeaning
	OpGetInfo
	OpGetInfoFiltered
	OpGetInFiltered
	OpGetOutFiltered
)

var table = []*processor.Instruction{
	{
		Op: OpGetAllIncoming, Name: "GetAllIncoming", ArgCount: 1, Kind: processor.MultiResult,
		Multi:       getAllIncoming,
		Description: "all neurons with a link to the argument",
	},
	{
		Op: OpGetAllOutgoing, Name: "GetAllOutgoing", ArgCount: 1, Kind: processor.MultiResult,
		Multi:       getAllOutgoing,
		Description: "all neurons the argument links to",
	},
	{
		Op: OpGetIncoming, Name: "GetIncoming", ArgCount: 2, Kind: processor.MultiResult,
		Multi:       getIncoming,
		Description: "neurons linking to args[0] with one of the meanings args[1:]",
	},
	{
		Op: OpGetOutgoing, Name: "GetOutgoing", ArgCount: 2, Kind: processor.MultiResult,
		Multi:       getOutgoing,
		Description: "neurons args[0] links to with one of the meanings args[1:]",
	},
	{
		Op: OpGetLinkMeaning, Name: "GetLinkMeaning", ArgCount: 2, Kind: processor.MultiResult,
		Multi:       getLinkMeaning,
		Description: "meanings of every link from args[0] to args[1]",
	},
	{
		Op: OpGetClusterMeaning, Name: "GetClusterMeaning", ArgCount: 1, Kind: processor.SingleResult,
		Single:      getClusterMeaning,
		Description: "meaning of the cluster args[0]",
	},
	{
		Op: OpGetInfo, Name: "GetInfo", ArgCount: 3, Kind: processor.MultiResult,
		Multi:       getInfo,
		Description: "info list of the link (from, to, meaning)",
	},
	{
		Op: OpGetInfoFiltered, Name: "GetInfoFiltered", ArgCount: 5, Kind: processor.MultiResult, Lazy: true,
		Multi:       getInfoFiltered,
		Description: "info items of (from, to, meaning) accepted by a predicate over a variable",
	},
	{
		Op: OpGetInFiltered, Name: "GetInFiltered", ArgCount: 4, Kind: processor.MultiResult, Lazy: true,
		Multi:       getInFiltered,
		Description: "incoming neighbours accepted by a predicate over (meaning, neighbour) variables",
	},
	{
		Op: OpGetOutFiltered, Name: "GetOutFiltered", ArgCount: 4, Kind: processor.MultiResult, Lazy: true,
		Multi:       getOutFiltered,
		Description: "outgoing neighbours accepted by a predicate over (meaning, neighbour) variables",
	},
}

// Register adds the traversal family to set.
func Register(set *processor.InstructionSet) error {
	for _, in := range table {
		if err := set.Register(in); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a new instruction set holding the traversal family.
func Default() *processor.InstructionSet {
	set := processor.NewInstructionSet()
	if err := Register(set); err != nil {
		panic(err)
	}
	return set
}

// resolve appends the live neurons among ids to the current frame.
func resolve(p *processor.Processor, ids []brain.ID) {
	frame := p.Mem.ArgumentStack.Peek()
	b := p.Brain()
	for _, id := range ids {
		if n, ok := b.TryFindNeuron(id); ok {
			frame.Add(n)
		}
	}
}
