package brain

// ID identifies a neuron. IDs are unique within one Brain and never reused.
type ID uint64

// EmptyID means "no neuron".
const EmptyID ID = 0

// Predefined neurons. Every Brain creates them on construction and none of
// them can be deleted. The range [1, FirstDynamicID) is reserved.
const (
	// TrueID is the neuron a predicate yields to accept a candidate.
	TrueID ID = iota + 1
	// FalseID is the neuron a predicate yields to reject a candidate.
	FalseID
	// RulesID is the link meaning that attaches a code cluster to a neuron.
	RulesID
	// CodeID is the cluster meaning of code clusters.
	CodeID
	// ArgumentID is the meaning used for argument links.
	ArgumentID
	// InfoID is the meaning used for annotation links.
	InfoID
	// CurrentID is reserved for the processor's "current neuron" variable.
	// It is claimed lazily with Brain.Predefined.
	CurrentID
)

// FirstDynamicID is the first id handed out by Brain.Add.
const FirstDynamicID ID = 64

// IsPredefined reports whether id lies in the reserved range.
func IsPredefined(id ID) bool {
	return id != EmptyID && id < FirstDynamicID
}

var predefinedNames = map[ID]string{
	TrueID:     "true",
	FalseID:    "false",
	RulesID:    "rules",
	CodeID:     "code",
	ArgumentID: "argument",
	InfoID:     "info",
	CurrentID:  "current",
}

// PredefinedName returns the symbolic name of a reserved id, or "".
func PredefinedName(id ID) string {
	return predefinedNames[id]
}
