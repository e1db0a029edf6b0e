package roster

import "fmt"

// MutationKind identifies the kind of change a Mutation describes.
type MutationKind int

const (
	MutationAdded MutationKind = iota + 1
	MutationRemoved
	MutationUpdated
	MutationCleared
)

var kindNames = map[MutationKind]string{
	MutationAdded:   "added",
	MutationRemoved: "removed",
	MutationUpdated: "updated",
	MutationCleared: "cleared",
}

// String returns the lowercase wire name of the kind.
func (k MutationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("MutationKind(%d)", int(k))
}

// ParseMutationKind converts a wire name back into a MutationKind.
//
// Postcondition: Returns a valid kind or a non-nil error for unknown names.
func ParseMutationKind(s string) (MutationKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown mutation kind %q", s)
}

// Mutation is one replicated roster change.
type Mutation struct {
	Kind MutationKind
	// Index is the position affected at the time of the mutation. Zero for Cleared.
	Index int
	// Value is the record affected. Zero for Cleared.
	Value PlayerRecord
}

// HasValue reports whether the mutation carries a record.
func (m Mutation) HasValue() bool {
	return m.Kind != MutationCleared
}

// ReplayOf returns the Added mutations that rebuild records from an empty roster.
func ReplayOf(records []PlayerRecord) []Mutation {
	out := make([]Mutation, len(records))
	for i, rec := range records {
		out[i] = Mutation{Kind: MutationAdded, Index: i, Value: rec}
	}
	return out
}
