package lobbyv1

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// Message types carried in the "type" field.
const (
	TypeJoin     = "join"
	TypeDecision = "decision"
	TypeMutation = "mutation"
)

// ErrMalformed is returned when a message is missing a field or has the wrong type.
var ErrMalformed = errors.New("malformed session message")

// Decision is the host's answer to a join request.
type Decision struct {
	Approved bool
	Reason   string
	// ConnectionID is the id the host assigned to the peer.
	ConnectionID roster.ConnectionID
	// Capacity is the host's seat count. Zero when the host had no session to report.
	Capacity int
}

// NewJoin builds the peer's opening message.
func NewJoin(displayName string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":         structpb.NewStringValue(TypeJoin),
		"display_name": structpb.NewStringValue(displayName),
	}}
}

// NewDecision builds the host's reply to a join request.
func NewDecision(d Decision) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":          structpb.NewStringValue(TypeDecision),
		"approved":      structpb.NewBoolValue(d.Approved),
		"reason":        structpb.NewStringValue(d.Reason),
		"connection_id": structpb.NewNumberValue(float64(d.ConnectionID)),
		"capacity":      structpb.NewNumberValue(float64(d.Capacity)),
	}}
}

// NewMutation encodes one roster mutation. Cleared mutations carry no record fields.
func NewMutation(m roster.Mutation) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"type":  structpb.NewStringValue(TypeMutation),
		"kind":  structpb.NewStringValue(m.Kind.String()),
		"index": structpb.NewNumberValue(float64(m.Index)),
	}
	if m.HasValue() {
		fields["connection_id"] = structpb.NewNumberValue(float64(m.Value.ConnectionID))
		fields["display_name"] = structpb.NewStringValue(m.Value.DisplayName)
	}
	return &structpb.Struct{Fields: fields}
}

// TypeOf returns the message's "type" field, or "" if absent.
func TypeOf(msg *structpb.Struct) string {
	return msg.GetFields()["type"].GetStringValue()
}

// DecodeJoin extracts the display name from a join message.
func DecodeJoin(msg *structpb.Struct) (string, error) {
	if err := expectType(msg, TypeJoin); err != nil {
		return "", err
	}
	return stringField(msg, "display_name")
}

// DecodeDecision parses a decision message.
func DecodeDecision(msg *structpb.Struct) (Decision, error) {
	if err := expectType(msg, TypeDecision); err != nil {
		return Decision{}, err
	}
	approved, err := boolField(msg, "approved")
	if err != nil {
		return Decision{}, err
	}
	reason, err := stringField(msg, "reason")
	if err != nil {
		return Decision{}, err
	}
	id, err := uintField(msg, "connection_id")
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Approved: approved, Reason: reason, ConnectionID: roster.ConnectionID(id)}
	if _, ok := msg.GetFields()["capacity"]; ok {
		capacity, err := uintField(msg, "capacity")
		if err != nil {
			return Decision{}, err
		}
		d.Capacity = int(capacity)
	}
	return d, nil
}

// DecodeMutation parses a mutation message.
func DecodeMutation(msg *structpb.Struct) (roster.Mutation, error) {
	if err := expectType(msg, TypeMutation); err != nil {
		return roster.Mutation{}, err
	}
	kindName, err := stringField(msg, "kind")
	if err != nil {
		return roster.Mutation{}, err
	}
	kind, err := roster.ParseMutationKind(kindName)
	if err != nil {
		return roster.Mutation{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	index, err := uintField(msg, "index")
	if err != nil {
		return roster.Mutation{}, err
	}
	m := roster.Mutation{Kind: kind, Index: int(index)}
	if !m.HasValue() {
		return m, nil
	}
	id, err := uintField(msg, "connection_id")
	if err != nil {
		return roster.Mutation{}, err
	}
	name, err := stringField(msg, "display_name")
	if err != nil {
		return roster.Mutation{}, err
	}
	m.Value = roster.PlayerRecord{ConnectionID: roster.ConnectionID(id), DisplayName: name}
	return m, nil
}

func expectType(msg *structpb.Struct, want string) error {
	if got := TypeOf(msg); got != want {
		return fmt.Errorf("%w: type %q, want %q", ErrMalformed, got, want)
	}
	return nil
}

func field(msg *structpb.Struct, name string) (*structpb.Value, error) {
	v, ok := msg.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformed, name)
	}
	return v, nil
}

func stringField(msg *structpb.Struct, name string) (string, error) {
	v, err := field(msg, name)
	if err != nil {
		return "", err
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a string", ErrMalformed, name)
	}
	return s.StringValue, nil
}

func boolField(msg *structpb.Struct, name string) (bool, error) {
	v, err := field(msg, name)
	if err != nil {
		return false, err
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: %q is not a bool", ErrMalformed, name)
	}
	return b.BoolValue, nil
}

// uintField reads a non-negative integral number. Values above 2^53 are rejected since
// they cannot round-trip through a float64.
func uintField(msg *structpb.Struct, name string) (uint64, error) {
	v, err := field(msg, name)
	if err != nil {
		return 0, err
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, name)
	}
	f := n.NumberValue
	if f < 0 || f > 1<<53 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q = %v is not a valid id or index", ErrMalformed, name, f)
	}
	return uint64(f), nil
}
