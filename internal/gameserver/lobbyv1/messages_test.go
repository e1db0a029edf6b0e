package lobbyv1_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/gameserver/lobbyv1"
)

func TestJoinMessage(t *testing.T) {
	msg := lobbyv1.NewJoin("Alice")
	assert.Equal(t, lobbyv1.TypeJoin, lobbyv1.TypeOf(msg))
	name, err := lobbyv1.DecodeJoin(msg)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestDecisionMessage_SurvivesWire(t *testing.T) {
	orig := lobbyv1.NewDecision(lobbyv1.Decision{Approved: false, Reason: "capacity", ConnectionID: 5, Capacity: 2})
	data, err := proto.Marshal(orig)
	require.NoError(t, err)
	got := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(data, got))

	d, err := lobbyv1.DecodeDecision(got)
	require.NoError(t, err)
	assert.Equal(t, lobbyv1.Decision{Approved: false, Reason: "capacity", ConnectionID: 5, Capacity: 2}, d)
}

func TestDecodeDecision_CapacityOptional(t *testing.T) {
	msg := lobbyv1.NewDecision(lobbyv1.Decision{Approved: true, Reason: "open", ConnectionID: 3, Capacity: 6})
	delete(msg.Fields, "capacity")
	d, err := lobbyv1.DecodeDecision(msg)
	require.NoError(t, err)
	assert.Zero(t, d.Capacity)

	msg.Fields["capacity"] = structpb.NewNumberValue(-2)
	_, err = lobbyv1.DecodeDecision(msg)
	assert.ErrorIs(t, err, lobbyv1.ErrMalformed)
}

func TestMutationMessage_Cleared(t *testing.T) {
	msg := lobbyv1.NewMutation(roster.Mutation{Kind: roster.MutationCleared})
	_, hasID := msg.GetFields()["connection_id"]
	assert.False(t, hasID)

	m, err := lobbyv1.DecodeMutation(msg)
	require.NoError(t, err)
	assert.Equal(t, roster.Mutation{Kind: roster.MutationCleared}, m)
}

func TestDecode_Malformed(t *testing.T) {
	valid := func() *structpb.Struct {
		return lobbyv1.NewMutation(roster.Mutation{
			Kind:  roster.MutationAdded,
			Index: 1,
			Value: roster.PlayerRecord{ConnectionID: 2, DisplayName: "Bob"},
		})
	}
	cases := []struct {
		name   string
		mutate func(*structpb.Struct)
	}{
		{"wrong type", func(s *structpb.Struct) { s.Fields["type"] = structpb.NewStringValue(lobbyv1.TypeJoin) }},
		{"missing kind", func(s *structpb.Struct) { delete(s.Fields, "kind") }},
		{"unknown kind", func(s *structpb.Struct) { s.Fields["kind"] = structpb.NewStringValue("renamed") }},
		{"index not a number", func(s *structpb.Struct) { s.Fields["index"] = structpb.NewStringValue("1") }},
		{"negative index", func(s *structpb.Struct) { s.Fields["index"] = structpb.NewNumberValue(-1) }},
		{"fractional id", func(s *structpb.Struct) { s.Fields["connection_id"] = structpb.NewNumberValue(1.5) }},
		{"NaN id", func(s *structpb.Struct) { s.Fields["connection_id"] = structpb.NewNumberValue(math.NaN()) }},
		{"name not a string", func(s *structpb.Struct) { s.Fields["display_name"] = structpb.NewBoolValue(true) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := valid()
			tc.mutate(msg)
			_, err := lobbyv1.DecodeMutation(msg)
			assert.ErrorIs(t, err, lobbyv1.ErrMalformed)
		})
	}
}

func TestDecodeDecision_Malformed(t *testing.T) {
	msg := lobbyv1.NewDecision(lobbyv1.Decision{Approved: true, Reason: "open", ConnectionID: 1})
	msg.Fields["approved"] = structpb.NewStringValue("yes")
	_, err := lobbyv1.DecodeDecision(msg)
	assert.ErrorIs(t, err, lobbyv1.ErrMalformed)

	_, err = lobbyv1.DecodeJoin(&structpb.Struct{})
	assert.ErrorIs(t, err, lobbyv1.ErrMalformed)
}

func TestPropertyMutationRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]roster.MutationKind{
			roster.MutationAdded, roster.MutationRemoved, roster.MutationUpdated, roster.MutationCleared,
		}).Draw(t, "kind")
		m := roster.Mutation{Kind: kind}
		if kind != roster.MutationCleared {
			m.Index = rapid.IntRange(0, 1000).Draw(t, "index")
			m.Value = roster.PlayerRecord{
				ConnectionID: roster.ConnectionID(rapid.Uint64Range(0, 1<<53).Draw(t, "id")),
				DisplayName:  rapid.String().Draw(t, "name"),
			}
		}
		got, err := lobbyv1.DecodeMutation(lobbyv1.NewMutation(m))
		if err != nil {
			t.Fatalf("decode %+v: %v", m, err)
		}
		if got != m {
			t.Fatalf("round trip: got %+v want %+v", got, m)
		}
	})
}
