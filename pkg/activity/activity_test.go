package activity

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func sampleMessage() *Activity {
	return &Activity{
		Type:           TypeMessage,
		ID:             "a1",
		Timestamp:      t0,
		LocalTimestamp: t0.Add(-time.Hour),
		ChannelID:      "test",
		ServiceURL:     "https://example.org",
		Conversation:   &ConversationAccount{ID: "conv-1"},
		From:           &ChannelAccount{ID: "u1", Name: "user", Role: "user"},
		Recipient:      &ChannelAccount{ID: "b1", Name: "bot", Role: "bot"},
		Locale:         "en-US",
		Text:           "hello",
		ReplyToID:      "a0",
		Value:          json.RawMessage(`{"k":1}`),
	}
}

func TestActivity_RoundTripKeepsExtensionProperties(t *testing.T) {
	in := `{"type":"message","id":"x1","channelId":"c","conversation":{"id":"conv"},"text":"hi","customField":{"nested":[1,2]},"zeta":"z"}`

	var a Activity
	require.NoError(t, json.Unmarshal([]byte(in), &a))
	require.Equal(t, TypeMessage, a.Type)
	require.Equal(t, "conv", a.ConversationID())
	require.Len(t, a.Properties, 2)
	require.JSONEq(t, `{"nested":[1,2]}`, string(a.Properties["customField"]))

	out, err := json.Marshal(&a)
	require.NoError(t, err)
	require.JSONEq(t, in, string(out))
	// typed fields first, then extension keys in sorted order
	require.True(t, strings.HasSuffix(string(out), `"customField":{"nested":[1,2]},"zeta":"z"}`))
}

func TestActivity_KnownKeysAreNotDuplicatedAsProperties(t *testing.T) {
	var a Activity
	require.NoError(t, json.Unmarshal([]byte(`{"ID":"upper","Text":"t"}`), &a))
	require.Equal(t, "upper", a.ID)
	require.Empty(t, a.Properties)
}

func TestActivity_MarshalRejectsInvalidProperty(t *testing.T) {
	a := &Activity{ID: "x", Properties: map[string]json.RawMessage{"bad": json.RawMessage(`{`)}}
	_, err := json.Marshal(a)
	require.Error(t, err)
}

func TestActivity_EmptyMarshalsToEmptyObject(t *testing.T) {
	b, err := json.Marshal(&Activity{})
	require.NoError(t, err)
	require.Equal(t, `{}`, string(b))

	b, err = json.Marshal(&Activity{Properties: map[string]json.RawMessage{"only": json.RawMessage(`true`)}})
	require.NoError(t, err)
	require.Equal(t, `{"only":true}`, string(b))
}

func TestActivity_EffectiveType(t *testing.T) {
	require.Equal(t, TypeMessage, (&Activity{}).EffectiveType())
	require.Equal(t, TypeTyping, (&Activity{Type: TypeTyping}).EffectiveType())
}

func TestActivity_Tombstone(t *testing.T) {
	a := sampleMessage()
	ts := a.Tombstone()

	require.Equal(t, TypeMessageDelete, ts.Type)
	require.Equal(t, "a1", ts.ID)
	require.Equal(t, DeletedAccountID, ts.From.ID)
	require.Equal(t, "user", ts.From.Role)
	require.Empty(t, ts.From.Name)
	require.Equal(t, DeletedAccountID, ts.Recipient.ID)
	require.Equal(t, "bot", ts.Recipient.Role)
	require.Equal(t, a.Timestamp, ts.Timestamp)
	require.Equal(t, a.LocalTimestamp, ts.LocalTimestamp)
	require.Equal(t, "en-US", ts.Locale)
	require.Equal(t, "test", ts.ChannelID)
	require.Equal(t, "conv-1", ts.ConversationID())
	require.Equal(t, "https://example.org", ts.ServiceURL)
	require.Equal(t, "a0", ts.ReplyToID)
	require.Empty(t, ts.Text)
	require.Nil(t, ts.Value)
	require.True(t, ts.IsTombstone())
	require.False(t, a.IsTombstone())

	// the conversation is copied, not shared
	ts.Conversation.ID = "changed"
	require.Equal(t, "conv-1", a.ConversationID())
}

func TestActivity_TombstoneWithoutParticipants(t *testing.T) {
	ts := (&Activity{ID: "x"}).Tombstone()
	require.Equal(t, DeletedAccountID, ts.From.ID)
	require.Empty(t, ts.From.Role)
	require.Nil(t, ts.Conversation)
}

func TestMergeUpdate(t *testing.T) {
	original := sampleMessage()
	update := &Activity{
		Type:      TypeMessageUpdate,
		ID:        "a1",
		Timestamp: t0.Add(time.Minute),
		Text:      "new",
	}

	merged := MergeUpdate(original, update)
	require.Equal(t, TypeMessage, merged.Type)
	require.Equal(t, t0, merged.Timestamp)
	require.Equal(t, original.LocalTimestamp, merged.LocalTimestamp)
	require.Equal(t, "new", merged.Text)
	require.Equal(t, TypeMessageUpdate, update.Type, "update must not be mutated")
}

func TestActivity_CloneIsDeep(t *testing.T) {
	a := sampleMessage()
	a.Properties = map[string]json.RawMessage{"p": json.RawMessage(`"v"`)}
	c := a.Clone()
	require.Equal(t, a, c)

	c.From.ID = "other"
	c.Value[0] = '['
	c.Properties["p"] = json.RawMessage(`"w"`)
	require.Equal(t, "u1", a.From.ID)
	require.Equal(t, byte('{'), a.Value[0])
	require.Equal(t, `"v"`, string(a.Properties["p"]))

	require.Nil(t, (*Activity)(nil).Clone())
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ids   []string
	}{
		{name: "empty", input: "  \n", ids: []string{}},
		{name: "array", input: `[{"id":"a"},null,{"id":"b"}]`, ids: []string{"a", "b"}},
		{name: "single", input: `{"id":"a"}`, ids: []string{"a"}},
		{name: "lines", input: "{\"id\":\"a\"}\n{\"id\":\"b\"}\n", ids: []string{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(strings.NewReader(tc.input))
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			require.Equal(t, tc.ids, ids)
		})
	}

	_, err := Decode(strings.NewReader(`{"id":`))
	require.Error(t, err)
}

func TestMarshalUnmarshalArray(t *testing.T) {
	b, err := MarshalArray(nil)
	require.NoError(t, err)
	require.Equal(t, `[]`, string(b))

	in := []*Activity{sampleMessage(), {ID: "a2", Type: TypeTyping}}
	b, err = MarshalArray(in)
	require.NoError(t, err)

	out, err := UnmarshalArray(b)
	require.NoError(t, err)
	require.Equal(t, in, out)

	empty, err := UnmarshalArray(nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = UnmarshalArray([]byte(`[{"id":`))
	require.Error(t, err)
}
