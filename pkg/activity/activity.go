// Package activity models the conversational events recorded in a transcript.
//
// An Activity has typed identity, routing and timestamp fields. Any other JSON
// field is kept verbatim in Properties and written back on marshal.
package activity

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Type identifies the kind of an Activity.
type Type string

const (
	TypeMessage            Type = "message"
	TypeMessageUpdate      Type = "messageUpdate"
	TypeMessageDelete      Type = "messageDelete"
	TypeMessageReaction    Type = "messageReaction"
	TypeTyping             Type = "typing"
	TypeTrace              Type = "trace"
	TypeEvent              Type = "event"
	TypeInvoke             Type = "invoke"
	TypeConversationUpdate Type = "conversationUpdate"
	TypeEndOfConversation  Type = "endOfConversation"
)

// DeletedAccountID replaces the From/Recipient ids of a tombstoned entry.
const DeletedAccountID = "deleted"

// ChannelAccount identifies a participant on a channel.
type ChannelAccount struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	Role             string `json:"role,omitempty"`
}

// Activity is one recorded conversational event.
type Activity struct {
	Type           Type                 `json:"type,omitempty"`
	ID             string               `json:"id,omitempty"`
	Timestamp      time.Time            `json:"timestamp,omitzero"`
	LocalTimestamp time.Time            `json:"localTimestamp,omitzero"`
	LocalTimezone  string               `json:"localTimezone,omitempty"`
	ServiceURL     string               `json:"serviceUrl,omitempty"`
	ChannelID      string               `json:"channelId,omitempty"`
	From           *ChannelAccount      `json:"from,omitempty"`
	Conversation   *ConversationAccount `json:"conversation,omitempty"`
	Recipient      *ChannelAccount      `json:"recipient,omitempty"`
	TextFormat     string               `json:"textFormat,omitempty"`
	Locale         string               `json:"locale,omitempty"`
	Text           string               `json:"text,omitempty"`
	Speak          string               `json:"speak,omitempty"`
	Summary        string               `json:"summary,omitempty"`
	Attachments    json.RawMessage      `json:"attachments,omitempty"`
	Entities       json.RawMessage      `json:"entities,omitempty"`
	ChannelData    json.RawMessage      `json:"channelData,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
	Name           string               `json:"name,omitempty"`
	Label          string               `json:"label,omitempty"`
	ValueType      string               `json:"valueType,omitempty"`
	Value          json.RawMessage      `json:"value,omitempty"`

	// Properties holds every JSON field not modeled above, verbatim.
	Properties map[string]json.RawMessage `json:"-"`
}

// plain has Activity's fields without its JSON methods.
type plain Activity

// knownFields holds the lowercased JSON names of the typed fields. encoding/json
// matches keys case-insensitively, so extension keys are compared the same way.
var knownFields = func() map[string]struct{} {
	out := map[string]struct{}{}
	t := reflect.TypeOf(plain{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out
}()

func isKnownField(key string) bool {
	_, ok := knownFields[strings.ToLower(key)]
	return ok
}

// EffectiveType returns the activity type, treating an unset type as a message.
func (a *Activity) EffectiveType() Type {
	if a == nil || a.Type == "" {
		return TypeMessage
	}
	return a.Type
}

// ConversationID returns the id of the activity's conversation, or "".
func (a *Activity) ConversationID() string {
	if a == nil || a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// IsTombstone reports whether the activity is a deletion marker left in place of a message.
func (a *Activity) IsTombstone() bool {
	return a != nil && a.Type == TypeMessageDelete && a.From != nil && a.From.ID == DeletedAccountID
}

func (a Activity) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(plain(a))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(a.Properties))
	for k := range a.Properties {
		if isKnownField(k) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return base, nil
	}
	sort.Strings(keys)

	buf := bytes.NewBuffer(make([]byte, 0, len(base)+32*len(keys)))
	buf.Write(base[:len(base)-1])
	first := len(base) == 2
	for _, k := range keys {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v := a.Properties[k]
		if len(v) == 0 {
			buf.WriteString("null")
			continue
		}
		if err := json.Compact(buf, v); err != nil {
			return nil, errors.Wrapf(err, "activity: invalid value for property %q", k)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Activity(p)
	for k, v := range raw {
		if isKnownField(k) {
			continue
		}
		if a.Properties == nil {
			a.Properties = make(map[string]json.RawMessage)
		}
		a.Properties[k] = v
	}
	return nil
}

// Clone returns a deep copy of the activity.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	if a.From != nil {
		from := *a.From
		c.From = &from
	}
	if a.Recipient != nil {
		recipient := *a.Recipient
		c.Recipient = &recipient
	}
	if a.Conversation != nil {
		conv := *a.Conversation
		c.Conversation = &conv
	}
	c.Attachments = bytes.Clone(a.Attachments)
	c.Entities = bytes.Clone(a.Entities)
	c.ChannelData = bytes.Clone(a.ChannelData)
	c.Value = bytes.Clone(a.Value)
	if a.Properties != nil {
		c.Properties = maps.Clone(a.Properties)
		for k, v := range c.Properties {
			c.Properties[k] = bytes.Clone(v)
		}
	}
	return &c
}

// Tombstone returns the deletion marker that replaces a in its transcript.
// Only structural fields survive; participant ids become DeletedAccountID.
func (a *Activity) Tombstone() *Activity {
	t := &Activity{
		Type:           TypeMessageDelete,
		ID:             a.ID,
		From:           &ChannelAccount{ID: DeletedAccountID},
		Recipient:      &ChannelAccount{ID: DeletedAccountID},
		Locale:         a.Locale,
		Timestamp:      a.Timestamp,
		LocalTimestamp: a.LocalTimestamp,
		ChannelID:      a.ChannelID,
		ServiceURL:     a.ServiceURL,
		ReplyToID:      a.ReplyToID,
	}
	if a.From != nil {
		t.From.Role = a.From.Role
	}
	if a.Recipient != nil {
		t.Recipient.Role = a.Recipient.Role
	}
	if a.Conversation != nil {
		conv := *a.Conversation
		t.Conversation = &conv
	}
	return t
}

// MergeUpdate returns a copy of update that takes the place of original:
// content comes from update, while the type and timestamps of original are kept.
func MergeUpdate(original, update *Activity) *Activity {
	merged := update.Clone()
	merged.Type = original.Type
	merged.Timestamp = original.Timestamp
	merged.LocalTimestamp = original.LocalTimestamp
	return merged
}
