package transcriptlogger

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/transcripts/pkg/activity"
	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
)

const (
	MetadataChannelID      = "channel_id"
	MetadataConversationID = "conversation_id"
)

// Publish sends a as a JSON payload on topic.
func Publish(pub message.Publisher, topic string, a *activity.Activity) error {
	if pub == nil {
		return errors.New("transcript publisher: publisher is nil")
	}
	if a == nil {
		return errors.New("transcript publisher: activity is nil")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "transcript publisher: marshal activity")
	}
	msg := message.NewMessage(uuid.NewString(), b)
	msg.Metadata.Set(MetadataChannelID, a.ChannelID)
	msg.Metadata.Set(MetadataConversationID, a.ConversationID())
	return errors.Wrapf(pub.Publish(topic, msg), "transcript publisher: publish to %s", topic)
}

// PersistFunc stores activities delivered on a topic. Payloads that can never
// be stored (bad JSON, invalid activity, corrupt transcript) are logged and
// dropped. Storage failures that may succeed later are returned so the
// message is redelivered.
func PersistFunc(l *Logger) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		var a activity.Activity
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			log.Warn().Err(err).Str("component", "transcript_persist").Str("message_uuid", msg.UUID).Msg("failed to decode activity payload")
			return nil
		}

		ctx := msg.Context()
		if ctx == nil || ctx.Err() != nil {
			// shutdown cancels message contexts before the queue drains
			ctx = context.Background()
		}

		res, err := l.Log(ctx, &a)
		if err == nil {
			return nil
		}
		switch res.Status {
		case transcriptstore.LogRetriesExhausted, transcriptstore.LogFailed:
			return errors.Wrapf(err, "persist activity %s", a.ID)
		default:
			log.Warn().Err(err).Str("component", "transcript_persist").Str("message_uuid", msg.UUID).Str("status", res.Status.String()).Msg("dropping activity")
			return nil
		}
	}
}
