package transcriptlogger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/transcripts/pkg/activity"
	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
)

const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Logger sits between a bot and a transcript store. It fills in the fields a
// transcript needs (id, timestamp, sender role) and never mutates the caller's
// activity.
type Logger struct {
	store transcriptstore.Store
	now   func() time.Time
	newID func() string
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Logger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

func New(store transcriptstore.Store, opts ...Option) *Logger {
	l := &Logger{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogIncoming records an activity received from a user.
func (l *Logger) LogIncoming(ctx context.Context, a *activity.Activity) (transcriptstore.LogResult, error) {
	return l.log(ctx, a, RoleUser, "")
}

// LogOutgoing records an activity the bot sent.
func (l *Logger) LogOutgoing(ctx context.Context, a *activity.Activity) (transcriptstore.LogResult, error) {
	return l.log(ctx, a, RoleBot, "")
}

// LogUpdate records an edit of a previously logged message.
func (l *Logger) LogUpdate(ctx context.Context, a *activity.Activity) (transcriptstore.LogResult, error) {
	return l.log(ctx, a, RoleBot, activity.TypeMessageUpdate)
}

// LogDelete records the deletion of a previously logged message.
func (l *Logger) LogDelete(ctx context.Context, channelID, conversationID, activityID string) (transcriptstore.LogResult, error) {
	if activityID == "" {
		return transcriptstore.LogResult{Status: transcriptstore.LogInvalidInput},
			errors.Wrap(transcriptstore.ErrInvalidArgument, "transcript logger: delete needs an activity id")
	}
	return l.log(ctx, &activity.Activity{
		ID:           activityID,
		ChannelID:    channelID,
		Conversation: &activity.ConversationAccount{ID: conversationID},
	}, RoleBot, activity.TypeMessageDelete)
}

// Log records an activity as is, only filling in a missing id and timestamp.
func (l *Logger) Log(ctx context.Context, a *activity.Activity) (transcriptstore.LogResult, error) {
	return l.log(ctx, a, "", "")
}

func (l *Logger) log(ctx context.Context, a *activity.Activity, role string, typ activity.Type) (transcriptstore.LogResult, error) {
	if l == nil || l.store == nil {
		return transcriptstore.LogResult{Status: transcriptstore.LogFailed}, errors.New("transcript logger: store is nil")
	}
	if a == nil {
		return l.store.LogActivity(ctx, nil)
	}

	c := a.Clone()
	if typ != "" {
		c.Type = typ
	}
	if c.ID == "" {
		c.ID = l.newID()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = l.now().UTC()
	}
	if role != "" && c.From != nil && c.From.Role == "" {
		c.From.Role = role
	}

	res, err := l.store.LogActivity(ctx, c)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "transcript_logger").
			Str("channel_id", c.ChannelID).
			Str("conversation_id", c.ConversationID()).
			Str("activity_id", c.ID).
			Str("status", res.Status.String()).
			Int("attempts", res.Attempts).
			Msg("failed to log activity")
		return res, err
	}
	log.Trace().
		Str("component", "transcript_logger").
		Str("activity_id", c.ID).
		Str("status", res.Status.String()).
		Msg("logged activity")
	return res, nil
}
