package transcriptstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/transcripts/pkg/activity"
)

var (
	// ErrInvalidArgument marks a call rejected before touching the store.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRetriesExhausted marks an activity that was dropped after every write attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCorruptTranscript marks a persisted transcript that cannot be decoded.
	ErrCorruptTranscript = errors.New("corrupt transcript")
)

// TranscriptInfo describes one stored conversation.
type TranscriptInfo struct {
	ChannelID string    `json:"channelId"`
	ID        string    `json:"id"`
	Created   time.Time `json:"created"`
}

// PagedResult is one page of a paginated read. An empty ContinuationToken
// means there are no further pages.
type PagedResult[T any] struct {
	Items             []T    `json:"items"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// LogStatus tells the caller what happened to a logged activity.
type LogStatus int

const (
	// LogPersisted means the activity was appended, or applied as an update/tombstone.
	LogPersisted LogStatus = iota
	// LogDuplicate means an entry with the same id was already stored; nothing was written.
	LogDuplicate
	// LogInvalidInput means the activity was rejected without being written.
	LogInvalidInput
	// LogCanceled means the context was done before the operation started.
	LogCanceled
	// LogRetriesExhausted means every write attempt failed; the activity was not stored.
	LogRetriesExhausted
	// LogCorrupt means the existing transcript could not be decoded.
	LogCorrupt
	// LogFailed covers any other backend failure.
	LogFailed
)

func (s LogStatus) String() string {
	switch s {
	case LogPersisted:
		return "persisted"
	case LogDuplicate:
		return "duplicate"
	case LogInvalidInput:
		return "invalid-input"
	case LogCanceled:
		return "canceled"
	case LogRetriesExhausted:
		return "retries-exhausted"
	case LogCorrupt:
		return "corrupt"
	case LogFailed:
		return "failed"
	default:
		return fmt.Sprintf("LogStatus(%d)", int(s))
	}
}

// LogResult is the outcome of Store.LogActivity.
type LogResult struct {
	Status   LogStatus
	Attempts int
}

// Stored reports whether the store holds the activity after the call.
func (r LogResult) Stored() bool {
	return r.Status == LogPersisted || r.Status == LogDuplicate
}

// Store records conversation activities and reads them back in pages.
//
// Implementations serialize all operations of one instance. The context is
// only checked before an operation starts; a write in progress always runs to
// completion.
type Store interface {
	// LogActivity appends a to its conversation's transcript, or applies it in
	// place when it updates or deletes an existing entry.
	LogActivity(ctx context.Context, a *activity.Activity) (LogResult, error)
	// GetTranscriptActivities returns a page of activities ordered by timestamp,
	// skipping those older than startDate. A zero startDate keeps everything.
	GetTranscriptActivities(ctx context.Context, channelID, conversationID, continuationToken string, startDate time.Time) (PagedResult[*activity.Activity], error)
	// ListTranscripts returns a page of the channel's conversations ordered by creation time.
	ListTranscripts(ctx context.Context, channelID, continuationToken string) (PagedResult[TranscriptInfo], error)
	// DeleteTranscript removes a conversation's transcript. Missing transcripts are ignored.
	DeleteTranscript(ctx context.Context, channelID, conversationID string) error
	Close() error
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

func validateActivity(component string, a *activity.Activity) error {
	if a == nil {
		return errors.Wrapf(ErrInvalidArgument, "%s: activity is nil", component)
	}
	return validateKey(component, a.ChannelID, a.ConversationID())
}

func validateKey(component, channelID, conversationID string) error {
	if err := validateChannel(component, channelID); err != nil {
		return err
	}
	if strings.TrimSpace(conversationID) == "" {
		return errors.Wrapf(ErrInvalidArgument, "%s: conversationID is empty", component)
	}
	return nil
}

func validateChannel(component, channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return errors.Wrapf(ErrInvalidArgument, "%s: channelID is empty", component)
	}
	return nil
}

type corruptError struct {
	where string
	err   error
}

func (e *corruptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.where, ErrCorruptTranscript, e.err)
}

func (e *corruptError) Unwrap() error { return e.err }

func (e *corruptError) Is(target error) bool { return target == ErrCorruptTranscript }

// logAction is what LogActivity does with an incoming activity.
type logAction int

const (
	actionAppend logAction = iota
	actionUpdate
	actionTombstone
	actionDuplicate
)

// planLog decides how a is applied given the first stored entry with the same id
// (nil when there is none, or when a has no id). Updates and deletes without a
// target are appended verbatim. A tombstone is final: nothing replaces it.
func planLog(a *activity.Activity, match *activity.Activity) logAction {
	if match == nil {
		return actionAppend
	}
	if match.IsTombstone() {
		return actionDuplicate
	}
	switch a.EffectiveType() {
	case activity.TypeMessageDelete:
		return actionTombstone
	case activity.TypeMessageUpdate:
		return actionUpdate
	default:
		return actionDuplicate
	}
}

// firstMatch returns the index of the first entry with the given id, or -1.
func firstMatch(entries []*activity.Activity, id string) int {
	if id == "" {
		return -1
	}
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
