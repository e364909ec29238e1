package transcriptstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-go-golems/transcripts/pkg/activity"
)

const memoryComponent = "in-memory transcript store"

// InMemoryStore is a volatile Store keyed by channel, then conversation.
// It is unbounded and meant for tests and non-production runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*memChannel
}

type memChannel struct {
	// conversation ids in creation order
	order []string
	logs  map[string][]*activity.Activity
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		channels: map[string]*memChannel{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) LogActivity(ctx context.Context, a *activity.Activity) (LogResult, error) {
	if err := checkContext(ctx); err != nil {
		return LogResult{Status: LogCanceled}, err
	}
	if err := validateActivity(memoryComponent, a); err != nil {
		return LogResult{Status: LogInvalidInput}, err
	}
	convID := a.ConversationID()

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.channels[a.ChannelID]
	if ch == nil {
		ch = &memChannel{logs: map[string][]*activity.Activity{}}
		s.channels[a.ChannelID] = ch
	}
	entries, ok := ch.logs[convID]
	if !ok {
		ch.order = append(ch.order, convID)
	}

	idx := firstMatch(entries, a.ID)
	var match *activity.Activity
	if idx >= 0 {
		match = entries[idx]
	}

	// stored entries are replaced, never mutated in place
	switch planLog(a, match) {
	case actionTombstone:
		entries[idx] = match.Tombstone()
	case actionUpdate:
		entries[idx] = activity.MergeUpdate(match, a)
	case actionDuplicate:
		return LogResult{Status: LogDuplicate, Attempts: 1}, nil
	default:
		entries = append(entries, a.Clone())
	}
	ch.logs[convID] = entries
	return LogResult{Status: LogPersisted, Attempts: 1}, nil
}

func (s *InMemoryStore) GetTranscriptActivities(ctx context.Context, channelID, conversationID, continuationToken string, startDate time.Time) (PagedResult[*activity.Activity], error) {
	if err := checkContext(ctx); err != nil {
		return PagedResult[*activity.Activity]{}, err
	}
	if err := validateKey(memoryComponent, channelID, conversationID); err != nil {
		return PagedResult[*activity.Activity]{}, err
	}

	s.mu.RLock()
	var snapshot []*activity.Activity
	if ch := s.channels[channelID]; ch != nil {
		snapshot = slices.Clone(ch.logs[conversationID])
	}
	s.mu.RUnlock()

	page := paginateActivities(snapshot, continuationToken, startDate)
	page.Items = cloneActivities(page.Items)
	return page, nil
}

func (s *InMemoryStore) ListTranscripts(ctx context.Context, channelID, continuationToken string) (PagedResult[TranscriptInfo], error) {
	if err := checkContext(ctx); err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}
	if err := validateChannel(memoryComponent, channelID); err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}

	s.mu.RLock()
	var infos []TranscriptInfo
	if ch := s.channels[channelID]; ch != nil {
		infos = make([]TranscriptInfo, 0, len(ch.order))
		for _, convID := range ch.order {
			info := TranscriptInfo{ChannelID: channelID, ID: convID}
			if entries := ch.logs[convID]; len(entries) > 0 {
				info.Created = entries[0].Timestamp
			}
			infos = append(infos, info)
		}
	}
	s.mu.RUnlock()

	return paginateTranscripts(infos, continuationToken), nil
}

func (s *InMemoryStore) DeleteTranscript(ctx context.Context, channelID, conversationID string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateKey(memoryComponent, channelID, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.channels[channelID]
	if ch == nil {
		return nil
	}
	if _, ok := ch.logs[conversationID]; !ok {
		return nil
	}
	delete(ch.logs, conversationID)
	ch.order = slices.DeleteFunc(ch.order, func(id string) bool { return id == conversationID })
	if len(ch.logs) == 0 {
		delete(s.channels, channelID)
	}
	return nil
}
