package transcriptstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/go-go-golems/transcripts/pkg/activity"
)

const (
	fileComponent = "file transcript store"

	DefaultRetryAttempts = 3
	DefaultRetryInterval = 50 * time.Millisecond
)

// FileStore keeps one JSON array file per conversation under
// {root}/{channel}/{conversation}.transcript.
//
// Appends only rewrite the closing bracket of the array. Updates and deletes
// rewrite the whole file through a temp file and a rename. Every write is
// retried a fixed number of times before the activity is dropped.
type FileStore struct {
	mu            sync.Mutex
	fs            afero.Fs
	root          string
	unitTestMode  bool
	retryAttempts int
	retryInterval time.Duration

	// paths this instance has already written to
	started map[string]struct{}
	// ids present in each file, loaded lazily on the first append
	ids map[string]map[string]struct{}
}

var _ Store = &FileStore{}

type FileStoreOption func(*FileStore) error

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) FileStoreOption {
	return func(s *FileStore) error {
		if fs == nil {
			return errors.New("file transcript store: fs is nil")
		}
		s.fs = fs
		return nil
	}
}

// WithUnitTestMode makes the first write to each transcript in this instance
// replace whatever the file held before.
func WithUnitTestMode(on bool) FileStoreOption {
	return func(s *FileStore) error {
		s.unitTestMode = on
		return nil
	}
}

// WithRetry sets the total number of write attempts and the pause between them.
func WithRetry(attempts int, interval time.Duration) FileStoreOption {
	return func(s *FileStore) error {
		if attempts < 1 {
			return errors.Errorf("file transcript store: retry attempts must be >= 1, got %d", attempts)
		}
		if interval < 0 {
			return errors.Errorf("file transcript store: retry interval must be >= 0, got %s", interval)
		}
		s.retryAttempts = attempts
		s.retryInterval = interval
		return nil
	}
}

// NewFileStore creates a store rooted at folder, creating it if needed.
// An empty folder means the process working directory.
func NewFileStore(folder string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		fs:            afero.NewOsFs(),
		retryAttempts: DefaultRetryAttempts,
		retryInterval: DefaultRetryInterval,
		started:       map[string]struct{}{},
		ids:           map[string]map[string]struct{}{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(folder) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "file transcript store: resolve working directory")
		}
		folder = wd
	}
	s.root = filepath.Clean(folder)
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "file transcript store: create root %s", s.root)
	}
	return s, nil
}

// Root returns the folder transcripts are written under.
func (s *FileStore) Root() string {
	if s == nil {
		return ""
	}
	return s.root
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) channelDir(channelID string) (string, error) {
	name, err := pathElement(fileComponent, "channelID", channelID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

func (s *FileStore) transcriptPath(channelID, conversationID string) (string, error) {
	dir, err := s.channelDir(channelID)
	if err != nil {
		return "", err
	}
	name, err := pathElement(fileComponent, "conversationID", conversationID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+transcriptExt), nil
}

func (s *FileStore) LogActivity(ctx context.Context, a *activity.Activity) (LogResult, error) {
	if s == nil {
		return LogResult{Status: LogFailed}, errors.New("file transcript store: nil store")
	}
	if err := checkContext(ctx); err != nil {
		return LogResult{Status: LogCanceled}, err
	}
	if err := validateActivity(fileComponent, a); err != nil {
		return LogResult{Status: LogInvalidInput}, err
	}
	path, err := s.transcriptPath(a.ChannelID, a.ConversationID())
	if err != nil {
		return LogResult{Status: LogInvalidInput}, err
	}

	log.Debug().
		Str("component", "file_transcript_store").
		Str("path", path).
		Str("activity_id", a.ID).
		Str("type", string(a.EffectiveType())).
		Msg("logging activity")

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		status   LogStatus
		attempts int
		// set once an append reached the file; later attempts only flush it
		flush *pendingFlush
	)
	op := func() error {
		attempts++
		if flush != nil {
			return s.finishAppend(path, flush.end)
		}
		st, pending, err := s.logOnce(path, a)
		if pending != nil {
			flush = pending
			status = st
		}
		if err != nil {
			if errors.Is(err, ErrCorruptTranscript) {
				return backoff.Permanent(err)
			}
			return err
		}
		status = st
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn().
			Err(err).
			Str("component", "file_transcript_store").
			Str("path", path).
			Str("activity_id", a.ID).
			Int("attempt", attempts).
			Dur("retry_in", next).
			Msg("write failed, retrying")
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryInterval), uint64(s.retryAttempts-1))
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if errors.Is(err, ErrCorruptTranscript) {
			log.Error().Err(err).Str("component", "file_transcript_store").Str("path", path).Msg("transcript is corrupt")
			return LogResult{Status: LogCorrupt, Attempts: attempts}, err
		}
		log.Error().
			Err(err).
			Str("component", "file_transcript_store").
			Str("path", path).
			Str("activity_id", a.ID).
			Int("attempts", attempts).
			Msg("dropping activity")
		return LogResult{Status: LogRetriesExhausted, Attempts: attempts},
			errors.Wrapf(ErrRetriesExhausted, "%s: log activity %q after %d attempts: %v", fileComponent, a.ID, attempts, err)
	}
	return LogResult{Status: status, Attempts: attempts}, nil
}

// pendingFlush marks an append whose bytes are in the file but whose
// truncate or sync failed.
type pendingFlush struct {
	end int64
}

// logOnce performs a single write attempt. Callers hold s.mu. A non-nil
// pendingFlush means the entry was written even if err is set.
func (s *FileStore) logOnce(path string, a *activity.Activity) (LogStatus, *pendingFlush, error) {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return LogFailed, nil, errors.Wrap(err, "create channel folder")
	}

	_, started := s.started[path]
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return LogFailed, nil, errors.Wrap(err, "stat transcript")
	}
	if !exists || (s.unitTestMode && !started) {
		data, err := activity.MarshalArray([]*activity.Activity{a})
		if err != nil {
			return LogFailed, nil, err
		}
		if err := s.replaceFile(path, data); err != nil {
			return LogFailed, nil, err
		}
		s.started[path] = struct{}{}
		s.ids[path] = idSet(a.ID)
		log.Debug().Str("component", "file_transcript_store").Str("path", path).Msg("started transcript")
		return LogPersisted, nil, nil
	}
	s.started[path] = struct{}{}

	ids, err := s.loadIDs(path)
	if err != nil {
		return LogFailed, nil, err
	}
	if _, seen := ids[a.ID]; a.ID == "" || !seen {
		end, err := s.appendEntry(path, a)
		if end < 0 {
			return LogFailed, nil, err
		}
		if a.ID != "" {
			ids[a.ID] = struct{}{}
		}
		if err != nil {
			return LogPersisted, &pendingFlush{end: end}, err
		}
		return LogPersisted, nil, nil
	}

	switch a.EffectiveType() {
	case activity.TypeMessageUpdate, activity.TypeMessageDelete:
		st, err := s.rewriteEntry(path, a)
		return st, nil, err
	default:
		return LogDuplicate, nil, nil
	}
}

// rewriteEntry applies an update or delete to the first entry with a's id and
// writes the whole array back.
func (s *FileStore) rewriteEntry(path string, a *activity.Activity) (LogStatus, error) {
	entries, err := s.load(path)
	if err != nil {
		return LogFailed, err
	}
	idx := firstMatch(entries, a.ID)
	var match *activity.Activity
	if idx >= 0 {
		match = entries[idx]
	}

	switch planLog(a, match) {
	case actionTombstone:
		entries[idx] = match.Tombstone()
	case actionUpdate:
		entries[idx] = activity.MergeUpdate(match, a)
	case actionDuplicate:
		return LogDuplicate, nil
	default:
		// the id index was stale
		entries = append(entries, a)
	}

	data, err := activity.MarshalArray(entries)
	if err != nil {
		return LogFailed, err
	}
	if err := s.replaceFile(path, data); err != nil {
		return LogFailed, err
	}
	s.ids[path] = idSet(collectIDs(entries)...)
	return LogPersisted, nil
}

// appendEntry overwrites the closing bracket of the array with the new entry
// followed by a fresh closing bracket. It returns the new end of the array,
// or -1 when nothing was written.
func (s *FileStore) appendEntry(path string, a *activity.Activity) (int64, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return -1, errors.Wrap(err, "marshal activity")
	}

	f, err := s.fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return -1, errors.Wrap(err, "open transcript")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return -1, errors.Wrap(err, "stat transcript")
	}
	closeAt, empty, err := arrayTail(f, info.Size())
	if err != nil {
		if errors.Is(err, errMalformedArray) {
			return -1, &corruptError{where: path, err: err}
		}
		return -1, err
	}

	payload := make([]byte, 0, len(body)+2)
	if !empty {
		payload = append(payload, ',')
	}
	payload = append(payload, body...)
	payload = append(payload, ']')

	if _, err := f.WriteAt(payload, closeAt); err != nil {
		// WriteAt may have moved part of the tail; put the bracket back
		_, _ = f.WriteAt([]byte{']'}, closeAt)
		_ = f.Truncate(closeAt + 1)
		return -1, errors.Wrap(err, "write transcript")
	}
	end := closeAt + int64(len(payload))
	return end, flushFile(f, end)
}

// finishAppend completes an append whose bytes are already in the file.
func (s *FileStore) finishAppend(path string, end int64) error {
	f, err := s.fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "open transcript")
	}
	defer func() { _ = f.Close() }()
	return flushFile(f, end)
}

func flushFile(f afero.File, end int64) error {
	if err := f.Truncate(end); err != nil {
		return errors.Wrap(err, "truncate transcript")
	}
	return errors.Wrap(f.Sync(), "sync transcript")
}

var errMalformedArray = errors.New("transcript is not a JSON array")

// arrayTail locates the final ']' of a JSON array, ignoring trailing
// whitespace, and reports whether the array has no elements. Format problems
// wrap errMalformedArray; read failures are returned as is.
func arrayTail(f io.ReaderAt, size int64) (int64, bool, error) {
	closeAt := int64(-1)
	buf := make([]byte, 512)
	pos := size
	for pos > 0 {
		n := min(int64(len(buf)), pos)
		pos -= n
		if _, err := f.ReadAt(buf[:n], pos); err != nil && err != io.EOF {
			return 0, false, errors.Wrap(err, "read transcript")
		}
		for i := n - 1; i >= 0; i-- {
			c := buf[i]
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			}
			if closeAt < 0 {
				if c != ']' {
					return 0, false, errors.Wrapf(errMalformedArray, "expected ']' at end of transcript, found %q", c)
				}
				closeAt = pos + i
				continue
			}
			return closeAt, c == '[', nil
		}
	}
	return 0, false, errMalformedArray
}

// replaceFile writes data next to path and renames it into place.
func (s *FileStore) replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write temp transcript")
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.Wrap(err, "replace transcript")
	}
	return nil
}

func (s *FileStore) load(path string) ([]*activity.Activity, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*activity.Activity{}, nil
		}
		return nil, errors.Wrapf(err, "%s: read %s", fileComponent, path)
	}
	entries, err := activity.UnmarshalArray(data)
	if err != nil {
		return nil, &corruptError{where: path, err: err}
	}
	return entries, nil
}

func (s *FileStore) loadIDs(path string) (map[string]struct{}, error) {
	if ids, ok := s.ids[path]; ok {
		return ids, nil
	}
	entries, err := s.load(path)
	if err != nil {
		return nil, err
	}
	ids := idSet(collectIDs(entries)...)
	s.ids[path] = ids
	return ids, nil
}

func (s *FileStore) GetTranscriptActivities(ctx context.Context, channelID, conversationID, continuationToken string, startDate time.Time) (PagedResult[*activity.Activity], error) {
	if s == nil {
		return PagedResult[*activity.Activity]{}, errors.New("file transcript store: nil store")
	}
	if err := checkContext(ctx); err != nil {
		return PagedResult[*activity.Activity]{}, err
	}
	if err := validateKey(fileComponent, channelID, conversationID); err != nil {
		return PagedResult[*activity.Activity]{}, err
	}
	path, err := s.transcriptPath(channelID, conversationID)
	if err != nil {
		return PagedResult[*activity.Activity]{}, err
	}

	s.mu.Lock()
	entries, err := s.load(path)
	s.mu.Unlock()
	if err != nil {
		return PagedResult[*activity.Activity]{}, err
	}
	return paginateActivities(entries, continuationToken, startDate), nil
}

// ListTranscripts reports conversations by their sanitized file names.
func (s *FileStore) ListTranscripts(ctx context.Context, channelID, continuationToken string) (PagedResult[TranscriptInfo], error) {
	if s == nil {
		return PagedResult[TranscriptInfo]{}, errors.New("file transcript store: nil store")
	}
	if err := checkContext(ctx); err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}
	if err := validateChannel(fileComponent, channelID); err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}
	dir, err := s.channelDir(channelID)
	if err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return paginateTranscripts(nil, continuationToken), nil
		}
		return PagedResult[TranscriptInfo]{}, errors.Wrapf(err, "%s: read %s", fileComponent, dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	infos := make([]TranscriptInfo, 0, len(files))
	for _, fi := range files {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), transcriptExt) {
			continue
		}
		entries, err := s.load(filepath.Join(dir, fi.Name()))
		if err != nil {
			return PagedResult[TranscriptInfo]{}, err
		}
		info := TranscriptInfo{
			ChannelID: channelID,
			ID:        strings.TrimSuffix(fi.Name(), transcriptExt),
		}
		if len(entries) > 0 {
			info.Created = entries[0].Timestamp
		}
		infos = append(infos, info)
	}
	return paginateTranscripts(infos, continuationToken), nil
}

func (s *FileStore) DeleteTranscript(ctx context.Context, channelID, conversationID string) error {
	if s == nil {
		return errors.New("file transcript store: nil store")
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateKey(fileComponent, channelID, conversationID); err != nil {
		return err
	}
	path, err := s.transcriptPath(channelID, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "%s: remove %s", fileComponent, path)
	}
	delete(s.ids, path)

	dir := filepath.Dir(path)
	if empty, err := afero.IsEmpty(s.fs, dir); err == nil && empty {
		_ = s.fs.Remove(dir)
	}
	log.Debug().Str("component", "file_transcript_store").Str("path", path).Msg("deleted transcript")
	return nil
}

func idSet(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

func collectIDs(entries []*activity.Activity) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
