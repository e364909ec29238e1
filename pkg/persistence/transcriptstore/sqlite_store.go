package transcriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/transcripts/pkg/activity"
)

const sqliteComponent = "sqlite transcript store"

// SQLiteStore keeps every activity as a row, ordered within its conversation
// by an insertion sequence number. Rows are replaced in place for updates and
// deletes, so seq is the log position.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN for a database file. Transactions take the
// write lock up front so concurrent loggers queue on busy_timeout instead of
// failing on lock upgrade.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_activities (
		  channel_id TEXT NOT NULL,
		  conversation_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  activity_id TEXT NOT NULL DEFAULT '',
		  activity_type TEXT NOT NULL DEFAULT '',
		  activity_json TEXT NOT NULL,
		  PRIMARY KEY (channel_id, conversation_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_activities_by_id
		  ON transcript_activities(channel_id, conversation_id, activity_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) LogActivity(ctx context.Context, a *activity.Activity) (LogResult, error) {
	if s == nil || s.db == nil {
		return LogResult{Status: LogFailed}, errors.New("sqlite transcript store: db is nil")
	}
	if err := checkContext(ctx); err != nil {
		return LogResult{Status: LogCanceled}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateActivity(sqliteComponent, a); err != nil {
		return LogResult{Status: LogInvalidInput}, err
	}
	// past this point the write completes even if the caller gives up
	ctx = context.WithoutCancel(ctx)
	convID := a.ConversationID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq   int64
		match *activity.Activity
	)
	if a.ID != "" {
		var raw string
		err := tx.QueryRowContext(ctx, `
			SELECT seq, activity_json FROM transcript_activities
			WHERE channel_id = ? AND conversation_id = ? AND activity_id = ?
			ORDER BY seq ASC LIMIT 1
		`, a.ChannelID, convID, a.ID).Scan(&seq, &raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: lookup activity")
		default:
			match = &activity.Activity{}
			if err := json.Unmarshal([]byte(raw), match); err != nil {
				return LogResult{Status: LogCorrupt, Attempts: 1}, &corruptError{where: sqliteComponent, err: err}
			}
		}
	}

	var replacement *activity.Activity
	switch planLog(a, match) {
	case actionDuplicate:
		return LogResult{Status: LogDuplicate, Attempts: 1}, nil
	case actionTombstone:
		replacement = match.Tombstone()
	case actionUpdate:
		replacement = activity.MergeUpdate(match, a)
	}

	if replacement != nil {
		body, err := json.Marshal(replacement)
		if err != nil {
			return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: marshal activity")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE transcript_activities SET activity_type = ?, activity_json = ?
			WHERE channel_id = ? AND conversation_id = ? AND seq = ?
		`, string(replacement.EffectiveType()), string(body), a.ChannelID, convID, seq)
		if err != nil {
			return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: update activity")
		}
	} else {
		body, err := json.Marshal(a)
		if err != nil {
			return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: marshal activity")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transcript_activities (
			  channel_id, conversation_id, seq, activity_id, activity_type, activity_json
			)
			SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
			FROM transcript_activities
			WHERE channel_id = ? AND conversation_id = ?
		`, a.ChannelID, convID, a.ID, string(a.EffectiveType()), string(body), a.ChannelID, convID)
		if err != nil {
			return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: insert activity")
		}
	}

	if err := tx.Commit(); err != nil {
		return LogResult{Status: LogFailed, Attempts: 1}, errors.Wrap(err, "sqlite transcript store: commit")
	}
	return LogResult{Status: LogPersisted, Attempts: 1}, nil
}

func (s *SQLiteStore) GetTranscriptActivities(ctx context.Context, channelID, conversationID, continuationToken string, startDate time.Time) (PagedResult[*activity.Activity], error) {
	if s == nil || s.db == nil {
		return PagedResult[*activity.Activity]{}, errors.New("sqlite transcript store: db is nil")
	}
	if err := checkContext(ctx); err != nil {
		return PagedResult[*activity.Activity]{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateKey(sqliteComponent, channelID, conversationID); err != nil {
		return PagedResult[*activity.Activity]{}, err
	}

	rows, err := s.db.QueryContext(context.WithoutCancel(ctx), `
		SELECT activity_json FROM transcript_activities
		WHERE channel_id = ? AND conversation_id = ?
		ORDER BY seq ASC
	`, channelID, conversationID)
	if err != nil {
		return PagedResult[*activity.Activity]{}, errors.Wrap(err, "sqlite transcript store: query activities")
	}
	defer func() { _ = rows.Close() }()

	entries := []*activity.Activity{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return PagedResult[*activity.Activity]{}, errors.Wrap(err, "sqlite transcript store: scan activity")
		}
		a := &activity.Activity{}
		if err := json.Unmarshal([]byte(raw), a); err != nil {
			return PagedResult[*activity.Activity]{}, &corruptError{where: sqliteComponent, err: err}
		}
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return PagedResult[*activity.Activity]{}, errors.Wrap(err, "sqlite transcript store: iterate activities")
	}
	return paginateActivities(entries, continuationToken, startDate), nil
}

// ListTranscripts takes each conversation's creation time from its first row.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, channelID, continuationToken string) (PagedResult[TranscriptInfo], error) {
	if s == nil || s.db == nil {
		return PagedResult[TranscriptInfo]{}, errors.New("sqlite transcript store: db is nil")
	}
	if err := checkContext(ctx); err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateChannel(sqliteComponent, channelID); err != nil {
		return PagedResult[TranscriptInfo]{}, err
	}

	rows, err := s.db.QueryContext(context.WithoutCancel(ctx), `
		SELECT t.conversation_id, t.activity_json
		FROM transcript_activities t
		JOIN (
		  SELECT conversation_id, MIN(seq) AS first_seq
		  FROM transcript_activities
		  WHERE channel_id = ?
		  GROUP BY conversation_id
		) f ON t.conversation_id = f.conversation_id AND t.seq = f.first_seq
		WHERE t.channel_id = ?
		ORDER BY t.rowid ASC
	`, channelID, channelID)
	if err != nil {
		return PagedResult[TranscriptInfo]{}, errors.Wrap(err, "sqlite transcript store: query transcripts")
	}
	defer func() { _ = rows.Close() }()

	infos := []TranscriptInfo{}
	for rows.Next() {
		var convID, raw string
		if err := rows.Scan(&convID, &raw); err != nil {
			return PagedResult[TranscriptInfo]{}, errors.Wrap(err, "sqlite transcript store: scan transcript")
		}
		var first activity.Activity
		if err := json.Unmarshal([]byte(raw), &first); err != nil {
			return PagedResult[TranscriptInfo]{}, &corruptError{where: sqliteComponent, err: err}
		}
		infos = append(infos, TranscriptInfo{ChannelID: channelID, ID: convID, Created: first.Timestamp})
	}
	if err := rows.Err(); err != nil {
		return PagedResult[TranscriptInfo]{}, errors.Wrap(err, "sqlite transcript store: iterate transcripts")
	}
	return paginateTranscripts(infos, continuationToken), nil
}

func (s *SQLiteStore) DeleteTranscript(ctx context.Context, channelID, conversationID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateKey(sqliteComponent, channelID, conversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(context.WithoutCancel(ctx), `
		DELETE FROM transcript_activities WHERE channel_id = ? AND conversation_id = ?
	`, channelID, conversationID)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: delete transcript")
	}
	return nil
}
