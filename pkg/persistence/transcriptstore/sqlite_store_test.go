package transcriptstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/transcripts/pkg/activity"
)

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	mustLog(t, s, msg("c1", "m1", t0, "hello"))
	del := msg("c1", "m1", t0.Add(time.Minute), "")
	del.Type = activity.TypeMessageDelete
	mustLog(t, s, del)
	mustLog(t, s, msg("c1", "m2", t0.Add(time.Second), "world"))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	items := readAll(t, s2, "c1")
	require.Equal(t, []string{"m1", "m2"}, ids(items))
	require.True(t, items[0].IsTombstone())
	require.Equal(t, "world", items[1].Text)

	// the sequence continues after reopening
	mustLog(t, s2, msg("c1", "m3", t0.Add(2*time.Second), "!"))
	require.Equal(t, []string{"m1", "m2", "m3"}, ids(readAll(t, s2, "c1")))
}

func TestSQLiteStore_ChannelsAreIsolated(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	a := msg("shared", "m1", t0, "test channel")
	mustLog(t, s, a)
	b := msg("shared", "m1", t0, "other channel")
	b.ChannelID = "other"
	require.Equal(t, LogPersisted, mustLog(t, s, b).Status)

	page, err := s.GetTranscriptActivities(context.Background(), "other", "shared", "", time.Time{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "other channel", page.Items[0].Text)

	require.NoError(t, s.DeleteTranscript(context.Background(), "other", "shared"))
	require.Len(t, readAll(t, s, "shared"), 1)
}

func TestSQLiteStore_RejectsEmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore("")
	require.Error(t, err)
	_, err = SQLiteDSNForFile("")
	require.Error(t, err)

	var nilStore *SQLiteStore
	require.NoError(t, nilStore.Close())
	_, err = nilStore.LogActivity(context.Background(), msg("c1", "m1", t0, "x"))
	require.Error(t, err)
}
