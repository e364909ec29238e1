package cmds

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/transcripts/pkg/activity"
	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/transcripts/pkg/transcriptlogger"
)

const twoActivities = `[
  {"type":"message","id":"m1","timestamp":"2026-03-04T10:00:00Z","channelId":"test","conversation":{"id":"c1"},"from":{"id":"u1"},"text":"hi"},
  {"type":"message","id":"m2","timestamp":"2026-03-04T10:01:00Z","channelId":"test","conversation":{"id":"c1"},"from":{"id":"b1"},"text":"hello","custom":{"k":true}}
]`

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd, err := NewRootCommand()
	require.NoError(t, err)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

// isolate keeps config lookups away from the real home directory and returns
// a fresh store root.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return filepath.Join(home, "transcripts")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "activities.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openFileStore(t *testing.T, root string) transcriptstore.Store {
	t.Helper()
	s, cleanup, err := transcriptstore.Open(transcriptstore.Settings{Backend: transcriptstore.BackendFile, Root: root})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return s
}

func cell(t *testing.T, row types.Row, key string) interface{} {
	t.Helper()
	v, ok := row.Get(key)
	require.True(t, ok, key)
	return v
}

func TestCLI_LogAndDelete(t *testing.T) {
	root := isolate(t)
	input := writeFile(t, twoActivities)

	require.NoError(t, run(t, "log", input, "--direction", "incoming", "--store-root", root))
	require.NoError(t, run(t, "log", input, "--store-root", root))

	page, err := openFileStore(t, root).GetTranscriptActivities(context.Background(), "test", "c1", "", time.Time{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "user", page.Items[0].From.Role)
	require.JSONEq(t, `{"k":true}`, string(page.Items[1].Properties["custom"]))

	require.NoError(t, run(t, "show", "test", "c1", "--store-root", root))
	require.NoError(t, run(t, "list", "test", "--store-root", root))
	require.NoError(t, run(t, "delete", "test", "c1", "--store-root", root))

	list, err := openFileStore(t, root).ListTranscripts(context.Background(), "test", "")
	require.NoError(t, err)
	require.Empty(t, list.Items)
}

func TestCLI_StoreRootFromEnv(t *testing.T) {
	root := isolate(t)
	t.Setenv("TRANSCRIPTS_STORE_ROOT", root)

	require.NoError(t, run(t, "log", writeFile(t, twoActivities)))

	list, err := openFileStore(t, root).ListTranscripts(context.Background(), "test", "")
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, "c1", list.Items[0].ID)
}

func TestCLI_RejectsBadInput(t *testing.T) {
	root := isolate(t)
	require.Error(t, run(t, "show", "test", "c1", "--since", "yesterday", "--store-root", root))
	require.Error(t, run(t, "log", writeFile(t, "{broken"), "--store-root", root))
	require.Error(t, run(t, "log", writeFile(t, twoActivities), "--direction", "sideways", "--store-root", root))
	require.Error(t, run(t, "list", "test", "--store-backend", "tape", "--store-root", root))
}

func TestActivityRow(t *testing.T) {
	acts, err := activity.Decode(strings.NewReader(twoActivities))
	require.NoError(t, err)

	row, err := activityRow(acts[0], false)
	require.NoError(t, err)
	require.Equal(t, "m1", cell(t, row, "id"))
	require.Equal(t, "message", cell(t, row, "type"))
	require.Equal(t, "u1", cell(t, row, "from"))
	require.Equal(t, "2026-03-04T10:00:00Z", cell(t, row, "timestamp"))
	require.Equal(t, "hi", cell(t, row, "text"))

	full, err := activityRow(acts[1], true)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"k": true}, cell(t, full, "custom"))
	require.Equal(t, "test", cell(t, full, "channelId"))
}

func TestTranscriptRow(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	row := transcriptRow(transcriptstore.TranscriptInfo{ChannelID: "test", ID: "c1", Created: now.Add(-2 * time.Hour)}, now)
	require.Equal(t, "c1", cell(t, row, "conversation_id"))
	require.Equal(t, "2026-03-04T10:00:00Z", cell(t, row, "created"))
	require.Equal(t, "2 hours ago", cell(t, row, "age"))

	row = transcriptRow(transcriptstore.TranscriptInfo{ChannelID: "test", ID: "c2"}, now)
	require.Equal(t, "", cell(t, row, "age"))
}

func TestCollectPages(t *testing.T) {
	ctx := context.Background()
	store := transcriptstore.NewInMemoryStore()
	for i := range 45 {
		_, err := store.LogActivity(ctx, &activity.Activity{
			Type:         activity.TypeMessage,
			ID:           fmt.Sprintf("a%02d", i),
			Timestamp:    time.Date(2026, 3, 4, 10, 0, i, 0, time.UTC),
			ChannelID:    "test",
			Conversation: &activity.ConversationAccount{ID: "c1"},
		})
		require.NoError(t, err)
	}
	read := func(token string) (transcriptstore.PagedResult[*activity.Activity], error) {
		return store.GetTranscriptActivities(ctx, "test", "c1", token, time.Time{})
	}

	page, err := collectPages("", false, read)
	require.NoError(t, err)
	require.Len(t, page.Items, transcriptstore.PageSize)
	require.NotEmpty(t, page.ContinuationToken)

	page, err = collectPages("", true, read)
	require.NoError(t, err)
	require.Len(t, page.Items, 45)
	require.Empty(t, page.ContinuationToken)
	require.Equal(t, "a44", page.Items[44].ID)
}

func TestLogActivities(t *testing.T) {
	acts, err := readActivities(strings.NewReader(twoActivities), nil)
	require.NoError(t, err)
	require.Len(t, acts, 2)

	store := transcriptstore.NewInMemoryStore()
	l := transcriptlogger.New(store)
	logged := logActivities(context.Background(), l, directionOutgoing, acts)
	require.Len(t, logged, 2)
	require.Equal(t, transcriptstore.LogPersisted, logged[0].result.Status)
	require.Equal(t, "persisted", cell(t, logged[0].row(), "status"))

	logged = logActivities(context.Background(), l, directionAuto, acts)
	require.Equal(t, transcriptstore.LogDuplicate, logged[1].result.Status)

	page, err := store.GetTranscriptActivities(context.Background(), "test", "c1", "", time.Time{})
	require.NoError(t, err)
	require.Equal(t, "bot", page.Items[0].From.Role)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	got, err = parseSince("2h", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2026-03-01T00:00:00Z", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)
}
