package transcriptstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func infosAt(n int, ts func(i int) time.Time) []TranscriptInfo {
	out := make([]TranscriptInfo, 0, n)
	for i := range n {
		out = append(out, TranscriptInfo{ChannelID: "test", ID: fmt.Sprintf("c%02d", i), Created: ts(i)})
	}
	return out
}

func TestPaginate_WalksAllPages(t *testing.T) {
	infos := infosAt(45, func(i int) time.Time { return t0.Add(time.Duration(45-i) * time.Second) })

	var seen []string
	token := ""
	pages := 0
	for {
		page := paginateTranscripts(infos, token)
		pages++
		for _, it := range page.Items {
			seen = append(seen, it.ID)
		}
		if page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}
	require.Equal(t, 3, pages)
	require.Len(t, seen, 45)
	// newest-created last
	require.Equal(t, "c44", seen[0])
	require.Equal(t, "c00", seen[44])
}

func TestPaginate_StableForEqualKeys(t *testing.T) {
	infos := infosAt(3, func(int) time.Time { return t0 })
	infos[0].ID, infos[2].ID = "z", "a"

	page := paginateTranscripts(infos, "")
	require.Equal(t, "z", page.Items[0].ID)
	require.Equal(t, "c01", page.Items[1].ID)
	require.Equal(t, "a", page.Items[2].ID)
}

func TestPaginate_DoesNotReorderInput(t *testing.T) {
	infos := infosAt(3, func(i int) time.Time { return t0.Add(-time.Duration(i) * time.Second) })
	_ = paginateTranscripts(infos, "")
	require.Equal(t, "c00", infos[0].ID)
}

func TestPaginate_EmptyInput(t *testing.T) {
	page := paginateTranscripts(nil, "")
	require.NotNil(t, page.Items)
	require.Empty(t, page.Items)
	require.Empty(t, page.ContinuationToken)

	page = paginateTranscripts(nil, "whatever")
	require.Empty(t, page.Items)
}

func TestLogStatus_String(t *testing.T) {
	require.Equal(t, "persisted", LogPersisted.String())
	require.Equal(t, "retries-exhausted", LogRetriesExhausted.String())
	require.Equal(t, "LogStatus(99)", LogStatus(99).String())
}
