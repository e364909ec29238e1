package transcriptstore

import (
	"slices"
	"time"

	"github.com/go-go-golems/transcripts/pkg/activity"
)

// PageSize is the number of items returned per page.
const PageSize = 20

// paginate applies the shared cursor rules: stable sort by key, filter,
// resume strictly after the item whose id equals token, take PageSize.
// A full page carries the id of its last item as the next token, so a
// collection whose size is a multiple of PageSize ends with an empty page.
// A token that matches nothing yields an empty page.
func paginate[T any](items []T, key func(T) time.Time, id func(T) string, keep func(T) bool, token string) PagedResult[T] {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return key(a).Compare(key(b))
	})

	filtered := make([]T, 0, len(sorted))
	for _, it := range sorted {
		if keep == nil || keep(it) {
			filtered = append(filtered, it)
		}
	}

	start := 0
	if token != "" {
		start = len(filtered)
		for i, it := range filtered {
			if id(it) == token {
				start = i + 1
				break
			}
		}
	}
	end := min(start+PageSize, len(filtered))

	page := make([]T, 0, end-start)
	page = append(page, filtered[start:end]...)

	res := PagedResult[T]{Items: page}
	if len(page) == PageSize {
		res.ContinuationToken = id(page[len(page)-1])
	}
	return res
}

func paginateActivities(entries []*activity.Activity, token string, startDate time.Time) PagedResult[*activity.Activity] {
	return paginate(entries,
		func(a *activity.Activity) time.Time { return a.Timestamp },
		func(a *activity.Activity) string { return a.ID },
		func(a *activity.Activity) bool { return !a.Timestamp.Before(startDate) },
		token,
	)
}

func paginateTranscripts(infos []TranscriptInfo, token string) PagedResult[TranscriptInfo] {
	return paginate(infos,
		func(i TranscriptInfo) time.Time { return i.Created },
		func(i TranscriptInfo) string { return i.ID },
		nil,
		token,
	)
}

func cloneActivities(entries []*activity.Activity) []*activity.Activity {
	out := make([]*activity.Activity, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Clone())
	}
	return out
}
