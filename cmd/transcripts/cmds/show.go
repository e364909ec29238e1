package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/transcripts/pkg/activity"
	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
)

type ShowCommand struct {
	*cmds.CommandDescription
}

type ShowSettings struct {
	Channel      string `glazed:"channel"`
	Conversation string `glazed:"conversation"`
	Token        string `glazed:"token"`
	Since        string `glazed:"since"`
	All          bool   `glazed:"all"`
	Full         bool   `glazed:"full"`
}

var _ cmds.GlazeCommand = &ShowCommand{}

func NewShowCommand() (*ShowCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"show",
		cmds.WithShort("Print a page of a conversation's transcript"),
		cmds.WithLong(`Print the activities of one conversation, oldest first, one row per activity.
When more pages exist the continuation token is printed on stderr.`),
		cmds.WithArguments(
			fields.New("channel", fields.TypeString,
				fields.WithRequired(true),
				fields.WithHelp("Channel id")),
			fields.New("conversation", fields.TypeString,
				fields.WithRequired(true),
				fields.WithHelp("Conversation id")),
		),
		cmds.WithFlags(
			fields.New("token", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Continuation token from a previous page")),
			fields.New("since", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only activities at or after this time (RFC3339, or a duration like 2h meaning that long ago)")),
			fields.New("all", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Follow continuation tokens and print every page")),
			fields.New("full", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Emit every stored field of each activity")),
		),
		cmds.WithSections(sections...),
	)
	return &ShowCommand{CommandDescription: desc}, nil
}

func (c *ShowCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ShowSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	startDate, err := parseSince(s.Since, time.Now())
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(parsedLayers)
	defer cleanup()
	if err != nil {
		return err
	}

	page, err := collectPages(s.Token, s.All, func(token string) (transcriptstore.PagedResult[*activity.Activity], error) {
		return store.GetTranscriptActivities(ctx, s.Channel, s.Conversation, token, startDate)
	})
	if err != nil {
		return err
	}
	for _, a := range page.Items {
		row, err := activityRow(a, s.Full)
		if err != nil {
			return err
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	reportToken(page.ContinuationToken)
	return nil
}

// collectPages reads the page at token and, with all set, every page after it.
func collectPages[T any](
	token string,
	all bool,
	read func(token string) (transcriptstore.PagedResult[T], error),
) (transcriptstore.PagedResult[T], error) {
	page, err := read(token)
	if err != nil {
		return page, err
	}
	for all && page.ContinuationToken != "" {
		next, err := read(page.ContinuationToken)
		if err != nil {
			return page, err
		}
		page = transcriptstore.PagedResult[T]{
			Items:             append(page.Items, next.Items...),
			ContinuationToken: next.ContinuationToken,
		}
	}
	return page, nil
}

func reportToken(token string) {
	if token == "" {
		return
	}
	_, _ = fmt.Fprintf(os.Stderr, "next page: --token %s\n", token)
}

// activityRow flattens a to a summary row, or with full set to a row holding
// every wire field including extension properties.
func activityRow(a *activity.Activity, full bool) (types.Row, error) {
	if full {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, errors.Wrapf(err, "encode activity %s", a.ID)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, errors.Wrapf(err, "decode activity %s", a.ID)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		row := types.NewRow()
		for _, k := range keys {
			row.Set(k, m[k])
		}
		return row, nil
	}

	var from, role string
	if a.From != nil {
		from, role = a.From.ID, a.From.Role
	}
	return types.NewRow(
		types.MRP("id", a.ID),
		types.MRP("type", string(a.EffectiveType())),
		types.MRP("from", from),
		types.MRP("role", role),
		types.MRP("timestamp", formatTime(a.Timestamp)),
		types.MRP("text", a.Text),
	), nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid --since %q: want RFC3339 time or a duration", s)
	}
	return t, nil
}
