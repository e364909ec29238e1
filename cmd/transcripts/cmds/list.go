package cmds

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
)

type ListCommand struct {
	*cmds.CommandDescription
}

type ListSettings struct {
	Channel string `glazed:"channel"`
	Token   string `glazed:"token"`
	All     bool   `glazed:"all"`
}

var _ cmds.GlazeCommand = &ListCommand{}

func NewListCommand() (*ListCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List the conversations stored for a channel"),
		cmds.WithArguments(
			fields.New("channel", fields.TypeString,
				fields.WithRequired(true),
				fields.WithHelp("Channel id")),
		),
		cmds.WithFlags(
			fields.New("token", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Continuation token from a previous page")),
			fields.New("all", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Follow continuation tokens and print every page")),
		),
		cmds.WithSections(sections...),
	)
	return &ListCommand{CommandDescription: desc}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ListSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}

	store, cleanup, err := openStore(parsedLayers)
	defer cleanup()
	if err != nil {
		return err
	}

	page, err := collectPages(s.Token, s.All, func(token string) (transcriptstore.PagedResult[transcriptstore.TranscriptInfo], error) {
		return store.ListTranscripts(ctx, s.Channel, token)
	})
	if err != nil {
		return err
	}
	now := time.Now()
	for _, info := range page.Items {
		if err := gp.AddRow(ctx, transcriptRow(info, now)); err != nil {
			return err
		}
	}
	reportToken(page.ContinuationToken)
	return nil
}

func transcriptRow(info transcriptstore.TranscriptInfo, now time.Time) types.Row {
	age := ""
	if !info.Created.IsZero() {
		age = humanize.RelTime(info.Created, now, "ago", "from now")
	}
	return types.NewRow(
		types.MRP("channel_id", info.ChannelID),
		types.MRP("conversation_id", info.ID),
		types.MRP("created", formatTime(info.Created)),
		types.MRP("age", age),
	)
}
