package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/rs/zerolog/log"
)

type DeleteCommand struct {
	*cmds.CommandDescription
}

type DeleteSettings struct {
	Channel       string   `glazed:"channel"`
	Conversations []string `glazed:"conversations"`
}

var _ cmds.GlazeCommand = &DeleteCommand{}

func NewDeleteCommand() (*DeleteCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"delete",
		cmds.WithShort("Delete conversation transcripts"),
		cmds.WithLong("Delete the transcripts of one or more conversations. Missing transcripts are not an error."),
		cmds.WithArguments(
			fields.New("channel", fields.TypeString,
				fields.WithRequired(true),
				fields.WithHelp("Channel id")),
			fields.New("conversations", fields.TypeStringList,
				fields.WithRequired(true),
				fields.WithHelp("Conversation ids")),
		),
		cmds.WithSections(sections...),
	)
	return &DeleteCommand{CommandDescription: desc}, nil
}

func (c *DeleteCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &DeleteSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}

	store, cleanup, err := openStore(parsedLayers)
	defer cleanup()
	if err != nil {
		return err
	}

	for _, convID := range s.Conversations {
		if err := store.DeleteTranscript(ctx, s.Channel, convID); err != nil {
			return err
		}
		log.Debug().Str("channel_id", s.Channel).Str("conversation_id", convID).Msg("deleted transcript")
		row := types.NewRow(
			types.MRP("channel_id", s.Channel),
			types.MRP("conversation_id", convID),
			types.MRP("status", "deleted"),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
