package cmds

import (
	"context"
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/transcripts/pkg/activity"
	"github.com/go-go-golems/transcripts/pkg/logging"
	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/transcripts/pkg/redisstream"
	"github.com/go-go-golems/transcripts/pkg/transcriptlogger"
)

const (
	directionAuto     = "auto"
	directionIncoming = "incoming"
	directionOutgoing = "outgoing"
)

type LogCommand struct {
	*cmds.CommandDescription
	stdin io.Reader
}

type LogSettings struct {
	Files     []string `glazed:"files"`
	Direction string   `glazed:"direction"`
	Publish   bool     `glazed:"publish"`
}

var _ cmds.GlazeCommand = &LogCommand{}

func NewLogCommand() (*LogCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	redisSection, err := redisstream.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}

	desc := cmds.NewCommandDescription(
		"log",
		cmds.WithShort("Record activities read from JSON files or stdin"),
		cmds.WithLong(`Reads activities as a JSON array, a single object or one object per line.
With no FILE, or when FILE is -, reads standard input.

With --publish the activities are sent to the configured topic for a
"serve" process to store, instead of being written directly.`),
		cmds.WithArguments(
			fields.New("files", fields.TypeStringList,
				fields.WithDefault([]string{}),
				fields.WithHelp("Files to read activities from")),
		),
		cmds.WithFlags(
			fields.New("direction", fields.TypeChoice,
				fields.WithChoices(directionAuto, directionIncoming, directionOutgoing),
				fields.WithDefault(directionAuto),
				fields.WithHelp("Sender role to fill in when missing: incoming (user) or outgoing (bot)")),
			fields.New("publish", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Publish to the topic instead of writing to the store")),
		),
		cmds.WithSections(append(sections, redisSection)...),
	)
	return &LogCommand{CommandDescription: desc, stdin: os.Stdin}, nil
}

func (c *LogCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &LogSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	activities, err := readActivities(c.stdin, s.Files)
	if err != nil {
		return err
	}

	if s.Publish {
		rs, err := redisSettings(parsedLayers)
		if err != nil {
			return err
		}
		return publishActivities(ctx, rs, activities, gp)
	}

	store, cleanup, err := openStore(parsedLayers)
	defer cleanup()
	if err != nil {
		return err
	}

	var failed error
	for _, act := range logActivities(ctx, transcriptlogger.New(store), s.Direction, activities) {
		if act.err != nil && failed == nil {
			failed = act.err
		}
		if err := gp.AddRow(ctx, act.row()); err != nil {
			return err
		}
	}
	return failed
}

type loggedActivity struct {
	activity *activity.Activity
	result   transcriptstore.LogResult
	err      error
}

func (l loggedActivity) row() types.Row {
	errText := ""
	if l.err != nil {
		errText = l.err.Error()
	}
	return types.NewRow(
		types.MRP("id", l.activity.ID),
		types.MRP("conversation_id", l.activity.ConversationID()),
		types.MRP("status", l.result.Status.String()),
		types.MRP("attempts", l.result.Attempts),
		types.MRP("error", errText),
	)
}

func logActivities(ctx context.Context, l *transcriptlogger.Logger, direction string, activities []*activity.Activity) []loggedActivity {
	out := make([]loggedActivity, 0, len(activities))
	for _, act := range activities {
		var (
			res transcriptstore.LogResult
			err error
		)
		switch direction {
		case directionIncoming:
			res, err = l.LogIncoming(ctx, act)
		case directionOutgoing:
			res, err = l.LogOutgoing(ctx, act)
		default:
			res, err = l.Log(ctx, act)
		}
		out = append(out, loggedActivity{activity: act, result: res, err: err})
	}
	return out
}

func readActivities(stdin io.Reader, files []string) ([]*activity.Activity, error) {
	if len(files) == 0 {
		files = []string{"-"}
	}
	var out []*activity.Activity
	for _, name := range files {
		acts, err := decodeFile(stdin, name)
		if err != nil {
			return nil, err
		}
		out = append(out, acts...)
	}
	return out, nil
}

func decodeFile(stdin io.Reader, name string) ([]*activity.Activity, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", name)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	acts, err := activity.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return acts, nil
}

func publishActivities(ctx context.Context, rs redisstream.Settings, activities []*activity.Activity, gp middlewares.Processor) error {
	transport, err := redisstream.BuildTransport(rs, logging.NewWatermill(log.Logger))
	if err != nil {
		return errors.Wrap(err, "create transport")
	}
	defer func() { _ = transport.Close() }()

	for _, act := range activities {
		if err := transcriptlogger.Publish(transport.Publisher, rs.Topic, act); err != nil {
			return err
		}
		row := types.NewRow(
			types.MRP("id", act.ID),
			types.MRP("conversation_id", act.ConversationID()),
			types.MRP("status", "published"),
			types.MRP("topic", rs.Topic),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	log.Info().Str("topic", rs.Topic).Int("count", len(activities)).Bool("redis", rs.Enabled).Msg("published activities")
	return nil
}
