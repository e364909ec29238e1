package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/transcripts/pkg/logging"
	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/transcripts/pkg/redisstream"
	"github.com/go-go-golems/transcripts/pkg/transcriptlogger"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ServeCommand{}

func NewServeCommand() (*ServeCommand, error) {
	storeSection, err := transcriptstore.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build store section")
	}
	redisSection, err := redisstream.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}

	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Store activities published on the topic until interrupted"),
		cmds.WithSections(storeSection, redisSection),
	)
	return &ServeCommand{CommandDescription: desc}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsedLayers *values.Values) error {
	ss, err := storeSettings(parsedLayers)
	if err != nil {
		return err
	}
	rs, err := redisSettings(parsedLayers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, ss, rs)
}

func serve(ctx context.Context, ss transcriptstore.Settings, rs redisstream.Settings) error {
	if !rs.Enabled {
		log.Warn().Msg("redis is disabled; serve only receives activities published in this process")
	}

	store, cleanup, err := transcriptstore.Open(ss)
	defer cleanup()
	if err != nil {
		return err
	}

	logger := logging.NewWatermill(log.Logger)
	transport, err := redisstream.BuildTransport(rs, logger)
	if err != nil {
		return errors.Wrap(err, "create transport")
	}
	defer func() { _ = transport.Close() }()
	if err := transport.EnsureGroup(ctx, rs.Topic, rs.Group); err != nil {
		return err
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, logger)
	if err != nil {
		return errors.Wrap(err, "create router")
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
	)
	router.AddNoPublisherHandler("persist-transcripts", rs.Topic, transport.Subscriber,
		transcriptlogger.PersistFunc(transcriptlogger.New(store)))

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		log.Info().
			Str("topic", rs.Topic).
			Str("backend", ss.Backend).
			Bool("redis", rs.Enabled).
			Msg("serving transcripts")
		return router.Run(ctx)
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("transcript server stopped")
	return nil
}
