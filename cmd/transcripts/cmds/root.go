package cmds

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/transcripts/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/transcripts/pkg/redisstream"
)

const (
	AppName   = "transcripts"
	EnvPrefix = "TRANSCRIPTS"
)

func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "transcripts records bot conversations and reads them back",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// reinitialize the logger because we can now parse --log-level and co
			return clay.InitLogger()
		},
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	if err := clay.InitViper(AppName, rootCmd); err != nil {
		return nil, errors.Wrap(err, "init viper")
	}

	logCmd, err := NewLogCommand()
	if err != nil {
		return nil, err
	}
	showCmd, err := NewShowCommand()
	if err != nil {
		return nil, err
	}
	listCmd, err := NewListCommand()
	if err != nil {
		return nil, err
	}
	deleteCmd, err := NewDeleteCommand()
	if err != nil {
		return nil, err
	}
	serveCmd, err := NewServeCommand()
	if err != nil {
		return nil, err
	}

	for _, c := range []glazed_cmds.Command{logCmd, showCmd, listCmd, deleteCmd, serveCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		if err != nil {
			return nil, errors.Wrapf(err, "build %s command", c.Description().Name)
		}
		rootCmd.AddCommand(cobraCmd)
	}
	return rootCmd, nil
}

func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

// glazeSections are the sections shared by every command that emits rows.
func glazeSections() ([]schema.Section, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	storeSection, err := transcriptstore.NewSection()
	if err != nil {
		return nil, err
	}
	return []schema.Section{glazedSection, commandSettingsSection, storeSection}, nil
}

func storeSettings(parsed *values.Values) (transcriptstore.Settings, error) {
	s := transcriptstore.Settings{}
	if err := parsed.DecodeSectionInto(transcriptstore.SectionSlug, &s); err != nil {
		return s, errors.Wrap(err, "init store settings")
	}
	return s, nil
}

func openStore(parsed *values.Values) (transcriptstore.Store, func(), error) {
	s, err := storeSettings(parsed)
	if err != nil {
		return nil, func() {}, err
	}
	return transcriptstore.Open(s)
}

func redisSettings(parsed *values.Values) (redisstream.Settings, error) {
	s := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &s); err != nil {
		return s, errors.Wrap(err, "init redis settings")
	}
	return s, nil
}
