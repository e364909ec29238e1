package transcriptstore

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "store"

// NewSection returns the section definition for Settings.
func NewSection() (schema.Section, error) {
	d := DefaultSettings()
	return schema.NewSection(
		SectionSlug,
		"Transcript store",
		schema.WithFields(
			fields.New("store-backend", fields.TypeChoice,
				fields.WithChoices(BackendFile, BackendSQLite, BackendMemory),
				fields.WithDefault(d.Backend),
				fields.WithHelp("Transcript store backend")),
			fields.New("store-root", fields.TypeString,
				fields.WithDefault(d.Root),
				fields.WithHelp("Root folder of the file store")),
			fields.New("unit-test-mode", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Overwrite each transcript file on its first write")),
			fields.New("retry-attempts", fields.TypeInteger,
				fields.WithDefault(d.RetryAttempts),
				fields.WithHelp("Write attempts per activity in the file store")),
			fields.New("retry-interval-ms", fields.TypeInteger,
				fields.WithDefault(d.RetryIntervalMS),
				fields.WithHelp("Pause between file store write attempts, in milliseconds")),
			fields.New("sqlite-db", fields.TypeString,
				fields.WithDefault(d.SQLiteDB),
				fields.WithHelp("SQLite database file")),
			fields.New("sqlite-dsn", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("SQLite DSN, overrides --sqlite-db")),
		),
	)
}
