package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const (
	SectionSlug  = "redis"
	DefaultTopic = "transcript-activities"
)

// Settings holds the activity transport configuration. With Redis disabled
// activities travel over an in-process channel.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled" glazed.default:"false" glazed.help:"Enable Redis Streams transport for activities"`
	Addr     string `glazed:"redis-addr" glazed.default:"localhost:6379" glazed.help:"Redis address host:port"`
	Group    string `glazed:"redis-group" glazed.default:"transcripts" glazed.help:"Redis consumer group"`
	Consumer string `glazed:"redis-consumer" glazed.default:"transcripts-1" glazed.help:"Redis consumer name"`
	Topic    string `glazed:"topic" glazed.default:"transcript-activities" glazed.help:"Topic activities are published on"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "transcripts",
		Consumer: "transcripts-1",
		Topic:    DefaultTopic,
	}
}

// NewSection returns the section definition for the transport settings.
func NewSection() (schema.Section, error) {
	d := DefaultSettings()
	return schema.NewSection(
		SectionSlug,
		"Redis Streams transport for activities",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Enable Redis Streams transport for activities")),
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault(d.Addr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault(d.Group),
				fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault(d.Consumer),
				fields.WithHelp("Redis consumer name")),
			fields.New("topic", fields.TypeString,
				fields.WithDefault(d.Topic),
				fields.WithHelp("Topic activities are published on")),
		),
	)
}
