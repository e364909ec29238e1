package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Transport is a publisher/subscriber pair plus whatever must be closed with it.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	client     redis.UniversalClient
}

// Close closes the publisher, the subscriber and the Redis client.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if t.Subscriber != nil {
		keep(t.Subscriber.Close())
	}
	if t.Publisher != nil && any(t.Publisher) != any(t.Subscriber) {
		keep(t.Publisher.Close())
	}
	if t.client != nil {
		keep(t.client.Close())
	}
	return first
}

// BuildTransport returns a Redis Streams transport when enabled. Otherwise it
// returns an in-process gochannel pub/sub, which only reaches subscribers in
// the same process.
func BuildTransport(s Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	if !s.Enabled {
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return &Transport{Publisher: pubSub, Subscriber: pubSub}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}

	return &Transport{Publisher: pub, Subscriber: sub, client: client}, nil
}

// EnsureGroup creates the consumer group on stream if it is missing. The
// group starts at the beginning of the stream so activities published before
// the first serve are still stored. The in-process transport has no groups.
func (t *Transport) EnsureGroup(ctx context.Context, stream, group string) error {
	if t == nil || t.client == nil {
		return nil
	}
	err := t.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group")
	return nil
}
