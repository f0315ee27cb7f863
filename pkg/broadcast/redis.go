package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// DefaultRedisChannel is the pub/sub channel events are relayed to.
const DefaultRedisChannel = "pandorabox:events"

// Publisher is the subset of *redis.Client used by the relay.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisRelay republishes every broadcast event on a Redis channel so other services can consume them.
// It registers as an ordinary subscriber and is subject to the same drop-oldest policy.
type RedisRelay struct {
	broadcaster *Broadcaster
	client      Publisher
	channel     string
	log         *logging.Logger
}

// NewRedisRelay creates a relay. An empty channel selects DefaultRedisChannel.
func NewRedisRelay(b *Broadcaster, client Publisher, channel string, log *logging.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RedisRelay{broadcaster: b, client: client, channel: channel, log: log}
}

// NewRedisClient parses a redis:// URL and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Run relays events until ctx is cancelled. Publish failures are logged and skipped.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.broadcaster.Subscribe("redis")
	defer r.broadcaster.Unsubscribe(sub.ID())

	r.log.Infof("relaying events to redis channel %s", r.channel)
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if ev.Type == types.EventTypeWelcome {
			continue
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			r.log.Errorf("failed to marshal event %s: %v", ev.Type, err)
			continue
		}
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			r.log.Warnf("redis publish failed: channel=%s type=%s err=%v", r.channel, ev.Type, err)
		}
	}
}
