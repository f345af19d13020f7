package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is where relayed updates are published.
const DefaultRedisChannel = "account-updates"

// Client is the subset of *redis.Client used by the relay.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisRelay shares live updates between API instances over a redis pub/sub
// channel. Run publishes the updates this instance projects; Consume feeds
// the updates other instances projected into the local broker.
type RedisRelay struct {
	broker   *Broker
	client   Client
	channel  string
	instance string
	logger   *zap.Logger
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	Update Update `json:"update"`
}

func NewRedisRelay(broker *Broker, client Client, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.L()
	}
	return &RedisRelay{
		broker:   broker,
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		logger:   logger.With(zap.String("channel", channel)),
	}
}

// Run publishes local updates until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.broker.Subscribe(All())
	defer sub.Close()

	r.logger.Info("redis relay started", zap.String("instance", r.instance))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("redis relay stopped")
			return
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if u.Origin != "" {
				continue
			}
			r.forward(ctx, u)
		}
	}
}

// Consume subscribes to the channel and republishes updates from other
// instances locally until ctx is done.
func (r *RedisRelay) Consume(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("redis relay consuming")

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.accept(msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, u Update) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.instance, Update: u})
	if err != nil {
		r.logger.Warn("marshal live update", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("redis publish failed", zap.Error(err), zap.String("account_id", u.AccountID))
	}
}

func (r *RedisRelay) accept(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("decode relayed update", zap.Error(err))
		return
	}
	if env.Origin == "" || env.Origin == r.instance {
		return
	}
	u := env.Update
	u.Origin = env.Origin
	r.broker.Publish(u)
}
