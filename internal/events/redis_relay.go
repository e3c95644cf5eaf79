package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type relayNotice struct {
	Origin string `json:"origin"`
	Seq    int64  `json:"seq"`
}

// RedisRelay tells other instances that the log has grown. It carries only
// the new head: each instance reads the events themselves from the log, so
// ordering never depends on Redis delivery order.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	origin   string
	outbound chan int64
	logger   *zap.Logger
}

// NewRedisRelay wires a relay; call Run to start moving notices.
func NewRedisRelay(client *redis.Client, channel, origin string, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:   client,
		channel:  channel,
		origin:   origin,
		outbound: make(chan int64, 64),
		logger:   logger,
	}
}

// Announce queues the local head for other instances. It never blocks; a
// dropped notice only delays remote observers until their next poll.
func (r *RedisRelay) Announce(seq int64) {
	select {
	case r.outbound <- seq:
	default:
		r.logger.Debug("relay queue full; notice dropped", zap.Int64("seq", seq))
	}
}

// Run subscribes to the relay channel, sends queued notices and calls
// onRemote for every notice from another instance until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, onRemote func(seq int64)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close() //nolint:errcheck

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("event relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	inbound := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case seq := <-r.outbound:
			payload, err := json.Marshal(relayNotice{Origin: r.origin, Seq: seq})
			if err != nil {
				r.logger.Error("encode relay notice", zap.Error(err))
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.logger.Warn("relay publish failed", zap.Int64("seq", seq), zap.Error(err))
			}
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			seq, remote, err := r.decode(msg.Payload)
			if err != nil {
				r.logger.Warn("discarding relay message", zap.Error(err))
				continue
			}
			if remote {
				onRemote(seq)
			}
		}
	}
}

// decode reports the announced head and whether another instance sent it.
func (r *RedisRelay) decode(payload string) (int64, bool, error) {
	var notice relayNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		return 0, false, fmt.Errorf("decode relay notice: %w", err)
	}
	if notice.Origin == "" {
		return 0, false, errors.New("relay notice without origin")
	}
	return notice.Seq, notice.Origin != r.origin, nil
}
