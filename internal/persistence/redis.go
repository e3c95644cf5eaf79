package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/config"
)

// Redis carries the pub/sub connection used to fan events out between
// engine instances. The engine keeps no state in Redis, so an unreachable
// server at startup is logged and the relay reconnects on its own.
type Redis struct {
	Client *redis.Client
	addr   string
}

// NewRedis builds the client. clientName shows up in CLIENT LIST so
// operators can tell instances apart.
func NewRedis(ctx context.Context, cfg config.RedisConfig, clientName string, logger *zap.Logger) *Redis {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: clientName,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	r := &Redis{Client: redis.NewClient(opts), addr: cfg.Addr}

	if err := r.Ping(ctx); err != nil {
		logger.Warn("redis not reachable; relay will retry", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}
	return r
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity for readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", r.addr, err)
	}
	return nil
}
