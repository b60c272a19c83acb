package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/logger"
)

// RedisDispatcher publishes status-change payloads on a Redis channel that
// the mail function subscribes to.
type RedisDispatcher struct {
	rdb     *goredis.Client
	channel string
}

func NewRedisDispatcher(ctx context.Context, addr, channel string) (*RedisDispatcher, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "order-status-emails"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisDispatcher(rdb, channel), nil
}

func newRedisDispatcher(rdb *goredis.Client, channel string) *RedisDispatcher {
	return &RedisDispatcher{rdb: rdb, channel: channel}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, change *entity.OrderStatusChange) error {
	if d == nil || d.rdb == nil {
		return fmt.Errorf("redis dispatcher not initialized")
	}
	raw, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return d.rdb.Publish(ctx, d.channel, raw).Err()
}

func (d *RedisDispatcher) Close() error {
	if d == nil || d.rdb == nil {
		return nil
	}
	return d.rdb.Close()
}

// LogDispatcher only logs the payload. Used when no Redis is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(ctx context.Context, change *entity.OrderStatusChange) error {
	logger.With("order_id", change.OrderID, "status", change.NewStatus, "recipient", change.RecipientEmail).
		Info("order status email (log only)")
	return nil
}
