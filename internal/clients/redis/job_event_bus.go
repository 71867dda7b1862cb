package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/services"
)

// JobEventBus fans batch-run progress events out over a redis pub/sub channel
// so dashboards and other processes can follow long runs live.
type JobEventBus interface {
	services.JobEventPublisher
	StartForwarder(ctx context.Context, onEvent func(e services.JobEvent)) error
	Close() error
}

type jobEventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewJobEventBus(log *logger.Logger) (JobEventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_JOB_CHANNEL"))
	if ch == "" {
		ch = "job-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &jobEventBus{
		log:     log.With("service", "RedisJobEventBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *jobEventBus) PublishJobEvent(ctx context.Context, event services.JobEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis job event bus not initialized")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *jobEventBus) StartForwarder(ctx context.Context, onEvent func(e services.JobEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis job event bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event services.JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.Warn("bad redis job event payload", "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()

	return nil
}

func (b *jobEventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
