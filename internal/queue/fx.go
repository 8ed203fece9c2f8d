package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/primerouter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("queue",
	fx.Provide(NewQueue),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// NewQueue builds the configured backend: memory (default), redis or pubsub.
func NewQueue(p Params) (Queue, error) {
	cfg := p.Config.Queue
	log := p.Log.Named("queue")
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))

	switch kind {
	case "", "memory":
		log.Warn("using in-memory queue; messages are not delivered to other processes")
		return NewMemoryQueue(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error { return client.Close() },
		})
		q, err := NewRedisQueue(client, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		log.Info("redis queue ready", zap.String("addr", cfg.RedisAddr))
		return q, nil
	case "pubsub":
		if cfg.PubSubProjectID == "" {
			return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
		}
		client, err := pubsub.NewClient(context.Background(), cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		q, err := NewPubSubQueue(client)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{OnStop: func(context.Context) error { return q.Close() }})
		log.Info("pubsub queue ready", zap.String("project_id", cfg.PubSubProjectID))
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}
