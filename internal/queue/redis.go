package queue

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueue appends payloads to a Redis list per queue name.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewRedisQueue(client *redis.Client, prefix string) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	return &RedisQueue{client: client, prefix: prefix}, nil
}

func (q *RedisQueue) Key(queueName string) string {
	return q.prefix + queueName
}

func (q *RedisQueue) Send(ctx context.Context, queueName, payload string) error {
	if queueName == "" {
		return ErrQueueRequired
	}
	if err := q.client.RPush(ctx, q.Key(queueName), payload).Err(); err != nil {
		return fmt.Errorf("redis push %s: %w", queueName, err)
	}
	return nil
}
