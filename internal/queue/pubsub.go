package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// PubSubQueue publishes each queue name as a Pub/Sub topic, creating it on
// first use.
type PubSubQueue struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubQueue(client *pubsub.Client) (*PubSubQueue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	return &PubSubQueue{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (q *PubSubQueue) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.topics[name]; ok {
		return t, nil
	}

	t := q.client.Topic(name)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		t, err = q.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("create topic %q: %w", name, err)
		}
	}
	q.topics[name] = t
	return t, nil
}

func (q *PubSubQueue) Send(ctx context.Context, queueName, payload string) error {
	if queueName == "" {
		return ErrQueueRequired
	}
	t, err := q.topic(ctx, queueName)
	if err != nil {
		return err
	}
	result := t.Publish(ctx, &pubsub.Message{Data: []byte(payload), Attributes: traceAttributes(ctx)})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", queueName, err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (q *PubSubQueue) Close() error {
	q.mu.Lock()
	for _, t := range q.topics {
		t.Stop()
	}
	q.mu.Unlock()
	return q.client.Close()
}
