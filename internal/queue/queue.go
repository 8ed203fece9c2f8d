// Package queue dispatches fire-and-forget messages to downstream stage
// consumers. Consumers own retry and redelivery.
package queue

import (
	"context"
	"errors"
	"sync"

	obstracing "github.com/smallbiznis/primerouter/internal/observability/tracing"
	"go.opentelemetry.io/otel/propagation"
)

var ErrQueueRequired = errors.New("queue_name_required")

type Queue interface {
	Send(ctx context.Context, queueName, payload string) error
}

// Message is one payload recorded by MemoryQueue. Attributes carry the
// propagated trace context, nil when there is none.
type Message struct {
	Queue      string
	Payload    string
	Attributes map[string]string
}

// MemoryQueue records messages in process.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Send(ctx context.Context, queueName, payload string) error {
	if queueName == "" {
		return ErrQueueRequired
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, Message{Queue: queueName, Payload: payload, Attributes: traceAttributes(ctx)})
	return nil
}

// FailWith makes subsequent sends return err.
func (q *MemoryQueue) FailWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *MemoryQueue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.messages...)
}

// traceAttributes renders the trace context of ctx as message attributes so
// stage consumers can continue the submission trace.
func traceAttributes(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	obstracing.InjectContext(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}
