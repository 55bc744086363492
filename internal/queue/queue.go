// Package queue carries forecast jobs between the API, the scheduler and the
// worker. Backends: NATS JetStream, Redis Streams, Kafka and an in-process
// channel queue.
package queue

import "context"

// Type names a queue backend.
type Type string

const (
	TypeNATS   Type = "nats"
	TypeRedis  Type = "redis"
	TypeKafka  Type = "kafka"
	TypeMemory Type = "memory"
)

// Publisher publishes messages to a queue
type Publisher interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishBatch publishes multiple messages and reports how many were accepted
	PublishBatch(ctx context.Context, messages []BatchMessage) (int, error)

	Close() error
}

// BatchMessage represents a message for batch publishing
type BatchMessage struct {
	Subject string
	Data    []byte
}

// Subscriber consumes messages from a queue. A handler error leaves the
// message unacknowledged so the backend can redeliver it.
type Subscriber interface {
	Subscribe(subject string, handler MessageHandler) error
	Unsubscribe(subject string) error
	Close() error
}

// MessageHandler handles one message. ctx is cancelled when the
// subscription ends.
type MessageHandler func(ctx context.Context, data []byte) error

// Queue combines Publisher and Subscriber interfaces
type Queue interface {
	Publisher
	Subscriber
}
