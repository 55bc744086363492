package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/freshretail/freshcast/internal/logging"
	"github.com/nats-io/nats.go"
)

const (
	natsStreamPrefix = "freshcast-"
	// forecast jobs can take minutes for large batches
	natsAckWait    = 10 * time.Minute
	natsMaxDeliver = 3
)

// NATSConfig configures the JetStream backend.
type NATSConfig struct {
	URL      string
	Username string
	Password string
}

// NATSQueue implements Queue over NATS JetStream with durable consumers.
type NATSQueue struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subscriptions map[string]*natsSubscription
	logger        *logging.Logger
	mu            sync.RWMutex
}

type natsSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
}

func newNATSQueue(cfg NATSConfig, logger *logging.Logger) (*NATSQueue, error) {
	opts := []nats.Option{
		nats.Name("freshcast"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	q, err := newNATSQueueWithConn(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func newNATSQueueWithConn(conn *nats.Conn, logger *logging.Logger) (*NATSQueue, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSQueue{
		conn:          conn,
		js:            js,
		subscriptions: make(map[string]*natsSubscription),
		logger:        logger,
	}, nil
}

// ensureStream creates the backing stream for subject on first use.
func (q *NATSQueue) ensureStream(subject string) error {
	name := natsStreamPrefix + sanitizeName(subject)
	if _, err := q.js.StreamInfo(name); err == nil {
		return nil
	}
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream for subject %s: %w", subject, err)
	}
	return nil
}

// Publish waits for the JetStream ack so the caller knows the job is durable.
func (q *NATSQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := q.ensureStream(subject); err != nil {
		return err
	}
	if _, err := q.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// PublishBatch queues every message asynchronously and waits once for all acks.
func (q *NATSQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	futures := make([]nats.PubAckFuture, 0, len(messages))
	for _, msg := range messages {
		if err := q.ensureStream(msg.Subject); err != nil {
			q.logger.Warn("Skipping batch message", "subject", msg.Subject, "error", err)
			continue
		}
		future, err := q.js.PublishAsync(msg.Subject, msg.Data)
		if err != nil {
			q.logger.Warn("Failed to queue batch message", "subject", msg.Subject, "error", err)
			continue
		}
		futures = append(futures, future)
	}

	select {
	case <-q.js.PublishAsyncComplete():
	case <-ctx.Done():
		return 0, fmt.Errorf("timeout waiting for batch publish: %w", ctx.Err())
	}

	accepted := 0
	for _, future := range futures {
		select {
		case <-future.Ok():
			accepted++
		case err := <-future.Err():
			q.logger.Warn("Batch message rejected", "error", err)
		}
	}
	return accepted, nil
}

// Subscribe attaches a durable, manually acked consumer. Failed messages are
// NAKed and redelivered up to natsMaxDeliver times.
func (q *NATSQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	if err := q.ensureStream(subject); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := q.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil {
			q.logger.Warn("Job handler failed, requesting redelivery", "subject", subject, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("worker-"+sanitizeName(subject)),
		nats.ManualAck(),
		nats.MaxAckPending(16),
		nats.AckWait(natsAckWait),
		nats.MaxDeliver(natsMaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	q.subscriptions[subject] = &natsSubscription{sub: sub, cancel: cancel}
	return nil
}

func (q *NATSQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, exists := q.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	s.cancel()
	delete(q.subscriptions, subject)
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", subject, err)
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for subject, s := range q.subscriptions {
		s.cancel()
		if err := s.sub.Unsubscribe(); err != nil {
			q.logger.Warn("Failed to unsubscribe on close", "subject", subject, "error", err)
		}
		delete(q.subscriptions, subject)
	}
	q.conn.Close()
	return nil
}

// sanitizeName maps a subject onto the stream/consumer name alphabet
// (A-Z, a-z, 0-9, dash and underscore).
func sanitizeName(subject string) string {
	result := make([]byte, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
