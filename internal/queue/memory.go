package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/freshretail/freshcast/internal/logging"
)

const memoryQueueCapacity = 1024

// MemoryQueue is an in-process queue over buffered channels. Messages are
// delivered at most once; a failed handler drops the message after logging.
type MemoryQueue struct {
	channels      map[string]chan []byte
	subscriptions map[string]context.CancelFunc
	wg            sync.WaitGroup
	logger        *logging.Logger
	mu            sync.RWMutex
}

func newMemoryQueue(logger *logging.Logger) *MemoryQueue {
	return &MemoryQueue{
		channels:      make(map[string]chan []byte),
		subscriptions: make(map[string]context.CancelFunc),
		logger:        logger,
	}
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(logger *logging.Logger) *MemoryQueue {
	if logger == nil {
		logger = logging.Global()
	}
	return newMemoryQueue(logger)
}

func (q *MemoryQueue) channel(subject string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ch, exists := q.channels[subject]; exists {
		return ch
	}
	ch := make(chan []byte, memoryQueueCapacity)
	q.channels[subject] = ch
	return ch
}

// Publish enqueues a copy of data. It fails fast when the subject is full.
func (q *MemoryQueue) Publish(ctx context.Context, subject string, data []byte) error {
	ch := q.channel(subject)

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full for subject: %s", subject)
	}
}

func (q *MemoryQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	accepted := 0
	var lastErr error
	for _, msg := range messages {
		if err := q.Publish(ctx, msg.Subject, msg.Data); err != nil {
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 && lastErr != nil {
		return 0, lastErr
	}
	return accepted, nil
}

func (q *MemoryQueue) Subscribe(subject string, handler MessageHandler) error {
	ch := q.channel(subject)

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.subscriptions[subject] = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, data); err != nil {
					q.logger.Warn("Dropping message after handler failure", "subject", subject, "error", err)
				}
			}
		}
	}()
	return nil
}

func (q *MemoryQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, exists := q.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	cancel()
	delete(q.subscriptions, subject)
	return nil
}

// Close stops every consumer and waits for in-flight handlers to return.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	for subject, cancel := range q.subscriptions {
		cancel()
		delete(q.subscriptions, subject)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Pending returns the number of undelivered messages for subject.
func (q *MemoryQueue) Pending(subject string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if ch, exists := q.channels[subject]; exists {
		return len(ch)
	}
	return 0
}
