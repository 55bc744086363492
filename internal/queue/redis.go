package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/freshretail/freshcast/internal/logging"
	"github.com/redis/go-redis/v9"
)

// RedisConfig represents Redis Streams configuration
type RedisConfig struct {
	URL      string // redis://localhost:6379 or host:port
	Password string
	DB       int
	Stream   string // stream key prefix (default: "freshcast")
	Group    string // consumer group (default: "freshcast-workers")
	Consumer string // consumer name (default: hostname)
	// ClaimIdle is how long an entry may sit unacknowledged with another
	// consumer before this one claims it (default: 5m).
	ClaimIdle time.Duration
}

// RedisQueue implements Queue interface using Redis Streams consumer groups.
type RedisQueue struct {
	client        *redis.Client
	config        RedisConfig
	subscriptions map[string]context.CancelFunc
	wg            sync.WaitGroup
	logger        *logging.Logger
	mu            sync.Mutex
}

func newRedisQueue(cfg RedisConfig, logger *logging.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = "freshcast"
	}
	if cfg.Group == "" {
		cfg.Group = "freshcast-workers"
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	if cfg.Consumer == "" {
		cfg.Consumer, _ = os.Hostname()
		if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	if cfg.Consumer == "" {
			cfg.Consumer = "worker-1"
		}
	}

	return &RedisQueue{
		client:        client,
		config:        cfg,
		subscriptions: make(map[string]context.CancelFunc),
		logger:        logger,
	}, nil
}

func (q *RedisQueue) streamName(subject string) string {
	return q.config.Stream + ":" + subject
}

func (q *RedisQueue) Publish(ctx context.Context, subject string, data []byte) error {
	stream := q.streamName(subject)
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis stream %s: %w", stream, err)
	}
	return nil
}

// PublishBatch sends every message in one pipeline round trip.
func (q *RedisQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	pipe := q.client.Pipeline()
	for _, msg := range messages {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.streamName(msg.Subject),
			Values: map[string]interface{}{"data": msg.Data},
		})
	}

	cmds, err := pipe.Exec(ctx)
	accepted := 0
	for _, cmd := range cmds {
		if cmd.Err() == nil {
			accepted++
		}
	}
	if accepted == 0 && err != nil {
		return 0, fmt.Errorf("failed to execute batch publish: %w", err)
	}
	return accepted, nil
}

func (q *RedisQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	stream := q.streamName(subject)
	ctx, cancel := context.WithCancel(context.Background())

	err := q.client.XGroupCreateMkStream(ctx, stream, q.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		cancel()
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	q.subscriptions[subject] = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.readStream(ctx, stream, handler)
	}()
	return nil
}

// readStream consumes new entries until ctx ends. Entries whose handler
// fails stay pending in the group; entries idle past ClaimIdle are claimed
// and retried before new ones are read.
func (q *RedisQueue) readStream(ctx context.Context, stream string, handler MessageHandler) {
	claimStart := "0-0"
	for ctx.Err() == nil {
		claimed, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    q.config.Group,
			Consumer: q.config.Consumer,
			MinIdle:  q.config.ClaimIdle,
			Start:    claimStart,
			Count:    10,
		}).Result()
		if err == nil {
			claimStart = next
			if len(claimed) > 0 {
				q.logger.Info("Claimed idle job entries", "stream", stream, "count", len(claimed))
			}
			q.handleEntries(ctx, stream, claimed, handler)
		} else if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			q.logger.Debug("Redis autoclaim failed", "stream", stream, "error", err)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.config.Group,
			Consumer: q.config.Consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Warn("Redis stream read failed", "stream", stream, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, s := range streams {
			q.handleEntries(ctx, stream, s.Messages, handler)
		}
	}
}

func (q *RedisQueue) handleEntries(ctx context.Context, stream string, entries []redis.XMessage, handler MessageHandler) {
	for _, msg := range entries {
		data, ok := msg.Values["data"].(string)
		if !ok {
			q.logger.Warn("Discarding malformed stream entry", "stream", stream, "id", msg.ID)
			q.client.XAck(ctx, stream, q.config.Group, msg.ID)
			continue
		}
		if err := handler(ctx, []byte(data)); err != nil {
			q.logger.Warn("Job handler failed, leaving entry pending", "stream", stream, "id", msg.ID, "error", err)
			continue
		}
		q.client.XAck(ctx, stream, q.config.Group, msg.ID)
	}
}

func (q *RedisQueue) Unsubscribe(subject string) error {
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

func (q *RedisQueue) Close() error {
	q.mu.Lock()
	for subject, cancel := range q.subscriptions {
		cancel()
		delete(q.subscriptions, subject)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return q.client.Close()
}
