package forecaststore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Redis stores snappy-compressed JSON forecasts with a TTL.
type Redis struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	compress bool
	logger   *logging.Logger
}

// NewRedis connects to the configured Redis and verifies it with a ping.
func NewRedis(cfg config.StoreConfig, logger *logging.Logger) (*Redis, error) {
	if logger == nil {
		logger = logging.Global()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Forecast store connected", "backend", "redis", "addr", opts.Addr, "ttl", cfg.TTL.String())
	return &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, compress: cfg.Compress, logger: logger}, nil
}

func (r *Redis) redisKey(key Key) string {
	if r.prefix == "" {
		return key.String()
	}
	return r.prefix + ":" + key.String()
}

func (r *Redis) Put(ctx context.Context, entry Entry) error {
	payload, err := encode(entry, r.compress)
	if err != nil {
		return err
	}
	key := r.redisKey(entry.Key())
	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store forecast %s: %w", key, err)
	}
	r.logger.Debug("Stored precomputed forecast", "key", key, "bytes", len(payload))
	return nil
}

func (r *Redis) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load forecast %s: %w", r.redisKey(key), err)
	}
	return decode(data)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
