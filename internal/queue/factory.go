package queue

import (
	"fmt"
	"strings"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/logging"
)

// NewQueue creates the backend named by cfg.Type. An empty type selects
// the in-process queue.
func NewQueue(cfg config.QueueConfig, logger *logging.Logger) (Queue, error) {
	if logger == nil {
		logger = logging.Global()
	}
	queueType := Type(strings.ToLower(cfg.Type))
	if queueType == "" {
		queueType = TypeMemory
	}

	var (
		q   Queue
		err error
	)
	switch queueType {
	case TypeNATS:
		var nq *NATSQueue
		nq, err = newNATSQueue(NATSConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
		}, logger)
		q = nq

	case TypeRedis:
		var rq *RedisQueue
		rq, err = newRedisQueue(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Group:    cfg.RedisGroup,
			Consumer: cfg.RedisConsumer,
		}, logger)
		q = rq

	case TypeKafka:
		var kq *KafkaQueue
		kq, err = newKafkaQueue(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		}, logger)
		q = kq

	case TypeMemory:
		return newMemoryQueue(logger), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: nats, redis, kafka, memory)", queueType)
	}

	// A typed nil pointer must not escape as a non-nil Queue.
	if err != nil {
		return nil, err
	}
	return q, nil
}
