package producers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// topicAdmin is the part of kafka.Conn used to inspect and create topics
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	Close() error
}

type dialFunc func(ctx context.Context) (topicAdmin, error)

func brokerDialer(brokers string) dialFunc {
	return func(ctx context.Context) (topicAdmin, error) {
		conn, err := kafka.DialContext(ctx, "tcp", brokers)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// topicGate creates a producer's topic before its first write. Producers are
// built while the broker may be unreachable, so nothing dials until a message
// is sent. A failed attempt is retried on the next write.
type topicGate struct {
	mu     sync.Mutex
	ready  bool
	config kafka.TopicConfig
	dial   dialFunc
	logger *slog.Logger
}

func newTopicGate(dial dialFunc, topic string, numPartitions, replicationFactor int, logger *slog.Logger) *topicGate {
	if numPartitions <= 0 {
		numPartitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}
	return &topicGate{
		config: kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     numPartitions,
			ReplicationFactor: replicationFactor,
		},
		dial:   dial,
		logger: logger,
	}
}

// ensure is a no-op once the topic is known to exist. A nil gate means the
// topic is managed elsewhere.
func (g *topicGate) ensure(ctx context.Context) error {
	if g == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}

	topic := g.config.Topic
	conn, err := g.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial kafka for topic %s: %w", topic, err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		g.logger.Info("Kafka topic already exists", "topic", topic, "partitions", len(partitions))
		g.ready = true
		return nil
	}

	g.logger.Info("Kafka topic not found, creating it", "topic", topic, "read_error", err)
	if err := conn.CreateTopics(g.config); err != nil {
		return fmt.Errorf("failed to create kafka topic %s: %w", topic, err)
	}
	g.logger.Info("Created Kafka topic", "topic", topic)
	g.ready = true
	return nil
}
