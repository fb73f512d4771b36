package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/domain/pending"
)

type SyncEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
	gate   *topicGate
}

// NewSyncEventProducer creates the sync event producer. The topic is created
// on the first publish, so the broker need not be reachable yet.
func NewSyncEventProducer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*SyncEventProducer, error) {
	if cfg.SyncTopic == "" {
		return nil, fmt.Errorf("kafka sync topic is not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.SyncTopic,
		Balancer:     &kafka.Hash{}, // Keep one collection's events on one partition
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write sync events asynchronously", "topic", cfg.SyncTopic, "error", err, "count", len(messages))
			} else {
				logger.Debug("Wrote sync events asynchronously", "topic", cfg.SyncTopic, "count", len(messages))
			}
		},
	}

	return &SyncEventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.SyncTopic,
		gate:   newTopicGate(brokerDialer(cfg.Brokers), cfg.SyncTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger),
	}, nil
}

// PublishSyncEvent keys the message by collection
func (p *SyncEventProducer) PublishSyncEvent(ctx context.Context, event pending.SyncEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Collection),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "terminal-id", Value: []byte(event.TerminalID)},
		},
	}

	if err := p.gate.ensure(ctx); err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish sync event",
			"topic", p.topic,
			"collection", event.Collection,
			"op_key", event.OpKey,
			"error", err,
		)
		return fmt.Errorf("failed to publish sync event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published sync event",
		"topic", p.topic,
		"collection", event.Collection,
		"op_key", event.OpKey,
	)
	return nil
}

func (p *SyncEventProducer) Close() error {
	p.logger.Info("Closing sync event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close sync event writer for topic %s: %w", p.topic, err)
	}
	return nil
}
