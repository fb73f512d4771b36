package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/domain/pending"
)

type StallAlertProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
	gate   *topicGate
}

// NewStallAlertProducer returns a nil producer if cfg.StallTopic is empty (alerts disabled)
func NewStallAlertProducer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*StallAlertProducer, error) {
	if cfg.StallTopic == "" {
		logger.Info("Stall topic is not configured. StallAlertProducer will not be initialized.")
		return nil, nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.StallTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &StallAlertProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.StallTopic,
		gate:   newTopicGate(brokerDialer(cfg.Brokers), cfg.StallTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger),
	}, nil
}

func (p *StallAlertProducer) PublishStall(ctx context.Context, alert pending.StallAlert) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("stall alert producer not initialized")
	}

	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal stall alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.OpKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "attempts", Value: []byte(strconv.Itoa(alert.Attempts))},
		},
	}

	if err := p.gate.ensure(ctx); err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish stall alert",
			"topic", p.topic,
			"seq", alert.Seq,
			"op_key", alert.OpKey,
			"error", err,
		)
		return fmt.Errorf("failed to publish stall alert to %s: %w", p.topic, err)
	}

	p.logger.Warn("Published stall alert",
		"topic", p.topic,
		"seq", alert.Seq,
		"collection", alert.Collection,
		"attempts", alert.Attempts,
	)
	return nil
}

func (p *StallAlertProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing stall alert producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close stall alert writer for topic %s: %w", p.topic, err)
	}
	return nil
}
