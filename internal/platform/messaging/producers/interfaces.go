package producers

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/till-ledger/internal/domain/pending"
)

// SyncEventPublisher announces confirmed operations on the sync topic
type SyncEventPublisher interface {
	PublishSyncEvent(ctx context.Context, event pending.SyncEvent) error
	Close() error
}

// StallPublisher raises alerts for operations stuck at the head of the queue
type StallPublisher interface {
	PublishStall(ctx context.Context, alert pending.StallAlert) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
