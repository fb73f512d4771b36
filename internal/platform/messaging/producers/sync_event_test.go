package producers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/domain/pending"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestSyncEventProducer_PublishSyncEvent(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	topic := "test-sync-events"
	ctx := context.Background()

	event := pending.SyncEvent{
		Type:       pending.EventRemapped,
		TerminalID: "till-01",
		OpKey:      "c9b1f0e2-3c55-4c8e-9a0b-2f6d2b7f4a11",
		Kind:       pending.KindInsert,
		Collection: "cash_movements",
		RecordID:   41,
		TempID:     -7,
		At:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	t.Run("SuccessfulPublish", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &SyncEventProducer{logger: logger, writer: mockWriter, topic: topic}

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "cash_movements" {
				return false
			}
			var got pending.SyncEvent
			if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
				return false
			}
			return got.At.Equal(event.At) && got.OpKey == event.OpKey &&
				got.RecordID == event.RecordID && got.TempID == event.TempID
		})).Return(nil).Once()

		require.NoError(t, producer.PublishSyncEvent(ctx, event))
		mockWriter.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := &SyncEventProducer{logger: logger, writer: mockWriter, topic: topic}
		writerError := errors.New("kafka write error")

		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerError).Once()

		err := producer.PublishSyncEvent(ctx, event)
		require.Error(t, err)
		assert.ErrorIs(t, err, writerError)
		mockWriter.AssertExpectations(t)
	})
}

func TestSyncEventProducer_Close(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	mockWriter := new(MockKafkaWriter)
	producer := &SyncEventProducer{logger: logger, writer: mockWriter, topic: "test-sync-events"}
	closeError := errors.New("kafka close error")
	mockWriter.On("Close").Return(closeError).Once()

	err := producer.Close()
	assert.ErrorIs(t, err, closeError)
	mockWriter.AssertExpectations(t)
}

// Verify interface implementation
var (
	_ KafkaWriter        = (*MockKafkaWriter)(nil)
	_ SyncEventPublisher = (*SyncEventProducer)(nil)
	_ StallPublisher     = (*StallAlertProducer)(nil)
)
