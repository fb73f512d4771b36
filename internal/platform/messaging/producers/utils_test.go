package producers

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/config"
)

type MockTopicAdmin struct {
	mock.Mock
}

func (m *MockTopicAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	args := m.Called(topics)
	partitions, _ := args.Get(0).([]kafka.Partition)
	return partitions, args.Error(1)
}

func (m *MockTopicAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	args := m.Called(topics)
	return args.Error(0)
}

func (m *MockTopicAdmin) Close() error {
	return nil
}

func dialAdmin(admin topicAdmin, dials *int) dialFunc {
	return func(context.Context) (topicAdmin, error) {
		*dials++
		return admin, nil
	}
}

func TestTopicGate(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesMissingTopicOnce", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		dials := 0
		gate := newTopicGate(dialAdmin(admin, &dials), "till_sync_events", 0, 0, slog.Default())

		admin.On("ReadPartitions", []string{"till_sync_events"}).Return(nil, errors.New("unknown topic")).Once()
		admin.On("CreateTopics", []kafka.TopicConfig{{
			Topic: "till_sync_events", NumPartitions: 1, ReplicationFactor: 1,
		}}).Return(nil).Once()

		require.NoError(t, gate.ensure(ctx))
		require.NoError(t, gate.ensure(ctx))
		assert.Equal(t, 1, dials)
		admin.AssertExpectations(t)
	})

	t.Run("ExistingTopicIsNotCreated", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		dials := 0
		gate := newTopicGate(dialAdmin(admin, &dials), "till_sync_stalls", 3, 1, slog.Default())

		admin.On("ReadPartitions", []string{"till_sync_stalls"}).Return([]kafka.Partition{{ID: 0}, {ID: 1}, {ID: 2}}, nil).Once()

		require.NoError(t, gate.ensure(ctx))
		admin.AssertNotCalled(t, "CreateTopics", mock.Anything)
	})

	t.Run("BrokerDownIsRetriedOnNextWrite", func(t *testing.T) {
		admin := new(MockTopicAdmin)
		attempts := 0
		dial := func(context.Context) (topicAdmin, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("dial tcp 127.0.0.1:9092: connection refused")
			}
			return admin, nil
		}
		gate := newTopicGate(dial, "till_sync_events", 1, 1, slog.Default())
		admin.On("ReadPartitions", mock.Anything).Return([]kafka.Partition{{ID: 0}}, nil).Once()

		err := gate.ensure(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")

		require.NoError(t, gate.ensure(ctx))
		assert.Equal(t, 2, attempts)
	})

	t.Run("NilGateIsNoop", func(t *testing.T) {
		var gate *topicGate
		assert.NoError(t, gate.ensure(ctx))
	})
}

func TestNewProducersDoNotDial(t *testing.T) {
	cfg := &config.KafkaConfig{
		Brokers:    "127.0.0.1:1",
		SyncTopic:  "till_sync_events",
		StallTopic: "till_sync_stalls",
	}

	events, err := NewSyncEventProducer(context.Background(), slog.Default(), cfg)
	require.NoError(t, err)
	require.NotNil(t, events.gate)
	t.Cleanup(func() { _ = events.Close() })

	stalls, err := NewStallAlertProducer(context.Background(), slog.Default(), cfg)
	require.NoError(t, err)
	require.NotNil(t, stalls)
	t.Cleanup(func() { _ = stalls.Close() })
}
