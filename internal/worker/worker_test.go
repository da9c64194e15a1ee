package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"production-ledger/internal/broker"
	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (s *sliceSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		s.errs = append(s.errs, handler(ctx, msg))
	}
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) HandleProductionRequest(ctx context.Context, event *models.ProductionRequestedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: payload}
}

func TestWorkerRoutesProductionRequests(t *testing.T) {
	request := &models.ProductionRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeProductionRequested},
		SKU:       "ABC-123",
		Channel:   pipeline.ChannelOwnSite,
		Quantity:  12,
	}
	other := models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeMovementCommitted}

	source := &sliceSource{messages: []kafka.Message{
		message(t, request),
		message(t, other),
		{Value: []byte("not json")},
	}}
	ledger := new(mockLedger)
	ledger.On("HandleProductionRequest", mock.Anything, mock.MatchedBy(func(e *models.ProductionRequestedEvent) bool {
		return e.EventID == "evt-1" && e.SKU == "ABC-123" && e.Channel == pipeline.ChannelOwnSite && e.Quantity == 12
	})).Return(nil).Once()

	w := NewProductionRequestWorker(source, ledger)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	require.Len(t, source.errs, 3)
	assert.NoError(t, source.errs[0])
	assert.NoError(t, source.errs[1], "unrelated events are skipped")
	assert.Error(t, source.errs[2])
	assert.True(t, source.closed)
	ledger.AssertExpectations(t)
}

// queueReader serves messages in order and calls onDrained once it runs dry
type queueReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
	onDrained func()
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	r.onDrained()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *queueReader) Close() error { return nil }

func requestAt(t *testing.T, eventID string, offset int64) kafka.Message {
	t.Helper()
	msg := message(t, &models.ProductionRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: eventID, EventType: models.EventTypeProductionRequested},
		SKU:       "ABC-123",
		Channel:   pipeline.ChannelOwnSite,
		Quantity:  3,
	})
	msg.Offset = offset
	return msg
}

func TestWorkerRetriesFailedRequestBeforeCommitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &queueReader{
		messages:  []kafka.Message{requestAt(t, "evt-7", 7), requestAt(t, "evt-8", 8)},
		onDrained: cancel,
	}
	ledger := new(mockLedger)
	ledger.On("HandleProductionRequest", mock.Anything, mock.MatchedBy(func(e *models.ProductionRequestedEvent) bool {
		return e.EventID == "evt-7"
	})).Return(errors.New("connection reset by peer")).Once()
	ledger.On("HandleProductionRequest", mock.Anything, mock.Anything).Return(nil).Twice()

	source := broker.NewConsumerFromReader(reader, "production-requests", backoff.NewConstantBackOff(time.Millisecond))
	w := NewProductionRequestWorker(source, ledger)

	err := w.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	ledger.AssertExpectations(t)
	ledger.AssertNumberOfCalls(t, "HandleProductionRequest", 3)
	require.Len(t, reader.committed, 2)
	assert.Equal(t, int64(7), reader.committed[0].Offset)
	assert.Equal(t, int64(8), reader.committed[1].Offset)
}

func TestWorkerSkipsUndecodableMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &queueReader{
		messages:  []kafka.Message{{Offset: 1, Value: []byte("not json")}, requestAt(t, "evt-2", 2)},
		onDrained: cancel,
	}
	ledger := new(mockLedger)
	ledger.On("HandleProductionRequest", mock.Anything, mock.Anything).Return(nil).Once()

	source := broker.NewConsumerFromReader(reader, "production-requests", backoff.NewConstantBackOff(time.Millisecond))
	err := NewProductionRequestWorker(source, ledger).Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	ledger.AssertExpectations(t)
	require.Len(t, reader.committed, 2, "a message that can never decode does not block the partition")
}

func TestWorkerStopsRetryingOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reader := &queueReader{
		messages:  []kafka.Message{requestAt(t, "evt-9", 9)},
		onDrained: func() {},
	}
	ledger := new(mockLedger)
	ledger.On("HandleProductionRequest", mock.Anything, mock.Anything).
		Return(errors.New("database unavailable")).
		Run(func(mock.Arguments) { cancel() })

	source := broker.NewConsumerFromReader(reader, "production-requests", backoff.NewConstantBackOff(time.Millisecond))
	err := NewProductionRequestWorker(source, ledger).Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reader.committed, "an unhandled message stays uncommitted for redelivery")
}
