package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"production-ledger/internal/models"
	"production-ledger/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is what EventPublisher needs from a producer
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishMovementCommitted publishes a MovementCommitted event keyed by sku
func (ep *EventPublisher) PublishMovementCommitted(ctx context.Context, event *models.MovementCommittedEvent) error {
	key := fmt.Sprintf("sku-%s", event.SKU)
	return ep.publish(ctx, key, event.EventType, event)
}

// PublishRowsDeleted publishes a RowsDeleted event keyed by the sku of its rows.
// Callers publish one event per sku.
func (ep *EventPublisher) PublishRowsDeleted(ctx context.Context, event *models.RowsDeletedEvent) error {
	key := "bulk-delete"
	if len(event.Rows) > 0 {
		key = fmt.Sprintf("sku-%s", event.Rows[0].SKU)
	}
	return ep.publish(ctx, key, event.EventType, event)
}

func (ep *EventPublisher) publish(ctx context.Context, key, eventType string, event interface{}) error {
	err := ep.producer.PublishEvent(ctx, key, event)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	util.EventsPublishedTotal.WithLabelValues(eventType, outcome).Inc()
	return err
}

// EventHandler handles incoming events
type EventHandler struct {
	onProductionRequested func(context.Context, *models.ProductionRequestedEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnProductionRequested registers a handler for ProductionRequested events
func (eh *EventHandler) OnProductionRequested(handler func(context.Context, *models.ProductionRequestedEvent) error) {
	eh.onProductionRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable messages
// fail permanently; handler errors are returned as is so the consumer retries them.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal base event: %w", err))
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeProductionRequested:
		if eh.onProductionRequested != nil {
			var event models.ProductionRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to unmarshal ProductionRequested event: %w", err))
			}
			return eh.onProductionRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
