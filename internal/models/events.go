package models

import (
	"time"

	"production-ledger/internal/pipeline"
)

// Event types
const (
	EventTypeProductionRequested = "PRODUCTION_REQUESTED"
	EventTypeMovementCommitted   = "MOVEMENT_COMMITTED"
	EventTypeRowsDeleted         = "ROWS_DELETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ProductionRequestedEvent asks for units to enter the pipeline
type ProductionRequestedEvent struct {
	BaseEvent
	SKU      string           `json:"sku"`
	Channel  pipeline.Channel `json:"channel"`
	Quantity int              `json:"quantity"`
	Plus     int              `json:"plus"`
	Note     string           `json:"note,omitempty"`
	Actor    string           `json:"actor,omitempty"`
}

// MovementCommittedEvent is published once a ledger mutation and its log entry are durable
type MovementCommittedEvent struct {
	BaseEvent
	CorrelationID string           `json:"correlation_id"`
	SKU           string           `json:"sku"`
	Channel       pipeline.Channel `json:"channel"`
	From          pipeline.Stage   `json:"from"`
	To            pipeline.Stage   `json:"to"`
	Quantity      int              `json:"quantity"`
	Reason        string           `json:"reason"`
	Actor         string           `json:"actor"`
}

// RowsDeletedEvent is published after a bulk deletion
type RowsDeletedEvent struct {
	BaseEvent
	Rows []DeletedRowData `json:"rows"`
}

// DeletedRowData describes one removed row
type DeletedRowData struct {
	RowID    int64            `json:"row_id"`
	SKU      string           `json:"sku"`
	Channel  pipeline.Channel `json:"channel"`
	Stage    pipeline.Stage   `json:"stage"`
	Quantity int              `json:"quantity"`
}
