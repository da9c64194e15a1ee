package models

import (
	"fmt"
	"time"

	"production-ledger/internal/pipeline"
)

// ProductionRow holds the units currently at one (sku, channel, stage)
type ProductionRow struct {
	ID               int64            `db:"id" json:"id"`
	SKU              string           `db:"sku" json:"sku"`
	Channel          pipeline.Channel `db:"channel" json:"channel"`
	Stage            pipeline.Stage   `db:"stage" json:"stage"`
	Quantity         int              `db:"quantity" json:"quantity"`
	Plus             int              `db:"plus" json:"plus"`
	Note             string           `db:"note" json:"note"`
	Flagged          bool             `db:"flagged" json:"flagged"`
	ModifiedManually bool             `db:"modified_manually" json:"modified_manually"`
	Version          int64            `db:"version" json:"version"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Key returns the composite identity of the row
func (r *ProductionRow) Key() RowIndex {
	return RowIndex{SKU: r.SKU, Channel: r.Channel, Stage: r.Stage}
}

// RowKey correlates the row with its log stream
func (r *ProductionRow) RowKey() string {
	return RowKey(r.SKU, r.Channel)
}

// RowIndex is the composite unique key of a production row
type RowIndex struct {
	SKU     string
	Channel pipeline.Channel
	Stage   pipeline.Stage
}

// RowKey builds the log stream key for a sku on a channel
func RowKey(sku string, channel pipeline.Channel) string {
	return fmt.Sprintf("%s/%s", sku, channel)
}

// MovementLogEntry is an append-only audit record.
// Quantity fields are nullable because imported history may lack them.
type MovementLogEntry struct {
	ID            int64            `db:"id" json:"id"`
	RowKey        string           `db:"row_key" json:"row_key"`
	SKU           string           `db:"sku" json:"sku"`
	Channel       pipeline.Channel `db:"channel" json:"channel"`
	StageBefore   pipeline.Stage   `db:"stage_before" json:"stage_before"`
	StageAfter    pipeline.Stage   `db:"stage_after" json:"stage_after"`
	QtyBefore     *int             `db:"qty_before" json:"qty_before"`
	QtyAfter      *int             `db:"qty_after" json:"qty_after"`
	PlusBefore    *int             `db:"plus_before" json:"plus_before"`
	PlusAfter     *int             `db:"plus_after" json:"plus_after"`
	DestQtyBefore *int             `db:"dest_qty_before" json:"dest_qty_before,omitempty"`
	DestQtyAfter  *int             `db:"dest_qty_after" json:"dest_qty_after,omitempty"`
	CorrelationID string           `db:"correlation_id" json:"correlation_id"`
	Reason        string           `db:"reason" json:"reason"`
	Actor         string           `db:"actor" json:"actor"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// Transition reports whether the entry changed stage
func (e *MovementLogEntry) Transition() bool {
	return e.StageBefore != e.StageAfter
}

// Int returns a pointer to v, for the nullable log quantities
func Int(v int) *int {
	return &v
}

// MoveResult is the committed state of both sides of a move
type MoveResult struct {
	// Source holds the row's final state; a fully emptied source is deleted and
	// reported with quantity 0 and SourceRemoved set.
	Source        *ProductionRow    `json:"source"`
	SourceRemoved bool              `json:"source_removed"`
	Destination   *ProductionRow    `json:"destination"`
	Entry         *MovementLogEntry `json:"entry"`
}

// ItemResult reports the outcome of one row in a bulk operation
type ItemResult struct {
	ID      int64  `json:"id"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// ProcessedEvent for idempotency of consumed events
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
