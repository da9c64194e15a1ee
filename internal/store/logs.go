package store

import (
	"context"
	"fmt"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"
)

const logColumns = `id, row_key, sku, channel, stage_before, stage_after, qty_before, qty_after,
	plus_before, plus_after, dest_qty_before, dest_qty_after, correlation_id, reason, actor, created_at`

// AppendLog writes an entry to the movement log
func (t *pgTx) AppendLog(ctx context.Context, entry *models.MovementLogEntry) error {
	query := `
		INSERT INTO movement_log (row_key, sku, channel, stage_before, stage_after, qty_before, qty_after,
			plus_before, plus_after, dest_qty_before, dest_qty_after, correlation_id, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	err := t.tx.GetContext(ctx, &entry.ID, query,
		entry.RowKey, entry.SKU, entry.Channel, entry.StageBefore, entry.StageAfter,
		entry.QtyBefore, entry.QtyAfter, entry.PlusBefore, entry.PlusAfter,
		entry.DestQtyBefore, entry.DestQtyAfter, entry.CorrelationID,
		entry.Reason, entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", mapError(err))
	}
	return nil
}

// ListLogs retrieves the raw log of one row stream in commit order
func (s *Store) ListLogs(ctx context.Context, rowKey string) ([]models.MovementLogEntry, error) {
	entries := []models.MovementLogEntry{}
	err := s.db.SelectContext(ctx, &entries,
		"SELECT "+logColumns+" FROM movement_log WHERE row_key = $1 ORDER BY created_at, id", rowKey)
	return entries, err
}

// ListLogsBySKU retrieves the raw log of every stream of a sku
func (s *Store) ListLogsBySKU(ctx context.Context, sku string, channel *pipeline.Channel) ([]models.MovementLogEntry, error) {
	entries := []models.MovementLogEntry{}
	var err error
	if channel != nil {
		err = s.db.SelectContext(ctx, &entries,
			"SELECT "+logColumns+" FROM movement_log WHERE sku = $1 AND channel = $2 ORDER BY created_at, id", sku, *channel)
	} else {
		err = s.db.SelectContext(ctx, &entries,
			"SELECT "+logColumns+" FROM movement_log WHERE sku = $1 ORDER BY created_at, id", sku)
	}
	return entries, err
}
