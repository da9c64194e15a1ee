package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"github.com/jmoiron/sqlx"
)

const rowColumns = `id, sku, channel, stage, quantity, plus, note, flagged, modified_manually, version, created_at, updated_at`

type pgTx struct {
	tx *sqlx.Tx
}

// GetRow retrieves a row by ID
func (s *Store) GetRow(ctx context.Context, id int64) (*models.ProductionRow, error) {
	var row models.ProductionRow
	err := s.db.GetContext(ctx, &row, "SELECT "+rowColumns+" FROM production_rows WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListRows retrieves the rows of a sku, optionally for a single channel
func (s *Store) ListRows(ctx context.Context, sku string, channel *pipeline.Channel) ([]models.ProductionRow, error) {
	rows := []models.ProductionRow{}
	var err error
	if channel != nil {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT "+rowColumns+" FROM production_rows WHERE sku = $1 AND channel = $2 ORDER BY id", sku, *channel)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT "+rowColumns+" FROM production_rows WHERE sku = $1 ORDER BY id", sku)
	}
	return rows, err
}

// GetRowForUpdate locks a row by ID until the transaction ends
func (t *pgTx) GetRowForUpdate(ctx context.Context, id int64) (*models.ProductionRow, error) {
	var row models.ProductionRow
	err := t.tx.GetContext(ctx, &row,
		"SELECT "+rowColumns+" FROM production_rows WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock row: %w", mapError(err))
	}
	return &row, nil
}

// FindRowForUpdate locks the row at (sku, channel, stage) if it exists
func (t *pgTx) FindRowForUpdate(ctx context.Context, idx models.RowIndex) (*models.ProductionRow, error) {
	var row models.ProductionRow
	err := t.tx.GetContext(ctx, &row,
		"SELECT "+rowColumns+" FROM production_rows WHERE sku = $1 AND channel = $2 AND stage = $3 FOR UPDATE",
		idx.SKU, idx.Channel, idx.Stage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock row: %w", mapError(err))
	}
	return &row, nil
}

// InsertRow creates a row; a concurrent insert of the same key yields ErrConflict
func (t *pgTx) InsertRow(ctx context.Context, row *models.ProductionRow) error {
	query := `
		INSERT INTO production_rows (sku, channel, stage, quantity, plus, note, flagged, modified_manually, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING id, version, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		row.SKU, row.Channel, row.Stage, row.Quantity, row.Plus, row.Note, row.Flagged, row.ModifiedManually,
	).Scan(&row.ID, &row.Version, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert row: %w", mapError(err))
	}
	return nil
}

// UpdateRow writes the mutable fields if row.Version is still current
func (t *pgTx) UpdateRow(ctx context.Context, row *models.ProductionRow) error {
	query := `
		UPDATE production_rows
		SET quantity = $1, plus = $2, note = $3, flagged = $4, modified_manually = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7
		RETURNING version, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		row.Quantity, row.Plus, row.Note, row.Flagged, row.ModifiedManually, row.ID, row.Version,
	).Scan(&row.Version, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: row %d changed since read", models.ErrConflict, row.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update row: %w", mapError(err))
	}
	return nil
}

// DeleteRow removes the row if row.Version is still current
func (t *pgTx) DeleteRow(ctx context.Context, row *models.ProductionRow) error {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM production_rows WHERE id = $1 AND version = $2", row.ID, row.Version)
	if err != nil {
		return fmt.Errorf("failed to delete row: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: row %d changed since read", models.ErrConflict, row.ID)
	}
	return nil
}

// MarkEventProcessed marks an event as processed
func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
