package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"production-ledger/internal/auth"
	"production-ledger/internal/ledger"
	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"
	"production-ledger/internal/store"
	"production-ledger/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BulkSetStateRequest moves the whole quantity of each row to TargetStage
type BulkSetStateRequest struct {
	IDs            []int64        `json:"ids" binding:"required,min=1,dive,gt=0"`
	TargetStage    pipeline.Stage `json:"target_stage" binding:"required,stage"`
	Actor          string         `json:"actor"`
	Reason         string         `json:"reason"`
	Authorization  string         `json:"authorization"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// BulkDeleteRequest removes rows from the ledger
type BulkDeleteRequest struct {
	IDs            []int64 `json:"ids" binding:"required,min=1,dive,gt=0"`
	Actor          string  `json:"actor"`
	Reason         string  `json:"reason"`
	Authorization  string  `json:"authorization"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// BulkSetState applies a full-quantity move to every row independently.
// A failing row is reported and does not undo the rows already moved.
func (s *LedgerService) BulkSetState(ctx context.Context, req *BulkSetStateRequest) ([]models.ItemResult, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.BulkSetState",
		attribute.Int("rows", len(req.IDs)),
		attribute.String("target_stage", req.TargetStage.String()))
	defer span.End()

	if !req.TargetStage.Movable() {
		return nil, fmt.Errorf("%w: %q is not a move target", models.ErrValidation, req.TargetStage)
	}

	body := *req
	body.Authorization, body.IdempotencyKey = "", ""

	results := []models.ItemResult{}
	err := s.withIdempotency(ctx, req.IdempotencyKey, body, &results, func() error {
		results = make([]models.ItemResult, 0, len(req.IDs))
		for _, id := range req.IDs {
			_, err := s.move(ctx, moveParams{
				rowID:         id,
				target:        req.TargetStage,
				all:           true,
				actor:         req.Actor,
				reason:        req.Reason,
				authorization: req.Authorization,
			})
			results = append(results, s.itemResult("set_state", id, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// BulkDelete logs a Removed entry for every row and then deletes it.
// Rows are handled independently, like BulkSetState.
func (s *LedgerService) BulkDelete(ctx context.Context, req *BulkDeleteRequest) ([]models.ItemResult, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.BulkDelete", attribute.Int("rows", len(req.IDs)))
	defer span.End()

	body := *req
	body.Authorization, body.IdempotencyKey = "", ""

	results := []models.ItemResult{}
	err := s.withIdempotency(ctx, req.IdempotencyKey, body, &results, func() error {
		results = make([]models.ItemResult, 0, len(req.IDs))
		deleted := make([]models.DeletedRowData, 0, len(req.IDs))
		for _, id := range req.IDs {
			row, err := s.deleteRow(ctx, id, req)
			results = append(results, s.itemResult("delete", id, err))
			if err == nil {
				deleted = append(deleted, models.DeletedRowData{
					RowID:    row.ID,
					SKU:      row.SKU,
					Channel:  row.Channel,
					Stage:    row.Stage,
					Quantity: row.Quantity,
				})
			}
		}
		s.afterDelete(ctx, deleted)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *LedgerService) deleteRow(ctx context.Context, id int64, req *BulkDeleteRequest) (*models.ProductionRow, error) {
	reason := ledger.ReasonRemoved
	if strings.TrimSpace(req.Reason) != "" {
		reason = ledger.NormalizeReason(req.Reason)
	}

	var deleted *models.ProductionRow
	err := s.runTx(ctx, "delete", func(tx store.Tx) error {
		row, err := tx.GetRowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := auth.Check(ctx, s.policy, auth.Request{
			Action:        auth.ActionDelete,
			Row:           row,
			Actor:         req.Actor,
			Authorization: req.Authorization,
		}); err != nil {
			return err
		}

		if err := tx.AppendLog(ctx, &models.MovementLogEntry{
			RowKey:        row.RowKey(),
			SKU:           row.SKU,
			Channel:       row.Channel,
			StageBefore:   row.Stage,
			StageAfter:    pipeline.StageRemoved,
			QtyBefore:     models.Int(row.Quantity),
			QtyAfter:      models.Int(0),
			PlusBefore:    models.Int(row.Plus),
			PlusAfter:     models.Int(0),
			CorrelationID: uuid.New().String(),
			Reason:        reason,
			Actor:         ledger.NormalizeActor(req.Actor),
			CreatedAt:     s.now(),
		}); err != nil {
			return err
		}
		if err := tx.DeleteRow(ctx, row); err != nil {
			return err
		}
		deleted = row
		return nil
	})
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	s.logger.Info("Row removed",
		zap.Int64("row_id", deleted.ID),
		zap.String("row_key", deleted.RowKey()),
		zap.String("stage", deleted.Stage.String()),
		zap.Int("qty", deleted.Quantity))
	return deleted, nil
}

// afterDelete invalidates and publishes per sku, so each RowsDeleted event
// shares a partition key with the sku's other events
func (s *LedgerService) afterDelete(ctx context.Context, rows []models.DeletedRowData) {
	var skus []string
	bySKU := make(map[string][]models.DeletedRowData)
	for _, r := range rows {
		if _, ok := bySKU[r.SKU]; !ok {
			skus = append(skus, r.SKU)
		}
		bySKU[r.SKU] = append(bySKU[r.SKU], r)
	}

	for _, sku := range skus {
		s.invalidate(ctx, sku)
		if s.publisher == nil {
			continue
		}
		event := &models.RowsDeletedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRowsDeleted,
				Timestamp: s.now(),
			},
			Rows: bySKU[sku],
		}
		if err := s.publisher.PublishRowsDeleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish RowsDeleted event",
				zap.String("sku", sku),
				zap.Int("rows", len(event.Rows)),
				zap.Error(err))
		}
	}
}

func (s *LedgerService) itemResult(operation string, id int64, err error) models.ItemResult {
	if err == nil {
		util.BulkItemsTotal.WithLabelValues(operation, "ok").Inc()
		return models.ItemResult{ID: id, OK: true}
	}
	outcome := "error"
	if definite(err) {
		outcome = "rejected"
	}
	util.BulkItemsTotal.WithLabelValues(operation, outcome).Inc()
	if !definite(err) && !errors.Is(err, context.Canceled) {
		s.logger.Error("Bulk item failed", zap.String("operation", operation), zap.Int64("row_id", id), zap.Error(err))
	}
	return models.ItemResult{ID: id, OK: false, Message: err.Error()}
}
