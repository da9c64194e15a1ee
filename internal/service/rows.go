package service

import (
	"context"
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

// InsertRequest introduces units into the pipeline
type InsertRequest struct {
	SKU           string           `json:"sku" binding:"required"`
	Channel       pipeline.Channel `json:"channel" binding:"required,channel"`
	Stage         pipeline.Stage   `json:"stage" binding:"omitempty,stage"`
	Quantity      int              `json:"quantity"`
	Plus          int              `json:"plus"`
	Note          string           `json:"note"`
	Flagged       bool             `json:"flagged"`
	Actor         string           `json:"actor"`
	Authorization string           `json:"authorization"`
}

// EditRowRequest changes a row in place. Nil fields are left untouched.
type EditRowRequest struct {
	Quantity      *int    `json:"quantity"`
	Plus          *int    `json:"plus"`
	Note          *string `json:"note"`
	Flagged       *bool   `json:"flagged"`
	Actor         string  `json:"actor"`
	Reason        string  `json:"reason"`
	Authorization string  `json:"authorization"`
}

// Insert adds units at a stage (the initial stage by default), merging into an existing row
func (s *LedgerService) Insert(ctx context.Context, req *InsertRequest) (*models.ProductionRow, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.Insert", attribute.String("sku", req.SKU))
	defer span.End()

	if req.Stage == pipeline.StageUnknown {
		req.Stage = pipeline.Initial
	}
	if err := validateInsert(req); err != nil {
		return nil, err
	}

	var row *models.ProductionRow
	var entry *models.MovementLogEntry
	err := s.runTx(ctx, "insert", func(tx store.Tx) error {
		var err error
		row, entry, err = s.insertTx(ctx, tx, req, ledger.ReasonManualInsertion)
		return err
	})
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	util.InsertedUnitsTotal.WithLabelValues("manual").Add(float64(req.Quantity))
	s.logger.Info("Units inserted",
		zap.Int64("row_id", row.ID),
		zap.String("row_key", row.RowKey()),
		zap.String("stage", row.Stage.String()),
		zap.Int("qty", req.Quantity))

	s.afterCommit(ctx, entry, req.Quantity)
	return row, nil
}

// HandleProductionRequest adds requested units at the initial stage, once per event
func (s *LedgerService) HandleProductionRequest(ctx context.Context, event *models.ProductionRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.HandleProductionRequest",
		attribute.String("event_id", event.EventID))
	defer span.End()

	req := &InsertRequest{
		SKU:      event.SKU,
		Channel:  event.Channel,
		Stage:    pipeline.Initial,
		Quantity: event.Quantity,
		Plus:     event.Plus,
		Note:     event.Note,
		Actor:    event.Actor,
	}
	if err := validateInsert(req); err != nil {
		s.logger.Warn("Discarding invalid production request",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}

	var entry *models.MovementLogEntry
	duplicate := false
	err := s.runTx(ctx, "production_request", func(tx store.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
		if err != nil {
			return err
		}
		if !fresh {
			duplicate = true
			return nil
		}
		_, entry, err = s.insertTx(ctx, tx, req, ledger.ReasonProductionRequest)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply production request %s: %w", event.EventID, err)
	}
	if duplicate {
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.InsertedUnitsTotal.WithLabelValues("production_request").Add(float64(req.Quantity))
	s.afterCommit(ctx, entry, req.Quantity)
	return nil
}

func validateInsert(req *InsertRequest) error {
	req.SKU = strings.TrimSpace(req.SKU)
	switch {
	case req.SKU == "":
		return fmt.Errorf("%w: sku is required", models.ErrValidation)
	case !req.Channel.Valid():
		return fmt.Errorf("%w: unknown channel", models.ErrValidation)
	case !req.Stage.Movable():
		return fmt.Errorf("%w: units cannot be inserted at %s", models.ErrValidation, req.Stage)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", models.ErrValidation, req.Quantity)
	case req.Plus < 0:
		return fmt.Errorf("%w: plus must not be negative, got %d", models.ErrValidation, req.Plus)
	}
	return nil
}

func (s *LedgerService) insertTx(ctx context.Context, tx store.Tx, req *InsertRequest, reason string) (*models.ProductionRow, *models.MovementLogEntry, error) {
	idx := models.RowIndex{SKU: req.SKU, Channel: req.Channel, Stage: req.Stage}
	if err := auth.Check(ctx, s.policy, auth.Request{
		Action:        auth.ActionInsert,
		Row:           &models.ProductionRow{SKU: idx.SKU, Channel: idx.Channel, Stage: idx.Stage},
		Actor:         req.Actor,
		Authorization: req.Authorization,
	}); err != nil {
		return nil, nil, err
	}

	existing, err := tx.FindRowForUpdate(ctx, idx)
	if err != nil {
		return nil, nil, err
	}
	plusBefore := 0
	if existing != nil {
		plusBefore = existing.Plus
	}

	row, qtyBefore, err := s.upsertAdd(ctx, tx, idx, req.Quantity, req.Plus)
	if err != nil {
		return nil, nil, err
	}
	if req.Note != "" || req.Flagged {
		if req.Note != "" {
			row.Note = req.Note
		}
		row.Flagged = row.Flagged || req.Flagged
		if err := tx.UpdateRow(ctx, row); err != nil {
			return nil, nil, err
		}
	}

	entry := &models.MovementLogEntry{
		RowKey:        row.RowKey(),
		SKU:           row.SKU,
		Channel:       row.Channel,
		StageBefore:   row.Stage,
		StageAfter:    row.Stage,
		QtyBefore:     models.Int(qtyBefore),
		QtyAfter:      models.Int(row.Quantity),
		PlusBefore:    models.Int(plusBefore),
		PlusAfter:     models.Int(row.Plus),
		CorrelationID: uuid.New().String(),
		Reason:        reason,
		Actor:         ledger.NormalizeActor(req.Actor),
		CreatedAt:     s.now(),
	}
	if err := tx.AppendLog(ctx, entry); err != nil {
		return nil, nil, err
	}
	return row, entry, nil
}

// EditRow applies a quantity correction and/or metadata change to a row.
// Quantity and plus corrections are logged; a quantity of zero removes the row.
func (s *LedgerService) EditRow(ctx context.Context, id int64, req *EditRowRequest) (*models.ProductionRow, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.EditRow", attribute.Int64("row_id", id))
	defer span.End()

	if req.Quantity != nil && *req.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative, got %d", models.ErrValidation, *req.Quantity)
	}
	if req.Plus != nil && *req.Plus < 0 {
		return nil, fmt.Errorf("%w: plus must not be negative, got %d", models.ErrValidation, *req.Plus)
	}

	var row *models.ProductionRow
	var entry *models.MovementLogEntry
	err := s.runTx(ctx, "edit", func(tx store.Tx) error {
		entry = nil
		current, err := tx.GetRowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		row = current

		qtyBefore, plusBefore := current.Quantity, current.Plus
		qtyChanged := req.Quantity != nil && *req.Quantity != current.Quantity
		plusChanged := req.Plus != nil && *req.Plus != current.Plus
		metaChanged := (req.Note != nil && *req.Note != current.Note) ||
			(req.Flagged != nil && *req.Flagged != current.Flagged)

		if qtyChanged {
			if err := auth.Check(ctx, s.policy, auth.Request{
				Action:        auth.ActionEditQuantity,
				Row:           current,
				Actor:         req.Actor,
				Authorization: req.Authorization,
			}); err != nil {
				return err
			}
			current.Quantity = *req.Quantity
		}
		if plusChanged {
			current.Plus = *req.Plus
		}
		if req.Note != nil {
			current.Note = *req.Note
		}
		if req.Flagged != nil {
			current.Flagged = *req.Flagged
		}
		if !qtyChanged && !plusChanged && !metaChanged {
			return nil
		}
		if qtyChanged || plusChanged {
			current.ModifiedManually = true
		}

		if current.Quantity == 0 {
			err = tx.DeleteRow(ctx, current)
		} else {
			err = tx.UpdateRow(ctx, current)
		}
		if err != nil {
			return err
		}

		if !qtyChanged && !plusChanged {
			return nil
		}
		entry = &models.MovementLogEntry{
			RowKey:        current.RowKey(),
			SKU:           current.SKU,
			Channel:       current.Channel,
			StageBefore:   current.Stage,
			StageAfter:    current.Stage,
			QtyBefore:     models.Int(qtyBefore),
			QtyAfter:      models.Int(current.Quantity),
			PlusBefore:    models.Int(plusBefore),
			PlusAfter:     models.Int(current.Plus),
			CorrelationID: uuid.New().String(),
			Reason:        ledger.NormalizeReason(req.Reason),
			Actor:         ledger.NormalizeActor(req.Actor),
			CreatedAt:     s.now(),
		}
		return tx.AppendLog(ctx, entry)
	})
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	if entry != nil {
		util.QuantityEditsTotal.Inc()
		s.logger.Info("Row corrected",
			zap.Int64("row_id", id),
			zap.Int("qty_before", *entry.QtyBefore),
			zap.Int("qty_after", *entry.QtyAfter))
		s.afterCommit(ctx, entry, *entry.QtyAfter-*entry.QtyBefore)
	}
	return row, nil
}
