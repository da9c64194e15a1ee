package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

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

// FlowCache stores serialized flow graphs per sku. InvalidateSKU bumps the sku's
// generation; SetFlow only writes while the generation it is given is current.
type FlowCache interface {
	GetFlow(ctx context.Context, sku, variant string) ([]byte, bool, error)
	FlowGeneration(ctx context.Context, sku string) (int64, error)
	SetFlow(ctx context.Context, sku, variant string, generation int64, payload []byte, ttl time.Duration) (bool, error)
	InvalidateSKU(ctx context.Context, sku string) error
}

// IdempotencyStore remembers the response of a keyed request
type IdempotencyStore interface {
	Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, []byte, error)
	Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// EventPublisher emits commit signals for downstream consumers
type EventPublisher interface {
	PublishMovementCommitted(ctx context.Context, event *models.MovementCommittedEvent) error
	PublishRowsDeleted(ctx context.Context, event *models.RowsDeletedEvent) error
}

// Options tunes the ledger service
type Options struct {
	DedupWindow    time.Duration
	MaxRetries     int
	FlowCacheTTL   time.Duration
	IdempotencyTTL time.Duration
}

// LedgerService owns every mutation of the production ledger
type LedgerService struct {
	store       store.Ledger
	policy      auth.Policy
	cache       FlowCache
	idempotency IdempotencyStore
	publisher   EventPublisher
	opts        Options
	logger      *zap.Logger
	now         func() time.Time
}

// NewLedgerService creates a new ledger service. cache, idempotency and publisher may be nil.
func NewLedgerService(
	ledgerStore store.Ledger,
	policy auth.Policy,
	cache FlowCache,
	idempotency IdempotencyStore,
	publisher EventPublisher,
	opts Options,
) *LedgerService {
	if policy == nil {
		policy = auth.AllowAll{}
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = ledger.DefaultDedupWindow
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &LedgerService{
		store:       ledgerStore,
		policy:      policy,
		cache:       cache,
		idempotency: idempotency,
		publisher:   publisher,
		opts:        opts,
		logger:      util.ComponentLogger("ledger"),
		now:         time.Now,
	}
}

// MoveRequest represents a request to move units between stages
type MoveRequest struct {
	RowID          int64          `json:"row_id" binding:"required"`
	TargetStage    pipeline.Stage `json:"target_stage" binding:"required,stage"`
	Qty            int            `json:"qty"`
	Actor          string         `json:"actor"`
	Reason         string         `json:"reason"`
	Authorization  string         `json:"authorization"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// moveParams is the internal form of a move; all moves the whole row
type moveParams struct {
	rowID         int64
	target        pipeline.Stage
	qty           int
	all           bool
	actor         string
	reason        string
	authorization string
}

// Move transfers qty units of a row to targetStage, logging the move in the same transaction
func (s *LedgerService) Move(ctx context.Context, req *MoveRequest) (*models.MoveResult, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.Move",
		attribute.Int64("row_id", req.RowID),
		attribute.String("target_stage", req.TargetStage.String()))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if req.Qty <= 0 {
		util.MovesRejectedTotal.WithLabelValues("invalid_quantity").Inc()
		err = fmt.Errorf("%w: quantity must be positive, got %d", models.ErrValidation, req.Qty)
		return nil, err
	}

	body := *req
	body.Authorization, body.IdempotencyKey = "", ""

	var result models.MoveResult
	err = s.withIdempotency(ctx, req.IdempotencyKey, body, &result, func() error {
		res, moveErr := s.move(ctx, moveParams{
			rowID:         req.RowID,
			target:        req.TargetStage,
			qty:           req.Qty,
			actor:         req.Actor,
			reason:        req.Reason,
			authorization: req.Authorization,
		})
		if moveErr != nil {
			return moveErr
		}
		result = *res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *LedgerService) move(ctx context.Context, p moveParams) (*models.MoveResult, error) {
	if !p.target.Movable() {
		util.MovesRejectedTotal.WithLabelValues("invalid_stage").Inc()
		return nil, fmt.Errorf("%w: %q is not a move target", models.ErrValidation, p.target)
	}

	start := time.Now()
	defer func() {
		util.MoveLatency.Observe(time.Since(start).Seconds())
	}()

	correlationID := uuid.New().String()
	var result *models.MoveResult
	err := s.runTx(ctx, "move", func(tx store.Tx) error {
		src, err := tx.GetRowForUpdate(ctx, p.rowID)
		if err != nil {
			return err
		}
		qty := p.qty
		if p.all {
			qty = src.Quantity
		}
		if src.Stage == p.target {
			return fmt.Errorf("%w: row %d is already in %s", models.ErrSameStage, src.ID, p.target)
		}
		if qty > src.Quantity {
			return fmt.Errorf("%w: row %d has %d, requested %d", models.ErrInsufficientQuantity, src.ID, src.Quantity, qty)
		}
		if err := auth.Check(ctx, s.policy, auth.Request{
			Action:        auth.ActionMove,
			Row:           src,
			Actor:         p.actor,
			Authorization: p.authorization,
		}); err != nil {
			return err
		}

		srcBefore := src.Quantity
		src.Quantity -= qty
		removed := src.Quantity == 0
		if removed {
			err = tx.DeleteRow(ctx, src)
		} else {
			err = tx.UpdateRow(ctx, src)
		}
		if err != nil {
			return err
		}

		dst, destBefore, err := s.upsertAdd(ctx, tx, models.RowIndex{SKU: src.SKU, Channel: src.Channel, Stage: p.target}, qty, 0)
		if err != nil {
			return err
		}

		reason := ledger.MovedTo(p.target)
		if strings.TrimSpace(p.reason) != "" {
			reason = ledger.NormalizeReason(p.reason)
		}
		entry := &models.MovementLogEntry{
			RowKey:        src.RowKey(),
			SKU:           src.SKU,
			Channel:       src.Channel,
			StageBefore:   src.Stage,
			StageAfter:    p.target,
			QtyBefore:     models.Int(srcBefore),
			QtyAfter:      models.Int(src.Quantity),
			PlusBefore:    models.Int(src.Plus),
			PlusAfter:     models.Int(src.Plus),
			DestQtyBefore: models.Int(destBefore),
			DestQtyAfter:  models.Int(dst.Quantity),
			CorrelationID: correlationID,
			Reason:        reason,
			Actor:         ledger.NormalizeActor(p.actor),
			CreatedAt:     s.now(),
		}
		if err := tx.AppendLog(ctx, entry); err != nil {
			return err
		}

		result = &models.MoveResult{Source: src, SourceRemoved: removed, Destination: dst, Entry: entry}
		return nil
	})
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	direction := pipeline.DirectionOf(result.Entry.StageBefore, result.Entry.StageAfter)
	moved := *result.Entry.QtyBefore - *result.Entry.QtyAfter
	util.MovesTotal.WithLabelValues(string(direction)).Inc()
	util.MovedUnitsTotal.WithLabelValues(p.target.String()).Add(float64(moved))

	s.logger.Info("Move committed",
		zap.Int64("row_id", p.rowID),
		zap.String("row_key", result.Entry.RowKey),
		zap.String("from", result.Entry.StageBefore.String()),
		zap.String("to", p.target.String()),
		zap.Int("qty", moved),
		zap.String("direction", string(direction)),
		zap.String("correlation_id", correlationID))

	s.afterCommit(ctx, result.Entry, moved)
	return result, nil
}

// upsertAdd adds qty and plus to the row at idx, creating it when missing.
// It returns the row and its quantity before the change.
func (s *LedgerService) upsertAdd(ctx context.Context, tx store.Tx, idx models.RowIndex, qty, plus int) (*models.ProductionRow, int, error) {
	row, err := tx.FindRowForUpdate(ctx, idx)
	if err != nil {
		return nil, 0, err
	}
	if row == nil {
		row = &models.ProductionRow{
			SKU:      idx.SKU,
			Channel:  idx.Channel,
			Stage:    idx.Stage,
			Quantity: qty,
			Plus:     plus,
		}
		if err := tx.InsertRow(ctx, row); err != nil {
			return nil, 0, err
		}
		return row, 0, nil
	}

	before := row.Quantity
	row.Quantity += qty
	row.Plus += plus
	if err := tx.UpdateRow(ctx, row); err != nil {
		return nil, 0, err
	}
	return row, before, nil
}

// runTx retries fn against freshly read rows when a concurrent writer wins
func (s *LedgerService) runTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if !errors.Is(err, models.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		util.ConflictRetriesTotal.Inc()
		s.logger.Warn("Concurrent update, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

// afterCommit publishes the commit signal and drops cached graphs of the sku.
// Failures are logged; the ledger mutation is already durable.
func (s *LedgerService) afterCommit(ctx context.Context, entry *models.MovementLogEntry, qty int) {
	s.invalidate(ctx, entry.SKU)
	if s.publisher == nil {
		return
	}

	event := &models.MovementCommittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeMovementCommitted,
			Timestamp: s.now(),
		},
		CorrelationID: entry.CorrelationID,
		SKU:           entry.SKU,
		Channel:       entry.Channel,
		From:          entry.StageBefore,
		To:            entry.StageAfter,
		Quantity:      qty,
		Reason:        entry.Reason,
		Actor:         entry.Actor,
	}
	if err := s.publisher.PublishMovementCommitted(ctx, event); err != nil {
		s.logger.Error("Failed to publish MovementCommitted event",
			zap.String("correlation_id", entry.CorrelationID),
			zap.Error(err))
	}
}

func (s *LedgerService) invalidate(ctx context.Context, sku string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSKU(ctx, sku); err != nil {
		s.logger.Error("Failed to invalidate flow cache", zap.String("sku", sku), zap.Error(err))
	}
}

func (s *LedgerService) rejected(err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientQuantity):
		util.MovesRejectedTotal.WithLabelValues("insufficient_quantity").Inc()
	case errors.Is(err, models.ErrSameStage):
		util.MovesRejectedTotal.WithLabelValues("same_stage").Inc()
	case errors.Is(err, models.ErrUnauthorized):
		util.MovesRejectedTotal.WithLabelValues("unauthorized").Inc()
	case errors.Is(err, models.ErrNotFound):
		util.MovesRejectedTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, models.ErrValidation):
		util.MovesRejectedTotal.WithLabelValues("validation").Inc()
	case errors.Is(err, models.ErrConflict):
		util.MovesRejectedTotal.WithLabelValues("conflict").Inc()
	default:
		util.MovesRejectedTotal.WithLabelValues("error").Inc()
	}
}

// ListRows returns the rows of a sku ordered by channel and pipeline stage
func (s *LedgerService) ListRows(ctx context.Context, sku string, channel *pipeline.Channel) ([]models.ProductionRow, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, fmt.Errorf("%w: sku is required", models.ErrValidation)
	}
	rows, err := s.store.ListRows(ctx, sku, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Channel != rows[j].Channel {
			return rows[i].Channel < rows[j].Channel
		}
		return rows[i].Stage.Index() < rows[j].Stage.Index()
	})
	return rows, nil
}

// GetRow returns a row by ID
func (s *LedgerService) GetRow(ctx context.Context, id int64) (*models.ProductionRow, error) {
	return s.store.GetRow(ctx, id)
}

// Totals returns the quantity per pipeline stage of a sku
func (s *LedgerService) Totals(ctx context.Context, sku string, channel *pipeline.Channel) (map[pipeline.Stage]int, error) {
	rows, err := s.ListRows(ctx, sku, channel)
	if err != nil {
		return nil, err
	}
	return ledger.TotalsByStage(rows, strings.TrimSpace(sku), channel), nil
}
