package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"production-ledger/internal/ledger"
	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"
	"production-ledger/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LogView selects how much post-processing a log read applies
type LogView string

const (
	LogViewRaw        LogView = "raw"
	LogViewNormalized LogView = "normalized"
	LogViewDeduped    LogView = "deduped"
)

// ParseLogView accepts an empty string as the raw view
func ParseLogView(raw string) (LogView, error) {
	switch v := LogView(strings.ToLower(strings.TrimSpace(raw))); v {
	case "":
		return LogViewRaw, nil
	case LogViewRaw, LogViewNormalized, LogViewDeduped:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown log view %q", models.ErrValidation, raw)
	}
}

// Logs returns the log stream of a row key in the requested view
func (s *LedgerService) Logs(ctx context.Context, rowKey string, view LogView) ([]models.MovementLogEntry, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.Logs", attribute.String("row_key", rowKey))
	defer span.End()

	if strings.TrimSpace(rowKey) == "" {
		return nil, fmt.Errorf("%w: row_key is required", models.ErrValidation)
	}
	entries, err := s.store.ListLogs(ctx, rowKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return s.view(entries, view), nil
}

func (s *LedgerService) view(entries []models.MovementLogEntry, view LogView) []models.MovementLogEntry {
	switch view {
	case LogViewRaw:
		return entries
	case LogViewNormalized:
		return ledger.NormalizeEntries(entries)
	default:
		return ledger.Dedupe(ledger.NormalizeEntries(entries), s.opts.DedupWindow)
	}
}

// FlowGraph projects the log of a sku onto the stage graph, labeled with current totals.
// Results are cached per sku until the next commit touching it.
func (s *LedgerService) FlowGraph(ctx context.Context, sku string, channel *pipeline.Channel, dedupe bool) (*ledger.FlowGraph, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.FlowGraph", attribute.String("sku", sku))
	defer span.End()

	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, fmt.Errorf("%w: sku is required", models.ErrValidation)
	}
	variant := flowVariant(channel, dedupe)

	if graph, ok := s.cachedFlow(ctx, sku, variant); ok {
		return graph, nil
	}
	// read before the rows so a commit racing this build keeps its graph out of the cache
	generation, cacheable := s.flowGeneration(ctx, sku)

	rows, err := s.ListRows(ctx, sku, channel)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListLogsBySKU(ctx, sku, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	entries = ledger.NormalizeEntries(entries)
	if dedupe {
		entries = ledger.Dedupe(entries, s.opts.DedupWindow)
	}
	graph := ledger.NewFlowGraph(ledger.TotalsByStage(rows, sku, channel), ledger.BuildFlowGraph(entries))

	if cacheable {
		s.storeFlow(ctx, sku, variant, generation, &graph)
	}
	return &graph, nil
}

func flowVariant(channel *pipeline.Channel, dedupe bool) string {
	scope := "all"
	if channel != nil {
		scope = channel.String()
	}
	mode := "raw"
	if dedupe {
		mode = "deduped"
	}
	return scope + ":" + mode
}

func (s *LedgerService) cachedFlow(ctx context.Context, sku, variant string) (*ledger.FlowGraph, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, ok, err := s.cache.GetFlow(ctx, sku, variant)
	if err != nil {
		s.logger.Warn("Flow cache read failed", zap.String("sku", sku), zap.Error(err))
		util.FlowCacheTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		util.FlowCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var graph ledger.FlowGraph
	if err := json.Unmarshal(payload, &graph); err != nil {
		s.logger.Warn("Discarding unreadable cached flow graph", zap.String("sku", sku), zap.Error(err))
		util.FlowCacheTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	util.FlowCacheTotal.WithLabelValues("hit").Inc()
	return &graph, true
}

func (s *LedgerService) flowGeneration(ctx context.Context, sku string) (int64, bool) {
	if s.cache == nil || s.opts.FlowCacheTTL <= 0 {
		return 0, false
	}
	generation, err := s.cache.FlowGeneration(ctx, sku)
	if err != nil {
		s.logger.Warn("Flow cache generation read failed", zap.String("sku", sku), zap.Error(err))
		util.FlowCacheTotal.WithLabelValues("error").Inc()
		return 0, false
	}
	return generation, true
}

func (s *LedgerService) storeFlow(ctx context.Context, sku, variant string, generation int64, graph *ledger.FlowGraph) {
	payload, err := json.Marshal(graph)
	if err != nil {
		s.logger.Warn("Failed to encode flow graph", zap.Error(err))
		return
	}
	stored, err := s.cache.SetFlow(ctx, sku, variant, generation, payload, s.opts.FlowCacheTTL)
	if err != nil {
		s.logger.Warn("Flow cache write failed", zap.String("sku", sku), zap.Error(err))
		return
	}
	if !stored {
		util.FlowCacheTotal.WithLabelValues("stale").Inc()
		s.logger.Debug("Skipped caching a flow graph invalidated while building", zap.String("sku", sku))
	}
}
