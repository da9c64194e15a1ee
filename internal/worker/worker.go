package worker

import (
	"context"

	"production-ledger/internal/broker"
	"production-ledger/internal/models"
	"production-ledger/internal/util"

	"go.uber.org/zap"
)

// Source delivers broker messages to a handler until its context ends
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// ProductionRequestHandler applies a production request to the ledger
type ProductionRequestHandler interface {
	HandleProductionRequest(ctx context.Context, event *models.ProductionRequestedEvent) error
}

// ProductionRequestWorker feeds production requests from the broker into the ledger
type ProductionRequestWorker struct {
	source       Source
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewProductionRequestWorker creates a new production request worker
func NewProductionRequestWorker(source Source, ledger ProductionRequestHandler) *ProductionRequestWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnProductionRequested(ledger.HandleProductionRequest)

	return &ProductionRequestWorker{
		source:       source,
		eventHandler: eventHandler,
		logger:       util.ComponentLogger("production-request-worker"),
	}
}

// Start blocks consuming messages until ctx is cancelled
func (w *ProductionRequestWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting production request worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ProductionRequestWorker) Stop() error {
	w.logger.Info("Stopping production request worker")
	return w.source.Close()
}
