package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_moves_total",
		Help: "Total number of committed stage moves",
	}, []string{"direction"})

	MovedUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_moved_units_total",
		Help: "Total units moved, by target stage",
	}, []string{"stage"})

	MovesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_moves_rejected_total",
		Help: "Total number of rejected ledger mutations",
	}, []string{"reason"})

	ConflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Total number of transactions retried after a concurrent update",
	})

	QuantityEditsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_quantity_edits_total",
		Help: "Total number of manual quantity corrections",
	})

	InsertedUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_inserted_units_total",
		Help: "Total units introduced into the pipeline",
	}, []string{"source"})

	BulkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_bulk_items_total",
		Help: "Total rows processed by bulk operations",
	}, []string{"operation", "outcome"})

	MoveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_move_latency_seconds",
		Help:    "Latency of move transactions",
		Buckets: prometheus.DefBuckets,
	})

	FlowCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_flow_cache_total",
		Help: "Flow graph cache lookups and writes by result",
	}, []string{"result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_published_total",
		Help: "Events published to the broker",
	}, []string{"type", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
