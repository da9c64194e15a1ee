package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Tx is the set of ledger writes that commit or roll back together.
// Row updates and deletes carry the row's version as an optimistic precondition
// and fail with models.ErrConflict when another writer got there first.
type Tx interface {
	GetRowForUpdate(ctx context.Context, id int64) (*models.ProductionRow, error)
	// FindRowForUpdate returns nil, nil when no row exists for idx
	FindRowForUpdate(ctx context.Context, idx models.RowIndex) (*models.ProductionRow, error)
	InsertRow(ctx context.Context, row *models.ProductionRow) error
	UpdateRow(ctx context.Context, row *models.ProductionRow) error
	DeleteRow(ctx context.Context, row *models.ProductionRow) error
	AppendLog(ctx context.Context, entry *models.MovementLogEntry) error
	// MarkEventProcessed returns false when the event was already recorded
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Ledger is the storage hosting production rows and the movement log
type Ledger interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetRow(ctx context.Context, id int64) (*models.ProductionRow, error)
	ListRows(ctx context.Context, sku string, channel *pipeline.Channel) ([]models.ProductionRow, error)
	ListLogs(ctx context.Context, rowKey string) ([]models.MovementLogEntry, error)
	ListLogsBySKU(ctx context.Context, sku string, channel *pipeline.Channel) ([]models.MovementLogEntry, error)
	Ping(ctx context.Context) error
}

var (
	_ Ledger = (*Store)(nil)
	_ Ledger = (*MemoryStore)(nil)
)

// Store is the PostgreSQL ledger
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the ledger tables when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing only when fn succeeds
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError turns lock and uniqueness races into models.ErrConflict
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Message)
		}
	}
	return err
}
