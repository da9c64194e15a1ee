package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"
)

// MemoryStore is an in-process ledger with the same transactional contract as Store.
// Transactions are serialized; a failed transaction restores the previous state.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[int64]models.ProductionRow
	index     map[models.RowIndex]int64
	logs      []models.MovementLogEntry
	processed map[string]string
	nextRowID int64
	nextLogID int64
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:      make(map[int64]models.ProductionRow),
		index:     make(map[models.RowIndex]int64),
		processed: make(map[string]string),
		now:       time.Now,
	}
}

// WithClock replaces the timestamp source, for tests
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

type memorySnapshot struct {
	rows      map[int64]models.ProductionRow
	index     map[models.RowIndex]int64
	processed map[string]string
	logCount  int
	nextRowID int64
	nextLogID int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		rows:      make(map[int64]models.ProductionRow, len(m.rows)),
		index:     make(map[models.RowIndex]int64, len(m.index)),
		processed: make(map[string]string, len(m.processed)),
		logCount:  len(m.logs),
		nextRowID: m.nextRowID,
		nextLogID: m.nextLogID,
	}
	for k, v := range m.rows {
		snap.rows[k] = v
	}
	for k, v := range m.index {
		snap.index[k] = v
	}
	for k, v := range m.processed {
		snap.processed[k] = v
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.rows = snap.rows
	m.index = snap.index
	m.processed = snap.processed
	m.logs = m.logs[:snap.logCount]
	m.nextRowID = snap.nextRowID
	m.nextLogID = snap.nextLogID
}

// WithTx runs fn with exclusive access to the ledger
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// GetRow retrieves a row by ID
func (m *MemoryStore) GetRow(_ context.Context, id int64) (*models.ProductionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrNotFound, id)
	}
	return &row, nil
}

// ListRows retrieves the rows of a sku, optionally for a single channel
func (m *MemoryStore) ListRows(_ context.Context, sku string, channel *pipeline.Channel) ([]models.ProductionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := []models.ProductionRow{}
	for _, row := range m.rows {
		if row.SKU != sku || (channel != nil && row.Channel != *channel) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// ListLogs retrieves the raw log of one row stream in commit order
func (m *MemoryStore) ListLogs(_ context.Context, rowKey string) ([]models.MovementLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := []models.MovementLogEntry{}
	for _, e := range m.logs {
		if e.RowKey == rowKey {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ListLogsBySKU retrieves the raw log of every stream of a sku
func (m *MemoryStore) ListLogsBySKU(_ context.Context, sku string, channel *pipeline.Channel) ([]models.MovementLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := []models.MovementLogEntry{}
	for _, e := range m.logs {
		if e.SKU != sku || (channel != nil && e.Channel != *channel) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type memTx struct {
	m *MemoryStore
}

func (t *memTx) GetRowForUpdate(_ context.Context, id int64) (*models.ProductionRow, error) {
	row, ok := t.m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrNotFound, id)
	}
	return &row, nil
}

func (t *memTx) FindRowForUpdate(_ context.Context, idx models.RowIndex) (*models.ProductionRow, error) {
	id, ok := t.m.index[idx]
	if !ok {
		return nil, nil
	}
	row := t.m.rows[id]
	return &row, nil
}

func (t *memTx) InsertRow(_ context.Context, row *models.ProductionRow) error {
	if row.Quantity <= 0 {
		return fmt.Errorf("%w: row quantity must be positive", models.ErrValidation)
	}
	if _, exists := t.m.index[row.Key()]; exists {
		return fmt.Errorf("%w: row %s already exists", models.ErrConflict, models.RowKey(row.SKU, row.Channel))
	}
	t.m.nextRowID++
	now := t.m.now()
	row.ID = t.m.nextRowID
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	t.m.rows[row.ID] = *row
	t.m.index[row.Key()] = row.ID
	return nil
}

func (t *memTx) UpdateRow(_ context.Context, row *models.ProductionRow) error {
	current, ok := t.m.rows[row.ID]
	if !ok || current.Version != row.Version {
		return fmt.Errorf("%w: row %d changed since read", models.ErrConflict, row.ID)
	}
	if row.Quantity <= 0 {
		return fmt.Errorf("%w: row quantity must be positive", models.ErrValidation)
	}
	current.Quantity = row.Quantity
	current.Plus = row.Plus
	current.Note = row.Note
	current.Flagged = row.Flagged
	current.ModifiedManually = row.ModifiedManually
	current.Version++
	current.UpdatedAt = t.m.now()
	t.m.rows[row.ID] = current

	row.Version = current.Version
	row.UpdatedAt = current.UpdatedAt
	return nil
}

func (t *memTx) DeleteRow(_ context.Context, row *models.ProductionRow) error {
	current, ok := t.m.rows[row.ID]
	if !ok || current.Version != row.Version {
		return fmt.Errorf("%w: row %d changed since read", models.ErrConflict, row.ID)
	}
	delete(t.m.rows, row.ID)
	delete(t.m.index, current.Key())
	return nil
}

func (t *memTx) AppendLog(_ context.Context, entry *models.MovementLogEntry) error {
	t.m.nextLogID++
	entry.ID = t.m.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.m.now()
	}
	t.m.logs = append(t.m.logs, *entry)
	return nil
}

func (t *memTx) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.m.processed[eventID]; ok {
		return false, nil
	}
	t.m.processed[eventID] = eventType
	return true, nil
}
