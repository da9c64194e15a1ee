package ledger

import (
	"testing"
	"time"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func entry(id int64, key string, at time.Duration, reason string, before, after int) models.MovementLogEntry {
	return models.MovementLogEntry{
		ID:          id,
		RowKey:      key,
		StageBefore: pipeline.StagePrintingQueue,
		StageAfter:  pipeline.StagePrintingQueue,
		QtyBefore:   models.Int(before),
		QtyAfter:    models.Int(after),
		PlusBefore:  models.Int(0),
		PlusAfter:   models.Int(0),
		Reason:      reason,
		Actor:       "op",
		CreatedAt:   t0.Add(at),
	}
}

func TestDedupeMergesRetriedEdits(t *testing.T) {
	logs := []models.MovementLogEntry{
		entry(1, "Y/Own-Site", 0, ReasonQuantityCorrection, 10, 8),
		entry(2, "Y/Own-Site", 1*time.Second, ReasonQuantityCorrection, 8, 8),
		entry(3, "Y/Own-Site", 2*time.Second, ReasonQuantityCorrection, 8, 5),
	}

	out := Dedupe(logs, DefaultDedupWindow)

	require.Len(t, out, 1)
	assert.Equal(t, 10, *out[0].QtyBefore)
	assert.Equal(t, 5, *out[0].QtyAfter)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, t0.Add(2*time.Second), out[0].CreatedAt)
}

func TestDedupeSplitsRuns(t *testing.T) {
	logs := []models.MovementLogEntry{
		entry(1, "Y/Own-Site", 0, ReasonQuantityCorrection, 10, 8),
		entry(2, "Y/Own-Site", 10*time.Second, ReasonQuantityCorrection, 8, 7),
		entry(3, "Y/Own-Site", 11*time.Second, ReasonManualInsertion, 7, 9),
		entry(4, "Z/Own-Site", 11*time.Second, ReasonManualInsertion, 0, 3),
	}

	out := Dedupe(logs, DefaultDedupWindow)

	require.Len(t, out, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(out))
}

func TestDedupeKeepsMoveLegsAndStages(t *testing.T) {
	first := entry(1, "X/Own-Site", 0, "Moved to Printed", 10, 8)
	first.StageAfter = pipeline.StagePrinted
	first.DestQtyBefore, first.DestQtyAfter = models.Int(0), models.Int(2)
	second := entry(2, "X/Own-Site", time.Second, "Moved to Printed", 8, 6)
	second.StageAfter = pipeline.StagePrinted
	second.DestQtyBefore, second.DestQtyAfter = models.Int(2), models.Int(4)

	out := Dedupe([]models.MovementLogEntry{second, first}, DefaultDedupWindow)

	require.Len(t, out, 1)
	assert.Equal(t, pipeline.StagePrintingQueue, out[0].StageBefore)
	assert.Equal(t, pipeline.StagePrinted, out[0].StageAfter)
	assert.Equal(t, 0, *out[0].DestQtyBefore)
	assert.Equal(t, 4, *out[0].DestQtyAfter)
}

func TestDedupeIsIdempotent(t *testing.T) {
	logs := []models.MovementLogEntry{
		entry(5, "A/Own-Site", 4*time.Second, ReasonQuantityCorrection, 5, 4),
		entry(1, "A/Own-Site", 0, ReasonQuantityCorrection, 10, 8),
		entry(2, "A/Own-Site", 2*time.Second, ReasonQuantityCorrection, 8, 5),
		entry(3, "B/Amazon-Vendor", 2*time.Second, ReasonManualInsertion, 0, 4),
		entry(4, "B/Amazon-Vendor", 30*time.Second, ReasonManualInsertion, 4, 6),
		entry(6, "A/Own-Site", 20*time.Second, ReasonRemoved, 4, 0),
		entry(7, "A/Own-Site", 20*time.Second, ReasonRemoved, 4, 0),
	}

	once := Dedupe(logs, DefaultDedupWindow)
	twice := Dedupe(once, DefaultDedupWindow)

	assert.Equal(t, once, twice)
	require.Len(t, once, 4)
	assert.Equal(t, []int64{3, 1, 6, 4}, ids(once))
	assert.Equal(t, 10, *once[1].QtyBefore)
	assert.Equal(t, 4, *once[1].QtyAfter)
}

func TestDedupeEmpty(t *testing.T) {
	assert.Empty(t, Dedupe(nil, DefaultDedupWindow))
}

func TestDedupeDoesNotMutateInput(t *testing.T) {
	logs := []models.MovementLogEntry{
		entry(2, "A/Own-Site", time.Second, ReasonQuantityCorrection, 8, 5),
		entry(1, "A/Own-Site", 0, ReasonQuantityCorrection, 10, 8),
	}

	Dedupe(logs, DefaultDedupWindow)

	assert.Equal(t, []int64{2, 1}, ids(logs))
}

func ids(entries []models.MovementLogEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
