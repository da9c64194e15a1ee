package ledger

import (
	"encoding/json"
	"math/rand"
	"testing"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func move(from, to pipeline.Stage, before, after int) models.MovementLogEntry {
	return models.MovementLogEntry{
		RowKey:      "X/Own-Site",
		StageBefore: from,
		StageAfter:  to,
		QtyBefore:   models.Int(before),
		QtyAfter:    models.Int(after),
		Reason:      MovedTo(to),
	}
}

func TestBuildFlowGraphAccumulates(t *testing.T) {
	logs := []models.MovementLogEntry{
		move(pipeline.StagePrintingQueue, pipeline.StagePrinted, 10, 6),
		move(pipeline.StagePrintingQueue, pipeline.StagePrinted, 6, 0),
		move(pipeline.StagePrinted, pipeline.StageCalendared, 10, 7),
		{RowKey: "X/Own-Site", StageBefore: pipeline.StagePrinted, StageAfter: pipeline.StagePrinted,
			QtyBefore: models.Int(7), QtyAfter: models.Int(9), Reason: ReasonQuantityCorrection},
	}

	edges := BuildFlowGraph(logs)

	require.Len(t, edges, 2)
	assert.Equal(t, Edge{From: pipeline.StagePrintingQueue, To: pipeline.StagePrinted, Quantity: 10, Direction: pipeline.Forward}, edges[0])
	assert.Equal(t, Edge{From: pipeline.StagePrinted, To: pipeline.StageCalendared, Quantity: 3, Direction: pipeline.Forward}, edges[1])
}

func TestBuildFlowGraphBackwardEdge(t *testing.T) {
	// rework: Sewn back to Printed, with a history row whose delta is negative
	logs := []models.MovementLogEntry{
		move(pipeline.StageSewn, pipeline.StagePrinted, 5, 3),
		move(pipeline.StageSewn, pipeline.StagePrinted, 1, 4),
	}

	edges := BuildFlowGraph(logs)

	require.Len(t, edges, 1)
	assert.Equal(t, pipeline.Backward, edges[0].Direction)
	assert.Equal(t, -1, edges[0].Quantity)
	assert.False(t, edges[0].Unknown)
}

func TestBuildFlowGraphUnknownEdges(t *testing.T) {
	missing := move(pipeline.StagePrinted, pipeline.StageSewn, 0, 0)
	missing.QtyAfter = nil
	contradictory := move(pipeline.StageSewn, pipeline.StagePackaged, 5, 2)
	contradictory.DestQtyBefore, contradictory.DestQtyAfter = models.Int(0), models.Int(7)
	consistent := move(pipeline.StagePackaged, pipeline.StageDepot, 5, 2)
	consistent.DestQtyBefore, consistent.DestQtyAfter = models.Int(1), models.Int(4)

	edges := BuildFlowGraph([]models.MovementLogEntry{
		missing,
		move(pipeline.StagePrinted, pipeline.StageSewn, 4, 0),
		contradictory,
		consistent,
	})

	require.Len(t, edges, 3)
	assert.True(t, edges[0].Unknown)
	assert.Zero(t, edges[0].Quantity)
	assert.True(t, edges[1].Unknown)
	assert.False(t, edges[2].Unknown)
	assert.Equal(t, 3, edges[2].Quantity)

	b, err := json.Marshal(edges[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"Printed","to":"Sewn","quantity":null,"unknown":true,"direction":"forward"}`, string(b))
}

func TestBuildFlowGraphRemovedEdge(t *testing.T) {
	edges := BuildFlowGraph([]models.MovementLogEntry{
		move(pipeline.StageDepot, pipeline.StageRemoved, 8, 0),
		move(pipeline.StagePrintingQueue, pipeline.StagePrinted, 8, 0),
	})

	require.Len(t, edges, 2)
	assert.Equal(t, pipeline.StageRemoved, edges[1].To)
	assert.Equal(t, pipeline.Forward, edges[1].Direction)
	assert.Equal(t, 8, edges[1].Quantity)
}

func TestBuildFlowGraphOrderIndependent(t *testing.T) {
	logs := []models.MovementLogEntry{
		move(pipeline.StagePrintingQueue, pipeline.StagePrinted, 10, 6),
		move(pipeline.StagePrinted, pipeline.StageCalendared, 4, 1),
		move(pipeline.StageCalendared, pipeline.StageSewn, 3, 0),
		move(pipeline.StageSewn, pipeline.StagePrinted, 3, 2),
		move(pipeline.StagePrintingQueue, pipeline.StagePrinted, 6, 5),
		move(pipeline.StageDepot, pipeline.StageRemoved, 2, 0),
	}
	want := BuildFlowGraph(logs)

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.MovementLogEntry(nil), logs...)
		rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, BuildFlowGraph(shuffled))
	}
}

func TestTotalsByStage(t *testing.T) {
	rows := []models.ProductionRow{
		{SKU: "ABC-123", Channel: pipeline.ChannelOwnSite, Stage: pipeline.StagePrinted, Quantity: 4},
		{SKU: "ABC-123", Channel: pipeline.ChannelAmazonVendor, Stage: pipeline.StagePrinted, Quantity: 6},
		{SKU: "ABC-123", Channel: pipeline.ChannelOwnSite, Stage: pipeline.StageDepot, Quantity: 2},
		{SKU: "OTHER", Channel: pipeline.ChannelOwnSite, Stage: pipeline.StageDepot, Quantity: 50},
	}
	own := pipeline.ChannelOwnSite

	filtered := TotalsByStage(rows, "ABC-123", &own)
	all := TotalsByStage(rows, "ABC-123", nil)

	assert.Len(t, filtered, len(pipeline.Stages()))
	assert.Equal(t, 4, filtered[pipeline.StagePrinted])
	assert.Equal(t, 2, filtered[pipeline.StageDepot])
	assert.Equal(t, 0, filtered[pipeline.StageSewn])
	assert.Equal(t, 10, all[pipeline.StagePrinted])
	assert.Equal(t, 2, all[pipeline.StageDepot])

	reversed := []models.ProductionRow{rows[3], rows[2], rows[1], rows[0]}
	assert.Equal(t, all, TotalsByStage(reversed, "ABC-123", nil))
}

func TestNewFlowGraph(t *testing.T) {
	totals := TotalsByStage(nil, "none", nil)

	g := NewFlowGraph(totals, nil)

	assert.Len(t, g.Nodes, len(pipeline.Stages()))
	assert.Equal(t, pipeline.StagePrintingQueue, g.Nodes[0].Stage)
	assert.NotNil(t, g.Edges)
}
