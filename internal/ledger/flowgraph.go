package ledger

import (
	"encoding/json"
	"sort"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"
)

// Edge is the aggregated flow between two stages
type Edge struct {
	From      pipeline.Stage     `json:"from"`
	To        pipeline.Stage     `json:"to"`
	Quantity  int                `json:"-"`
	Unknown   bool               `json:"unknown"`
	Direction pipeline.Direction `json:"direction"`
}

// MarshalJSON reports a null quantity for unknown edges
func (e Edge) MarshalJSON() ([]byte, error) {
	type edgeJSON struct {
		From      pipeline.Stage     `json:"from"`
		To        pipeline.Stage     `json:"to"`
		Quantity  *int               `json:"quantity"`
		Unknown   bool               `json:"unknown"`
		Direction pipeline.Direction `json:"direction"`
	}
	out := edgeJSON{From: e.From, To: e.To, Unknown: e.Unknown, Direction: e.Direction}
	if !e.Unknown {
		q := e.Quantity
		out.Quantity = &q
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the form written by MarshalJSON
func (e *Edge) UnmarshalJSON(data []byte) error {
	var in struct {
		From      pipeline.Stage     `json:"from"`
		To        pipeline.Stage     `json:"to"`
		Quantity  *int               `json:"quantity"`
		Unknown   bool               `json:"unknown"`
		Direction pipeline.Direction `json:"direction"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Edge{From: in.From, To: in.To, Unknown: in.Unknown || in.Quantity == nil, Direction: in.Direction}
	if in.Quantity != nil {
		e.Quantity = *in.Quantity
	}
	return nil
}

// Node is a pipeline stage labeled with its current total
type Node struct {
	Stage    pipeline.Stage `json:"stage"`
	Quantity int            `json:"quantity"`
}

// FlowGraph is the read-time projection of a log over the fixed stage set
type FlowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type edgeKey struct {
	from, to pipeline.Stage
}

// BuildFlowGraph aggregates transitions into stage-to-stage edges.
// Entries without a stage change are ignored. An entry whose quantities are missing,
// negative or inconsistent with its destination leg marks its edge unknown.
func BuildFlowGraph(entries []models.MovementLogEntry) []Edge {
	acc := make(map[edgeKey]*Edge)
	for i := range entries {
		e := &entries[i]
		if !e.Transition() {
			continue
		}
		k := edgeKey{from: e.StageBefore, to: e.StageAfter}
		edge, ok := acc[k]
		if !ok {
			edge = &Edge{From: k.from, To: k.to, Direction: pipeline.DirectionOf(k.from, k.to)}
			acc[k] = edge
		}
		delta, known := entryDelta(e)
		if !known {
			edge.Unknown = true
			continue
		}
		edge.Quantity += delta
	}

	edges := make([]Edge, 0, len(acc))
	for _, edge := range acc {
		if edge.Unknown {
			edge.Quantity = 0
		}
		edges = append(edges, *edge)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return stageOrder(edges[i].From) < stageOrder(edges[j].From)
		}
		return stageOrder(edges[i].To) < stageOrder(edges[j].To)
	})
	return edges
}

// entryDelta returns qty_before - qty_after when it can be trusted
func entryDelta(e *models.MovementLogEntry) (int, bool) {
	if e.QtyBefore == nil || e.QtyAfter == nil {
		return 0, false
	}
	if *e.QtyBefore < 0 || *e.QtyAfter < 0 {
		return 0, false
	}
	delta := *e.QtyBefore - *e.QtyAfter
	if e.DestQtyBefore != nil && e.DestQtyAfter != nil && e.StageAfter != pipeline.StageRemoved {
		if *e.DestQtyAfter-*e.DestQtyBefore != delta {
			return 0, false
		}
	}
	return delta, true
}

// TotalsByStage sums row quantities per pipeline stage for sku, restricted to
// channel when it is non-nil. Every pipeline stage is present in the result.
func TotalsByStage(rows []models.ProductionRow, sku string, channel *pipeline.Channel) map[pipeline.Stage]int {
	totals := make(map[pipeline.Stage]int, len(pipeline.Stages()))
	for _, st := range pipeline.Stages() {
		totals[st] = 0
	}
	for _, r := range rows {
		if r.SKU != sku {
			continue
		}
		if channel != nil && r.Channel != *channel {
			continue
		}
		if _, ok := totals[r.Stage]; !ok {
			continue
		}
		totals[r.Stage] += r.Quantity
	}
	return totals
}

// NewFlowGraph labels the stage nodes with totals and attaches the edges
func NewFlowGraph(totals map[pipeline.Stage]int, edges []Edge) FlowGraph {
	nodes := make([]Node, 0, len(totals))
	for _, st := range pipeline.Stages() {
		nodes = append(nodes, Node{Stage: st, Quantity: totals[st]})
	}
	if edges == nil {
		edges = []Edge{}
	}
	return FlowGraph{Nodes: nodes, Edges: edges}
}

// stageOrder sorts Removed after every pipeline stage
func stageOrder(st pipeline.Stage) int {
	if idx := st.Index(); idx >= 0 {
		return idx
	}
	return len(pipeline.Stages()) + int(st)
}
