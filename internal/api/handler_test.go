package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"production-ledger/internal/auth"
	"production-ledger/internal/models"
	"production-ledger/internal/service"
	"production-ledger/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const secret = "letmein"

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, deps map[string]Pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	policy, err := auth.NewSharedSecret(string(hash))
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	ledger := service.NewLedgerService(mem, policy, nil, nil, nil, service.Options{MaxRetries: 1})

	router := gin.New()
	NewHandler(ledger, deps).SetupRoutes(router)
	return router
}

func do(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func insert(t *testing.T, router *gin.Engine, body gin.H, headers map[string]string) models.ProductionRow {
	t.Helper()
	w := do(router, http.MethodPost, "/api/v1/rows", body, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var row models.ProductionRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	return row
}

func TestMoveEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	row := insert(t, router, gin.H{"sku": "X", "channel": "Sito", "quantity": 10}, nil)

	w := do(router, http.MethodPost, "/api/v1/moves", gin.H{"row_id": row.ID, "target_stage": "Printed", "qty": 4}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.MoveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 6, result.Source.Quantity)
	assert.Equal(t, 4, result.Destination.Quantity)
	assert.Equal(t, "X/Own-Site", result.Entry.RowKey)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"insufficient quantity", gin.H{"row_id": row.ID, "target_stage": "Printed", "qty": 11}, http.StatusConflict},
		{"same stage", gin.H{"row_id": row.ID, "target_stage": "Printing-Queue", "qty": 1}, http.StatusConflict},
		{"zero quantity", gin.H{"row_id": row.ID, "target_stage": "Printed", "qty": 0}, http.StatusUnprocessableEntity},
		{"removed target", gin.H{"row_id": row.ID, "target_stage": "Removed", "qty": 1}, http.StatusUnprocessableEntity},
		{"unknown stage", gin.H{"row_id": row.ID, "target_stage": "Dyed", "qty": 1}, http.StatusBadRequest},
		{"missing stage", gin.H{"row_id": row.ID, "qty": 1}, http.StatusBadRequest},
		{"unknown row", gin.H{"row_id": 999, "target_stage": "Printed", "qty": 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/moves", tt.body, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestGatedEditsNeedConfirmation(t *testing.T) {
	router := newTestRouter(t, nil)
	confirm := map[string]string{headerAuthorization: secret}

	w := do(router, http.MethodPost, "/api/v1/rows", gin.H{"sku": "G", "channel": "Amazon-Seller", "stage": "Sewn", "quantity": 5}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	row := insert(t, router, gin.H{"sku": "G", "channel": "Amazon-Seller", "stage": "Sewn", "quantity": 5}, confirm)

	w = do(router, http.MethodPost, "/api/v1/moves", gin.H{"row_id": row.ID, "target_stage": "Packaged", "qty": 2}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodPost, "/api/v1/moves", gin.H{"row_id": row.ID, "target_stage": "Packaged", "qty": 2}, confirm)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPatch, "/api/v1/rows/1", gin.H{"quantity": 1}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodPatch, "/api/v1/rows/1", gin.H{"quantity": 1, "authorization": secret}, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPatch, "/api/v1/rows/1", gin.H{"quantity": -1}, confirm)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(router, http.MethodPatch, "/api/v1/rows/404", gin.H{"note": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPatch, "/api/v1/rows/abc", gin.H{"note": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkEndpoints(t *testing.T) {
	router := newTestRouter(t, nil)
	a := insert(t, router, gin.H{"sku": "B", "channel": "vendor", "quantity": 2}, nil)
	b := insert(t, router, gin.H{"sku": "C", "channel": "vendor", "quantity": 3}, nil)

	w := do(router, http.MethodPost, "/api/v1/rows/bulk/state", gin.H{"ids": []int64{a.ID, 999}, "target_stage": "Calendared"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []models.ItemResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].OK)
	assert.False(t, resp.Results[1].OK)
	assert.NotEmpty(t, resp.Results[1].Message)

	w = do(router, http.MethodPost, "/api/v1/rows/bulk/delete", gin.H{"ids": []int64{b.ID}}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].OK)

	w = do(router, http.MethodPost, "/api/v1/rows/bulk/delete", gin.H{"ids": []int64{}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadEndpoints(t *testing.T) {
	router := newTestRouter(t, nil)
	row := insert(t, router, gin.H{"sku": "ABC-123", "channel": "Own-Site", "quantity": 10}, nil)
	insert(t, router, gin.H{"sku": "ABC-123", "channel": "Amazon-Vendor", "quantity": 5}, nil)
	w := do(router, http.MethodPost, "/api/v1/moves", gin.H{"row_id": row.ID, "target_stage": "Printed", "qty": 4}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/totals?sku=ABC-123&channel=sito", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var totals struct {
		Totals map[string]int `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
	assert.Equal(t, 6, totals.Totals["Printing-Queue"])
	assert.Equal(t, 4, totals.Totals["Printed"])
	assert.Equal(t, 0, totals.Totals["Depot"])

	w = do(router, http.MethodGet, "/api/v1/totals?sku=ABC-123", nil, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
	assert.Equal(t, 11, totals.Totals["Printing-Queue"])

	w = do(router, http.MethodGet, "/api/v1/rows?sku=ABC-123&channel=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/rows?sku=ABC-123", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.ProductionRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 3)

	w = do(router, http.MethodGet, "/api/v1/rows", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(router, http.MethodGet, "/api/v1/logs?row_key=ABC-123/Own-Site&view=deduped", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []models.MovementLogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.Len(t, logs, 2)

	w = do(router, http.MethodGet, "/api/v1/logs?row_key=ABC-123/Own-Site&view=fancy", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(router, http.MethodGet, "/api/v1/flow?sku=ABC-123&dedupe=false", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var graph struct {
		Nodes []map[string]interface{} `json:"nodes"`
		Edges []map[string]interface{} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &graph))
	assert.Len(t, graph.Nodes, 7)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "forward", graph.Edges[0]["direction"])
	assert.EqualValues(t, 4, graph.Edges[0]["quantity"])

	w = do(router, http.MethodGet, "/api/v1/flow?sku=ABC-123&dedupe=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadiness(t *testing.T) {
	router := newTestRouter(t, map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
	})
	w := do(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	router = newTestRouter(t, map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	w = do(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = do(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
