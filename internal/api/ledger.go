package api

import (
	"errors"
	"net/http"
	"strconv"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"
	"production-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// listRows handles GET /rows?sku=&channel=
func (h *Handler) listRows(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}

	rows, err := h.ledger.ListRows(c.Request.Context(), c.Query("sku"), channel)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// insertRow handles manual insertion
func (h *Handler) insertRow(c *gin.Context) {
	var req service.InsertRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Authorization == "" {
		req.Authorization = c.GetHeader(headerAuthorization)
	}

	row, err := h.ledger.Insert(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// editRow handles quantity corrections and metadata edits
func (h *Handler) editRow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid row ID",
		})
		return
	}

	var req service.EditRowRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Authorization == "" {
		req.Authorization = c.GetHeader(headerAuthorization)
	}

	row, err := h.ledger.EditRow(c.Request.Context(), id, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// move handles a stage transfer
func (h *Handler) move(c *gin.Context) {
	var req service.MoveRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Authorization == "" {
		req.Authorization = c.GetHeader(headerAuthorization)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(headerIdempotencyKey)
	}

	result, err := h.ledger.Move(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// bulkSetState handles full-quantity moves of many rows
func (h *Handler) bulkSetState(c *gin.Context) {
	var req service.BulkSetStateRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Authorization == "" {
		req.Authorization = c.GetHeader(headerAuthorization)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(headerIdempotencyKey)
	}

	results, err := h.ledger.BulkSetState(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// bulkDelete handles removal of many rows
func (h *Handler) bulkDelete(c *gin.Context) {
	var req service.BulkDeleteRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Authorization == "" {
		req.Authorization = c.GetHeader(headerAuthorization)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(headerIdempotencyKey)
	}

	results, err := h.ledger.BulkDelete(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// listLogs handles GET /logs?row_key=&view=
func (h *Handler) listLogs(c *gin.Context) {
	view, err := service.ParseLogView(c.Query("view"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	entries, err := h.ledger.Logs(c.Request.Context(), c.Query("row_key"), view)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// totals handles GET /totals?sku=&channel=
func (h *Handler) totals(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}

	totals, err := h.ledger.Totals(c.Request.Context(), c.Query("sku"), channel)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sku":    c.Query("sku"),
		"totals": totals,
	})
}

// flow handles GET /flow?sku=&channel=&dedupe=
func (h *Handler) flow(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}
	dedupe := true
	if raw := c.Query("dedupe"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid dedupe flag",
			})
			return
		}
		dedupe = parsed
	}

	graph, err := h.ledger.FlowGraph(c.Request.Context(), c.Query("sku"), channel, dedupe)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// channelParam reads the optional channel filter; it writes a 400 and returns false when malformed
func channelParam(c *gin.Context) (*pipeline.Channel, bool) {
	raw := c.Query("channel")
	if raw == "" {
		return nil, true
	}
	channel, err := pipeline.ParseChannel(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid channel",
			"details": err.Error(),
		})
		return nil, false
	}
	return &channel, true
}

// writeError maps ledger errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrSameStage),
		errors.Is(err, models.ErrInsufficientQuantity),
		errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{
			"error": "Internal error",
		})
		return
	}
	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"details": err.Error(),
	})
}
