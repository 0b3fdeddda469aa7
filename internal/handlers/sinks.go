package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"outreach-automation-go/internal/models"
)

// GetDeadLetters returns recent dead-lettered replies for inspection.
func (h *Handlers) GetDeadLetters(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "Invalid limit",
				Code:    http.StatusBadRequest,
			})
			return
		}
		limit = parsed
	}

	letters, err := h.store.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch dead letters",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, letters)
}

// GetStats returns aggregate campaign counters.
func (h *Handlers) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	byStatus, err := h.store.CountLeadsByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count leads",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	dead, orphaned, processed, err := h.store.SinkCounts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count sinks",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, models.StatsResponse{
		LeadsByStatus: byStatus,
		DeadLetters:   dead,
		Orphaned:      orphaned,
		Processed:     processed,
		QueueDepth:    h.pipeline.QueueDepth(),
	})
}
