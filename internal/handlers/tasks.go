package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"outreach-automation-go/internal/models"
)

// GetTaskRuns returns recent campaign task runs, newest first.
func (h *Handlers) GetTaskRuns(c *gin.Context) {
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

	runs, err := h.store.RecentTaskRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch task runs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]models.TaskRunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, models.TaskRunResponse{
			ID:         run.ID,
			Kind:       run.Kind,
			Slot:       run.Slot,
			Outcome:    run.Outcome,
			Processed:  run.Processed,
			Failed:     run.Failed,
			Error:      run.Error,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	c.JSON(http.StatusOK, responses)
}

// RunTask triggers a campaign task outside its schedule.
func (h *Handlers) RunTask(c *gin.Context) {
	kind := models.TaskKind(c.Param("kind"))
	if err := h.scheduler.RunNow(kind); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_task",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "kind": kind})
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"next_runs": h.scheduler.NextRuns(),
	})
}
