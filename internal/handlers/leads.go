package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

// GetLeads returns tracked leads, optionally filtered by status.
func (h *Handlers) GetLeads(c *gin.Context) {
	filter := store.LeadFilter{Limit: 100}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "Invalid limit",
				Code:    http.StatusBadRequest,
			})
			return
		}
		filter.Limit = limit
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []models.Status{models.Status(status)}
	}

	leads, err := h.store.QueryLeads(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch leads",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]models.LeadResponse, 0, len(leads))
	for _, lead := range leads {
		responses = append(responses, leadResponse(&lead))
	}
	c.JSON(http.StatusOK, responses)
}

// GetLead returns a single lead by ID
func (h *Handlers) GetLead(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_id", Message: "Invalid lead ID", Code: http.StatusBadRequest})
		return
	}

	lead, err := h.store.GetLead(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "Lead not found", Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: "Failed to fetch lead", Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, leadResponse(lead))
}

func leadResponse(lead *models.Lead) models.LeadResponse {
	return models.LeadResponse{
		ID:              lead.ID,
		Company:         lead.Company,
		Email:           lead.Email,
		Category:        lead.Category,
		Location:        lead.Location,
		Status:          lead.Status,
		LastContactedAt: lead.LastContactedAt,
		LastRepliedAt:   lead.LastRepliedAt,
		FollowupCount:   lead.FollowupCount,
		CreatedAt:       lead.CreatedAt,
	}
}
