// Package handlers exposes the operator API: lead inspection, task run
// history, manual task triggers, sink browsing, and health.
package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"outreach-automation-go/internal/pipeline"
	"outreach-automation-go/internal/scheduler"
	"outreach-automation-go/internal/store"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	store     *store.Store
	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Pipeline
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, st *store.Store, s *scheduler.Scheduler, p *pipeline.Pipeline) *Handlers {
	return &Handlers{db: db, store: st, scheduler: s, pipeline: p}
}

// SetupRoutes registers all API routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/leads", h.GetLeads)
		api.GET("/leads/:id", h.GetLead)
		api.GET("/tasks", h.GetTaskRuns)
		api.POST("/tasks/:kind/run", h.RunTask)
		api.GET("/deadletters", h.GetDeadLetters)
		api.GET("/stats", h.GetStats)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
