package models

import (
	"time"
)

// LeadResponse represents the response structure for leads
type LeadResponse struct {
	ID              uint       `json:"id"`
	Company         string     `json:"company"`
	Email           string     `json:"email"`
	Category        string     `json:"category"`
	Location        string     `json:"location"`
	Status          Status     `json:"status"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
	LastRepliedAt   *time.Time `json:"last_replied_at"`
	FollowupCount   int        `json:"followup_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TaskRunResponse represents the response structure for task runs
type TaskRunResponse struct {
	ID         uint       `json:"id"`
	Kind       TaskKind   `json:"kind"`
	Slot       string     `json:"slot"`
	Outcome    string     `json:"outcome"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// StatsResponse aggregates operator-facing counters.
type StatsResponse struct {
	LeadsByStatus map[Status]int64 `json:"leads_by_status"`
	DeadLetters   int64            `json:"dead_letters"`
	Orphaned      int64            `json:"orphaned_replies"`
	Processed     int64            `json:"processed_replies"`
	QueueDepth    int              `json:"queue_depth"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Details   map[string]string `json:"details,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
