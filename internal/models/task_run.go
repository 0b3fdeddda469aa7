package models

import (
	"time"
)

// TaskKind identifies a scheduled unit of campaign work.
type TaskKind string

const (
	TaskGenerate TaskKind = "generate"
	TaskOutreach TaskKind = "outreach"
	TaskFollowup TaskKind = "followup"
	TaskPrune    TaskKind = "prune"
)

// Task run outcomes.
const (
	OutcomeRunning = "running"
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// TaskRun records one firing of a campaign task. The unique (kind, slot)
// index is the idempotence guard: a task kind runs at most once per
// scheduled slot, even across a process restart within the same slot.
type TaskRun struct {
	ID         uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind       TaskKind   `json:"kind" gorm:"type:varchar(32);not null;uniqueIndex:ux_task_slot,priority:1"`
	Slot       string     `json:"slot" gorm:"type:varchar(32);not null;uniqueIndex:ux_task_slot,priority:2"`
	Outcome    string     `json:"outcome" gorm:"type:varchar(16);not null"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error" gorm:"type:text"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TableName specifies the table name for TaskRun
func (TaskRun) TableName() string {
	return "task_runs"
}
