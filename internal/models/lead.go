package models

import (
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a lead. A lead holds exactly one status
// at any time and is only mutated through the lifecycle machine.
type Status string

const (
	StatusNew                  Status = "new"
	StatusContacted            Status = "contacted"
	StatusRepliedInterested    Status = "replied_interested"
	StatusRepliedNotInterested Status = "replied_not_interested"
	StatusFollowedUp           Status = "followed_up"
	StatusClosed               Status = "closed"
)

// Terminal reports whether automated processing is finished for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRepliedInterested, StatusRepliedNotInterested, StatusClosed:
		return true
	}
	return false
}

// Lead represents a prospective contact tracked through the outreach
// lifecycle. Version implements optimistic concurrency: every update goes
// through a compare-and-set keyed on (ID, Version).
type Lead struct {
	ID              uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Company         string         `json:"company" gorm:"type:varchar(255);not null"`
	Website         string         `json:"website" gorm:"type:varchar(255)"`
	Email           string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Phone           string         `json:"phone" gorm:"type:varchar(64)"`
	Category        string         `json:"category" gorm:"type:varchar(128);index"`
	Location        string         `json:"location" gorm:"type:varchar(255)"`
	Status          Status         `json:"status" gorm:"type:varchar(32);not null;index"`
	Subject         string         `json:"subject" gorm:"type:varchar(255)"`
	ThreadID        string         `json:"thread_id" gorm:"type:varchar(255);index"`
	LastContactedAt *time.Time     `json:"last_contacted_at"`
	LastRepliedAt   *time.Time     `json:"last_replied_at"`
	FollowupCount   int            `json:"followup_count" gorm:"not null;default:0"`
	Version         int64          `json:"version" gorm:"not null;default:0"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Lead
func (Lead) TableName() string {
	return "leads"
}
