package models

import (
	"time"
)

// Classification is the closed set of outcomes the content provider can
// assign to an inbound reply.
type Classification string

const (
	ClassInterested    Classification = "interested"
	ClassNotInterested Classification = "not_interested"
	ClassNeutral       Classification = "neutral"
	ClassUnparseable   Classification = "unparseable"
)

// InboundMessage is one message surfaced by the mail transport. A message
// whose body could not be decoded still comes through, with ParseError set,
// so the pipeline can route it to a sink instead of losing it behind the
// advancing watermark.
type InboundMessage struct {
	MessageID  string    `json:"message_id"`
	UID        uint32    `json:"uid"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	ParseError string    `json:"parse_error,omitempty"`
}

// ReplyEvent is an inbound message admitted to the ingestion queue.
// Attempts counts processing attempts made by the worker pool.
type ReplyEvent struct {
	Message  InboundMessage
	Attempts int
}

// ProcessedReply records a message id whose reply has been fully handled.
// The unique index is the durable dedupe set: a message id is processed at
// most once across restarts. Rows are pruned once the inbox watermark is
// safely past them.
type ProcessedReply struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ProcessedAt time.Time `json:"processed_at" gorm:"index"`
}

// TableName specifies the table name for ProcessedReply
func (ProcessedReply) TableName() string {
	return "processed_replies"
}

// InboxCursor persists the IMAP UID watermark so a restart resumes polling
// without reprocessing. A single row per mailbox.
type InboxCursor struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Mailbox   string    `gorm:"type:varchar(128);not null;uniqueIndex"`
	LastUID   uint32    `gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for InboxCursor
func (InboxCursor) TableName() string {
	return "inbox_cursors"
}

// DeadLetter holds a reply event that exhausted its retries, kept for
// manual inspection and never auto-retried.
type DeadLetter struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string    `json:"message_id" gorm:"type:varchar(255);not null;index"`
	Sender    string    `json:"sender" gorm:"type:varchar(255)"`
	Subject   string    `json:"subject" gorm:"type:varchar(255)"`
	Body      string    `json:"body" gorm:"type:text"`
	Reason    string    `json:"reason" gorm:"type:text"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for DeadLetter
func (DeadLetter) TableName() string {
	return "dead_letters"
}

// OrphanedReply is the manual-review sink: replies with no matching lead,
// and replies classified neutral or unparseable, land here instead of
// triggering an automated transition.
type OrphanedReply struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string    `json:"message_id" gorm:"type:varchar(255);not null;index"`
	Sender    string    `json:"sender" gorm:"type:varchar(255)"`
	Subject   string    `json:"subject" gorm:"type:varchar(255)"`
	Body      string    `json:"body" gorm:"type:text"`
	Reason    string    `json:"reason" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for OrphanedReply
func (OrphanedReply) TableName() string {
	return "orphaned_replies"
}
