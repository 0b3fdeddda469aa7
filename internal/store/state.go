package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-automation-go/internal/models"
)

// ErrSlotTaken is returned by BeginTaskRun when the (kind, slot) pair has
// already been claimed, i.e. the task ran for this slot before a restart.
var ErrSlotTaken = errors.New("task slot already claimed")

// SeenReply reports whether the message id is in the durable dedupe set.
func (s *Store) SeenReply(ctx context.Context, messageID string) (bool, error) {
	var processed models.ProcessedReply
	result := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&processed)
	if result.Error == nil {
		return true, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed reply: %w", result.Error)
}

// MarkReplyProcessed records the message id in the dedupe set. Called only
// after the lead-state update and the auto-reply dispatch both succeeded,
// or the event was confirmed non-retriable.
func (s *Store) MarkReplyProcessed(ctx context.Context, messageID string) error {
	processed := models.ProcessedReply{
		MessageID:   messageID,
		ProcessedAt: time.Now(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&processed)
	if result.Error != nil {
		return fmt.Errorf("failed to mark reply as processed: %w", result.Error)
	}
	return nil
}

// PruneProcessedReplies drops dedupe entries older than the cutoff. The
// watermark has long passed them, so retention is bounded by policy.
func (s *Store) PruneProcessedReplies(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("processed_at < ?", before).
		Delete(&models.ProcessedReply{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune processed replies: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Watermark returns the last successfully admitted inbox UID for a mailbox.
func (s *Store) Watermark(ctx context.Context, mailbox string) (uint32, error) {
	var cursor models.InboxCursor
	result := s.db.WithContext(ctx).Where("mailbox = ?", mailbox).First(&cursor)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("database error reading watermark: %w", result.Error)
	}
	return cursor.LastUID, nil
}

// SaveWatermark persists the inbox cursor after a batch is admitted.
func (s *Store) SaveWatermark(ctx context.Context, mailbox string, uid uint32) error {
	cursor := models.InboxCursor{Mailbox: mailbox, LastUID: uid}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mailbox"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_uid", "updated_at"}),
	}).Create(&cursor)
	if result.Error != nil {
		return fmt.Errorf("failed to save watermark: %w", result.Error)
	}
	return nil
}

// BeginTaskRun claims the (kind, slot) pair. The unique index makes this the
// restart-safe idempotence guard: a second claim for the same slot returns
// ErrSlotTaken and the task must not fire again.
func (s *Store) BeginTaskRun(ctx context.Context, kind models.TaskKind, slot string) (*models.TaskRun, error) {
	run := models.TaskRun{
		Kind:      kind,
		Slot:      slot,
		Outcome:   models.OutcomeRunning,
		StartedAt: time.Now(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&run)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim task slot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSlotTaken
	}
	return &run, nil
}

// FinishTaskRun records the outcome and counts of a completed task run.
func (s *Store) FinishTaskRun(ctx context.Context, run *models.TaskRun, outcome string, processed, failed int, runErr error) error {
	now := time.Now()
	run.Outcome = outcome
	run.Processed = processed
	run.Failed = failed
	run.FinishedAt = &now
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to record task outcome: %w", err)
	}
	return nil
}

// RecentTaskRuns returns the latest task runs, newest first.
func (s *Store) RecentTaskRuns(ctx context.Context, limit int) ([]models.TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.TaskRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	return runs, nil
}

// RecordDeadLetter stores a reply event that exhausted its retries.
func (s *Store) RecordDeadLetter(ctx context.Context, msg models.InboundMessage, attempts int, reason string) error {
	dl := models.DeadLetter{
		MessageID: msg.MessageID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Reason:    reason,
		Attempts:  attempts,
	}
	if err := s.db.WithContext(ctx).Create(&dl).Error; err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}

// RecordOrphan stores a reply routed to the manual-review sink: no matching
// lead, or a classification that must not drive an automated transition.
func (s *Store) RecordOrphan(ctx context.Context, msg models.InboundMessage, reason string) error {
	orphan := models.OrphanedReply{
		MessageID: msg.MessageID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Reason:    reason,
	}
	if err := s.db.WithContext(ctx).Create(&orphan).Error; err != nil {
		return fmt.Errorf("failed to record orphaned reply: %w", err)
	}
	return nil
}

// DeadLetters returns dead-lettered events for inspection, newest first.
func (s *Store) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var letters []models.DeadLetter
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&letters).Error; err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	return letters, nil
}

// SinkCounts returns totals for the operator stats endpoint.
func (s *Store) SinkCounts(ctx context.Context) (deadLetters, orphaned, processed int64, err error) {
	if err = s.db.WithContext(ctx).Model(&models.DeadLetter{}).Count(&deadLetters).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	if err = s.db.WithContext(ctx).Model(&models.OrphanedReply{}).Count(&orphaned).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count orphaned replies: %w", err)
	}
	if err = s.db.WithContext(ctx).Model(&models.ProcessedReply{}).Count(&processed).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count processed replies: %w", err)
	}
	return deadLetters, orphaned, processed, nil
}
