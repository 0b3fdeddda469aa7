// Package store is the single source of truth for lead records and the
// engine's durable bookkeeping (dedupe set, inbox watermark, task-run
// markers, dead-letter and manual-review sinks). All lead mutation goes
// through CompareAndSetLead; nothing in the engine caches lead state
// across operations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"outreach-automation-go/internal/models"
)

var (
	// ErrNotFound is returned when the referenced lead does not exist.
	ErrNotFound = errors.New("lead not found")
	// ErrConflict is returned when a compare-and-set precondition fails.
	// The caller re-reads current state and re-decides; this is not an
	// operator-visible error.
	ErrConflict = errors.New("lead version conflict")
)

// Store provides typed access to lead records backed by MySQL.
type Store struct {
	db *gorm.DB
}

// New creates a Store on top of an initialized database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetLead returns the current snapshot of a lead.
func (s *Store) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	result := s.db.WithContext(ctx).First(&lead, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &lead, nil
}

// GetLeadByEmail returns the lead owning the given contact address.
func (s *Store) GetLeadByEmail(ctx context.Context, email string) (*models.Lead, error) {
	var lead models.Lead
	result := s.db.WithContext(ctx).Where("email = ?", email).First(&lead)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &lead, nil
}

// CompareAndSetLead applies the mutated snapshot atomically, guarded by the
// version the snapshot was read at. Exactly one of two racing writers wins;
// the loser gets ErrConflict and must re-read.
func (s *Store) CompareAndSetLead(ctx context.Context, lead *models.Lead) error {
	expected := lead.Version
	updates := map[string]interface{}{
		"status":            lead.Status,
		"subject":           lead.Subject,
		"thread_id":         lead.ThreadID,
		"last_contacted_at": lead.LastContactedAt,
		"last_replied_at":   lead.LastRepliedAt,
		"followup_count":    lead.FollowupCount,
		"version":           expected + 1,
	}

	result := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND version = ?", lead.ID, expected).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("database error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish a stale version from a missing row.
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Lead{}).
			Where("id = ?", lead.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	lead.Version = expected + 1
	return nil
}

// InsertLeadIfAbsent creates the lead unless its contact address is already
// tracked. Returns true when a new row was created.
func (s *Store) InsertLeadIfAbsent(ctx context.Context, lead *models.Lead) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("email = ?", lead.Email).Count(&count).Error; err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	result := s.db.WithContext(ctx).Create(lead)
	if result.Error != nil {
		// Lost a race on the unique email index.
		if isDuplicateKey(result.Error) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert lead: %w", result.Error)
	}
	return true, nil
}

// isDuplicateKey matches both gorm's translated sentinel and the raw MySQL
// duplicate-entry error (1062).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// LeadFilter selects outreach and follow-up candidates.
type LeadFilter struct {
	Statuses        []models.Status
	ContactedBefore *time.Time
	HasEmail        bool
	Limit           int
}

// QueryLeads returns current snapshots matching the filter.
func (s *Store) QueryLeads(ctx context.Context, filter LeadFilter) ([]models.Lead, error) {
	q := s.db.WithContext(ctx).Model(&models.Lead{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.ContactedBefore != nil {
		q = q.Where("last_contacted_at IS NOT NULL AND last_contacted_at < ?", *filter.ContactedBefore)
	}
	if filter.HasEmail {
		q = q.Where("email <> ''")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var leads []models.Lead
	if err := q.Order("id").Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	return leads, nil
}

// CountLeadsByStatus returns lead counts grouped by status.
func (s *Store) CountLeadsByStatus(ctx context.Context) (map[models.Status]int64, error) {
	type row struct {
		Status models.Status
		N      int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&models.Lead{}).
		Select("status, count(*) as n").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count leads: %w", err)
	}
	counts := make(map[models.Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
