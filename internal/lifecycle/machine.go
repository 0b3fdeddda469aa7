// Package lifecycle owns the lead state machine. Every transition is
// applied through a compare-and-set against the store's current snapshot;
// the machine never overwrites state it did not read.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

var (
	// ErrInvalidTransition flags a transition request the current lead
	// state does not permit. The lead is left unchanged.
	ErrInvalidTransition = errors.New("invalid lead transition")

	// ErrAlreadyApplied reports that the lead already reflects the
	// requested outcome. Idempotent no-op; callers must not repeat side
	// effects such as sending a second auto-reply.
	ErrAlreadyApplied = errors.New("transition already applied")

	// ErrSuperseded reports that a concurrent writer won the race and the
	// requested transition is no longer valid against the new state. The
	// event is dropped as a no-op.
	ErrSuperseded = errors.New("transition superseded by concurrent update")
)

// casAttempts bounds the re-read loop on version conflicts.
const casAttempts = 5

// EventKind enumerates the inputs that drive lead transitions.
type EventKind string

const (
	EventOutreachSent    EventKind = "outreach_sent"
	EventReplyClassified EventKind = "reply_classified"
	EventFollowupDue     EventKind = "followup_due"
)

// Event is one transition request.
type Event struct {
	Kind           EventKind
	Classification models.Classification // set for EventReplyClassified
	Subject        string                // set for EventOutreachSent
	ThreadID       string                // set for EventOutreachSent
	At             time.Time             // transition timestamp; zero means now
}

// LeadStore is the slice of the store the machine needs.
type LeadStore interface {
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	CompareAndSetLead(ctx context.Context, lead *models.Lead) error
}

// Machine applies events to leads under the configured follow-up budget.
type Machine struct {
	store        LeadStore
	maxFollowups int
}

// New creates a Machine.
func New(st LeadStore, maxFollowups int) *Machine {
	return &Machine{store: st, maxFollowups: maxFollowups}
}

// Apply reads the lead's current snapshot, computes the transition, and
// commits it with a compare-and-set. On a version conflict it re-reads and
// re-decides; when the re-read shows the transition is no longer valid the
// event is dropped as a no-op (ErrSuperseded).
func (m *Machine) Apply(ctx context.Context, leadID uint, ev Event) (*models.Lead, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		lead, err := m.store.GetLead(ctx, leadID)
		if err != nil {
			return nil, err
		}

		if err := m.mutate(lead, ev); err != nil {
			if errors.Is(err, ErrAlreadyApplied) {
				logrus.Infof("Lead %d already in %s, event %s is a no-op", lead.ID, lead.Status, ev.Kind)
				return lead, ErrAlreadyApplied
			}
			if attempt > 0 {
				logrus.Infof("Lead %d event %s superseded by concurrent update (now %s)", lead.ID, ev.Kind, lead.Status)
				return lead, ErrSuperseded
			}
			logrus.Errorf("Rejected %s for lead %d in state %s: %v", ev.Kind, lead.ID, lead.Status, err)
			return nil, err
		}

		err = m.store.CompareAndSetLead(ctx, lead)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return lead, nil
	}

	return nil, fmt.Errorf("lead %d: gave up after %d version conflicts", leadID, casAttempts)
}

// mutate computes and applies the transition on the in-memory snapshot.
func (m *Machine) mutate(lead *models.Lead, ev Event) error {
	switch ev.Kind {
	case EventOutreachSent:
		if lead.Status == models.StatusContacted {
			return ErrAlreadyApplied
		}
		if lead.Status != models.StatusNew {
			return fmt.Errorf("%w: outreach_sent requires status new, lead is %s", ErrInvalidTransition, lead.Status)
		}
		lead.Status = models.StatusContacted
		lead.Subject = ev.Subject
		lead.ThreadID = ev.ThreadID
		at := ev.At
		lead.LastContactedAt = &at
		return nil

	case EventReplyClassified:
		target, err := replyTarget(ev.Classification)
		if err != nil {
			return err
		}
		if lead.Status == target {
			return ErrAlreadyApplied
		}
		if lead.Status != models.StatusContacted && lead.Status != models.StatusFollowedUp {
			return fmt.Errorf("%w: reply requires contacted or followed_up, lead is %s", ErrInvalidTransition, lead.Status)
		}
		lead.Status = target
		at := ev.At
		lead.LastRepliedAt = &at
		return nil

	case EventFollowupDue:
		if lead.Status == models.StatusClosed {
			return ErrAlreadyApplied
		}
		if lead.Status != models.StatusContacted && lead.Status != models.StatusFollowedUp {
			return fmt.Errorf("%w: followup requires contacted or followed_up, lead is %s", ErrInvalidTransition, lead.Status)
		}
		if lead.FollowupCount >= m.maxFollowups {
			lead.Status = models.StatusClosed
			return nil
		}
		lead.Status = models.StatusFollowedUp
		lead.FollowupCount++
		at := ev.At
		lead.LastContactedAt = &at
		return nil
	}

	return fmt.Errorf("%w: unknown event kind %q", ErrInvalidTransition, ev.Kind)
}

// replyTarget maps a classification onto the closed transition table.
// Neutral and unparseable replies never reach the machine; they are routed
// to the manual-review sink by the pipeline.
func replyTarget(c models.Classification) (models.Status, error) {
	switch c {
	case models.ClassInterested:
		return models.StatusRepliedInterested, nil
	case models.ClassNotInterested:
		return models.StatusRepliedNotInterested, nil
	}
	return "", fmt.Errorf("%w: classification %q cannot drive a transition", ErrInvalidTransition, c)
}

// Benign reports whether the Apply error is a harmless no-op outcome rather
// than a real failure.
func Benign(err error) bool {
	return errors.Is(err, ErrAlreadyApplied) || errors.Is(err, ErrSuperseded)
}
