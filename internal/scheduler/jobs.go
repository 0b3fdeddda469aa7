package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/content"
	"outreach-automation-go/internal/lifecycle"
	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

// runGenerate pulls candidates from the scraping collaborator for every
// configured search and inserts the ones not already tracked. One failing
// search does not abort the rest.
func (s *Scheduler) runGenerate(ctx context.Context) (processed, failed int, err error) {
	for _, search := range s.searches {
		select {
		case <-ctx.Done():
			return processed, failed, ctx.Err()
		default:
		}

		candidates, fetchErr := s.scraper.FetchLeads(ctx, search)
		if fetchErr != nil {
			logrus.Errorf("Lead search %q/%q failed: %v", search.Category, search.Location, fetchErr)
			failed++
			continue
		}

		for i := range candidates {
			created, insErr := s.store.InsertLeadIfAbsent(ctx, &candidates[i])
			if insErr != nil {
				logrus.Errorf("Failed to insert lead %q: %v", candidates[i].Email, insErr)
				failed++
				continue
			}
			if created {
				processed++
				s.metrics.LeadsGenerated.Inc()
			}
		}
	}

	if processed == 0 && failed > 0 {
		return processed, failed, fmt.Errorf("all %d lead searches failed", failed)
	}
	return processed, failed, nil
}

// runOutreach sends the first-touch email to every lead still in new.
// A send failure leaves the lead in new for the next outreach slot; a
// store failure at selection time fails the whole tick since no safe
// partial progress is possible.
func (s *Scheduler) runOutreach(ctx context.Context) (processed, failed int, err error) {
	leads, err := s.store.QueryLeads(ctx, store.LeadFilter{
		Statuses: []models.Status{models.StatusNew},
		HasEmail: true,
		Limit:    s.cfg.OutreachBatchMax,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select outreach candidates: %w", err)
	}

	for _, lead := range leads {
		select {
		case <-ctx.Done():
			return processed, failed, ctx.Err()
		default:
		}

		if sendErr := s.contactLead(ctx, lead); sendErr != nil {
			logrus.Errorf("Outreach to %s (lead %d) failed: %v", lead.Email, lead.ID, sendErr)
			failed++
			continue
		}
		processed++
		s.metrics.OutreachSent.Inc()
	}

	return processed, failed, nil
}

// contactLead generates, renders, and sends the first-touch email, then
// commits new → contacted. The transition happens only after a confirmed
// send; the compare-and-set serializes against any concurrent reply.
func (s *Scheduler) contactLead(ctx context.Context, lead models.Lead) error {
	outreach, err := s.provider.GenerateOutreach(ctx, content.LeadContext{
		Company:  lead.Company,
		Category: lead.Category,
		Website:  lead.Website,
	})
	if err != nil {
		return fmt.Errorf("content generation failed: %w", err)
	}

	html, err := s.templates.RenderOutreach(outreach.Subject, lead.Company, outreach.Body, outreach.Solutions)
	if err != nil {
		return err
	}

	threadID := fmt.Sprintf("<outreach-%d-%d@%s>", lead.ID, time.Now().UnixNano(), s.threadDomain)
	if err := s.sender.Send(ctx, lead.Email, outreach.Subject, html, threadID); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	_, err = s.machine.Apply(ctx, lead.ID, lifecycle.Event{
		Kind:     lifecycle.EventOutreachSent,
		Subject:  outreach.Subject,
		ThreadID: threadID,
	})
	if err != nil && !lifecycle.Benign(err) {
		return fmt.Errorf("transition failed after send: %w", err)
	}
	return nil
}

// runFollowup walks leads whose response window has elapsed. Leads at the
// follow-up budget are closed without another send; the rest get one more
// follow-up email.
func (s *Scheduler) runFollowup(ctx context.Context) (processed, failed int, err error) {
	cutoff := time.Now().Add(-s.cfg.ResponseWindow)
	leads, err := s.store.QueryLeads(ctx, store.LeadFilter{
		Statuses:        []models.Status{models.StatusContacted, models.StatusFollowedUp},
		ContactedBefore: &cutoff,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select follow-up candidates: %w", err)
	}

	for _, lead := range leads {
		select {
		case <-ctx.Done():
			return processed, failed, ctx.Err()
		default:
		}

		if followErr := s.followUpLead(ctx, lead); followErr != nil {
			logrus.Errorf("Follow-up for lead %d failed: %v", lead.ID, followErr)
			failed++
			continue
		}
		processed++
	}

	return processed, failed, nil
}

func (s *Scheduler) followUpLead(ctx context.Context, lead models.Lead) error {
	// Budget exhausted: close without sending.
	if lead.FollowupCount >= s.cfg.MaxFollowups {
		updated, err := s.machine.Apply(ctx, lead.ID, lifecycle.Event{Kind: lifecycle.EventFollowupDue})
		if err != nil {
			if lifecycle.Benign(err) {
				return nil
			}
			return err
		}
		if updated.Status == models.StatusClosed {
			s.metrics.LeadsClosed.Inc()
			logrus.Infof("Lead %d closed after %d follow-ups", lead.ID, updated.FollowupCount)
		}
		return nil
	}

	body, err := s.provider.GenerateFollowup(ctx, content.LeadContext{
		Company:  lead.Company,
		Category: lead.Category,
		Website:  lead.Website,
	}, lead.FollowupCount+1)
	if err != nil {
		return fmt.Errorf("content generation failed: %w", err)
	}

	html, err := s.templates.RenderReply(body)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Following up - %s", lead.Company)
	if err := s.sender.Send(ctx, lead.Email, subject, html, lead.ThreadID); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	_, err = s.machine.Apply(ctx, lead.ID, lifecycle.Event{Kind: lifecycle.EventFollowupDue})
	if err != nil {
		if lifecycle.Benign(err) {
			// A reply won the race; the extra email is already on the wire
			// but lead state stays authoritative.
			return nil
		}
		return fmt.Errorf("transition failed after send: %w", err)
	}
	s.metrics.FollowupsSent.Inc()
	return nil
}

// runPrune drops dedupe entries older than the retention window.
func (s *Scheduler) runPrune(ctx context.Context) (processed, failed int, err error) {
	pruned, err := s.store.PruneProcessedReplies(ctx, time.Now().Add(-s.cfg.DedupeRetention))
	if err != nil {
		return 0, 0, err
	}
	return int(pruned), 0, nil
}
