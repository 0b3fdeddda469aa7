// Package scheduler fires the campaign tasks (lead generation, outreach,
// follow-up, dedupe pruning) on their configured cron triggers. A durable
// per-slot marker guarantees a task kind runs at most once per scheduled
// slot, even across a process restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/content"
	"outreach-automation-go/internal/lifecycle"
	"outreach-automation-go/internal/mailer"
	"outreach-automation-go/internal/metrics"
	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

// slotLayout identifies the scheduled minute in the campaign timezone.
const slotLayout = "2006-01-02T15:04"

// Store is the slice of the lead store the scheduler needs.
type Store interface {
	BeginTaskRun(ctx context.Context, kind models.TaskKind, slot string) (*models.TaskRun, error)
	FinishTaskRun(ctx context.Context, run *models.TaskRun, outcome string, processed, failed int, runErr error) error
	QueryLeads(ctx context.Context, filter store.LeadFilter) ([]models.Lead, error)
	InsertLeadIfAbsent(ctx context.Context, lead *models.Lead) (bool, error)
	PruneProcessedReplies(ctx context.Context, before time.Time) (int64, error)
}

// Sender delivers outbound mail.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, threadID string) error
}

// LeadSource is the scraping collaborator.
type LeadSource interface {
	FetchLeads(ctx context.Context, search config.CategorySearch) ([]models.Lead, error)
}

// Scheduler manages the periodic campaign tasks.
type Scheduler struct {
	cron      *cron.Cron
	cfg       *config.CampaignConfig
	searches  []config.CategorySearch
	loc       *time.Location
	store     Store
	machine   *lifecycle.Machine
	provider  content.Provider
	sender    Sender
	templates *mailer.Templates
	scraper   LeadSource
	metrics   *metrics.Metrics

	threadDomain string

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// New creates a scheduler. threadDomain is the domain used when minting
// outreach thread ids, normally the sender address domain.
func New(cfg *config.CampaignConfig, searches []config.CategorySearch, threadDomain string,
	st Store, machine *lifecycle.Machine, provider content.Provider, sender Sender,
	templates *mailer.Templates, leadSource LeadSource, m *metrics.Metrics) *Scheduler {

	ctx, cancel := context.WithCancel(context.Background())
	loc := cfg.Location()

	return &Scheduler{
		cron:         cron.New(cron.WithLocation(loc)),
		cfg:          cfg,
		searches:     searches,
		loc:          loc,
		store:        st,
		machine:      machine,
		provider:     provider,
		sender:       sender,
		templates:    templates,
		scraper:      leadSource,
		metrics:      m,
		threadDomain: threadDomain,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start registers the cron entries and starts the trigger loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	entries := []struct {
		kind models.TaskKind
		spec string
	}{
		{models.TaskGenerate, s.cfg.GenerateSpec},
		{models.TaskOutreach, s.cfg.OutreachSpec},
		{models.TaskFollowup, s.cfg.FollowupSpec},
		{models.TaskPrune, s.cfg.PruneSpec},
	}
	for _, entry := range entries {
		kind := entry.kind
		if _, err := s.cron.AddFunc(entry.spec, func() { s.fire(kind) }); err != nil {
			return fmt.Errorf("failed to add cron entry for %s: %w", kind, err)
		}
		logrus.Infof("Scheduled %s task: %q (%s)", kind, entry.spec, s.loc)
	}

	s.cron.Start()
	s.isRunning = true
	logrus.Info("Campaign scheduler started")
	return nil
}

// Stop halts the trigger loop and waits for in-flight tasks; a running job
// is never killed mid-send.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Campaign scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Campaign scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// Wait blocks until all task executions have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRuns returns the upcoming trigger time per cron entry.
func (s *Scheduler) NextRuns() []time.Time {
	var next []time.Time
	for _, entry := range s.cron.Entries() {
		next = append(next, entry.Next)
	}
	return next
}

// fire claims the current slot for the task kind and executes it. A slot
// already claimed (by this process or a predecessor before restart) is
// skipped.
func (s *Scheduler) fire(kind models.TaskKind) {
	slot := time.Now().In(s.loc).Truncate(time.Minute).Format(slotLayout)
	s.wg.Add(1)
	s.execute(kind, slot)
}

// RunNow triggers a task outside its schedule, under a unique manual slot.
func (s *Scheduler) RunNow(kind models.TaskKind) error {
	switch kind {
	case models.TaskGenerate, models.TaskOutreach, models.TaskFollowup, models.TaskPrune:
	default:
		return fmt.Errorf("unknown task kind %q", kind)
	}
	slot := "manual-" + time.Now().In(s.loc).Format("20060102T150405.000")
	// Register with the wait group before the goroutine starts, so a Wait
	// racing a manual trigger always sees the run.
	s.wg.Add(1)
	go s.execute(kind, slot)
	return nil
}

// execute assumes the caller has already added it to the wait group.
func (s *Scheduler) execute(kind models.TaskKind, slot string) {
	defer s.wg.Done()

	run, err := s.store.BeginTaskRun(s.ctx, kind, slot)
	if err != nil {
		if errors.Is(err, store.ErrSlotTaken) {
			logrus.Infof("Task %s already ran for slot %s, skipping", kind, slot)
			return
		}
		logrus.Errorf("Failed to claim slot %s for task %s: %v", slot, kind, err)
		return
	}

	logrus.Infof("Running task %s (slot %s)", kind, slot)
	start := time.Now()

	processed, failed, jobErr := s.runJob(kind)

	outcome := models.OutcomeSuccess
	switch {
	case jobErr != nil:
		outcome = models.OutcomeFailure
	case failed > 0:
		outcome = models.OutcomePartial
	}

	if err := s.store.FinishTaskRun(s.ctx, run, outcome, processed, failed, jobErr); err != nil {
		logrus.Errorf("Failed to record outcome for task %s: %v", kind, err)
	}
	s.metrics.TaskRuns.WithLabelValues(string(kind), outcome).Inc()
	s.metrics.TaskDuration.Observe(time.Since(start).Seconds())

	if jobErr != nil {
		// The failure does not block later ticks; the task retries on its
		// next scheduled occurrence.
		logrus.Errorf("Task %s failed (slot %s): %v", kind, slot, jobErr)
		return
	}
	logrus.Infof("Task %s finished: outcome=%s processed=%d failed=%d in %v",
		kind, outcome, processed, failed, time.Since(start))
}

func (s *Scheduler) runJob(kind models.TaskKind) (processed, failed int, err error) {
	switch kind {
	case models.TaskGenerate:
		return s.runGenerate(s.ctx)
	case models.TaskOutreach:
		return s.runOutreach(s.ctx)
	case models.TaskFollowup:
		return s.runFollowup(s.ctx)
	case models.TaskPrune:
		return s.runPrune(s.ctx)
	}
	return 0, 0, fmt.Errorf("unknown task kind %q", kind)
}
