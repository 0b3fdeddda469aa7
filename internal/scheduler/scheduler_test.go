package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/content"
	"outreach-automation-go/internal/lifecycle"
	"outreach-automation-go/internal/mailer"
	"outreach-automation-go/internal/metrics"
	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

// memStore backs both the scheduler store slice and the lifecycle lead
// store, so the same in-memory leads flow through jobs and transitions.
type memStore struct {
	mu     sync.Mutex
	leads  map[uint]models.Lead
	nextID uint
	slots  map[string]bool
	runs   []*models.TaskRun
	pruned *time.Time

	queryErr     error
	beginGate    chan struct{} // when set, BeginTaskRun waits for it to close
	beginStarted chan struct{} // receives once per BeginTaskRun entry
}

func newMemStore(leads ...models.Lead) *memStore {
	m := &memStore{
		leads:  make(map[uint]models.Lead),
		slots:  make(map[string]bool),
		nextID: 1,
	}
	for _, l := range leads {
		m.leads[l.ID] = l
		if l.ID >= m.nextID {
			m.nextID = l.ID + 1
		}
	}
	return m
}

func (m *memStore) GetLead(_ context.Context, id uint) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := lead
	return &copied, nil
}

func (m *memStore) CompareAndSetLead(_ context.Context, lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.leads[lead.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != lead.Version {
		return store.ErrConflict
	}
	lead.Version++
	m.leads[lead.ID] = *lead
	return nil
}

func (m *memStore) BeginTaskRun(_ context.Context, kind models.TaskKind, slot string) (*models.TaskRun, error) {
	if m.beginStarted != nil {
		select {
		case m.beginStarted <- struct{}{}:
		default:
		}
	}
	if m.beginGate != nil {
		<-m.beginGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(kind) + "/" + slot
	if m.slots[key] {
		return nil, store.ErrSlotTaken
	}
	m.slots[key] = true
	run := &models.TaskRun{Kind: kind, Slot: slot, Outcome: models.OutcomeRunning}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memStore) FinishTaskRun(_ context.Context, run *models.TaskRun, outcome string, processed, failed int, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Outcome = outcome
	run.Processed = processed
	run.Failed = failed
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return nil
}

func (m *memStore) QueryLeads(_ context.Context, filter store.LeadFilter) ([]models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []models.Lead
	for _, lead := range m.leads {
		if !matchesStatus(lead.Status, filter.Statuses) {
			continue
		}
		if filter.HasEmail && lead.Email == "" {
			continue
		}
		if filter.ContactedBefore != nil {
			if lead.LastContactedAt == nil || !lead.LastContactedAt.Before(*filter.ContactedBefore) {
				continue
			}
		}
		out = append(out, lead)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesStatus(status models.Status, wanted []models.Status) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == status {
			return true
		}
	}
	return false
}

func (m *memStore) InsertLeadIfAbsent(_ context.Context, lead *models.Lead) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.leads {
		if existing.Email == lead.Email {
			return false, nil
		}
	}
	lead.ID = m.nextID
	m.nextID++
	m.leads[lead.ID] = *lead
	return true, nil
}

func (m *memStore) PruneProcessedReplies(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = &before
	return 7, nil
}

func (m *memStore) get(id uint) models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id]
}

// recordingSender captures sends; failFor makes sends to one address fail.
type recordingSender struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor string
}

type sentMail struct {
	to, subject, threadID string
}

func (r *recordingSender) Send(_ context.Context, to, subject, _ string, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to == r.failFor {
		return errors.New("smtp refused")
	}
	r.sent = append(r.sent, sentMail{to: to, subject: subject, threadID: threadID})
	return nil
}

// stubProvider returns canned content.
type stubProvider struct {
	classification models.Classification
}

func (p *stubProvider) GenerateOutreach(_ context.Context, lead content.LeadContext) (content.Outreach, error) {
	return content.Outreach{
		Subject:   "Growing " + lead.Company,
		Body:      "We noticed your work in " + lead.Category + ".",
		Solutions: []string{"One", "Two", "Three"},
	}, nil
}

func (p *stubProvider) GenerateFollowup(_ context.Context, lead content.LeadContext, n int) (string, error) {
	return fmt.Sprintf("Follow-up %d for %s", n, lead.Company), nil
}

func (p *stubProvider) GenerateReply(_ context.Context, _ models.Classification, _ string) (string, error) {
	return "Thanks for getting back to us.", nil
}

func (p *stubProvider) Classify(_ context.Context, _ string) (models.Classification, error) {
	return p.classification, nil
}

type stubScraper struct {
	leads map[string][]models.Lead
	err   error
}

func (s *stubScraper) FetchLeads(_ context.Context, search config.CategorySearch) ([]models.Lead, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.leads[search.Category], nil
}

func testCampaignConfig() *config.CampaignConfig {
	return &config.CampaignConfig{
		Timezone:         "UTC",
		GenerateSpec:     "0 0 * * SUN,WED",
		OutreachSpec:     "0 8 * * TUE,THU",
		FollowupSpec:     "0 8 * * MON",
		PruneSpec:        "0 3 * * *",
		ResponseWindow:   168 * time.Hour,
		MaxFollowups:     3,
		DedupeRetention:  720 * time.Hour,
		OutreachBatchMax: 200,
	}
}

func newTestScheduler(t *testing.T, st *memStore, sender *recordingSender, scraper LeadSource) *Scheduler {
	t.Helper()
	cfg := testCampaignConfig()
	templates, err := mailer.LoadTemplates(&config.MailConfig{})
	require.NoError(t, err)
	machine := lifecycle.New(st, cfg.MaxFollowups)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	return New(cfg, []config.CategorySearch{{Location: "Dubai", Category: "dentist"}},
		"outreach.test", st, machine, &stubProvider{}, sender, templates, scraper, m)
}

func TestSlotClaimedOnceAcrossRestart(t *testing.T) {
	st := newMemStore()
	sender := &recordingSender{}
	s := newTestScheduler(t, st, sender, &stubScraper{})

	s.execute(models.TaskPrune, "2026-03-02T03:00")
	require.Len(t, st.runs, 1)
	assert.Equal(t, models.OutcomeSuccess, st.runs[0].Outcome)

	// A second process firing for the same slot must not run the task.
	s2 := newTestScheduler(t, st, sender, &stubScraper{})
	s2.execute(models.TaskPrune, "2026-03-02T03:00")
	assert.Len(t, st.runs, 1)

	// The next slot runs normally.
	s2.execute(models.TaskPrune, "2026-03-03T03:00")
	assert.Len(t, st.runs, 2)
}

func TestGenerateInsertsOnlyNewLeads(t *testing.T) {
	st := newMemStore(models.Lead{ID: 1, Email: "known@clinic.test", Status: models.StatusContacted, Company: "Known Clinic"})
	scraper := &stubScraper{leads: map[string][]models.Lead{
		"dentist": {
			{Email: "known@clinic.test", Company: "Known Clinic", Status: models.StatusNew},
			{Email: "fresh@smiles.test", Company: "Fresh Smiles", Status: models.StatusNew},
		},
	}}
	s := newTestScheduler(t, st, &recordingSender{}, scraper)

	s.execute(models.TaskGenerate, "2026-03-01T00:00")

	require.Len(t, st.runs, 1)
	assert.Equal(t, models.OutcomeSuccess, st.runs[0].Outcome)
	assert.Equal(t, 1, st.runs[0].Processed)
	assert.Len(t, st.leads, 2)
}

func TestGenerateFailsWhenAllSearchesFail(t *testing.T) {
	st := newMemStore()
	s := newTestScheduler(t, st, &recordingSender{}, &stubScraper{err: errors.New("actor timeout")})

	s.execute(models.TaskGenerate, "2026-03-01T00:00")

	require.Len(t, st.runs, 1)
	assert.Equal(t, models.OutcomeFailure, st.runs[0].Outcome)
}

func TestOutreachContactsNewLeads(t *testing.T) {
	st := newMemStore(
		models.Lead{ID: 1, Email: "ceo@acme.test", Company: "Acme", Status: models.StatusNew},
		models.Lead{ID: 2, Email: "owner@bistro.test", Company: "Bistro", Status: models.StatusContacted},
	)
	sender := &recordingSender{}
	s := newTestScheduler(t, st, sender, &stubScraper{})

	s.execute(models.TaskOutreach, "2026-03-03T08:00")

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ceo@acme.test", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].threadID, "@outreach.test>")

	lead := st.get(1)
	assert.Equal(t, models.StatusContacted, lead.Status)
	require.NotNil(t, lead.LastContactedAt)
	assert.Equal(t, sender.sent[0].threadID, lead.ThreadID)

	// Already-contacted lead untouched.
	assert.Equal(t, models.StatusContacted, st.get(2).Status)
	require.Len(t, st.runs, 1)
	assert.Equal(t, models.OutcomeSuccess, st.runs[0].Outcome)
}

func TestOutreachSendFailureLeavesLeadNew(t *testing.T) {
	st := newMemStore(
		models.Lead{ID: 1, Email: "broken@acme.test", Company: "Acme", Status: models.StatusNew},
		models.Lead{ID: 2, Email: "fine@bistro.test", Company: "Bistro", Status: models.StatusNew},
	)
	sender := &recordingSender{failFor: "broken@acme.test"}
	s := newTestScheduler(t, st, sender, &stubScraper{})

	s.execute(models.TaskOutreach, "2026-03-03T08:00")

	// The failing lead stays eligible for the next slot; the other is sent.
	assert.Equal(t, models.StatusNew, st.get(1).Status)
	assert.Equal(t, models.StatusContacted, st.get(2).Status)
	require.Len(t, st.runs, 1)
	assert.Equal(t, models.OutcomePartial, st.runs[0].Outcome)
	assert.Equal(t, 1, st.runs[0].Processed)
	assert.Equal(t, 1, st.runs[0].Failed)
}

func TestOutreachQueryErrorFailsTick(t *testing.T) {
	st := newMemStore()
	st.queryErr = errors.New("connection refused")
	s := newTestScheduler(t, st, &recordingSender{}, &stubScraper{})

	s.execute(models.TaskOutreach, "2026-03-03T08:00")

	require.Len(t, st.runs, 1)
	assert.Equal(t, models.OutcomeFailure, st.runs[0].Outcome)
}

func TestFollowupSendsWithinBudget(t *testing.T) {
	old := time.Now().Add(-200 * time.Hour)
	st := newMemStore(models.Lead{
		ID: 1, Email: "ceo@acme.test", Company: "Acme",
		Status: models.StatusContacted, LastContactedAt: &old,
		ThreadID: "<outreach-1@outreach.test>",
	})
	sender := &recordingSender{}
	s := newTestScheduler(t, st, sender, &stubScraper{})

	s.execute(models.TaskFollowup, "2026-03-02T08:00")

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "<outreach-1@outreach.test>", sender.sent[0].threadID)

	lead := st.get(1)
	assert.Equal(t, models.StatusFollowedUp, lead.Status)
	assert.Equal(t, 1, lead.FollowupCount)
}

func TestFollowupSkipsLeadsInsideResponseWindow(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	st := newMemStore(models.Lead{
		ID: 1, Email: "ceo@acme.test", Company: "Acme",
		Status: models.StatusContacted, LastContactedAt: &recent,
	})
	sender := &recordingSender{}
	s := newTestScheduler(t, st, sender, &stubScraper{})

	s.execute(models.TaskFollowup, "2026-03-02T08:00")

	assert.Empty(t, sender.sent)
	assert.Equal(t, models.StatusContacted, st.get(1).Status)
}

func TestFollowupClosesExhaustedLeadWithoutSending(t *testing.T) {
	old := time.Now().Add(-200 * time.Hour)
	st := newMemStore(models.Lead{
		ID: 1, Email: "ceo@acme.test", Company: "Acme",
		Status: models.StatusFollowedUp, FollowupCount: 3,
		LastContactedAt: &old,
	})
	sender := &recordingSender{}
	s := newTestScheduler(t, st, sender, &stubScraper{})

	s.execute(models.TaskFollowup, "2026-03-02T08:00")

	assert.Empty(t, sender.sent)
	lead := st.get(1)
	assert.Equal(t, models.StatusClosed, lead.Status)
	assert.Equal(t, 3, lead.FollowupCount)
}

func TestPruneUsesRetentionCutoff(t *testing.T) {
	st := newMemStore()
	s := newTestScheduler(t, st, &recordingSender{}, &stubScraper{})

	before := time.Now()
	s.execute(models.TaskPrune, "2026-03-02T03:00")

	require.NotNil(t, st.pruned)
	want := before.Add(-720 * time.Hour)
	assert.WithinDuration(t, want, *st.pruned, time.Minute)
	require.Len(t, st.runs, 1)
	assert.Equal(t, 7, st.runs[0].Processed)
}

func TestRunNowRejectsUnknownKind(t *testing.T) {
	st := newMemStore()
	s := newTestScheduler(t, st, &recordingSender{}, &stubScraper{})
	assert.Error(t, s.RunNow(models.TaskKind("reboot")))
}

func TestWaitObservesManualRun(t *testing.T) {
	st := newMemStore()
	st.beginGate = make(chan struct{})
	st.beginStarted = make(chan struct{}, 1)
	s := newTestScheduler(t, st, &recordingSender{}, &stubScraper{})

	require.NoError(t, s.RunNow(models.TaskPrune))

	// Wait must already count the manual run, even before its goroutine
	// has been scheduled.
	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a manual run was pending")
	case <-time.After(50 * time.Millisecond):
	}

	<-st.beginStarted
	close(st.beginGate)

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the manual run finished")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.runs, 1)
	assert.Equal(t, models.TaskPrune, st.runs[0].Kind)
	assert.Equal(t, models.OutcomeSuccess, st.runs[0].Outcome)
}
