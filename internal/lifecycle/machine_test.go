package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-automation-go/internal/models"
	"outreach-automation-go/internal/store"
)

// memLeads is an in-memory lead store with compare-and-set semantics.
type memLeads struct {
	mu        sync.Mutex
	leads     map[uint]models.Lead
	beforeCAS func(m *memLeads) // invoked once before the next CAS
}

func newMemLeads(leads ...models.Lead) *memLeads {
	m := &memLeads{leads: make(map[uint]models.Lead)}
	for _, l := range leads {
		m.leads[l.ID] = l
	}
	return m
}

func (m *memLeads) GetLead(_ context.Context, id uint) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := lead
	return &copied, nil
}

func (m *memLeads) CompareAndSetLead(_ context.Context, lead *models.Lead) error {
	if hook := m.beforeCAS; hook != nil {
		m.beforeCAS = nil
		hook(m)
	}
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

// put overwrites a lead directly, simulating a concurrent writer.
func (m *memLeads) put(lead models.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = lead
}

func TestOutreachSentTransitionsNewToContacted(t *testing.T) {
	leads := newMemLeads(models.Lead{ID: 1, Email: "ceo@acme.test", Status: models.StatusNew})
	machine := New(leads, 3)

	sent := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	lead, err := machine.Apply(context.Background(), 1, Event{
		Kind:     EventOutreachSent,
		Subject:  "Scaling Acme",
		ThreadID: "thread-1",
		At:       sent,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusContacted, lead.Status)
	assert.Equal(t, "Scaling Acme", lead.Subject)
	assert.Equal(t, "thread-1", lead.ThreadID)
	require.NotNil(t, lead.LastContactedAt)
	assert.Equal(t, sent, *lead.LastContactedAt)
	assert.Nil(t, lead.LastRepliedAt)
}

func TestReplyTransitionsFromContactedAndFollowedUp(t *testing.T) {
	cases := []struct {
		from           models.Status
		classification models.Classification
		want           models.Status
	}{
		{models.StatusContacted, models.ClassInterested, models.StatusRepliedInterested},
		{models.StatusContacted, models.ClassNotInterested, models.StatusRepliedNotInterested},
		{models.StatusFollowedUp, models.ClassInterested, models.StatusRepliedInterested},
		{models.StatusFollowedUp, models.ClassNotInterested, models.StatusRepliedNotInterested},
	}

	for _, tc := range cases {
		leads := newMemLeads(models.Lead{ID: 7, Status: tc.from})
		machine := New(leads, 3)

		lead, err := machine.Apply(context.Background(), 7, Event{
			Kind:           EventReplyClassified,
			Classification: tc.classification,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, lead.Status)
		assert.NotNil(t, lead.LastRepliedAt)
	}
}

func TestReplyRejectedForUncontactedLead(t *testing.T) {
	leads := newMemLeads(models.Lead{ID: 2, Status: models.StatusNew})
	machine := New(leads, 3)

	_, err := machine.Apply(context.Background(), 2, Event{
		Kind:           EventReplyClassified,
		Classification: models.ClassInterested,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The lead must be left unchanged.
	lead, err := leads.GetLead(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, lead.Status)
}

func TestRepeatedReplyIsIdempotentNoop(t *testing.T) {
	leads := newMemLeads(models.Lead{ID: 3, Status: models.StatusContacted})
	machine := New(leads, 3)

	ev := Event{Kind: EventReplyClassified, Classification: models.ClassInterested}
	lead, err := machine.Apply(context.Background(), 3, ev)
	require.NoError(t, err)
	firstVersion := lead.Version

	lead, err = machine.Apply(context.Background(), 3, ev)
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	assert.True(t, Benign(err))
	assert.Equal(t, firstVersion, lead.Version)
}

func TestNeutralClassificationCannotDriveTransition(t *testing.T) {
	leads := newMemLeads(models.Lead{ID: 4, Status: models.StatusContacted})
	machine := New(leads, 3)

	_, err := machine.Apply(context.Background(), 4, Event{
		Kind:           EventReplyClassified,
		Classification: models.ClassNeutral,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFollowupBudgetClosesLeadAfterMaxSteps(t *testing.T) {
	const max = 3
	leads := newMemLeads(models.Lead{ID: 5, Status: models.StatusContacted})
	machine := New(leads, max)

	// Exactly max follow-up steps, then the next occurrence closes.
	for i := 1; i <= max; i++ {
		lead, err := machine.Apply(context.Background(), 5, Event{Kind: EventFollowupDue})
		require.NoError(t, err)
		assert.Equal(t, models.StatusFollowedUp, lead.Status)
		assert.Equal(t, i, lead.FollowupCount)
	}

	lead, err := machine.Apply(context.Background(), 5, Event{Kind: EventFollowupDue})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, lead.Status)
	assert.Equal(t, max, lead.FollowupCount, "closing must not exceed the budget")
}

func TestFollowupAtBudgetBoundaryClosesNotFollowsUp(t *testing.T) {
	const max = 3
	leads := newMemLeads(models.Lead{ID: 6, Status: models.StatusContacted, FollowupCount: max - 1})
	machine := New(leads, max)

	lead, err := machine.Apply(context.Background(), 6, Event{Kind: EventFollowupDue})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFollowedUp, lead.Status)
	assert.Equal(t, max, lead.FollowupCount)

	lead, err = machine.Apply(context.Background(), 6, Event{Kind: EventFollowupDue})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, lead.Status)
}

func TestConflictReReadDropsSupersededFollowup(t *testing.T) {
	leads := newMemLeads(models.Lead{ID: 8, Status: models.StatusContacted})
	// A concurrent reply commits between this writer's read and its CAS.
	leads.beforeCAS = func(m *memLeads) {
		now := time.Now()
		m.put(models.Lead{
			ID:            8,
			Status:        models.StatusRepliedInterested,
			LastRepliedAt: &now,
			Version:       1,
		})
	}
	machine := New(leads, 3)

	lead, err := machine.Apply(context.Background(), 8, Event{Kind: EventFollowupDue})
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.True(t, Benign(err))
	assert.Equal(t, models.StatusRepliedInterested, lead.Status)
}

func TestConcurrentConflictingTransitionsHaveOneWinner(t *testing.T) {
	leads := newMemLeads(models.Lead{ID: 9, Status: models.StatusContacted})
	machine := New(leads, 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	events := []Event{
		{Kind: EventReplyClassified, Classification: models.ClassInterested},
		{Kind: EventReplyClassified, Classification: models.ClassNotInterested},
	}
	for i := range events {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = machine.Apply(context.Background(), 9, events[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one transition must win")

	lead, err := leads.GetLead(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, lead.Status.Terminal())
	assert.Equal(t, int64(1), lead.Version, "loser must not corrupt state")
}
