package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toolwatch/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(st.Close)
	return st
}

func TestTermLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateTerm(ctx, "outreach.io", 10)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.True(t, created.IsActive)
	assert.Nil(t, created.LastScrapedAt)

	got, err := st.GetTerm(ctx, "outreach.io")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)

	missing, err := st.GetTerm(ctx, "salesloft")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.SetTermActive(ctx, created.ID, false))
	active, err := st.ListTerms(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := st.ListTerms(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkTermScrapedReplacesCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	term, err := st.CreateTerm(ctx, "outreach.io", 0)
	require.NoError(t, err)

	require.NoError(t, st.MarkTermScraped(ctx, term.ID, now.Add(-time.Hour), 10))
	require.NoError(t, st.MarkTermScraped(ctx, term.ID, now, 3))

	// jobs_found_count holds the last run's count, not a running total.
	got, err := st.GetTerm(ctx, "outreach.io")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.JobsFoundCount)
	assert.WithinDuration(t, now, *got.LastScrapedAt, time.Second)
}

func TestNextDueTermOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh, err := st.CreateTerm(ctx, "fresh", 0)
	require.NoError(t, err)
	stale, err := st.CreateTerm(ctx, "stale", 0)
	require.NoError(t, err)
	never, err := st.CreateTerm(ctx, "never", 0)
	require.NoError(t, err)

	require.NoError(t, st.MarkTermScraped(ctx, fresh.ID, now.Add(-time.Hour), 5))
	require.NoError(t, st.MarkTermScraped(ctx, stale.ID, now.Add(-10*24*time.Hour), 5))

	cutoff := now.Add(-7 * 24 * time.Hour)

	// Never-scraped terms win over stale ones.
	due, err := st.NextDueTerm(ctx, cutoff)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, never.ID, due.ID)

	require.NoError(t, st.MarkTermScraped(ctx, never.ID, now, 0))

	due, err = st.NextDueTerm(ctx, cutoff)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, stale.ID, due.ID)

	n, err := st.CountDueTerms(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNextDueTermBoundaryIsStrict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	term, err := st.CreateTerm(ctx, "boundary", 0)
	require.NoError(t, err)

	at := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkTermScraped(ctx, term.ID, at, 3))

	// A term scraped exactly at the cutoff is not yet due.
	due, err := st.NextDueTerm(ctx, at)
	require.NoError(t, err)
	assert.Nil(t, due)

	due, err = st.NextDueTerm(ctx, at.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, term.ID, due.ID)
}

func TestInsertPostingIsInsertIfAbsent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &model.RawPosting{
		JobID:       "li-123",
		Platform:    "linkedin",
		Company:     "Acme Corp",
		Title:       "Account Executive",
		Description: "Experience with Outreach required",
		URL:         "https://jobs/li-123",
		SearchTerm:  "outreach.io",
		ScrapedAt:   now,
	}

	inserted, err := st.InsertPosting(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same job id from a later scrape leaves the stored row alone.
	again := *p
	again.Description = "changed"
	inserted, err = st.InsertPosting(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	unprocessed, err := st.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, "Experience with Outreach required", unprocessed[0].Description)
}

func TestUnprocessedExcludesProcessedAndParked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		_, err := st.InsertPosting(ctx, &model.RawPosting{
			JobID: id, Company: "Acme", Title: "AE", Description: "d", SearchTerm: "t", ScrapedAt: now,
		})
		require.NoError(t, err)
	}

	list, err := st.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.NoError(t, st.MarkPostingProcessed(ctx, list[0].ID, now))

	// Exhaust the retry budget on the second posting.
	for i := 0; i < 2; i++ {
		parked, err := st.RecordPostingFailure(ctx, list[1].ID, 2)
		require.NoError(t, err)
		assert.Equal(t, i == 1, parked)
	}

	list, err = st.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].JobID)

	n, err := st.CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCompanyRegistryUniqueness(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &model.IdentifiedCompany{
		Company:      "Acme Corp",
		ToolDetected: model.ToolOutreach,
		SignalType:   model.SignalExplicitMention,
		Context:      "uses Outreach for sequencing",
		JobTitle:     "AE",
		JobURL:       "https://jobs/1",
		Tier:         model.Tier2,
		IdentifiedAt: now,
	}
	created, err := st.InsertCompany(ctx, c)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	// Case and whitespace variants collide with the stored row.
	dup := *c
	dup.Company = "  acme corp "
	_, err = st.InsertCompany(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// A different tool for the same company is a distinct fact.
	other := *c
	other.ToolDetected = model.ToolSalesLoft
	_, err = st.InsertCompany(ctx, &other)
	require.NoError(t, err)

	got, err := st.GetCompany(ctx, "ACME CORP", model.ToolOutreach)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
}

func TestRefreshCompanyEvidence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := st.InsertCompany(ctx, &model.IdentifiedCompany{
		Company:      "Acme",
		ToolDetected: model.ToolBoth,
		SignalType:   model.SignalPreferredSkill,
		Context:      "old evidence",
		Tier:         model.Tier2,
		IdentifiedAt: now.Add(-100 * 24 * time.Hour),
	})
	require.NoError(t, err)

	err = st.RefreshCompanyEvidence(ctx, created.ID, model.Candidate{
		SignalType: model.SignalRequiredSkill,
		Context:    "new evidence",
		JobTitle:   "SDR Manager",
		JobURL:     "https://jobs/2",
	}, now)
	require.NoError(t, err)

	got, err := st.GetCompany(ctx, "Acme", model.ToolBoth)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new evidence", got.Context)
	assert.Equal(t, model.SignalRequiredSkill, got.SignalType)
	assert.WithinDuration(t, now, got.IdentifiedAt, 2*time.Second)
}

func TestListCompaniesFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []model.IdentifiedCompany{
		{Company: "A", ToolDetected: model.ToolOutreach, SignalType: model.SignalExplicitMention, Tier: model.Tier1, IdentifiedAt: now},
		{Company: "B", ToolDetected: model.ToolSalesLoft, SignalType: model.SignalExplicitMention, Tier: model.Tier2, IdentifiedAt: now},
		{Company: "C", ToolDetected: model.ToolOutreach, SignalType: model.SignalExplicitMention, Tier: model.Tier2, IdentifiedAt: now},
	}
	for i := range seed {
		_, err := st.InsertCompany(ctx, &seed[i])
		require.NoError(t, err)
	}

	byTool, err := st.ListCompanies(ctx, CompanyFilter{Tool: model.ToolOutreach})
	require.NoError(t, err)
	assert.Len(t, byTool, 2)

	byTier, err := st.ListCompanies(ctx, CompanyFilter{Tier: model.Tier1})
	require.NoError(t, err)
	require.Len(t, byTier, 1)
	assert.Equal(t, "A", byTier[0].Company)

	require.NoError(t, st.MarkLeadGenerated(ctx, byTier[0].ID, json.RawMessage(`{"salesforce_id":"00Q1"}`)))

	yes := true
	leads, err := st.ListCompanies(ctx, CompanyFilter{LeadGenerated: &yes})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.JSONEq(t, `{"salesforce_id":"00Q1"}`, string(leads[0].LeadMetadata))
}

func TestTierOneReferences(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertTierOneReference(ctx, model.TierOneReference{Name: "Acme Corp", Industry: "SaaS"}))
	require.NoError(t, st.UpsertTierOneReference(ctx, model.TierOneReference{Name: "Acme Corp", Industry: "Software", Size: "500"}))

	refs, err := st.ListTierOneReferences(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Software", refs[0].Industry)
}

func TestRunLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	id := uuid.NewString()

	require.NoError(t, st.CreateRun(ctx, id, "outreach.io"))
	require.NoError(t, st.StartRun(ctx, id, now))
	require.NoError(t, st.CompleteRun(ctx, id, now.Add(time.Minute), 40, 38, 5))

	run, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 40, run.JobsScraped)
	assert.Equal(t, 5, run.CompaniesFound)
	require.NotNil(t, run.CompletedAt)

	failedID := uuid.NewString()
	require.NoError(t, st.CreateRun(ctx, failedID, "salesloft"))
	require.NoError(t, st.FailRun(ctx, failedID, now.Add(2*time.Minute), "provider unavailable"))

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "provider unavailable", failed[0].Error)

	last, err := st.LastCompletedScrape(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, now.Add(time.Minute), *last, 2*time.Second)

	completed, failedCount, err := st.RunOutcomes(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failedCount)
}

func TestNotifications(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n := &model.NotificationEvent{
		ID:        uuid.NewString(),
		Type:      model.NotificationCompanyDiscovered,
		Title:     "New company: Acme",
		Message:   "Acme uses outreach",
		Metadata:  json.RawMessage(`{"tool":"outreach"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertNotification(ctx, n))

	unread, err := st.ListNotifications(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, model.NotificationCompanyDiscovered, unread[0].Type)

	require.NoError(t, st.MarkNotificationRead(ctx, n.ID))
	unread, err = st.ListNotifications(ctx, true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := st.ListNotifications(ctx, false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLockLease(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acquired, err := st.AcquireLock(ctx, "dispatch", "owner-a", now, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = st.AcquireLock(ctx, "dispatch", "owner-b", now.Add(time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// An expired lease is free for the taking.
	acquired, err = st.AcquireLock(ctx, "dispatch", "owner-b", now.Add(16*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Release by the wrong owner is a no-op.
	require.NoError(t, st.ReleaseLock(ctx, "dispatch", "owner-a"))
	acquired, err = st.AcquireLock(ctx, "dispatch", "owner-c", now.Add(17*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, st.ReleaseLock(ctx, "dispatch", "owner-b"))
	acquired, err = st.AcquireLock(ctx, "dispatch", "owner-c", now.Add(18*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMetrics(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"m1", "m2", "m3"} {
		_, err := st.InsertPosting(ctx, &model.RawPosting{
			JobID: id, Company: "Acme", Title: "AE", Description: "d", SearchTerm: "t", ScrapedAt: now,
		})
		require.NoError(t, err)
		if i < 2 {
			list, err := st.ListUnprocessed(ctx, 10)
			require.NoError(t, err)
			require.NoError(t, st.MarkPostingProcessed(ctx, list[len(list)-1].ID, now))
		}
	}

	_, err := st.InsertCompany(ctx, &model.IdentifiedCompany{
		Company: "Acme", ToolDetected: model.ToolOutreach,
		SignalType: model.SignalExplicitMention, Tier: model.Tier1, IdentifiedAt: now,
	})
	require.NoError(t, err)

	counts, err := st.ActivitySince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ActivityCounts{JobsScraped: 3, JobsAnalyzed: 2, CompaniesFound: 1}, counts)

	daily, err := st.DailyMetrics(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, daily)
	assert.Equal(t, 3, daily[len(daily)-1].JobsScraped)

	tools, err := st.ToolCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tools[model.ToolOutreach])

	tiers, err := st.TierCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tiers[model.Tier1])
}
