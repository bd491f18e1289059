package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toolwatch/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresFromPool(mock), mock
}

func TestInsertPostingNewRow(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO raw_postings`).
		WithArgs("job-1", "linkedin", "Acme Corp", "AE", "uses Outreach daily", "https://x/1", "outreach.io", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := st.InsertPosting(context.Background(), &model.RawPosting{
		JobID:       "job-1",
		Platform:    "linkedin",
		Company:     "Acme Corp",
		Title:       "AE",
		Description: "uses Outreach daily",
		URL:         "https://x/1",
		SearchTerm:  "outreach.io",
		ScrapedAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostingDuplicateSkipped(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO raw_postings`).
		WithArgs("job-1", "", "Acme", "AE", "", "", "outreach.io", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := st.InsertPosting(context.Background(), &model.RawPosting{
		JobID: "job-1", Company: "Acme", Title: "AE", SearchTerm: "outreach.io", ScrapedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompanyNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM identified_companies`).
		WithArgs("Acme", model.ToolOutreach).
		WillReturnError(pgx.ErrNoRows)

	c, err := st.GetCompany(context.Background(), "Acme", model.ToolOutreach)
	require.NoError(t, err)
	assert.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCompanyDuplicateKey(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO identified_companies`).
		WithArgs("Acme", model.ToolOutreach, model.SignalExplicitMention, "ctx", "AE", "https://x/1", model.Tier2, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := st.InsertCompany(context.Background(), &model.IdentifiedCompany{
		Company:      "Acme",
		ToolDetected: model.ToolOutreach,
		SignalType:   model.SignalExplicitMention,
		Context:      "ctx",
		JobTitle:     "AE",
		JobURL:       "https://x/1",
		Tier:         model.Tier2,
		IdentifiedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextDueTermReturnsNilWhenNoneDue(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM search_terms`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	term, err := st.NextDueTerm(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, term)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextDueTermScansRow(t *testing.T) {
	st, mock := newMockStore(t)

	created := time.Now().Add(-48 * time.Hour)
	rows := pgxmock.NewRows([]string{"id", "term", "is_active", "priority", "last_scraped_date", "jobs_found_count", "created_at"}).
		AddRow(int64(3), "outreach.io", true, 10, (*time.Time)(nil), 0, created)
	mock.ExpectQuery(`SELECT .+ FROM search_terms`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(rows)

	term, err := st.NextDueTerm(context.Background(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, int64(3), term.ID)
	assert.Equal(t, "outreach.io", term.Term)
	assert.Nil(t, term.LastScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPostingFailureParksPosting(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE raw_postings`).
		WithArgs(int64(7), 5).
		WillReturnRows(pgxmock.NewRows([]string{"needs_review"}).AddRow(true))

	parked, err := st.RecordPostingFailure(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.True(t, parked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLock(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO pipeline_locks`).
		WithArgs("dispatch", "owner-a", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	acquired, err := st.AcquireLock(context.Background(), "dispatch", "owner-a", now, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Held by someone else: the conditional upsert touches no rows.
	mock.ExpectExec(`INSERT INTO pipeline_locks`).
		WithArgs("dispatch", "owner-b", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	acquired, err = st.AcquireLock(context.Background(), "dispatch", "owner-b", now, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE scraping_runs`).
		WithArgs("run-1", pgxmock.AnyArg(), 40, 38, 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.CompleteRun(context.Background(), "run-1", time.Now(), 40, 38, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivitySince(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"scraped", "analyzed", "companies"}).AddRow(12, 10, 3))

	counts, err := st.ActivitySince(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ActivityCounts{JobsScraped: 12, JobsAnalyzed: 10, CompaniesFound: 3}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}
