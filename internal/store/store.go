// Package store persists pipeline state: search terms, raw postings, the
// identified-company registry, the run ledger, notifications and dispatch
// locks. Two implementations exist, Postgres for production and SQLite for
// local runs and tests.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/toolwatch/internal/model"
)

// ErrDuplicateKey is returned by InsertCompany when another writer already
// holds the (company, tool) pair. Callers treat it as a signal to re-read
// and take the update path, not as a failure.
var ErrDuplicateKey = eris.New("store: duplicate key")

// CompanyFilter narrows ListCompanies results.
type CompanyFilter struct {
	Tool          model.Tool
	Tier          model.Tier
	LeadGenerated *bool
	Limit         int
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status model.RunStatus
	Term   string
	Limit  int
}

// ActivityCounts summarizes pipeline throughput since a point in time.
type ActivityCounts struct {
	JobsScraped    int `json:"jobs_scraped"`
	JobsAnalyzed   int `json:"jobs_analyzed"`
	CompaniesFound int `json:"companies_found"`
}

// DayMetrics is one day of activity for the metrics endpoint.
type DayMetrics struct {
	Day            string `json:"day"`
	JobsScraped    int    `json:"jobs_scraped"`
	JobsAnalyzed   int    `json:"jobs_analyzed"`
	CompaniesFound int    `json:"companies_found"`
}

// Store is the persistence interface for the pipeline. Get-style methods
// return (nil, nil) when no row matches.
type Store interface {
	// Search terms.
	CreateTerm(ctx context.Context, term string, priority int) (*model.SearchTerm, error)
	GetTerm(ctx context.Context, term string) (*model.SearchTerm, error)
	ListTerms(ctx context.Context, activeOnly bool) ([]model.SearchTerm, error)
	SetTermActive(ctx context.Context, id int64, active bool) error
	// NextDueTerm returns the active term least recently scraped, with
	// never-scraped terms first, whose last scrape is strictly older than
	// olderThan. Returns (nil, nil) when nothing is due.
	NextDueTerm(ctx context.Context, olderThan time.Time) (*model.SearchTerm, error)
	CountDueTerms(ctx context.Context, olderThan time.Time) (int, error)
	// MarkTermScraped records the scrape time and the number of postings the
	// last run found, replacing the previous count.
	MarkTermScraped(ctx context.Context, id int64, scrapedAt time.Time, jobsFound int) error

	// Raw postings.
	// InsertPosting inserts the posting unless its job id already exists.
	// Returns true if a new row was written.
	InsertPosting(ctx context.Context, p *model.RawPosting) (bool, error)
	ListUnprocessed(ctx context.Context, limit int) ([]model.RawPosting, error)
	MarkPostingProcessed(ctx context.Context, id int64, analyzedAt time.Time) error
	// RecordPostingFailure increments the posting's retry counter and parks
	// it for review once the counter reaches maxRetries. Returns true when
	// the posting was parked.
	RecordPostingFailure(ctx context.Context, id int64, maxRetries int) (bool, error)
	CountUnprocessed(ctx context.Context) (int, error)

	// Identified companies.
	GetCompany(ctx context.Context, company string, tool model.Tool) (*model.IdentifiedCompany, error)
	// InsertCompany writes a new registry row. Returns ErrDuplicateKey when
	// the (company, tool) pair already exists.
	InsertCompany(ctx context.Context, c *model.IdentifiedCompany) (*model.IdentifiedCompany, error)
	RefreshCompanyEvidence(ctx context.Context, id int64, cand model.Candidate, identifiedAt time.Time) error
	ListCompanies(ctx context.Context, f CompanyFilter) ([]model.IdentifiedCompany, error)
	MarkLeadGenerated(ctx context.Context, id int64, metadata json.RawMessage) error

	// Tier-one reference set.
	ListTierOneReferences(ctx context.Context) ([]model.TierOneReference, error)
	UpsertTierOneReference(ctx context.Context, ref model.TierOneReference) error

	// Run ledger.
	CreateRun(ctx context.Context, id, term string) error
	StartRun(ctx context.Context, id string, at time.Time) error
	CompleteRun(ctx context.Context, id string, at time.Time, scraped, analyzed, companies int) error
	FailRun(ctx context.Context, id string, at time.Time, errMsg string) error
	GetRun(ctx context.Context, id string) (*model.ScrapingRun, error)
	ListRuns(ctx context.Context, f RunFilter) ([]model.ScrapingRun, error)
	LastCompletedScrape(ctx context.Context) (*time.Time, error)

	// Notifications.
	InsertNotification(ctx context.Context, n *model.NotificationEvent) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]model.NotificationEvent, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Dispatch locks. AcquireLock takes the named lease when it is free or
	// expired as of now; it returns false while another owner holds it.
	AcquireLock(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error

	// Metrics.
	ActivitySince(ctx context.Context, since time.Time) (ActivityCounts, error)
	DailyMetrics(ctx context.Context, since time.Time) ([]DayMetrics, error)
	ToolCounts(ctx context.Context) (map[model.Tool]int, error)
	TierCounts(ctx context.Context) (map[model.Tier]int, error)
	RunOutcomes(ctx context.Context, since time.Time) (completed, failed int, err error)

	Migrate(ctx context.Context) error
	Close()
}

// dayCounts folds three per-day count maps into a sorted DayMetrics slice.
func dayCounts(scraped, analyzed, companies map[string]int) []DayMetrics {
	days := map[string]struct{}{}
	for d := range scraped {
		days[d] = struct{}{}
	}
	for d := range analyzed {
		days[d] = struct{}{}
	}
	for d := range companies {
		days[d] = struct{}{}
	}

	out := make([]DayMetrics, 0, len(days))
	for d := range days {
		out = append(out, DayMetrics{
			Day:            d,
			JobsScraped:    scraped[d],
			JobsAnalyzed:   analyzed[d],
			CompaniesFound: companies[d],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}
