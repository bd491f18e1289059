// Package ingest fetches postings from the job-search provider and lands
// them in the raw posting store. Landing is insert-if-absent on the
// provider's job id, so overlapping search terms and re-scrapes never
// produce duplicate rows.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/resilience"
	"github.com/sells-group/toolwatch/pkg/jobsearch"
)

// Store is the persistence surface the ingestor needs.
type Store interface {
	InsertPosting(ctx context.Context, p *model.RawPosting) (bool, error)
	MarkTermScraped(ctx context.Context, id int64, scrapedAt time.Time, jobsFound int) error
}

// Result summarizes one ingest of a search term.
type Result struct {
	JobsScraped  int
	NewJobsAdded int
}

// Ingestor fetches and lands postings for search terms.
type Ingestor struct {
	store    Store
	provider jobsearch.Client
	retry    resilience.RetryConfig
	now      func() time.Time
}

// New creates an ingestor.
func New(st Store, provider jobsearch.Client) *Ingestor {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("jobsearch", "search")
	return &Ingestor{
		store:    st,
		provider: provider,
		retry:    retry,
		now:      time.Now,
	}
}

// Ingest fetches postings for term and lands them. The term's scrape
// timestamp advances only on success; a provider failure leaves the term
// due so the next dispatch retries it.
func (i *Ingestor) Ingest(ctx context.Context, term model.SearchTerm) (Result, error) {
	var res Result

	postings, err := resilience.DoVal(ctx, i.retry, func(ctx context.Context) ([]jobsearch.Posting, error) {
		return i.provider.Search(ctx, term.Term)
	})
	if err != nil {
		return res, eris.Wrap(err, "ingest: search "+term.Term)
	}
	res.JobsScraped = len(postings)

	scrapedAt := i.now()
	for _, p := range postings {
		if p.JobID == "" || p.Company == "" {
			zap.L().Debug("skipping posting without job id or company",
				zap.String("job_id", p.JobID), zap.String("url", p.URL))
			continue
		}

		inserted, err := i.store.InsertPosting(ctx, &model.RawPosting{
			JobID:       p.JobID,
			Platform:    p.Platform,
			Company:     p.Company,
			Title:       p.Title,
			Description: p.Description,
			URL:         p.URL,
			SearchTerm:  term.Term,
			ScrapedAt:   scrapedAt,
		})
		if err != nil {
			// One bad row must not sink the rest of the page.
			zap.L().Warn("insert posting failed",
				zap.String("job_id", p.JobID), zap.Error(err))
			continue
		}
		if inserted {
			res.NewJobsAdded++
		}
	}

	if err := i.store.MarkTermScraped(ctx, term.ID, scrapedAt, res.JobsScraped); err != nil {
		return res, eris.Wrap(err, "ingest: mark term scraped")
	}

	zap.L().Info("term ingested",
		zap.String("term", term.Term),
		zap.Int("jobs_scraped", res.JobsScraped),
		zap.Int("new_jobs_added", res.NewJobsAdded),
	)
	return res, nil
}
