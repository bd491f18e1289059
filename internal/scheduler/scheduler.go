// Package scheduler dispatches scrape runs for due search terms. Dispatch
// is single-flight: an in-process flag rejects concurrent triggers cheaply,
// and a leased lock row in the store keeps multiple instances from scraping
// at the same time.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/analyze"
	"github.com/sells-group/toolwatch/internal/ingest"
	"github.com/sells-group/toolwatch/internal/ledger"
	"github.com/sells-group/toolwatch/internal/model"
)

const dispatchLock = "dispatch"

// ErrBusy is returned when a dispatch is already in flight, locally or on
// another instance holding the lease.
var ErrBusy = eris.New("scheduler: dispatch already in flight")

// Store is the persistence surface the scheduler needs.
type Store interface {
	NextDueTerm(ctx context.Context, olderThan time.Time) (*model.SearchTerm, error)
	GetTerm(ctx context.Context, term string) (*model.SearchTerm, error)
	AcquireLock(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

// Outcome summarizes one dispatched run.
type Outcome struct {
	RunID          string `json:"run_id"`
	Term           string `json:"term"`
	JobsScraped    int    `json:"jobs_scraped"`
	NewJobsAdded   int    `json:"new_jobs_added"`
	JobsAnalyzed   int    `json:"jobs_analyzed"`
	CompaniesFound int    `json:"companies_found"`
}

// Scheduler picks due terms and runs the scrape-then-analyze pipeline for
// them under a dispatch lease.
type Scheduler struct {
	store    Store
	ingestor *ingest.Ingestor
	analyzer *analyze.Analyzer
	ledger   *ledger.Ledger

	staleness time.Duration
	lockTTL   time.Duration
	owner     string
	running   atomic.Bool
	now       func() time.Time
}

// New creates a scheduler. staleness is the minimum age before a term is
// re-scraped; lockTTL bounds how long a crashed instance can hold the lease.
func New(st Store, ing *ingest.Ingestor, an *analyze.Analyzer, l *ledger.Ledger, staleness, lockTTL time.Duration) *Scheduler {
	return &Scheduler{
		store:     st,
		ingestor:  ing,
		analyzer:  an,
		ledger:    l,
		staleness: staleness,
		lockTTL:   lockTTL,
		owner:     uuid.NewString(),
		now:       time.Now,
	}
}

// IsDue reports whether a term should be scraped at now. A never-scraped
// term is always due; otherwise the last scrape must be strictly older than
// the staleness window.
func IsDue(term model.SearchTerm, now time.Time, staleness time.Duration) bool {
	if term.LastScrapedAt == nil {
		return true
	}
	return term.LastScrapedAt.Before(now.Add(-staleness))
}

// RunNext dispatches the highest-priority due term. It returns (nil, nil)
// when no term is due, and ErrBusy when another dispatch holds the lease.
func (s *Scheduler) RunNext(ctx context.Context) (*Outcome, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	term, err := s.store.NextDueTerm(ctx, s.now().Add(-s.staleness))
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: next due term")
	}
	if term == nil {
		zap.L().Debug("no terms due")
		return nil, nil
	}
	return s.run(ctx, *term)
}

// RunTerm dispatches the named term immediately, regardless of staleness.
func (s *Scheduler) RunTerm(ctx context.Context, name string) (*Outcome, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	term, err := s.store.GetTerm(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: get term")
	}
	if term == nil {
		return nil, eris.Errorf("scheduler: unknown term %q", name)
	}
	return s.run(ctx, *term)
}

// acquire takes the in-process flag and the store lease, returning a release
// func. ErrBusy means someone else is dispatching.
func (s *Scheduler) acquire(ctx context.Context) (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	ok, err := s.store.AcquireLock(ctx, dispatchLock, s.owner, s.now(), s.lockTTL)
	if err != nil {
		s.running.Store(false)
		return nil, eris.Wrap(err, "scheduler: acquire lock")
	}
	if !ok {
		s.running.Store(false)
		return nil, ErrBusy
	}

	return func() {
		if err := s.store.ReleaseLock(context.WithoutCancel(ctx), dispatchLock, s.owner); err != nil {
			zap.L().Warn("release dispatch lock failed", zap.Error(err))
		}
		s.running.Store(false)
	}, nil
}

// run executes the pipeline for one term: ingest, then one synchronous
// analysis pass so a manual trigger reports companies found, with the run
// ledger tracking the outcome.
func (s *Scheduler) run(ctx context.Context, term model.SearchTerm) (*Outcome, error) {
	runID := s.ledger.StartRun(ctx, term.Term)
	out := &Outcome{RunID: runID, Term: term.Term}

	zap.L().Info("dispatching run",
		zap.String("run_id", runID), zap.String("term", term.Term))

	ingested, err := s.ingestor.Ingest(ctx, term)
	if err != nil {
		s.ledger.FailRun(ctx, runID, err)
		return out, eris.Wrap(err, "scheduler: ingest")
	}
	out.JobsScraped = ingested.JobsScraped
	out.NewJobsAdded = ingested.NewJobsAdded

	stats, err := s.analyzer.RunBatch(ctx)
	if err != nil {
		// Postings are landed; the drain loop will pick them up.
		s.ledger.FailRun(ctx, runID, err)
		return out, eris.Wrap(err, "scheduler: analyze")
	}
	out.JobsAnalyzed = stats.Analyzed
	out.CompaniesFound = stats.CompaniesFound

	s.ledger.CompleteRun(ctx, runID, out.JobsScraped, out.JobsAnalyzed, out.CompaniesFound)
	s.ledger.Notify(ctx, model.NotificationScrapeComplete,
		"Scrape complete: "+term.Term,
		"run finished",
		out)
	return out, nil
}
