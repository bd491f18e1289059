// Package analyze drains unprocessed postings through LLM classification
// and feeds positive results to the dedup stage. Each posting is handled in
// isolation: one bad posting fails alone, the batch keeps going.
package analyze

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/toolwatch/internal/dedup"
	"github.com/sells-group/toolwatch/internal/ledger"
	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/resilience"
	"github.com/sells-group/toolwatch/pkg/anthropic"
)

// Store is the posting surface the analyzer needs.
type Store interface {
	ListUnprocessed(ctx context.Context, limit int) ([]model.RawPosting, error)
	MarkPostingProcessed(ctx context.Context, id int64, analyzedAt time.Time) error
	RecordPostingFailure(ctx context.Context, id int64, maxRetries int) (bool, error)
}

// Config tunes the analyzer.
type Config struct {
	Model               string
	BatchSize           int
	MaxConcurrency      int
	MaxRetries          int
	NoBatch             bool
	SmallBatchThreshold int
	Interval            time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.SmallBatchThreshold <= 0 {
		c.SmallBatchThreshold = 8
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	return c
}

// BatchStats summarizes one RunBatch call.
type BatchStats struct {
	Analyzed       int
	CompaniesFound int
	Failed         int
}

// Analyzer classifies raw postings and routes results.
type Analyzer struct {
	store   Store
	client  anthropic.Client
	dedup   *dedup.Deduplicator
	ledger  *ledger.Ledger
	breaker *resilience.CircuitBreaker
	cfg     Config
	now     func() time.Time
}

// New creates an analyzer.
func New(st Store, client anthropic.Client, d *dedup.Deduplicator, l *ledger.Ledger, cfg Config) *Analyzer {
	return &Analyzer{
		store:  st,
		client: client,
		dedup:  d,
		ledger: l,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     time.Minute,
			ShouldTrip:       resilience.IsTransient,
		}),
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// verdict pairs a posting with its classification outcome.
type verdict struct {
	posting model.RawPosting
	class   classification
	err     error
}

// RunBatch classifies one batch of unprocessed postings. It returns an
// error only for stage-level failures (store unreachable, classification
// service down); per-posting failures are recorded against the posting.
func (a *Analyzer) RunBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	postings, err := a.store.ListUnprocessed(ctx, a.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	if len(postings) == 0 {
		return stats, nil
	}

	zap.L().Info("analyzing postings", zap.Int("count", len(postings)))

	var verdicts []verdict
	if a.cfg.NoBatch || len(postings) <= a.cfg.SmallBatchThreshold {
		verdicts = a.classifyDirect(ctx, postings)
	} else {
		verdicts, err = a.classifyBatch(ctx, postings)
		if err != nil {
			return stats, err
		}
	}

	for _, v := range verdicts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		a.apply(ctx, v, &stats)
	}

	zap.L().Info("batch analyzed",
		zap.Int("analyzed", stats.Analyzed),
		zap.Int("companies_found", stats.CompaniesFound),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// apply routes one verdict: mark processed, fold into the registry, or
// record the failure.
func (a *Analyzer) apply(ctx context.Context, v verdict, stats *BatchStats) {
	if v.err != nil {
		a.recordFailure(ctx, v.posting, v.err, stats)
		return
	}

	if v.class.Tool == model.ToolNone {
		if err := a.store.MarkPostingProcessed(ctx, v.posting.ID, a.now()); err != nil {
			zap.L().Error("mark posting processed failed",
				zap.Int64("posting_id", v.posting.ID), zap.Error(err))
			return
		}
		stats.Analyzed++
		return
	}

	action, err := a.dedup.Upsert(ctx, model.Candidate{
		Company:    v.posting.Company,
		Tool:       v.class.Tool,
		SignalType: v.class.SignalType,
		Context:    v.class.Context,
		JobTitle:   v.posting.Title,
		JobURL:     v.posting.URL,
	})
	if err != nil {
		a.recordFailure(ctx, v.posting, err, stats)
		return
	}

	if err := a.store.MarkPostingProcessed(ctx, v.posting.ID, a.now()); err != nil {
		zap.L().Error("mark posting processed failed",
			zap.Int64("posting_id", v.posting.ID), zap.Error(err))
		return
	}
	stats.Analyzed++
	if action == dedup.ActionInserted {
		stats.CompaniesFound++
	}
}

func (a *Analyzer) recordFailure(ctx context.Context, p model.RawPosting, cause error, stats *BatchStats) {
	stats.Failed++
	zap.L().Warn("posting classification failed",
		zap.Int64("posting_id", p.ID),
		zap.String("job_id", p.JobID),
		zap.Error(cause),
	)

	parked, err := a.store.RecordPostingFailure(ctx, p.ID, a.cfg.MaxRetries)
	if err != nil {
		zap.L().Error("record posting failure failed",
			zap.Int64("posting_id", p.ID), zap.Error(err))
		return
	}
	if parked {
		a.ledger.Notify(ctx, model.NotificationNeedsReview,
			"Posting parked for review: "+p.JobID,
			"retry budget exhausted: "+cause.Error(),
			map[string]any{"posting_id": p.ID, "job_id": p.JobID})
		return
	}
	a.ledger.Notify(ctx, model.NotificationError,
		"Posting classification failed: "+p.JobID,
		cause.Error(),
		map[string]any{"posting_id": p.ID, "job_id": p.JobID, "retry_count": p.RetryCount + 1})
}

// classifyDirect sends one message per posting with bounded concurrency.
// Per-posting transport errors become per-posting verdicts unless the
// circuit opens, in which case remaining postings are left untouched for
// the next batch.
func (a *Analyzer) classifyDirect(ctx context.Context, postings []model.RawPosting) []verdict {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrency)

	var mu sync.Mutex
	var out []verdict

	for _, p := range postings {
		g.Go(func() error {
			resp, err := resilience.ExecuteVal(gCtx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
				return a.client.CreateMessage(ctx, buildRequest(a.cfg.Model, p))
			})
			if eris.Is(err, resilience.ErrCircuitOpen) {
				// Not the posting's fault; leave it unprocessed.
				return nil
			}

			v := verdict{posting: p, err: err}
			if err == nil {
				v.class, v.err = parseClassification(resp.Text())
			}
			mu.Lock()
			out = append(out, v)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// classifyBatch warms the prompt cache with a primer request, then submits
// the batch and polls it to completion.
func (a *Analyzer) classifyBatch(ctx context.Context, postings []model.RawPosting) ([]verdict, error) {
	items := make([]anthropic.BatchRequestItem, len(postings))
	for i, p := range postings {
		items[i] = anthropic.BatchRequestItem{
			CustomID: fmt.Sprintf("posting-%d", p.ID),
			Params:   buildRequest(a.cfg.Model, p),
		}
	}

	result, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.BatchCollectResult, error) {
		if _, err := anthropic.PrimerRequest(ctx, a.client, items[0].Params); err != nil {
			zap.L().Warn("primer request failed, batch proceeds uncached", zap.Error(err))
		}

		batch, err := a.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
		if err != nil {
			return nil, err
		}
		if batch, err = anthropic.PollBatch(ctx, a.client, batch.ID); err != nil {
			return nil, err
		}
		iter, err := a.client.GetBatchResults(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		return anthropic.CollectBatchResults(iter)
	})
	if err != nil {
		return nil, eris.Wrap(err, "analyze: classify batch")
	}

	out := make([]verdict, 0, len(postings))
	for _, p := range postings {
		customID := fmt.Sprintf("posting-%d", p.ID)
		resp, ok := result.Succeeded[customID]
		v := verdict{posting: p}
		if !ok {
			v.err = eris.Errorf("analyze: batch item %s did not succeed", customID)
		} else {
			v.class, v.err = parseClassification(resp.Text())
		}
		out = append(out, v)
	}
	return out, nil
}

// Loop runs batches on a fixed interval until ctx is canceled, draining
// the backlog on each tick.
func (a *Analyzer) Loop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Drain(ctx)
		}
	}
}

// Drain runs batches until the backlog is empty or an error stops progress.
func (a *Analyzer) Drain(ctx context.Context) {
	for {
		stats, err := a.RunBatch(ctx)
		if err != nil {
			zap.L().Error("analyze batch failed", zap.Error(err))
			return
		}
		if stats.Analyzed+stats.Failed == 0 {
			return
		}
	}
}
