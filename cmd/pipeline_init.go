package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/analyze"
	"github.com/sells-group/toolwatch/internal/dedup"
	"github.com/sells-group/toolwatch/internal/ingest"
	"github.com/sells-group/toolwatch/internal/ledger"
	"github.com/sells-group/toolwatch/internal/scheduler"
	"github.com/sells-group/toolwatch/internal/store"
	"github.com/sells-group/toolwatch/internal/tier"
	anthropicpkg "github.com/sells-group/toolwatch/pkg/anthropic"
	"github.com/sells-group/toolwatch/pkg/jobsearch"
)

// pipelineEnv holds the initialized store, clients, and pipeline stages
// used by the scrape/analyze/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Ledger    *ledger.Ledger
	Analyzer  *analyze.Analyzer
	Scheduler *scheduler.Scheduler
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "toolwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initTierClassifier builds the tier classifier from the persisted
// reference set. An empty set means every company lands in tier 2.
func initTierClassifier(ctx context.Context, st store.Store) (*tier.Classifier, error) {
	refs, err := st.ListTierOneReferences(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load tier-one references")
	}
	if len(refs) == 0 {
		zap.L().Warn("tier-one reference set is empty, all companies will be tier 2 (run 'toolwatch migrate --seed-tiers' to load it)")
	}

	minLen := cfg.Tier.MinSubstringLen
	return tier.NewClassifier(refs, tier.DefaultMatchers(minLen)...), nil
}

// initPipeline sets up the store, API clients, and pipeline stages.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("ingest"); err != nil {
		return nil, err
	}
	if err := cfg.Validate("analyze"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	classifier, err := initTierClassifier(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	jsClient := jobsearch.NewClient(cfg.JobSearch.Key,
		jobsearch.WithBaseURL(cfg.JobSearch.BaseURL),
		jobsearch.WithHost(cfg.JobSearch.Host),
		jobsearch.WithPageLimit(cfg.JobSearch.PageLimit),
		jobsearch.WithRateLimit(cfg.JobSearch.RequestsPerSec),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	l := ledger.New(st)
	d := dedup.New(st, classifier, l, cfg.Pipeline.SkipWindow())
	a := analyze.New(st, anthropicClient, d, l, analyze.Config{
		Model:               cfg.Anthropic.Model,
		BatchSize:           cfg.Analyzer.BatchSize,
		MaxConcurrency:      cfg.Analyzer.MaxConcurrency,
		MaxRetries:          cfg.Analyzer.MaxRetries,
		NoBatch:             cfg.Anthropic.NoBatch,
		SmallBatchThreshold: cfg.Anthropic.SmallBatchThreshold,
		Interval:            time.Duration(cfg.Analyzer.IntervalMinutes) * time.Minute,
	})
	ing := ingest.New(st, jsClient)
	sched := scheduler.New(st, ing, a, l,
		cfg.Pipeline.StalenessWindow(),
		time.Duration(cfg.Scheduler.LockTTLSecs)*time.Second,
	)

	return &pipelineEnv{
		Store:     st,
		Ledger:    l,
		Analyzer:  a,
		Scheduler: sched,
	}, nil
}
