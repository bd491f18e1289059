// Package dedup maintains the identified-company registry. Each positive
// classification is folded into the registry exactly once per (company,
// tool) pair; the database uniqueness constraint backs the in-process
// checks, so concurrent writers converge on one row.
package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/ledger"
	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/store"
	"github.com/sells-group/toolwatch/internal/tier"
)

// Action is the outcome of folding one candidate into the registry.
type Action string

const (
	// ActionInserted means a new (company, tool) fact was recorded.
	ActionInserted Action = "inserted"
	// ActionUpdated means an existing fact got fresher evidence.
	ActionUpdated Action = "updated"
	// ActionSkipped means the fact is recent enough to leave alone.
	ActionSkipped Action = "skipped"
)

// Store is the registry surface the deduplicator needs.
type Store interface {
	GetCompany(ctx context.Context, company string, tool model.Tool) (*model.IdentifiedCompany, error)
	InsertCompany(ctx context.Context, c *model.IdentifiedCompany) (*model.IdentifiedCompany, error)
	RefreshCompanyEvidence(ctx context.Context, id int64, cand model.Candidate, identifiedAt time.Time) error
}

// Deduplicator folds classification candidates into the registry.
type Deduplicator struct {
	store      Store
	classifier *tier.Classifier
	ledger     *ledger.Ledger
	skipWindow time.Duration
	now        func() time.Time
}

// New creates a deduplicator. A company already identified within
// skipWindow is left untouched; older records get their evidence refreshed.
func New(st Store, classifier *tier.Classifier, l *ledger.Ledger, skipWindow time.Duration) *Deduplicator {
	return &Deduplicator{
		store:      st,
		classifier: classifier,
		ledger:     l,
		skipWindow: skipWindow,
		now:        time.Now,
	}
}

// Upsert records the candidate in the registry and reports what happened.
func (d *Deduplicator) Upsert(ctx context.Context, cand model.Candidate) (Action, error) {
	if cand.Company == "" {
		return "", eris.New("dedup: candidate has no company name")
	}
	if !cand.Tool.Valid() {
		return "", eris.Errorf("dedup: candidate tool %q is not persistable", cand.Tool)
	}

	existing, err := d.store.GetCompany(ctx, cand.Company, cand.Tool)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return d.reconcile(ctx, existing, cand)
	}

	created, err := d.store.InsertCompany(ctx, &model.IdentifiedCompany{
		Company:      cand.Company,
		ToolDetected: cand.Tool,
		SignalType:   cand.SignalType,
		Context:      cand.Context,
		JobTitle:     cand.JobTitle,
		JobURL:       cand.JobURL,
		Tier:         d.classifier.Classify(cand.Company),
		IdentifiedAt: d.now(),
	})
	if eris.Is(err, store.ErrDuplicateKey) {
		// Another worker won the insert between our read and write. Their
		// row is the fact; ours becomes an evidence refresh.
		existing, err = d.store.GetCompany(ctx, cand.Company, cand.Tool)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", eris.New("dedup: duplicate key but no row found on re-read")
		}
		if err := d.store.RefreshCompanyEvidence(ctx, existing.ID, cand, d.now()); err != nil {
			return "", err
		}
		return ActionUpdated, nil
	}
	if err != nil {
		return "", err
	}

	zap.L().Info("company identified",
		zap.String("company", created.Company),
		zap.String("tool", string(created.ToolDetected)),
		zap.String("tier", string(created.Tier)),
	)
	d.ledger.Notify(ctx, model.NotificationCompanyDiscovered,
		"New company: "+created.Company,
		string(created.ToolDetected)+" signal from "+cand.JobTitle,
		map[string]any{
			"company": created.Company,
			"tool":    created.ToolDetected,
			"tier":    created.Tier,
		})
	return ActionInserted, nil
}

func (d *Deduplicator) reconcile(ctx context.Context, existing *model.IdentifiedCompany, cand model.Candidate) (Action, error) {
	if d.now().Sub(existing.IdentifiedAt) < d.skipWindow {
		return ActionSkipped, nil
	}
	if err := d.store.RefreshCompanyEvidence(ctx, existing.ID, cand, d.now()); err != nil {
		return "", err
	}
	return ActionUpdated, nil
}
