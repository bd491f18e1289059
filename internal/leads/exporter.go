// Package leads exports tier-one identified companies to Salesforce as
// leads. Export is one way and idempotent: a company is marked
// lead_generated only after the Salesforce insert succeeds, and marked
// companies are never exported again.
package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/ledger"
	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/store"
	"github.com/sells-group/toolwatch/pkg/salesforce"
)

// Store is the persistence surface the exporter needs.
type Store interface {
	ListCompanies(ctx context.Context, f store.CompanyFilter) ([]model.IdentifiedCompany, error)
	MarkLeadGenerated(ctx context.Context, id int64, metadata json.RawMessage) error
}

// Stats summarizes one export pass.
type Stats struct {
	Exported int
	Failed   int
}

// Exporter pushes unexported tier-one companies into Salesforce.
type Exporter struct {
	store  Store
	sf     salesforce.Client
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates an exporter.
func New(st Store, sf salesforce.Client, l *ledger.Ledger) *Exporter {
	return &Exporter{store: st, sf: sf, ledger: l, now: time.Now}
}

// Export pushes up to limit unexported tier-one companies. Per-company
// failures are logged and counted; the pass keeps going.
func (e *Exporter) Export(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	unexported := false
	companies, err := e.store.ListCompanies(ctx, store.CompanyFilter{
		Tier:          model.Tier1,
		LeadGenerated: &unexported,
		Limit:         limit,
	})
	if err != nil {
		return stats, err
	}
	if len(companies) == 0 {
		zap.L().Info("no companies to export")
		return stats, nil
	}

	for _, c := range companies {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.exportOne(ctx, c); err != nil {
			stats.Failed++
			zap.L().Warn("lead export failed",
				zap.Int64("company_id", c.ID),
				zap.String("company", c.Company),
				zap.Error(err))
			continue
		}
		stats.Exported++
	}

	zap.L().Info("lead export complete",
		zap.Int("exported", stats.Exported),
		zap.Int("failed", stats.Failed))
	if stats.Exported > 0 {
		e.ledger.Notify(ctx, model.NotificationScrapeComplete,
			fmt.Sprintf("Exported %d lead(s) to Salesforce", stats.Exported),
			"tier-one companies pushed as leads",
			map[string]any{"exported": stats.Exported, "failed": stats.Failed})
	}
	return stats, nil
}

func (e *Exporter) exportOne(ctx context.Context, c model.IdentifiedCompany) error {
	sfID, err := e.sf.InsertOne(ctx, "Lead", leadRecord(c))
	if err != nil {
		return err
	}

	meta, _ := json.Marshal(map[string]any{
		"salesforce_id": sfID,
		"exported_at":   e.now().UTC().Format(time.RFC3339),
	})
	if err := e.store.MarkLeadGenerated(ctx, c.ID, meta); err != nil {
		// The lead exists in Salesforce but the mark failed; the next pass
		// would duplicate it, so surface loudly.
		zap.L().Error("lead created but mark failed",
			zap.Int64("company_id", c.ID),
			zap.String("salesforce_id", sfID),
			zap.Error(err))
		return err
	}

	zap.L().Info("lead exported",
		zap.String("company", c.Company),
		zap.String("salesforce_id", sfID))
	return nil
}

// leadRecord maps a company to Salesforce Lead fields. Lead requires
// LastName, so the contact placeholder carries the detected tool.
func leadRecord(c model.IdentifiedCompany) map[string]any {
	return map[string]any{
		"Company":     c.Company,
		"LastName":    "Sales Team",
		"LeadSource":  "Toolwatch",
		"Title":       c.JobTitle,
		"Description": leadDescription(c),
	}
}

func leadDescription(c model.IdentifiedCompany) string {
	return fmt.Sprintf("Detected %s (%s) in job posting %q.\nContext: %s\nIdentified: %s",
		c.ToolDetected, c.SignalType, c.JobTitle, c.Context,
		c.IdentifiedAt.Format("2006-01-02"))
}
