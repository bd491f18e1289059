package leads

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toolwatch/internal/ledger"
	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/store"
)

type fakeSalesforce struct {
	inserted []map[string]any
	failFor  map[string]bool
	nextID   int
}

func (f *fakeSalesforce) Query(ctx context.Context, soql string, out any) error { return nil }

func (f *fakeSalesforce) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	company, _ := record["Company"].(string)
	if f.failFor[company] {
		return "", eris.New("sf: insert Lead failed")
	}
	f.inserted = append(f.inserted, record)
	f.nextID++
	return "00Q" + string(rune('0'+f.nextID)), nil
}

func (f *fakeSalesforce) UpdateOne(ctx context.Context, sObjectName, id string, fields map[string]any) error {
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(st.Close)
	return st
}

func seedCompany(t *testing.T, st *store.SQLiteStore, name string, tier model.Tier) *model.IdentifiedCompany {
	t.Helper()
	c, err := st.InsertCompany(context.Background(), &model.IdentifiedCompany{
		Company:      name,
		ToolDetected: model.ToolOutreach,
		SignalType:   model.SignalExplicitMention,
		Context:      "uses Outreach",
		JobTitle:     "AE",
		Tier:         tier,
		IdentifiedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return c
}

func TestExportPushesTierOneCompanies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCompany(t, st, "Acme", model.Tier1)
	seedCompany(t, st, "Globex", model.Tier2)

	sf := &fakeSalesforce{}
	e := New(st, sf, ledger.New(st))

	stats, err := e.Export(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, Stats{Exported: 1}, stats)

	require.Len(t, sf.inserted, 1)
	record := sf.inserted[0]
	assert.Equal(t, "Acme", record["Company"])
	assert.Equal(t, "Toolwatch", record["LeadSource"])
	assert.Contains(t, record["Description"], "outreach")

	// The exported company is marked and never picked up again.
	got, err := st.GetCompany(ctx, "Acme", model.ToolOutreach)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LeadGenerated)
	assert.Contains(t, string(got.LeadMetadata), "salesforce_id")

	stats, err = e.Export(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestExportFailureIsolation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCompany(t, st, "Acme", model.Tier1)
	seedCompany(t, st, "Broken Co", model.Tier1)

	sf := &fakeSalesforce{failFor: map[string]bool{"Broken Co": true}}
	e := New(st, sf, ledger.New(st))

	stats, err := e.Export(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exported)
	assert.Equal(t, 1, stats.Failed)

	// The failed company stays unexported for the next pass.
	broken, err := st.GetCompany(ctx, "Broken Co", model.ToolOutreach)
	require.NoError(t, err)
	require.NotNil(t, broken)
	assert.False(t, broken.LeadGenerated)
}

func TestExportNothingToDo(t *testing.T) {
	st := newTestStore(t)
	sf := &fakeSalesforce{}
	e := New(st, sf, ledger.New(st))

	stats, err := e.Export(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, sf.inserted)
}
