package tier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toolwatch/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme corp"},
		{"  ACME   CORP  ", "acme corp"},
		{"Acme\u00a0Corp", "acme corp"}, // non-breaking space
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestStripEntitySuffixes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"acme corp", "acme"},
		{"acme corporation", "acme"},
		{"acme, inc.", "acme"},
		{"acme llc", "acme"},
		{"acme gmbh", "acme"},
		{"acme", "acme"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripEntitySuffixes(tt.in), "input %q", tt.in)
	}
}

func refs(names ...string) []model.TierOneReference {
	out := make([]model.TierOneReference, len(names))
	for i, n := range names {
		out[i] = model.TierOneReference{Name: n}
	}
	return out
}

func TestClassifyExactMatch(t *testing.T) {
	c := NewClassifier(refs("Acme Corp", "Globex"))

	assert.Equal(t, model.Tier1, c.Classify("Acme Corp"))
	assert.Equal(t, model.Tier1, c.Classify("ACME CORP"))
	assert.Equal(t, model.Tier1, c.Classify("  acme   corp "))
	assert.Equal(t, model.Tier2, c.Classify("Initech"))
}

func TestClassifySuffixVariants(t *testing.T) {
	c := NewClassifier(refs("Acme Corp"))

	assert.Equal(t, model.Tier1, c.Classify("Acme Corporation"))
	assert.Equal(t, model.Tier1, c.Classify("Acme, Inc."))
	assert.Equal(t, model.Tier1, c.Classify("Acme LLC"))
	assert.Equal(t, model.Tier2, c.Classify("Acmea Corp"))
}

func TestClassifySubstring(t *testing.T) {
	c := NewClassifier(refs("Globex"))

	assert.Equal(t, model.Tier1, c.Classify("Globex International"))
	assert.Equal(t, model.Tier1, c.Classify("The Globex Group"))
	assert.Equal(t, model.Tier2, c.Classify("Vandelay Industries"))
}

func TestClassifySubstringMinLength(t *testing.T) {
	// Short reference names must not match by containment.
	c := NewClassifier(refs("GE"))

	assert.Equal(t, model.Tier2, c.Classify("General Electric"))
	assert.Equal(t, model.Tier2, c.Classify("Gecko Labs"))
	assert.Equal(t, model.Tier1, c.Classify("GE")) // exact still matches
}

func TestClassifyEmptyName(t *testing.T) {
	c := NewClassifier(refs("Acme Corp"))
	assert.Equal(t, model.Tier2, c.Classify(""))
	assert.Equal(t, model.Tier2, c.Classify("   "))
}

func TestClassifyEmptyReferenceSet(t *testing.T) {
	c := NewClassifier(nil)
	assert.Equal(t, model.Tier2, c.Classify("Acme Corp"))
}

func TestLoadReferencesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tier1.yaml")
	content := `
- name: Acme Corp
  industry: SaaS
  size: "500"
- name: Globex
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loaded, err := LoadReferencesFromFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Acme Corp", loaded[0].Name)
	assert.Equal(t, "SaaS", loaded[0].Industry)
	assert.Equal(t, "Globex", loaded[1].Name)

	_, err = LoadReferencesFromFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
