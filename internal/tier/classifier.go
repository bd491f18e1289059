package tier

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/toolwatch/internal/model"
)

// Classifier assigns a tier to a company name by running the matcher chain
// against the reference set. It is pure and safe for concurrent use.
type Classifier struct {
	refs     []string
	matchers []Matcher
}

// NewClassifier builds a classifier over refs. With no matchers given, the
// default chain is used with a minimum substring length of 4.
func NewClassifier(refs []model.TierOneReference, matchers ...Matcher) *Classifier {
	if len(matchers) == 0 {
		matchers = DefaultMatchers(4)
	}
	normalized := make([]string, 0, len(refs))
	for _, r := range refs {
		if n := Normalize(r.Name); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &Classifier{refs: normalized, matchers: matchers}
}

// Classify returns Tier1 when the company matches any reference name, and
// Tier2 otherwise. Unknown or empty names fall through to Tier2.
func (c *Classifier) Classify(company string) model.Tier {
	n := Normalize(company)
	if n == "" {
		return model.Tier2
	}
	for _, m := range c.matchers {
		for _, ref := range c.refs {
			if m.Match(n, ref) {
				return model.Tier1
			}
		}
	}
	return model.Tier2
}

// LoadReferencesFromFile reads a YAML list of reference companies, e.g.
//
//	- name: Acme Corp
//	  industry: SaaS
//	  size: "500"
func LoadReferencesFromFile(path string) ([]model.TierOneReference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "tier: read reference file")
	}
	var refs []model.TierOneReference
	if err := yaml.Unmarshal(data, &refs); err != nil {
		return nil, eris.Wrap(err, "tier: parse reference file")
	}
	return refs, nil
}
