package model

import (
	"encoding/json"
	"time"
)

// Tier is the priority classification of an identified company.
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
)

// IdentifiedCompany is a persisted (company, tool) fact. The pair
// (normalized company name, tool detected) is unique in the registry;
// that constraint is the pipeline's core correctness guarantee.
type IdentifiedCompany struct {
	ID            int64           `json:"id"`
	Company       string          `json:"company"`
	ToolDetected  Tool            `json:"tool_detected"`
	SignalType    SignalType      `json:"signal_type"`
	Context       string          `json:"context"`
	JobTitle      string          `json:"job_title"`
	JobURL        string          `json:"job_url"`
	Tier          Tier            `json:"tier"`
	IdentifiedAt  time.Time       `json:"identified_date"`
	LeadGenerated bool            `json:"lead_generated"`
	LeadMetadata  json.RawMessage `json:"lead_metadata,omitempty"`
}

// TierOneReference is a curated priority company name used by the tier
// classifier. The reference set is maintained outside the pipeline and is
// read-only here.
type TierOneReference struct {
	ID       int64  `json:"id" yaml:"-"`
	Name     string `json:"name" yaml:"name"`
	Industry string `json:"industry,omitempty" yaml:"industry,omitempty"`
	Size     string `json:"size,omitempty" yaml:"size,omitempty"`
}
