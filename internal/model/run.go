package model

import "time"

// RunStatus is the lifecycle state of a scraping run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final. A terminal run is never
// resumed; a fresh run is scheduled instead.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ScrapingRun is one entry in the run ledger: a single execution of the
// pipeline for one search term.
type ScrapingRun struct {
	ID             string     `json:"id"`
	SearchTerm     string     `json:"search_term"`
	Status         RunStatus  `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	JobsScraped    int        `json:"jobs_scraped"`
	JobsAnalyzed   int        `json:"jobs_analyzed"`
	CompaniesFound int        `json:"companies_found"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
