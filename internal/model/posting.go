package model

import "time"

// RawPosting is a job posting as returned by the job-search provider,
// keyed by its platform-scoped job id. Postings are inserted once and
// never deleted; the analysis stage flips Processed and sets AnalyzedAt.
type RawPosting struct {
	ID          int64      `json:"id"`
	JobID       string     `json:"job_id"`
	Platform    string     `json:"platform"`
	Company     string     `json:"company"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	SearchTerm  string     `json:"search_term"`
	ScrapedAt   time.Time  `json:"scraped_at"`
	Processed   bool       `json:"processed"`
	AnalyzedAt  *time.Time `json:"analyzed_date,omitempty"`

	// RetryCount and NeedsReview implement bounded retry for postings that
	// repeatedly fail classification. A posting whose retry budget is
	// exhausted is parked for manual review and excluded from batches.
	RetryCount  int  `json:"retry_count"`
	NeedsReview bool `json:"needs_review"`
}

// Candidate is a positive classification result awaiting dedup. It carries
// the evidence needed to create or refresh a company registry row.
type Candidate struct {
	Company    string     `json:"company"`
	Tool       Tool       `json:"tool_detected"`
	SignalType SignalType `json:"signal_type"`
	Context    string     `json:"context"`
	JobTitle   string     `json:"job_title"`
	JobURL     string     `json:"job_url"`
}
