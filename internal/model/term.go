package model

import "time"

// SearchTerm is a query string the scheduler re-scrapes on a staleness window.
type SearchTerm struct {
	ID             int64      `json:"id"`
	Term           string     `json:"term"`
	IsActive       bool       `json:"is_active"`
	Priority       int        `json:"priority"`
	LastScrapedAt  *time.Time `json:"last_scraped_date,omitempty"`
	JobsFoundCount int        `json:"jobs_found_count"`
	CreatedAt      time.Time  `json:"created_at"`
}
