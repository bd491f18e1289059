package model

import (
	"encoding/json"
	"time"
)

// NotificationType tags an event in the notification log.
type NotificationType string

const (
	NotificationCompanyDiscovered NotificationType = "company_discovered"
	NotificationScrapeComplete    NotificationType = "scrape_complete"
	NotificationNeedsReview       NotificationType = "needs_review"
	NotificationError             NotificationType = "error"
)

// NotificationEvent is an append-only record of pipeline activity.
// External observability surfaces consume events and mark them read;
// events are otherwise immutable.
type NotificationEvent struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"notification_type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Metadata  json.RawMessage  `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	IsRead    bool             `json:"is_read"`
}
