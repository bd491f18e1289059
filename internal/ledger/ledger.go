// Package ledger records scraping runs and notification events. Recording
// is best effort: a ledger write failure is logged and never propagated, so
// observability problems cannot abort pipeline work.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/model"
)

// Store is the persistence surface the ledger writes to.
type Store interface {
	CreateRun(ctx context.Context, id, term string) error
	StartRun(ctx context.Context, id string, at time.Time) error
	CompleteRun(ctx context.Context, id string, at time.Time, scraped, analyzed, companies int) error
	FailRun(ctx context.Context, id string, at time.Time, errMsg string) error
	InsertNotification(ctx context.Context, n *model.NotificationEvent) error
}

// Ledger writes run records and notifications. The zero-value nil *Ledger
// is a no-op, so callers never need to guard their bookkeeping calls.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a ledger over st.
func New(st Store) *Ledger {
	return &Ledger{store: st, now: time.Now}
}

// StartRun creates and starts a run record, returning its id. The id is
// valid even when the store write failed.
func (l *Ledger) StartRun(ctx context.Context, term string) string {
	id := uuid.NewString()
	if l == nil {
		return id
	}
	if err := l.store.CreateRun(ctx, id, term); err != nil {
		zap.L().Warn("ledger: create run failed", zap.String("run_id", id), zap.Error(err))
		return id
	}
	if err := l.store.StartRun(ctx, id, l.now()); err != nil {
		zap.L().Warn("ledger: start run failed", zap.String("run_id", id), zap.Error(err))
	}
	return id
}

// CompleteRun marks the run completed with its final counts.
func (l *Ledger) CompleteRun(ctx context.Context, id string, scraped, analyzed, companies int) {
	if l == nil {
		return
	}
	if err := l.store.CompleteRun(ctx, id, l.now(), scraped, analyzed, companies); err != nil {
		zap.L().Warn("ledger: complete run failed", zap.String("run_id", id), zap.Error(err))
	}
}

// FailRun marks the run failed with the error message.
func (l *Ledger) FailRun(ctx context.Context, id string, runErr error) {
	if l == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := l.store.FailRun(ctx, id, l.now(), msg); err != nil {
		zap.L().Warn("ledger: fail run failed", zap.String("run_id", id), zap.Error(err))
	}
}

// Notify appends a notification event. Metadata is marshaled to JSON; a
// marshal failure drops the metadata, not the event.
func (l *Ledger) Notify(ctx context.Context, typ model.NotificationType, title, message string, metadata any) {
	if l == nil {
		return
	}

	var meta json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			zap.L().Warn("ledger: marshal notification metadata failed", zap.Error(err))
		} else {
			meta = b
		}
	}

	n := &model.NotificationEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		Message:   message,
		Metadata:  meta,
		CreatedAt: l.now(),
	}
	if err := l.store.InsertNotification(ctx, n); err != nil {
		zap.L().Warn("ledger: insert notification failed",
			zap.String("notification_type", string(typ)), zap.Error(err))
	}
}
