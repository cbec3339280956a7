// Package store persists mailbox connections and synchronized messages.
// Connection watermark fields are mutated only through the dedicated
// methods, which enforce the invariants (monotonic watermark, baseline
// before polling) at the storage boundary.
package store

import (
	"context"
	"time"

	"github.com/sells-group/mailcrm/internal/model"
)

// Store defines the persistence interface for the routing pipeline.
type Store interface {
	// Connections
	GetConnection(ctx context.Context, userID string) (*model.Connection, error)
	// EstablishBaseline records the start of tracked history and arms the
	// connection in one write: baseline_at and last_poll_at are both set to
	// at, and baseline_ready becomes true. Mail older than the baseline is
	// never imported.
	EstablishBaseline(ctx context.Context, userID string, at time.Time) error
	MarkBaselineReady(ctx context.Context, userID string) error
	// AdvanceWatermark moves the poll watermark forward; it never moves it
	// backwards, and it resets the consecutive poll error count.
	AdvanceWatermark(ctx context.Context, userID string, at time.Time) error
	IncrementPollErrors(ctx context.Context, userID string) error
	ResetConnection(ctx context.Context, userID string) error

	// Messages
	MessageExists(ctx context.Context, userID, messageID string) (bool, error)
	InsertMessages(ctx context.Context, userID string, msgs []model.NormalizedMessage) error
	GetMessage(ctx context.Context, userID, messageID string) (*model.NormalizedMessage, error)
	// ListPendingMessages returns messages still awaiting pipeline
	// processing (status 'new'), oldest first. Rows inserted by a run that
	// died before processing them show up here on the next run.
	ListPendingMessages(ctx context.Context, userID string) ([]model.NormalizedMessage, error)
	UpdateMessageStatus(ctx context.Context, userID, messageID, status, detail string) error
	CountMessages(ctx context.Context, userID, status string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
