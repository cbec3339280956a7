package model

import "time"

// NormalizedMessage is an immutable snapshot of one inbound mailbox message.
// Built by the synchronizer from raw provider data; read-only downstream.
type NormalizedMessage struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	Subject        string    `json:"subject"`
	Sender         string    `json:"sender"`
	Snippet        string    `json:"snippet"`
	ReceivedAt     time.Time `json:"received_at"`
	HasAttachments bool      `json:"has_attachments"`
	HasImages      bool      `json:"has_images"`
	HasLinks       bool      `json:"has_links"`
	Permalink      string    `json:"permalink"`
}

// Message status values recorded against stored message rows.
const (
	StatusNew       = "new"
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
	StatusError     = "error"
)

// Connection is the per-(user, provider) mailbox sync cursor. LastPollAt is
// the watermark: it is monotonically non-decreasing and never precedes
// BaselineAt. Only the synchronizer mutates these fields.
type Connection struct {
	UserID           string    `json:"user_id"`
	BaselineAt       time.Time `json:"baseline_at"`
	BaselineReady    bool      `json:"baseline_ready"`
	LastPollAt       time.Time `json:"last_poll_at"`
	LastPollErrCount int       `json:"last_poll_error_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}
