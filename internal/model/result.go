package model

import "time"

// ExecutionResult maps each executed object kind to the provider-assigned
// record id, with per-kind errors and best-effort association failures
// surfaced explicitly rather than swallowed.
type ExecutionResult struct {
	Provider          Provider              `json:"provider"`
	Records           map[ObjectKind]string `json:"records"`
	Permalink         string                `json:"permalink,omitempty"`
	Errors            map[ObjectKind]string `json:"errors,omitempty"`
	AssociationErrors []string              `json:"association_errors,omitempty"`
}

// NewExecutionResult returns an empty result for the given provider.
func NewExecutionResult(p Provider) *ExecutionResult {
	return &ExecutionResult{
		Provider: p,
		Records:  make(map[ObjectKind]string),
		Errors:   make(map[ObjectKind]string),
	}
}

// RecordID returns the id recorded for the given kind, or "".
func (r *ExecutionResult) RecordID(k ObjectKind) string {
	if r == nil {
		return ""
	}
	return r.Records[k]
}

// Failed reports whether any primary object failed to execute.
func (r *ExecutionResult) Failed() bool {
	return r != nil && len(r.Errors) > 0
}

// SyncResult reports one synchronizer run for one user. Every candidate
// message is accounted for in exactly one of the three counters.
type SyncResult struct {
	Inserted     int                 `json:"inserted"`
	Skipped      int                 `json:"skipped"`
	Errors       int                 `json:"errors"`
	ErrorDetails []string            `json:"error_details,omitempty"`
	NewWatermark time.Time           `json:"new_watermark"`
	Messages     []NormalizedMessage `json:"-"`
}

// MessageOutcome is the per-message result of a full pipeline run.
type MessageOutcome struct {
	MessageID string             `json:"message_id"`
	Status    string             `json:"status"`
	Decision  *RoutingDecision   `json:"decision,omitempty"`
	Results   []*ExecutionResult `json:"results,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// RunSummary aggregates a pipeline run for one user: the sync counters plus
// the outcome of every processed message. No message is dropped without
// appearing in one of the buckets.
type RunSummary struct {
	UserID    string           `json:"user_id"`
	Inserted  int              `json:"inserted"`
	Skipped   int              `json:"skipped"`
	Errors    int              `json:"errors"`
	Processed int              `json:"processed"`
	Outcomes  []MessageOutcome `json:"outcomes,omitempty"`
	Watermark time.Time        `json:"watermark"`
}
