package hubspot

import (
	"errors"
	"fmt"
	"regexp"
)

// APIError is a non-2xx response from the HubSpot API.
type APIError struct {
	StatusCode int
	Category   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot: status %d (%s): %s", e.StatusCode, e.Category, e.Message)
}

// ConflictError is a 409 returned when a create collides with an existing
// record. HubSpot embeds the existing record's id in the message body;
// ExistingID carries it when it could be extracted.
type ConflictError struct {
	Message    string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return "hubspot: conflict: " + e.Message
}

// MissingScopesError is a 403 caused by the private app token lacking a
// required OAuth scope. It is a configuration problem, never retried.
type MissingScopesError struct {
	Message string
}

func (e *MissingScopesError) Error() string {
	return "hubspot: missing scopes: " + e.Message
}

// existingIDPattern matches the record id HubSpot embeds in 409 messages,
// e.g. "Contact already exists. Existing ID: 12345".
var existingIDPattern = regexp.MustCompile(`(?i)existing id:?\s*([0-9]+)`)

// extractExistingID pulls the existing record id out of a conflict message.
// Returns "" when the message carries none.
func extractExistingID(message string) string {
	m := existingIDPattern.FindStringSubmatch(message)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// StatusCode extracts the HTTP status from an API error chain. Returns 0
// when the error carries no status.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return 409
	}
	var scopes *MissingScopesError
	if errors.As(err, &scopes) {
		return 403
	}
	return 0
}

// IsConflict returns the ConflictError in the chain, if any.
func IsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// IsMissingScopes returns true if the error chain contains a MissingScopesError.
func IsMissingScopes(err error) bool {
	var scopes *MissingScopesError
	return errors.As(err, &scopes)
}
