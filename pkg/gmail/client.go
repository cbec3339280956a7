// Package gmail provides a minimal client for the Gmail REST API, covering
// the unread-message listing and per-message fetch the mailbox poller needs.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Gmail API operations used by the synchronizer.
// The access token is passed per call because one client instance serves
// every monitored mailbox.
type Client interface {
	// ListUnread returns references to unread inbox messages received after
	// the given cutoff. The cutoff is passed to the provider at whole-second
	// granularity; callers must re-check precise receipt times themselves.
	ListUnread(ctx context.Context, accessToken string, after time.Time, maxResults int) ([]MessageRef, error)
	// GetMessage fetches the full message payload for one message ID.
	GetMessage(ctx context.Context, accessToken, id string) (*RawMessage, error)
}

// MessageRef is a lightweight message handle from a list call.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Header is one RFC 5322 header on a message payload.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Part is one MIME part of a message payload.
type Part struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Parts    []Part `json:"parts,omitempty"`
}

// Payload is the MIME tree of a fetched message.
type Payload struct {
	MimeType string   `json:"mimeType"`
	Filename string   `json:"filename"`
	Headers  []Header `json:"headers"`
	Parts    []Part   `json:"parts,omitempty"`
}

// RawMessage is a fetched Gmail message. InternalDate is the provider's
// receipt timestamp in epoch milliseconds, transported as a string.
type RawMessage struct {
	ID           string  `json:"id"`
	ThreadID     string  `json:"threadId"`
	Snippet      string  `json:"snippet"`
	InternalDate string  `json:"internalDate"`
	Payload      Payload `json:"payload"`
}

// Header returns the value of the named header, case-insensitively.
// Returns "" when absent.
func (m *RawMessage) Header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// InternalTime parses InternalDate into a UTC time at millisecond precision.
func (m *RawMessage) InternalTime() (time.Time, error) {
	ms, err := strconv.ParseInt(m.InternalDate, 10, 64)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "gmail: parse internalDate")
	}
	return time.UnixMilli(ms).UTC(), nil
}

// HasAttachment reports whether any MIME part carries a filename.
func (m *RawMessage) HasAttachment() bool {
	if m.Payload.Filename != "" {
		return true
	}
	return anyFilename(m.Payload.Parts)
}

func anyFilename(parts []Part) bool {
	for _, p := range parts {
		if p.Filename != "" {
			return true
		}
		if anyFilename(p.Parts) {
			return true
		}
	}
	return false
}

// HasImage reports whether any MIME part is an image.
func (m *RawMessage) HasImage() bool {
	if strings.HasPrefix(m.Payload.MimeType, "image/") {
		return true
	}
	return anyImage(m.Payload.Parts)
}

func anyImage(parts []Part) bool {
	for _, p := range parts {
		if strings.HasPrefix(p.MimeType, "image/") {
			return true
		}
		if anyImage(p.Parts) {
			return true
		}
	}
	return false
}

// APIError is a non-2xx response from the Gmail API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail: status %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from an API error chain. Returns 0
// when the error carries no status.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Option configures the Gmail client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for Gmail API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Gmail API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://gmail.googleapis.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) get(ctx context.Context, accessToken, path string, query url.Values, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "gmail: rate limit")
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "gmail: create request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "gmail: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "gmail: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "gmail: unmarshal response")
	}
	return nil
}

type listResponse struct {
	Messages           []MessageRef `json:"messages"`
	ResultSizeEstimate int          `json:"resultSizeEstimate"`
}

func (c *httpClient) ListUnread(ctx context.Context, accessToken string, after time.Time, maxResults int) ([]MessageRef, error) {
	q := url.Values{}
	// The provider filter only supports whole seconds; it narrows the
	// candidate set but is not authoritative.
	q.Set("q", fmt.Sprintf("is:unread in:inbox after:%d", after.Unix()))
	q.Set("maxResults", strconv.Itoa(maxResults))

	var out listResponse
	if err := c.get(ctx, accessToken, "/gmail/v1/users/me/messages", q, &out); err != nil {
		return nil, eris.Wrap(err, "gmail: list unread")
	}
	return out.Messages, nil
}

func (c *httpClient) GetMessage(ctx context.Context, accessToken, id string) (*RawMessage, error) {
	q := url.Values{}
	q.Set("format", "full")

	var out RawMessage
	if err := c.get(ctx, accessToken, "/gmail/v1/users/me/messages/"+url.PathEscape(id), q, &out); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("gmail: get message %s", id))
	}
	return &out, nil
}
