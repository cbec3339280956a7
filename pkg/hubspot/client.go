// Package hubspot provides a client for the HubSpot CRM v3 REST API,
// covering object search, create/update, associations, and property
// metadata.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the HubSpot API operations used by the pipeline.
type Client interface {
	// SearchObjects runs a filtered search against a CRM object type and
	// returns matching records.
	SearchObjects(ctx context.Context, objectType string, filters []Filter, limit int) ([]Object, error)
	// CreateObject creates a record and returns it with its new id.
	CreateObject(ctx context.Context, objectType string, properties map[string]string) (*Object, error)
	// UpdateObject patches a record's properties.
	UpdateObject(ctx context.Context, objectType, id string, properties map[string]string) (*Object, error)
	// Associate links two records using the default association type.
	Associate(ctx context.Context, fromType, fromID, toType, toID string) error
	// ListProperties returns the property metadata for an object type.
	ListProperties(ctx context.Context, objectType string) ([]Property, error)
	// CreateProperty provisions a custom property on an object type.
	CreateProperty(ctx context.Context, objectType string, prop PropertyCreate) error
	// CreatePropertyGroup provisions a property group on an object type.
	CreatePropertyGroup(ctx context.Context, objectType string, group PropertyGroup) error
}

// Filter is one search criterion.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

// Object is a CRM record: its id plus a flat property map.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Property describes one property defined on an object type.
type Property struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	FieldType string `json:"fieldType"`
	GroupName string `json:"groupName"`
}

// PropertyCreate is the payload for provisioning a custom property.
type PropertyCreate struct {
	Name      string           `json:"name"`
	Label     string           `json:"label"`
	Type      string           `json:"type"`
	FieldType string           `json:"fieldType"`
	GroupName string           `json:"groupName"`
	Options   []PropertyOption `json:"options,omitempty"`
}

// PropertyOption is one choice of an enumeration property.
type PropertyOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PropertyGroup is the payload for provisioning a property group.
type PropertyGroup struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Option configures the HubSpot client.
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

// WithRateLimit sets a per-second rate limit for HubSpot API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new HubSpot client authenticated with a private app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.hubapi.com",
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

// errorBody is the JSON envelope of a HubSpot error response.
type errorBody struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// do sends one authenticated request and decodes the response into out
// (which may be nil). Non-2xx statuses map onto the package error types.
func (c *httpClient) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "hubspot: rate limit")
	}

	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "hubspot: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hubspot: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.asError(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return eris.Wrap(err, "hubspot: unmarshal response")
		}
	}
	return nil
}

func (c *httpClient) asError(statusCode int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	message := eb.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	switch {
	case statusCode == http.StatusConflict:
		return &ConflictError{
			Message:    message,
			ExistingID: extractExistingID(message),
		}
	case statusCode == http.StatusForbidden && eb.Category == "MISSING_SCOPES":
		return &MissingScopesError{Message: message}
	default:
		return &APIError{StatusCode: statusCode, Category: eb.Category, Message: message}
	}
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []Filter `json:"filters"`
}

type searchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
}

func (c *httpClient) SearchObjects(ctx context.Context, objectType string, filters []Filter, limit int) ([]Object, error) {
	req := searchRequest{
		FilterGroups: []filterGroup{{Filters: filters}},
		Limit:        limit,
	}

	var out searchResponse
	err := c.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType+"/search", req, &out)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("hubspot: search %s", objectType))
	}
	return out.Results, nil
}

type objectRequest struct {
	Properties map[string]string `json:"properties"`
}

func (c *httpClient) CreateObject(ctx context.Context, objectType string, properties map[string]string) (*Object, error) {
	var out Object
	err := c.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType, objectRequest{Properties: properties}, &out)
	if err != nil {
		// Conflict errors pass through unwrapped so callers can pull the
		// embedded existing id.
		if _, ok := IsConflict(err); ok {
			return nil, err
		}
		return nil, eris.Wrap(err, fmt.Sprintf("hubspot: create %s", objectType))
	}
	return &out, nil
}

func (c *httpClient) UpdateObject(ctx context.Context, objectType, id string, properties map[string]string) (*Object, error) {
	var out Object
	err := c.do(ctx, http.MethodPatch, "/crm/v3/objects/"+objectType+"/"+id, objectRequest{Properties: properties}, &out)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("hubspot: update %s %s", objectType, id))
	}
	return &out, nil
}

func (c *httpClient) Associate(ctx context.Context, fromType, fromID, toType, toID string) error {
	path := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/default/%s/%s", fromType, fromID, toType, toID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("hubspot: associate %s %s -> %s %s", fromType, fromID, toType, toID))
	}
	return nil
}

type propertiesResponse struct {
	Results []Property `json:"results"`
}

func (c *httpClient) ListProperties(ctx context.Context, objectType string) ([]Property, error) {
	var out propertiesResponse
	if err := c.do(ctx, http.MethodGet, "/crm/v3/properties/"+objectType, nil, &out); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("hubspot: list properties %s", objectType))
	}
	return out.Results, nil
}

func (c *httpClient) CreateProperty(ctx context.Context, objectType string, prop PropertyCreate) error {
	if err := c.do(ctx, http.MethodPost, "/crm/v3/properties/"+objectType, prop, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("hubspot: create property %s.%s", objectType, prop.Name))
	}
	return nil
}

func (c *httpClient) CreatePropertyGroup(ctx context.Context, objectType string, group PropertyGroup) error {
	if err := c.do(ctx, http.MethodPost, "/crm/v3/properties/"+objectType+"/groups", group, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("hubspot: create property group %s.%s", objectType, group.Name))
	}
	return nil
}
