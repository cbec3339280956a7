// Package gateway fronts the Anthropic API with an ordered list of
// credentials. Calls walk the list: failures that look transient or
// auth-related rotate to the next credential, anything else fails fast.
package gateway

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/cost"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/pkg/anthropic"
)

// ErrExhaustedCredentials is returned when every configured credential has
// been tried and none produced a usable completion.
var ErrExhaustedCredentials = eris.New("gateway: all credentials exhausted")

// Gateway rotates completion requests across Anthropic credentials.
type Gateway struct {
	clients   []anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	tracker   *cost.Tracker
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithTracker accumulates per-phase token spend on the given tracker.
func WithTracker(t *cost.Tracker) Option {
	return func(g *Gateway) {
		g.tracker = t
	}
}

// New creates a gateway over pre-built clients, ordered by preference.
func New(clients []anthropic.Client, model string, maxTokens int, timeout time.Duration, opts ...Option) *Gateway {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	g := &Gateway{
		clients:   clients,
		model:     model,
		maxTokens: int64(maxTokens),
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFromKeys creates a gateway with one SDK client per API key.
func NewFromKeys(keys []string, model string, maxTokens int, timeout time.Duration, opts ...Option) *Gateway {
	clients := make([]anthropic.Client, len(keys))
	for i, key := range keys {
		clients[i] = anthropic.NewClient(key)
	}
	return New(clients, model, maxTokens, timeout, opts...)
}

// Complete sends one prompt and returns the text of the completion. The
// phase tag feeds cost attribution logs. Credentials rotate on timeouts,
// auth failures (401/403), rate limits (429), server errors (5xx), network
// failures, and empty completions; other API errors fail immediately.
func (g *Gateway) Complete(ctx context.Context, phase string, system []anthropic.SystemBlock, prompt string) (string, error) {
	if len(g.clients) == 0 {
		return "", resilience.NewConfigError(
			eris.New("gateway: no credentials configured"),
			"set anthropic.keys in configuration",
		)
	}

	req := anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}

	for i, client := range g.clients {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := client.CreateMessage(callCtx, req)
		cancel()

		if err != nil {
			// The caller going away is not a credential problem.
			if ctx.Err() != nil {
				return "", eris.Wrap(ctx.Err(), "gateway: complete")
			}
			if rotatable(err) {
				zap.L().Warn("rotating anthropic credential",
					zap.Int("credential", i),
					zap.String("phase", phase),
					zap.Int("status", anthropic.StatusCode(err)),
					zap.Error(err),
				)
				continue
			}
			return "", eris.Wrap(err, "gateway: complete")
		}

		text := resp.Text()
		if text == "" {
			zap.L().Warn("empty completion, rotating credential",
				zap.Int("credential", i),
				zap.String("phase", phase),
				zap.String("stop_reason", resp.StopReason),
			)
			continue
		}

		if g.tracker != nil {
			g.tracker.Record(g.model, phase,
				resp.Usage.InputTokens,
				resp.Usage.OutputTokens,
				resp.Usage.CacheCreationInputTokens,
				resp.Usage.CacheReadInputTokens,
			)
		}
		resp.Usage.LogCost(g.model, phase)
		return text, nil
	}

	return "", ErrExhaustedCredentials
}

// rotatable classifies an API failure as worth trying the next credential.
// Status 0 means the request never got an HTTP response (network failure or
// the per-call timeout).
func rotatable(err error) bool {
	status := anthropic.StatusCode(err)
	switch {
	case status == 0:
		return true
	case status == 401, status == 403:
		return true
	case resilience.IsTransientHTTPStatus(status):
		return true
	default:
		return false
	}
}
