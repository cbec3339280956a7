// Package executor applies a CRM plan to a provider. Every object follows
// the same shape: search by natural key, update on hit, create on miss,
// recover provider-reported duplicates instead of failing. Per-kind failures
// land in the result; only provider-level problems (missing client, revoked
// scopes) abort the whole execution.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/pkg/hubspot"
	"github.com/sells-group/mailcrm/pkg/salesforce"
)

// Executor routes plans to the configured provider clients. Either client
// may be nil when the provider is not connected; executing against a
// disconnected provider is a configuration error.
type Executor struct {
	hub   hubspot.Client
	sf    salesforce.Client
	sfURL string
	now   func() time.Time

	propsMu    sync.Mutex
	orderProps map[string]*PropertySelection
	sfOrderRef string
}

// Option configures the executor.
type Option func(*Executor)

// WithSalesforceInstanceURL enables permalink construction for Salesforce
// records.
func WithSalesforceInstanceURL(url string) Option {
	return func(x *Executor) {
		x.sfURL = url
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(x *Executor) {
		x.now = now
	}
}

// New creates an executor over the given provider clients.
func New(hub hubspot.Client, sf salesforce.Client, opts ...Option) *Executor {
	x := &Executor{
		hub:        hub,
		sf:         sf,
		now:        time.Now,
		orderProps: make(map[string]*PropertySelection),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute applies the plan against one provider. The returned result maps
// every attempted object kind to either a record id or an error string;
// association failures are reported separately and never fail the run.
func (x *Executor) Execute(ctx context.Context, userID string, plan model.Plan, provider model.Provider) (*model.ExecutionResult, error) {
	if plan.Empty() {
		return model.NewExecutionResult(provider), nil
	}

	switch provider {
	case model.ProviderHubSpot:
		if x.hub == nil {
			return nil, resilience.NewConfigError(
				eris.New("executor: hubspot client not configured"),
				"set hubspot.token in the configuration",
			)
		}
		return x.executeHubSpot(ctx, userID, plan)
	case model.ProviderSalesforce:
		if x.sf == nil {
			return nil, resilience.NewConfigError(
				eris.New("executor: salesforce client not configured"),
				"set the salesforce credentials in the configuration",
			)
		}
		return x.executeSalesforce(ctx, plan)
	default:
		return nil, eris.New("executor: unknown provider " + string(provider))
	}
}

// personKind is the kind the plan's person record executes under: lead when
// the message routed as a lead, contact otherwise.
func personKind(plan model.Plan) model.ObjectKind {
	if plan.Kind == model.KindLead {
		return model.KindLead
	}
	return model.KindContact
}

// splitName splits a display name into first and last parts. A single token
// becomes the last name, which every provider requires.
func splitName(full string) (first, last string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", "Unknown"
	case 1:
		return "", fields[0]
	default:
		return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
	}
}
