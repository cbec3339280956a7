package main

import (
	"context"
	"os"
	"time"

	sdk "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailcrm/internal/config"
	"github.com/sells-group/mailcrm/internal/cost"
	"github.com/sells-group/mailcrm/internal/executor"
	"github.com/sells-group/mailcrm/internal/gateway"
	"github.com/sells-group/mailcrm/internal/mailsync"
	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/internal/routing"
	"github.com/sells-group/mailcrm/internal/runner"
	"github.com/sells-group/mailcrm/internal/store"
	"github.com/sells-group/mailcrm/internal/tokens"
	"github.com/sells-group/mailcrm/pkg/gmail"
	"github.com/sells-group/mailcrm/pkg/hubspot"
	sfpkg "github.com/sells-group/mailcrm/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "mailcrm.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSynchronizer(st store.Store) *mailsync.Synchronizer {
	mail := gmail.NewClient(
		gmail.WithBaseURL(cfg.Gmail.BaseURL),
		gmail.WithRateLimit(5),
	)

	byUser := make(map[string]string, len(cfg.Gmail.Accounts))
	for _, acct := range cfg.Gmail.Accounts {
		byUser[acct.UserID] = acct.AccessToken
	}
	cache := tokens.NewCache(tokens.StaticTokens(byUser))

	return mailsync.New(st, mail, cache,
		mailsync.WithMaxMessages(cfg.Gmail.MaxMessages),
	)
}

func initHubSpot() hubspot.Client {
	if cfg.HubSpot.Token == "" {
		return nil
	}
	return hubspot.NewClient(cfg.HubSpot.Token,
		hubspot.WithBaseURL(cfg.HubSpot.BaseURL),
		hubspot.WithRateLimit(8),
	)
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ConsumerKey == "" {
		return nil, nil
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := sdk.Init(sdk.Creds{
		Domain:         cfg.Salesforce.Domain,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ConsumerKey,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}

// connectedProviders resolves the CRM targets for one account: the providers
// it lists, filtered down to the clients that are actually configured.
func connectedProviders(acct config.AccountConfig, hubOK, sfOK bool) []model.Provider {
	var out []model.Provider
	add := func(p model.Provider) {
		for _, existing := range out {
			if existing == p {
				return
			}
		}
		out = append(out, p)
	}

	names := acct.Providers
	if len(names) == 0 {
		names = []string{"hubspot", "salesforce"}
	}
	for _, name := range names {
		p, ok := model.ParseProvider(name)
		if !ok {
			continue
		}
		if p == model.ProviderHubSpot && !hubOK {
			continue
		}
		if p == model.ProviderSalesforce && !sfOK {
			continue
		}
		add(p)
	}
	return out
}

// costRates converts configured pricing into calculator rates, falling back
// to the built-in table when nothing is configured.
func costRates() cost.Rates {
	if len(cfg.Pricing.Anthropic) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))}
	for model, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{
			Input: p.Input, Output: p.Output,
			CacheWriteMul: 1.25, CacheReadMul: 0.1,
		}
	}
	return rates
}

// buildRunner wires the full pipeline: synchronizer, analysis engine,
// executor and orchestration.
func buildRunner(st store.Store) (*runner.Runner, *cost.Tracker, error) {
	hub := initHubSpot()
	sf, err := initSalesforce()
	if err != nil {
		return nil, nil, err
	}

	tracker := cost.NewTracker(cost.NewCalculator(costRates()))
	gw := gateway.NewFromKeys(
		cfg.Anthropic.Keys,
		cfg.Anthropic.Model,
		cfg.Anthropic.MaxTokens,
		time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second,
		gateway.WithTracker(tracker),
	)
	engine := routing.NewEngine(gw)

	exec := executor.New(hub, sf,
		executor.WithSalesforceInstanceURL(cfg.Salesforce.InstanceURL),
	)

	byUser := make(map[string][]model.Provider, len(cfg.Gmail.Accounts))
	for _, acct := range cfg.Gmail.Accounts {
		byUser[acct.UserID] = connectedProviders(acct, hub != nil, sf != nil)
	}

	return runner.New(st, initSynchronizer(st), engine, exec,
		runner.WithProviders(byUser),
		runner.WithMaxConcurrentUsers(cfg.Run.MaxConcurrentUsers),
		runner.WithCircuitBreaker(resilience.FromCircuitConfig(
			cfg.Resilience.CircuitFailureThreshold,
			cfg.Resilience.CircuitResetTimeoutSecs,
		)),
	), tracker, nil
}

func accountUserIDs() []string {
	ids := make([]string, 0, len(cfg.Gmail.Accounts))
	for _, acct := range cfg.Gmail.Accounts {
		ids = append(ids, acct.UserID)
	}
	return ids
}
