// Package runner orchestrates the pipeline: synchronize a mailbox, analyze
// each new message, build a plan per target provider, and execute it. Each
// message and each user is isolated; one failure never stops the run.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/internal/plan"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/internal/store"
)

// Syncer pulls new mailbox messages for one user.
type Syncer interface {
	SyncUser(ctx context.Context, userID string) (*model.SyncResult, error)
}

// Analyzer classifies and extracts structured data from a message.
type Analyzer interface {
	Classify(ctx context.Context, msg model.NormalizedMessage, providers []model.Provider) model.RoutingDecision
	Extract(ctx context.Context, msg model.NormalizedMessage) model.Extraction
}

// CRMExecutor applies a plan against one CRM provider.
type CRMExecutor interface {
	Execute(ctx context.Context, userID string, p model.Plan, provider model.Provider) (*model.ExecutionResult, error)
}

// Runner drives full pipeline runs.
type Runner struct {
	store     store.Store
	sync      Syncer
	engine    Analyzer
	exec      CRMExecutor
	providers map[string][]model.Provider
	maxUsers  int

	// One breaker per CRM provider: a provider having an outage stops
	// taking traffic without blocking the other provider or the sync path.
	breakerCfg resilience.CircuitBreakerConfig
	breakerMu  sync.Mutex
	breakers   map[model.Provider]*resilience.CircuitBreaker
}

// Option configures the Runner.
type Option func(*Runner)

// WithProviders sets the connected CRM providers per user. Messages for a
// user with no entry route to the default provider set.
func WithProviders(byUser map[string][]model.Provider) Option {
	return func(r *Runner) {
		r.providers = byUser
	}
}

// WithMaxConcurrentUsers bounds the RunAll fan-out.
func WithMaxConcurrentUsers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxUsers = n
		}
	}
}

// WithCircuitBreaker overrides the per-provider circuit breaker policy.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Runner) {
		r.breakerCfg = cfg
	}
}

// New creates a Runner.
func New(st store.Store, sync Syncer, engine Analyzer, exec CRMExecutor, opts ...Option) *Runner {
	r := &Runner{
		store:      st,
		sync:       sync,
		engine:     engine,
		exec:       exec,
		maxUsers:   4,
		breakerCfg: resilience.DefaultCircuitBreakerConfig(),
		breakers:   make(map[model.Provider]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) breakerFor(provider model.Provider) *resilience.CircuitBreaker {
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()
	cb, ok := r.breakers[provider]
	if !ok {
		cfg := r.breakerCfg
		cfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("provider circuit state changed",
				zap.String("provider", string(provider)),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
		cb = resilience.NewCircuitBreaker(cfg)
		r.breakers[provider] = cb
	}
	return cb
}

// RunUser synchronizes one mailbox and pushes every pending message through
// analysis, planning and execution. The worklist comes from the store, not
// the sync batch: rows inserted by a previous run that died before
// processing them are picked up again here. Per-message failures are
// recorded on the message row and in the summary; they do not abort the run.
func (r *Runner) RunUser(ctx context.Context, userID string) (*model.RunSummary, error) {
	syncRes, err := r.sync.SyncUser(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: sync %s", userID)
	}

	summary := &model.RunSummary{
		UserID:    userID,
		Inserted:  syncRes.Inserted,
		Skipped:   syncRes.Skipped,
		Errors:    syncRes.Errors,
		Watermark: syncRes.NewWatermark,
	}

	pending, err := r.store.ListPendingMessages(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: list pending messages %s", userID)
	}

	for _, msg := range pending {
		outcome := r.processMessage(ctx, userID, msg)
		summary.Outcomes = append(summary.Outcomes, outcome)
		switch outcome.Status {
		case model.StatusProcessed, model.StatusIgnored:
			summary.Processed++
		default:
			summary.Errors++
		}
		r.recordOutcome(ctx, userID, outcome)
	}

	zap.L().Info("pipeline run complete",
		zap.String("user_id", userID),
		zap.Int("inserted", summary.Inserted),
		zap.Int("processed", summary.Processed),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

// processMessage runs analysis, planning and execution for one message.
func (r *Runner) processMessage(ctx context.Context, userID string, msg model.NormalizedMessage) model.MessageOutcome {
	providers := r.providers[userID]

	extraction := r.engine.Extract(ctx, msg)
	decision := r.engine.Classify(ctx, msg, providers)
	outcome := model.MessageOutcome{MessageID: msg.ID, Decision: &decision}

	p := plan.Build(msg, decision, extraction)
	if p.Empty() || len(decision.TargetProviders) == 0 {
		outcome.Status = model.StatusIgnored
		return outcome
	}

	var failures []string
	for _, provider := range decision.TargetProviders {
		res, err := resilience.ExecuteVal(ctx, r.breakerFor(provider), func(ctx context.Context) (*model.ExecutionResult, error) {
			return r.exec.Execute(ctx, userID, p, provider)
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", provider, err))
			zap.L().Warn("plan execution failed",
				zap.String("user_id", userID),
				zap.String("message_id", msg.ID),
				zap.String("provider", string(provider)),
				zap.Error(err),
			)
			continue
		}
		outcome.Results = append(outcome.Results, res)
		if res.Failed() {
			for kind, text := range res.Errors {
				failures = append(failures, fmt.Sprintf("%s %s: %s", provider, kind, text))
			}
		}
	}

	if len(failures) > 0 {
		outcome.Status = model.StatusError
		outcome.Error = strings.Join(failures, "; ")
	} else {
		outcome.Status = model.StatusProcessed
	}
	return outcome
}

// recordOutcome persists the outcome onto the message's status row. A store
// failure here is logged; the in-memory summary already carries the outcome.
func (r *Runner) recordOutcome(ctx context.Context, userID string, outcome model.MessageOutcome) {
	detail, err := json.Marshal(outcome)
	if err != nil {
		zap.L().Warn("failed to encode message outcome",
			zap.String("message_id", outcome.MessageID),
			zap.Error(err),
		)
		detail = nil
	}
	if err := r.store.UpdateMessageStatus(ctx, userID, outcome.MessageID, outcome.Status, string(detail)); err != nil {
		zap.L().Warn("failed to record message outcome",
			zap.String("user_id", userID),
			zap.String("message_id", outcome.MessageID),
			zap.Error(err),
		)
	}
}

// RunAll runs the pipeline for every user with bounded concurrency. Users
// fail independently; an error is returned only when no user succeeds.
func (r *Runner) RunAll(ctx context.Context, userIDs []string) ([]*model.RunSummary, error) {
	var (
		mu        sync.Mutex
		summaries []*model.RunSummary
		failed    []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxUsers)
	for _, userID := range userIDs {
		g.Go(func() error {
			summary, err := r.RunUser(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", userID, err))
				zap.L().Error("user run failed", zap.String("user_id", userID), zap.Error(err))
				return nil
			}
			summaries = append(summaries, summary)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	if len(userIDs) > 0 && len(summaries) == 0 {
		return nil, eris.New("runner: all users failed: " + strings.Join(failed, "; "))
	}
	return summaries, nil
}
