// Package routing turns a normalized message into a CRM routing decision
// plus structured extracted data. Classification never fails outward: any
// model or parsing problem degrades to a conservative default decision.
package routing

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/pkg/anthropic"
)

// Completer is the AI completion surface the engine needs.
type Completer interface {
	Complete(ctx context.Context, phase string, system []anthropic.SystemBlock, prompt string) (string, error)
}

// Engine produces routing decisions and extractions for messages.
type Engine struct {
	ai Completer
}

// NewEngine creates a routing engine over the given completion gateway.
func NewEngine(ai Completer) *Engine {
	return &Engine{ai: ai}
}

// rawDecision mirrors the JSON shape the model is asked to produce. Every
// field is optional; normalization fills the gaps.
type rawDecision struct {
	PrimaryObject       string                       `json:"primary_object"`
	SecondaryObjects    []string                     `json:"secondary_objects"`
	Confidence          float64                      `json:"confidence"`
	Reasoning           string                       `json:"reasoning"`
	Intent              string                       `json:"intent"`
	Urgency             string                       `json:"urgency"`
	TargetProviders     []string                     `json:"target_providers"`
	SuggestedProperties map[string]map[string]string `json:"suggested_properties"`
	CreateNote          *bool                        `json:"create_note"`
}

// Classify routes one message. providers is the set of CRMs connected for
// the mailbox owner; it bounds the decision's target providers and seeds
// the fallback. The returned decision is always complete and usable.
func (e *Engine) Classify(ctx context.Context, msg model.NormalizedMessage, providers []model.Provider) model.RoutingDecision {
	system := anthropic.BuildCachedSystemBlocks(routingSystemPrompt)
	text, err := e.ai.Complete(ctx, "routing", system, buildMessagePrompt(msg, providers))
	if err != nil {
		zap.L().Warn("classification failed, using fallback decision",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return model.DefaultDecision(providers)
	}

	raw, err := parseDecision(text)
	if err != nil {
		// One repair round-trip before giving up on the output.
		raw, err = e.repair(ctx, text)
		if err != nil {
			zap.L().Warn("unparseable classification, using fallback decision",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			return model.DefaultDecision(providers)
		}
	}

	return normalizeDecision(raw, providers)
}

// repair asks the model to reshape its own malformed output into the
// required JSON object.
func (e *Engine) repair(ctx context.Context, broken string) (rawDecision, error) {
	text, err := e.ai.Complete(ctx, "repair", nil, buildRepairPrompt(broken))
	if err != nil {
		return rawDecision{}, err
	}
	return parseDecision(text)
}

func parseDecision(text string) (rawDecision, error) {
	var raw rawDecision
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return rawDecision{}, eris.Wrap(err, "routing: parse decision")
	}
	return raw, nil
}

// normalizeDecision fills a RoutingDecision from parsed model output,
// substituting defaults for anything missing or out of vocabulary.
func normalizeDecision(raw rawDecision, providers []model.Provider) model.RoutingDecision {

	decision := model.DefaultDecision(providers)

	if kind, ok := model.ParseObjectKind(raw.PrimaryObject); ok {
		decision.Primary = kind
	}

	for _, s := range raw.SecondaryObjects {
		kind, ok := model.ParseObjectKind(s)
		if !ok || kind == decision.Primary {
			continue
		}
		decision.Secondary = append(decision.Secondary, kind)
	}

	decision.Confidence = clamp01(raw.Confidence)
	if raw.Reasoning != "" {
		decision.Reasoning = raw.Reasoning
	}
	decision.Intent = model.ParseIntent(raw.Intent)
	decision.Urgency = model.ParseUrgency(raw.Urgency)

	if targets := parseProviders(raw.TargetProviders, providers); len(targets) > 0 {
		decision.TargetProviders = targets
	}

	if len(raw.SuggestedProperties) > 0 {
		decision.SuggestedProperties = make(map[model.ObjectKind]map[string]string, len(raw.SuggestedProperties))
		for name, props := range raw.SuggestedProperties {
			kind, ok := model.ParseObjectKind(name)
			if !ok || len(props) == 0 {
				continue
			}
			decision.SuggestedProperties[kind] = props
		}
		if len(decision.SuggestedProperties) == 0 {
			decision.SuggestedProperties = nil
		}
	}

	if raw.CreateNote != nil {
		decision.CreateNote = *raw.CreateNote
	}

	return decision
}

// parseProviders keeps the suggested providers that are actually connected.
func parseProviders(names []string, connected []model.Provider) []model.Provider {
	allowed := make(map[model.Provider]bool, len(connected))
	for _, p := range connected {
		allowed[p] = true
	}

	var out []model.Provider
	for _, name := range names {
		p, ok := model.ParseProvider(name)
		if !ok {
			continue
		}
		if len(connected) > 0 && !allowed[p] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
