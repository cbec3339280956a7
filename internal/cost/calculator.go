// Package cost computes and aggregates Anthropic API spend per pipeline
// phase, so a run can report what classification and extraction cost.
package cost

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates holds pricing per Anthropic model.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Models missing
// from the rates table cost zero.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost in USD for one Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// PhaseUsage aggregates token usage and spend for one pipeline phase.
type PhaseUsage struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tracker accumulates spend across a run, keyed by phase. Safe for
// concurrent use.
type Tracker struct {
	calc *Calculator

	mu     sync.Mutex
	phases map[string]*PhaseUsage
}

// NewTracker creates a Tracker over the given calculator.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{
		calc:   calc,
		phases: make(map[string]*PhaseUsage),
	}
}

// Record adds one API call's usage to the phase totals.
func (t *Tracker) Record(model, phase string, input, output, cacheWrite, cacheRead int64) {
	spend := t.calc.Claude(model, input, output, cacheWrite, cacheRead)

	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.phases[phase]
	if !ok {
		u = &PhaseUsage{}
		t.phases[phase] = u
	}
	u.Calls++
	u.InputTokens += input
	u.OutputTokens += output
	u.CostUSD += spend
}

// Summary returns a copy of the per-phase totals.
func (t *Tracker) Summary() map[string]PhaseUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]PhaseUsage, len(t.phases))
	for phase, u := range t.phases {
		out[phase] = *u
	}
	return out
}

// TotalUSD returns the total spend across all phases.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, u := range t.phases {
		total += u.CostUSD
	}
	return total
}

// LogSummary emits one log line per phase plus the run total.
func (t *Tracker) LogSummary() {
	summary := t.Summary()

	phases := make([]string, 0, len(summary))
	for phase := range summary {
		phases = append(phases, phase)
	}
	sort.Strings(phases)

	var total float64
	for _, phase := range phases {
		u := summary[phase]
		total += u.CostUSD
		zap.L().Info("phase cost",
			zap.String("phase", phase),
			zap.Int("calls", u.Calls),
			zap.Int64("input_tokens", u.InputTokens),
			zap.Int64("output_tokens", u.OutputTokens),
			zap.Float64("cost_usd", u.CostUSD),
		)
	}
	zap.L().Info("run cost total", zap.Float64("cost_usd", total))
}
