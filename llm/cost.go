package llm

import (
	"sync"

	"github.com/cogniforge/qpipeline/core"
)

// ModelRate is USD per million tokens, matching §4.5's cost formula
// (input_tokens/1e6 * rate_in + output_tokens/1e6 * rate_out).
type ModelRate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultRateKey is the fallback entry used for an unlisted model, following
// the "*" default-rate convention of getaxonflow-axonflow's pricing table.
const defaultRateKey = "*"

// DefaultPricing is a static per-provider, per-model pricing table. Rates
// are illustrative order-of-magnitude figures, not a live price feed.
var DefaultPricing = map[string]map[string]ModelRate{
	"openai": {
		"gpt-4o":                 {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4o-mini":            {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4-turbo":            {InputPerMillion: 10.00, OutputPerMillion: 30.00},
		"o1-mini":                {InputPerMillion: 3.00, OutputPerMillion: 12.00},
		defaultRateKey:           {InputPerMillion: 5.00, OutputPerMillion: 15.00},
	},
	"anthropic": {
		"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"claude-3-opus-20240229":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
		defaultRateKey:               {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	},
	"gemini": {
		"gemini-1.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 5.00},
		"gemini-1.5-flash": {InputPerMillion: 0.075, OutputPerMillion: 0.30},
		defaultRateKey:     {InputPerMillion: 1.25, OutputPerMillion: 5.00},
	},
	"xai": {
		"grok-2": {InputPerMillion: 2.00, OutputPerMillion: 10.00},
		defaultRateKey: {InputPerMillion: 2.00, OutputPerMillion: 10.00},
	},
	"bedrock": {
		defaultRateKey: {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	},
}

// conservativeDefaultRate covers a provider this table has never heard of.
var conservativeDefaultRate = ModelRate{InputPerMillion: 10.00, OutputPerMillion: 30.00}

func rateFor(pricing map[string]map[string]ModelRate, provider, model string) ModelRate {
	models, ok := pricing[provider]
	if !ok {
		return conservativeDefaultRate
	}
	if r, ok := models[model]; ok {
		return r
	}
	if r, ok := models[defaultRateKey]; ok {
		return r
	}
	return conservativeDefaultRate
}

// modelKey groups accumulated cost by provider and model.
type modelKey struct {
	provider string
	model    string
}

// record is one recent usage event, kept in the bounded ring buffer.
type record struct {
	core.TokenUsage
	CostUSD float64
}

// accumulator holds the running totals for one (provider, model) pair.
type accumulator struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Calls        int64
}

// Tracker maintains per-provider, per-model running sums of tokens and cost,
// plus a bounded recent-records buffer (§4.5). Thread-safe.
type Tracker struct {
	mu      sync.Mutex
	pricing map[string]map[string]ModelRate
	totals  map[modelKey]*accumulator
	recent  []record
	maxRecent int
}

func NewTracker(maxRecent int) *Tracker {
	if maxRecent <= 0 {
		maxRecent = 1000
	}
	return &Tracker{
		pricing:   DefaultPricing,
		totals:    make(map[modelKey]*accumulator),
		maxRecent: maxRecent,
	}
}

// NewTrackerWithPricing lets callers override the static pricing table,
// e.g. in tests.
func NewTrackerWithPricing(maxRecent int, pricing map[string]map[string]ModelRate) *Tracker {
	t := NewTracker(maxRecent)
	t.pricing = pricing
	return t
}

// Record accounts for one completed call's token usage and returns the
// dollar cost attributed to it.
func (t *Tracker) Record(usage core.TokenUsage) float64 {
	rate := rateFor(t.pricing, usage.Provider, usage.Model)
	cost := float64(usage.InputTokens)/1_000_000*rate.InputPerMillion +
		float64(usage.OutputTokens)/1_000_000*rate.OutputPerMillion

	t.mu.Lock()
	defer t.mu.Unlock()

	key := modelKey{provider: usage.Provider, model: usage.Model}
	acc, ok := t.totals[key]
	if !ok {
		acc = &accumulator{}
		t.totals[key] = acc
	}
	acc.InputTokens += int64(usage.InputTokens)
	acc.OutputTokens += int64(usage.OutputTokens)
	acc.CostUSD += cost
	acc.Calls++

	t.recent = append(t.recent, record{TokenUsage: usage, CostUSD: cost})
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[len(t.recent)-t.maxRecent:]
	}

	return cost
}

// ModelTotal is a read-only snapshot of one (provider, model) accumulator.
type ModelTotal struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Calls        int64
}

// Totals returns a snapshot of every (provider, model) accumulator.
func (t *Tracker) Totals() []ModelTotal {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ModelTotal, 0, len(t.totals))
	for key, acc := range t.totals {
		out = append(out, ModelTotal{
			Provider:     key.provider,
			Model:        key.model,
			InputTokens:  acc.InputTokens,
			OutputTokens: acc.OutputTokens,
			CostUSD:      acc.CostUSD,
			Calls:        acc.Calls,
		})
	}
	return out
}

// TotalCostUSD sums cost across every provider and model.
func (t *Tracker) TotalCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, acc := range t.totals {
		sum += acc.CostUSD
	}
	return sum
}
