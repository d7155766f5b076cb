// Package pricing estimates the monetary cost of a completion from its token
// usage. Prices are USD per one million tokens.
package pricing

import (
	"fmt"

	"github.com/semantrix/routechain/internal/models"
)

const tokensPerUnit = 1_000_000

// PriceEntry holds per-1M-token rates for one model.
type PriceEntry struct {
	InputPer1M  float64 `mapstructure:"input_per_1m" json:"input_per_1m"`
	OutputPer1M float64 `mapstructure:"output_per_1m" json:"output_per_1m"`
}

// Validate rejects negative rates.
func (e PriceEntry) Validate() error {
	if e.InputPer1M < 0 || e.OutputPer1M < 0 {
		return fmt.Errorf("prices must not be negative")
	}
	return nil
}

// DefaultEntry applies to models missing from the table.
var DefaultEntry = PriceEntry{InputPer1M: 1, OutputPer1M: 1}

// DefaultPrices returns the built-in price list.
func DefaultPrices() map[string]PriceEntry {
	return map[string]PriceEntry{
		"anthropic/claude-3-5-sonnet": {InputPer1M: 3.0, OutputPer1M: 15.0},
		"anthropic/claude-3-5-haiku":  {InputPer1M: 0.25, OutputPer1M: 1.25},
		"openai/gpt-4o":               {InputPer1M: 2.5, OutputPer1M: 10.0},
		"openai/gpt-4o-mini":          {InputPer1M: 0.15, OutputPer1M: 0.6},
		"google/gemini-pro-1.5":       {InputPer1M: 1.25, OutputPer1M: 5.0},
		"google/gemini-flash-1.5":     {InputPer1M: 0.075, OutputPer1M: 0.3},
	}
}

// Table is an immutable price list. It is safe for concurrent use.
type Table struct {
	prices   map[string]PriceEntry
	fallback PriceEntry
}

// NewTable copies prices and uses fallback for unknown models. A zero
// fallback is replaced with DefaultEntry.
func NewTable(prices map[string]PriceEntry, fallback PriceEntry) (*Table, error) {
	if fallback == (PriceEntry{}) {
		fallback = DefaultEntry
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default price: %w", err)
	}
	copied := make(map[string]PriceEntry, len(prices))
	for model, entry := range prices {
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("price for %s: %w", model, err)
		}
		copied[model] = entry
	}
	return &Table{prices: copied, fallback: fallback}, nil
}

// DefaultTable returns the built-in prices with DefaultEntry as fallback.
func DefaultTable() *Table {
	t, _ := NewTable(DefaultPrices(), DefaultEntry)
	return t
}

// Merge returns a new table with overrides applied on top of t.
func (t *Table) Merge(overrides map[string]PriceEntry) (*Table, error) {
	merged := make(map[string]PriceEntry, len(t.prices)+len(overrides))
	for model, entry := range t.prices {
		merged[model] = entry
	}
	for model, entry := range overrides {
		merged[model] = entry
	}
	return NewTable(merged, t.fallback)
}

// Lookup returns the entry for model and whether it was found in the table.
func (t *Table) Lookup(model string) (PriceEntry, bool) {
	if entry, ok := t.prices[model]; ok {
		return entry, true
	}
	return t.fallback, false
}

// Cost returns prompt*input/1M + completion*output/1M for the model.
func (t *Table) Cost(model string, usage models.Usage) float64 {
	entry, _ := t.Lookup(model)
	usage = usage.Normalize()
	return float64(usage.PromptTokens)*entry.InputPer1M/tokensPerUnit +
		float64(usage.CompletionTokens)*entry.OutputPer1M/tokensPerUnit
}

// Prices returns a copy of the explicit entries.
func (t *Table) Prices() map[string]PriceEntry {
	out := make(map[string]PriceEntry, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

// Default returns the entry used for unknown models.
func (t *Table) Default() PriceEntry {
	return t.fallback
}
