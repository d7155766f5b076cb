package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semantrix/routechain/internal/models"
)

func TestTable_Cost(t *testing.T) {
	table, err := NewTable(map[string]PriceEntry{
		"anthropic/claude-3-5-sonnet": {InputPer1M: 3, OutputPer1M: 15},
	}, PriceEntry{})
	require.NoError(t, err)

	cost := table.Cost("anthropic/claude-3-5-sonnet", models.Usage{PromptTokens: 1000, CompletionTokens: 500})
	assert.InDelta(t, 0.0105, cost, 1e-12)
}

func TestTable_UnknownModelUsesDefault(t *testing.T) {
	table := DefaultTable()

	entry, found := table.Lookup("acme/unknown")
	assert.False(t, found)
	assert.Equal(t, DefaultEntry, entry)

	cost := table.Cost("acme/unknown", models.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	assert.InDelta(t, 2.0, cost, 1e-12)
}

func TestTable_ZeroUsageIsFree(t *testing.T) {
	assert.Zero(t, DefaultTable().Cost("openai/gpt-4o", models.Usage{}))
}

func TestTable_NegativeTokensClamp(t *testing.T) {
	cost := DefaultTable().Cost("openai/gpt-4o", models.Usage{PromptTokens: -50, CompletionTokens: 1000})
	assert.InDelta(t, 0.01, cost, 1e-12)
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable(map[string]PriceEntry{"m": {InputPer1M: -1}}, PriceEntry{})
	assert.Error(t, err)

	_, err = NewTable(nil, PriceEntry{InputPer1M: -1, OutputPer1M: 1})
	assert.Error(t, err)

	table, err := NewTable(nil, PriceEntry{InputPer1M: 4, OutputPer1M: 8})
	require.NoError(t, err)
	assert.Equal(t, PriceEntry{InputPer1M: 4, OutputPer1M: 8}, table.Default())
}

func TestTable_Merge(t *testing.T) {
	base := DefaultTable()

	merged, err := base.Merge(map[string]PriceEntry{
		"openai/gpt-4o":   {InputPer1M: 5, OutputPer1M: 20},
		"acme/new-model": {InputPer1M: 0.5, OutputPer1M: 0.5},
	})
	require.NoError(t, err)

	entry, found := merged.Lookup("openai/gpt-4o")
	assert.True(t, found)
	assert.Equal(t, 5.0, entry.InputPer1M)

	_, found = merged.Lookup("acme/new-model")
	assert.True(t, found)

	// The original table is untouched.
	entry, _ = base.Lookup("openai/gpt-4o")
	assert.Equal(t, 2.5, entry.InputPer1M)
	_, found = base.Lookup("acme/new-model")
	assert.False(t, found)
}
