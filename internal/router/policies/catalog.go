package policies

// Model identifiers in provider/model form, as used by OpenRouter.
const (
	// Premium
	ModelClaudeSonnet = "anthropic/claude-3-5-sonnet"
	ModelGPT4o        = "openai/gpt-4o"
	ModelO1Preview    = "openai/o1-preview"
	ModelGeminiPro    = "google/gemini-pro-1.5"

	// Balanced
	ModelClaudeHaiku = "anthropic/claude-3-5-haiku"
	ModelGPT4oMini   = "openai/gpt-4o-mini"
	ModelGeminiFlash = "google/gemini-flash-1.5"

	// Budget
	ModelLlama3  = "meta-llama/llama-3.1-70b-instruct"
	ModelMistral = "mistralai/mistral-7b-instruct"

	// ModelAuto asks the gateway, or the cost-based policy, to choose.
	ModelAuto = "openrouter/auto"
)
