package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/semantrix/routechain/internal/models"
)

// DefaultOpenRouterURL is the OpenAI-compatible endpoint used when no base URL is configured.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1/"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// With the default base URL it reaches OpenRouter, which accepts
// provider/model identifiers such as "openai/gpt-4o".
type OpenAIProvider struct {
	*BaseProvider
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider instance. The SDK's
// own retries are disabled; the router decides when to retry.
func NewOpenAIProvider(config ProviderConfig) (*OpenAIProvider, error) {
	if config.Name == "" {
		config.Name = "openrouter"
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", config.Name)
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenRouterURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(config.BaseURL),
		option.WithMaxRetries(0),
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}
	if config.AppURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", config.AppURL))
	}
	if config.AppName != "" {
		opts = append(opts, option.WithHeader("X-Title", config.AppName))
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(config),
		client:       openai.NewClient(opts...),
	}, nil
}

// Chat creates one chat completion.
func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: convertToOpenAIMessages(messages),
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, p.convertError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &models.ProviderError{
			Provider: p.GetName(),
			Err:      fmt.Errorf("%s returned no choices", p.GetName()),
		}
	}

	return &models.ChatResponse{
		ID:      resp.ID,
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: models.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) convertError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return p.statusError(apiErr.StatusCode, header, err)
	}
	return p.transportError(err)
}

func convertToOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
