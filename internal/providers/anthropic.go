package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/semantrix/routechain/internal/models"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API directly.
type AnthropicProvider struct {
	*BaseProvider
	client    anthropic.Client
	maxTokens int64
	aliases   map[string]string
}

// AnthropicConfig adds Messages API settings to the common provider config.
type AnthropicConfig struct {
	ProviderConfig `mapstructure:",squash"`
	MaxTokens      int64             `mapstructure:"max_tokens"`
	Models         map[string]string `mapstructure:"models"`
}

// NewAnthropicProvider creates a new Anthropic provider instance. Model
// aliases map router identifiers (e.g. "anthropic/claude-3-5-sonnet") to
// Anthropic model names; unmapped identifiers lose their "anthropic/" prefix.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if config.Name == "" {
		config.Name = "anthropic"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultAnthropicMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	aliases := make(map[string]string, len(config.Models))
	for k, v := range config.Models {
		aliases[k] = v
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider(config.ProviderConfig),
		client:       anthropic.NewClient(opts...),
		maxTokens:    config.MaxTokens,
		aliases:      aliases,
	}, nil
}

// ResolveModel maps a router model identifier to an Anthropic model name.
func (p *AnthropicProvider) ResolveModel(model string) string {
	if alias, ok := p.aliases[model]; ok {
		return alias
	}
	return strings.TrimPrefix(model, "anthropic/")
}

// Chat creates one message. System messages are sent as the system prompt.
func (p *AnthropicProvider) Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.ResolveModel(model)),
		MaxTokens: p.maxTokens,
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case models.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, p.convertError(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &models.ChatResponse{
		ID:      resp.ID,
		Content: content.String(),
		Model:   model,
		Usage: models.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func (p *AnthropicProvider) convertError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return p.statusError(apiErr.StatusCode, header, err)
	}
	return p.transportError(err)
}
