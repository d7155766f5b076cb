package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/semantrix/routechain/internal/models"
)

// Client is the capability the router consumes: one network call for a model.
// Implementations must be safe for concurrent use; failures should be
// *models.ProviderError so the router can classify them.
type Client interface {
	Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error)

// Chat calls f.
func (f ClientFunc) Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
	return f(ctx, model, messages)
}

// ProviderConfig holds common configuration for all providers.
type ProviderConfig struct {
	Name    string        `mapstructure:"name"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`

	// Sent as HTTP-Referer and X-Title by OpenRouter-style gateways.
	AppURL  string `mapstructure:"app_url"`
	AppName string `mapstructure:"app_name"`
}

// BaseProvider provides common functionality for the HTTP adapters.
type BaseProvider struct {
	config ProviderConfig
}

// NewBaseProvider creates a new base provider with the given configuration.
func NewBaseProvider(config ProviderConfig) *BaseProvider {
	return &BaseProvider{config: config}
}

// GetName returns the provider name.
func (p *BaseProvider) GetName() string {
	return p.config.Name
}

// GetConfig returns the provider configuration.
func (p *BaseProvider) GetConfig() ProviderConfig {
	return p.config
}

// statusError wraps a non-2xx answer, keeping the status and any Retry-After hint.
func (p *BaseProvider) statusError(status int, header http.Header, err error) *models.ProviderError {
	return &models.ProviderError{
		StatusCode: status,
		RetryAfter: retryAfterFromHeader(header),
		Provider:   p.config.Name,
		Err:        err,
	}
}

// transportError wraps a failure that happened before any HTTP response arrived.
func (p *BaseProvider) transportError(err error) *models.ProviderError {
	return &models.ProviderError{
		Code:     networkCode(err),
		Provider: p.config.Name,
		Err:      err,
	}
}

// networkCode maps transport failures onto the ECONNRESET/ETIMEDOUT codes the
// classifier understands. Unknown transport failures carry no code.
func networkCode(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return models.CodeConnReset
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return models.CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.CodeTimeout
	}
	if strings.Contains(err.Error(), "connection reset") {
		return models.CodeConnReset
	}
	return ""
}

func retryAfterFromHeader(header http.Header) *time.Duration {
	if header == nil {
		return nil
	}
	if ms := strings.TrimSpace(header.Get("retry-after-ms")); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v >= 0 {
			return models.RetryAfterSeconds(v / 1000)
		}
	}
	return parseRetryAfter(header.Get("Retry-After"))
}

// parseRetryAfter reads a Retry-After header given in seconds.
// HTTP-date values and garbage are ignored.
func parseRetryAfter(value string) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return nil
	}
	return models.RetryAfterSeconds(seconds)
}
