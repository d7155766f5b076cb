package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/semantrix/routechain/internal/models"
)

// Mux dispatches each call to the client registered for the longest matching
// model prefix, falling back to the default client.
type Mux struct {
	routes   map[string]Client
	prefixes []string
	fallback Client
}

// NewMux creates a mux with the given default client, which may be nil.
func NewMux(fallback Client) *Mux {
	return &Mux{
		routes:   make(map[string]Client),
		fallback: fallback,
	}
}

// Handle registers a client for model identifiers starting with prefix.
// It must not be called once the mux is serving calls.
func (m *Mux) Handle(prefix string, client Client) {
	if _, exists := m.routes[prefix]; !exists {
		m.prefixes = append(m.prefixes, prefix)
		sort.Slice(m.prefixes, func(i, j int) bool {
			return len(m.prefixes[i]) > len(m.prefixes[j])
		})
	}
	m.routes[prefix] = client
}

// Lookup returns the client responsible for model.
func (m *Mux) Lookup(model string) (Client, bool) {
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(model, prefix) {
			return m.routes[prefix], true
		}
	}
	return m.fallback, m.fallback != nil
}

// Chat forwards the call. A model nobody handles is a client-side error.
func (m *Mux) Chat(ctx context.Context, model string, messages []models.Message) (*models.ChatResponse, error) {
	client, ok := m.Lookup(model)
	if !ok {
		return nil, &models.ProviderError{
			StatusCode: 404,
			Provider:   "mux",
			Err:        fmt.Errorf("no provider configured for model %s", model),
		}
	}
	return client.Chat(ctx, model, messages)
}
