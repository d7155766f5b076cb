package policies

import (
	"context"
	"fmt"

	"github.com/semantrix/routechain/internal/models"
)

// RoutingPolicy builds the ordered candidate list for one call. The first
// model returned is tried first; the list feeds the router's chain.
type RoutingPolicy interface {
	// Candidates returns a non-empty, ordered list of models for the request.
	Candidates(ctx context.Context, req models.RoutingRequest) ([]string, error)

	// GetName returns the name of this routing policy.
	GetName() string

	// GetDescription returns a description of how this policy works.
	GetDescription() string
}

// BasePolicy provides common functionality for all routing policies.
type BasePolicy struct {
	name        string
	description string
}

// NewBasePolicy creates a new base policy.
func NewBasePolicy(name, description string) *BasePolicy {
	return &BasePolicy{
		name:        name,
		description: description,
	}
}

// GetName returns the policy name.
func (p *BasePolicy) GetName() string {
	return p.name
}

// GetDescription returns the policy description.
func (p *BasePolicy) GetDescription() string {
	return p.description
}

// ValidateRequest checks the conversation a policy is asked to route.
func (p *BasePolicy) ValidateRequest(req models.RoutingRequest) error {
	return models.ValidateMessages(req.Messages)
}

// dedupe keeps the first occurrence of each model and drops empty names.
func dedupe(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Prepend puts model in front of chain, removing any later duplicate.
func Prepend(model string, chain []string) []string {
	return dedupe(append([]string{model}, chain...))
}

func requireCandidates(name string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s policy produced no candidates", name)
	}
	return candidates, nil
}
