package policies

import (
	"context"
	"fmt"

	"github.com/semantrix/routechain/internal/models"
)

// FailoverPolicy returns a fixed primary/backup chain. A request that names a
// model explicitly gets that model first, followed by the configured chain.
type FailoverPolicy struct {
	*BasePolicy
	primaryModel string
	backupModels []string
}

// NewFailoverPolicy creates a new failover routing policy.
func NewFailoverPolicy(primaryModel string, backupModels []string) *FailoverPolicy {
	return &FailoverPolicy{
		BasePolicy: NewBasePolicy(
			"failover",
			"Routes requests to the primary model with ordered fallback to backup models",
		),
		primaryModel: primaryModel,
		backupModels: append([]string(nil), backupModels...),
	}
}

// NewFailoverPolicyFromChain builds a failover policy from an ordered chain.
func NewFailoverPolicyFromChain(chain []string) (*FailoverPolicy, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("failover chain must not be empty")
	}
	return NewFailoverPolicy(chain[0], chain[1:]), nil
}

// Candidates returns the requested model (if any) followed by the chain.
func (p *FailoverPolicy) Candidates(ctx context.Context, req models.RoutingRequest) ([]string, error) {
	if err := p.ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	chain := p.Chain()
	if req.Model != "" {
		chain = Prepend(req.Model, chain)
	}
	return requireCandidates(p.GetName(), chain)
}

// Chain returns the configured primary followed by the backups.
func (p *FailoverPolicy) Chain() []string {
	return dedupe(append([]string{p.primaryModel}, p.backupModels...))
}

// GetPrimaryModel returns the current primary model.
func (p *FailoverPolicy) GetPrimaryModel() string {
	return p.primaryModel
}

// GetBackupModels returns the current backup models.
func (p *FailoverPolicy) GetBackupModels() []string {
	return append([]string(nil), p.backupModels...)
}
