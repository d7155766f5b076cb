package policies

import (
	"context"
	"fmt"

	"github.com/semantrix/routechain/internal/models"
)

// Variant is the arm of an experiment a subject is assigned to.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// DefaultSplitRatio sends half of the subjects to variant A.
const DefaultSplitRatio = 0.5

// Hasher maps a subject identifier to a non-negative bucket source.
type Hasher func(id string) uint64

// ByteSumHash adds up the bytes of the identifier.
func ByteSumHash(id string) uint64 {
	var sum uint64
	for i := 0; i < len(id); i++ {
		sum += uint64(id[i])
	}
	return sum
}

// ExperimentConfig describes a two-armed model experiment.
type ExperimentConfig struct {
	Name       string  `mapstructure:"name"`
	Enabled    bool    `mapstructure:"enabled"`
	ModelA     string  `mapstructure:"model_a"`
	ModelB     string  `mapstructure:"model_b"`
	SplitRatio float64 `mapstructure:"split_ratio"`
}

// Assignment is the deterministic outcome for one subject.
type Assignment struct {
	Variant    Variant `json:"variant"`
	Model      string  `json:"model"`
	Normalized float64 `json:"normalized"`
}

// Assign buckets a subject: the hash modulo 100 is scaled into [0, 1) and
// compared with the split ratio. The same identifier and ratio always land in
// the same variant.
func Assign(id string, splitRatio float64, hash Hasher) (Variant, float64) {
	if hash == nil {
		hash = ByteSumHash
	}
	normalized := float64(hash(id)%100) / 100
	if normalized < splitRatio {
		return VariantA, normalized
	}
	return VariantB, normalized
}

// ExperimentPolicy routes subjects to model A or B by deterministic
// assignment. The assigned model leads the chain and the fallback follows.
type ExperimentPolicy struct {
	*BasePolicy
	config   ExperimentConfig
	fallback []string
	hash     Hasher
}

// NewExperimentPolicy validates the experiment and builds the policy.
func NewExperimentPolicy(config ExperimentConfig, fallback []string, hash Hasher) (*ExperimentPolicy, error) {
	if config.ModelA == "" || config.ModelB == "" {
		return nil, fmt.Errorf("experiment needs both model_a and model_b")
	}
	if config.SplitRatio < 0 || config.SplitRatio > 1 {
		return nil, fmt.Errorf("split ratio must be within [0, 1], got %v", config.SplitRatio)
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if hash == nil {
		hash = ByteSumHash
	}
	return &ExperimentPolicy{
		BasePolicy: NewBasePolicy(
			"experiment",
			"Assigns each user to model A or B by a stable hash of the user ID",
		),
		config:   config,
		fallback: dedupe(fallback),
		hash:     hash,
	}, nil
}

// Assign returns the variant and model for a subject.
func (p *ExperimentPolicy) Assign(id string) Assignment {
	variant, normalized := Assign(id, p.config.SplitRatio, p.hash)
	model := p.config.ModelB
	if variant == VariantA {
		model = p.config.ModelA
	}
	return Assignment{Variant: variant, Model: model, Normalized: normalized}
}

// Candidates requires a user ID; the assigned model leads the chain.
func (p *ExperimentPolicy) Candidates(ctx context.Context, req models.RoutingRequest) ([]string, error) {
	if err := p.ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("experiment %s needs a user id", p.config.Name)
	}
	assignment := p.Assign(req.UserID)
	return requireCandidates(p.GetName(), Prepend(assignment.Model, p.fallback))
}

// Config returns the experiment definition.
func (p *ExperimentPolicy) Config() ExperimentConfig {
	return p.config
}
