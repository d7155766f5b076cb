package policies

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/semantrix/routechain/internal/models"
)

// Tier is a coarse classification of how demanding a prompt is.
type Tier string

const (
	TierSimple  Tier = "simple"
	TierMedium  Tier = "medium"
	TierComplex Tier = "complex"
)

// Thresholds for AnalyzeComplexity, in whitespace-separated words.
const (
	simpleMaxWords  = 20
	complexMinWords = 100
)

var (
	codeMarkers     = regexp.MustCompile("```|\\b(function|class|const|let|var)\\b")
	analysisMarkers = regexp.MustCompile(`\b(explain\w*|analy[sz]\w*|compar\w*|why|how)\b`)
)

// Complexity is the outcome of AnalyzeComplexity with the signals behind it.
type Complexity struct {
	Tier        Tier `json:"tier"`
	Words       int  `json:"words"`
	HasCode     bool `json:"has_code"`
	HasAnalysis bool `json:"has_analysis"`
}

// AnalyzeComplexity classifies a prompt. Short prompts without code or
// analytical wording are simple; code, analytical wording or more than 100
// words make it complex; everything else is medium.
func AnalyzeComplexity(text string) Complexity {
	c := Complexity{
		Words:       len(strings.Fields(text)),
		HasCode:     codeMarkers.MatchString(text),
		HasAnalysis: analysisMarkers.MatchString(strings.ToLower(text)),
	}

	switch {
	case c.Words < simpleMaxWords && !c.HasCode && !c.HasAnalysis:
		c.Tier = TierSimple
	case c.HasCode || c.HasAnalysis || c.Words > complexMinWords:
		c.Tier = TierComplex
	default:
		c.Tier = TierMedium
	}
	return c
}

// DefaultTiers maps each tier to its acceptable models: cheapest first for
// simple prompts, strongest first for complex ones.
func DefaultTiers() map[Tier][]string {
	return map[Tier][]string{
		TierSimple:  {ModelGPT4oMini, ModelGeminiFlash},
		TierMedium:  {ModelClaudeHaiku, ModelGPT4oMini},
		TierComplex: {ModelClaudeSonnet, ModelGPT4o},
	}
}

// Picker returns an index in [0, n).
type Picker func(n int) int

// CostBasedPolicy routes each prompt to a model from the tier that matches its
// complexity. One tier member is picked at random to spread load across
// equally acceptable models; the rest of the tier follows it as fallback.
type CostBasedPolicy struct {
	*BasePolicy
	tiers    map[Tier][]string
	fallback []string
	pick     Picker
}

// NewCostBasedPolicy creates a cost-based routing policy. Nil tiers use
// DefaultTiers; a nil picker uses a locked math/rand generator. Fallback
// models are appended after the tier's members.
func NewCostBasedPolicy(tiers map[Tier][]string, fallback []string, pick Picker) (*CostBasedPolicy, error) {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	copied := make(map[Tier][]string, len(tiers))
	for _, tier := range []Tier{TierSimple, TierMedium, TierComplex} {
		list := dedupe(tiers[tier])
		if len(list) == 0 {
			return nil, fmt.Errorf("tier %s has no models", tier)
		}
		copied[tier] = list
	}
	if pick == nil {
		pick = lockedPicker()
	}
	return &CostBasedPolicy{
		BasePolicy: NewBasePolicy(
			"cost_based",
			"Routes each prompt to a model from the cost tier matching its complexity",
		),
		tiers:    copied,
		fallback: dedupe(fallback),
		pick:     pick,
	}, nil
}

// Candidates analyzes the latest user message and returns the tier's chain.
func (p *CostBasedPolicy) Candidates(ctx context.Context, req models.RoutingRequest) ([]string, error) {
	if err := p.ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	complexity := AnalyzeComplexity(req.LastUserContent())
	return requireCandidates(p.GetName(), p.ForTier(complexity.Tier))
}

// SelectModel picks one model from the tier.
func (p *CostBasedPolicy) SelectModel(tier Tier) string {
	list := p.tiers[tier]
	if len(list) == 0 {
		return ""
	}
	i := p.pick(len(list))
	if i < 0 || i >= len(list) {
		i = 0
	}
	return list[i]
}

// ForTier returns the picked model, then the remaining tier members in tier
// order, then the fallback models.
func (p *CostBasedPolicy) ForTier(tier Tier) []string {
	picked := p.SelectModel(tier)
	if picked == "" {
		return nil
	}
	chain := Prepend(picked, p.tiers[tier])
	return dedupe(append(chain, p.fallback...))
}

// Tiers returns a copy of the tier table.
func (p *CostBasedPolicy) Tiers() map[Tier][]string {
	out := make(map[Tier][]string, len(p.tiers))
	for k, v := range p.tiers {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func lockedPicker() Picker {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return r.Intn(n)
	}
}
