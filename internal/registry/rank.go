package registry

import (
	"sort"
	"strings"

	"github.com/felipepmaragno/model-router/internal/domain"
)

// excludedPatterns name model families that are listed by providers but do
// not produce text.
var excludedPatterns = []string{
	"embedding",
	"embed",
	"tts",
	"speech",
	"audio",
	"transcribe",
	"whisper",
	"vision",
	"image",
	"imagen",
	"veo",
	"aqa",
	"moderation",
	"dall-e",
}

// Filter keeps models that advertise text generation and whose name matches
// none of the excluded families. Order is preserved.
func Filter(models []domain.DiscoveredModel) []domain.DiscoveredModel {
	var out []domain.DiscoveredModel
	for _, m := range models {
		if !supports(m.SupportedActions, domain.ActionGenerateContent) {
			continue
		}
		if isExcluded(m.Name) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func supports(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

func isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range excludedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// normalizeID strips the "models/" resource prefix Gemini uses in listings.
func normalizeID(name string) string {
	return strings.TrimPrefix(name, "models/")
}

// RankPolicy scores a model; lower scores rank first.
type RankPolicy interface {
	Score(m domain.ModelDescriptor) int
}

// RankFunc adapts a function to RankPolicy.
type RankFunc func(m domain.ModelDescriptor) int

func (f RankFunc) Score(m domain.ModelDescriptor) int {
	return f(m)
}

// TierPolicy ranks by the first tier whose pattern appears in the model ID.
// Models matching no tier rank after all tiers. Preview and experimental
// builds rank after the stable builds of the same tier.
type TierPolicy struct {
	Tiers   [][]string
	Demoted []string
}

// DefaultTierPolicy prefers recent fast tiers over larger or older ones.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		Tiers: [][]string{
			{"gemini-2.5-flash"},
			{"gemini-2.0-flash"},
			{"gemini-2.5-pro"},
			{"flash"},
			{"gpt-4.1-mini", "gpt-4o-mini", "haiku"},
			{"gpt-4.1", "gpt-4o", "sonnet"},
			{"pro", "opus", "gpt-"},
			{"llama", "mistral", "qwen", "gemma"},
		},
		Demoted: []string{"preview", "exp", "latest"},
	}
}

// Prefer returns a copy of p with patterns ranked ahead of every existing
// tier.
func (p TierPolicy) Prefer(patterns []string) TierPolicy {
	if len(patterns) == 0 {
		return p
	}
	tiers := make([][]string, 0, len(p.Tiers)+1)
	tiers = append(tiers, patterns)
	tiers = append(tiers, p.Tiers...)
	return TierPolicy{Tiers: tiers, Demoted: p.Demoted}
}

func (p TierPolicy) Score(m domain.ModelDescriptor) int {
	id := strings.ToLower(m.ID)

	tier := len(p.Tiers)
	for i, patterns := range p.Tiers {
		if containsAny(id, patterns) {
			tier = i
			break
		}
	}

	score := tier * 2
	if containsAny(id, p.Demoted) {
		score++
	}
	return score
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Rank sorts models by policy score, keeping discovery order for ties, and
// renumbers PriorityRank from zero.
func Rank(models []domain.ModelDescriptor, policy RankPolicy) []domain.ModelDescriptor {
	out := cloneModels(models)
	scores := make(map[string]int, len(out))
	for _, m := range out {
		scores[m.ID] = policy.Score(m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i].ID] < scores[out[j].ID]
	})

	for i := range out {
		out[i].PriorityRank = i
	}
	return out
}
