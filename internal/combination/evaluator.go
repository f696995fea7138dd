// Package combination scores sets of idea modules for novelty,
// complementarity and marketability.
package combination

import (
	"math"
	"sort"

	"github.com/ZanzyTHEbar/idea-forge/internal/embeddings"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

const (
	MaxComponentScore = 5.0
	MinNovelty        = 1.0

	diversityTypes    = 5.0
	usageSaturation   = 10.0
	qualitySaturation = 100.0

	sweetSpotMin   = 3
	sweetSpotMax   = 7
	sweetSpotBonus = 0.2

	noveltyWeight         = 0.3
	complementarityWeight = 0.4
	marketabilityWeight   = 0.3
)

// Scores is the result of evaluating one combination. All values are rounded
// to two decimals.
type Scores struct {
	Novelty         float64 `json:"novelty_score"`
	Complementarity float64 `json:"complementarity_score"`
	Marketability   float64 `json:"marketability_score"`
	Overall         float64 `json:"overall_score"`
	SemanticScored  bool    `json:"semantic_scored"`
}

// Evaluate scores modules against past combinations. Module order does not
// affect the result. Modules are expected to carry their embeddings; a
// missing or mismatched embedding zeroes the semantic term.
func Evaluate(modules []types.Module, history [][]string) (Scores, error) {
	modules = dedupe(modules)
	if len(modules) < 2 {
		return Scores{}, errors.NewValidationError("a combination needs at least two distinct modules")
	}

	ids := make([]string, len(modules))
	for i, m := range modules {
		ids[i] = m.ID
	}

	novelty := Novelty(ids, history)
	semantic, semanticOK := semanticComplementarity(modules)
	meanQuality, meanUsage := means(modules)

	quality := math.Min(meanQuality/qualitySaturation, 1)
	diversity := math.Min(float64(distinctTypes(modules))/diversityTypes, 1)

	complementarity := clamp(MaxComponentScore*(0.4*diversity+0.4*semantic+0.2*quality), 0, MaxComponentScore)

	market := 0.5*math.Min(meanUsage/usageSaturation, 1) + 0.5*quality
	if n := len(modules); n >= sweetSpotMin && n <= sweetSpotMax {
		market += sweetSpotBonus
	}
	marketability := clamp(MaxComponentScore*market, 0, MaxComponentScore)

	overall := noveltyWeight*novelty + complementarityWeight*complementarity + marketabilityWeight*marketability

	return Scores{
		Novelty:         round2(novelty),
		Complementarity: round2(complementarity),
		Marketability:   round2(marketability),
		Overall:         round2(overall),
		SemanticScored:  semanticOK,
	}, nil
}

// Novelty is 5 with no history, otherwise 5 - 4*maxJaccard clamped to [1, 5]
func Novelty(ids []string, history [][]string) float64 {
	if len(history) == 0 {
		return MaxComponentScore
	}
	candidate := toSet(ids)
	maxSim := 0.0
	for _, past := range history {
		if sim := jaccard(candidate, toSet(past)); sim > maxSim {
			maxSim = sim
		}
	}
	return clamp(MaxComponentScore-4*maxSim, MinNovelty, MaxComponentScore)
}

// semanticComplementarity is the mean pairwise 1 - cosine similarity. It
// reports false and contributes 0 when any embedding is missing or the
// dimensions differ.
func semanticComplementarity(modules []types.Module) (float64, bool) {
	var sum float64
	pairs := 0
	for i := 0; i < len(modules); i++ {
		for j := i + 1; j < len(modules); j++ {
			sim, ok := embeddings.Cosine(modules[i].Embedding, modules[j].Embedding)
			if !ok {
				return 0, false
			}
			sum += 1 - sim
			pairs++
		}
	}
	if pairs == 0 {
		return 0, false
	}
	return sum / float64(pairs), true
}

func means(modules []types.Module) (quality, usage float64) {
	for _, m := range modules {
		quality += m.QualityScore
		usage += float64(m.UsageCount)
	}
	n := float64(len(modules))
	return quality / n, usage / n
}

// distinctTypes counts unknown types once, like any other type
func distinctTypes(modules []types.Module) int {
	seen := make(map[types.ModuleType]struct{}, len(modules))
	for _, m := range modules {
		seen[types.ParseModuleType(string(m.Type))] = struct{}{}
	}
	return len(seen)
}

func dedupe(modules []types.Module) []types.Module {
	byID := make(map[string]types.Module, len(modules))
	for _, m := range modules {
		byID[m.ID] = m
	}
	out := make([]types.Module, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for id := range a {
		if _, ok := b[id]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
