package analysis

import (
	"math"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Score bands
const (
	MinScore          = 1.0
	MaxScore          = 10.0
	GuaranteedMinimum = 4.0
	GuaranteedMaximum = 9.0
)

const (
	baseScore           = 3.0
	guaranteedBase      = 5.0
	lengthTier1         = 100
	lengthTier2         = 200
	lengthBonus         = 1.0
	keywordBonus        = 1.0
	analysisItemBonus   = 0.5
	fewSimilarBonus     = 0.3
	manySimilarPenalty  = 0.5
	rawAnalysisBonus    = 0.5
	rawAnalysisMinChars = 300
	jitterRange         = 0.3
)

// innovationKeywords are matched case-insensitively as substrings
var innovationKeywords = []string{
	"ai", "인공지능", "artificial intelligence", "machine learning", "머신러닝",
	"blockchain", "블록체인", "web3", "iot", "사물인터넷",
	"platform", "플랫폼", "metaverse", "메타버스", "automation", "자동화",
	"saas", "subscription", "구독", "marketplace", "마켓플레이스",
}

// Rand is the randomness source for score jitter. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Breakdown shows how a score was assembled
type Breakdown struct {
	Base     float64 `json:"base"`
	Length   float64 `json:"length"`
	Keyword  float64 `json:"keyword"`
	Analysis float64 `json:"analysis"`
	Jitter   float64 `json:"jitter"`
	Raw      float64 `json:"raw"`
	Final    float64 `json:"final"`
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func jitter(rng Rand) float64 {
	if rng == nil {
		return 0
	}
	return (rng.Float64()*2 - 1) * jitterRange
}

// HasInnovationKeyword reports whether text mentions any innovation keyword.
// Short latin keywords such as "ai" must appear as whole words.
func HasInnovationKeyword(text string) bool {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	for _, kw := range innovationKeywords {
		if len(kw) <= 4 && isASCII(kw) {
			for _, w := range words {
				if w == kw {
					return true
				}
			}
			continue
		}
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func textBonuses(text string) (length, keyword float64) {
	n := TextLength(text)
	if n > lengthTier1 {
		length += lengthBonus
	}
	if n > lengthTier2 {
		length += lengthBonus
	}
	if HasInnovationKeyword(text) {
		keyword = keywordBonus
	}
	return length, keyword
}

func analysisBonus(res *types.Analysis) float64 {
	if res == nil {
		return 0
	}

	bonus := 0.0
	if len(res.Improvements) >= 3 {
		bonus += analysisItemBonus
	}
	if len(res.MarketPotential) >= 2 {
		bonus += analysisItemBonus
	}
	if len(res.PitchPoints) >= 3 {
		bonus += analysisItemBonus
	}

	switch similar := len(res.SimilarIdeas); {
	case similar >= 5:
		bonus -= manySimilarPenalty
	case similar <= 2:
		bonus += fewSimilarBonus
	}

	if len([]rune(strings.TrimSpace(res.Raw))) >= rawAnalysisMinChars {
		bonus += rawAnalysisBonus
	}
	return bonus
}

// ScoreBreakdown computes a score in [1, 10] and the parts it came from.
// res may be nil when no analysis is available.
func ScoreBreakdown(text string, res *types.Analysis, rng Rand) Breakdown {
	b := Breakdown{Base: baseScore}
	b.Length, b.Keyword = textBonuses(text)
	b.Analysis = analysisBonus(res)
	b.Jitter = jitter(rng)
	b.Raw = b.Base + b.Length + b.Keyword + b.Analysis + b.Jitter
	b.Final = round1(clip(b.Raw, MinScore, MaxScore))
	return b
}

// ComputeScore returns the idea quality score in [1.0, 10.0] with one decimal
func ComputeScore(text string, res *types.Analysis, rng Rand) float64 {
	return ScoreBreakdown(text, res, rng).Final
}

// GuaranteedScore scores text alone for when analysis is unavailable. The
// result is in [4.0, 9.0] and is never zero.
func GuaranteedScore(text string, rng Rand) float64 {
	length, keyword := textBonuses(text)
	raw := guaranteedBase + length + keyword + jitter(rng)
	return round1(clip(raw, GuaranteedMinimum, GuaranteedMaximum))
}
