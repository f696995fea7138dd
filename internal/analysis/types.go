package analysis

import (
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Result is the outcome of analyzing one idea. Score is always within the
// score band; Status is analysis_failed when the guaranteed score was used.
type Result struct {
	Score     float64          `json:"score"`
	Status    types.IdeaStatus `json:"status"`
	Analysis  types.Analysis   `json:"analysis"`
	Breakdown *Breakdown       `json:"breakdown,omitempty"`
	Fallback  bool             `json:"fallback"`
	Duration  time.Duration    `json:"-"`
	Err       error            `json:"-"`
}

// placeholderAnalysis is stored when the analysis service fails so the idea
// still renders with a complete bundle.
func placeholderAnalysis(language string) types.Analysis {
	if language == "ko" {
		return types.Analysis{
			Improvements:    []string{"목표 고객을 더 구체적으로 정의해 보세요", "수익 모델을 명확히 해 보세요"},
			MarketPotential: []string{"시장 분석은 잠시 후 다시 시도해 주세요"},
			SimilarIdeas:    []string{},
			PitchPoints:     []string{"해결하려는 문제를 한 문장으로 설명해 보세요"},
			Raw:             "AI 분석을 일시적으로 사용할 수 없어 기본 점수가 적용되었습니다.",
		}
	}
	return types.Analysis{
		Improvements:    []string{"Define the target customer more precisely", "Spell out how the idea makes money"},
		MarketPotential: []string{"Market analysis is temporarily unavailable"},
		SimilarIdeas:    []string{},
		PitchPoints:     []string{"State the problem you solve in one sentence"},
		Raw:             "AI analysis was temporarily unavailable; a baseline score was applied.",
	}
}
