package ideas

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

const maxReportedErrors = 20

// RepairRepository is the persistence needed by Repairer
type RepairRepository interface {
	ListZeroScoreIdeas(ctx context.Context, limit int) ([]types.Idea, error)
	UpdateIdeaScore(ctx context.Context, id string, score float64, status types.IdeaStatus) error
}

// RepairOptions controls a repair run
type RepairOptions struct {
	DryRun bool
	Limit  int
}

// RepairReport summarizes a repair run. In a dry run Updated counts the ideas
// that would have been rewritten.
type RepairReport struct {
	Scanned int      `json:"scanned"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	DryRun  bool     `json:"dry_run"`
	Errors  []string `json:"errors"`
}

// Repairer rescores ideas stored with a zero or missing score
type Repairer struct {
	repo    RepairRepository
	rng     analysis.Rand
	metrics *monitoring.Metrics
}

// NewRepairer creates a repairer. rng may be nil.
func NewRepairer(repo RepairRepository, rng analysis.Rand, metrics *monitoring.Metrics) *Repairer {
	if rng == nil {
		rng = analysis.NewRand()
	}
	return &Repairer{repo: repo, rng: rng, metrics: metrics}
}

// FixZeroScores gives every non-seed, non-demo idea without a score a
// guaranteed score. Repaired ideas keep the analysis_failed status so they
// stay distinguishable from ideas the analyzer actually scored.
func (r *Repairer) FixZeroScores(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	candidates, err := r.repo.ListZeroScoreIdeas(ctx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list zero-score ideas: %w", err)
	}

	report := &RepairReport{DryRun: opts.DryRun, Errors: []string{}}
	for i := range candidates {
		idea := &candidates[i]
		if idea.IsSeed || idea.HasTag(types.TagDemo) || idea.HasTag(types.TagSeed) {
			report.Skipped++
			continue
		}
		report.Scanned++

		defect := errors.NewIntegrityDefectError("idea", idea.ID, "stored without a score")
		score := analysis.GuaranteedScore(idea.Text, r.rng)
		if opts.DryRun {
			slog.Info("Would repair idea score", "idea_id", idea.ID, "score", score, "defect", defect)
			report.Updated++
			continue
		}

		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.repo.UpdateIdeaScore(ctx, idea.ID, score, types.StatusAnalysisFailed); err != nil {
			report.Failed++
			if len(report.Errors) < maxReportedErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", idea.ID, err))
			}
			continue
		}
		slog.Info("Repaired idea score", "idea_id", idea.ID, "score", score, "defect", defect)
		report.Updated++
	}

	if !opts.DryRun && r.metrics != nil {
		r.metrics.AddScoresRepaired(report.Updated)
	}
	slog.Info("Score repair finished",
		"scanned", report.Scanned,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"dry_run", report.DryRun)
	return report, nil
}
