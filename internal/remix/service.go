// Package remix creates derived ideas and walks the remix graph.
package remix

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

const (
	minBoost = 0.1
	maxBoost = 0.8

	// lineage walks stop here even if the stored graph is corrupt
	maxLineageDepth = 1000
)

// Repository is the persistence needed by Service
type Repository interface {
	GetIdea(ctx context.Context, id string) (*types.Idea, error)
	InsertRemix(ctx context.Context, idea *types.Idea) error
	ListChildren(ctx context.Context, parentID string) ([]types.Idea, error)
	InviterOf(ctx context.Context, userID string) (string, error)
}

// Awarder grants influence points
type Awarder interface {
	AwardAction(ctx context.Context, userID string, action types.ActionType, count int, referenceID string) (types.InfluenceScore, error)
}

// Result is a stored remix and the side effects that did not complete
type Result struct {
	Idea     *types.Idea `json:"idea"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Service creates remixes
type Service struct {
	repo      Repository
	awarder   Awarder
	publisher realtime.Publisher
	metrics   *monitoring.Metrics
	rng       analysis.Rand
}

// NewService creates a service. rng may be nil for a time-seeded source;
// awarder, publisher and metrics may be nil.
func NewService(repo Repository, awarder Awarder, publisher realtime.Publisher, metrics *monitoring.Metrics, rng analysis.Rand) *Service {
	if rng == nil {
		rng = analysis.NewRand()
	}
	return &Service{repo: repo, awarder: awarder, publisher: publisher, metrics: metrics, rng: rng}
}

// Score returns the remix score for a parent score and a uniform draw u in
// [0, 1). The result is floored to one decimal so it never drops below the
// parent, and it is kept inside [MinScore, MaxScore].
func Score(parentScore, u float64) float64 {
	boosted := parentScore + minBoost + u*(maxBoost-minBoost)
	floored := math.Floor(boosted*10+1e-9) / 10
	return math.Max(analysis.MinScore, math.Min(floored, analysis.MaxScore))
}

type award struct {
	userID    string
	action    types.ActionType
	operation string
}

// CreateRemix stores a remix of parentID and then awards the remixer and the
// original author. Award failures are reported as warnings and never undo the
// remix.
func (s *Service) CreateRemix(ctx context.Context, parentID, text string, parentScore float64, authorID string) (*Result, error) {
	text = analysis.NormalizeText(text)
	switch {
	case strings.TrimSpace(parentID) == "":
		return nil, errors.NewValidationError("parent idea id is required")
	case strings.TrimSpace(authorID) == "":
		return nil, errors.NewValidationError("author id is required")
	case text == "":
		return nil, errors.NewValidationError("remix text is required")
	case analysis.TextLength(text) > analysis.MaxTextLength:
		return nil, errors.NewValidationError("remix text is too long", fmt.Sprintf("max %d characters", analysis.MaxTextLength))
	case parentScore < 0 || parentScore > analysis.MaxScore:
		return nil, errors.NewValidationError("parent score out of range", parentScore)
	}

	parent, err := s.repo.GetIdea(ctx, parentID)
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewValidationError("unknown parent idea", parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load parent idea: %w", err)
	}

	base := parentScore
	if base < analysis.MinScore {
		// an unscored parent would drag the remix under the score floor
		defect := errors.NewIntegrityDefectError("idea", parent.ID, "remix parent has no score")
		base = analysis.GuaranteedScore(parent.Text, s.rng)
		slog.Warn("Remixing unscored idea", "idea_id", parent.ID, "base_score", base, "defect", defect)
	}
	score := Score(base, s.rng.Float64())
	idea := &types.Idea{
		AuthorID:      authorID,
		Text:          text,
		Score:         &score,
		Status:        types.StatusScored,
		Tags:          []string{types.TagRemix},
		Language:      parent.Language,
		RemixParentID: &parent.ID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.InsertRemix(ctx, idea); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.NewValidationError("unknown parent idea", parentID)
		}
		return nil, fmt.Errorf("failed to store remix: %w", err)
	}

	awards := []award{
		{authorID, types.ActionRemixCreated, "award remixer"},
		{parent.AuthorID, types.ActionIdeaRemixedBonus, "award original author"},
	}
	if inviter, err := s.repo.InviterOf(ctx, authorID); err == nil && inviter != "" && inviter == parent.AuthorID {
		awards = append(awards, award{inviter, types.ActionFriendRemix, "award inviting friend"})
	}

	result := &Result{Idea: idea, Warnings: s.runAwards(ctx, idea.ID, awards)}
	if s.metrics != nil {
		s.metrics.RecordRemix(len(result.Warnings))
	}
	realtime.Notify(ctx, s.publisher,
		realtime.NewEvent(realtime.TableIdeas, realtime.ChangeInsert, authorID, idea))
	return result, nil
}

// runAwards grants every award concurrently. One failed award does not cancel
// the others.
func (s *Service) runAwards(ctx context.Context, ideaID string, awards []award) []string {
	if s.awarder == nil {
		return nil
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		warnings []string
	)
	for _, a := range awards {
		g.Go(func() error {
			if _, err := s.awarder.AwardAction(ctx, a.userID, a.action, 1, ideaID); err != nil {
				mu.Lock()
				warnings = append(warnings, errors.NewPartialFailureError(a.operation, err).Error())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return warnings
}

// Lineage returns the ancestors of ideaID, nearest first, ending at the root
func (s *Service) Lineage(ctx context.Context, ideaID string) ([]types.Idea, error) {
	idea, err := s.repo.GetIdea(ctx, ideaID)
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("idea", ideaID)
	}
	if err != nil {
		return nil, err
	}

	ancestors := []types.Idea{}
	seen := map[string]bool{idea.ID: true}
	for idea.RemixParentID != nil && len(ancestors) < maxLineageDepth {
		parentID := *idea.RemixParentID
		if seen[parentID] {
			return ancestors, errors.NewIntegrityDefectError("idea", parentID, "remix cycle")
		}
		seen[parentID] = true

		idea, err = s.repo.GetIdea(ctx, parentID)
		if stderrors.Is(err, database.ErrNotFound) {
			return ancestors, errors.NewIntegrityDefectError("idea", parentID, "missing remix parent")
		}
		if err != nil {
			return ancestors, err
		}
		ancestors = append(ancestors, *idea)
	}
	return ancestors, nil
}

// Children returns the direct remixes of ideaID
func (s *Service) Children(ctx context.Context, ideaID string) ([]types.Idea, error) {
	children, err := s.repo.ListChildren(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []types.Idea{}
	}
	return children, nil
}
