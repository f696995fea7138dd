// Package ideas handles idea submission, score repair, modules and
// invitations.
package ideas

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/streak"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Repository is the idea persistence needed by Service
type Repository interface {
	InsertIdea(ctx context.Context, idea *types.Idea) error
	GetIdea(ctx context.Context, id string) (*types.Idea, error)
}

// Awarder grants influence points
type Awarder interface {
	AwardAction(ctx context.Context, userID string, action types.ActionType, count int, referenceID string) (types.InfluenceScore, error)
}

// Submission is a stored idea with its score details and side effects
type Submission struct {
	Idea             *types.Idea         `json:"idea"`
	Breakdown        *analysis.Breakdown `json:"breakdown,omitempty"`
	Fallback         bool                `json:"fallback"`
	Streak           *streak.Update      `json:"streak,omitempty"`
	ChallengeAwarded bool                `json:"challenge_awarded"`
	Warnings         []string            `json:"warnings,omitempty"`
}

// Service accepts idea submissions
type Service struct {
	repo      Repository
	analyzer  *analysis.Analyzer
	streaks   *streak.Service
	awarder   Awarder
	publisher realtime.Publisher
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics
}

// NewService creates a service. streaks, awarder, publisher, logger and
// metrics may be nil.
func NewService(repo Repository, analyzer *analysis.Analyzer, streaks *streak.Service, awarder Awarder, publisher realtime.Publisher, logger *monitoring.Logger, metrics *monitoring.Metrics) *Service {
	if logger == nil {
		logger = &monitoring.Logger{Logger: slog.Default()}
	}
	return &Service{
		repo:      repo,
		analyzer:  analyzer,
		streaks:   streaks,
		awarder:   awarder,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// DetectLanguage returns "ko" for text containing Hangul, otherwise "en"
func DetectLanguage(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) {
			return "ko"
		}
	}
	return "en"
}

// Submit scores and stores an idea, then advances the author's streak and
// checks the daily challenge. The idea is always stored with a non-zero
// score; streak and challenge failures are returned as warnings.
func (s *Service) Submit(ctx context.Context, authorID string, req types.SubmitIdeaRequest) (*Submission, error) {
	start := time.Now()

	if strings.TrimSpace(authorID) == "" {
		return nil, errors.NewValidationError("author id is required")
	}
	text := analysis.NormalizeText(req.Text)
	if text == "" {
		return nil, errors.NewValidationError("idea text is required")
	}
	if n := analysis.TextLength(text); n > analysis.MaxTextLength {
		return nil, errors.NewValidationError("idea text is too long", fmt.Sprintf("%d > %d characters", n, analysis.MaxTextLength))
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = DetectLanguage(text)
	}

	result := s.analyzer.Analyze(ctx, text, language)
	score := result.Score
	idea := &types.Idea{
		AuthorID: authorID,
		Text:     text,
		Score:    &score,
		Status:   result.Status,
		Tags:     analysis.NormalizeTags(req.Tags),
		Language: language,
		Analysis: result.Analysis,
	}
	if err := s.repo.InsertIdea(ctx, idea); err != nil {
		return nil, fmt.Errorf("failed to store idea: %w", err)
	}

	s.logger.SubmissionLogger(idea.ID, authorID, score, string(idea.Status), time.Since(start))
	if s.metrics != nil {
		s.metrics.RecordSubmission(result.Fallback)
	}

	sub := &Submission{Idea: idea, Breakdown: result.Breakdown, Fallback: result.Fallback}
	if s.streaks != nil {
		update, err := s.streaks.RecordSubmission(ctx, authorID, idea.CreatedAt)
		if err != nil {
			sub.Warnings = append(sub.Warnings, errors.NewPartialFailureError("streak update", err).Error())
		} else {
			sub.Streak = update
			sub.Warnings = append(sub.Warnings, update.Warnings...)
		}

		awarded, err := s.streaks.RecordParticipation(ctx, idea)
		if err != nil {
			sub.Warnings = append(sub.Warnings, errors.NewPartialFailureError("challenge check", err).Error())
		}
		sub.ChallengeAwarded = awarded
	}

	realtime.Notify(ctx, s.publisher,
		realtime.NewEvent(realtime.TableIdeas, realtime.ChangeInsert, authorID, idea))
	return sub, nil
}

// Get loads an idea
func (s *Service) Get(ctx context.Context, id string) (*types.Idea, error) {
	idea, err := s.repo.GetIdea(ctx, id)
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("idea", id)
	}
	return idea, err
}

// VCInterest records an investor's interest in an idea and awards its author
func (s *Service) VCInterest(ctx context.Context, ideaID, investorID string) (types.InfluenceScore, error) {
	idea, err := s.Get(ctx, ideaID)
	if err != nil {
		return types.InfluenceScore{}, err
	}
	if idea.AuthorID == investorID {
		return types.InfluenceScore{}, errors.NewValidationError("authors cannot express interest in their own idea")
	}
	if s.awarder == nil {
		return types.InfluenceScore{}, errors.NewConfigurationError("influence ledger not configured", nil)
	}
	return s.awarder.AwardAction(ctx, idea.AuthorID, types.ActionVCInterest, 1, idea.ID)
}
