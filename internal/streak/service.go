package streak

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Repository is the persistence needed by Service
type Repository interface {
	GetStreak(ctx context.Context, userID string) (types.UserStreak, error)
	UpdateStreak(ctx context.Context, userID string, fn func(types.UserStreak) types.UserStreak) (before, after types.UserStreak, err error)
	InsertBadge(ctx context.Context, userID string, badge types.BadgeType, at time.Time) (bool, error)
	ListBadges(ctx context.Context, userID string) ([]types.Badge, error)
	UpsertChallenge(ctx context.Context, challenge *types.DailyChallenge) error
	GetChallenge(ctx context.Context, day time.Time) (*types.DailyChallenge, error)
	IdeasByAuthorBetween(ctx context.Context, authorID string, from, to time.Time) ([]types.Idea, error)
}

// Awarder grants influence points
type Awarder interface {
	AwardAction(ctx context.Context, userID string, action types.ActionType, count int, referenceID string) (types.InfluenceScore, error)
}

// Update is the outcome of recording one submission
type Update struct {
	Streak        types.UserStreak  `json:"streak"`
	NewBadges     []types.BadgeType `json:"new_badges,omitempty"`
	StreakAwarded bool              `json:"streak_awarded"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Service maintains streaks, badges and challenge participation
type Service struct {
	repo      Repository
	awarder   Awarder
	publisher realtime.Publisher
	now       func() time.Time
}

// NewService creates a service. awarder and publisher may be nil.
func NewService(repo Repository, awarder Awarder, publisher realtime.Publisher) *Service {
	return &Service{
		repo:      repo,
		awarder:   awarder,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordSubmission advances the user's streak for a submission made at at.
// The first submission of each day earns the daily streak award; badges are
// granted once per user. Award and badge failures become warnings.
func (s *Service) RecordSubmission(ctx context.Context, userID string, at time.Time) (*Update, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewValidationError("user id is required")
	}

	before, after, err := s.repo.UpdateStreak(ctx, userID, func(current types.UserStreak) types.UserStreak {
		return Advance(current, at)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update streak: %w", err)
	}

	update := &Update{Streak: after}
	if !advanced(before, after) {
		return update, nil
	}

	if s.awarder != nil {
		ref := types.Day(at).Format(types.DateLayout)
		if _, err := s.awarder.AwardAction(ctx, userID, types.ActionDailyStreak, 1, ref); err != nil {
			update.Warnings = append(update.Warnings,
				errors.NewPartialFailureError("daily streak award", err).Error())
		} else {
			update.StreakAwarded = true
		}
	}

	for _, badge := range BadgesFor(after.CurrentStreak) {
		granted, err := s.repo.InsertBadge(ctx, userID, badge, at)
		if err != nil {
			update.Warnings = append(update.Warnings,
				errors.NewPartialFailureError("grant "+string(badge), err).Error())
			continue
		}
		if granted {
			update.NewBadges = append(update.NewBadges, badge)
		}
	}

	realtime.Notify(ctx, s.publisher,
		realtime.NewEvent(realtime.TableUserStreaks, realtime.ChangeUpdate, userID, after))
	return update, nil
}

func advanced(before, after types.UserStreak) bool {
	if after.LastSubmissionDate == nil {
		return false
	}
	if before.LastSubmissionDate == nil {
		return true
	}
	return after.LastSubmissionDate.After(*before.LastSubmissionDate)
}

// RecordParticipation awards keyword participation when idea takes part in
// its day's challenge and no earlier idea by the same author that day did.
func (s *Service) RecordParticipation(ctx context.Context, idea *types.Idea) (bool, error) {
	day := types.Day(idea.CreatedAt)
	challenge, err := s.repo.GetChallenge(ctx, day)
	if stderrors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !Matches(idea, challenge) {
		return false, nil
	}

	ideas, err := s.repo.IdeasByAuthorBetween(ctx, idea.AuthorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	earlier := make([]types.Idea, 0, len(ideas))
	for _, other := range ideas {
		if other.ID != idea.ID && other.CreatedAt.Before(idea.CreatedAt) {
			earlier = append(earlier, other)
		}
	}
	if Participated(earlier, challenge, day) {
		return false, nil
	}

	if s.awarder == nil {
		return true, nil
	}
	if _, err := s.awarder.AwardAction(ctx, idea.AuthorID, types.ActionKeywordParticipation, 1, idea.ID); err != nil {
		return false, errors.NewPartialFailureError("challenge participation award", err)
	}
	return true, nil
}

// CheckParticipation reports whether the user took part in the challenge for day
func (s *Service) CheckParticipation(ctx context.Context, userID string, day time.Time) (bool, error) {
	day = types.Day(day)
	challenge, err := s.repo.GetChallenge(ctx, day)
	if stderrors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ideas, err := s.repo.IdeasByAuthorBetween(ctx, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	return Participated(ideas, challenge, day), nil
}

// Streak returns the user's current streak
func (s *Service) Streak(ctx context.Context, userID string) (types.UserStreak, error) {
	return s.repo.GetStreak(ctx, userID)
}

// Badges returns the user's badges
func (s *Service) Badges(ctx context.Context, userID string) ([]types.Badge, error) {
	return s.repo.ListBadges(ctx, userID)
}

// Challenge returns the challenge for day
func (s *Service) Challenge(ctx context.Context, day time.Time) (*types.DailyChallenge, error) {
	challenge, err := s.repo.GetChallenge(ctx, day)
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("challenge", types.Day(day).Format(types.DateLayout))
	}
	return challenge, err
}

// Today returns today's challenge
func (s *Service) Today(ctx context.Context) (*types.DailyChallenge, error) {
	return s.Challenge(ctx, s.now())
}

// SetChallenge creates or replaces a day's challenge
func (s *Service) SetChallenge(ctx context.Context, challenge *types.DailyChallenge) error {
	if strings.TrimSpace(challenge.Keyword) == "" {
		return errors.NewValidationError("challenge keyword is required")
	}
	if _, err := time.Parse(types.DateLayout, challenge.Date); err != nil {
		return errors.NewValidationError("challenge date must be YYYY-MM-DD", challenge.Date)
	}
	if err := s.repo.UpsertChallenge(ctx, challenge); err != nil {
		return err
	}
	slog.Info("Daily challenge set", "date", challenge.Date, "keyword", challenge.Keyword)
	return nil
}
