// Package influence keeps the append-only influence ledger and the
// materialized per-user totals derived from it.
package influence

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Repository is the persistence needed by Service
type Repository interface {
	AppendAward(ctx context.Context, entry *types.LedgerEntry) (types.InfluenceScore, error)
	GetInfluenceScore(ctx context.Context, userID string) (types.InfluenceScore, error)
	LedgerEntries(ctx context.Context, userID string, limit int) ([]types.LedgerEntry, error)
	RebuildInfluenceScore(ctx context.Context, userID string, at time.Time) (types.InfluenceScore, error)
	LedgerUserIDs(ctx context.Context) ([]string, error)
	TopInfluence(ctx context.Context, window types.Window, at time.Time, limit int) ([]types.InfluenceScore, error)
}

// LeaderboardEntry is one ranked user
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Points int    `json:"points"`
	Total  int    `json:"total_score"`
}

// Leaderboard is a ranking for one window
type Leaderboard struct {
	Window      types.Window       `json:"window"`
	PeriodStart string             `json:"period_start,omitempty"`
	Entries     []LeaderboardEntry `json:"entries"`
	Total       int                `json:"total"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Service awards influence and serves totals and rankings
type Service struct {
	repo      Repository
	cache     *LeaderboardCache
	publisher realtime.Publisher
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// NewService creates a service. cache, publisher, logger and metrics may be nil.
func NewService(repo Repository, cache *LeaderboardCache, publisher realtime.Publisher, logger *monitoring.Logger, metrics *monitoring.Metrics) *Service {
	if logger == nil {
		logger = &monitoring.Logger{Logger: slog.Default()}
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Award appends a ledger entry and updates the user's totals in the same
// transaction. Identical calls are not deduplicated.
func (s *Service) Award(ctx context.Context, userID string, action types.ActionType, points int, description, referenceID string) (types.InfluenceScore, error) {
	if strings.TrimSpace(userID) == "" {
		return types.InfluenceScore{}, errors.NewValidationError("user id is required")
	}
	if types.ParseActionType(string(action)) == types.ActionUnknown {
		return types.InfluenceScore{}, errors.NewValidationError("unknown action type", string(action))
	}
	if description == "" {
		description = Description(action)
	}

	entry := &types.LedgerEntry{
		UserID:      userID,
		Action:      action,
		Points:      points,
		Description: description,
		ReferenceID: referenceID,
		CreatedAt:   s.now(),
	}
	snapshot, err := s.repo.AppendAward(ctx, entry)

	s.logger.AwardLogger(userID, string(action), points, referenceID, err)
	if s.metrics != nil {
		s.metrics.RecordAward(points, err)
	}
	if err != nil {
		return types.InfluenceScore{}, fmt.Errorf("failed to award %s: %w", action, err)
	}

	if s.cache != nil {
		s.cache.InvalidateAll()
	}
	realtime.Notify(ctx, s.publisher,
		realtime.NewEvent(realtime.TableInfluenceScores, realtime.ChangeUpdate, userID, snapshot))
	return snapshot, nil
}

// AwardAction awards the point-table value for count occurrences of action
func (s *Service) AwardAction(ctx context.Context, userID string, action types.ActionType, count int, referenceID string) (types.InfluenceScore, error) {
	points, err := PointsFor(action, count)
	if err != nil {
		return types.InfluenceScore{}, err
	}
	return s.Award(ctx, userID, action, points, Description(action), referenceID)
}

// Score returns the user's aggregate with stale weekly and monthly values
// zeroed. A user without awards has an empty aggregate.
func (s *Service) Score(ctx context.Context, userID string) (types.InfluenceScore, error) {
	score, err := s.repo.GetInfluenceScore(ctx, userID)
	if stderrors.Is(err, database.ErrNotFound) {
		return types.InfluenceScore{UserID: userID}, nil
	}
	if err != nil {
		return types.InfluenceScore{}, fmt.Errorf("failed to load influence score: %w", err)
	}

	at := s.now()
	if score.WeekStart != types.WeekStart(at).Format(types.DateLayout) {
		score.Weekly = 0
	}
	if score.MonthStart != types.MonthStart(at).Format(types.DateLayout) {
		score.Monthly = 0
	}
	return score, nil
}

// Total returns the user's points for window
func (s *Service) Total(ctx context.Context, userID string, window types.Window) (int, error) {
	score, err := s.Score(ctx, userID)
	if err != nil {
		return 0, err
	}
	return score.Points(window), nil
}

// Recompute rebuilds the user's aggregate from the ledger
func (s *Service) Recompute(ctx context.Context, userID string) (types.InfluenceScore, error) {
	score, err := s.repo.RebuildInfluenceScore(ctx, userID, s.now())
	if err != nil {
		return types.InfluenceScore{}, fmt.Errorf("failed to recompute influence for %s: %w", userID, err)
	}
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
	return score, nil
}

// RecomputeAll rebuilds every aggregate and returns how many were rebuilt
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.repo.LedgerUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := s.Recompute(ctx, id); err != nil {
			return i, err
		}
	}
	s.logger.SystemLogger("influence_recomputed", fmt.Sprintf("%d users", len(ids)))
	return len(ids), nil
}

// Entries returns the user's ledger, newest first
func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]types.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.LedgerEntries(ctx, userID, limit)
}

// Leaderboard ranks users for window. Results are cached until the next award.
func (s *Service) Leaderboard(ctx context.Context, window types.Window, limit int) (*Leaderboard, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	if s.cache != nil {
		if board, ok := s.cache.Get(window, limit); ok {
			if s.metrics != nil {
				s.metrics.IncrementCacheHit()
			}
			return board, nil
		}
		if s.metrics != nil {
			s.metrics.IncrementCacheMiss()
		}
	}

	at := s.now()
	scores, err := s.repo.TopInfluence(ctx, window, at, limit)
	if err != nil {
		return nil, err
	}

	board := &Leaderboard{
		Window:      window,
		Entries:     make([]LeaderboardEntry, 0, len(scores)),
		GeneratedAt: at,
	}
	switch window {
	case types.WindowWeekly:
		board.PeriodStart = types.WeekStart(at).Format(types.DateLayout)
	case types.WindowMonthly:
		board.PeriodStart = types.MonthStart(at).Format(types.DateLayout)
	}
	for i, score := range scores {
		board.Entries = append(board.Entries, LeaderboardEntry{
			Rank:   i + 1,
			UserID: score.UserID,
			Points: score.Points(window),
			Total:  score.Total,
		})
	}
	board.Total = len(board.Entries)

	if s.cache != nil {
		s.cache.Set(window, limit, board)
	}
	return board, nil
}

// GetCacheStats returns leaderboard cache statistics
func (s *Service) GetCacheStats() map[string]interface{} {
	if s.cache == nil {
		return map[string]interface{}{}
	}
	return s.cache.GetStats()
}
