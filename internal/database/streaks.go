package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

func scanStreak(row rowScanner, userID string) (types.UserStreak, error) {
	streak := types.UserStreak{UserID: userID}
	var last sql.NullString
	err := row.Scan(&streak.CurrentStreak, &streak.MaxStreak, &last, &streak.UpdatedAt)
	if err == sql.ErrNoRows {
		return streak, nil
	}
	if err != nil {
		return streak, fmt.Errorf("failed to scan streak: %w", err)
	}
	if last.Valid {
		day, err := time.Parse(types.DateLayout, last.String)
		if err != nil {
			return streak, fmt.Errorf("failed to parse last submission date: %w", err)
		}
		streak.LastSubmissionDate = &day
	}
	return streak, nil
}

const selectStreak = `SELECT current_streak, max_streak, last_submission_date, updated_at
	FROM user_streaks WHERE user_id = ?`

// GetStreak returns the user's streak; a user without one gets a zero streak
func (r *Repository) GetStreak(ctx context.Context, userID string) (types.UserStreak, error) {
	return scanStreak(r.db.QueryRowContext(ctx, selectStreak, userID), userID)
}

// UpdateStreak reads the user's streak, applies fn and stores the result in
// one transaction so concurrent submissions are serialized.
func (r *Repository) UpdateStreak(ctx context.Context, userID string, fn func(types.UserStreak) types.UserStreak) (before, after types.UserStreak, err error) {
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := scanStreak(tx.QueryRowContext(ctx, selectStreak, userID), userID)
		if err != nil {
			return err
		}
		before = current
		after = fn(current)
		after.UserID = userID
		after.UpdatedAt = now()

		var last sql.NullString
		if after.LastSubmissionDate != nil {
			last = nullString(after.LastSubmissionDate.Format(types.DateLayout))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_streaks (user_id, current_streak, max_streak, last_submission_date, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				current_streak = excluded.current_streak,
				max_streak = excluded.max_streak,
				last_submission_date = excluded.last_submission_date,
				updated_at = excluded.updated_at
		`, userID, after.CurrentStreak, after.MaxStreak, last, after.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to store streak: %w", err)
		}
		return nil
	})
	return before, after, err
}

// InsertBadge grants a badge and reports whether it was new. Granting a badge
// the user already holds is a no-op.
func (r *Repository) InsertBadge(ctx context.Context, userID string, badge types.BadgeType, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_badges (id, user_id, badge_type, awarded_at)
		VALUES (?, ?, ?, ?)
	`, newID(), userID, string(badge), at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert badge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read badge insert result: %w", err)
	}
	return n == 1, nil
}

// ListBadges returns a user's badges in award order
func (r *Repository) ListBadges(ctx context.Context, userID string) ([]types.Badge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, badge_type, awarded_at FROM user_badges
		WHERE user_id = ? ORDER BY awarded_at ASC, badge_type ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query badges: %w", err)
	}
	defer rows.Close()

	var badges []types.Badge
	for rows.Next() {
		var badge types.Badge
		var badgeType string
		if err := rows.Scan(&badge.UserID, &badgeType, &badge.AwardedAt); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badge.Type = types.BadgeType(badgeType)
		badges = append(badges, badge)
	}
	return badges, rows.Err()
}

// UpsertChallenge creates or replaces the challenge for challenge.Date
func (r *Repository) UpsertChallenge(ctx context.Context, challenge *types.DailyChallenge) error {
	if _, err := time.Parse(types.DateLayout, challenge.Date); err != nil {
		return fmt.Errorf("invalid challenge date %q: %w", challenge.Date, err)
	}
	challenge.CreatedAt = now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_challenges (challenge_date, keyword, theme, title, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(challenge_date) DO UPDATE SET
			keyword = excluded.keyword,
			theme = excluded.theme,
			title = excluded.title,
			description = excluded.description
	`, challenge.Date, challenge.Keyword, challenge.Theme, challenge.Title, challenge.Description, challenge.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert challenge: %w", err)
	}
	return nil
}

// GetChallenge returns the challenge for day, or ErrNotFound
func (r *Repository) GetChallenge(ctx context.Context, day time.Time) (*types.DailyChallenge, error) {
	var challenge types.DailyChallenge
	err := r.db.QueryRowContext(ctx, `
		SELECT challenge_date, keyword, theme, title, description, created_at
		FROM daily_challenges WHERE challenge_date = ?
	`, types.Day(day).Format(types.DateLayout)).Scan(&challenge.Date, &challenge.Keyword,
		&challenge.Theme, &challenge.Title, &challenge.Description, &challenge.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	return &challenge, nil
}
