package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// AppendAward writes entry to the ledger and adds its points to the user's
// aggregate in one transaction, returning the aggregate after the write.
// The increment happens in SQL so concurrent awards never overwrite each other.
func (r *Repository) AppendAward(ctx context.Context, entry *types.LedgerEntry) (types.InfluenceScore, error) {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	weekStart := types.WeekStart(entry.CreatedAt).Format(types.DateLayout)
	monthStart := types.MonthStart(entry.CreatedAt).Format(types.DateLayout)

	insert, err := r.db.GetPreparedStatement(stmtInsertLedgerEntry)
	if err != nil {
		return types.InfluenceScore{}, err
	}
	upsert, err := r.db.GetPreparedStatement(stmtUpsertInfluenceScore)
	if err != nil {
		return types.InfluenceScore{}, err
	}
	get, err := r.db.GetPreparedStatement(stmtGetInfluenceScore)
	if err != nil {
		return types.InfluenceScore{}, err
	}

	var snapshot types.InfluenceScore
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.StmtContext(ctx, insert).ExecContext(ctx, entry.ID, entry.UserID, string(entry.Action),
			entry.Points, entry.Description, nullString(entry.ReferenceID), entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		_, err = tx.StmtContext(ctx, upsert).ExecContext(ctx, entry.UserID, entry.Points, entry.Points,
			entry.Points, weekStart, monthStart, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to increment influence score: %w", err)
		}

		snapshot, err = scanInfluenceScore(tx.StmtContext(ctx, get).QueryRowContext(ctx, entry.UserID))
		return err
	})
	return snapshot, err
}

// GetInfluenceScore returns the stored aggregate, or ErrNotFound
func (r *Repository) GetInfluenceScore(ctx context.Context, userID string) (types.InfluenceScore, error) {
	stmt, err := r.db.GetPreparedStatement(stmtGetInfluenceScore)
	if err != nil {
		return types.InfluenceScore{}, err
	}
	return scanInfluenceScore(stmt.QueryRowContext(ctx, userID))
}

// LedgerEntries returns a user's awards, newest first
func (r *Repository) LedgerEntries(ctx context.Context, userID string, limit int) ([]types.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action_type, points, description, reference_id, created_at
		FROM influence_score_entries WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []types.LedgerEntry
	for rows.Next() {
		var entry types.LedgerEntry
		var action string
		var ref sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UserID, &action, &entry.Points, &entry.Description,
			&ref, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.Action = types.ParseActionType(action)
		entry.ReferenceID = ref.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RebuildInfluenceScore replaces the user's aggregate with sums over the
// ledger, using the windows that contain at.
func (r *Repository) RebuildInfluenceScore(ctx context.Context, userID string, at time.Time) (types.InfluenceScore, error) {
	weekStart := types.WeekStart(at)
	monthStart := types.MonthStart(at)

	score := types.InfluenceScore{
		UserID:     userID,
		WeekStart:  weekStart.Format(types.DateLayout),
		MonthStart: monthStart.Format(types.DateLayout),
		UpdatedAt:  now(),
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT
				COALESCE(SUM(points), 0),
				COALESCE(SUM(CASE WHEN created_at >= ? THEN points ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN created_at >= ? THEN points ELSE 0 END), 0)
			FROM influence_score_entries WHERE user_id = ?
		`, weekStart, monthStart, userID).Scan(&score.Total, &score.Weekly, &score.Monthly)
		if err != nil {
			return fmt.Errorf("failed to sum ledger: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO influence_scores
				(user_id, total_score, weekly_score, monthly_score, week_start, month_start, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				total_score = excluded.total_score,
				weekly_score = excluded.weekly_score,
				monthly_score = excluded.monthly_score,
				week_start = excluded.week_start,
				month_start = excluded.month_start,
				updated_at = excluded.updated_at
		`, score.UserID, score.Total, score.Weekly, score.Monthly, score.WeekStart, score.MonthStart, score.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to store rebuilt influence score: %w", err)
		}
		return nil
	})
	return score, err
}

// LedgerUserIDs lists every user with at least one ledger entry
func (r *Repository) LedgerUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM influence_score_entries ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TopInfluence ranks users by window. Weekly and monthly values stored for an
// older window count as zero.
func (r *Repository) TopInfluence(ctx context.Context, window types.Window, at time.Time, limit int) ([]types.InfluenceScore, error) {
	weekStart := types.WeekStart(at).Format(types.DateLayout)
	monthStart := types.MonthStart(at).Format(types.DateLayout)

	order := "total_score"
	switch window {
	case types.WindowWeekly:
		order = "weekly"
	case types.WindowMonthly:
		order = "monthly"
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, total_score,
			CASE WHEN week_start = ? THEN weekly_score ELSE 0 END AS weekly,
			CASE WHEN month_start = ? THEN monthly_score ELSE 0 END AS monthly,
			week_start, month_start, updated_at
		FROM influence_scores
		ORDER BY `+order+` DESC, updated_at ASC, user_id ASC
		LIMIT ?
	`, weekStart, monthStart, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var scores []types.InfluenceScore
	for rows.Next() {
		score, err := scanInfluenceScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
