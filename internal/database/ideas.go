package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

func insertIdea(ctx context.Context, exec execer, idea *types.Idea) error {
	tags, err := encodeTags(idea.Tags)
	if err != nil {
		return err
	}
	analysis, err := encodeJSON(idea.Analysis)
	if err != nil {
		return err
	}

	var score sql.NullFloat64
	if idea.Score != nil {
		score = sql.NullFloat64{Float64: *idea.Score, Valid: true}
	}
	var parent sql.NullString
	if idea.RemixParentID != nil {
		parent = nullString(*idea.RemixParentID)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO ideas (`+ideaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, idea.ID, idea.AuthorID, idea.Text, score, string(idea.Status), tags, idea.Language,
		analysis, parent, idea.RemixChainDepth, idea.RemixCount, idea.IsSeed,
		idea.CreatedAt, idea.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert idea: %w", err)
	}
	return nil
}

func prepareIdea(idea *types.Idea) {
	if idea.ID == "" {
		idea.ID = newID()
	}
	if idea.Status == "" {
		idea.Status = types.StatusUnscored
	}
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = now()
	}
	idea.CreatedAt = idea.CreatedAt.UTC()
	idea.UpdatedAt = idea.CreatedAt
}

// InsertIdea stores a root idea
func (r *Repository) InsertIdea(ctx context.Context, idea *types.Idea) error {
	prepareIdea(idea)
	return insertIdea(ctx, r.db, idea)
}

// InsertRemix stores idea as a child of *idea.RemixParentID. The depth is
// taken from the parent row and the parent's remix_count is incremented in
// the same transaction. A missing parent yields ErrNotFound.
func (r *Repository) InsertRemix(ctx context.Context, idea *types.Idea) error {
	if idea.RemixParentID == nil || *idea.RemixParentID == "" {
		return fmt.Errorf("remix without parent: %w", ErrNotFound)
	}
	prepareIdea(idea)

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var parentDepth int
		err := tx.QueryRowContext(ctx, `SELECT remix_chain_depth FROM ideas WHERE id = ?`,
			*idea.RemixParentID).Scan(&parentDepth)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load remix parent: %w", err)
		}
		idea.RemixChainDepth = parentDepth + 1

		if err := insertIdea(ctx, tx, idea); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE ideas SET remix_count = remix_count + 1, updated_at = ? WHERE id = ?
		`, now(), *idea.RemixParentID)
		if err != nil {
			return fmt.Errorf("failed to increment remix count: %w", err)
		}
		return nil
	})
}

// GetIdea loads one idea
func (r *Repository) GetIdea(ctx context.Context, id string) (*types.Idea, error) {
	stmt, err := r.db.GetPreparedStatement(stmtGetIdea)
	if err != nil {
		return nil, err
	}
	return scanIdea(stmt.QueryRowContext(ctx, id))
}

func (r *Repository) queryIdeas(ctx context.Context, query string, args ...interface{}) ([]types.Idea, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ideas: %w", err)
	}
	defer rows.Close()

	var ideas []types.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, *idea)
	}
	return ideas, rows.Err()
}

// ListChildren returns the direct remixes of parentID, oldest first
func (r *Repository) ListChildren(ctx context.Context, parentID string) ([]types.Idea, error) {
	return r.queryIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas
		WHERE remix_parent_id = ? ORDER BY created_at ASC`, parentID)
}

// IdeasByAuthorBetween returns the author's ideas created in [from, to)
func (r *Repository) IdeasByAuthorBetween(ctx context.Context, authorID string, from, to time.Time) ([]types.Idea, error) {
	return r.queryIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas
		WHERE author_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`, authorID, from.UTC(), to.UTC())
}

// UpdateIdeaScore attaches a score and status to an idea
func (r *Repository) UpdateIdeaScore(ctx context.Context, id string, score float64, status types.IdeaStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ideas SET score = ?, status = ?, updated_at = ? WHERE id = ?
	`, score, string(status), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update idea score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListZeroScoreIdeas returns non-seed ideas whose score is NULL or 0, oldest
// first. A limit <= 0 returns all of them.
func (r *Repository) ListZeroScoreIdeas(ctx context.Context, limit int) ([]types.Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas
		WHERE (score IS NULL OR score = 0) AND is_seed = FALSE
		ORDER BY created_at ASC`
	if limit > 0 {
		return r.queryIdeas(ctx, query+` LIMIT ?`, limit)
	}
	return r.queryIdeas(ctx, query)
}
