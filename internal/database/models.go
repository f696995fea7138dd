package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

const ideaColumns = `id, author_id, text, score, status, tags, language, analysis,
	remix_parent_id, remix_chain_depth, remix_count, is_seed, created_at, updated_at`

const moduleColumns = `id, module_type, content, tags, created_by, quality_score,
	usage_count, embedding IS NOT NULL, version, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func newID() string {
	return uuid.New().String()
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(data), nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	return encodeJSON(tags)
}

func scanIdea(row rowScanner) (*types.Idea, error) {
	var (
		idea     types.Idea
		score    sql.NullFloat64
		parentID sql.NullString
		tags     string
		analysis string
		status   string
	)

	err := row.Scan(&idea.ID, &idea.AuthorID, &idea.Text, &score, &status, &tags,
		&idea.Language, &analysis, &parentID, &idea.RemixChainDepth, &idea.RemixCount,
		&idea.IsSeed, &idea.CreatedAt, &idea.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan idea: %w", err)
	}

	idea.Status = types.IdeaStatus(status)
	if score.Valid {
		s := score.Float64
		idea.Score = &s
	}
	if parentID.Valid {
		p := parentID.String
		idea.RemixParentID = &p
	}
	if err := json.Unmarshal([]byte(tags), &idea.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode idea tags: %w", err)
	}
	if err := json.Unmarshal([]byte(analysis), &idea.Analysis); err != nil {
		return nil, fmt.Errorf("failed to decode idea analysis: %w", err)
	}

	return &idea, nil
}

func scanModule(row rowScanner) (*types.Module, error) {
	var (
		module     types.Module
		moduleType string
		tags       string
	)

	err := row.Scan(&module.ID, &moduleType, &module.Content, &tags, &module.CreatedBy,
		&module.QualityScore, &module.UsageCount, &module.HasEmbedding, &module.Version,
		&module.CreatedAt, &module.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan module: %w", err)
	}

	module.Type = types.ParseModuleType(moduleType)
	if err := json.Unmarshal([]byte(tags), &module.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode module tags: %w", err)
	}
	return &module, nil
}

func scanInfluenceScore(row rowScanner) (types.InfluenceScore, error) {
	var score types.InfluenceScore
	err := row.Scan(&score.UserID, &score.Total, &score.Weekly, &score.Monthly,
		&score.WeekStart, &score.MonthStart, &score.UpdatedAt)
	if err == sql.ErrNoRows {
		return score, ErrNotFound
	}
	if err != nil {
		return score, fmt.Errorf("failed to scan influence score: %w", err)
	}
	return score, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func now() time.Time {
	return time.Now().UTC()
}
