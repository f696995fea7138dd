package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// InsertModule stores a new module at version 1 without an embedding
func (r *Repository) InsertModule(ctx context.Context, module *types.Module) error {
	if module.ID == "" {
		module.ID = newID()
	}
	module.Version = 1
	module.HasEmbedding = false
	module.CreatedAt = now()
	module.UpdatedAt = module.CreatedAt

	tags, err := encodeTags(module.Tags)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO modules (id, module_type, content, tags, created_by, quality_score,
			usage_count, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, module.ID, string(module.Type), module.Content, tags, module.CreatedBy,
		module.QualityScore, module.UsageCount, module.Version, module.CreatedAt, module.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert module: %w", err)
	}
	return nil
}

// UpdateModuleContent edits a module, bumping its version and clearing the
// embedding so it is recomputed.
func (r *Repository) UpdateModuleContent(ctx context.Context, id string, moduleType types.ModuleType, content string, tags []string) (*types.Module, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE modules SET module_type = ?, content = ?, tags = ?, embedding = NULL,
			version = version + 1, updated_at = ?
		WHERE id = ?
	`, string(moduleType), content, encoded, now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update module: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetModule(ctx, id)
}

// GetModule loads one module without its embedding vector
func (r *Repository) GetModule(ctx context.Context, id string) (*types.Module, error) {
	return scanModule(r.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// GetModules loads every module in ids that exists, keyed by id
func (r *Repository) GetModules(ctx context.Context, ids []string) (map[string]types.Module, error) {
	result := make(map[string]types.Module, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+moduleColumns+` FROM modules
		WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		result[module.ID] = *module
	}
	return result, rows.Err()
}

// ModuleEmbeddingBlobs returns the stored embedding bytes for ids that have one
func (r *Repository) ModuleEmbeddingBlobs(ctx context.Context, ids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := stringArgs(ids)
	rows, err := r.db.QueryContext(ctx, `SELECT id, embedding FROM modules
		WHERE embedding IS NOT NULL AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		result[id] = blob
	}
	return result, rows.Err()
}

// SetModuleEmbedding stores blob for module id
func (r *Repository) SetModuleEmbedding(ctx context.Context, id string, blob []byte) error {
	res, err := r.db.ExecContext(ctx, `UPDATE modules SET embedding = ?, updated_at = ? WHERE id = ?`,
		blob, now(), id)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ModulesMissingEmbedding lists modules whose embedding is NULL, oldest first
func (r *Repository) ModulesMissingEmbedding(ctx context.Context, limit int) ([]types.Module, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+moduleColumns+` FROM modules
		WHERE embedding IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules without embeddings: %w", err)
	}
	defer rows.Close()

	var modules []types.Module
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *module)
	}
	return modules, rows.Err()
}

// InsertCombination persists an evaluated module set with sorted ids
func (r *Repository) InsertCombination(ctx context.Context, combo *types.ModuleCombination) error {
	if combo.ID == "" {
		combo.ID = newID()
	}
	combo.CreatedAt = now()

	ids := append([]string(nil), combo.ModuleIDs...)
	sort.Strings(ids)
	encoded, err := encodeJSON(ids)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO module_combinations (id, module_ids, novelty_score, complementarity_score,
			marketability_score, overall_score, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, combo.ID, encoded, combo.Novelty, combo.Complementarity, combo.Marketability,
		combo.Overall, combo.CreatedBy, combo.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert combination: %w", err)
	}
	return nil
}

// CombinationHistory returns the module id sets of past combinations, newest
// first. A limit <= 0 returns all of them.
func (r *Repository) CombinationHistory(ctx context.Context, limit int) ([][]string, error) {
	query := `SELECT module_ids FROM module_combinations ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query combination history: %w", err)
	}
	defer rows.Close()

	var history [][]string
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan combination: %w", err)
		}
		var ids []string
		if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
			return nil, fmt.Errorf("failed to decode combination ids: %w", err)
		}
		history = append(history, ids)
	}
	return history, rows.Err()
}
