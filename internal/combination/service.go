package combination

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/embeddings"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Repository is the persistence needed by Service
type Repository interface {
	GetModules(ctx context.Context, ids []string) (map[string]types.Module, error)
	CombinationHistory(ctx context.Context, limit int) ([][]string, error)
	InsertCombination(ctx context.Context, combo *types.ModuleCombination) error
}

// Service resolves modules, evaluates them and records chosen combinations
type Service struct {
	repo         Repository
	vectors      embeddings.Store
	historyLimit int
}

// NewService creates a service. historyLimit <= 0 compares against every
// past combination.
func NewService(repo Repository, vectors embeddings.Store, historyLimit int) *Service {
	return &Service{repo: repo, vectors: vectors, historyLimit: historyLimit}
}

// EvaluateCombination scores the modules named by ids against past saved
// combinations without recording anything, so repeated evaluations of the
// same set agree. Resolution is all-or-nothing: any unknown id rejects the
// request.
func (s *Service) EvaluateCombination(ctx context.Context, ids []string) (*types.ModuleCombination, error) {
	ids = uniqueIDs(ids)
	if len(ids) < 2 {
		return nil, errors.NewValidationError("a combination needs at least two distinct modules")
	}

	found, err := s.repo.GetModules(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewValidationErrorWithMap(map[string]string{"module_ids": "unknown: " + strings.Join(missing, ",")})
	}

	modules := make([]types.Module, 0, len(ids))
	for _, id := range ids {
		modules = append(modules, found[id])
	}
	s.attachEmbeddings(ctx, modules)

	history, err := s.repo.CombinationHistory(ctx, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load combination history: %w", err)
	}

	scores, err := Evaluate(modules, history)
	if err != nil {
		return nil, err
	}
	if !scores.SemanticScored {
		slog.Debug("Combination scored without semantic term", "modules", ids)
	}

	return &types.ModuleCombination{
		ModuleIDs:       ids,
		Novelty:         scores.Novelty,
		Complementarity: scores.Complementarity,
		Marketability:   scores.Marketability,
		Overall:         scores.Overall,
	}, nil
}

// SaveCombination evaluates ids and records the result as a chosen
// combination. Later evaluations score their novelty against it.
func (s *Service) SaveCombination(ctx context.Context, ids []string, createdBy string) (*types.ModuleCombination, error) {
	combo, err := s.EvaluateCombination(ctx, ids)
	if err != nil {
		return nil, err
	}
	combo.CreatedBy = createdBy
	if err := s.repo.InsertCombination(ctx, combo); err != nil {
		return nil, fmt.Errorf("failed to save combination: %w", err)
	}
	return combo, nil
}

// attachEmbeddings fills in vectors from the store. A store failure leaves
// them empty so the semantic term degrades to zero.
func (s *Service) attachEmbeddings(ctx context.Context, modules []types.Module) {
	if s.vectors == nil {
		return
	}
	ids := make([]string, len(modules))
	for i, m := range modules {
		ids[i] = m.ID
	}
	vecs, err := s.vectors.Embeddings(ctx, ids)
	if err != nil {
		slog.Warn("Failed to load module embeddings", "error", err)
		return
	}
	for i := range modules {
		modules[i].Embedding = vecs[modules[i].ID]
		modules[i].HasEmbedding = modules[i].Embedding != nil
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
