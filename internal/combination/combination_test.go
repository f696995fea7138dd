package combination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/embeddings"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

func module(id string, moduleType types.ModuleType, quality float64, usage int, vec ...float32) types.Module {
	return types.Module{ID: id, Type: moduleType, QualityScore: quality, UsageCount: usage, Embedding: vec}
}

func TestEvaluate_FirstCombinationHasMaxNovelty(t *testing.T) {
	modules := []types.Module{
		module("a", types.ModuleProblem, 10, 0),
		module("b", types.ModuleSolution, 90, 3),
	}
	scores, err := Evaluate(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, scores.Novelty)
}

func TestEvaluate_OrderInsensitive(t *testing.T) {
	a := module("a", types.ModuleProblem, 35, 2, 0.3, 0.1, 0.9)
	b := module("b", types.ModuleRevenueModel, 72, 9, 0.8, 0.4, 0.2)
	c := module("c", types.ModuleTeam, 51, 4, 0.1, 0.7, 0.5)
	history := [][]string{{"a", "x"}, {"b", "c", "y"}}

	forward, err := Evaluate([]types.Module{a, b, c}, history)
	require.NoError(t, err)
	backward, err := Evaluate([]types.Module{c, b, a}, history)
	require.NoError(t, err)
	shuffled, err := Evaluate([]types.Module{b, a, c}, history)
	require.NoError(t, err)

	assert.Equal(t, forward, backward)
	assert.Equal(t, forward, shuffled)
}

func TestEvaluate_IdenticalEmbeddingsHaveNoSemanticTerm(t *testing.T) {
	modules := []types.Module{
		module("a", types.ModuleProblem, 80, 5, 1, 2, 3),
		module("b", types.ModuleSolution, 80, 5, 1, 2, 3),
		module("c", types.ModuleTargetCustomer, 80, 5, 1, 2, 3),
	}

	scores, err := Evaluate(modules, nil)
	require.NoError(t, err)
	assert.True(t, scores.SemanticScored)

	// diversity 3/5, quality 0.8, semantic 0
	assert.InDelta(t, 5*(0.4*0.6+0.2*0.8), scores.Complementarity, 1e-9)
	// usage 0.5, quality 0.8, sweet spot bonus
	assert.InDelta(t, 4.25, scores.Marketability, 1e-9)
	assert.InDelta(t, 0.3*5+0.4*2.0+0.3*4.25, scores.Overall, 0.01)
}

func TestEvaluate_SemanticTerm(t *testing.T) {
	tests := []struct {
		name     string
		modules  []types.Module
		want     float64
		semantic bool
	}{
		{
			name: "orthogonal embeddings",
			modules: []types.Module{
				module("a", types.ModuleProblem, 0, 0, 1, 0),
				module("b", types.ModuleSolution, 0, 0, 0, 1),
			},
			// diversity 2/5, semantic 1
			want:     5 * (0.4*0.4 + 0.4*1),
			semantic: true,
		},
		{
			name: "missing embedding",
			modules: []types.Module{
				module("a", types.ModuleProblem, 0, 0, 1, 0),
				module("b", types.ModuleSolution, 0, 0),
			},
			want: 5 * (0.4 * 0.4),
		},
		{
			name: "dimension mismatch",
			modules: []types.Module{
				module("a", types.ModuleProblem, 0, 0, 1, 0),
				module("b", types.ModuleSolution, 0, 0, 1, 0, 0),
			},
			want: 5 * (0.4 * 0.4),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores, err := Evaluate(tt.modules, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.semantic, scores.SemanticScored)
			assert.InDelta(t, tt.want, scores.Complementarity, 1e-9)
		})
	}
}

func TestEvaluate_MarketabilityClamped(t *testing.T) {
	modules := []types.Module{
		module("a", types.ModuleProblem, 100, 50),
		module("b", types.ModuleSolution, 100, 50),
		module("c", types.ModuleChannels, 100, 50),
	}
	scores, err := Evaluate(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, scores.Marketability)
}

func TestEvaluate_NoSweetSpotForPairs(t *testing.T) {
	modules := []types.Module{
		module("a", types.ModuleProblem, 100, 10),
		module("b", types.ModuleSolution, 100, 10),
	}
	scores, err := Evaluate(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, scores.Marketability)

	modules[0].UsageCount, modules[1].UsageCount = 0, 0
	scores, err = Evaluate(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.5, scores.Marketability)
}

func TestEvaluate_UnknownTypesCountOnce(t *testing.T) {
	modules := []types.Module{
		module("a", types.ModuleProblem, 0, 0),
		module("b", types.ModuleType("pricing_experiment"), 0, 0),
		module("c", types.ModuleType("quantum"), 0, 0),
	}
	scores, err := Evaluate(modules, nil)
	require.NoError(t, err)
	// two distinct types: problem and unknown
	assert.InDelta(t, 5*0.4*0.4, scores.Complementarity, 1e-9)
}

func TestEvaluate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		modules []types.Module
	}{
		{name: "empty"},
		{name: "single", modules: []types.Module{module("a", types.ModuleProblem, 0, 0)}},
		{name: "duplicate ids", modules: []types.Module{
			module("a", types.ModuleProblem, 0, 0),
			module("a", types.ModuleProblem, 0, 0),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.modules, nil)
			assert.True(t, errors.Is(err, errors.CategoryValidation))
		})
	}
}

func TestNovelty(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		history [][]string
		want    float64
	}{
		{name: "no history", ids: []string{"a", "b"}, want: 5},
		{name: "disjoint history", ids: []string{"a", "b"}, history: [][]string{{"c", "d"}}, want: 5},
		{name: "exact repeat floors at one", ids: []string{"a", "b"}, history: [][]string{{"b", "a"}}, want: 1},
		{name: "partial overlap", ids: []string{"a", "b"}, history: [][]string{{"a", "c"}, {"a", "b", "c"}}, want: 5 - 4*(2.0/3.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Novelty(tt.ids, tt.history), 1e-9)
		})
	}
}

func newTestService(t *testing.T) (*Service, *database.Repository, *embeddings.SQLStore) {
	t.Helper()
	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := database.NewRepository(db)
	store := embeddings.NewSQLStore(repo, 2)
	return NewService(repo, store, 0), repo, store
}

func insertModule(t *testing.T, repo *database.Repository, moduleType types.ModuleType, quality float64) string {
	t.Helper()
	m := &types.Module{Type: moduleType, Content: string(moduleType), QualityScore: quality, CreatedBy: "u1"}
	require.NoError(t, repo.InsertModule(context.Background(), m))
	return m.ID
}

func TestService_EvaluateCombination(t *testing.T) {
	svc, repo, store := newTestService(t)
	ctx := context.Background()

	a := insertModule(t, repo, types.ModuleProblem, 60)
	b := insertModule(t, repo, types.ModuleSolution, 60)
	require.NoError(t, store.SaveEmbedding(ctx, a, []float32{1, 0}))
	require.NoError(t, store.SaveEmbedding(ctx, b, []float32{0, 1}))

	first, err := svc.EvaluateCombination(ctx, []string{b, a})
	require.NoError(t, err)
	assert.Empty(t, first.ID, "evaluation stores nothing")
	assert.Equal(t, 5.0, first.Novelty)
	// diversity 0.4, semantic 1, quality 0.6
	assert.InDelta(t, 5*(0.16+0.4+0.12), first.Complementarity, 0.005)

	again, err := svc.EvaluateCombination(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, first, again, "repeated evaluation is order independent and idempotent")

	history, err := repo.CombinationHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	saved, err := svc.SaveCombination(ctx, []string{a, b}, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "u1", saved.CreatedBy)
	assert.Equal(t, 5.0, saved.Novelty)

	after, err := svc.EvaluateCombination(ctx, []string{b, a})
	require.NoError(t, err)
	assert.Equal(t, 1.0, after.Novelty)
	assert.Equal(t, first.Complementarity, after.Complementarity)
	assert.Equal(t, first.Marketability, after.Marketability)

	history, err = repo.CombinationHistory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestService_EvaluateCombination_Validation(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	a := insertModule(t, repo, types.ModuleProblem, 50)

	tests := []struct {
		name string
		ids  []string
	}{
		{name: "one id", ids: []string{a}},
		{name: "same id twice", ids: []string{a, a}},
		{name: "unknown id", ids: []string{a, "missing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combo, err := svc.EvaluateCombination(ctx, tt.ids)
			assert.Nil(t, combo)
			assert.True(t, errors.Is(err, errors.CategoryValidation))

			saved, err := svc.SaveCombination(ctx, tt.ids, "u1")
			assert.Nil(t, saved)
			assert.True(t, errors.Is(err, errors.CategoryValidation))
		})
	}

	history, err := repo.CombinationHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestService_EvaluateCombination_WithoutEmbeddings(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	a := insertModule(t, repo, types.ModuleProblem, 0)
	b := insertModule(t, repo, types.ModuleProblem, 0)

	combo, err := svc.EvaluateCombination(ctx, []string{a, b})
	require.NoError(t, err)
	// one type, no semantic term, no quality
	assert.InDelta(t, 5*0.4*0.2, combo.Complementarity, 1e-9)
}
