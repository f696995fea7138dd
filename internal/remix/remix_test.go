package remix

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/monitoring"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type grant struct {
	user   string
	action types.ActionType
}

type fakeAwarder struct {
	mu     sync.Mutex
	got    []grant
	failOn map[types.ActionType]bool
}

func (f *fakeAwarder) AwardAction(ctx context.Context, userID string, action types.ActionType, count int, referenceID string) (types.InfluenceScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[action] {
		return types.InfluenceScore{}, fmt.Errorf("ledger unavailable")
	}
	f.got = append(f.got, grant{userID, action})
	return types.InfluenceScore{UserID: userID}, nil
}

func (f *fakeAwarder) has(user string, action types.ActionType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.got {
		if a.user == user && a.action == action {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, u float64) (*Service, *database.Repository, *fakeAwarder) {
	t.Helper()
	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(db)
	awarder := &fakeAwarder{failOn: map[types.ActionType]bool{}}
	return NewService(repo, awarder, nil, monitoring.NewMetrics(), fixedRand(u)), repo, awarder
}

func seedIdea(t *testing.T, repo *database.Repository, author string, score float64) *types.Idea {
	t.Helper()
	idea := &types.Idea{AuthorID: author, Text: "original idea", Score: &score, Status: types.StatusScored}
	require.NoError(t, repo.InsertIdea(context.Background(), idea))
	return idea
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		parent float64
		u      float64
		want   float64
	}{
		{"lowest boost", 5.0, 0, 5.1},
		{"highest boost", 5.0, 0.999999, 5.7},
		{"floored not rounded", 6.0, 0.5, 6.4},
		{"unscored parent lifted to floor", 0, 0, analysis.MinScore},
		{"capped at ten", 9.8, 0.9, 10},
		{"already ten", 10, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.parent, tt.u)
			assert.InDelta(t, tt.want, got, 0.001)
			assert.GreaterOrEqual(t, got, tt.parent)
		})
	}
}

func TestCreateRemix(t *testing.T) {
	svc, repo, awarder := newTestService(t, 0.5)
	ctx := context.Background()
	parent := seedIdea(t, repo, "alice", 6.0)

	res, err := svc.CreateRemix(ctx, parent.ID, "  original idea, but  for pets ", *parent.Score, "bob")
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	child := res.Idea
	assert.Equal(t, "original idea, but for pets", child.Text)
	assert.InDelta(t, 6.4, *child.Score, 0.001)
	assert.Equal(t, 1, child.RemixChainDepth)
	assert.Contains(t, child.Tags, types.TagRemix)
	require.NotNil(t, child.RemixParentID)
	assert.Equal(t, parent.ID, *child.RemixParentID)

	stored, err := repo.GetIdea(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RemixCount)

	assert.True(t, awarder.has("bob", types.ActionRemixCreated))
	assert.True(t, awarder.has("alice", types.ActionIdeaRemixedBonus))
	assert.False(t, awarder.has("alice", types.ActionFriendRemix))
}

func TestCreateRemix_NearTopScoreStaysInBand(t *testing.T) {
	svc, repo, _ := newTestService(t, 0.99)
	parent := seedIdea(t, repo, "alice", 9.8)

	res, err := svc.CreateRemix(context.Background(), parent.ID, "better", 9.8, "bob")
	require.NoError(t, err)
	assert.LessOrEqual(t, *res.Idea.Score, 10.0)
	assert.GreaterOrEqual(t, *res.Idea.Score, 9.8)
}

func TestCreateRemix_UnscoredParent(t *testing.T) {
	svc, repo, _ := newTestService(t, 0)
	ctx := context.Background()
	parent := &types.Idea{AuthorID: "alice", Text: "original idea", Status: types.StatusUnscored}
	require.NoError(t, repo.InsertIdea(ctx, parent))

	res, err := svc.CreateRemix(ctx, parent.ID, "remix of it", 0, "bob")
	require.NoError(t, err)
	require.NotNil(t, res.Idea.Score)
	assert.Greater(t, *res.Idea.Score, analysis.GuaranteedMinimum)
	assert.LessOrEqual(t, *res.Idea.Score, analysis.MaxScore)

	zero, err := repo.ListZeroScoreIdeas(ctx, 0)
	require.NoError(t, err)
	require.Len(t, zero, 1, "the remix is not a repair candidate")
	assert.Equal(t, parent.ID, zero[0].ID)
}

func TestCreateRemix_AwardFailuresAreWarnings(t *testing.T) {
	svc, repo, awarder := newTestService(t, 0.2)
	ctx := context.Background()
	awarder.failOn[types.ActionIdeaRemixedBonus] = true
	parent := seedIdea(t, repo, "alice", 5.0)

	res, err := svc.CreateRemix(ctx, parent.ID, "remixed", 5.0, "bob")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "award original author")

	assert.True(t, awarder.has("bob", types.ActionRemixCreated), "the other award still lands")
	_, err = repo.GetIdea(ctx, res.Idea.ID)
	require.NoError(t, err, "remix is not rolled back")
}

func TestCreateRemix_FriendAward(t *testing.T) {
	svc, repo, awarder := newTestService(t, 0.2)
	ctx := context.Background()

	_, err := repo.GetOrCreateUser(ctx, "alice", "Alice", "", "", "")
	require.NoError(t, err)
	_, err = repo.GetOrCreateUser(ctx, "bob", "Bob", "", "", "")
	require.NoError(t, err)
	inv, err := repo.CreateInvitation(ctx, "alice")
	require.NoError(t, err)
	_, err = repo.AcceptInvitation(ctx, inv.Code, "bob")
	require.NoError(t, err)

	parent := seedIdea(t, repo, "alice", 5.0)
	_, err = svc.CreateRemix(ctx, parent.ID, "remixed", 5.0, "bob")
	require.NoError(t, err)
	assert.True(t, awarder.has("alice", types.ActionFriendRemix))
}

func TestCreateRemix_Validation(t *testing.T) {
	svc, repo, awarder := newTestService(t, 0.2)
	parent := seedIdea(t, repo, "alice", 5.0)

	tests := []struct {
		name     string
		parentID string
		text     string
		score    float64
		author   string
	}{
		{"unknown parent", "missing", "text", 5, "bob"},
		{"empty text", parent.ID, " \n ", 5, "bob"},
		{"no author", parent.ID, "text", 5, ""},
		{"score out of range", parent.ID, "text", 11, "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRemix(context.Background(), tt.parentID, tt.text, tt.score, tt.author)
			assert.True(t, errors.Is(err, errors.CategoryValidation))
		})
	}
	assert.Empty(t, awarder.got, "no awards without a stored remix")
}

func TestLineageAndChildren(t *testing.T) {
	svc, repo, _ := newTestService(t, 0.1)
	ctx := context.Background()
	root := seedIdea(t, repo, "alice", 5.0)

	first, err := svc.CreateRemix(ctx, root.ID, "first", 5.0, "bob")
	require.NoError(t, err)
	second, err := svc.CreateRemix(ctx, first.Idea.ID, "second", *first.Idea.Score, "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Idea.RemixChainDepth)

	lineage, err := svc.Lineage(ctx, second.Idea.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, first.Idea.ID, lineage[0].ID)
	assert.Equal(t, root.ID, lineage[1].ID)

	rootLineage, err := svc.Lineage(ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, rootLineage)

	children, err := svc.Children(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, first.Idea.ID, children[0].ID)

	_, err = svc.Lineage(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CategoryNotFound))
}
