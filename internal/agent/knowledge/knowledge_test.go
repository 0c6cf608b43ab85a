package knowledge

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/internal/agent/repo"
	errx "github.com/banking-router-poc/server/internal/core/error"
)

func newTestStore(t *testing.T, cfg model.KnowledgeConfig) (*Store, *repo.RedisKnowledgeRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if cfg.Dir == "" {
		cfg.Dir = "testdata"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 10
	}
	r := repo.NewRedisKnowledgeRepository(rdb)
	store := NewStore(cfg, r, []Partition{
		{Name: "accounts", Files: []string{"bank.json"}},
		{Name: "loans", Files: []string{"loans.json"}},
	})
	t.Cleanup(func() { _ = store.Close() })
	return store, r
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	c, err := ReadCorpus("testdata", "accounts", []string{"bank.json"})
	require.NoError(t, err)
	docs, err := c.Documents()
	require.NoError(t, err)

	idx, err := NewIndex(context.Background(), docs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestMatchQuery(t *testing.T) {
	assert.Equal(t, `"current" OR "account" OR "balance"`, matchQuery("What is my current account balance?"))
	assert.Equal(t, `"cc" OR "4411" OR "statements"`, matchQuery("CC-4411 statements"))
	assert.Equal(t, `"acc1001"`, matchQuery("ACC1001 acc1001"))
	assert.Equal(t, `"drop" OR "table" OR "near"`, matchQuery(`"drop" * table) NEAR(`))
	assert.Empty(t, matchQuery("what is the"))
}

func TestCorpus_Documents(t *testing.T) {
	c, err := ReadCorpus("testdata", "accounts", []string{"bank.json", "loans.json"})
	require.NoError(t, err)

	docs, err := c.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 8)

	byID := make(map[string]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	first := byID["accounts/ACC1001"]
	assert.Equal(t, "ACC1001", first.EntityKey)
	assert.Equal(t, "u1", first.Owner)
	assert.Equal(t, "2500.75", first.Fields["current_balance"])
	assert.Equal(t, 2025, first.UpdatedAt.Year())

	dup, ok := byID["accounts/ACC1001#1"]
	require.True(t, ok, "duplicate entity keys get a numbered id")
	assert.Equal(t, "ACC1001", dup.EntityKey)

	loan := byID["loans/LN-9001"]
	assert.Equal(t, "loans", loan.Collection)
	assert.Equal(t, "u1", loan.Owner)
	assert.True(t, loan.UpdatedAt.IsZero())

	branch := byID["branches/BR-PUNE-01"]
	assert.Empty(t, branch.Owner)
}

func TestCorpus_ChecksumTracksContent(t *testing.T) {
	a, err := ReadCorpus("testdata", "accounts", []string{"bank.json"})
	require.NoError(t, err)
	b, err := ReadCorpus("testdata", "accounts", []string{"bank.json"})
	require.NoError(t, err)
	assert.Equal(t, a.Checksum(), b.Checksum())

	other, err := ReadCorpus("testdata", "cards", []string{"bank.json"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Checksum(), other.Checksum())
}

func TestEntityKey(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		rec        map[string]any
		want       string
	}{
		{"explicit id", "cards", map[string]any{"id": "X", "card_id": "Y"}, "X"},
		{"singular id", "cards", map[string]any{"customer_id": "u1", "card_id": "CC-1"}, "CC-1"},
		{"last word id", "card_statements", map[string]any{"card_id": "CC-1", "statement_id": "ST-1"}, "ST-1"},
		{"plural ies", "insurance_policies", map[string]any{"policy_id": "P-1", "customer_id": "u1"}, "P-1"},
		{"owner last", "kyc", map[string]any{"customer_id": "u1"}, "u1"},
		{"numeric id", "branches", map[string]any{"branch_id": float64(42)}, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entityKey(tt.collection, tt.rec))
		})
	}
}

func TestIndex_ScoresAreNormalized(t *testing.T) {
	idx := newTestIndex(t)
	assert.Equal(t, 7, idx.Len())

	hits, err := idx.Search(context.Background(), "current balance", 10, filter{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, "accounts", h.Collection)
		assert.Greater(t, h.Score, 0.0)
		assert.Less(t, h.Score, 1.0)
	}
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	hits, err = idx.Search(context.Background(), "mortgage refinancing", 10, filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_StemsTerms(t *testing.T) {
	idx := newTestIndex(t)

	hits, err := idx.Search(context.Background(), "balances", 10, filter{})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestIndex_Filter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	hits, err := idx.Search(ctx, "ACC1001 branch Pune", 10, filter{owner: "u2"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "branches", h.Collection, "u1 accounts are hidden from u2")
	}

	hits, err = idx.Search(ctx, "credit balance", 10, filter{collections: []string{"cards"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "CC-4411", hits[0].EntityKey)
}

func TestNormalizeScore(t *testing.T) {
	assert.Zero(t, normalizeScore(0))
	assert.Zero(t, normalizeScore(0.5))
	assert.InDelta(t, 0.5, normalizeScore(-1), 1e-9)
	assert.InDelta(t, 0.75, normalizeScore(-3), 1e-9)
	assert.Less(t, normalizeScore(-1000), 1.0)
}

func TestStore_SearchBeforeRebuildIsUnavailable(t *testing.T) {
	store, _ := newTestStore(t, model.KnowledgeConfig{})

	_, err := store.Search(context.Background(), "accounts", model.SearchRequest{Text: "balance"})
	require.Error(t, err)
	assert.Equal(t, errx.KindRetrievalUnavailable, errx.KindOf(err))
}

func TestStore_RebuildPersistsAndReuses(t *testing.T) {
	ctx := context.Background()
	store, r := newTestStore(t, model.KnowledgeConfig{})
	require.NoError(t, store.Rebuild(ctx))
	assert.Equal(t, []string{"accounts", "loans"}, store.Partitions())

	meta, err := r.Meta(ctx, "accounts")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 7, meta.Count)
	built := meta.BuiltAt

	// unchanged corpus: documents come back from redis, meta is untouched
	require.NoError(t, store.Rebuild(ctx))
	meta, err = r.Meta(ctx, "accounts")
	require.NoError(t, err)
	assert.True(t, built.Equal(meta.BuiltAt))

	hits, err := store.Search(ctx, "accounts", model.SearchRequest{Text: "ACC1001 balance"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "ACC1001", hits[0].EntityKey)
}

func TestStore_ForcedRebuildReingests(t *testing.T) {
	ctx := context.Background()
	store, r := newTestStore(t, model.KnowledgeConfig{Rebuild: true})
	require.NoError(t, store.Rebuild(ctx))
	first, err := r.Meta(ctx, "loans")
	require.NoError(t, err)

	require.NoError(t, store.Rebuild(ctx))
	second, err := r.Meta(ctx, "loans")
	require.NoError(t, err)
	assert.False(t, second.BuiltAt.Before(first.BuiltAt))
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestStore_SearchFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("collections", func(t *testing.T) {
		store, _ := newTestStore(t, model.KnowledgeConfig{})
		require.NoError(t, store.Rebuild(ctx))

		hits, err := store.Search(ctx, "accounts", model.SearchRequest{Text: "credit balance", Collections: []string{"accounts"}})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		for _, h := range hits {
			assert.Equal(t, "accounts", h.Collection)
		}
	})

	t.Run("owner scoping", func(t *testing.T) {
		store, _ := newTestStore(t, model.KnowledgeConfig{ScopeToUser: true})
		require.NoError(t, store.Rebuild(ctx))

		hits, err := store.Search(ctx, "accounts", model.SearchRequest{Text: "current balance", Owner: "u1"})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		for _, h := range hits {
			assert.NotEqual(t, "ACC2001", h.EntityKey)
		}

		hits, err = store.Search(ctx, "accounts", model.SearchRequest{Text: "Pune branch", Owner: "u1"})
		require.NoError(t, err)
		require.NotEmpty(t, hits, "documents without an owner stay visible")
		assert.Equal(t, "BR-PUNE-01", hits[0].EntityKey)
	})

	t.Run("owner ignored when scoping is off", func(t *testing.T) {
		store, _ := newTestStore(t, model.KnowledgeConfig{})
		require.NoError(t, store.Rebuild(ctx))

		hits, err := store.Search(ctx, "accounts", model.SearchRequest{Text: "ACC2001", Owner: "u1"})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "ACC2001", hits[0].EntityKey)
	})

	t.Run("top k", func(t *testing.T) {
		store, _ := newTestStore(t, model.KnowledgeConfig{})
		require.NoError(t, store.Rebuild(ctx))

		hits, err := store.Search(ctx, "accounts", model.SearchRequest{Text: "account balance currency", TopK: 1})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestStore_SearchHonoursCancelledContext(t *testing.T) {
	store, _ := newTestStore(t, model.KnowledgeConfig{})
	require.NoError(t, store.Rebuild(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Search(ctx, "accounts", model.SearchRequest{Text: "balance"})
	require.Error(t, err)
	assert.True(t, errx.IsRetryable(err))
}
