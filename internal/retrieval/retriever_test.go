package retrieval

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/storage/sqlite"
	"github.com/scrypster/mneme/pkg/types"
)

func TestRecencyScore(t *testing.T) {
	now := time.Now().UTC()

	if got := recencyScore(nil, now, 720); got != 0.3 {
		t.Errorf("never accessed: got %v, want 0.3", got)
	}

	fresh := now
	if got := recencyScore(&fresh, now, 720); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("accessed now: got %v, want 1.0", got)
	}

	halfLife := now.Add(-720 * time.Hour)
	if got := recencyScore(&halfLife, now, 720); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("one half-life ago: got %v, want 0.5", got)
	}

	future := now.Add(time.Hour)
	if got := recencyScore(&future, now, 720); got != 1.0 {
		t.Errorf("clock skew: got %v, want clamped 1.0", got)
	}
}

func TestFTSRelevance(t *testing.T) {
	if got := ftsRelevance(-5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("rank -5: got %v, want 0.5", got)
	}
	if got := ftsRelevance(-50); got != 1.0 {
		t.Errorf("rank -50: got %v, want capped 1.0", got)
	}
	if got := ftsRelevance(0); got != 0 {
		t.Errorf("rank 0: got %v, want 0", got)
	}
}

func TestCombinedScoreWeights(t *testing.T) {
	now := time.Now().UTC()
	node := &types.KnowledgeNode{Importance: 1.0, LastAccessedAt: &now}

	// recency=1, relevance=1, importance=1 -> 0.3 + 0.5 + 0.2 = 1.0
	if got := combinedScore(node, 1.0, now, 720); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("all-ones score = %v, want 1.0", got)
	}

	cold := &types.KnowledgeNode{Importance: 0}
	// recency=0.3 (never accessed), relevance=0, importance=0 -> 0.09
	if got := combinedScore(cold, 0, now, 720); math.Abs(got-0.09) > 1e-9 {
		t.Errorf("cold score = %v, want 0.09", got)
	}
}

func newTestRetriever(t *testing.T) (*Retriever, *sqlite.Store, *embedding.Service) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewService(config.EmbeddingConfig{Provider: "hash", Dimension: 64, CacheSize: 16})
	cfg := config.RetrievalConfig{TopK: 5, VectorWeight: 0.5, FTSWeight: 0.3, GraphWeight: 0.2, GraphSeeds: 3}
	return New(store, embedder, cfg, 720), store, embedder
}

func putEmbedded(t *testing.T, store *sqlite.Store, embedder *embedding.Service, id, content string, importance float64) {
	t.Helper()
	vec, err := embedder.EncodeSingle(context.Background(), content)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	node := &types.KnowledgeNode{
		NodeID:     id,
		EntityID:   "viewer_1",
		NodeType:   string(types.MemoryTypeAtomicFact),
		Content:    content,
		Importance: importance,
		Embedding:  vec,
	}
	if err := store.PutNode(context.Background(), node); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
}

func TestRetrieveRanksRelevantFirst(t *testing.T) {
	r, store, embedder := newTestRetriever(t)
	ctx := context.Background()

	putEmbedded(t, store, embedder, "tea", "the user drinks green tea every morning", 0.5)
	putEmbedded(t, store, embedder, "job", "the user works as a marine biologist", 0.5)

	results, err := r.Retrieve(ctx, "green tea", "viewer_1", 5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].ID != "tea" {
		t.Errorf("top result = %q, want tea", results[0].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score: %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestRetrieveTouchesResults(t *testing.T) {
	r, store, embedder := newTestRetriever(t)
	ctx := context.Background()

	putEmbedded(t, store, embedder, "tea", "the user drinks green tea", 0.5)

	if _, err := r.Retrieve(ctx, "green tea", "viewer_1", 5); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	node, err := store.GetNode(ctx, "tea")
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.AccessCount != 1 || node.LastAccessedAt == nil {
		t.Errorf("returned node not touched: count=%d accessed=%v", node.AccessCount, node.LastAccessedAt)
	}
}

func TestRetrieveExcludesSuperseded(t *testing.T) {
	r, store, embedder := newTestRetriever(t)
	ctx := context.Background()

	putEmbedded(t, store, embedder, "old", "the user lives in Tokyo", 0.8)
	putEmbedded(t, store, embedder, "new", "the user lives in Osaka", 0.8)
	if err := store.InsertSupersedesEdge(ctx, "new", "old"); err != nil {
		t.Fatalf("InsertSupersedesEdge failed: %v", err)
	}

	results, err := r.Retrieve(ctx, "where does the user live", "viewer_1", 5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, res := range results {
		if res.ID == "old" {
			t.Error("superseded node surfaced in retrieval")
		}
	}
}

func TestRetrieveFusesSources(t *testing.T) {
	r, store, embedder := newTestRetriever(t)
	ctx := context.Background()

	// Matches both vector and FTS for the query.
	putEmbedded(t, store, embedder, "both", "the user loves green tea ceremonies", 0.5)

	results, err := r.Retrieve(ctx, "green tea", "viewer_1", 5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Source != "fts+vector" {
		t.Errorf("source = %q, want fts+vector", results[0].Source)
	}
}

func TestRetrieveGraphExpansion(t *testing.T) {
	r, store, embedder := newTestRetriever(t)
	ctx := context.Background()

	putEmbedded(t, store, embedder, "seed", "the user mentioned their garden", 0.5)
	// Neighbor shares no words or similarity with the query.
	neighbor := &types.KnowledgeNode{
		NodeID:     "neighbor",
		EntityID:   "viewer_1",
		NodeType:   string(types.MemoryTypeAtomicFact),
		Content:    "zzqx unrelated content",
		Importance: 0.5,
	}
	if err := store.PutNode(ctx, neighbor); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	if err := store.PutEdge(ctx, &types.KnowledgeEdge{SourceNodeID: "seed", TargetNodeID: "neighbor", EdgeType: "related_to", Strength: 0.9}); err != nil {
		t.Fatalf("PutEdge failed: %v", err)
	}
	// Make the seed recently accessed so graph expansion starts there.
	if err := store.TouchNode(ctx, "seed"); err != nil {
		t.Fatalf("TouchNode failed: %v", err)
	}

	results, err := r.Retrieve(ctx, "garden", "viewer_1", 5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	var found bool
	for _, res := range results {
		if res.ID == "neighbor" {
			found = true
			if res.Source != "graph" {
				t.Errorf("neighbor source = %q, want graph", res.Source)
			}
		}
	}
	if !found {
		t.Error("graph expansion did not surface the connected node")
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	results, err := r.Retrieve(context.Background(), "anything", "viewer_1", 5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty store", len(results))
	}
}
