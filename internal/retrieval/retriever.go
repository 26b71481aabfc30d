// Package retrieval implements hybrid memory retrieval over three
// sources: vector similarity, full-text search, and graph expansion.
// Each source scores candidates with a three-factor blend of recency,
// relevance, and importance; per-source scores are then fused by a
// weighted average over the sources that actually saw the node.
package retrieval

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// Retriever performs hybrid retrieval against a storage backend.
type Retriever struct {
	store         storage.Store
	embedder      *embedding.Service
	cfg           config.RetrievalConfig
	halfLifeHours float64
}

// New creates a retriever. The embedder may be nil, which disables the
// vector source (full-text and graph still run).
func New(store storage.Store, embedder *embedding.Service, cfg config.RetrievalConfig, halfLifeHours float64) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.GraphSeeds <= 0 {
		cfg.GraphSeeds = 3
	}
	if halfLifeHours <= 0 {
		halfLifeHours = 720
	}
	return &Retriever{store: store, embedder: embedder, cfg: cfg, halfLifeHours: halfLifeHours}
}

// candidate accumulates per-source scores for one node during fusion.
type candidate struct {
	node    types.KnowledgeNode
	scores  map[string]float64 // source -> combined score
	weights float64            // sum of weights of contributing sources
}

// Retrieve runs all three sources for the query and returns the fused
// top-K results, best first. Source failures are logged and skipped so
// one degraded index never empties retrieval. Returned nodes get their
// access statistics touched.
func (r *Retriever) Retrieve(ctx context.Context, query, entityID string, topK int) ([]types.RetrievalResult, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	now := time.Now().UTC()
	candidates := make(map[string]*candidate)

	add := func(node types.KnowledgeNode, source string, relevance, weight float64) {
		if node.InvalidAt != nil {
			return // superseded facts never resurface
		}
		c, ok := candidates[node.NodeID]
		if !ok {
			c = &candidate{node: node, scores: make(map[string]float64)}
			candidates[node.NodeID] = c
		}
		score := combinedScore(&node, relevance, now, r.halfLifeHours)
		if prev, seen := c.scores[source]; !seen {
			c.scores[source] = score
			c.weights += weight
		} else if score > prev {
			c.scores[source] = score
		}
	}

	r.vectorSearch(ctx, query, entityID, add)
	r.textSearch(ctx, query, entityID, add)
	r.graphSearch(ctx, entityID, add)

	results := make([]types.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		if c.weights == 0 {
			continue
		}
		var weighted float64
		var sources []string
		for source, score := range c.scores {
			weighted += sourceWeight(r.cfg, source) * score
			sources = append(sources, source)
		}
		sort.Strings(sources)
		results = append(results, types.RetrievalResult{
			ID:         c.node.NodeID,
			Content:    c.node.Content,
			MemoryType: c.node.NodeType,
			Score:      weighted / c.weights,
			Source:     strings.Join(sources, "+"),
			Metadata:   c.node.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	for _, res := range results {
		if err := r.store.TouchNode(ctx, res.ID); err != nil {
			log.Printf("retrieval: failed to touch node %s: %v", res.ID, err)
		}
	}
	return results, nil
}

func sourceWeight(cfg config.RetrievalConfig, source string) float64 {
	switch source {
	case "vector":
		return cfg.VectorWeight
	case "fts":
		return cfg.FTSWeight
	case "graph":
		return cfg.GraphWeight
	}
	return 0
}

type addFunc func(node types.KnowledgeNode, source string, relevance, weight float64)

// vectorSearch scores candidates by cosine similarity to the query
// embedding. Backends with native nearest-neighbor support are used
// directly; otherwise all embedded nodes are scanned in-process.
func (r *Retriever) vectorSearch(ctx context.Context, query, entityID string, add addFunc) {
	if r.embedder == nil {
		return
	}

	queryVec, err := r.embedder.EncodeSingle(ctx, query)
	if err != nil {
		log.Printf("retrieval: vector source failed (query embedding): %v", err)
		return
	}

	// Over-fetch so fusion has material beyond the final top-K.
	limit := r.cfg.TopK * 4

	if vs, ok := r.store.(storage.VectorSearcher); ok {
		scored, err := vs.NearestNodes(ctx, queryVec, entityID, limit)
		if err != nil {
			log.Printf("retrieval: vector source failed (nearest nodes): %v", err)
			return
		}
		for _, sn := range scored {
			add(sn.Node, "vector", sn.Similarity, r.cfg.VectorWeight)
		}
		return
	}

	nodes, err := r.store.EmbeddedNodes(ctx, entityID)
	if err != nil {
		log.Printf("retrieval: vector source failed (embedded nodes): %v", err)
		return
	}
	for _, node := range nodes {
		sim := embedding.CosineSimilarity(queryVec, node.Embedding)
		if sim <= 0 {
			continue
		}
		add(node, "vector", sim, r.cfg.VectorWeight)
	}
}

// textSearch scores candidates via the backend's full-text index.
func (r *Retriever) textSearch(ctx context.Context, query, entityID string, add addFunc) {
	matches, err := r.store.FullTextSearch(ctx, query, entityID, r.cfg.TopK*4)
	if err != nil {
		log.Printf("retrieval: full-text source failed: %v", err)
		return
	}
	for _, m := range matches {
		add(m.Node, "fts", ftsRelevance(m.Rank), r.cfg.FTSWeight)
	}
}

// graphSearch expands from the most recently accessed nodes to their
// direct neighbors, using edge strength as relevance. This surfaces
// facts related to what the conversation has already touched, even when
// they share no words or embedding similarity with the query.
func (r *Retriever) graphSearch(ctx context.Context, entityID string, add addFunc) {
	seeds, err := r.store.RecentNodes(ctx, entityID, r.cfg.GraphSeeds)
	if err != nil {
		log.Printf("retrieval: graph source failed (seeds): %v", err)
		return
	}

	for _, seed := range seeds {
		neighbors, err := r.store.ConnectedNodes(ctx, seed.NodeID)
		if err != nil {
			log.Printf("retrieval: graph source failed (neighbors of %s): %v", seed.NodeID, err)
			continue
		}
		for _, n := range neighbors {
			add(n.Node, "graph", n.Strength, r.cfg.GraphWeight)
		}
	}
}
