// Package retriever turns a natural-language query into a ranked list
// of chunks: embed, over-retrieve, filter, boost, deduplicate, and
// optionally rerank for diversity.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

// Over-retrieval factors. Filtering discards candidates after the
// search, so a present document filter needs a wider fan-out.
const (
	fanoutFiltered   = 5
	fanoutUnfiltered = 2
)

type RetrieverConfig struct {
	// BoostMarkers nudge hits whose text carries one of these
	// substrings: the configured Boost is subtracted from their
	// distance score. A relevance heuristic, not a correctness rule.
	BoostMarkers []string
	Boost        float64

	// MMRLambda trades relevance against redundancy for RetrieveMMR.
	MMRLambda float64
}

type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	index    types.Searcher
}

func NewWithConfig(config RetrieverConfig, embedder types.Embedder, index types.Searcher) *Retriever {
	if config.MMRLambda <= 0 || config.MMRLambda > 1 {
		config.MMRLambda = 0.5
	}

	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
	}
}

// Retrieve returns up to k unique hits sorted ascending by score. A
// non-nil allowedDocumentIDs restricts hits to those documents; a
// filter that matches nothing yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, allowedDocumentIDs []int) ([]models.RetrievalHit, error) {
	candidates, err := r.candidates(ctx, query, k, allowedDocumentIDs)
	if err != nil {
		return nil, err
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})
	return candidates, nil
}

// RetrieveMMR is the diversity-reranked variant: instead of pure score
// order, candidates are greedily selected to maximize
// lambda*sim(query, c) - (1-lambda)*max_sim(c, selected).
func (r *Retriever) RetrieveMMR(ctx context.Context, query string, k int, allowedDocumentIDs []int) ([]models.RetrievalHit, error) {
	candidates, err := r.candidates(ctx, query, k, allowedDocumentIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(candidates))
	for i, hit := range candidates {
		texts[i] = hit.Text
	}
	candidateVecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidates: %w", err)
	}

	selected := mmr(queryVec, candidateVecs, r.config.MMRLambda, k)
	hits := make([]models.RetrievalHit, 0, len(selected))
	for _, i := range selected {
		hits = append(hits, candidates[i])
	}
	return hits, nil
}

// candidates runs the shared part of both retrieval modes: embed the
// query, over-retrieve, filter, boost, and deduplicate. The result is
// dedup order (first occurrence wins), not yet truncated or sorted.
func (r *Retriever) candidates(ctx context.Context, query string, k int, allowedDocumentIDs []int) ([]models.RetrievalHit, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	fanout := fanoutUnfiltered
	if len(allowedDocumentIDs) > 0 {
		fanout = fanoutFiltered
	}
	// Cap at the index size only when it is known: a remote backend
	// reports zero when it cannot count, and both backends tolerate a
	// k beyond the stored count.
	want := k * fanout
	if total := r.index.Len(); total > 0 && want > total {
		want = total
	}

	hits, err := r.index.Search(queryVec, want)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits = filterByDocumentIDs(hits, allowedDocumentIDs)
	r.applyBoost(hits)

	return dedupe(hits), nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	return vecs[0], nil
}

func filterByDocumentIDs(hits []models.RetrievalHit, allowed []int) []models.RetrievalHit {
	if len(allowed) == 0 {
		return hits
	}

	allowedSet := make(map[int]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}

	filtered := hits[:0]
	for _, hit := range hits {
		if _, ok := allowedSet[hit.DocumentID]; ok {
			filtered = append(filtered, hit)
		}
	}
	return filtered
}

// applyBoost lowers the distance score of hits carrying a marker.
func (r *Retriever) applyBoost(hits []models.RetrievalHit) {
	if r.config.Boost <= 0 {
		return
	}
	for i := range hits {
		for _, marker := range r.config.BoostMarkers {
			if strings.Contains(hits[i].Text, marker) {
				hits[i].Score -= r.config.Boost
				break
			}
		}
	}
}

// dedupe keeps the first occurrence of each (document, chunk) pair.
func dedupe(hits []models.RetrievalHit) []models.RetrievalHit {
	type key struct {
		doc, chunk int
	}
	seen := make(map[key]struct{}, len(hits))

	unique := hits[:0]
	for _, hit := range hits {
		k := key{hit.DocumentID, hit.ChunkIndex}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, hit)
	}
	return unique
}
