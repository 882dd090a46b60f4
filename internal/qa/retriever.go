package qa

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/knowledge"
)

// Searcher is the knowledge-base surface the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, n int, filters knowledge.SearchFilters) ([]knowledge.SearchResult, error)
}

// Retriever layers thresholding, per-document caps, near-duplicate removal
// and source diversity on top of raw vector search.
type Retriever struct {
	searcher Searcher
	cfg      config.Retrieval
}

// NewRetriever builds a retriever over the knowledge base.
func NewRetriever(searcher Searcher, cfg config.Retrieval) *Retriever {
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.95
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 3
	}
	return &Retriever{searcher: searcher, cfg: cfg}
}

// Retrieve runs the full pipeline: history-aware query, 3x overfetch,
// threshold filter, per-document cap, dedup and diversity sort, then
// truncation to n.
func (r *Retriever) Retrieve(ctx context.Context, query string, n int, filters knowledge.SearchFilters, history []core.ConversationTurn) ([]knowledge.SearchResult, error) {
	if n <= 0 {
		return nil, nil
	}

	fullQuery := BuildHistoryQuery(query, history, r.cfg.MaxHistoryTurns)

	candidates, err := r.searcher.Search(ctx, fullQuery, 3*n, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}

	candidates = r.applyThreshold(candidates)
	candidates = r.applyPerDocCap(candidates)
	candidates = r.dedup(candidates)
	candidates = diversitySort(candidates)

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// applyThreshold drops results under similarity_threshold. A zero
// threshold keeps everything; a threshold of 1 keeps only exact matches.
func (r *Retriever) applyThreshold(results []knowledge.SearchResult) []knowledge.SearchResult {
	threshold := r.cfg.SimilarityThreshold
	if threshold <= 0 {
		return results
	}

	var kept []knowledge.SearchResult
	for _, result := range results {
		if threshold >= 1 {
			if result.Score == 1.0 {
				kept = append(kept, result)
			}
			continue
		}
		if result.Score >= threshold {
			kept = append(kept, result)
		}
	}
	return kept
}

// applyPerDocCap keeps each article's top max_chunks_per_doc chunks by
// score while preserving the survivors' relative order.
func (r *Retriever) applyPerDocCap(results []knowledge.SearchResult) []knowledge.SearchResult {
	maxPerDoc := r.cfg.MaxChunksPerDoc
	if maxPerDoc <= 0 {
		return results
	}

	// Pick the cut-off score rank per article.
	byArticle := make(map[int64][]float64)
	for _, result := range results {
		id := knowledge.ArticleIDFromDocID(result.DocID)
		byArticle[id] = append(byArticle[id], result.Score)
	}
	for id, scores := range byArticle {
		sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
		byArticle[id] = scores
	}

	counts := make(map[int64]int)
	var kept []knowledge.SearchResult
	for _, result := range results {
		id := knowledge.ArticleIDFromDocID(result.DocID)
		scores := byArticle[id]
		limit := maxPerDoc
		if limit > len(scores) {
			limit = len(scores)
		}
		if counts[id] >= limit {
			continue
		}
		if result.Score < scores[limit-1] {
			continue
		}
		counts[id]++
		kept = append(kept, result)
	}
	return kept
}

// dedup walks survivors in score-descending order and keeps a chunk only
// when its content similarity to every kept chunk stays at or below
// dedup_threshold.
func (r *Retriever) dedup(results []knowledge.SearchResult) []knowledge.SearchResult {
	ordered := make([]knowledge.SearchResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var kept []knowledge.SearchResult
	for _, candidate := range ordered {
		duplicate := false
		for _, existing := range kept {
			if contentSimilarity(candidate.Content, existing.Content) > r.cfg.DedupThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// diversitySort orders by score descending; within equal-score runs it
// round-robins across article groups so no single article dominates.
func diversitySort(results []knowledge.SearchResult) []knowledge.SearchResult {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	seen := make(map[int64]bool)
	ordered := make([]knowledge.SearchResult, 0, len(results))
	remaining := append([]knowledge.SearchResult(nil), results...)

	for len(remaining) > 0 {
		// The head fixes the score band; prefer an unseen article within it.
		band := remaining[0].Score
		pick := 0
		for i, result := range remaining {
			if result.Score != band {
				break
			}
			if !seen[knowledge.ArticleIDFromDocID(result.DocID)] {
				pick = i
				break
			}
		}

		chosen := remaining[pick]
		seen[knowledge.ArticleIDFromDocID(chosen.DocID)] = true
		ordered = append(ordered, chosen)
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return ordered
}

// contentSimilarity estimates text similarity cheaply: character-3-gram
// Jaccard decides outright when clearly low (<0.3) or high (>0.9); the
// middle band re-checks with word-level Jaccard.
func contentSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}

	gram := jaccard(charNGrams(a, 3), charNGrams(b, 3))
	if gram < 0.3 || gram > 0.9 {
		return gram
	}
	return jaccard(wordSet(a), wordSet(b))
}

func charNGrams(s string, n int) map[string]bool {
	runes := []rune(s)
	set := make(map[string]bool)
	if len(runes) < n {
		if len(runes) > 0 {
			set[string(runes)] = true
		}
		return set
	}
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = true
	}
	return set
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		set[word] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for key := range a {
		if b[key] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
