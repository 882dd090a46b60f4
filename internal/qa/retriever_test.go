package qa

import (
	"context"
	"strings"
	"testing"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/knowledge"
)

type fakeSearcher struct {
	results     []knowledge.SearchResult
	lastQuery   string
	lastN       int
	lastFilters knowledge.SearchFilters
}

func (f *fakeSearcher) Search(_ context.Context, query string, n int, filters knowledge.SearchFilters) ([]knowledge.SearchResult, error) {
	f.lastQuery = query
	f.lastN = n
	f.lastFilters = filters
	return f.results, nil
}

func hit(docID, content string, score float64) knowledge.SearchResult {
	return knowledge.SearchResult{DocID: docID, Content: content, Score: score}
}

func TestRetrieveOverfetchesAndTruncates(t *testing.T) {
	searcher := &fakeSearcher{}
	for i := 0; i < 9; i++ {
		searcher.results = append(searcher.results,
			hit(string(rune('1'+i))+"_0", strings.Repeat("unique content ", i+1)+string(rune('a'+i)), 0.9-float64(i)*0.05))
	}
	r := NewRetriever(searcher, config.Retrieval{})

	results, err := r.Retrieve(context.Background(), "question", 3, knowledge.SearchFilters{}, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if searcher.lastN != 9 {
		t.Errorf("expected 3x overfetch, searched for %d", searcher.lastN)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results after truncation, got %d", len(results))
	}
}

func TestRetrieveAppliesThreshold(t *testing.T) {
	searcher := &fakeSearcher{results: []knowledge.SearchResult{
		hit("1_0", "high scoring content about sandboxes", 0.9),
		hit("2_0", "low scoring content about parsers", 0.4),
	}}
	r := NewRetriever(searcher, config.Retrieval{SimilarityThreshold: 0.6})

	results, err := r.Retrieve(context.Background(), "q", 5, knowledge.SearchFilters{}, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 || results[0].DocID != "1_0" {
		t.Errorf("threshold not applied: %v", results)
	}
}

func TestThresholdOfOneKeepsOnlyExactMatches(t *testing.T) {
	searcher := &fakeSearcher{results: []knowledge.SearchResult{
		hit("1_0", "exact", 1.0),
		hit("2_0", "near", 0.999),
	}}
	r := NewRetriever(searcher, config.Retrieval{SimilarityThreshold: 1.0})

	results, err := r.Retrieve(context.Background(), "q", 5, knowledge.SearchFilters{}, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 || results[0].Score != 1.0 {
		t.Errorf("threshold 1 should keep only exact matches: %v", results)
	}
}

func TestRetrievePerDocumentCap(t *testing.T) {
	searcher := &fakeSearcher{results: []knowledge.SearchResult{
		hit("7_0", "chunk zero of the long article", 0.95),
		hit("7_1", "chunk one of the long article!", 0.90),
		hit("7_2", "chunk two of the long article?", 0.85),
		hit("8_0", "a different article entirely", 0.80),
	}}
	r := NewRetriever(searcher, config.Retrieval{MaxChunksPerDoc: 2})

	results, err := r.Retrieve(context.Background(), "q", 10, knowledge.SearchFilters{}, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	perArticle := map[int64]int{}
	for _, result := range results {
		perArticle[knowledge.ArticleIDFromDocID(result.DocID)]++
	}
	if perArticle[7] != 2 {
		t.Errorf("article 7 should be capped at 2 chunks, got %d", perArticle[7])
	}
	if perArticle[8] != 1 {
		t.Errorf("article 8 lost its only chunk: %v", results)
	}
}

func TestRetrieveDedupDropsNearDuplicates(t *testing.T) {
	same := "the exact same content string repeated across articles"
	searcher := &fakeSearcher{results: []knowledge.SearchResult{
		hit("1_0", same, 0.9),
		hit("2_0", same, 0.8),
		hit("3_0", "completely different material on kernel exploitation", 0.7),
	}}
	r := NewRetriever(searcher, config.Retrieval{DedupThreshold: 0.95})

	results, err := r.Retrieve(context.Background(), "q", 5, knowledge.SearchFilters{}, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected duplicate dropped, got %d results", len(results))
	}
	// The higher-scoring copy survives.
	if results[0].DocID != "1_0" {
		t.Errorf("expected 1_0 kept, got %v", results)
	}
}

func TestRetrieveScoresNonIncreasing(t *testing.T) {
	searcher := &fakeSearcher{results: []knowledge.SearchResult{
		hit("1_0", "alpha content body", 0.7),
		hit("2_0", "beta content body!", 0.9),
		hit("1_1", "gamma content body?", 0.9),
		hit("3_0", "delta content body.", 0.8),
	}}
	r := NewRetriever(searcher, config.Retrieval{})

	results, err := r.Retrieve(context.Background(), "q", 10, knowledge.SearchFilters{}, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("scores increase at %d: %v", i, results)
		}
	}
}

func TestRetrieveUsesHistoryQuery(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewRetriever(searcher, config.Retrieval{})
	history := []core.ConversationTurn{{Query: "上一个问题", Answer: "上一个回答"}}

	if _, err := r.Retrieve(context.Background(), "跟进问题", 3, knowledge.SearchFilters{}, history); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !strings.HasPrefix(searcher.lastQuery, "[对话上下文:") || !strings.HasSuffix(searcher.lastQuery, "跟进问题") {
		t.Errorf("history not folded into the search query: %q", searcher.lastQuery)
	}
}

func TestRetrieveZeroN(t *testing.T) {
	r := NewRetriever(&fakeSearcher{}, config.Retrieval{})
	results, err := r.Retrieve(context.Background(), "q", 0, knowledge.SearchFilters{}, nil)
	if err != nil || results != nil {
		t.Errorf("zero n should return nothing, got %v, %v", results, err)
	}
}

func TestContentSimilarity(t *testing.T) {
	if got := contentSimilarity("identical", "identical"); got != 1 {
		t.Errorf("identical strings should score 1, got %f", got)
	}
	a := "memory safety bugs in parsers"
	b := "container escape via runc"
	if got := contentSimilarity(a, b); got >= 0.3 {
		t.Errorf("unrelated strings should score low, got %f", got)
	}
}

func TestDiversitySortPrefersUnseenArticles(t *testing.T) {
	results := []knowledge.SearchResult{
		hit("1_0", "a", 0.9),
		hit("1_1", "b", 0.9),
		hit("2_0", "c", 0.9),
	}

	ordered := diversitySort(results)
	if ordered[0].DocID != "1_0" {
		t.Errorf("first pick should keep rank order, got %s", ordered[0].DocID)
	}
	// Second pick inside the equal-score band prefers the unseen article.
	if ordered[1].DocID != "2_0" {
		t.Errorf("second pick should diversify to article 2, got %s", ordered[1].DocID)
	}
}
