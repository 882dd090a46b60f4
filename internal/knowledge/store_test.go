package knowledge

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"secbrief/internal/core"
)

func newTestVectorStore(t *testing.T) (*FileVectorStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.json")
	s, err := NewFileVectorStore(path)
	if err != nil {
		t.Fatalf("NewFileVectorStore failed: %v", err)
	}
	return s, path
}

func doc(id string, articleID int64, embedding []float32, metadata map[string]string) core.KnowledgeDocument {
	return core.KnowledgeDocument{
		DocID:     id,
		ArticleID: articleID,
		Content:   "content " + id,
		Embedding: embedding,
		Metadata:  metadata,
	}
}

func TestSearchOrdersByScore(t *testing.T) {
	s, _ := newTestVectorStore(t)
	err := s.Add([]core.KnowledgeDocument{
		doc("1_0", 1, []float32{1, 0}, nil),
		doc("2_0", 2, []float32{0.7, 0.7}, nil),
		doc("3_0", 3, []float32{0, 1}, nil),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	results, err := s.Search([]float32{1, 0}, 2, SearchFilters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocID != "1_0" {
		t.Errorf("best match should be the parallel vector, got %s", results[0].DocID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted by score descending")
	}
	if math.Abs(results[0].Score-1.0) > 1e-9 {
		t.Errorf("identical vector should score 1.0, got %f", results[0].Score)
	}
}

func TestSearchFilters(t *testing.T) {
	s, _ := newTestVectorStore(t)
	err := s.Add([]core.KnowledgeDocument{
		doc("1_0", 1, []float32{1, 0}, map[string]string{"source_type": "nvd", "category": "漏洞分析"}),
		doc("2_0", 2, []float32{1, 0}, map[string]string{"source_type": "rss", "category": "漏洞分析"}),
		doc("3_0", 3, []float32{1, 0}, map[string]string{"source_type": "nvd", "category": "AI安全"}),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	results, err := s.Search([]float32{1, 0}, 10, SearchFilters{SourceTypes: []string{"nvd", "kev"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("source filter should keep 2 docs, got %d", len(results))
	}

	results, err = s.Search([]float32{1, 0}, 10, SearchFilters{
		SourceTypes: []string{"nvd"},
		Category:    "漏洞分析",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].DocID != "1_0" {
		t.Errorf("conjoined filters should keep only 1_0, got %v", results)
	}
}

func TestSearchFiltersByPublishedDate(t *testing.T) {
	s, _ := newTestVectorStore(t)
	err := s.Add([]core.KnowledgeDocument{
		doc("1_0", 1, []float32{1, 0}, map[string]string{"published_date": "2026-08-20"}),
		doc("2_0", 2, []float32{1, 0}, map[string]string{"published_date": "2026-07-01"}),
		doc("3_0", 3, []float32{1, 0}, nil),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	after := time.Date(2026, 8, 10, 15, 30, 0, 0, time.UTC)
	before := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	results, err := s.Search([]float32{1, 0}, 10, SearchFilters{
		PublishedAfter:  after,
		PublishedBefore: before,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// The July doc drops; the undated doc stays.
	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.DocID] = true
	}
	if len(results) != 2 || !ids["1_0"] || !ids["3_0"] {
		t.Errorf("window should keep 1_0 and the undated 3_0, got %v", results)
	}

	// A doc published on the window's first day matches despite the
	// bound's time of day.
	results, err = s.Search([]float32{1, 0}, 10, SearchFilters{
		PublishedAfter: time.Date(2026, 8, 20, 23, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	ids = make(map[string]bool)
	for _, r := range results {
		ids[r.DocID] = true
	}
	if !ids["1_0"] {
		t.Errorf("same-day publication should match the window start, got %v", results)
	}
}

func TestSearchClampsNegativeSimilarity(t *testing.T) {
	s, _ := newTestVectorStore(t)
	if err := s.Add([]core.KnowledgeDocument{doc("1_0", 1, []float32{-1, 0}, nil)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	results, err := s.Search([]float32{1, 0}, 1, SearchFilters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].Score != 0 {
		t.Errorf("opposite vector should clamp to 0, got %f", results[0].Score)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s, _ := newTestVectorStore(t)
	if _, err := s.Search(nil, 5, SearchFilters{}); err == nil {
		t.Error("expected error for empty query vector")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	s, path := newTestVectorStore(t)
	if err := s.Add([]core.KnowledgeDocument{doc("7_0", 7, []float32{1, 0}, nil)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	reopened, err := NewFileVectorStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Count() != 1 {
		t.Errorf("expected 1 doc after reopen, got %d", reopened.Count())
	}
	results, err := reopened.Search([]float32{1, 0}, 1, SearchFilters{})
	if err != nil || len(results) != 1 || results[0].DocID != "7_0" {
		t.Errorf("reopened store search = %v, %v", results, err)
	}
}

func TestDeleteRemovesAllArticleChunks(t *testing.T) {
	s, _ := newTestVectorStore(t)
	err := s.Add([]core.KnowledgeDocument{
		doc("5_0", 5, []float32{1, 0}, nil),
		doc("5_1", 5, []float32{0, 1}, nil),
		doc("6_0", 6, []float32{1, 1}, nil),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := s.Delete(5); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 doc after delete, got %d", s.Count())
	}
	// Deleting a missing article is a no-op.
	if err := s.Delete(999); err != nil {
		t.Errorf("Delete of unknown article failed: %v", err)
	}
}

func TestRebuildResetsStore(t *testing.T) {
	s, path := newTestVectorStore(t)
	if err := s.Add([]core.KnowledgeDocument{doc("1_0", 1, []float32{1}, nil)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Rebuild(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("expected empty store after Rebuild, got %d", s.Count())
	}

	reopened, err := NewFileVectorStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Count() != 0 {
		t.Error("Rebuild should persist the empty snapshot")
	}
}
