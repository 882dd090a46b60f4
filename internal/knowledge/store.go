package knowledge

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"secbrief/internal/core"
)

// SearchFilters constrain a similarity search. Zero-value fields are
// ignored; populated conditions are conjoined.
type SearchFilters struct {
	SourceTypes []string // match any of these source_type values
	Category    string

	// Publication window, matched against the published_date metadata
	// (YYYY-MM-DD, day granularity). Documents without a parsable date
	// are not excluded.
	PublishedAfter  time.Time
	PublishedBefore time.Time
}

// SearchResult is one scored hit.
type SearchResult struct {
	DocID    string
	Content  string
	Score    float64 // cosine similarity clamped to [0,1]
	Metadata map[string]string
}

// VectorStore is the nearest-neighbour index the knowledge base writes to.
type VectorStore interface {
	Add(docs []core.KnowledgeDocument) error
	Search(query []float32, n int, filters SearchFilters) ([]SearchResult, error)
	Delete(articleID int64) error
	Rebuild() error
	Count() int
}

// FileVectorStore is an in-process cosine-similarity index persisted as a
// JSON snapshot. The corpus is a few thousand chunks, so a linear scan is
// fast enough and avoids an external database.
type FileVectorStore struct {
	path string

	mu   sync.RWMutex
	docs map[string]core.KnowledgeDocument
}

// NewFileVectorStore opens (or creates) the store at path.
func NewFileVectorStore(path string) (*FileVectorStore, error) {
	s := &FileVectorStore{path: path, docs: make(map[string]core.KnowledgeDocument)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileVectorStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read vector store: %w", err)
	}

	var docs []core.KnowledgeDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("failed to parse vector store: %w", err)
	}
	for _, doc := range docs {
		s.docs[doc.DocID] = doc
	}
	return nil
}

// save writes the snapshot through a temp file so a crash mid-write never
// corrupts the index. Caller holds the lock.
func (s *FileVectorStore) save() error {
	docs := make([]core.KnowledgeDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })

	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to encode vector store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create vector store dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write vector store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace vector store: %w", err)
	}
	return nil
}

// Add upserts documents and persists the snapshot. The batch is applied
// atomically under the lock.
func (s *FileVectorStore) Add(docs []core.KnowledgeDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if doc.DocID == "" {
			return fmt.Errorf("document with empty doc_id")
		}
		s.docs[doc.DocID] = doc
	}
	return s.save()
}

// Search returns up to n hits sorted by score descending, after applying
// the filters.
func (s *FileVectorStore) Search(query []float32, n int, filters SearchFilters) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, doc := range s.docs {
		if !matchesFilters(doc.Metadata, filters) {
			continue
		}
		if len(doc.Embedding) != len(query) {
			continue
		}

		score := cosineSimilarity(query, doc.Embedding)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}

		results = append(results, SearchResult{
			DocID:    doc.DocID,
			Content:  doc.Content,
			Score:    score,
			Metadata: doc.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Delete removes every chunk belonging to an article.
func (s *FileVectorStore) Delete(articleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for id, doc := range s.docs {
		if doc.ArticleID == articleID {
			delete(s.docs, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save()
}

// Rebuild drops the whole collection. Callers re-add articles afterwards.
func (s *FileVectorStore) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]core.KnowledgeDocument)
	return s.save()
}

// Count reports the number of indexed chunks.
func (s *FileVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func matchesFilters(metadata map[string]string, filters SearchFilters) bool {
	if len(filters.SourceTypes) > 0 {
		match := false
		for _, st := range filters.SourceTypes {
			if metadata["source_type"] == st {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if filters.Category != "" && metadata["category"] != filters.Category {
		return false
	}
	if !filters.PublishedAfter.IsZero() || !filters.PublishedBefore.IsZero() {
		published, err := time.Parse("2006-01-02", metadata["published_date"])
		if err == nil {
			if !filters.PublishedAfter.IsZero() && published.Before(dayStart(filters.PublishedAfter)) {
				return false
			}
			if !filters.PublishedBefore.IsZero() && published.After(filters.PublishedBefore) {
				return false
			}
		}
	}
	return true
}

// dayStart truncates a bound to midnight UTC so a document published on
// the window's first day still matches.
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors; zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
