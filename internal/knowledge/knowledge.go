// Package knowledge maintains the article knowledge base: chunking,
// embedding and nearest-neighbour search over enriched articles.
package knowledge

import (
	"context"
	"fmt"
	"strconv"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/logger"
)

// Embedder is the vectorization surface the knowledge base needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// KnowledgeBase turns enriched articles into searchable embedded chunks.
type KnowledgeBase struct {
	store    VectorStore
	embedder Embedder
	chunker  *Chunker
}

// New builds a knowledge base over the given store and embedder.
func New(store VectorStore, embedder Embedder, cfg config.Chunking) *KnowledgeBase {
	return &KnowledgeBase{
		store:    store,
		embedder: embedder,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
	}
}

// AddArticles chunks, embeds and indexes a batch of articles. Articles
// missing required fields are skipped; a per-article failure logs and
// moves on rather than aborting the batch.
func (kb *KnowledgeBase) AddArticles(ctx context.Context, articles []core.Article) (int, error) {
	added := 0
	for _, article := range articles {
		if article.ID == 0 || article.Title == "" || article.URL == "" {
			logger.Warn("Skipping article with missing required fields", "url", article.URL)
			continue
		}

		if err := kb.addArticle(ctx, article); err != nil {
			logger.Warn("Failed to index article", "id", article.ID, "error", err.Error())
			continue
		}
		added++
	}
	return added, nil
}

func (kb *KnowledgeBase) addArticle(ctx context.Context, article core.Article) error {
	text := article.Title + "\n\n" + article.Content
	chunks := kb.chunker.Split(text)
	if len(chunks) == 0 {
		return fmt.Errorf("article produced no chunks")
	}

	vectors, err := kb.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	metadata := map[string]string{
		"title":          article.Title,
		"url":            article.URL,
		"source_type":    string(article.SourceType),
		"published_date": article.PublishedDate,
		"category":       article.Category,
	}

	docs := make([]core.KnowledgeDocument, 0, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			continue
		}
		docs = append(docs, core.KnowledgeDocument{
			DocID:      fmt.Sprintf("%d_%d", article.ID, i),
			ArticleID:  article.ID,
			ChunkIndex: i,
			Content:    chunk,
			Embedding:  vectors[i],
			Metadata:   metadata,
		})
	}
	if len(docs) == 0 {
		return fmt.Errorf("all chunks yielded empty embeddings")
	}

	return kb.store.Add(docs)
}

// Search embeds the query and returns the top-n filtered hits.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, n int, filters SearchFilters) ([]SearchResult, error) {
	vector, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query embedded to an empty vector")
	}
	return kb.store.Search(vector, n, filters)
}

// Rebuild drops the index and re-adds the given articles.
func (kb *KnowledgeBase) Rebuild(ctx context.Context, articles []core.Article) (int, error) {
	if err := kb.store.Rebuild(); err != nil {
		return 0, fmt.Errorf("failed to reset vector store: %w", err)
	}
	return kb.AddArticles(ctx, articles)
}

// Count reports the number of indexed chunks.
func (kb *KnowledgeBase) Count() int { return kb.store.Count() }

// ArticleIDFromDocID recovers the article id prefix of a chunk doc_id.
func ArticleIDFromDocID(docID string) int64 {
	for i := 0; i < len(docID); i++ {
		if docID[i] == '_' {
			id, err := strconv.ParseInt(docID[:i], 10, 64)
			if err != nil {
				return 0
			}
			return id
		}
	}
	return 0
}
