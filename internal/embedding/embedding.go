// Package embedding wraps an OpenAI-compatible embeddings endpoint with
// request spacing so batch indexing stays under provider rate limits.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"secbrief/internal/config"
)

// DefaultModel is used when no embedding model is configured.
const DefaultModel = "text-embedding-3-small"

const minRequestSpacing = 200 * time.Millisecond

// embeddingAPI is the slice of the OpenAI client the embedder uses.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client embeds text through an OpenAI-compatible endpoint. Requests are
// spaced at least 200 ms apart.
type Client struct {
	api       embeddingAPI
	model     string
	dimension int
	limiter   *rate.Limiter
}

// NewClient builds the embedding client from config.
func NewClient(cfg config.Embedding) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api_key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientConfig.BaseURL = cfg.APIBase
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	spacing := config.Duration(cfg.RateLimitDelay, minRequestSpacing)
	if spacing < minRequestSpacing {
		spacing = minRequestSpacing
	}

	return &Client{
		api:       openai.NewClientWithConfig(clientConfig),
		model:     model,
		dimension: cfg.Dimension,
		limiter:   rate.NewLimiter(rate.Every(spacing), 1),
	}, nil
}

// Dimension returns the configured vector dimension, or 0 when the
// provider's native dimension is used.
func (c *Client) Dimension() int { return c.dimension }

// Embed converts one text into a vector. Empty or whitespace-only text
// passes through as an empty vector without an API call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return []float32{}, nil
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts a batch of texts into vectors, one per input, in
// input order. Empty texts yield empty vectors and are not sent to the
// provider. An empty batch is an error.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty embedding batch")
	}

	vectors := make([][]float32, len(texts))

	// Map non-empty inputs to their request positions.
	var inputs []string
	var positions []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			vectors[i] = []float32{}
			continue
		}
		inputs = append(inputs, text)
		positions = append(positions, i)
	}
	if len(inputs) == 0 {
		return vectors, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate wait: %w", err)
	}

	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimension > 0 {
		req.Dimensions = c.dimension
	}

	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(inputs), len(resp.Data))
	}

	// The provider may return entries out of order; place each by its
	// reported index.
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(positions) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[positions[item.Index]] = item.Embedding
	}

	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}
