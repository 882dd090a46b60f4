// Package enrich is the LLM client for the pipeline and the QA engine. It
// fills in per-article summary, category and translation, and synthesizes
// answers from retrieved knowledge-base context.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/logger"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	maxRetries     = 3
	initialBackoff = time.Second
	backoffFactor  = 2

	enrichSystemPrompt = `You are a security research analyst. Given an article title and content, respond with exactly three labelled lines:
SUMMARY: <a concise English summary, 2-3 sentences>
CATEGORY: <exactly one of: 漏洞分析, 安全研究, AI安全, 系统安全, 密码学, 恶意软件, 数据安全, 其他>
ZH_SUMMARY: <the summary translated to Chinese>
Do not add any other text.`

	synthesisSystemPrompt = `You are a technical assistant for a security intelligence service. You have access to a knowledge base of recent security articles as reference material. Prefer the knowledge base when it is relevant to the question. Answer in Chinese. Cite the source titles you relied on at the end of the answer.`

	generalSystemPrompt = `You are a technical assistant for a security intelligence service. The knowledge base has no relevant material for this question, so answer from general knowledge. Be honest about uncertainty and say so when you are not sure.`
)

// Enrichment is the per-article output of the LLM.
type Enrichment struct {
	Summary   string
	Category  string
	ZhSummary string
}

// completionAPI is the slice of the OpenAI client the enricher uses.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	api       completionAPI
	model     string
	timeout   time.Duration
	transport *retryAfterTransport
}

// retryAfterTransport records the Retry-After header of rate-limited
// responses so the retry loop can honor the server's requested delay.
type retryAfterTransport struct {
	base http.RoundTripper

	mu   sync.Mutex
	last time.Duration
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		if secs, parseErr := strconv.Atoi(resp.Header.Get("Retry-After")); parseErr == nil && secs > 0 {
			t.mu.Lock()
			t.last = time.Duration(secs) * time.Second
			t.mu.Unlock()
		}
	}
	return resp, err
}

// takeRetryAfter returns and clears the last recorded Retry-After delay.
func (t *retryAfterTransport) takeRetryAfter() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.last
	t.last = 0
	return d
}

// NewClient builds the LLM client from config.
func NewClient(cfg config.AI) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai.api_key is required (set OPENAI_API_KEY)")
	}

	transport := &retryAfterTransport{base: http.DefaultTransport}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientConfig.BaseURL = cfg.APIBase
	}
	clientConfig.HTTPClient = &http.Client{Transport: transport}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		api:       openai.NewClientWithConfig(clientConfig),
		model:     model,
		timeout:   config.Duration(cfg.Timeout, 60*time.Second),
		transport: transport,
	}, nil
}

// Enrich produces summary, category and translation for one article. Fields
// the model omits fall back to defaults rather than failing the article.
func (c *Client) Enrich(ctx context.Context, title, content string) (Enrichment, error) {
	user := fmt.Sprintf("Title: %s\n\nContent:\n%s", title, content)
	text, err := c.complete(ctx, enrichSystemPrompt, user)
	if err != nil {
		return Enrichment{}, fmt.Errorf("failed to enrich article: %w", err)
	}
	return parseEnrichment(text), nil
}

// Synthesize answers a user question from retrieved knowledge-base context
// and recent conversation history.
func (c *Client) Synthesize(ctx context.Context, query, contextText string, history []core.ConversationTurn) (string, error) {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("最近的对话:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "问: %s\n答: %s\n", turn.Query, snippet(turn.Answer, 150))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("参考资料:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\n问题: ")
	sb.WriteString(query)

	answer, err := c.complete(ctx, synthesisSystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return answer, nil
}

// SynthesizeGeneral answers without knowledge-base context.
func (c *Client) SynthesizeGeneral(ctx context.Context, query string) (string, error) {
	answer, err := c.complete(ctx, generalSystemPrompt, "问题: "+query)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return answer, nil
}

// ScoreArticle asks the model for a 0-100 relevance score. A response that
// does not parse as a number yields an error; callers fall back to the
// rule-based score.
func (c *Client) ScoreArticle(ctx context.Context, title, summary string) (float64, error) {
	system := "You rate security articles by importance to a security research team. Respond with only an integer from 0 to 100."
	user := fmt.Sprintf("Title: %s\nSummary: %s", title, summary)

	text, err := c.complete(ctx, system, user)
	if err != nil {
		return 0, fmt.Errorf("failed to score article: %w", err)
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable score %q: %w", text, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// SelectRelevant asks the model which of the numbered titles are worth
// pushing and returns the selected indexes (0-based).
func (c *Client) SelectRelevant(ctx context.Context, titles []string) ([]int, error) {
	if len(titles) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, title := range titles {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
	}

	system := "You curate a daily security briefing. Given a numbered list of article titles, respond with only the numbers worth including, comma-separated. Respond with NONE if nothing qualifies."
	text, err := c.complete(ctx, system, sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to select articles: %w", err)
	}

	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "NONE") {
		return []int{}, nil
	}

	var indexes []int
	for _, field := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		n, err := strconv.Atoi(strings.TrimSuffix(field, "."))
		if err != nil || n < 1 || n > len(titles) {
			continue
		}
		indexes = append(indexes, n-1)
	}
	return indexes, nil
}

// complete runs one chat completion with the retry policy: exponential
// backoff on timeouts, connection errors and 5xx, Retry-After honored on
// 429, no retry on other 4xx.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		cancel()

		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("empty response from model")
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}
		lastErr = err

		retryable, rateLimited, delay := classifyError(err, backoff)
		if !retryable || attempt == maxRetries {
			break
		}
		if rateLimited && c.transport != nil {
			if ra := c.transport.takeRetryAfter(); ra > 0 {
				delay = ra
			}
		}

		logger.Warn("LLM call failed, retrying",
			"attempt", attempt, "delay", delay.String(), "error", err.Error())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= backoffFactor
	}

	return "", lastErr
}

// classifyError decides whether an LLM error is retryable, whether it was
// a rate limit, and with what delay.
func classifyError(err error, backoff time.Duration) (retryable, rateLimited bool, delay time.Duration) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true, true, backoff
		case apiErr.HTTPStatusCode >= 500:
			return true, false, backoff
		case apiErr.HTTPStatusCode >= 400:
			return false, false, 0
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == 429:
			return true, true, backoff
		case reqErr.HTTPStatusCode >= 500:
			return true, false, backoff
		case reqErr.HTTPStatusCode >= 400:
			return false, false, 0
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, false, backoff
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, false, backoff
	}

	// Treat transport-level failures without a status code as transient.
	return true, false, backoff
}

// parseEnrichment pulls the labelled lines out of the model response. A
// missing or unrecognized category collapses to 其他.
func parseEnrichment(text string) Enrichment {
	result := Enrichment{Category: core.CategoryOther}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SUMMARY:"):
			result.Summary = strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:"))
		case strings.HasPrefix(line, "CATEGORY:"):
			category := strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:"))
			if core.ValidCategory(category) {
				result.Category = category
			}
		case strings.HasPrefix(line, "ZH_SUMMARY:"):
			result.ZhSummary = strings.TrimSpace(strings.TrimPrefix(line, "ZH_SUMMARY:"))
		}
	}

	return result
}

// snippet bounds a history answer for prompt context.
func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
