package qa

import (
	"context"
	"strings"
	"time"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/knowledge"
	"secbrief/internal/logger"
)

const invalidQueryAnswer = "请输入有效的问题。 / Please enter a valid question."

const unavailableAnswer = "抱歉，服务暂时不可用，请稍后再试。"

const noContextConfidence = 0.3

// Synthesizer is the LLM surface the engine needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, query, contextText string, history []core.ConversationTurn) (string, error)
	SynthesizeGeneral(ctx context.Context, query string) (string, error)
}

// Engine answers user questions over the knowledge base.
type Engine struct {
	retriever *Retriever
	contexts  *ContextManager
	llm       Synthesizer
	cfg       config.QAEngine
}

// NewEngine builds a QA engine.
func NewEngine(retriever *Retriever, contexts *ContextManager, llm Synthesizer, cfg config.QAEngine) *Engine {
	if cfg.MaxRetrievedDocs <= 0 {
		cfg.MaxRetrievedDocs = 5
	}
	if cfg.MinRelevanceScore <= 0 {
		cfg.MinRelevanceScore = 0.5
	}
	if cfg.AnswerMaxLength <= 0 {
		cfg.AnswerMaxLength = 1000
	}
	return &Engine{retriever: retriever, contexts: contexts, llm: llm, cfg: cfg}
}

// ProcessQuery answers one user question. Failures that still produce a
// user-visible answer are recorded as conversation turns.
func (e *Engine) ProcessQuery(ctx context.Context, query, userID string) core.QAResponse {
	if strings.TrimSpace(query) == "" {
		return core.QAResponse{
			Answer:    invalidQueryAnswer,
			QueryType: core.QueryGeneral,
		}
	}

	parsed := ParseQuery(query)
	filters := buildFilters(parsed)
	history := e.contexts.GetContext(userID)

	// CVE identifiers anchor the retrieval query even when phrased loosely.
	retrievalQuery := query
	if len(parsed.CVEIDs) > 0 {
		retrievalQuery = strings.Join(parsed.CVEIDs, " ") + " " + query
	}

	docs, err := e.retriever.Retrieve(ctx, retrievalQuery, e.cfg.MaxRetrievedDocs, filters, history)
	if err != nil {
		logger.Warn("Retrieval failed, answering without context", "error", err.Error())
		docs = nil
	}

	relevant := docs[:0:0]
	for _, doc := range docs {
		if doc.Score >= e.cfg.MinRelevanceScore {
			relevant = append(relevant, doc)
		}
	}

	var response core.QAResponse
	response.QueryType = parsed.Type

	if len(relevant) == 0 {
		answer, err := e.llm.SynthesizeGeneral(ctx, query)
		if err != nil {
			logger.Error("Answer synthesis failed", err, "user", userID)
			response.Answer = unavailableAnswer
		} else {
			response.Answer = e.truncateAnswer(answer)
			response.Confidence = noContextConfidence
		}
	} else {
		recentHistory := history
		if len(recentHistory) > 3 {
			recentHistory = recentHistory[len(recentHistory)-3:]
		}

		answer, err := e.llm.Synthesize(ctx, query, formatContext(relevant), recentHistory)
		if err != nil {
			logger.Error("Answer synthesis failed", err, "user", userID)
			response.Answer = unavailableAnswer
		} else {
			response.Answer = e.truncateAnswer(answer)
			response.Sources = extractSources(relevant)
			response.Confidence = e.confidence(relevant)
		}
	}

	turn := core.ConversationTurn{
		Query:     query,
		Answer:    response.Answer,
		Timestamp: time.Now(),
	}
	for _, source := range response.Sources {
		turn.Sources = append(turn.Sources, source.URL)
	}
	e.contexts.AddTurn(userID, turn)

	return response
}

// buildFilters maps the parsed query onto the vector-store filter surface.
func buildFilters(parsed core.ParsedQuery) knowledge.SearchFilters {
	var filters knowledge.SearchFilters
	if sourceType, ok := parsed.Filters["source_type"]; ok {
		filters.SourceTypes = []string{sourceType}
	}
	if category, ok := parsed.Filters["category"]; ok {
		filters.Category = category
	}
	if parsed.TimeRange != nil {
		filters.PublishedAfter = parsed.TimeRange.Start
		filters.PublishedBefore = parsed.TimeRange.End
	}
	return filters
}

// formatContext renders retrieved chunks for the synthesis prompt.
func formatContext(docs []knowledge.SearchResult) string {
	var sb strings.Builder
	for i, doc := range docs {
		title := doc.Metadata["title"]
		if title == "" {
			title = doc.DocID
		}
		sb.WriteString("[")
		sb.WriteString(title)
		sb.WriteString("]\n")
		sb.WriteString(doc.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// extractSources deduplicates cited documents by URL, first seen wins.
func extractSources(docs []knowledge.SearchResult) []core.QASource {
	seen := make(map[string]bool)
	var sources []core.QASource
	for _, doc := range docs {
		url := doc.Metadata["url"]
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		sources = append(sources, core.QASource{
			Title:      doc.Metadata["title"],
			URL:        url,
			SourceType: doc.Metadata["source_type"],
			Score:      doc.Score,
		})
	}
	return sources
}

// confidence blends mean relevance with coverage of the retrieval budget.
func (e *Engine) confidence(docs []knowledge.SearchResult) float64 {
	if len(docs) == 0 {
		return 0
	}

	sum := 0.0
	for _, doc := range docs {
		sum += doc.Score
	}
	mean := sum / float64(len(docs))

	coverage := float64(len(docs)) / float64(e.cfg.MaxRetrievedDocs)
	if coverage > 1 {
		coverage = 1
	}

	confidence := 0.7*mean + 0.3*coverage
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// truncateAnswer bounds the answer, preferring a sentence boundary in the
// trailing half of the budget.
func (e *Engine) truncateAnswer(answer string) string {
	runes := []rune(answer)
	if len(runes) <= e.cfg.AnswerMaxLength {
		return answer
	}

	cut := e.cfg.AnswerMaxLength
	for i := cut - 1; i > cut/2; i-- {
		r := runes[i]
		if r == '。' || r == '！' || r == '？' || r == '.' || r == '!' || r == '?' {
			return string(runes[:i+1]) + "..."
		}
	}
	return string(runes[:cut]) + "..."
}
