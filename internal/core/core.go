package core

import "time"

// SourceType identifies the kind of upstream a fetcher pulls from.
type SourceType string

const (
	SourceArxiv        SourceType = "arxiv"
	SourceRSS          SourceType = "rss"
	SourceDBLP         SourceType = "dblp"
	SourceNVD          SourceType = "nvd"
	SourceKEV          SourceType = "kev"
	SourceHuggingFace  SourceType = "huggingface"
	SourcePWC          SourceType = "pwc"
	SourceBlog         SourceType = "blog"
	SourceGitHub       SourceType = "github"
	SourceHunyuan      SourceType = "hunyuan"
	SourceAnthropicRed SourceType = "anthropic_red"
	SourceAtumBlog     SourceType = "atum_blog"
)

// Article is the universal record produced by every fetcher and consumed
// by everything downstream.
type Article struct {
	ID            int64             `json:"id"`             // Assigned by the store on insert, 0 before persistence
	Title         string            `json:"title"`          // Required
	URL           string            `json:"url"`            // Canonical URL, primary dedup key
	Source        string            `json:"source"`         // Display name of the origin, e.g. "IEEE S&P"
	SourceType    SourceType        `json:"source_type"`    // Enumerated origin tag
	PublishedDate string            `json:"published_date"` // ISO 8601 date, possibly empty
	FetchedAt     time.Time         `json:"fetched_at"`     // Set on persist
	Content       string            `json:"content"`        // May be populated by the content processor
	Summary       string            `json:"summary"`        // LLM-generated
	ZhSummary     string            `json:"zh_summary"`     // LLM-generated translation
	Category      string            `json:"category"`       // LLM-assigned, closed set
	IsPushed      bool              `json:"is_pushed"`      // Transitions only false -> true
	Extras        map[string]string `json:"extras,omitempty"`
}

// FetchResult is a fetcher's return envelope. A fetcher that failed returns
// empty Items and a non-empty Error instead of propagating the failure.
type FetchResult struct {
	Items      []Article  `json:"items"`
	SourceName string     `json:"source_name"`
	SourceType SourceType `json:"source_type"`
	Error      string     `json:"error,omitempty"`
}

// Failed reports whether the fetch carried an error.
func (r FetchResult) Failed() bool { return r.Error != "" }

// Phase names the stage a pipeline run is in.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhasePushing    Phase = "pushing"
	PhaseCompleted  Phase = "completed"
)

// FetchCheckpoint records per-feed fetch progress so a crashed run can resume.
type FetchCheckpoint struct {
	ID              string               `json:"id"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Phase           Phase                `json:"phase"`
	TotalFeeds      int                  `json:"total_feeds"`
	CompletedFeeds  map[string]bool      `json:"completed_feeds"`
	FailedFeeds     map[string]string    `json:"failed_feeds"`
	FetchedArticles map[string][]Article `json:"fetched_articles"`
}

// ProcessCheckpoint records per-article processing progress.
type ProcessCheckpoint struct {
	ID                string            `json:"id"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Phase             Phase             `json:"phase"`
	TotalArticles     int               `json:"total_articles"`
	ProcessedURLs     map[string]bool   `json:"processed_urls"`
	FailedURLs        map[string]string `json:"failed_urls"`
	ProcessedArticles []Article         `json:"processed_articles"`
}

// KnowledgeDocument is one embedded chunk of an article in the knowledge base.
type KnowledgeDocument struct {
	DocID      string            `json:"doc_id"` // "{article_id}_{chunk_index}"
	ArticleID  int64             `json:"article_id"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"embedding"`
	Metadata   map[string]string `json:"metadata"` // title, url, source_type, published_date, category
}

// ConversationTurn is one (question, answer) pair in a user's history.
type ConversationTurn struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources"` // article URLs cited by the answer
}

// ConversationContext is a user's bounded, TTL-governed history.
type ConversationContext struct {
	UserID     string             `json:"user_id"`
	Turns      []ConversationTurn `json:"turns"` // chronological, capped at max_history
	LastActive time.Time          `json:"last_active"`
}

// QueryType classifies a parsed user query.
type QueryType string

const (
	QueryGeneral       QueryType = "general"
	QueryVulnerability QueryType = "vulnerability"
	QueryTopic         QueryType = "topic"
	QuerySource        QueryType = "source"
	QueryTimeRange     QueryType = "time_range"
)

// TimeRange bounds a query to a publication window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParsedQuery is the structured form of a user question.
type ParsedQuery struct {
	Type      QueryType         `json:"type"`
	Keywords  []string          `json:"keywords"`
	Filters   map[string]string `json:"filters"`
	TimeRange *TimeRange        `json:"time_range,omitempty"`
	CVEIDs    []string          `json:"cve_ids,omitempty"`
}

// QASource is one cited document in a QA answer.
type QASource struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	SourceType string  `json:"source_type"`
	Score      float64 `json:"score"`
}

// QAResponse is the engine's answer envelope.
type QAResponse struct {
	Answer     string     `json:"answer"`
	Sources    []QASource `json:"sources"`
	Confidence float64    `json:"confidence"` // [0,1]
	QueryType  QueryType  `json:"query_type"`
}

// Categories is the closed set the enricher may assign. Unrecognized model
// output collapses to CategoryOther.
var Categories = []string{
	"漏洞分析", "安全研究", "AI安全", "系统安全", "密码学", "恶意软件", "数据安全", "其他",
}

// CategoryOther is the fallback category for unrecognized model output.
const CategoryOther = "其他"

// ValidCategory reports whether c is in the closed category set.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
