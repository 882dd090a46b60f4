package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         App         `mapstructure:"app"`
	Schedule    Schedule    `mapstructure:"schedule"`
	Checkpoint  Checkpoint  `mapstructure:"checkpoint"`
	AI          AI          `mapstructure:"ai"`
	Sources     Sources     `mapstructure:"sources"`
	Content     Content     `mapstructure:"content"`
	Push        Push        `mapstructure:"push"`
	Messenger   Messenger   `mapstructure:"messenger"`
	KnowledgeQA KnowledgeQA `mapstructure:"knowledge_qa"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Schedule holds the daily trigger configuration
type Schedule struct {
	Time     string `mapstructure:"time"`     // "HH:MM" local to Timezone
	Timezone string `mapstructure:"timezone"` // IANA zone name
}

// Checkpoint holds resume-state configuration
type Checkpoint struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	MaxAgeHours  int    `mapstructure:"max_age_hours"`
	SaveInterval int    `mapstructure:"save_interval"`
}

// AI holds the LLM provider configuration (OpenAI-compatible chat API)
type AI struct {
	APIBase       string `mapstructure:"api_base"`
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	Timeout       string `mapstructure:"timeout"`
	ScoringEnable bool   `mapstructure:"scoring_enable"` // LLM signal for priority scoring
	SmartSelect   bool   `mapstructure:"smart_select"`   // LLM relevance filter before push
}

// Sources holds per-adapter fetcher configuration
type Sources struct {
	MaxWorkers  int          `mapstructure:"max_workers"`
	Arxiv       ArxivSource  `mapstructure:"arxiv"`
	RSS         RSSSource    `mapstructure:"rss"`
	DBLP        DBLPSource   `mapstructure:"dblp"`
	NVD         NVDSource    `mapstructure:"nvd"`
	KEV         KEVSource    `mapstructure:"kev"`
	HuggingFace BasicSource  `mapstructure:"huggingface"`
	PWC         BasicSource  `mapstructure:"pwc"`
	GitHub      GitHubSource `mapstructure:"github"`
	Blogs       []BlogSource `mapstructure:"blogs"`
}

/// BasicSource is the minimal adapter config: an enable bit plus common knobs.
type BasicSource struct {
	Enabled    bool   `mapstructure:"enabled"`
	Timeout    string `mapstructure:"timeout"`
	MaxResults int    `mapstructure:"max_results"`
}

// ArxivSource configures the arXiv adapter
type ArxivSource struct {
	BasicSource `mapstructure:",squash"`
	Categories  []string `mapstructure:"categories"` // e.g. cs.CR, cs.AI
	DaysBack    int      `mapstructure:"days_back"`
}

// RSSSource configures the multi-feed RSS adapter
type RSSSource struct {
	BasicSource `mapstructure:",squash"`
	Feeds       []RSSFeed `mapstructure:"feeds"`
	DaysBack    int       `mapstructure:"days_back"`
}

// RSSFeed is one subscribed feed
type RSSFeed struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// DBLPSource configures the conference-index adapter
type DBLPSource struct {
	BasicSource `mapstructure:",squash"`
	Venues      []string `mapstructure:"venues"` // e.g. sp, ccs, uss, ndss
	Year        int      `mapstructure:"year"`   // 0 means current year
}

// NVDSource configures the NVD vulnerability adapter
type NVDSource struct {
	BasicSource  `mapstructure:",squash"`
	APIKey       string  `mapstructure:"api_key"`
	DaysBack     int     `mapstructure:"days_back"`
	MinCVSSScore float64 `mapstructure:"min_cvss_score"`
}

// KEVSource configures the CISA KEV adapter
type KEVSource struct {
	BasicSource `mapstructure:",squash"`
	DaysBack    int `mapstructure:"days_back"`
}

// GitHubSource configures the trending-repository adapter
type GitHubSource struct {
	BasicSource     `mapstructure:",squash"`
	Token           string   `mapstructure:"token"`
	Queries         []string `mapstructure:"queries"` // search queries, e.g. "topic:security"
	StarGrowthRatio float64  `mapstructure:"star_growth_ratio"`
}

// BlogSource configures one vendor research blog
type BlogSource struct {
	Enabled    bool   `mapstructure:"enabled"`
	Name       string `mapstructure:"name"`
	URL        string `mapstructure:"url"`         // feed URL or listing page
	SourceType string `mapstructure:"source_type"` // blog, hunyuan, anthropic_red, atum_blog
	MaxResults int    `mapstructure:"max_results"`
}

// Content holds the content processor configuration
type Content struct {
	Timeout          string `mapstructure:"timeout"`
	Proxy            string `mapstructure:"proxy"`
	MaxContentLength int    `mapstructure:"max_content_length"`
}

// Push holds selection and tiered-push configuration
type Push struct {
	Enabled   bool               `mapstructure:"enabled"`
	ChatID    string             `mapstructure:"chat_id"`
	BatchSize int                `mapstructure:"batch_size"`
	HighTier  float64            `mapstructure:"high_tier"` // score >= HighTier is the top tier
	MidTier   float64            `mapstructure:"mid_tier"`
	Weights   map[string]float64 `mapstructure:"weights"` // source_type -> weight override
}

// Messenger holds the chat-platform client configuration
type Messenger struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
	Timeout   string `mapstructure:"timeout"`
}

// KnowledgeQA holds the QA subsystem configuration
type KnowledgeQA struct {
	Vector      Vector      `mapstructure:"vector"`
	Embedding   Embedding   `mapstructure:"embedding"`
	Chunking    Chunking    `mapstructure:"chunking"`
	Retrieval   Retrieval   `mapstructure:"retrieval"`
	QAEngine    QAEngine    `mapstructure:"qa_engine"`
	RateLimit   RateLimit   `mapstructure:"rate_limit"`
	EventServer EventServer `mapstructure:"event_server"`
}

// Vector holds the vector store location
type Vector struct {
	Path           string `mapstructure:"path"`
	CollectionName string `mapstructure:"collection_name"`
}

// Embedding holds the embedding provider configuration
type Embedding struct {
	APIBase        string `mapstructure:"api_base"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	RateLimitDelay string `mapstructure:"rate_limit_delay"`
}

// Chunking holds the article chunking parameters
type Chunking struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// Retrieval holds the enhanced-retriever parameters
type Retrieval struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxChunksPerDoc     int     `mapstructure:"max_chunks_per_doc"`
	MaxHistoryTurns     int     `mapstructure:"max_history_turns"`
	DedupThreshold      float64 `mapstructure:"dedup_threshold"`
}

// QAEngine holds the answer-synthesis parameters
type QAEngine struct {
	MaxRetrievedDocs  int     `mapstructure:"max_retrieved_docs"`
	MinRelevanceScore float64 `mapstructure:"min_relevance_score"`
	AnswerMaxLength   int     `mapstructure:"answer_max_length"`
}

// RateLimit holds the QA request throttle ceilings
type RateLimit struct {
	RequestsPerMinute     int `mapstructure:"requests_per_minute"`
	RequestsPerUserMinute int `mapstructure:"requests_per_user_minute"`
}

// EventServer holds the webhook server configuration
type EventServer struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	VerificationToken string `mapstructure:"verification_token"`
	EncryptKey        string `mapstructure:"encrypt_key"`
	StrictSignature   bool   `mapstructure:"strict_signature"`
}

var globalConfig *Config

// Load loads the configuration from file, environment and defaults.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".secbrief")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached global configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".secbrief")

	viper.SetDefault("schedule.time", "08:30")
	viper.SetDefault("schedule.timezone", "Asia/Shanghai")

	viper.SetDefault("checkpoint.enabled", true)
	viper.SetDefault("checkpoint.dir", ".secbrief/checkpoints")
	viper.SetDefault("checkpoint.max_age_hours", 24)
	viper.SetDefault("checkpoint.save_interval", 10)

	viper.SetDefault("ai.api_base", "https://api.openai.com/v1")
	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.timeout", "60s")
	viper.SetDefault("ai.scoring_enable", false)
	viper.SetDefault("ai.smart_select", false)

	viper.SetDefault("sources.max_workers", 5)
	viper.SetDefault("sources.arxiv.timeout", "30s")
	viper.SetDefault("sources.arxiv.max_results", 50)
	viper.SetDefault("sources.arxiv.days_back", 2)
	viper.SetDefault("sources.arxiv.categories", []string{"cs.CR"})
	viper.SetDefault("sources.rss.timeout", "30s")
	viper.SetDefault("sources.rss.days_back", 3)
	viper.SetDefault("sources.dblp.timeout", "30s")
	viper.SetDefault("sources.dblp.max_results", 100)
	viper.SetDefault("sources.nvd.timeout", "60s")
	viper.SetDefault("sources.nvd.days_back", 3)
	viper.SetDefault("sources.nvd.min_cvss_score", 7.0)
	viper.SetDefault("sources.kev.timeout", "30s")
	viper.SetDefault("sources.kev.days_back", 7)
	viper.SetDefault("sources.huggingface.timeout", "30s")
	viper.SetDefault("sources.huggingface.max_results", 20)
	viper.SetDefault("sources.pwc.timeout", "30s")
	viper.SetDefault("sources.pwc.max_results", 20)
	viper.SetDefault("sources.github.timeout", "30s")
	viper.SetDefault("sources.github.star_growth_ratio", 0.2)

	viper.SetDefault("content.timeout", "30s")
	viper.SetDefault("content.max_content_length", 10000)

	viper.SetDefault("push.enabled", true)
	viper.SetDefault("push.batch_size", 10)
	viper.SetDefault("push.high_tier", 80.0)
	viper.SetDefault("push.mid_tier", 50.0)

	viper.SetDefault("messenger.base_url", "https://open.feishu.cn/open-apis")
	viper.SetDefault("messenger.timeout", "10s")

	viper.SetDefault("knowledge_qa.vector.path", ".secbrief/vectors")
	viper.SetDefault("knowledge_qa.vector.collection_name", "articles")
	viper.SetDefault("knowledge_qa.embedding.api_base", "https://api.openai.com/v1")
	viper.SetDefault("knowledge_qa.embedding.model", "text-embedding-3-small")
	viper.SetDefault("knowledge_qa.embedding.dimension", 1536)
	viper.SetDefault("knowledge_qa.embedding.rate_limit_delay", "200ms")
	viper.SetDefault("knowledge_qa.chunking.chunk_size", 500)
	viper.SetDefault("knowledge_qa.chunking.chunk_overlap", 50)
	viper.SetDefault("knowledge_qa.retrieval.similarity_threshold", 0.5)
	viper.SetDefault("knowledge_qa.retrieval.max_chunks_per_doc", 2)
	viper.SetDefault("knowledge_qa.retrieval.max_history_turns", 3)
	viper.SetDefault("knowledge_qa.retrieval.dedup_threshold", 0.95)
	viper.SetDefault("knowledge_qa.qa_engine.max_retrieved_docs", 5)
	viper.SetDefault("knowledge_qa.qa_engine.min_relevance_score", 0.5)
	viper.SetDefault("knowledge_qa.qa_engine.answer_max_length", 1000)
	viper.SetDefault("knowledge_qa.rate_limit.requests_per_minute", 60)
	viper.SetDefault("knowledge_qa.rate_limit.requests_per_user_minute", 10)
	viper.SetDefault("knowledge_qa.event_server.host", "0.0.0.0")
	viper.SetDefault("knowledge_qa.event_server.port", 8080)
	viper.SetDefault("knowledge_qa.event_server.strict_signature", false)
}

// bindEnvironmentVariables maps provider credentials from conventional env vars
func bindEnvironmentVariables() {
	bindEnvKeys("ai.api_key", []string{"OPENAI_API_KEY", "AI_API_KEY"})
	bindEnvKeys("knowledge_qa.embedding.api_key", []string{"EMBEDDING_API_KEY", "OPENAI_API_KEY"})
	bindEnvKeys("sources.nvd.api_key", []string{"NVD_API_KEY"})
	bindEnvKeys("sources.github.token", []string{"GITHUB_TOKEN"})
	bindEnvKeys("messenger.app_id", []string{"LARK_APP_ID", "FEISHU_APP_ID"})
	bindEnvKeys("messenger.app_secret", []string{"LARK_APP_SECRET", "FEISHU_APP_SECRET"})
	bindEnvKeys("knowledge_qa.event_server.verification_token", []string{"LARK_VERIFICATION_TOKEN"})
	bindEnvKeys("knowledge_qa.event_server.encrypt_key", []string{"LARK_ENCRYPT_KEY"})
}

// bindEnvKeys binds a config key to the first set environment variable
func bindEnvKeys(configKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(configKey, value)
			return
		}
	}
}

// validateConfig checks invariants that would otherwise surface as
// hard-to-diagnose runtime failures.
func validateConfig(config *Config) error {
	if _, err := time.LoadLocation(config.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid schedule.timezone %q: %w", config.Schedule.Timezone, err)
	}
	if _, err := time.Parse("15:04", config.Schedule.Time); err != nil {
		return fmt.Errorf("invalid schedule.time %q (want HH:MM): %w", config.Schedule.Time, err)
	}
	if config.KnowledgeQA.Chunking.ChunkOverlap >= config.KnowledgeQA.Chunking.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			config.KnowledgeQA.Chunking.ChunkOverlap, config.KnowledgeQA.Chunking.ChunkSize)
	}
	if t := config.KnowledgeQA.Retrieval.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %v", t)
	}
	return nil
}

// Duration parses a duration config string, returning fallback when the
// value is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
