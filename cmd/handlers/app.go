package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"secbrief/internal/checkpoint"
	"secbrief/internal/config"
	"secbrief/internal/content"
	"secbrief/internal/embedding"
	"secbrief/internal/enrich"
	"secbrief/internal/fetcher"
	"secbrief/internal/knowledge"
	"secbrief/internal/logger"
	"secbrief/internal/messenger"
	"secbrief/internal/push"
	"secbrief/internal/qa"
	"secbrief/internal/scheduler"
	"secbrief/internal/score"
	"secbrief/internal/store"
)

// openStore opens the article database under the configured data dir.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.NewStore(cfg.App.DataDir)
}

// newCheckpointer builds the checkpointer from config.
func newCheckpointer(cfg *config.Config) (*checkpoint.Checkpointer, error) {
	opts := checkpoint.DefaultOptions(cfg.Checkpoint.Dir)
	if cfg.Checkpoint.MaxAgeHours > 0 {
		opts.MaxAge = time.Duration(cfg.Checkpoint.MaxAgeHours) * time.Hour
	}
	if cfg.Checkpoint.SaveInterval > 0 {
		opts.SaveInterval = cfg.Checkpoint.SaveInterval
	}
	return checkpoint.New(opts)
}

// buildFetchers instantiates every configured source adapter. The RSS
// fetcher is returned separately because the scheduler resumes it per feed.
func buildFetchers(cfg *config.Config, st *store.Store) ([]fetcher.Fetcher, *fetcher.RSSFetcher) {
	sources := cfg.Sources

	fetchers := []fetcher.Fetcher{
		fetcher.NewArxivFetcher(sources.Arxiv),
		fetcher.NewDBLPFetcher(sources.DBLP),
		fetcher.NewNVDFetcher(sources.NVD),
		fetcher.NewKEVFetcher(sources.KEV),
		fetcher.NewHuggingFaceFetcher(sources.HuggingFace),
		fetcher.NewPWCFetcher(sources.PWC),
		fetcher.NewGitHubFetcher(sources.GitHub, st),
	}
	for _, blog := range sources.Blogs {
		fetchers = append(fetchers, fetcher.NewBlogFetcher(blog))
	}

	return fetchers, fetcher.NewRSSFetcher(sources.RSS)
}

// buildScheduler wires the full pipeline for run/run-once.
func buildScheduler(cfg *config.Config, st *store.Store) (*scheduler.Scheduler, error) {
	cp, err := newCheckpointer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize checkpointer: %w", err)
	}

	fetchers, rss := buildFetchers(cfg, st)
	manager := fetcher.NewManager(cfg.Sources.MaxWorkers)

	processor, err := content.NewProcessor(content.Options{
		Timeout:          config.Duration(cfg.Content.Timeout, 30*time.Second),
		ProxyURL:         cfg.Content.Proxy,
		MaxContentLength: cfg.Content.MaxContentLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content processor: %w", err)
	}

	llm, err := enrich.NewClient(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	var llmScorer score.LLMScorer
	if cfg.AI.ScoringEnable {
		llmScorer = llm
	}
	scorer := score.NewScorer(cfg.Push, llmScorer)

	var sender push.Messenger
	var notifier scheduler.Notifier
	if cfg.Push.Enabled {
		lark, err := messenger.NewClient(cfg.Messenger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize messenger: %w", err)
		}
		sender = lark
		notifier = lark
	}

	var selector push.Selector
	if cfg.AI.SmartSelect {
		selector = push.NewSmartSelector(llm)
	}
	pusher := push.NewTieredPusher(cfg.Push, selector, sender)

	var indexer scheduler.Indexer
	if kb, err := buildKnowledgeBase(cfg); err != nil {
		logger.Warn("Knowledge base unavailable, run will not index articles", "error", err.Error())
	} else {
		indexer = kb
	}

	return scheduler.New(cfg, st, cp, manager, fetchers, rss,
		processor, llm, scorer, pusher, notifier, indexer), nil
}

// buildKnowledgeBase wires the vector store and embedding client.
func buildKnowledgeBase(cfg *config.Config) (*knowledge.KnowledgeBase, error) {
	embedder, err := embedding.NewClient(cfg.KnowledgeQA.Embedding)
	if err != nil {
		return nil, err
	}

	path := cfg.KnowledgeQA.Vector.Path
	if path == "" {
		path = filepath.Join(cfg.App.DataDir, "vectors.json")
	}
	vectorStore, err := knowledge.NewFileVectorStore(path)
	if err != nil {
		return nil, err
	}

	return knowledge.New(vectorStore, embedder, cfg.KnowledgeQA.Chunking), nil
}

// buildQAEngine wires retrieval, context and synthesis for serve/evaluate.
func buildQAEngine(cfg *config.Config, kb *knowledge.KnowledgeBase) (*qa.Engine, error) {
	llm, err := enrich.NewClient(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	retriever := qa.NewRetriever(kb, cfg.KnowledgeQA.Retrieval)
	contexts := qa.NewContextManager(5, 30*time.Minute)
	return qa.NewEngine(retriever, contexts, llm, cfg.KnowledgeQA.QAEngine), nil
}

// ensureIndex populates an empty knowledge base from the article store.
func ensureIndex(ctx context.Context, kb *knowledge.KnowledgeBase, st *store.Store) error {
	if kb.Count() > 0 {
		return nil
	}

	articles, err := st.AllArticles()
	if err != nil {
		return fmt.Errorf("failed to load articles for indexing: %w", err)
	}
	if len(articles) == 0 {
		return nil
	}

	logger.Info("Building knowledge base index", "articles", len(articles))
	added, err := kb.AddArticles(ctx, articles)
	if err != nil {
		return err
	}
	logger.Info("Knowledge base index built", "indexed", added)
	return nil
}
