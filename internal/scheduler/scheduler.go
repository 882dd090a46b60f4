// Package scheduler drives the daily pipeline run: fetch, dedup, enrich,
// persist, score and push, with checkpointed resume across crashes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"secbrief/internal/checkpoint"
	"secbrief/internal/config"
	"secbrief/internal/content"
	"secbrief/internal/core"
	"secbrief/internal/enrich"
	"secbrief/internal/fetcher"
	"secbrief/internal/logger"
	"secbrief/internal/messenger"
	"secbrief/internal/push"
	"secbrief/internal/score"
	"secbrief/internal/store"
)

const processWorkerCap = 10

// Enricher fills in the LLM-generated article fields.
type Enricher interface {
	Enrich(ctx context.Context, title, content string) (enrich.Enrichment, error)
}

// Pusher dispatches scored articles to the chat.
type Pusher interface {
	Push(ctx context.Context, candidates []score.Scored) (push.PushReport, error)
}

// Notifier carries the end-of-run error summary.
type Notifier interface {
	SendText(ctx context.Context, receiver messenger.ReceiverType, receiveID, text string) error
}

// Indexer feeds freshly persisted articles into the knowledge base.
type Indexer interface {
	AddArticles(ctx context.Context, articles []core.Article) (int, error)
}

// Scheduler owns one pipeline's components and its daily trigger.
type Scheduler struct {
	cfg        *config.Config
	store      *store.Store
	checkpoint *checkpoint.Checkpointer
	manager    *fetcher.Manager
	fetchers   []fetcher.Fetcher
	rss        *fetcher.RSSFetcher
	processor  *content.Processor
	enricher   Enricher
	scorer     *score.Scorer
	pusher     Pusher
	notifier   Notifier
	indexer    Indexer // optional
}

// New wires a scheduler. rss may be nil when the RSS source is disabled;
// indexer may be nil when the knowledge base is not maintained inline.
func New(cfg *config.Config, st *store.Store, cp *checkpoint.Checkpointer,
	manager *fetcher.Manager, fetchers []fetcher.Fetcher, rss *fetcher.RSSFetcher,
	processor *content.Processor, enricher Enricher, scorer *score.Scorer,
	pusher Pusher, notifier Notifier, indexer Indexer) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		store:      st,
		checkpoint: cp,
		manager:    manager,
		fetchers:   fetchers,
		rss:        rss,
		processor:  processor,
		enricher:   enricher,
		scorer:     scorer,
		pusher:     pusher,
		notifier:   notifier,
		indexer:    indexer,
	}
}

// Run fires one pipeline run at the configured local time every day until
// the context is cancelled. A run in flight finishes before the loop
// observes cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	location, err := time.LoadLocation(s.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.cfg.Schedule.Timezone, err)
	}

	for {
		next, err := nextRunTime(time.Now().In(location), s.cfg.Schedule.Time)
		if err != nil {
			return err
		}
		logger.Info("Next pipeline run scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			logger.Error("Pipeline run failed", err)
		}
	}
}

// nextRunTime computes the next occurrence of the HH:MM schedule after now.
func nextRunTime(now time.Time, schedule string) (time.Time, error) {
	parsed, err := time.Parse("15:04", schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule time %q: %w", schedule, err)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// RunOnce executes one full pipeline run, resuming any interrupted one.
// The checkpoint is cleared only on full success.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	started := time.Now()
	logger.Info("Pipeline run starting")

	existing, err := s.store.ExistingURLs()
	if err != nil {
		return fmt.Errorf("failed to load existing urls: %w", err)
	}

	articles, fetchErrors, err := s.fetchStage(ctx)
	if err != nil {
		return err
	}

	survivors := dedupArticles(articles, existing)
	logger.Info("Fetch stage complete",
		"fetched", len(articles), "new", len(survivors), "failures", len(fetchErrors))

	processed, err := s.processStage(ctx, survivors)
	if err != nil {
		return err
	}

	if s.indexer != nil && len(processed) > 0 {
		if added, err := s.indexer.AddArticles(ctx, processed); err != nil {
			logger.Warn("Knowledge-base indexing failed", "error", err.Error())
		} else {
			logger.Info("Indexed new articles", "chunks_added", added)
		}
	}

	if err := s.pushStage(ctx); err != nil {
		// Leave the checkpoint in place so the next run retries the push.
		return err
	}

	if err := s.checkpoint.Clear(); err != nil {
		logger.Warn("Failed to clear checkpoint", "error", err.Error())
	}

	s.notifyFetchErrors(ctx, fetchErrors)

	logger.Info("Pipeline run complete", "duration", time.Since(started).String())
	return nil
}

// fetchStage runs all enabled fetchers with per-sub-feed resume for RSS.
// Fetch failures never abort the run; they come back as summary lines.
func (s *Scheduler) fetchStage(ctx context.Context) ([]core.Article, []string, error) {
	var rssURLs []string
	if s.rss != nil && s.rss.Enabled() {
		rssURLs = s.rss.FeedURLs()
	}

	var otherNames []string
	for _, f := range s.fetchers {
		if f.Enabled() {
			otherNames = append(otherNames, f.Name())
		}
	}

	allKeys := append(append([]string{}, rssURLs...), otherNames...)
	if _, err := s.checkpoint.StartFetch(allKeys); err != nil {
		return nil, nil, fmt.Errorf("failed to start fetch checkpoint: %w", err)
	}

	pending := make(map[string]bool)
	for _, key := range s.checkpoint.PendingFeeds(allKeys) {
		pending[key] = true
	}

	var fetchErrors []string

	// Per-feed RSS fetch so a crash resumes mid-source.
	for _, feedURL := range rssURLs {
		if !pending[feedURL] {
			continue
		}
		items, err := s.rss.FetchOne(ctx, feedURL)
		if err != nil {
			fetchErrors = append(fetchErrors, err.Error())
			if err := s.checkpoint.MarkFeedFailed(feedURL, err); err != nil {
				logger.Warn("Failed to checkpoint feed failure", "error", err.Error())
			}
			continue
		}
		if err := s.checkpoint.MarkFeedDone(feedURL, items); err != nil {
			logger.Warn("Failed to checkpoint feed", "error", err.Error())
		}
	}

	var pendingFetchers []fetcher.Fetcher
	for _, f := range s.fetchers {
		if f.Enabled() && pending[f.Name()] {
			pendingFetchers = append(pendingFetchers, f)
		}
	}

	for _, result := range s.manager.FetchAll(ctx, pendingFetchers) {
		if result.Failed() {
			fetchErrors = append(fetchErrors,
				fmt.Sprintf("%s: %s", result.SourceName, result.Error))
			if err := s.checkpoint.MarkFeedFailed(result.SourceName, errors.New(result.Error)); err != nil {
				logger.Warn("Failed to checkpoint fetcher failure", "error", err.Error())
			}
			continue
		}
		if err := s.checkpoint.MarkFeedDone(result.SourceName, result.Items); err != nil {
			logger.Warn("Failed to checkpoint fetcher", "error", err.Error())
		}
	}

	fetched := s.checkpoint.FetchedArticles()
	if err := s.checkpoint.CompleteFetch(); err != nil {
		return nil, nil, fmt.Errorf("failed to complete fetch checkpoint: %w", err)
	}

	var articles []core.Article
	for _, items := range fetched {
		articles = append(articles, items...)
	}
	return articles, fetchErrors, nil
}

// dedupArticles drops items whose URL is already stored or already seen
// earlier in this batch.
func dedupArticles(articles []core.Article, existing map[string]bool) []core.Article {
	seen := make(map[string]bool, len(articles))
	var survivors []core.Article
	for _, article := range articles {
		if article.URL == "" || existing[article.URL] || seen[article.URL] {
			continue
		}
		seen[article.URL] = true
		survivors = append(survivors, article)
	}
	return survivors
}

// processStage runs content extraction, enrichment and persistence over a
// bounded worker pool, checkpointing each article. It returns the articles
// persisted during this invocation.
func (s *Scheduler) processStage(ctx context.Context, survivors []core.Article) ([]core.Article, error) {
	if _, err := s.checkpoint.StartProcess(survivors); err != nil {
		return nil, fmt.Errorf("failed to start process checkpoint: %w", err)
	}

	pending := s.checkpoint.PendingArticles(survivors)
	if len(pending) == 0 {
		if err := s.checkpoint.CompleteProcess(); err != nil {
			return nil, fmt.Errorf("failed to complete process checkpoint: %w", err)
		}
		return nil, nil
	}

	workers := processWorkerCap
	if len(pending) < workers {
		workers = len(pending)
	}

	results := make([]*core.Article, len(pending))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := range pending {
		group.Go(func() error {
			article := pending[i]
			saved := s.processOne(groupCtx, &article)
			if saved {
				results[i] = &article
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := s.checkpoint.CompleteProcess(); err != nil {
		return nil, fmt.Errorf("failed to complete process checkpoint: %w", err)
	}

	var processed []core.Article
	for _, article := range results {
		if article != nil {
			processed = append(processed, *article)
		}
	}
	return processed, nil
}

// processOne runs one article through content extraction, enrichment and
// the store. It reports whether the article was persisted.
func (s *Scheduler) processOne(ctx context.Context, article *core.Article) bool {
	if content.NeedsBody(article.SourceType) {
		if text := s.processor.FetchBody(article.URL); text != "" {
			article.Content = text
		}
	}

	enrichment, err := s.enricher.Enrich(ctx, article.Title, article.Content)
	if err != nil {
		// Persist anyway; the article is still useful without LLM fields.
		logger.Warn("Enrichment failed", "url", article.URL, "error", err.Error())
		if cpErr := s.checkpoint.MarkArticleFailed(article.URL, err); cpErr != nil {
			logger.Warn("Failed to checkpoint enrichment failure", "error", cpErr.Error())
		}
	} else {
		article.Summary = enrichment.Summary
		article.Category = enrichment.Category
		article.ZhSummary = enrichment.ZhSummary
	}

	if _, saveErr := s.store.Save(article); saveErr != nil {
		if errors.Is(saveErr, store.ErrDuplicateURL) {
			// A concurrent worker or earlier run already stored it.
			_ = s.checkpoint.MarkArticleDone(*article)
			return false
		}
		logger.Error("Failed to persist article", saveErr, "url", article.URL)
		if cpErr := s.checkpoint.MarkArticleFailed(article.URL, saveErr); cpErr != nil {
			logger.Warn("Failed to checkpoint save failure", "error", cpErr.Error())
		}
		return false
	}

	if err == nil {
		if cpErr := s.checkpoint.MarkArticleDone(*article); cpErr != nil {
			logger.Warn("Failed to checkpoint article", "error", cpErr.Error())
		}
	}
	return true
}

// pushStage scores the unpushed backlog, dispatches it and marks what
// actually went out.
func (s *Scheduler) pushStage(ctx context.Context) error {
	unpushed, err := s.store.Unpushed()
	if err != nil {
		return fmt.Errorf("failed to load unpushed articles: %w", err)
	}
	if len(unpushed) == 0 {
		return nil
	}

	scored := s.scorer.ScoreAll(ctx, unpushed)
	report, pushErr := s.pusher.Push(ctx, scored)

	if len(report.PushedIDs) > 0 {
		if err := s.store.MarkPushed(report.PushedIDs); err != nil {
			return fmt.Errorf("failed to mark pushed articles: %w", err)
		}
	}
	if pushErr != nil {
		return fmt.Errorf("push stage failed: %w", pushErr)
	}
	return nil
}

// notifyFetchErrors posts the end-of-run source failure summary.
func (s *Scheduler) notifyFetchErrors(ctx context.Context, fetchErrors []string) {
	if len(fetchErrors) == 0 || s.notifier == nil || !s.cfg.Push.Enabled || s.cfg.Push.ChatID == "" {
		return
	}

	text := fmt.Sprintf("今日采集完成，%d 个来源失败:\n%s",
		len(fetchErrors), strings.Join(fetchErrors, "\n"))
	if err := s.notifier.SendText(ctx, messenger.ReceiverChat, s.cfg.Push.ChatID, text); err != nil {
		logger.Warn("Failed to send fetch error summary", "error", err.Error())
	}
}
