package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

// RSSFetcher pulls a set of subscribed RSS/Atom feeds. It exposes per-feed
// granularity so the scheduler can checkpoint and resume individual feeds.
type RSSFetcher struct {
	cfg    config.RSSSource
	parser *gofeed.Parser
}

// NewRSSFetcher builds the adapter from config.
func NewRSSFetcher(cfg config.RSSSource) *RSSFetcher {
	parser := gofeed.NewParser()
	parser.Client = newClient(config.Duration(cfg.Timeout, 30*time.Second))
	parser.UserAgent = defaultUserAgent
	return &RSSFetcher{cfg: cfg, parser: parser}
}

func (f *RSSFetcher) Name() string                { return "RSS Feeds" }
func (f *RSSFetcher) SourceType() core.SourceType { return core.SourceRSS }
func (f *RSSFetcher) Enabled() bool               { return f.cfg.Enabled && len(f.cfg.Feeds) > 0 }

// FeedURLs lists the subscribed feed URLs, in config order.
func (f *RSSFetcher) FeedURLs() []string {
	urls := make([]string, 0, len(f.cfg.Feeds))
	for _, feed := range f.cfg.Feeds {
		urls = append(urls, feed.URL)
	}
	return urls
}

// FetchOne pulls a single subscribed feed by URL.
func (f *RSSFetcher) FetchOne(ctx context.Context, feedURL string) ([]core.Article, error) {
	name := feedURL
	for _, feed := range f.cfg.Feeds {
		if feed.URL == feedURL {
			name = feed.Name
			break
		}
	}

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}

	var items []core.Article
	for _, item := range parsed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		published := time.Time{}
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		if !withinDays(published, f.cfg.DaysBack) {
			continue
		}

		items = append(items, core.Article{
			Title:         strings.TrimSpace(item.Title),
			URL:           item.Link,
			Source:        name,
			SourceType:    core.SourceRSS,
			PublishedDate: isoDate(published),
			Content:       strings.TrimSpace(item.Description),
		})
	}
	return items, nil
}

// Fetch pulls every subscribed feed sequentially. Per-feed failures are
// folded into a combined error string; surviving feeds still contribute.
func (f *RSSFetcher) Fetch(ctx context.Context) core.FetchResult {
	var items []core.Article
	var errs []string

	for _, url := range f.FeedURLs() {
		feedItems, err := f.FetchOne(ctx, url)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		items = append(items, feedItems...)
	}

	result := success(f.Name(), core.SourceRSS, items)
	if len(errs) > 0 {
		result.Error = strings.Join(errs, "; ")
	}
	return result
}
