package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

// BlogFetcher covers vendor research blogs. It tries the configured URL as
// a feed first and falls back to scraping the listing page for article
// links when the URL is plain HTML.
type BlogFetcher struct {
	cfg config.BlogSource
}

// NewBlogFetcher builds the adapter for one configured blog.
func NewBlogFetcher(cfg config.BlogSource) *BlogFetcher {
	return &BlogFetcher{cfg: cfg}
}

func (f *BlogFetcher) Name() string { return f.cfg.Name }

func (f *BlogFetcher) SourceType() core.SourceType {
	switch f.cfg.SourceType {
	case string(core.SourceHunyuan):
		return core.SourceHunyuan
	case string(core.SourceAnthropicRed):
		return core.SourceAnthropicRed
	case string(core.SourceAtumBlog):
		return core.SourceAtumBlog
	default:
		return core.SourceBlog
	}
}

func (f *BlogFetcher) Enabled() bool { return f.cfg.Enabled && f.cfg.URL != "" }

// Fetch parses the blog feed, or scrapes the listing page when the URL
// does not serve a feed.
func (f *BlogFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(30 * time.Second)

	items, feedErr := f.fetchFeed(ctx, client)
	if feedErr != nil {
		var scrapeErr error
		items, scrapeErr = f.scrapeListing(ctx, client)
		if scrapeErr != nil {
			return failure(f.Name(), f.SourceType(),
				fmt.Errorf("feed parse failed (%v) and listing scrape failed: %w", feedErr, scrapeErr))
		}
	}

	max := f.cfg.MaxResults
	if max <= 0 {
		max = 10
	}
	if len(items) > max {
		items = items[:max]
	}

	return success(f.Name(), f.SourceType(), items)
}

func (f *BlogFetcher) fetchFeed(ctx context.Context, client *http.Client) ([]core.Article, error) {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = defaultUserAgent

	feed, err := parser.ParseURLWithContext(f.cfg.URL, ctx)
	if err != nil {
		return nil, err
	}

	var items []core.Article
	for _, entry := range feed.Items {
		if entry.Link == "" || entry.Title == "" {
			continue
		}

		published := ""
		if entry.PublishedParsed != nil {
			published = isoDate(*entry.PublishedParsed)
		} else if entry.UpdatedParsed != nil {
			published = isoDate(*entry.UpdatedParsed)
		}

		content := entry.Content
		if content == "" {
			content = entry.Description
		}

		items = append(items, core.Article{
			Title:         strings.TrimSpace(entry.Title),
			URL:           entry.Link,
			Source:        f.cfg.Name,
			SourceType:    f.SourceType(),
			PublishedDate: published,
			Content:       stripTags(content),
		})
	}
	return items, nil
}

// scrapeListing collects article links from an HTML listing page. Anchors
// inside article/h2/h3 elements are taken as post links; relative URLs are
// resolved against the listing URL.
func (f *BlogFetcher) scrapeListing(ctx context.Context, client *http.Client) ([]core.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	base, err := url.Parse(f.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid blog url: %w", err)
	}

	var items []core.Article
	seen := make(map[string]bool)
	doc.Find("article a[href], h2 a[href], h3 a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		title := strings.TrimSpace(sel.Text())
		if href == "" || title == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		link := base.ResolveReference(ref).String()
		if seen[link] {
			return
		}
		seen[link] = true

		items = append(items, core.Article{
			Title:      title,
			URL:        link,
			Source:     f.cfg.Name,
			SourceType: f.SourceType(),
		})
	})

	if len(items) == 0 {
		return nil, fmt.Errorf("no article links found on listing page")
	}
	return items, nil
}

// stripTags flattens feed HTML snippets to plain text.
func stripTags(s string) string {
	if s == "" || !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}
