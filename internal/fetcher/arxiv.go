package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

const arxivAPIBase = "http://export.arxiv.org/api/query"

// ArxivFetcher pulls recent preprints from the arXiv Atom API, one query
// per configured category.
type ArxivFetcher struct {
	cfg    config.ArxivSource
	parser *gofeed.Parser
	base   string
}

// NewArxivFetcher builds the adapter from config.
func NewArxivFetcher(cfg config.ArxivSource) *ArxivFetcher {
	parser := gofeed.NewParser()
	parser.Client = newClient(config.Duration(cfg.Timeout, 30*time.Second))
	parser.UserAgent = "secbrief/1.0"
	return &ArxivFetcher{cfg: cfg, parser: parser, base: arxivAPIBase}
}

func (f *ArxivFetcher) Name() string                { return "arXiv" }
func (f *ArxivFetcher) SourceType() core.SourceType { return core.SourceArxiv }
func (f *ArxivFetcher) Enabled() bool               { return f.cfg.Enabled }

// Fetch queries each category, newest first, applying the days_back filter
// since the API returns listings in descending submission order.
func (f *ArxivFetcher) Fetch(ctx context.Context) core.FetchResult {
	categories := f.cfg.Categories
	if len(categories) == 0 {
		categories = []string{"cs.CR"}
	}

	var items []core.Article
	var errs []string
	seen := make(map[string]bool)

	for _, category := range categories {
		query := url.Values{}
		query.Set("search_query", "cat:"+category)
		query.Set("sortBy", "submittedDate")
		query.Set("sortOrder", "descending")
		query.Set("max_results", fmt.Sprintf("%d", f.maxResults()))

		feed, err := f.parser.ParseURLWithContext(f.base+"?"+query.Encode(), ctx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("category %s: %v", category, err))
			continue
		}

		for _, entry := range feed.Items {
			if entry.Link == "" || seen[entry.Link] {
				continue
			}
			published := time.Time{}
			if entry.PublishedParsed != nil {
				published = *entry.PublishedParsed
			}
			if !withinDays(published, f.cfg.DaysBack) {
				continue
			}
			seen[entry.Link] = true

			extras := map[string]string{"arxiv_category": category}
			if len(entry.Authors) > 0 {
				names := make([]string, 0, len(entry.Authors))
				for _, a := range entry.Authors {
					names = append(names, a.Name)
				}
				extras["authors"] = strings.Join(names, ", ")
			}

			items = append(items, core.Article{
				Title:         strings.Join(strings.Fields(entry.Title), " "),
				URL:           entry.Link,
				Source:        "arXiv " + category,
				SourceType:    core.SourceArxiv,
				PublishedDate: isoDate(published),
				Content:       strings.TrimSpace(entry.Description),
				Extras:        extras,
			})
		}
	}

	result := success(f.Name(), core.SourceArxiv, items)
	if len(errs) > 0 {
		result.Error = strings.Join(errs, "; ")
	}
	return result
}

func (f *ArxivFetcher) maxResults() int {
	if f.cfg.MaxResults > 0 {
		return f.cfg.MaxResults
	}
	return 50
}
