package fetcher

import (
	"context"
	"fmt"
	"time"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

const pwcAPIBase = "https://paperswithcode.com/api/v1/papers/"

// PWCFetcher pulls the latest papers from the Papers with Code API.
type PWCFetcher struct {
	cfg  config.BasicSource
	base string
}

// NewPWCFetcher builds the adapter from config.
func NewPWCFetcher(cfg config.BasicSource) *PWCFetcher {
	return &PWCFetcher{cfg: cfg, base: pwcAPIBase}
}

func (f *PWCFetcher) Name() string                { return "Papers with Code" }
func (f *PWCFetcher) SourceType() core.SourceType { return core.SourcePWC }
func (f *PWCFetcher) Enabled() bool               { return f.cfg.Enabled }

// pwcResponse mirrors the paginated papers listing.
type pwcResponse struct {
	Results []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Abstract  string `json:"abstract"`
		URLAbs    string `json:"url_abs"`
		Published string `json:"published"`
	} `json:"results"`
}

// Fetch pulls the newest page of papers, capped at max_results.
func (f *PWCFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(config.Duration(f.cfg.Timeout, 30*time.Second))

	max := f.cfg.MaxResults
	if max <= 0 {
		max = 20
	}

	url := fmt.Sprintf("%s?ordering=-published&items_per_page=%d", f.base, max)
	var resp pwcResponse
	if err := getJSON(ctx, client, url, nil, &resp); err != nil {
		return failure(f.Name(), core.SourcePWC, err)
	}

	var items []core.Article
	for _, paper := range resp.Results {
		link := paper.URLAbs
		if link == "" && paper.ID != "" {
			link = "https://paperswithcode.com/paper/" + paper.ID
		}
		if link == "" || paper.Title == "" {
			continue
		}

		published := ""
		if t, err := time.Parse("2006-01-02", paper.Published); err == nil {
			published = isoDate(t)
		}

		items = append(items, core.Article{
			Title:         paper.Title,
			URL:           link,
			Source:        "Papers with Code",
			SourceType:    core.SourcePWC,
			PublishedDate: published,
			Content:       paper.Abstract,
		})
	}

	return success(f.Name(), core.SourcePWC, items)
}
