package fetcher

import (
	"context"
	"fmt"
	"time"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

const hfPapersURL = "https://huggingface.co/api/daily_papers"

// HuggingFaceFetcher pulls the Hugging Face daily-papers listing.
type HuggingFaceFetcher struct {
	cfg  config.BasicSource
	base string
}

// NewHuggingFaceFetcher builds the adapter from config.
func NewHuggingFaceFetcher(cfg config.BasicSource) *HuggingFaceFetcher {
	return &HuggingFaceFetcher{cfg: cfg, base: hfPapersURL}
}

func (f *HuggingFaceFetcher) Name() string                { return "HuggingFace Papers" }
func (f *HuggingFaceFetcher) SourceType() core.SourceType { return core.SourceHuggingFace }
func (f *HuggingFaceFetcher) Enabled() bool               { return f.cfg.Enabled }

// hfPaper mirrors one daily-papers entry.
type hfPaper struct {
	Paper struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Summary  string `json:"summary"`
		Upvotes  int    `json:"upvotes"`
		Authors  []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"paper"`
	PublishedAt string `json:"publishedAt"`
}

// Fetch pulls the current listing, truncated to max_results.
func (f *HuggingFaceFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(config.Duration(f.cfg.Timeout, 30*time.Second))

	var papers []hfPaper
	if err := getJSON(ctx, client, f.base, nil, &papers); err != nil {
		return failure(f.Name(), core.SourceHuggingFace, err)
	}

	max := f.cfg.MaxResults
	if max <= 0 {
		max = 20
	}
	if len(papers) > max {
		papers = papers[:max]
	}

	var items []core.Article
	for _, entry := range papers {
		if entry.Paper.ID == "" || entry.Paper.Title == "" {
			continue
		}

		published := ""
		if t, err := time.Parse(time.RFC3339, entry.PublishedAt); err == nil {
			published = isoDate(t)
		}

		items = append(items, core.Article{
			Title:         entry.Paper.Title,
			URL:           "https://huggingface.co/papers/" + entry.Paper.ID,
			Source:        "HuggingFace Papers",
			SourceType:    core.SourceHuggingFace,
			PublishedDate: published,
			Content:       entry.Paper.Summary,
			Extras: map[string]string{
				"upvotes": fmt.Sprintf("%d", entry.Paper.Upvotes),
			},
		})
	}

	return success(f.Name(), core.SourceHuggingFace, items)
}
