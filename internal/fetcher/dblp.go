package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

const dblpAPIBase = "https://dblp.org/search/publ/api"

// dblpSubFeedWorkers bounds the per-venue fetch pool.
const dblpSubFeedWorkers = 4

// venueNames maps DBLP venue keys to display names.
var venueNames = map[string]string{
	"sp":   "IEEE S&P",
	"ccs":  "ACM CCS",
	"uss":  "USENIX Security",
	"ndss": "NDSS",
}

// DBLPFetcher pulls recent conference papers from the DBLP search API,
// one sub-feed per configured venue, fetched in parallel.
type DBLPFetcher struct {
	cfg  config.DBLPSource
	base string
}

// NewDBLPFetcher builds the adapter from config.
func NewDBLPFetcher(cfg config.DBLPSource) *DBLPFetcher {
	return &DBLPFetcher{cfg: cfg, base: dblpAPIBase}
}

func (f *DBLPFetcher) Name() string                { return "DBLP" }
func (f *DBLPFetcher) SourceType() core.SourceType { return core.SourceDBLP }
func (f *DBLPFetcher) Enabled() bool               { return f.cfg.Enabled && len(f.cfg.Venues) > 0 }

// dblpResponse mirrors the DBLP search API JSON shape.
type dblpResponse struct {
	Result struct {
		Hits struct {
			Hit []struct {
				Info struct {
					Title   string `json:"title"`
					Venue   string `json:"venue"`
					Year    string `json:"year"`
					EE      string `json:"ee"` // electronic edition URL
					URL     string `json:"url"`
					Authors struct {
						Author []struct {
							Text string `json:"text"`
						} `json:"author"`
					} `json:"authors"`
				} `json:"info"`
			} `json:"hit"`
		} `json:"hits"`
	} `json:"result"`
}

// Fetch pulls every venue on a pool of dblpSubFeedWorkers. A per-venue
// failure contributes to a combined error string but never aborts the batch.
func (f *DBLPFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(config.Duration(f.cfg.Timeout, 30*time.Second))
	year := f.cfg.Year
	if year == 0 {
		year = time.Now().Year()
	}

	sem := semaphore.NewWeighted(dblpSubFeedWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var items []core.Article
	var errs []string

	for _, venue := range f.cfg.Venues {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Sprintf("venue %s: %v", venue, err))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(venue string) {
			defer wg.Done()
			defer sem.Release(1)

			venueItems, err := f.fetchVenue(ctx, client, venue, year)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("venue %s: %v", venue, err))
				return
			}
			items = append(items, venueItems...)
		}(venue)
	}

	wg.Wait()

	result := success(f.Name(), core.SourceDBLP, items)
	if len(errs) > 0 {
		result.Error = strings.Join(errs, "; ")
	}
	return result
}

func (f *DBLPFetcher) fetchVenue(ctx context.Context, client *http.Client, venue string, year int) ([]core.Article, error) {
	query := url.Values{}
	query.Set("q", fmt.Sprintf("venue:%s: year:%d:", venue, year))
	query.Set("format", "json")
	query.Set("h", fmt.Sprintf("%d", f.maxResults()))

	var resp dblpResponse
	if err := getJSON(ctx, client, f.base+"?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	display := venueNames[venue]
	if display == "" {
		display = strings.ToUpper(venue)
	}

	var items []core.Article
	for _, hit := range resp.Result.Hits.Hit {
		info := hit.Info
		link := info.EE
		if link == "" {
			link = info.URL
		}
		if link == "" || info.Title == "" {
			continue
		}

		extras := map[string]string{"venue": venue, "year": info.Year}
		if len(info.Authors.Author) > 0 {
			names := make([]string, 0, len(info.Authors.Author))
			for _, a := range info.Authors.Author {
				names = append(names, a.Text)
			}
			extras["authors"] = strings.Join(names, ", ")
		}

		items = append(items, core.Article{
			Title:      strings.TrimSuffix(strings.TrimSpace(info.Title), "."),
			URL:        link,
			Source:     display,
			SourceType: core.SourceDBLP,
			Extras:     extras,
		})
	}
	return items, nil
}

func (f *DBLPFetcher) maxResults() int {
	if f.cfg.MaxResults > 0 {
		return f.cfg.MaxResults
	}
	return 100
}
