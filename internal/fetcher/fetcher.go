// Package fetcher turns heterogeneous upstream sources into normalized
// article batches. Every adapter implements Fetcher and reports failures
// inside the FetchResult instead of returning an error.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"secbrief/internal/core"
)

const defaultUserAgent = "secbrief/1.0"

// Fetcher is one source adapter.
type Fetcher interface {
	// Name is the display name of the source.
	Name() string

	// SourceType tags the articles this fetcher emits.
	SourceType() core.SourceType

	// Enabled reports whether the adapter should run this cycle.
	Enabled() bool

	// Fetch pulls the current batch. Network and parse errors are captured
	// in the result's Error field, never raised.
	Fetch(ctx context.Context) core.FetchResult
}

// failure builds the error envelope an adapter returns on any failure.
func failure(name string, sourceType core.SourceType, err error) core.FetchResult {
	return core.FetchResult{
		SourceName: name,
		SourceType: sourceType,
		Error:      err.Error(),
	}
}

// success builds the happy-path envelope.
func success(name string, sourceType core.SourceType, items []core.Article) core.FetchResult {
	return core.FetchResult{
		Items:      items,
		SourceName: name,
		SourceType: sourceType,
	}
}

// newClient returns an HTTP client with the adapter's timeout.
func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// getJSON performs a GET and decodes the JSON response into v.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", url, err)
	}
	return nil
}

// withinDays reports whether t falls inside the trailing daysBack window.
// A zero daysBack disables the filter; a zero t passes it.
func withinDays(t time.Time, daysBack int) bool {
	if daysBack <= 0 || t.IsZero() {
		return true
	}
	return time.Since(t) <= time.Duration(daysBack)*24*time.Hour
}

// isoDate formats a timestamp as the article data model's ISO 8601 date.
func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
