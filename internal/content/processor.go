// Package content fetches article bodies and normalizes HTML to plain text.
package content

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"secbrief/internal/core"
	"secbrief/internal/logger"
)

// TruncationMarker is appended when a body exceeds MaxContentLength.
const TruncationMarker = "...[truncated]"

// Options configures the processor.
type Options struct {
	Timeout          time.Duration
	ProxyURL         string // honoured for all outbound requests when set
	MaxContentLength int
	UserAgent        string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:          30 * time.Second,
		MaxContentLength: 10000,
		UserAgent:        "secbrief/1.0",
	}
}

// Processor fetches the article URL and extracts a readable body for source
// types whose listing carries only an abstract and a link.
type Processor struct {
	client *http.Client
	opts   Options
}

// NewProcessor builds a Processor from options.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 10000
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "secbrief/1.0"
	}

	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Processor{
		client: &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:   opts,
	}, nil
}

// NeedsBody reports whether articles of this source type carry only an
// abstract upstream and need a separate body fetch.
func NeedsBody(sourceType core.SourceType) bool {
	return sourceType == core.SourceRSS
}

// FetchBody retrieves the article URL and returns extracted plain text.
// Failures return an empty string; the pipeline proceeds with the abstract.
func (p *Processor) FetchBody(articleURL string) string {
	req, err := http.NewRequest(http.MethodGet, articleURL, nil)
	if err != nil {
		logger.Warn("Invalid article url", "url", articleURL, "error", err.Error())
		return ""
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Warn("Content fetch failed", "url", articleURL, "error", err.Error())
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Content fetch returned non-200", "url", articleURL, "status", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		logger.Warn("Content read failed", "url", articleURL, "error", err.Error())
		return ""
	}

	return p.ExtractText(string(body))
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// ExtractText strips boilerplate from HTML and returns plain text capped at
// MaxContentLength.
func (p *Processor) ExtractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	// Remove common non-content elements
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .cookie-banner").Remove()

	var textBuilder strings.Builder
	mainContentSelectors := []string{
		"article", "main", ".main-content", ".entry-content", ".post-content", ".post-body", ".article-body",
		"[role='main']",
		".content", "#content",
	}

	appendBlocks := func(s *goquery.Selection) {
		s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if text == "" {
				return
			}
			textBuilder.WriteString(text)
			textBuilder.WriteString("\n\n")
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).First().Each(func(_ int, s *goquery.Selection) {
			appendBlocks(s)
		})
		if textBuilder.Len() > 0 {
			break
		}
	}

	// No recognizable main container; fall back to the whole body
	if textBuilder.Len() == 0 {
		doc.Find("body").Each(func(_ int, s *goquery.Selection) {
			appendBlocks(s)
		})
	}

	text := strings.TrimSpace(multiNewline.ReplaceAllString(textBuilder.String(), "\n\n"))
	return p.truncate(text)
}

// truncate enforces MaxContentLength with a marker, cutting on a rune
// boundary so multi-byte text is never split.
func (p *Processor) truncate(text string) string {
	if len(text) <= p.opts.MaxContentLength {
		return text
	}
	runes := []rune(text)
	limit := p.opts.MaxContentLength
	if len(runes) < limit {
		limit = len(runes)
	}
	cut := string(runes[:limit])
	return cut + TruncationMarker
}
