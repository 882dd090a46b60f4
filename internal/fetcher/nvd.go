package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

const nvdAPIBase = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// NVDFetcher pulls recently published CVEs from the NVD REST API, applying
// the min_cvss_score and days_back filters at the adapter boundary.
type NVDFetcher struct {
	cfg  config.NVDSource
	base string
}

// NewNVDFetcher builds the adapter from config.
func NewNVDFetcher(cfg config.NVDSource) *NVDFetcher {
	return &NVDFetcher{cfg: cfg, base: nvdAPIBase}
}

func (f *NVDFetcher) Name() string                { return "NVD" }
func (f *NVDFetcher) SourceType() core.SourceType { return core.SourceNVD }
func (f *NVDFetcher) Enabled() bool               { return f.cfg.Enabled }

// nvdResponse mirrors the NVD 2.0 API JSON shape.
type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Published    string `json:"published"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				CVSSMetricV31 []struct {
					CVSSData struct {
						BaseScore    float64 `json:"baseScore"`
						BaseSeverity string  `json:"baseSeverity"`
					} `json:"cvssData"`
				} `json:"cvssMetricV31"`
				CVSSMetricV30 []struct {
					CVSSData struct {
						BaseScore    float64 `json:"baseScore"`
						BaseSeverity string  `json:"baseSeverity"`
					} `json:"cvssData"`
				} `json:"cvssMetricV30"`
			} `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

// Fetch queries the publication window [now - days_back, now] and keeps
// CVEs at or above min_cvss_score.
func (f *NVDFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(config.Duration(f.cfg.Timeout, 60*time.Second))

	daysBack := f.cfg.DaysBack
	if daysBack <= 0 {
		daysBack = 3
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(daysBack) * 24 * time.Hour)

	query := url.Values{}
	query.Set("pubStartDate", start.Format("2006-01-02T15:04:05.000"))
	query.Set("pubEndDate", end.Format("2006-01-02T15:04:05.000"))

	headers := map[string]string{}
	if f.cfg.APIKey != "" {
		headers["apiKey"] = f.cfg.APIKey
	}

	var resp nvdResponse
	if err := getJSON(ctx, client, f.base+"?"+query.Encode(), headers, &resp); err != nil {
		return failure(f.Name(), core.SourceNVD, err)
	}

	var items []core.Article
	for _, vuln := range resp.Vulnerabilities {
		cve := vuln.CVE
		score, severity := nvdScore(cve.Metrics.CVSSMetricV31, cve.Metrics.CVSSMetricV30)
		if score < f.cfg.MinCVSSScore {
			continue
		}

		description := ""
		for _, d := range cve.Descriptions {
			if d.Lang == "en" {
				description = d.Value
				break
			}
		}

		published := ""
		if t, err := time.Parse("2006-01-02T15:04:05.000", cve.Published); err == nil {
			published = isoDate(t)
		}

		items = append(items, core.Article{
			Title:         fmt.Sprintf("%s (CVSS %.1f)", cve.ID, score),
			URL:           "https://nvd.nist.gov/vuln/detail/" + cve.ID,
			Source:        "NVD",
			SourceType:    core.SourceNVD,
			PublishedDate: published,
			Content:       description,
			Extras: map[string]string{
				"cve_id":     cve.ID,
				"cvss_score": fmt.Sprintf("%.1f", score),
				"severity":   strings.ToLower(severity),
			},
		})
	}

	return success(f.Name(), core.SourceNVD, items)
}

type nvdMetric = struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

func nvdScore(v31, v30 []nvdMetric) (float64, string) {
	if len(v31) > 0 {
		return v31[0].CVSSData.BaseScore, v31[0].CVSSData.BaseSeverity
	}
	if len(v30) > 0 {
		return v30[0].CVSSData.BaseScore, v30[0].CVSSData.BaseSeverity
	}
	return 0, ""
}
