package fetcher

import (
	"context"
	"time"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

const kevCatalogURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// KEVFetcher pulls recently added entries from the CISA Known Exploited
// Vulnerabilities catalog, filtered by days_back at the adapter boundary.
type KEVFetcher struct {
	cfg  config.KEVSource
	base string
}

// NewKEVFetcher builds the adapter from config.
func NewKEVFetcher(cfg config.KEVSource) *KEVFetcher {
	return &KEVFetcher{cfg: cfg, base: kevCatalogURL}
}

func (f *KEVFetcher) Name() string                { return "CISA KEV" }
func (f *KEVFetcher) SourceType() core.SourceType { return core.SourceKEV }
func (f *KEVFetcher) Enabled() bool               { return f.cfg.Enabled }

// kevCatalog mirrors the KEV JSON feed shape.
type kevCatalog struct {
	Vulnerabilities []struct {
		CVEID             string `json:"cveID"`
		VendorProject     string `json:"vendorProject"`
		Product           string `json:"product"`
		VulnerabilityName string `json:"vulnerabilityName"`
		DateAdded         string `json:"dateAdded"`
		ShortDescription  string `json:"shortDescription"`
		KnownRansomware   string `json:"knownRansomwareCampaignUse"`
	} `json:"vulnerabilities"`
}

// Fetch downloads the full catalog and keeps entries added within the
// trailing days_back window.
func (f *KEVFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(config.Duration(f.cfg.Timeout, 30*time.Second))

	var catalog kevCatalog
	if err := getJSON(ctx, client, f.base, nil, &catalog); err != nil {
		return failure(f.Name(), core.SourceKEV, err)
	}

	daysBack := f.cfg.DaysBack
	if daysBack <= 0 {
		daysBack = 7
	}

	var items []core.Article
	for _, vuln := range catalog.Vulnerabilities {
		added, err := time.Parse("2006-01-02", vuln.DateAdded)
		if err != nil || !withinDays(added, daysBack) {
			continue
		}

		items = append(items, core.Article{
			Title:         vuln.CVEID + ": " + vuln.VulnerabilityName,
			URL:           "https://nvd.nist.gov/vuln/detail/" + vuln.CVEID + "#kev",
			Source:        "CISA KEV",
			SourceType:    core.SourceKEV,
			PublishedDate: vuln.DateAdded,
			Content:       vuln.ShortDescription,
			Extras: map[string]string{
				"cve_id":           vuln.CVEID,
				"vendor":           vuln.VendorProject,
				"product":          vuln.Product,
				"known_ransomware": vuln.KnownRansomware,
			},
		})
	}

	return success(f.Name(), core.SourceKEV, items)
}
