package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"secbrief/internal/config"
)

func TestNVDFetcherFiltersByCVSS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pubStartDate") == "" || r.URL.Query().Get("pubEndDate") == "" {
			t.Error("publication window parameters missing")
		}
		_, _ = w.Write([]byte(`{"vulnerabilities": [
			{"cve": {"id": "CVE-2026-2222", "published": "2026-08-20T10:00:00.000",
			 "descriptions": [{"lang": "es", "value": "descripción"}, {"lang": "en", "value": "Remote code execution."}],
			 "metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}]}}},
			{"cve": {"id": "CVE-2026-3333", "published": "2026-08-20T11:00:00.000",
			 "descriptions": [{"lang": "en", "value": "Minor info leak."}],
			 "metrics": {"cvssMetricV30": [{"cvssData": {"baseScore": 4.3, "baseSeverity": "MEDIUM"}}]}}}
		]}`))
	}))
	defer server.Close()

	cfg := config.NVDSource{DaysBack: 3, MinCVSSScore: 7.0}
	cfg.Enabled = true
	f := NewNVDFetcher(cfg)
	f.base = server.URL

	result := f.Fetch(context.Background())
	if result.Failed() {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item above the CVSS floor, got %d", len(result.Items))
	}

	item := result.Items[0]
	if item.Title != "CVE-2026-2222 (CVSS 9.8)" {
		t.Errorf("unexpected title %q", item.Title)
	}
	if item.Content != "Remote code execution." {
		t.Errorf("expected the English description, got %q", item.Content)
	}
	if item.PublishedDate != "2026-08-20" {
		t.Errorf("unexpected published date %q", item.PublishedDate)
	}
	if item.Extras["severity"] != "critical" {
		t.Errorf("expected lowercased severity, got %q", item.Extras["severity"])
	}
}

func TestNVDScorePrefersV31(t *testing.T) {
	v31 := []nvdMetric{}
	v30 := []nvdMetric{}

	v31 = append(v31, nvdMetric{})
	v31[0].CVSSData.BaseScore = 8.1
	v31[0].CVSSData.BaseSeverity = "HIGH"
	v30 = append(v30, nvdMetric{})
	v30[0].CVSSData.BaseScore = 6.5

	score, severity := nvdScore(v31, v30)
	if score != 8.1 || severity != "HIGH" {
		t.Errorf("nvdScore = %.1f, %q; want 8.1, HIGH", score, severity)
	}

	if score, _ := nvdScore(nil, v30); score != 6.5 {
		t.Errorf("v30 fallback score = %.1f, want 6.5", score)
	}

	score, _ = nvdScore(nil, nil)
	if score != 0 {
		t.Errorf("no metrics should score 0, got %.1f", score)
	}
}
