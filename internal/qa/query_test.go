package qa

import (
	"testing"
	"time"

	"secbrief/internal/core"
)

func TestParseQueryCVE(t *testing.T) {
	parsed := ParseQuery("cve-2026-12345 影响范围是什么？")
	if parsed.Type != core.QueryVulnerability {
		t.Errorf("type = %s, want vulnerability", parsed.Type)
	}
	if len(parsed.CVEIDs) != 1 || parsed.CVEIDs[0] != "CVE-2026-12345" {
		t.Errorf("cve ids = %v, want [CVE-2026-12345]", parsed.CVEIDs)
	}
}

func TestParseQueryVulnerabilityKeyword(t *testing.T) {
	for _, query := range []string{"最近有什么新漏洞", "any new RCE exploit this week"} {
		parsed := ParseQuery(query)
		if parsed.Type != core.QueryVulnerability {
			t.Errorf("%q type = %s, want vulnerability", query, parsed.Type)
		}
	}
}

func TestParseQuerySourceFilter(t *testing.T) {
	parsed := ParseQuery("arxiv 上有什么新研究")
	if parsed.Type != core.QuerySource {
		t.Errorf("type = %s, want source", parsed.Type)
	}
	if parsed.Filters["source_type"] != "arxiv" {
		t.Errorf("filters = %v, want source_type=arxiv", parsed.Filters)
	}

	parsed = ParseQuery("cisa 有什么更新")
	if parsed.Filters["source_type"] != "kev" {
		t.Errorf("cisa should map to kev, got %v", parsed.Filters)
	}
}

func TestParseQueryMultipleSourcesDeterministic(t *testing.T) {
	// Two source mentions always resolve to the first in keyword order.
	for i := 0; i < 20; i++ {
		parsed := ParseQuery("nvd 和 kev 哪个更新更快")
		if parsed.Filters["source_type"] != "nvd" {
			t.Fatalf("multi-source query resolved to %q, want nvd", parsed.Filters["source_type"])
		}
	}
}

func TestParseQueryTimeRange(t *testing.T) {
	parsed := ParseQuery("本月的动态")
	if parsed.Type != core.QueryTimeRange {
		t.Fatalf("type = %s, want time_range", parsed.Type)
	}
	if parsed.TimeRange == nil {
		t.Fatal("expected a time range")
	}
	days := parsed.TimeRange.End.Sub(parsed.TimeRange.Start) / (24 * time.Hour)
	if days != 30 {
		t.Errorf("本月 should span 30 days, got %d", days)
	}

	parsed = ParseQuery("last 14 days updates please")
	if parsed.TimeRange == nil {
		t.Fatal("expected a time range")
	}
	days = parsed.TimeRange.End.Sub(parsed.TimeRange.Start) / (24 * time.Hour)
	if days != 14 {
		t.Errorf("last 14 days should span 14 days, got %d", days)
	}

	parsed = ParseQuery("3周 总结")
	if parsed.TimeRange == nil || parsed.TimeRange.End.Sub(parsed.TimeRange.Start)/(24*time.Hour) != 21 {
		t.Errorf("3周 should span 21 days, got %+v", parsed.TimeRange)
	}
}

func TestParseQueryDetectionOrder(t *testing.T) {
	// A CVE mention wins over source and time keywords.
	parsed := ParseQuery("最近 nvd 上的 CVE-2026-1111")
	if parsed.Type != core.QueryVulnerability {
		t.Errorf("cve should win detection, got %s", parsed.Type)
	}
	if parsed.TimeRange == nil {
		t.Error("time range should still be extracted for vulnerability queries")
	}

	// A source mention wins over a bare time keyword.
	parsed = ParseQuery("最近 github 上有什么项目")
	if parsed.Type != core.QuerySource {
		t.Errorf("source should win over time_range, got %s", parsed.Type)
	}
}

func TestParseQueryTopicAndGeneral(t *testing.T) {
	if parsed := ParseQuery("大模型隐私保护进展"); parsed.Type != core.QueryTopic {
		t.Errorf("type = %s, want topic", parsed.Type)
	}
	if parsed := ParseQuery("你好"); parsed.Type != core.QueryGeneral {
		t.Errorf("type = %s, want general", parsed.Type)
	}
}

func TestParseQueryShortTopicKeywordsNeedBoundaries(t *testing.T) {
	// "ai" inside "email" and "ml" inside "html" are not topic mentions.
	for _, query := range []string{"resend the email please", "convert this page from html"} {
		if parsed := ParseQuery(query); parsed.Type != core.QueryGeneral {
			t.Errorf("%q type = %s, want general", query, parsed.Type)
		}
	}

	// Standalone and CJK-adjacent mentions still count.
	for _, query := range []string{"ai alignment progress", "ai研究有什么进展"} {
		if parsed := ParseQuery(query); parsed.Type != core.QueryTopic {
			t.Errorf("%q type = %s, want topic", query, parsed.Type)
		}
	}
}

func TestContainsWord(t *testing.T) {
	cases := []struct {
		s, word string
		want    bool
	}{
		{"send the email now", "ai", false},
		{"ai is everywhere", "ai", true},
		{"what about ai", "ai", true},
		{"ai研究", "ai", true},
		{"html and css", "ml", false},
		{"ml pipelines", "ml", true},
	}
	for _, c := range cases {
		if got := containsWord(c.s, c.word); got != c.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", c.s, c.word, got, c.want)
		}
	}
}

func TestExtractKeywordsLatin(t *testing.T) {
	keywords := extractKeywords("What is the OWASP guidance for LLM, llm apps?")
	seen := make(map[string]bool)
	for _, kw := range keywords {
		seen[kw] = true
	}
	if !seen["OWASP"] || !seen["LLM"] || !seen["apps"] {
		t.Errorf("missing expected keywords: %v", keywords)
	}
	for _, kw := range keywords {
		if kw == "llm" {
			t.Errorf("case-insensitive duplicate kept: %v", keywords)
		}
		if kw == "the" || kw == "is" || kw == "for" {
			t.Errorf("stop word kept: %v", keywords)
		}
	}
}

func TestExtractKeywordsCJKNGrams(t *testing.T) {
	// 5-glyph run emits 2- and 3-grams.
	keywords := extractKeywords("内存安全漏洞")
	want := map[string]bool{"内存": false, "存安": false, "安全": false, "全漏": false, "漏洞": false,
		"内存安": false, "存安全": false, "安全漏": false, "全漏洞": false}
	for _, kw := range keywords {
		if _, ok := want[kw]; ok {
			want[kw] = true
		}
	}
	for gram, found := range want {
		if !found {
			t.Errorf("missing n-gram %q in %v", gram, keywords)
		}
	}

	// A short CJK run passes through whole.
	keywords = extractKeywords("提权 原理")
	joined := ""
	for _, kw := range keywords {
		joined += kw + " "
	}
	if joined != "提权 原理 " {
		t.Errorf("short CJK tokens should pass through: %v", keywords)
	}
}

func TestAtoiDefault(t *testing.T) {
	if got := atoiDefault("15", 0); got != 15 {
		t.Errorf("atoiDefault(15) = %d", got)
	}
	if got := atoiDefault("x", 7); got != 7 {
		t.Errorf("non-numeric should fall back, got %d", got)
	}
	if got := atoiDefault("0", 3); got != 3 {
		t.Errorf("zero should fall back, got %d", got)
	}
}
