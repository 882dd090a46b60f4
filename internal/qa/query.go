// Package qa implements the question-answering path: query understanding,
// history-aware retrieval, per-user context, rate limiting and answer
// synthesis over the knowledge base.
package qa

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"secbrief/internal/core"
)

var cvePattern = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)

var (
	vulnerabilityKeywords = []string{
		"漏洞", "攻击", "补丁", "提权", "利用链",
		"exploit", "zero-day", "0day", "rce", "vulnerability", "cvss", "poc",
	}

	// sourceKeywords map a mention to the source_type filter value. Checked
	// in listed order, so a query naming several sources always resolves to
	// the same filter.
	sourceKeywords = []struct{ keyword, source string }{
		{"arxiv", "arxiv"},
		{"论文", "arxiv"},
		{"nvd", "nvd"},
		{"kev", "kev"},
		{"cisa", "kev"},
		{"dblp", "dblp"},
		{"会议", "dblp"},
		{"huggingface", "huggingface"},
		{"hf", "huggingface"},
		{"paperswithcode", "pwc"},
		{"pwc", "pwc"},
		{"github", "github"},
		{"博客", "rss"},
		{"blog", "rss"},
		{"rss", "rss"},
	}

	topicKeywords = []string{
		"ai", "ml", "人工智能", "机器学习", "大模型", "llm",
		"安全", "隐私", "security", "privacy",
		"系统", "架构", "system", "architecture",
	}

	stopWords = map[string]bool{
		"the": true, "a": true, "an": true, "of": true, "in": true, "on": true,
		"is": true, "are": true, "was": true, "what": true, "how": true,
		"and": true, "or": true, "to": true, "for": true, "about": true,
		"最近": true, "哪些": true, "什么": true, "怎么": true, "有关": true,
		"关于": true, "请问": true, "一下": true,
	}
)

// numeric time-range patterns, Chinese and English.
var (
	cnDaysPattern  = regexp.MustCompile(`(\d+)\s*天内?`)
	cnWeeksPattern = regexp.MustCompile(`(\d+)\s*周`)
	enDaysPattern  = regexp.MustCompile(`(?i)last\s+(\d+)\s+days?`)
	enWeeksPattern = regexp.MustCompile(`(?i)last\s+(\d+)\s+weeks?`)
)

// ParseQuery classifies a user question and extracts structured filters.
// Detection runs in priority order; the first match decides the type.
func ParseQuery(query string) core.ParsedQuery {
	parsed := core.ParsedQuery{
		Type:     core.QueryGeneral,
		Keywords: extractKeywords(query),
		Filters:  map[string]string{},
	}

	lower := strings.ToLower(query)

	if ids := cvePattern.FindAllString(query, -1); len(ids) > 0 {
		parsed.Type = core.QueryVulnerability
		for _, id := range ids {
			parsed.CVEIDs = append(parsed.CVEIDs, strings.ToUpper(id))
		}
		parsed.TimeRange = extractTimeRange(lower)
		return parsed
	}

	for _, kw := range vulnerabilityKeywords {
		if strings.Contains(lower, kw) {
			parsed.Type = core.QueryVulnerability
			parsed.TimeRange = extractTimeRange(lower)
			return parsed
		}
	}

	for _, sk := range sourceKeywords {
		if strings.Contains(lower, sk.keyword) {
			parsed.Type = core.QuerySource
			parsed.Filters["source_type"] = sk.source
			parsed.TimeRange = extractTimeRange(lower)
			return parsed
		}
	}

	if tr := extractTimeRange(lower); tr != nil {
		parsed.Type = core.QueryTimeRange
		parsed.TimeRange = tr
		return parsed
	}

	for _, kw := range topicKeywords {
		if matchesTopic(lower, kw) {
			parsed.Type = core.QueryTopic
			return parsed
		}
	}

	return parsed
}

// matchesTopic substring-matches a topic keyword, except that 2-letter
// ASCII keywords must stand alone: "ai" must not fire inside "email", nor
// "ml" inside "html".
func matchesTopic(lower, kw string) bool {
	if len(kw) == 2 && isWordByte(kw[0]) && isWordByte(kw[1]) {
		return containsWord(lower, kw)
	}
	return strings.Contains(lower, kw)
}

// containsWord reports whether word occurs in s with no ASCII letter or
// digit adjacent on either side. Multi-byte runes (CJK) count as
// boundaries, so "ai安全" still matches.
func containsWord(s, word string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], word)
		if i < 0 {
			return false
		}
		i += start
		beforeOK := i == 0 || !isWordByte(s[i-1])
		afterOK := i+len(word) == len(s) || !isWordByte(s[i+len(word)])
		if beforeOK && afterOK {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// extractTimeRange matches time keywords and numeric day/week patterns; nil
// when the query carries no time constraint.
func extractTimeRange(lower string) *core.TimeRange {
	now := time.Now()
	days := 0

	switch {
	case strings.Contains(lower, "今天") || strings.Contains(lower, "today"):
		days = 1
	case strings.Contains(lower, "昨天") || strings.Contains(lower, "yesterday"):
		days = 2
	case strings.Contains(lower, "这周") || strings.Contains(lower, "本周") || strings.Contains(lower, "this week"):
		days = 7
	case strings.Contains(lower, "本月") || strings.Contains(lower, "this month"):
		days = 30
	case strings.Contains(lower, "最近") || strings.Contains(lower, "recent"):
		days = 7
	}

	if m := cnDaysPattern.FindStringSubmatch(lower); m != nil {
		days = atoiDefault(m[1], days)
	} else if m := enDaysPattern.FindStringSubmatch(lower); m != nil {
		days = atoiDefault(m[1], days)
	} else if m := cnWeeksPattern.FindStringSubmatch(lower); m != nil {
		days = 7 * atoiDefault(m[1], 0)
	} else if m := enWeeksPattern.FindStringSubmatch(lower); m != nil {
		days = 7 * atoiDefault(m[1], 0)
	}

	if days <= 0 {
		return nil
	}
	return &core.TimeRange{
		Start: now.AddDate(0, 0, -days),
		End:   now,
	}
}

func atoiDefault(s string, fallback int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}

// extractKeywords tokenizes the query. Latin tokens come from whitespace
// and punctuation splits; CJK runs longer than 4 glyphs additionally emit
// overlapping 2- and 3-grams. Stop words and single glyphs are dropped;
// duplicates are removed case-insensitively preserving first-seen order.
func extractKeywords(query string) []string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var candidates []string
	for _, token := range tokens {
		if isCJK(token) && len([]rune(token)) > 4 {
			candidates = append(candidates, cjkNGrams(token)...)
			continue
		}
		candidates = append(candidates, token)
	}

	seen := make(map[string]bool)
	var keywords []string
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		if len([]rune(candidate)) < 2 || stopWords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		keywords = append(keywords, candidate)
	}
	return keywords
}

func isCJK(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return s != ""
}

// cjkNGrams emits overlapping 2-grams then 3-grams of a Chinese run.
func cjkNGrams(s string) []string {
	runes := []rune(s)
	var grams []string
	for n := 2; n <= 3; n++ {
		for i := 0; i+n <= len(runes); i++ {
			grams = append(grams, string(runes[i:i+n]))
		}
	}
	return grams
}
