package score

import (
	"context"
	"errors"
	"testing"

	"secbrief/internal/config"
	"secbrief/internal/core"
)

type fakeLLMScorer struct {
	score float64
	err   error
}

func (f *fakeLLMScorer) ScoreArticle(_ context.Context, _, _ string) (float64, error) {
	return f.score, f.err
}

func TestDefaultSourceWeights(t *testing.T) {
	s := NewScorer(config.Push{}, nil)
	ctx := context.Background()

	tests := []struct {
		sourceType core.SourceType
		want       float64
	}{
		{core.SourceKEV, 75},  // 50 * 1.5
		{core.SourceDBLP, 65}, // 50 * 1.3
		{core.SourceNVD, 60},  // 50 * 1.2
		{core.SourceRSS, 40},  // 50 * 0.8
		{core.SourceArxiv, 50},
		{core.SourceType("unknown"), 50},
	}
	for _, tt := range tests {
		score, reasons := s.Score(ctx, core.Article{SourceType: tt.sourceType})
		if score != tt.want {
			t.Errorf("%s score = %.1f, want %.1f", tt.sourceType, score, tt.want)
		}
		if len(reasons) == 0 {
			t.Errorf("%s: expected scoring reasons", tt.sourceType)
		}
	}
}

func TestConfigWeightOverride(t *testing.T) {
	cfg := config.Push{Weights: map[string]float64{"rss": 1.4, "kev": 0}}
	s := NewScorer(cfg, nil)
	ctx := context.Background()

	if score, _ := s.Score(ctx, core.Article{SourceType: core.SourceRSS}); score != 70 {
		t.Errorf("overridden rss score = %.1f, want 70", score)
	}
	// Zero-valued override is ignored, default stays.
	if score, _ := s.Score(ctx, core.Article{SourceType: core.SourceKEV}); score != 75 {
		t.Errorf("kev score = %.1f, want default 75", score)
	}
}

func TestLLMBlend(t *testing.T) {
	s := NewScorer(config.Push{}, &fakeLLMScorer{score: 90})
	// rule 75 (kev), blended 0.6*75 + 0.4*90 = 81
	score, reasons := s.Score(context.Background(), core.Article{SourceType: core.SourceKEV})
	if score != 81 {
		t.Errorf("blended score = %.1f, want 81", score)
	}
	found := false
	for _, r := range reasons {
		if r == "llm blend 0.6/0.4" {
			found = true
		}
	}
	if !found {
		t.Errorf("blend reason missing: %v", reasons)
	}
}

func TestLLMFailureFallsBackToRuleScore(t *testing.T) {
	s := NewScorer(config.Push{}, &fakeLLMScorer{err: errors.New("model down")})
	score, _ := s.Score(context.Background(), core.Article{SourceType: core.SourceNVD})
	if score != 60 {
		t.Errorf("fallback score = %.1f, want rule score 60", score)
	}
}

func TestScoreClamp(t *testing.T) {
	cfg := config.Push{Weights: map[string]float64{"kev": 3.0}}
	s := NewScorer(cfg, nil)
	if score, _ := s.Score(context.Background(), core.Article{SourceType: core.SourceKEV}); score != 100 {
		t.Errorf("score should clamp to 100, got %.1f", score)
	}
}

func TestScoreAllSortsHighestFirst(t *testing.T) {
	s := NewScorer(config.Push{}, nil)
	articles := []core.Article{
		{Title: "rss", SourceType: core.SourceRSS},
		{Title: "kev", SourceType: core.SourceKEV},
		{Title: "arxiv-1", SourceType: core.SourceArxiv},
		{Title: "arxiv-2", SourceType: core.SourceArxiv},
	}

	scored := s.ScoreAll(context.Background(), articles)
	if len(scored) != 4 {
		t.Fatalf("expected 4 scored articles, got %d", len(scored))
	}
	for i := 1; i < len(scored); i++ {
		if scored[i].Score > scored[i-1].Score {
			t.Fatalf("scores not non-increasing at %d: %v", i, scored)
		}
	}
	if scored[0].Article.Title != "kev" {
		t.Errorf("highest-weight source should sort first, got %q", scored[0].Article.Title)
	}
	// Stable sort keeps input order for the equal arxiv pair.
	if scored[1].Article.Title != "arxiv-1" || scored[2].Article.Title != "arxiv-2" {
		t.Errorf("equal scores should keep input order: %v", scored)
	}
}
