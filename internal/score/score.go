// Package score ranks enriched articles for the tiered push.
package score

import (
	"context"
	"sort"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/logger"
)

const baseScore = 50.0

// defaultWeights are the per-source multipliers applied to the base score.
// Config push.weights entries override individual sources.
var defaultWeights = map[core.SourceType]float64{
	core.SourceKEV:          1.5,
	core.SourceDBLP:         1.3,
	core.SourceNVD:          1.2,
	core.SourceHuggingFace:  1.1,
	core.SourcePWC:          1.1,
	core.SourceArxiv:        1.0,
	core.SourceBlog:         1.0,
	core.SourceHunyuan:      1.0,
	core.SourceAnthropicRed: 1.0,
	core.SourceAtumBlog:     1.0,
	core.SourceRSS:          0.8,
	core.SourceGitHub:       1.0,
}

// LLMScorer is the optional model-based signal blended into the rule score.
type LLMScorer interface {
	ScoreArticle(ctx context.Context, title, summary string) (float64, error)
}

// Scored pairs an article with its priority score and the reasons behind it.
type Scored struct {
	Article core.Article
	Score   float64
	Reasons []string
}

// Scorer computes priority scores. When an LLM scorer is attached, the
// final score blends 0.6 rule-based with 0.4 model-based.
type Scorer struct {
	weights map[core.SourceType]float64
	llm     LLMScorer
}

// NewScorer builds a scorer with the default weights overridden by the
// push.weights config map. llm may be nil to disable the blended signal.
func NewScorer(cfg config.Push, llm LLMScorer) *Scorer {
	weights := make(map[core.SourceType]float64, len(defaultWeights))
	for sourceType, w := range defaultWeights {
		weights[sourceType] = w
	}
	for name, w := range cfg.Weights {
		if w > 0 {
			weights[core.SourceType(name)] = w
		}
	}
	return &Scorer{weights: weights, llm: llm}
}

// Score computes one article's priority, clamped to [0, 100].
func (s *Scorer) Score(ctx context.Context, article core.Article) (float64, []string) {
	weight, ok := s.weights[article.SourceType]
	if !ok {
		weight = 1.0
	}

	score := baseScore * weight
	reasons := []string{"base 50", "source weight " + string(article.SourceType)}

	if s.llm != nil {
		llmScore, err := s.llm.ScoreArticle(ctx, article.Title, article.Summary)
		if err != nil {
			logger.Warn("LLM scoring failed, using rule score only",
				"title", article.Title, "error", err.Error())
		} else {
			score = 0.6*score + 0.4*llmScore
			reasons = append(reasons, "llm blend 0.6/0.4")
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, reasons
}

// ScoreAll scores a batch and returns it sorted by score, highest first.
// The sort is stable so equal scores keep input order.
func (s *Scorer) ScoreAll(ctx context.Context, articles []core.Article) []Scored {
	scored := make([]Scored, 0, len(articles))
	for _, article := range articles {
		score, reasons := s.Score(ctx, article)
		scored = append(scored, Scored{Article: article, Score: score, Reasons: reasons})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}
