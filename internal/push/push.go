// Package push selects scored articles and delivers them to the group
// chat in tiered, batched rich-post messages.
package push

import (
	"context"
	"fmt"

	"secbrief/internal/config"
	"secbrief/internal/logger"
	"secbrief/internal/messenger"
	"secbrief/internal/score"
)

// Selector filters the candidate set before tiering. The zero-value
// IdentitySelector keeps everything.
type Selector interface {
	Select(ctx context.Context, candidates []score.Scored) ([]score.Scored, error)
}

// IdentitySelector keeps the full candidate set.
type IdentitySelector struct{}

// Select returns candidates unchanged.
func (IdentitySelector) Select(_ context.Context, candidates []score.Scored) ([]score.Scored, error) {
	return candidates, nil
}

// TitleChooser is the model-side interface the SmartSelector needs.
type TitleChooser interface {
	SelectRelevant(ctx context.Context, titles []string) ([]int, error)
}

// SmartSelector asks the LLM which titles are worth pushing. On model
// failure it falls back to the full set rather than dropping the push.
type SmartSelector struct {
	chooser TitleChooser
}

// NewSmartSelector builds the LLM-backed selector.
func NewSmartSelector(chooser TitleChooser) *SmartSelector {
	return &SmartSelector{chooser: chooser}
}

// Select keeps only the titles the model picked, preserving input order.
func (s *SmartSelector) Select(ctx context.Context, candidates []score.Scored) ([]score.Scored, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	titles := make([]string, len(candidates))
	for i, c := range candidates {
		titles[i] = c.Article.Title
	}

	indexes, err := s.chooser.SelectRelevant(ctx, titles)
	if err != nil {
		logger.Warn("Smart selection failed, pushing full set", "error", err.Error())
		return candidates, nil
	}

	keep := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		keep[i] = true
	}

	var selected []score.Scored
	for i, c := range candidates {
		if keep[i] {
			selected = append(selected, c)
		}
	}
	return selected, nil
}

// Messenger is the delivery surface the pusher needs.
type Messenger interface {
	SendPost(ctx context.Context, receiver messenger.ReceiverType, receiveID, title string, paragraphs []messenger.PostParagraph) error
}

// Tier groups articles by priority band.
type Tier struct {
	Name     string
	Articles []score.Scored
}

// PushReport summarizes one dispatch: the article IDs that were delivered
// and may be marked pushed, and whether any batch failed.
type PushReport struct {
	PushedIDs []int64
	Failed    bool
}

// TieredPusher partitions scored articles into priority tiers and sends
// each tier in batches. Articles in a failed batch stay unpushed.
type TieredPusher struct {
	cfg      config.Push
	selector Selector
	sender   Messenger
}

// NewTieredPusher builds a pusher. selector may be nil for the identity
// filter.
func NewTieredPusher(cfg config.Push, selector Selector, sender Messenger) *TieredPusher {
	if selector == nil {
		selector = IdentitySelector{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.HighTier <= 0 {
		cfg.HighTier = 80
	}
	if cfg.MidTier <= 0 {
		cfg.MidTier = 50
	}
	return &TieredPusher{cfg: cfg, selector: selector, sender: sender}
}

// Partition splits candidates into high/mid/low tiers by score.
func (p *TieredPusher) Partition(candidates []score.Scored) []Tier {
	tiers := []Tier{
		{Name: "重点关注"},
		{Name: "值得一读"},
		{Name: "其他动态"},
	}
	for _, c := range candidates {
		switch {
		case c.Score >= p.cfg.HighTier:
			tiers[0].Articles = append(tiers[0].Articles, c)
		case c.Score >= p.cfg.MidTier:
			tiers[1].Articles = append(tiers[1].Articles, c)
		default:
			tiers[2].Articles = append(tiers[2].Articles, c)
		}
	}
	return tiers
}

// Push selects, tiers, batches and dispatches. The report lists the IDs
// delivered successfully; Failed is set if any batch did not go out.
func (p *TieredPusher) Push(ctx context.Context, candidates []score.Scored) (PushReport, error) {
	var report PushReport

	if !p.cfg.Enabled || p.cfg.ChatID == "" {
		logger.Info("Push disabled, skipping dispatch", "candidates", len(candidates))
		return report, nil
	}

	selected, err := p.selector.Select(ctx, candidates)
	if err != nil {
		return report, fmt.Errorf("failed to select articles: %w", err)
	}
	if len(selected) == 0 {
		return report, nil
	}

	for _, tier := range p.Partition(selected) {
		for start := 0; start < len(tier.Articles); start += p.cfg.BatchSize {
			end := start + p.cfg.BatchSize
			if end > len(tier.Articles) {
				end = len(tier.Articles)
			}
			batch := tier.Articles[start:end]

			title := fmt.Sprintf("安全情报日报 · %s (%d)", tier.Name, len(batch))
			if err := p.sender.SendPost(ctx, messenger.ReceiverChat, p.cfg.ChatID, title, formatBatch(batch)); err != nil {
				logger.Error("Failed to push batch", err, "tier", tier.Name, "size", len(batch))
				report.Failed = true
				continue
			}

			for _, c := range batch {
				report.PushedIDs = append(report.PushedIDs, c.Article.ID)
			}
		}
	}

	if report.Failed {
		return report, fmt.Errorf("one or more push batches failed")
	}
	return report, nil
}

// formatBatch renders a batch as rich-post paragraphs: a linked title line
// followed by an indented summary line per article.
func formatBatch(batch []score.Scored) []messenger.PostParagraph {
	var paragraphs []messenger.PostParagraph
	for i, c := range batch {
		article := c.Article

		title := []messenger.PostElement{
			{Tag: "text", Text: fmt.Sprintf("%d. ", i+1)},
			{Tag: "a", Text: article.Title, Href: article.URL},
		}
		if article.Category != "" {
			title = append(title, messenger.PostElement{Tag: "text", Text: " [" + article.Category + "]"})
		}
		paragraphs = append(paragraphs, title)

		summary := article.ZhSummary
		if summary == "" {
			summary = article.Summary
		}
		if summary != "" {
			paragraphs = append(paragraphs, messenger.PostParagraph{
				{Tag: "text", Text: "   " + summary},
			})
		}
	}
	return paragraphs
}
