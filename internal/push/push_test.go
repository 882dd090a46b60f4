package push

import (
	"context"
	"errors"
	"testing"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/messenger"
	"secbrief/internal/score"
)

type fakeSender struct {
	sent     []string // post titles in send order
	failWhen func(title string) bool
}

func (f *fakeSender) SendPost(_ context.Context, _ messenger.ReceiverType, _ string, title string, _ []messenger.PostParagraph) error {
	if f.failWhen != nil && f.failWhen(title) {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, title)
	return nil
}

type fakeChooser struct {
	indexes []int
	err     error
}

func (f *fakeChooser) SelectRelevant(_ context.Context, _ []string) ([]int, error) {
	return f.indexes, f.err
}

func enabledPushConfig() config.Push {
	return config.Push{Enabled: true, ChatID: "oc_test"}
}

func scoredBatch(scores ...float64) []score.Scored {
	var batch []score.Scored
	for i, s := range scores {
		batch = append(batch, score.Scored{
			Article: core.Article{ID: int64(i + 1), Title: "t", URL: "https://x"},
			Score:   s,
		})
	}
	return batch
}

func TestPartitionTiers(t *testing.T) {
	p := NewTieredPusher(enabledPushConfig(), nil, &fakeSender{})

	tiers := p.Partition(scoredBatch(95, 80, 79.9, 50, 49.9, 10))
	if got := len(tiers[0].Articles); got != 2 {
		t.Errorf("high tier = %d articles, want 2 (boundary 80 included)", got)
	}
	if got := len(tiers[1].Articles); got != 2 {
		t.Errorf("mid tier = %d articles, want 2 (boundary 50 included)", got)
	}
	if got := len(tiers[2].Articles); got != 2 {
		t.Errorf("low tier = %d articles, want 2", got)
	}
}

func TestPushBatchesWithinTier(t *testing.T) {
	sender := &fakeSender{}
	p := NewTieredPusher(enabledPushConfig(), nil, sender)

	// 12 high-tier articles split into a batch of 10 and a batch of 2.
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 90
	}

	report, err := p.Push(context.Background(), scoredBatch(scores...))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected 2 batches, got %d: %v", len(sender.sent), sender.sent)
	}
	if len(report.PushedIDs) != 12 {
		t.Errorf("expected 12 pushed IDs, got %d", len(report.PushedIDs))
	}
}

func TestPushFailedBatchLeavesArticlesUnpushed(t *testing.T) {
	sender := &fakeSender{failWhen: func(title string) bool {
		return title == "安全情报日报 · 值得一读 (1)"
	}}
	p := NewTieredPusher(enabledPushConfig(), nil, sender)

	report, err := p.Push(context.Background(), scoredBatch(90, 60))
	if err == nil {
		t.Fatal("expected error when a batch fails")
	}
	if !report.Failed {
		t.Error("report.Failed should be set")
	}
	// Only the high-tier article went out.
	if len(report.PushedIDs) != 1 || report.PushedIDs[0] != 1 {
		t.Errorf("unexpected pushed IDs %v", report.PushedIDs)
	}
}

func TestPushDisabledIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	p := NewTieredPusher(config.Push{Enabled: false}, nil, sender)

	report, err := p.Push(context.Background(), scoredBatch(90))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(report.PushedIDs) != 0 || len(sender.sent) != 0 {
		t.Error("disabled push should not dispatch anything")
	}
}

func TestSmartSelectorKeepsChosenSubset(t *testing.T) {
	s := NewSmartSelector(&fakeChooser{indexes: []int{0, 2}})
	candidates := scoredBatch(90, 80, 70)

	selected, err := s.Select(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(selected) != 2 || selected[0].Article.ID != 1 || selected[1].Article.ID != 3 {
		t.Errorf("unexpected selection %v", selected)
	}
}

func TestSmartSelectorFallsBackOnError(t *testing.T) {
	s := NewSmartSelector(&fakeChooser{err: errors.New("model down")})
	candidates := scoredBatch(90, 80)

	selected, err := s.Select(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("fallback should keep the full set, got %d", len(selected))
	}
}

func TestFormatBatchPrefersChineseSummary(t *testing.T) {
	batch := []score.Scored{{
		Article: core.Article{
			Title:     "Sandbox Escape",
			URL:       "https://x/1",
			Category:  "漏洞分析",
			Summary:   "english",
			ZhSummary: "中文摘要",
		},
	}}

	paragraphs := formatBatch(batch)
	if len(paragraphs) != 2 {
		t.Fatalf("expected title and summary paragraphs, got %d", len(paragraphs))
	}
	if paragraphs[0][1].Tag != "a" || paragraphs[0][1].Href != "https://x/1" {
		t.Errorf("title line should link the article: %+v", paragraphs[0])
	}
	if paragraphs[1][0].Text != "   中文摘要" {
		t.Errorf("expected Chinese summary, got %q", paragraphs[1][0].Text)
	}
}
