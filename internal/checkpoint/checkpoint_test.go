package checkpoint

import (
	"errors"
	"testing"
	"time"

	"secbrief/internal/core"
)

func newTestCheckpointer(t *testing.T, saveInterval int) *Checkpointer {
	t.Helper()
	cp, err := New(Options{Dir: t.TempDir(), MaxAge: 24 * time.Hour, SaveInterval: saveInterval})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return cp
}

func TestFetchLifecycle(t *testing.T) {
	cp := newTestCheckpointer(t, 1)
	feeds := []string{"https://feed/1", "https://feed/2", "https://feed/3"}

	if _, err := cp.StartFetch(feeds); err != nil {
		t.Fatalf("StartFetch failed: %v", err)
	}

	if err := cp.MarkFeedDone(feeds[0], []core.Article{{Title: "A", URL: "https://a/1"}}); err != nil {
		t.Fatalf("MarkFeedDone failed: %v", err)
	}
	if err := cp.MarkFeedFailed(feeds[1], errors.New("timeout")); err != nil {
		t.Fatalf("MarkFeedFailed failed: %v", err)
	}

	pending := cp.PendingFeeds(feeds)
	if len(pending) != 1 || pending[0] != feeds[2] {
		t.Errorf("expected only %s pending, got %v", feeds[2], pending)
	}

	fetched := cp.FetchedArticles()
	if len(fetched[feeds[0]]) != 1 {
		t.Errorf("expected 1 article for %s, got %v", feeds[0], fetched)
	}

	if err := cp.CompleteFetch(); err != nil {
		t.Fatalf("CompleteFetch failed: %v", err)
	}
}

func TestFetchResumeSkipsCompletedFeeds(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, MaxAge: 24 * time.Hour, SaveInterval: 1}
	feeds := []string{"https://feed/1", "https://feed/2"}

	first, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	original, err := first.StartFetch(feeds)
	if err != nil {
		t.Fatalf("StartFetch failed: %v", err)
	}
	if err := first.MarkFeedDone(feeds[0], nil); err != nil {
		t.Fatalf("MarkFeedDone failed: %v", err)
	}

	// A new checkpointer simulates a process restart.
	second, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resumed, err := second.StartFetch(feeds)
	if err != nil {
		t.Fatalf("StartFetch after restart failed: %v", err)
	}
	if resumed.ID != original.ID {
		t.Errorf("expected resumed checkpoint %s, got new one %s", original.ID, resumed.ID)
	}

	pending := second.PendingFeeds(feeds)
	if len(pending) != 1 || pending[0] != feeds[1] {
		t.Errorf("expected only %s pending after resume, got %v", feeds[1], pending)
	}
}

func TestStaleCheckpointIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	feeds := []string{"https://feed/1"}

	first, err := New(Options{Dir: dir, MaxAge: time.Millisecond, SaveInterval: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	original, err := first.StartFetch(feeds)
	if err != nil {
		t.Fatalf("StartFetch failed: %v", err)
	}
	if err := first.MarkFeedDone(feeds[0], nil); err != nil {
		t.Fatalf("MarkFeedDone failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second, err := New(Options{Dir: dir, MaxAge: time.Millisecond, SaveInterval: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	fresh, err := second.StartFetch(feeds)
	if err != nil {
		t.Fatalf("StartFetch failed: %v", err)
	}
	if fresh.ID == original.ID {
		t.Error("expected stale checkpoint to be replaced")
	}
	if len(second.PendingFeeds(feeds)) != 1 {
		t.Error("fresh checkpoint should have all feeds pending")
	}
}

func TestProcessLifecycleAndNoReprocess(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, MaxAge: 24 * time.Hour, SaveInterval: 1}
	articles := []core.Article{
		{Title: "A", URL: "https://a/1"},
		{Title: "B", URL: "https://a/2"},
	}

	first, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := first.StartProcess(articles); err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	if err := first.MarkArticleDone(articles[0]); err != nil {
		t.Fatalf("MarkArticleDone failed: %v", err)
	}

	second, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := second.StartProcess(articles); err != nil {
		t.Fatalf("StartProcess after restart failed: %v", err)
	}

	pending := second.PendingArticles(articles)
	if len(pending) != 1 || pending[0].URL != articles[1].URL {
		t.Errorf("processed article handed back after resume: %v", pending)
	}
}

func TestSaveIntervalDebounce(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, MaxAge: 24 * time.Hour, SaveInterval: 10}

	cp, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := cp.StartFetch([]string{"https://feed/1", "https://feed/2"}); err != nil {
		t.Fatalf("StartFetch failed: %v", err)
	}
	// One completion is below the save interval; disk still has zero.
	if err := cp.MarkFeedDone("https://feed/1", nil); err != nil {
		t.Fatalf("MarkFeedDone failed: %v", err)
	}

	status, err := cp.LoadStatus()
	if err != nil {
		t.Fatalf("LoadStatus failed: %v", err)
	}
	if len(status.Fetch.CompletedFeeds) != 0 {
		t.Errorf("expected debounced write, disk has %v", status.Fetch.CompletedFeeds)
	}

	if err := cp.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	status, err = cp.LoadStatus()
	if err != nil {
		t.Fatalf("LoadStatus failed: %v", err)
	}
	if len(status.Fetch.CompletedFeeds) != 1 {
		t.Errorf("expected flushed state on disk, got %v", status.Fetch.CompletedFeeds)
	}
}

func TestClearRemovesBothFiles(t *testing.T) {
	cp := newTestCheckpointer(t, 1)

	if _, err := cp.StartFetch([]string{"https://feed/1"}); err != nil {
		t.Fatalf("StartFetch failed: %v", err)
	}
	if _, err := cp.StartProcess(nil); err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	if err := cp.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	status, err := cp.LoadStatus()
	if err != nil {
		t.Fatalf("LoadStatus failed: %v", err)
	}
	if status.Fetch != nil || status.Process != nil {
		t.Errorf("expected empty status after Clear, got %+v", status)
	}

	// Clearing again is a no-op, not an error.
	if err := cp.Clear(); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}
