// Package checkpoint persists pipeline progress so a crashed run can resume.
//
// Two snapshot files live under the configured directory: fetch_checkpoint.json
// for per-feed fetch progress and process_checkpoint.json for per-article
// processing progress. Both are written whole on each save; there is no
// append log to replay.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"secbrief/internal/core"
	"secbrief/internal/logger"
)

const (
	fetchFile   = "fetch_checkpoint.json"
	processFile = "process_checkpoint.json"
)

// Options configures checkpoint behavior.
type Options struct {
	Dir          string
	MaxAge       time.Duration // existing checkpoints older than this are discarded
	SaveInterval int           // auto-persist every N completions
}

// DefaultOptions returns the standard checkpoint settings: 24h max age,
// persist every 10 completions.
func DefaultOptions(dir string) Options {
	return Options{Dir: dir, MaxAge: 24 * time.Hour, SaveInterval: 10}
}

// Checkpointer owns the two snapshot files. All methods are safe for
// concurrent use by pipeline workers.
type Checkpointer struct {
	opts Options

	mu           sync.Mutex
	fetch        *core.FetchCheckpoint
	process      *core.ProcessCheckpoint
	fetchDirty   int // completions since last fetch persist
	processDirty int
}

// New creates a Checkpointer rooted at opts.Dir.
func New(opts Options) (*Checkpointer, error) {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Checkpointer{opts: opts}, nil
}

// StartFetch begins (or resumes) the fetch stage. An existing checkpoint in
// phase "fetching" younger than MaxAge is reused; anything else is replaced.
func (c *Checkpointer) StartFetch(allURLs []string) (*core.FetchCheckpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := &core.FetchCheckpoint{}
	if ok, err := c.load(fetchFile, existing); err == nil && ok {
		if existing.Phase == core.PhaseFetching && time.Since(existing.UpdatedAt) < c.opts.MaxAge {
			logger.Info("Resuming fetch checkpoint",
				"id", existing.ID,
				"completed", len(existing.CompletedFeeds),
				"failed", len(existing.FailedFeeds),
			)
			c.fetch = existing
			return existing, nil
		}
	}

	cp := &core.FetchCheckpoint{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
		Phase:           core.PhaseFetching,
		TotalFeeds:      len(allURLs),
		CompletedFeeds:  make(map[string]bool),
		FailedFeeds:     make(map[string]string),
		FetchedArticles: make(map[string][]core.Article),
	}
	c.fetch = cp
	if err := c.save(fetchFile, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// MarkFeedDone records a completed feed together with its articles.
func (c *Checkpointer) MarkFeedDone(url string, articles []core.Article) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetch == nil {
		return fmt.Errorf("no fetch checkpoint in progress")
	}
	c.fetch.CompletedFeeds[url] = true
	c.fetch.FetchedArticles[url] = articles
	c.fetch.UpdatedAt = time.Now().UTC()
	return c.maybeSaveFetch()
}

// MarkFeedFailed records a failed feed with its error.
func (c *Checkpointer) MarkFeedFailed(url string, fetchErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetch == nil {
		return fmt.Errorf("no fetch checkpoint in progress")
	}
	c.fetch.FailedFeeds[url] = fetchErr.Error()
	c.fetch.UpdatedAt = time.Now().UTC()
	return c.maybeSaveFetch()
}

// PendingFeeds returns allURLs minus completed and failed feeds.
func (c *Checkpointer) PendingFeeds(allURLs []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []string
	for _, url := range allURLs {
		if c.fetch != nil && (c.fetch.CompletedFeeds[url] || c.fetch.FailedFeeds[url] != "") {
			continue
		}
		pending = append(pending, url)
	}
	return pending
}

// FetchedArticles returns all articles accumulated by the fetch stage.
func (c *Checkpointer) FetchedArticles() map[string][]core.Article {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetch == nil {
		return nil
	}
	out := make(map[string][]core.Article, len(c.fetch.FetchedArticles))
	for k, v := range c.fetch.FetchedArticles {
		out[k] = v
	}
	return out
}

// CompleteFetch advances the fetch checkpoint to the processing phase.
func (c *Checkpointer) CompleteFetch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetch == nil {
		return fmt.Errorf("no fetch checkpoint in progress")
	}
	c.fetch.Phase = core.PhaseProcessing
	c.fetch.UpdatedAt = time.Now().UTC()
	return c.save(fetchFile, c.fetch)
}

// StartProcess begins (or resumes) the processing stage.
func (c *Checkpointer) StartProcess(articles []core.Article) (*core.ProcessCheckpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := &core.ProcessCheckpoint{}
	if ok, err := c.load(processFile, existing); err == nil && ok {
		if existing.Phase == core.PhaseProcessing && time.Since(existing.UpdatedAt) < c.opts.MaxAge {
			logger.Info("Resuming process checkpoint",
				"id", existing.ID,
				"processed", len(existing.ProcessedURLs),
			)
			c.process = existing
			return existing, nil
		}
	}

	cp := &core.ProcessCheckpoint{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
		Phase:         core.PhaseProcessing,
		TotalArticles: len(articles),
		ProcessedURLs: make(map[string]bool),
		FailedURLs:    make(map[string]string),
	}
	c.process = cp
	if err := c.save(processFile, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// MarkArticleDone records a fully processed article.
func (c *Checkpointer) MarkArticleDone(article core.Article) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == nil {
		return fmt.Errorf("no process checkpoint in progress")
	}
	c.process.ProcessedURLs[article.URL] = true
	c.process.ProcessedArticles = append(c.process.ProcessedArticles, article)
	c.process.UpdatedAt = time.Now().UTC()
	return c.maybeSaveProcess()
}

// MarkArticleFailed records a processing failure for the URL.
func (c *Checkpointer) MarkArticleFailed(url string, processErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == nil {
		return fmt.Errorf("no process checkpoint in progress")
	}
	c.process.FailedURLs[url] = processErr.Error()
	c.process.UpdatedAt = time.Now().UTC()
	return c.maybeSaveProcess()
}

// PendingArticles returns the articles not yet processed or failed.
// Articles already in processed_urls are never handed back to the enricher.
func (c *Checkpointer) PendingArticles(articles []core.Article) []core.Article {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []core.Article
	for _, a := range articles {
		if c.process != nil && (c.process.ProcessedURLs[a.URL] || c.process.FailedURLs[a.URL] != "") {
			continue
		}
		pending = append(pending, a)
	}
	return pending
}

// CompleteProcess advances the process checkpoint to the pushing phase.
func (c *Checkpointer) CompleteProcess() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == nil {
		return fmt.Errorf("no process checkpoint in progress")
	}
	c.process.Phase = core.PhasePushing
	c.process.UpdatedAt = time.Now().UTC()
	return c.save(processFile, c.process)
}

// Clear removes both checkpoint files. Called only after a fully
// successful run.
func (c *Checkpointer) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetch = nil
	c.process = nil
	for _, name := range []string{fetchFile, processFile} {
		path := filepath.Join(c.opts.Dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove checkpoint %s: %w", name, err)
		}
	}
	return nil
}

// Status describes what is currently on disk, for the CLI.
type Status struct {
	Fetch   *core.FetchCheckpoint
	Process *core.ProcessCheckpoint
}

// LoadStatus reads both files without taking ownership of them.
func (c *Checkpointer) LoadStatus() (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := &Status{}
	fetch := &core.FetchCheckpoint{}
	if ok, err := c.load(fetchFile, fetch); err != nil {
		return nil, err
	} else if ok {
		status.Fetch = fetch
	}
	process := &core.ProcessCheckpoint{}
	if ok, err := c.load(processFile, process); err != nil {
		return nil, err
	} else if ok {
		status.Process = process
	}
	return status, nil
}

// Flush persists any dirty state immediately.
func (c *Checkpointer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetch != nil {
		if err := c.save(fetchFile, c.fetch); err != nil {
			return err
		}
		c.fetchDirty = 0
	}
	if c.process != nil {
		if err := c.save(processFile, c.process); err != nil {
			return err
		}
		c.processDirty = 0
	}
	return nil
}

// maybeSaveFetch persists after every SaveInterval completions. Debounced by
// count, not time, so a stalled run never leaves more than N items unsaved.
func (c *Checkpointer) maybeSaveFetch() error {
	c.fetchDirty++
	if c.fetchDirty < c.opts.SaveInterval {
		return nil
	}
	c.fetchDirty = 0
	return c.save(fetchFile, c.fetch)
}

func (c *Checkpointer) maybeSaveProcess() error {
	c.processDirty++
	if c.processDirty < c.opts.SaveInterval {
		return nil
	}
	c.processDirty = 0
	return c.save(processFile, c.process)
}

// save writes the snapshot atomically via a temp file rename.
func (c *Checkpointer) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(c.opts.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// load reads a snapshot; the bool reports whether the file existed.
func (c *Checkpointer) load(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(c.opts.Dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return true, nil
}
