package fetcher

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"secbrief/internal/core"
	"secbrief/internal/logger"
)

// Manager runs enabled fetchers concurrently with per-source isolation.
type Manager struct {
	maxWorkers int
}

// NewManager creates a manager with the given pool size (default 5).
func NewManager(maxWorkers int) *Manager {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	return &Manager{maxWorkers: maxWorkers}
}

// FetchAll invokes each enabled fetcher on a bounded pool and returns every
// result once all complete. A single source failing, or even panicking,
// never short-circuits the others.
func (m *Manager) FetchAll(ctx context.Context, fetchers []Fetcher) []core.FetchResult {
	var enabled []Fetcher
	for _, f := range fetchers {
		if f.Enabled() {
			enabled = append(enabled, f)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(m.maxWorkers))
	results := make([]core.FetchResult, len(enabled))
	var wg sync.WaitGroup

	for i, f := range enabled {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = failure(f.Name(), f.SourceType(), err)
			continue
		}

		wg.Add(1)
		go func(i int, f Fetcher) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = m.fetchOne(ctx, f)
		}(i, f)
	}

	wg.Wait()
	return results
}

// fetchOne runs a single fetcher, converting a contract-violating panic
// into an error result.
func (m *Manager) fetchOne(ctx context.Context, f Fetcher) (result core.FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Fetcher panicked", fmt.Errorf("%v", r), "source", f.Name())
			result = failure(f.Name(), f.SourceType(), fmt.Errorf("fetcher panicked: %v", r))
		}
	}()

	result = f.Fetch(ctx)
	if result.Failed() {
		logger.Warn("Source fetch failed", "source", f.Name(), "error", result.Error)
	} else {
		logger.Info("Source fetched", "source", f.Name(), "items", len(result.Items))
	}
	return result
}
