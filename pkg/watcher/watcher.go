// Package watcher runs the fetch-diff-notify pipeline, once or on a
// periodic schedule.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/osawatch/osawatch/pkg/diff"
	"github.com/osawatch/osawatch/pkg/domain"
)

// Fetcher retrieves the complete current listing
type Fetcher interface {
	FetchAll(ctx context.Context) ([]domain.Item, error)
}

// SnapshotStore persists the listing between runs
type SnapshotStore interface {
	Load() ([]domain.Item, error)
	Save(items []domain.Item) error
}

// Notifier delivers messages for new items and reports what went out
type Notifier interface {
	Broadcast(ctx context.Context, items []domain.Item) []domain.Item
}

// History records delivered notifications
type History interface {
	Add(ctx context.Context, items []domain.Item) error
}

// Watcher ties the fetcher, snapshot store and notifier into a single
// run-to-completion pipeline and optionally repeats it on an interval.
type Watcher struct {
	fetcher  Fetcher
	store    SnapshotStore
	notifier Notifier
	history  History // optional, nil disables
	interval time.Duration

	runMu   sync.Mutex // serialize pipeline runs
	statsMu sync.Mutex
	last    domain.RunStats
}

// Params holds watcher construction parameters
type Params struct {
	Fetcher  Fetcher
	Store    SnapshotStore
	Notifier Notifier
	History  History
	Interval time.Duration
}

// New creates a watcher
func New(p Params) *Watcher {
	if p.Interval == 0 {
		p.Interval = 6 * time.Hour
	}
	return &Watcher{
		fetcher:  p.Fetcher,
		store:    p.Store,
		notifier: p.Notifier,
		history:  p.History,
		interval: p.Interval,
	}
}

// RunOnce executes a single pipeline pass: fetch the full listing, diff
// against the prior snapshot, notify the new items and replace the
// snapshot. A fetch failure aborts the pass before anything is written.
func (w *Watcher) RunOnce(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	stats := domain.RunStats{StartedAt: time.Now()}
	err := w.runPipeline(ctx, &stats)
	stats.FinishedAt = time.Now()
	if err != nil {
		stats.Err = err.Error()
	}

	w.statsMu.Lock()
	w.last = stats
	w.statsMu.Unlock()

	return err
}

// runPipeline does the actual work of a single pass
func (w *Watcher) runPipeline(ctx context.Context, stats *domain.RunStats) error {
	current, err := w.fetcher.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch listing: %w", err)
	}
	stats.Fetched = len(current)

	prev, err := w.store.Load()
	if err != nil {
		// a broken snapshot should not wedge the watcher forever, treat
		// it as absent and let the save below rebuild it
		lgr.Printf("[WARN] can't load snapshot, treating as empty: %v", err)
		prev = nil
	}

	newItems := diff.NewItems(prev, current)
	stats.New = len(newItems)

	if len(newItems) == 0 {
		lgr.Printf("[INFO] no new items, %d total", len(current))
	} else {
		lgr.Printf("[INFO] found %d new items out of %d", len(newItems), len(current))
		sent := w.notifier.Broadcast(ctx, newItems)
		stats.Notified = len(sent)

		if w.history != nil && len(sent) > 0 {
			if err := w.history.Add(ctx, sent); err != nil {
				lgr.Printf("[WARN] can't record notifications: %v", err)
			}
		}
	}

	if err := w.store.Save(current); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	lgr.Printf("[INFO] snapshot updated with %d records", len(current))
	return nil
}

// Run executes the pipeline immediately and then on every interval tick
// until the context is canceled. Run errors are logged and the loop
// continues, a transient upstream failure must not kill the daemon.
func (w *Watcher) Run(ctx context.Context) {
	lgr.Printf("[INFO] watcher started, interval %v", w.interval)

	if err := w.RunOnce(ctx); err != nil {
		lgr.Printf("[ERROR] run failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lgr.Printf("[INFO] watcher stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				lgr.Printf("[ERROR] run failed: %v", err)
			}
		}
	}
}

// RunNow triggers an immediate pipeline pass, used by the status api
func (w *Watcher) RunNow(ctx context.Context) error {
	lgr.Printf("[INFO] triggered immediate run")
	return w.RunOnce(ctx)
}

// LastStats returns the stats of the most recent completed run
func (w *Watcher) LastStats() domain.RunStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.last
}
