package api

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// Latest keeps the last snapshot written by a run in memory. It is registered
// as a pipeline sink so the API serves fresh data without re-reading storage.
type Latest struct {
	mu       sync.RWMutex
	snapshot scrape.Snapshot
	summary  scrape.RunSummary
	ok       bool
}

// NewLatest returns an empty holder.
func NewLatest() *Latest {
	return &Latest{}
}

// WriteSnapshot implements scrape.SnapshotSink.
func (l *Latest) WriteSnapshot(_ context.Context, snapshot scrape.Snapshot, summary scrape.RunSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = snapshot
	l.summary = summary
	l.ok = true
	return nil
}

// ReadSnapshot returns fs.ErrNotExist until the first snapshot arrives.
func (l *Latest) ReadSnapshot(_ context.Context) (scrape.Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ok {
		return scrape.Snapshot{}, fmt.Errorf("latest snapshot: %w", fs.ErrNotExist)
	}
	return l.snapshot, nil
}

// Summary returns the summary of the run that produced the held snapshot.
func (l *Latest) Summary() (scrape.RunSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summary, l.ok && l.summary.RunID != ""
}
