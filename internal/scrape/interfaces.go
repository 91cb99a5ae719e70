package scrape

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest describes a profile page GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw page returned by a Fetcher.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Fetcher retrieves profile pages.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// SnapshotSink persists a finished run.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snapshot Snapshot, summary RunSummary) error
}

// Notifier announces finished runs.
type Notifier interface {
	Notify(ctx context.Context, summary RunSummary) (string, error)
}
