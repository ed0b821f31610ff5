// Package crawl defines the crawl pipeline's shared types and drives thread
// discovery over paginated listings.
package crawl

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/threadvine/harvester/internal/reddit"
)

// ErrQueueClosed is returned by Dequeue once the queue has been closed and
// drained; workers treat it as the end of input.
var ErrQueueClosed = errors.New("queue closed")

// Fetcher retrieves one URL. Retry, pacing and user-agent policy belong to the
// implementation, not to callers.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// FetchResponse is the result of a successful fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// ThreadStore persists one thread atomically. Implementations must be
// idempotent per external id and safe for concurrent use across threads.
type ThreadStore interface {
	SaveThread(ctx context.Context, rec reddit.ThreadRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes thread-persisted events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Queue carries discovered threads from the orchestrator to the workers.
type Queue interface {
	Enqueue(ctx context.Context, job ThreadJob) error
	Dequeue(ctx context.Context) (ThreadJob, error)
}

// ThreadJob is one discovered thread awaiting its detail fetch. Entry holds
// the listing-sourced post metadata the ThreadRecord is built from.
type ThreadJob struct {
	Entry     reddit.ListingEntry
	DetailURL string
	Seed      string
}
