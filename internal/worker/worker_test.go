package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/threadvine/harvester/internal/crawl"
	"github.com/threadvine/harvester/internal/metrics"
	"github.com/threadvine/harvester/internal/reddit"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type sliceQueue struct {
	mu   sync.Mutex
	jobs []crawl.ThreadJob
}

func (q *sliceQueue) Enqueue(_ context.Context, job crawl.ThreadJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *sliceQueue) Dequeue(_ context.Context) (crawl.ThreadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return crawl.ThreadJob{}, crawl.ErrQueueClosed
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

type fakeFetcher struct {
	bodies map[string][]byte
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawl.FetchResponse, error) {
	if f.err != nil {
		return crawl.FetchResponse{}, f.err
	}
	body, ok := f.bodies[url]
	if !ok {
		return crawl.FetchResponse{}, errors.New("no response configured")
	}
	return crawl.FetchResponse{URL: url, StatusCode: 200, Body: body}, nil
}

type recordingStore struct {
	mu    sync.Mutex
	saved []reddit.ThreadRecord
	err   error
}

func (s *recordingStore) SaveThread(_ context.Context, rec reddit.ThreadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, rec)
	return nil
}

type recordingBlobStore struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (b *recordingBlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return "memory://" + path, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

type fixedHasher struct{ digest string }

func (h fixedHasher) Hash([]byte) (string, error) { return h.digest, nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const detailDoc = `[
  {"kind": "Listing", "data": {"children": [
    {"kind": "t3", "data": {"id": "p1"}}
  ]}},
  {"kind": "Listing", "data": {"children": [
    {"kind": "t1", "data": {"id": "c1", "author": "alice", "body": "first", "score": 3, "created_utc": 1700000000, "replies": ""}}
  ]}}
]`

func newEntry() reddit.ListingEntry {
	return reddit.ListingEntry{
		ExternalID: "p1",
		Title:      "hello",
		Author:     "op",
		Community:  "wallstreetbets",
		URL:        "https://www.reddit.com/r/wallstreetbets/comments/p1/hello/",
	}
}

func TestWorkerPersistsThread(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://www.reddit.com/r/wallstreetbets/comments/p1/hello/.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://www.reddit.com/r/wallstreetbets/comments/p1/hello/.json": []byte(detailDoc),
	}}
	store := &recordingStore{}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, nil, nil, fixedHasher{}, fixedClock{now: time.Unix(1700000000, 0)}, counters, Config{}, zap.NewNop())
	w.Run(context.Background())

	require.Len(t, store.saved, 1)
	rec := store.saved[0]
	assert.Equal(t, "p1", rec.ExternalID)
	require.Len(t, rec.Comments, 1)
	assert.Equal(t, "c1", rec.Comments[0].ExternalID)
	assert.Equal(t, int64(1), counters.ThreadsPersisted.Load())
	assert.Equal(t, int64(1), counters.CommentsUpserted.Load())
	assert.Equal(t, int64(0), counters.ThreadsFailed.Load())
}

func TestWorkerFetchFailureIsIsolated(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{
		{Entry: reddit.ListingEntry{ExternalID: "bad"}, DetailURL: "https://example.com/bad.json"},
		{Entry: newEntry(), DetailURL: "https://example.com/p1.json"},
	}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte(detailDoc),
	}}
	store := &recordingStore{}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, nil, nil, fixedHasher{}, fixedClock{}, counters, Config{}, zap.NewNop())
	w.Run(context.Background())

	require.Len(t, store.saved, 1)
	assert.Equal(t, "p1", store.saved[0].ExternalID)
	assert.Equal(t, int64(1), counters.ThreadsFailed.Load())
	assert.Equal(t, int64(1), counters.ThreadsPersisted.Load())
}

func TestWorkerPersistFailureCounted(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://example.com/p1.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte(detailDoc),
	}}
	store := &recordingStore{err: errors.New("db down")}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, nil, nil, fixedHasher{}, fixedClock{}, counters, Config{}, zap.NewNop())
	w.Run(context.Background())

	assert.Equal(t, int64(1), counters.ThreadsFailed.Load())
	assert.Equal(t, int64(0), counters.ThreadsPersisted.Load())
}

func TestWorkerArchivesRawDocument(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://example.com/p1.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte(detailDoc),
	}}
	store := &recordingStore{}
	blobs := &recordingBlobStore{}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, blobs, nil, fixedHasher{digest: "abc123"}, fixedClock{}, counters, Config{ArchivePrefix: "raw"}, zap.NewNop())
	w.Run(context.Background())

	require.Len(t, blobs.paths, 1)
	assert.Equal(t, "raw/threads/abc123.json", blobs.paths[0])
	assert.Equal(t, int64(1), counters.ThreadsPersisted.Load())
}

func TestWorkerArchiveFailureDoesNotFailThread(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://example.com/p1.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte(detailDoc),
	}}
	store := &recordingStore{}
	blobs := &recordingBlobStore{err: errors.New("bucket unavailable")}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, blobs, nil, fixedHasher{digest: "abc123"}, fixedClock{}, counters, Config{ArchivePrefix: "raw"}, zap.NewNop())
	w.Run(context.Background())

	assert.Equal(t, int64(1), counters.ThreadsPersisted.Load())
	assert.Equal(t, int64(0), counters.ThreadsFailed.Load())
}

func TestWorkerPublishesAfterPersist(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://example.com/p1.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte(detailDoc),
	}}
	store := &recordingStore{}
	pub := &recordingPublisher{}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, nil, pub, fixedHasher{}, fixedClock{now: time.Unix(1700000000, 0)}, counters, Config{Topic: "thread-persisted", RunID: "run-1"}, zap.NewNop())
	w.Run(context.Background())

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "thread-persisted", pub.topics[0])
	payload, ok := pub.payloads[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", payload["run_id"])
	assert.Equal(t, "p1", payload["external_id"])
	assert.Equal(t, 1, payload["comments"])
}

func TestWorkerSkipsPublishWithoutTopic(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://example.com/p1.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte(detailDoc),
	}}
	store := &recordingStore{}
	pub := &recordingPublisher{}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, nil, pub, fixedHasher{}, fixedClock{}, counters, Config{}, zap.NewNop())
	w.Run(context.Background())

	assert.Empty(t, pub.topics)
}

func TestWorkerDecodeFailureIsCounted(t *testing.T) {
	queue := &sliceQueue{jobs: []crawl.ThreadJob{{
		Entry:     newEntry(),
		DetailURL: "https://example.com/p1.json",
	}}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/p1.json": []byte("<html>not json</html>"),
	}}
	store := &recordingStore{}
	counters := &crawl.Counters{}

	w := New(queue, store, fetcher, nil, nil, fixedHasher{}, fixedClock{}, counters, Config{}, zap.NewNop())
	w.Run(context.Background())

	assert.Empty(t, store.saved)
	assert.Equal(t, int64(1), counters.ThreadsFailed.Load())
}
