// Package worker implements the per-thread processing loop: detail fetch,
// extraction, persistence, and the optional archive/publish side channels.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadvine/harvester/internal/crawl"
	"github.com/threadvine/harvester/internal/metrics"
	"github.com/threadvine/harvester/internal/reddit"
)

// Config controls Worker behavior.
type Config struct {
	// Topic enables publishing when non-empty.
	Topic string
	// ArchivePrefix is the key prefix for archived raw documents.
	ArchivePrefix string
	ContentType   string
	// RunID identifies the crawl run in published events.
	RunID string
}

// Worker consumes thread jobs and runs each through the pipeline. A failure
// anywhere in one thread is contained to that thread: the worker logs it,
// counts it, and moves on.
type Worker struct {
	queue     crawl.Queue
	store     crawl.ThreadStore
	fetcher   crawl.Fetcher
	archive   crawl.BlobStore
	publisher crawl.Publisher
	hasher    crawl.Hasher
	clock     crawl.Clock
	counters  *crawl.Counters
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. archive may be nil to disable raw archiving;
// publishing is skipped unless cfg.Topic is set.
func New(
	queue crawl.Queue,
	store crawl.ThreadStore,
	fetcher crawl.Fetcher,
	archive crawl.BlobStore,
	publisher crawl.Publisher,
	hasher crawl.Hasher,
	clock crawl.Clock,
	counters *crawl.Counters,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{
		queue:     queue,
		store:     store,
		fetcher:   fetcher,
		archive:   archive,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		counters:  counters,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the queue is closed and drained or the
// context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawl.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		w.processThread(ctx, job)
	}
}

func (w *Worker) processThread(ctx context.Context, job crawl.ThreadJob) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	externalID := job.Entry.ExternalID

	resp, err := w.fetcher.Fetch(ctx, job.DetailURL)
	if err != nil {
		metrics.ObserveFetch("detail", "error")
		w.failThread(externalID, job.DetailURL, "detail fetch failed", err)
		return
	}
	metrics.ObserveFetch("detail", "ok")

	detail, err := reddit.DecodeDocument(resp.Body)
	if err != nil {
		w.failThread(externalID, job.DetailURL, "detail decode failed", err)
		return
	}
	rec := reddit.ExtractThread(job.Entry, detail)

	w.archiveRaw(ctx, externalID, resp.Body)

	start := w.clock.Now()
	if err := w.store.SaveThread(ctx, rec); err != nil {
		w.failThread(externalID, job.DetailURL, "thread persist failed", err)
		return
	}
	comments := rec.CommentTotal()
	metrics.ObserveThread("persisted")
	metrics.ObservePersist(w.clock.Now().Sub(start), comments)
	w.counters.ThreadsPersisted.Add(1)
	w.counters.CommentsUpserted.Add(int64(comments))

	w.publishThread(ctx, rec, comments)

	w.logger.Debug("thread persisted",
		zap.String("external_id", externalID),
		zap.Int("comments", comments),
	)
}

func (w *Worker) failThread(externalID, url, msg string, err error) {
	metrics.ObserveThread("failed")
	w.counters.ThreadsFailed.Add(1)
	w.logger.Error(msg,
		zap.String("external_id", externalID),
		zap.String("url", url),
		zap.Error(err),
	)
}

// archiveRaw stores the raw detail document for later re-extraction. Failures
// here never fail the thread.
func (w *Worker) archiveRaw(ctx context.Context, externalID string, body []byte) {
	if w.archive == nil {
		return
	}
	hash, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash raw document failed", zap.String("external_id", externalID), zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/threads/%s.json", w.cfg.ArchivePrefix, hash)
	uri, err := w.archive.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("archive raw document failed", zap.String("external_id", externalID), zap.Error(err))
		return
	}
	w.logger.Debug("raw document archived",
		zap.String("external_id", externalID),
		zap.String("blob_uri", uri),
	)
}

func (w *Worker) publishThread(ctx context.Context, rec reddit.ThreadRecord, comments int) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":      w.cfg.RunID,
		"external_id": rec.ExternalID,
		"url":         rec.URL,
		"community":   rec.Community,
		"comments":    comments,
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish thread event failed",
			zap.String("external_id", rec.ExternalID),
			zap.Error(err),
		)
	}
}
