package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/threadvine/harvester/internal/metrics"
	"github.com/threadvine/harvester/internal/reddit"
)

// Orchestrator walks seed listing URLs page by page and enqueues one ThreadJob
// per discovered thread. Discovery is strictly ordered: entries within a page
// in source order, and a page fully enumerated before its continuation cursor
// is followed. Detail fetching happens downstream in the workers.
type Orchestrator struct {
	fetcher  Fetcher
	queue    Queue
	baseURL  string
	counters *Counters
	logger   *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. baseURL is the site root used to
// resolve permalinks into thread URLs and detail endpoints.
func NewOrchestrator(
	fetcher Fetcher,
	queue Queue,
	baseURL string,
	counters *Counters,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:  fetcher,
		queue:    queue,
		baseURL:  strings.TrimRight(baseURL, "/"),
		counters: counters,
		logger:   logger,
	}
}

// Run enumerates every seed to exhaustion. A failed seed is logged and counted
// without affecting the remaining seeds; only context cancellation aborts the
// whole run.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) error {
	for _, seed := range seeds {
		if err := o.crawlSeed(ctx, seed); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.counters.SeedsFailed.Add(1)
			o.logger.Error("seed crawl failed", zap.String("seed", seed), zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) crawlSeed(ctx context.Context, seed string) error {
	pageURL := seed
	for {
		page, err := o.fetchListing(ctx, pageURL)
		if err != nil {
			return err
		}
		o.counters.ListingPages.Add(1)
		o.logger.Debug("listing page enumerated",
			zap.String("url", pageURL),
			zap.Int("entries", len(page.Entries)),
			zap.String("after", page.After),
		)

		for _, entry := range page.Entries {
			entry.URL = o.baseURL + entry.Permalink
			job := ThreadJob{
				Entry:     entry,
				DetailURL: o.baseURL + entry.Permalink + ".json",
				Seed:      seed,
			}
			if err := o.queue.Enqueue(ctx, job); err != nil {
				return fmt.Errorf("enqueue thread %s: %w", entry.ExternalID, err)
			}
			o.counters.ThreadsDiscovered.Add(1)
		}

		if page.After == "" {
			return nil
		}
		pageURL = nextPageURL(seed, page.After)
	}
}

func (o *Orchestrator) fetchListing(ctx context.Context, pageURL string) (reddit.ListingPage, error) {
	resp, err := o.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		metrics.ObserveFetch("listing", "error")
		return reddit.ListingPage{}, fmt.Errorf("fetch listing %s: %w", pageURL, err)
	}
	metrics.ObserveFetch("listing", "ok")

	doc, err := reddit.DecodeDocument(resp.Body)
	if err != nil {
		return reddit.ListingPage{}, fmt.Errorf("listing %s: %w", pageURL, err)
	}
	page, err := reddit.ParseListing(doc)
	if err != nil {
		return reddit.ListingPage{}, fmt.Errorf("listing %s: %w", pageURL, err)
	}
	return page, nil
}

// nextPageURL appends the continuation cursor to the query-stripped seed URL,
// so cursors never accumulate across pages.
func nextPageURL(seed, after string) string {
	base := seed
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return base + "?after=" + url.QueryEscape(after)
}
