package crawl

import "sync/atomic"

// Counters aggregates crawl outcomes across the orchestrator and workers.
type Counters struct {
	ListingPages      atomic.Int64
	SeedsFailed       atomic.Int64
	ThreadsDiscovered atomic.Int64
	ThreadsPersisted  atomic.Int64
	ThreadsFailed     atomic.Int64
	CommentsUpserted  atomic.Int64
}

// Summary is a point-in-time copy of the counters for reporting.
type Summary struct {
	ListingPages      int64
	SeedsFailed       int64
	ThreadsDiscovered int64
	ThreadsPersisted  int64
	ThreadsFailed     int64
	CommentsUpserted  int64
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Summary {
	return Summary{
		ListingPages:      c.ListingPages.Load(),
		SeedsFailed:       c.SeedsFailed.Load(),
		ThreadsDiscovered: c.ThreadsDiscovered.Load(),
		ThreadsPersisted:  c.ThreadsPersisted.Load(),
		ThreadsFailed:     c.ThreadsFailed.Load(),
		CommentsUpserted:  c.CommentsUpserted.Load(),
	}
}
