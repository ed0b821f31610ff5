// Package reddit decodes listing and thread-detail documents into the records
// the persistence layer consumes.
package reddit

import "time"

// ListingEntry is the post metadata carried by one entry of a subreddit
// listing page. URL and the detail endpoint are resolved later against the
// configured base URL; only Permalink comes from the source.
type ListingEntry struct {
	ExternalID  string
	Title       string
	Body        string
	Author      string
	Community   string
	Permalink   string
	URL         string
	CreatedAt   *time.Time
	Score       int64
	UpvoteRatio float64
}

// ThreadRecord is one root post plus its fully extracted comment forest.
type ThreadRecord struct {
	ExternalID  string
	Title       string
	Body        string
	URL         string
	Author      string
	Community   string
	CreatedAt   *time.Time
	Score       int64
	UpvoteRatio float64
	Comments    []CommentRecord
}

// CommentRecord mirrors one node of the source comment tree. Depth is the
// distance from the post: 0 for top-level comments, parent depth + 1 below.
type CommentRecord struct {
	ExternalID string
	Author     string
	Body       string
	Score      int64
	CreatedAt  *time.Time
	Depth      int
	Replies    []CommentRecord
}

// CommentTotal counts every comment in the tree, direct and nested.
func (t ThreadRecord) CommentTotal() int {
	total := 0
	var walk func(cs []CommentRecord)
	walk = func(cs []CommentRecord) {
		total += len(cs)
		for _, c := range cs {
			walk(c.Replies)
		}
	}
	walk(t.Comments)
	return total
}
