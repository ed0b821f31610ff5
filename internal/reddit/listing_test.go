package reddit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const listingPageOne = `{
  "kind": "Listing",
  "data": {
    "after": "t3_cursor1",
    "children": [
      {"kind": "t3", "data": {
        "id": "p1",
        "title": "First &amp; foremost",
        "selftext": " body text ",
        "author": "alice",
        "subreddit": "wallstreetbets",
        "permalink": "/r/wallstreetbets/comments/p1/first/",
        "created_utc": 1700000000,
        "score": 42,
        "upvote_ratio": 0.93
      }},
      {"kind": "t3", "data": {
        "id": "p2",
        "title": "No author here",
        "permalink": "/r/wallstreetbets/comments/p2/second/"
      }},
      {"kind": "t3", "data": {"title": "missing id, skipped"}}
    ]
  }
}`

func TestParseListing(t *testing.T) {
	t.Parallel()

	page, err := ParseListing(decodeT(t, listingPageOne))
	require.NoError(t, err)
	require.Equal(t, "t3_cursor1", page.After)
	require.Len(t, page.Entries, 2)

	first := page.Entries[0]
	require.Equal(t, "p1", first.ExternalID)
	require.Equal(t, "First & foremost", first.Title)
	require.Equal(t, "body text", first.Body)
	require.Equal(t, "alice", first.Author)
	require.Equal(t, "wallstreetbets", first.Community)
	require.Equal(t, "/r/wallstreetbets/comments/p1/first/", first.Permalink)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), *first.CreatedAt)
	require.Equal(t, int64(42), first.Score)
	require.InDelta(t, 0.93, first.UpvoteRatio, 1e-9)

	second := page.Entries[1]
	require.Equal(t, "", second.Author)
	require.Nil(t, second.CreatedAt)
	require.Equal(t, int64(0), second.Score)
}

func TestParseListingLastPage(t *testing.T) {
	t.Parallel()

	page, err := ParseListing(decodeT(t, `{"data": {"after": null, "children": []}}`))
	require.NoError(t, err)
	require.Equal(t, "", page.After)
	require.Empty(t, page.Entries)
}

func TestParseListingMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`[]`, `{"data": null}`, `{"data": {"children": {}}}`} {
		_, err := ParseListing(decodeT(t, raw))
		require.Error(t, err, "document %s", raw)
	}
}

func TestDecodeDocumentRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := DecodeDocument([]byte(`{"data": `))
	require.Error(t, err)
}
