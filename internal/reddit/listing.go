package reddit

import "fmt"

// ListingPage is one decoded page of a subreddit listing: the entries in
// source order plus the continuation cursor, "" when the listing is exhausted.
type ListingPage struct {
	Entries []ListingEntry
	After   string
}

// ParseListing walks a decoded listing document. A document without the
// expected data/children sections is an error: the listing is the sole source
// of post metadata, so a malformed page terminates that seed's pagination.
func ParseListing(doc any) (ListingPage, error) {
	obj, ok := asObject(doc)
	if !ok {
		return ListingPage{}, fmt.Errorf("listing document is not an object")
	}
	data, ok := asObject(obj["data"])
	if !ok {
		return ListingPage{}, fmt.Errorf("listing document has no data section")
	}
	children, ok := asArray(data["children"])
	if !ok {
		return ListingPage{}, fmt.Errorf("listing document has no children")
	}

	page := ListingPage{After: stringField(data, "after")}
	for _, child := range children {
		childObj, ok := asObject(child)
		if !ok {
			continue
		}
		entryData, ok := asObject(childObj["data"])
		if !ok {
			continue
		}
		entry := parseListingEntry(entryData)
		// No row is ever written without its natural key.
		if entry.ExternalID == "" {
			continue
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func parseListingEntry(data map[string]any) ListingEntry {
	score, _ := numberField(data, "score")
	ratio, _ := numberField(data, "upvote_ratio")
	return ListingEntry{
		ExternalID:  stringField(data, "id"),
		Title:       textField(data, "title"),
		Body:        textField(data, "selftext"),
		Author:      stringField(data, "author"),
		Community:   stringField(data, "subreddit"),
		Permalink:   stringField(data, "permalink"),
		CreatedAt:   timeField(data, "created_utc"),
		Score:       int64(score),
		UpvoteRatio: ratio,
	}
}
