package reddit

// kindComment marks a real comment node. Other kinds ("more" stubs, listings)
// are skipped without recursing into them.
const kindComment = "t1"

// ExtractThread combines a listing entry with its decoded thread-detail
// document. The post metadata comes entirely from the listing entry, so a
// malformed detail document degrades to a thread with no comments rather than
// failing extraction.
func ExtractThread(entry ListingEntry, detail any) ThreadRecord {
	return ThreadRecord{
		ExternalID:  entry.ExternalID,
		Title:       entry.Title,
		Body:        entry.Body,
		URL:         entry.URL,
		Author:      entry.Author,
		Community:   entry.Community,
		CreatedAt:   entry.CreatedAt,
		Score:       entry.Score,
		UpvoteRatio: entry.UpvoteRatio,
		Comments:    parseCommentForest(detail),
	}
}

// parseCommentForest pulls the top-level comments out of a thread-detail
// document. The document is a sequence of sections; the comment forest is the
// second section's child list.
func parseCommentForest(detail any) []CommentRecord {
	sections, ok := asArray(detail)
	if !ok || len(sections) < 2 {
		return nil
	}
	section, ok := asObject(sections[1])
	if !ok {
		return nil
	}
	data, ok := asObject(section["data"])
	if !ok {
		return nil
	}
	children, ok := asArray(data["children"])
	if !ok {
		return nil
	}

	var comments []CommentRecord
	for _, child := range children {
		if c, ok := parseCommentNode(child, 0); ok {
			comments = append(comments, c)
		}
	}
	return comments
}

func parseCommentNode(node any, depth int) (CommentRecord, bool) {
	obj, ok := asObject(node)
	if !ok || stringField(obj, "kind") != kindComment {
		return CommentRecord{}, false
	}
	data, ok := asObject(obj["data"])
	if !ok {
		return CommentRecord{}, false
	}
	return parseComment(data, depth), true
}

// parseComment builds one CommentRecord and recurses into its replies. The
// replies field is an empty-string sentinel when the comment has none and an
// object holding nested children otherwise; both normalize to an empty list.
func parseComment(data map[string]any, depth int) CommentRecord {
	score, _ := numberField(data, "score")
	c := CommentRecord{
		ExternalID: stringField(data, "id"),
		Author:     stringField(data, "author"),
		Body:       textField(data, "body"),
		Score:      int64(score),
		CreatedAt:  timeField(data, "created_utc"),
		Depth:      depth,
	}

	replies, ok := asObject(data["replies"])
	if !ok {
		return c
	}
	repliesData, ok := asObject(replies["data"])
	if !ok {
		return c
	}
	children, ok := asArray(repliesData["children"])
	if !ok {
		return c
	}
	for _, child := range children {
		if reply, ok := parseCommentNode(child, depth+1); ok {
			c.Replies = append(c.Replies, reply)
		}
	}
	return c
}
