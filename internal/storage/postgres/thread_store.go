package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/threadvine/harvester/internal/reddit"
)

// ThreadStore persists whole threads. Each SaveThread call runs in its own
// transaction, so concurrent calls for different threads are safe; calling it
// again for the same thread only refreshes the mutable fields.
type ThreadStore struct {
	db    DB
	clock Clock
}

// NewThreadStore constructs a ThreadStore on an open pool (or any DB, which is
// how the pgxmock tests drive it).
func NewThreadStore(db DB, clock Clock) (*ThreadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &ThreadStore{db: db, clock: clock}, nil
}

const upsertPostSQL = `
INSERT INTO posts (external_id, community_id, author_id, title, body, url, created_at, comment_count, score, upvote_ratio, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (external_id) DO UPDATE
SET title = EXCLUDED.title,
	body = EXCLUDED.body,
	url = EXCLUDED.url,
	comment_count = EXCLUDED.comment_count,
	score = EXCLUDED.score,
	upvote_ratio = EXCLUDED.upvote_ratio,
	last_seen = EXCLUDED.last_seen
RETURNING id`

const upsertCommentSQL = `
INSERT INTO comments (external_id, post_id, parent_id, author_id, body, score, created_at, depth, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (external_id) DO UPDATE
SET body = EXCLUDED.body,
	score = EXCLUDED.score,
	depth = EXCLUDED.depth,
	last_seen = EXCLUDED.last_seen
RETURNING id`

// SaveThread upserts the thread's community, accounts, post and full comment
// tree inside one transaction. Comments are written in pre-order so every
// parent's persisted id exists before its children reference it. Any error
// rolls the whole thread back.
func (s *ThreadStore) SaveThread(ctx context.Context, rec reddit.ThreadRecord) error {
	if rec.ExternalID == "" {
		return fmt.Errorf("thread record has no external id")
	}
	now := s.clock.Now()
	flat := flattenComments(rec.Comments)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin thread %s: %w", rec.ExternalID, err)
	}
	defer func() {
		// No-op once the transaction has committed.
		_ = tx.Rollback(ctx)
	}()

	communityID, err := s.upsertCommunity(ctx, tx, rec.Community, now)
	if err != nil {
		return err
	}
	authorID, err := s.upsertAccount(ctx, tx, rec.Author, now)
	if err != nil {
		return err
	}

	var postID int64
	err = tx.QueryRow(ctx, upsertPostSQL,
		rec.ExternalID,
		communityID,
		authorID,
		rec.Title,
		rec.Body,
		rec.URL,
		rec.CreatedAt,
		len(flat),
		rec.Score,
		rec.UpvoteRatio,
		now,
	).Scan(&postID)
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", rec.ExternalID, err)
	}

	ids := make([]int64, len(flat))
	for i, fc := range flat {
		commentAuthorID, err := s.upsertAccount(ctx, tx, fc.comment.Author, now)
		if err != nil {
			return err
		}
		var parentID *int64
		if fc.parent >= 0 {
			parentID = &ids[fc.parent]
		}
		err = tx.QueryRow(ctx, upsertCommentSQL,
			fc.comment.ExternalID,
			postID,
			parentID,
			commentAuthorID,
			fc.comment.Body,
			fc.comment.Score,
			fc.comment.CreatedAt,
			fc.comment.Depth,
			now,
		).Scan(&ids[i])
		if err != nil {
			return fmt.Errorf("upsert comment %s: %w", fc.comment.ExternalID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit thread %s: %w", rec.ExternalID, err)
	}
	return nil
}

// upsertCommunity inserts the community if absent and refreshes last_seen
// either way, returning its id. A "" name means attribution is unavailable
// and maps to a null reference.
func (s *ThreadStore) upsertCommunity(
	ctx context.Context,
	tx pgx.Tx,
	name string,
	now time.Time,
) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO communities (name, last_seen) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING RETURNING id`,
		name, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race or the row already existed. Either way the
		// winner's id is read back; the insert attempt never names it.
		err = tx.QueryRow(ctx,
			`UPDATE communities SET last_seen = $2 WHERE name = $1 RETURNING id`,
			name, now,
		).Scan(&id)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert community %q: %w", name, err)
	}
	return &id, nil
}

// upsertAccount has the same semantics as upsertCommunity, keyed by username.
func (s *ThreadStore) upsertAccount(
	ctx context.Context,
	tx pgx.Tx,
	username string,
	now time.Time,
) (*int64, error) {
	if username == "" {
		return nil, nil
	}
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO accounts (username, last_seen) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING RETURNING id`,
		username, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx,
			`UPDATE accounts SET last_seen = $2 WHERE username = $1 RETURNING id`,
			username, now,
		).Scan(&id)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert account %q: %w", username, err)
	}
	return &id, nil
}

// flatComment pairs a comment with the pre-order index of its parent, -1 for
// top-level comments. Indexes stand in for persisted ids until the insert
// loop resolves them in traversal order.
type flatComment struct {
	comment reddit.CommentRecord
	parent  int
}

// flattenComments lists the tree in pre-order: a node always precedes its
// children. Nodes without an external id are dropped along with their subtree,
// since their children could never reference a persisted parent row.
func flattenComments(comments []reddit.CommentRecord) []flatComment {
	var out []flatComment
	var walk func(c reddit.CommentRecord, parent int)
	walk = func(c reddit.CommentRecord, parent int) {
		if c.ExternalID == "" {
			return
		}
		idx := len(out)
		out = append(out, flatComment{comment: c, parent: parent})
		for _, r := range c.Replies {
			walk(r, idx)
		}
	}
	for _, c := range comments {
		walk(c, -1)
	}
	return out
}
