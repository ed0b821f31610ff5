package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/threadvine/harvester/internal/reddit"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func ptr[T any](v T) *T { return &v }

var seen = time.Unix(1700000000, 0).UTC()

func newStore(t *testing.T) (*ThreadStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewThreadStore(mock, fixedClock{now: seen})
	require.NoError(t, err)
	return store, mock
}

func sampleThread() reddit.ThreadRecord {
	created := time.Unix(1600000000, 0).UTC()
	return reddit.ThreadRecord{
		ExternalID:  "p1",
		Title:       "a thread",
		Body:        "hello",
		URL:         "https://example.test/r/test/comments/p1/x/",
		Author:      "alice",
		Community:   "testsub",
		CreatedAt:   &created,
		Score:       42,
		UpvoteRatio: 0.9,
		Comments: []reddit.CommentRecord{
			{
				ExternalID: "c1",
				Author:     "bob",
				Body:       "top",
				Score:      5,
				Depth:      0,
				Replies: []reddit.CommentRecord{
					{ExternalID: "c2", Author: "carol", Body: "nested", Score: 1, Depth: 1},
				},
			},
		},
	}
}

// expectThreadUpserts registers the full happy-path statement sequence for
// sampleThread: community, post author, post, then comments in pre-order with
// each comment's author first.
func expectThreadUpserts(mock pgxmock.PgxPoolIface, rec reddit.ThreadRecord) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO communities`).
		WithArgs("testsub", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("alice", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(20)))
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs(
			"p1", ptr(int64(10)), ptr(int64(20)),
			rec.Title, rec.Body, rec.URL, rec.CreatedAt,
			2, rec.Score, rec.UpvoteRatio, seen,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))

	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("bob", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs(
			"c1", int64(100), (*int64)(nil), ptr(int64(21)),
			"top", int64(5), (*time.Time)(nil), 0, seen,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(200)))

	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("carol", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(22)))
	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs(
			"c2", int64(100), ptr(int64(200)), ptr(int64(22)),
			"nested", int64(1), (*time.Time)(nil), 1, seen,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(201)))
	mock.ExpectCommit()
}

func TestSaveThreadWritesParentsBeforeChildren(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	rec := sampleThread()
	expectThreadUpserts(mock, rec)

	require.NoError(t, store.SaveThread(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThreadIsIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	rec := sampleThread()

	// Re-persisting the same thread issues the same conflict-resolving
	// statements; the ON CONFLICT arms turn the second pass into updates.
	expectThreadUpserts(mock, rec)
	expectThreadUpserts(mock, rec)

	require.NoError(t, store.SaveThread(context.Background(), rec))
	require.NoError(t, store.SaveThread(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThreadAccountRaceFallsBackToLookup(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	rec := reddit.ThreadRecord{
		ExternalID: "p2",
		Title:      "no community",
		Author:     "alice",
	}

	mock.ExpectBegin()
	// DO NOTHING returned no row: someone else won the insert. The follow-up
	// refreshes last_seen and reads back the winner's id.
	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("alice", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`UPDATE accounts SET last_seen`).
		WithArgs("alice", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(33)))
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs(
			"p2", (*int64)(nil), ptr(int64(33)),
			"no community", "", "", (*time.Time)(nil),
			0, int64(0), float64(0), seen,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCommit()

	require.NoError(t, store.SaveThread(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThreadRollsBackOnCommentError(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	rec := sampleThread()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO communities`).
		WithArgs("testsub", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("alice", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(20)))
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("bob", seen).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SaveThread(context.Background(), rec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert comment c1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveThreadRejectsMissingExternalID(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	err := store.SaveThread(context.Background(), reddit.ThreadRecord{Title: "anonymous"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlattenCommentsPreOrder(t *testing.T) {
	t.Parallel()

	tree := []reddit.CommentRecord{
		{ExternalID: "a", Replies: []reddit.CommentRecord{
			{ExternalID: "b", Replies: []reddit.CommentRecord{
				{ExternalID: "c"},
			}},
			{ExternalID: "d"},
		}},
		{ExternalID: "e"},
	}
	flat := flattenComments(tree)

	var ids []string
	var parents []int
	for _, fc := range flat {
		ids = append(ids, fc.comment.ExternalID)
		parents = append(parents, fc.parent)
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	require.Equal(t, []int{-1, 0, 1, 0, -1}, parents)

	// Every parent index refers to an earlier element.
	for i, p := range parents {
		require.Less(t, p, i)
	}
}

func TestFlattenCommentsDropsKeylessSubtrees(t *testing.T) {
	t.Parallel()

	tree := []reddit.CommentRecord{
		{ExternalID: "a"},
		{ExternalID: "", Replies: []reddit.CommentRecord{{ExternalID: "orphan"}}},
	}
	flat := flattenComments(tree)
	require.Len(t, flat, 1)
	require.Equal(t, "a", flat[0].comment.ExternalID)
}
