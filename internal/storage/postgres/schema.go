package postgres

import (
	"context"
	"fmt"
)

// The upsert protocol depends on the store enforcing natural-key uniqueness
// itself: external_id, username and name all carry UNIQUE constraints, and
// every insert resolves conflicts against them rather than taking locks.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS communities (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	community_id BIGINT REFERENCES communities(id),
	author_id BIGINT REFERENCES accounts(id),
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ,
	comment_count BIGINT NOT NULL DEFAULT 0,
	score BIGINT NOT NULL DEFAULT 0,
	upvote_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	post_id BIGINT NOT NULL REFERENCES posts(id),
	parent_id BIGINT REFERENCES comments(id),
	author_id BIGINT REFERENCES accounts(id),
	body TEXT NOT NULL DEFAULT '',
	score BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ,
	depth INT NOT NULL DEFAULT 0,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS comments_post_id_idx ON comments (post_id);
CREATE INDEX IF NOT EXISTS comments_parent_id_idx ON comments (parent_id);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	seeds TEXT[] NOT NULL DEFAULT '{}',
	threads_persisted BIGINT NOT NULL DEFAULT 0,
	threads_failed BIGINT NOT NULL DEFAULT 0,
	error_text TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
