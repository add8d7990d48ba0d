package domain

import (
	"context"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/batch"
)

// Collector fetches records from the remote social network. Each call owns
// its own session.
type Collector interface {
	// Search returns up to limit posts matching query. lang may be empty.
	Search(ctx context.Context, query string, limit int, lang string) ([]SearchPost, error)

	// FetchProfileAndPosts returns the profile for handle and up to limit of
	// its most recent posts.
	FetchProfileAndPosts(ctx context.Context, handle string, limit int) (Profile, []UserPost, error)

	// FetchSinglePost returns the post addressed by a web URL.
	FetchSinglePost(ctx context.Context, rawURL string) (SinglePost, error)
}

// PersistResult reports the outcome of persisting one batch.
type PersistResult struct {
	// Attempted is the number of rows an insert was issued for.
	Attempted int

	// Inserted is the number of rows that were newly stored.
	Inserted int

	// Conflicts is the number of rows skipped because the conflict key
	// already existed.
	Conflicts int

	// Failed is the number of rows rolled back because of an error.
	Failed int
}

// PostRepository defines persistence operations for collected posts.
type PostRepository interface {
	// Persist inserts every row of b into table, skipping rows whose
	// conflictKey already exists. Per-row failures are isolated and counted;
	// only request-level problems (unknown table or column, connection
	// failure, commit failure) are returned as errors.
	Persist(ctx context.Context, b *batch.Batch, table, conflictKey string) (PersistResult, error)

	// ListPosts retrieves stored posts from table ordered by collection time
	// descending. The cursor is opaque; an empty next cursor means no more
	// results.
	ListPosts(ctx context.Context, table string, limit int, cursor string) ([]StoredPost, string, error)

	// DeleteCollectedBefore removes posts from every table collected before
	// cutoff. Returns the number of rows deleted.
	DeleteCollectedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}
