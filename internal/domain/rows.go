package domain

import "github.com/blackmichael/bluesky-importer/internal/batch"

// Target describes where a kind of record is stored and how its
// collection-time column names translate to storage column names.
type Target struct {
	// Table is the storage table name.
	Table string

	// ConflictKey is the unique column used for conflict-safe inserts.
	ConflictKey string

	// Rename maps collection-time names to storage names. Unmapped columns
	// keep their collection-time name.
	Rename map[string]string

	// DateColumns are storage column names parsed as timestamps before insert.
	DateColumns []string
}

// countRenames is shared by every target.
var countRenames = map[string]string{
	"likeCount":   "like_count",
	"repostCount": "repost_count",
	"replyCount":  "reply_count",
	"collectedAt": "collected_at",
}

func withCounts(m map[string]string) map[string]string {
	for k, v := range countRenames {
		m[k] = v
	}
	return m
}

var (
	SearchPostsTarget = Target{
		Table:       "bluesky_search_posts",
		ConflictKey: "post_uri",
		Rename: withCounts(map[string]string{
			"createdAt_post":    "created_at_post",
			"indexedAt_post":    "indexed_at_post",
			"displayName":       "display_name",
			"followersCount":    "followers_count",
			"followsCount":      "follows_count",
			"postsCount":        "posts_count",
			"createdAt_profile": "created_at_profile",
			"indexedAt_profile": "indexed_at_profile",
			"viewer_blockedBy":  "viewer_blocked_by",
		}),
		DateColumns: []string{
			"created_at_post", "indexed_at_post",
			"created_at_profile", "indexed_at_profile",
			"collected_at",
		},
	}

	UserPostsTarget = Target{
		Table:       "bluesky_user_posts",
		ConflictKey: "post_uri",
		Rename: withCounts(map[string]string{
			"followersCount":    "followers_count",
			"followsCount":      "follows_count",
			"postsCount":        "posts_count",
			"createdAt_profile": "profile_created_at",
			"text":              "post_text",
			"createdAt_post":    "post_created_at",
			"indexedAt_post":    "post_indexed_at",
		}),
		DateColumns: []string{
			"profile_created_at", "post_created_at",
			"post_indexed_at", "collected_at",
		},
	}

	SinglePostsTarget = Target{
		Table:       "bluesky_single_posts",
		ConflictKey: "post_uri",
		Rename: withCounts(map[string]string{
			"text":           "post_text",
			"createdAt_post": "post_created_at",
			"indexedAt_post": "post_indexed_at",
		}),
		DateColumns: []string{
			"post_created_at", "post_indexed_at", "collected_at",
		},
	}
)

func countFields(p Post) batch.Row {
	return batch.Row{
		{Name: "likeCount", Value: p.LikeCount},
		{Name: "repostCount", Value: p.RepostCount},
		{Name: "replyCount", Value: p.ReplyCount},
	}
}

// Row flattens the post into collection-time columns.
func (p SearchPost) Row() batch.Row {
	row := batch.Row{
		{Name: "post_uri", Value: p.URI},
		{Name: "post_url", Value: p.URL},
		{Name: "post_cid", Value: p.CID},
		{Name: "text", Value: p.Text},
		{Name: "createdAt_post", Value: p.CreatedAt},
		{Name: "indexedAt_post", Value: p.IndexedAt},
		{Name: "embed", Value: p.Embed},
	}
	row = append(row, countFields(p.Post)...)
	return append(row,
		batch.Field{Name: "did", Value: p.Author.DID},
		batch.Field{Name: "handle", Value: p.Author.Handle},
		batch.Field{Name: "displayName", Value: p.Author.DisplayName},
		batch.Field{Name: "bio", Value: p.Author.Bio},
		batch.Field{Name: "followersCount", Value: p.Author.FollowersCount},
		batch.Field{Name: "followsCount", Value: p.Author.FollowsCount},
		batch.Field{Name: "postsCount", Value: p.Author.PostsCount},
		batch.Field{Name: "createdAt_profile", Value: p.Author.CreatedAt},
		batch.Field{Name: "indexedAt_profile", Value: p.Author.IndexedAt},
		batch.Field{Name: "viewer_muted", Value: p.Author.Viewer.Muted},
		batch.Field{Name: "viewer_following", Value: p.Author.Viewer.Following},
		batch.Field{Name: "viewer_blockedBy", Value: p.Author.Viewer.BlockedBy},
		batch.Field{Name: "labels", Value: p.Author.Labels},
		batch.Field{Name: "collectedAt", Value: p.CollectedAt},
	)
}

// Row flattens the post and the reduced profile subset into collection-time
// columns.
func (p UserPost) Row() batch.Row {
	row := batch.Row{
		{Name: "username", Value: p.Profile.Handle},
		{Name: "user_id", Value: p.Profile.DID},
		{Name: "bio", Value: p.Profile.Bio},
		{Name: "followersCount", Value: p.Profile.FollowersCount},
		{Name: "followsCount", Value: p.Profile.FollowsCount},
		{Name: "postsCount", Value: p.Profile.PostsCount},
		{Name: "createdAt_profile", Value: p.Profile.CreatedAt},
		{Name: "post_uri", Value: p.URI},
		{Name: "post_cid", Value: p.CID},
		{Name: "post_url", Value: p.URL},
		{Name: "text", Value: p.Text},
		{Name: "createdAt_post", Value: p.CreatedAt},
		{Name: "indexedAt_post", Value: p.IndexedAt},
		{Name: "embed", Value: p.Embed},
	}
	row = append(row, countFields(p.Post)...)
	return append(row, batch.Field{Name: "collectedAt", Value: p.CollectedAt})
}

// Row flattens the post into collection-time columns.
func (p SinglePost) Row() batch.Row {
	row := batch.Row{
		{Name: "username", Value: p.Username},
		{Name: "user_id", Value: p.UserID},
		{Name: "post_uri", Value: p.Post.URI},
		{Name: "post_cid", Value: p.Post.CID},
		{Name: "text", Value: p.Post.Text},
		{Name: "createdAt_post", Value: p.Post.CreatedAt},
		{Name: "indexedAt_post", Value: p.Post.IndexedAt},
	}
	row = append(row, countFields(p.Post)...)
	return append(row, batch.Field{Name: "collectedAt", Value: p.CollectedAt})
}

// Rows converts any slice of records exposing Row into batch rows.
func Rows[T interface{ Row() batch.Row }](records []T) []batch.Row {
	rows := make([]batch.Row, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	return rows
}
