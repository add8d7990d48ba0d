package domain

import "time"

// StoredPost is a persisted post as read back for listing.
type StoredPost struct {
	URI         string
	URL         string
	Author      string
	AuthorDID   string
	Text        string
	CreatedAt   *time.Time
	LikeCount   int64
	RepostCount int64
	ReplyCount  int64
	CollectedAt time.Time
}

// PostPage is one page of stored posts.
type PostPage struct {
	Cursor string
	Posts  []StoredPost
}

// Source names accepted when listing stored posts.
const (
	SourceSearch = "search"
	SourceUser   = "user"
	SourceSingle = "single"
)

// TargetForSource returns the storage target backing a listing source.
func TargetForSource(source string) (Target, bool) {
	switch source {
	case SourceSearch:
		return SearchPostsTarget, true
	case SourceUser:
		return UserPostsTarget, true
	case SourceSingle:
		return SinglePostsTarget, true
	default:
		return Target{}, false
	}
}
