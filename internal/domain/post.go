package domain

// Post holds the fields shared by every collected post shape.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content hash of the record.
	CID string

	// URL is the human-navigable web URL, always derived from handle and URI.
	URL string

	// Text is the sanitized post body.
	Text string

	// CreatedAt and IndexedAt are ISO-8601 strings as returned by the source.
	CreatedAt string
	IndexedAt string

	// Embed is the record's embed serialized as JSON ("{}" when absent).
	Embed string

	LikeCount   int64
	RepostCount int64
	ReplyCount  int64
}

// Viewer carries the authenticated viewer's relationship to an author. Each
// flag is nil when no viewer context exists.
type Viewer struct {
	Muted     *bool
	Following *bool
	BlockedBy *bool
}

// Profile is an author snapshot taken at collection time.
type Profile struct {
	DID            string
	Handle         string
	DisplayName    string
	Bio            string
	FollowersCount int64
	FollowsCount   int64
	PostsCount     int64
	CreatedAt      string
	IndexedAt      string
	Viewer         Viewer

	// Labels is the author's label list serialized as JSON ("[]" when absent).
	Labels string
}

// SearchPost is a post returned by a search query, bundled with its author.
type SearchPost struct {
	Post
	Author      Profile
	CollectedAt string
}

// UserPost is a post from an author feed fetched for a known profile.
type UserPost struct {
	Post
	Profile     Profile
	CollectedAt string
}

// SinglePost is a post fetched by URL, or picked up from the firehose.
type SinglePost struct {
	Username    string
	UserID      string
	Post        Post
	CollectedAt string
}
