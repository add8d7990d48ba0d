package bluesky

import "encoding/json"

// Optional fields are pointers so that "absent" is distinguishable from the
// zero value when normalizing.

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type searchPostsResponse struct {
	Cursor *string           `json:"cursor,omitempty"`
	Posts  []json.RawMessage `json:"posts"`
}

type authorFeedResponse struct {
	Cursor *string           `json:"cursor,omitempty"`
	Feed   []json.RawMessage `json:"feed"`
}

// feedViewPost is one entry of an author feed.
type feedViewPost struct {
	Post *postView `json:"post"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type postThreadResponse struct {
	Thread struct {
		Type string          `json:"$type"`
		Post json.RawMessage `json:"post,omitempty"`
	} `json:"thread"`
}

// profileView covers app.bsky.actor.defs#profileViewBasic and
// #profileViewDetailed; the basic view simply lacks the counts.
type profileView struct {
	DID            string          `json:"did"`
	Handle         string          `json:"handle"`
	DisplayName    *string         `json:"displayName,omitempty"`
	Description    *string         `json:"description,omitempty"`
	FollowersCount *int64          `json:"followersCount,omitempty"`
	FollowsCount   *int64          `json:"followsCount,omitempty"`
	PostsCount     *int64          `json:"postsCount,omitempty"`
	CreatedAt      *string         `json:"createdAt,omitempty"`
	IndexedAt      *string         `json:"indexedAt,omitempty"`
	Viewer         *viewerState    `json:"viewer,omitempty"`
	Labels         json.RawMessage `json:"labels,omitempty"`
}

type viewerState struct {
	Muted     *bool   `json:"muted,omitempty"`
	BlockedBy *bool   `json:"blockedBy,omitempty"`
	Following *string `json:"following,omitempty"`
}

// postView is app.bsky.feed.defs#postView.
type postView struct {
	URI         string          `json:"uri"`
	CID         string          `json:"cid"`
	Author      *profileView    `json:"author"`
	Record      json.RawMessage `json:"record"`
	LikeCount   *int64          `json:"likeCount,omitempty"`
	RepostCount *int64          `json:"repostCount,omitempty"`
	ReplyCount  *int64          `json:"replyCount,omitempty"`
	IndexedAt   *string         `json:"indexedAt,omitempty"`
}

// postRecord is the parsed content of an app.bsky.feed.post record.
type postRecord struct {
	Type      string          `json:"$type"`
	Text      *string         `json:"text,omitempty"`
	CreatedAt *string         `json:"createdAt,omitempty"`
	Langs     []string        `json:"langs,omitempty"`
	Embed     json.RawMessage `json:"embed,omitempty"`
}
