package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeXRPC serves a fixed number of search results in cursor pages and
// records every page request.
type fakeXRPC struct {
	mu         sync.Mutex
	total      int
	nilCursor  bool
	badItemAt  int
	loginFails bool
	pageSizes  []int
	resolved   []string
	threadType string
}

func (f *fakeXRPC) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		if f.loginFails {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`)
			return
		}
		writeTestJSON(w, map[string]string{"accessJwt": "jwt", "did": "did:plc:me", "handle": "me.test"})
	})

	mux.HandleFunc("GET /xrpc/app.bsky.feed.searchPosts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		f.servePage(w, r, func(i int) any {
			if i == f.badItemAt {
				return map[string]any{"uri": "at://broken", "author": nil}
			}
			return testPostView(i)
		}, "posts")
	})

	mux.HandleFunc("GET /xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("actor") != "alice.test" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"InvalidRequest","message":"Profile not found"}`)
			return
		}
		writeTestJSON(w, map[string]any{
			"did":            "did:plc:alice",
			"handle":         "alice.test",
			"description":    "line one\nline two ",
			"followersCount": 10,
			"viewer":         map[string]any{"following": "at://did:plc:me/app.bsky.graph.follow/1"},
		})
	})

	mux.HandleFunc("GET /xrpc/app.bsky.feed.getAuthorFeed", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "did:plc:alice", r.URL.Query().Get("actor"))
		f.servePage(w, r, func(i int) any { return map[string]any{"post": testPostView(i)} }, "feed")
	})

	mux.HandleFunc("GET /xrpc/com.atproto.identity.resolveHandle", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.resolved = append(f.resolved, r.URL.Query().Get("handle"))
		f.mu.Unlock()
		writeTestJSON(w, map[string]string{"did": "did:plc:alice"})
	})

	mux.HandleFunc("GET /xrpc/app.bsky.feed.getPostThread", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("depth"))
		if f.threadType != "" {
			writeTestJSON(w, map[string]any{"thread": map[string]any{"$type": f.threadType, "uri": r.URL.Query().Get("uri")}})
			return
		}
		post := testPostView(0)
		post["uri"] = r.URL.Query().Get("uri")
		writeTestJSON(w, map[string]any{"thread": map[string]any{"$type": "app.bsky.feed.defs#threadViewPost", "post": post}})
	})

	return mux
}

func (f *fakeXRPC) servePage(w http.ResponseWriter, r *http.Request, item func(int) any, key string) {
	size, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	start, _ := strconv.Atoi(r.URL.Query().Get("cursor"))

	f.mu.Lock()
	f.pageSizes = append(f.pageSizes, size)
	f.mu.Unlock()

	items := []any{}
	for i := start; i < start+size && i < f.total; i++ {
		items = append(items, item(i))
	}

	resp := map[string]any{key: items}
	// the source keeps handing out a cursor until it returns an empty page
	if !f.nilCursor {
		resp["cursor"] = strconv.Itoa(start + len(items))
	}
	writeTestJSON(w, resp)
}

func testPostView(i int) map[string]any {
	return map[string]any{
		"uri": fmt.Sprintf("at://did:plc:alice/app.bsky.feed.post/%d", i),
		"cid": fmt.Sprintf("bafy%d", i),
		"author": map[string]any{
			"did":    "did:plc:alice",
			"handle": "alice.test",
		},
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      fmt.Sprintf("post %d\nsecond line", i),
			"createdAt": "2024-05-01T12:30:00.000Z",
		},
		"likeCount": 3,
		"indexedAt": "2024-05-01T12:30:01.000Z",
	}
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestCollector(t *testing.T, f *fakeXRPC) *Collector {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := NewCollector(CollectorConfig{
		PDS:        srv.URL,
		WebBase:    "https://bsky.app",
		Identifier: "me.test",
		Password:   "app-password",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Date(2024, 5, 2, 8, 0, 0, 0, time.FixedZone("CEST", 2*3600)) }
	return c
}

func TestSearchPaginatesToLimit(t *testing.T) {
	f := &fakeXRPC{total: 1000, badItemAt: -1}
	c := newTestCollector(t, f)

	posts, err := c.Search(context.Background(), "golang", 250, "en")
	require.NoError(t, err)
	assert.Len(t, posts, 250)
	assert.Equal(t, []int{100, 100, 50}, f.pageSizes)

	first := posts[0]
	assert.Equal(t, "post 0 second line", first.Text)
	assert.Equal(t, "https://bsky.app/profile/alice.test/post/0", first.URL)
	assert.Equal(t, "2024-05-02T06:00:00.000000Z", first.CollectedAt, "collected_at is UTC")
	assert.Equal(t, int64(3), first.LikeCount)
	assert.Equal(t, "{}", first.Embed)
	assert.Equal(t, "[]", first.Author.Labels)
	assert.Nil(t, first.Author.Viewer.Muted)
}

func TestSearchStopsOnEmptyPage(t *testing.T) {
	f := &fakeXRPC{total: 150, badItemAt: -1}
	c := newTestCollector(t, f)

	posts, err := c.Search(context.Background(), "golang", 500, "")
	require.NoError(t, err)
	assert.Len(t, posts, 150)
	assert.Equal(t, []int{100, 100, 100}, f.pageSizes, "third request returns an empty page")
}

func TestSearchStopsOnMissingCursor(t *testing.T) {
	f := &fakeXRPC{total: 1000, nilCursor: true, badItemAt: -1}
	c := newTestCollector(t, f)

	posts, err := c.Search(context.Background(), "golang", 500, "")
	require.NoError(t, err)
	assert.Len(t, posts, 100)
	assert.Equal(t, []int{100}, f.pageSizes)
}

func TestSearchSkipsMalformedItems(t *testing.T) {
	f := &fakeXRPC{total: 10, badItemAt: 4}
	c := newTestCollector(t, f)

	posts, err := c.Search(context.Background(), "golang", 10, "")
	require.NoError(t, err)
	assert.Len(t, posts, 9)
	for _, p := range posts {
		assert.NotEqual(t, "at://broken", p.URI)
	}
}

func TestLoginFailureIsFatal(t *testing.T) {
	f := &fakeXRPC{total: 10, loginFails: true, badItemAt: -1}
	c := newTestCollector(t, f)

	_, err := c.Search(context.Background(), "golang", 10, "")
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Empty(t, f.pageSizes, "no page is requested without a session")
}

func TestFetchProfileAndPosts(t *testing.T) {
	f := &fakeXRPC{total: 3, badItemAt: -1}
	c := newTestCollector(t, f)

	profile, posts, err := c.FetchProfileAndPosts(context.Background(), "alice.test", 50)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", profile.DID)
	assert.Equal(t, "line one line two", profile.Bio)
	assert.Equal(t, int64(10), profile.FollowersCount)
	assert.Equal(t, int64(0), profile.PostsCount)

	require.NotNil(t, profile.Viewer.Following)
	assert.True(t, *profile.Viewer.Following)
	require.NotNil(t, profile.Viewer.Muted)
	assert.False(t, *profile.Viewer.Muted)

	require.Len(t, posts, 3)
	assert.Equal(t, profile, posts[0].Profile)
	assert.Equal(t, []int{50, 47}, f.pageSizes)
}

func TestFetchProfileUnknownActor(t *testing.T) {
	c := newTestCollector(t, &fakeXRPC{badItemAt: -1})

	_, _, err := c.FetchProfileAndPosts(context.Background(), "nobody.test", 50)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "InvalidRequest", apiErr.Name)
}

func TestFetchSinglePost(t *testing.T) {
	f := &fakeXRPC{badItemAt: -1}
	c := newTestCollector(t, f)

	post, err := c.FetchSinglePost(context.Background(), "https://bsky.app/profile/alice.test/post/abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice.test"}, f.resolved)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/abc123", post.Post.URI)
	assert.Equal(t, "alice.test", post.Username)
	assert.Equal(t, "did:plc:alice", post.UserID)
	assert.Equal(t, "https://bsky.app/profile/alice.test/post/abc123", post.Post.URL)
}

func TestFetchSinglePostSkipsResolveForDID(t *testing.T) {
	f := &fakeXRPC{badItemAt: -1}
	c := newTestCollector(t, f)

	post, err := c.FetchSinglePost(context.Background(), "https://bsky.app/profile/did:plc:alice/post/abc123")
	require.NoError(t, err)
	assert.Empty(t, f.resolved)
	assert.Equal(t, "did:plc:alice", post.UserID)
}

func TestFetchSinglePostNotFound(t *testing.T) {
	f := &fakeXRPC{badItemAt: -1, threadType: "app.bsky.feed.defs#notFoundPost"}
	c := newTestCollector(t, f)

	_, err := c.FetchSinglePost(context.Background(), "https://bsky.app/profile/alice.test/post/abc123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchSinglePostMalformedURL(t *testing.T) {
	c := newTestCollector(t, &fakeXRPC{badItemAt: -1})

	_, err := c.FetchSinglePost(context.Background(), "https://bsky.app/notprofile/alice.test")
	assert.ErrorIs(t, err, domain.ErrMalformedURL)
}
