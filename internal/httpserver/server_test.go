package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/blackmichael/bluesky-importer/internal/config"
	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/sentiment"
	"github.com/blackmichael/bluesky-importer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collectedAt = "2024-05-02T06:00:00.000000Z"

type fakeCollector struct{}

func post(rkey, text string) domain.Post {
	return domain.Post{
		URI:       "at://did:plc:alice/app.bsky.feed.post/" + rkey,
		CID:       "bafy" + rkey,
		URL:       "https://bsky.app/profile/alice.test/post/" + rkey,
		Text:      text,
		CreatedAt: "2024-05-01T12:00:00.000Z",
		IndexedAt: "2024-05-01T12:00:01.000Z",
		Embed:     "{}",
		LikeCount: 3,
	}
}

var alice = domain.Profile{
	DID:       "did:plc:alice",
	Handle:    "alice.test",
	CreatedAt: "2023-01-01T00:00:00.000Z",
	Labels:    "[]",
}

func (fakeCollector) Search(_ context.Context, query string, limit int, _ string) ([]domain.SearchPost, error) {
	return []domain.SearchPost{
		{Post: post("3kaaa", "first "+query), Author: alice, CollectedAt: collectedAt},
		{Post: post("3kbbb", "second "+query), Author: alice, CollectedAt: collectedAt},
	}, nil
}

func (fakeCollector) FetchProfileAndPosts(_ context.Context, handle string, _ int) (domain.Profile, []domain.UserPost, error) {
	p := alice
	p.Handle = handle
	return p, []domain.UserPost{{Post: post("3kccc", "from the feed"), Profile: p, CollectedAt: collectedAt}}, nil
}

func (fakeCollector) FetchSinglePost(context.Context, string) (domain.SinglePost, error) {
	return domain.SinglePost{
		Username:    "alice.test",
		UserID:      "did:plc:alice",
		Post:        post("3kddd", "one post"),
		CollectedAt: collectedAt,
	}, nil
}

func newTestServer(t *testing.T, classifier sentiment.Classifier) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(context.Background(), "sqlite://:memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	svc := domain.NewImportService(fakeCollector{}, st, st, logger)
	srv := NewServer(&config.Config{Port: 0}, svc, classifier, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, ts, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Welcome to the Bluesky Import API", body["message"])

	status, body = doJSON(t, ts, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestImportSearchIsIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, ts, http.MethodPost, "/import/search", `{"query":"golang"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2, body["inserted"])

	status, body = doJSON(t, ts, http.MethodPost, "/import/search", `{"query":"golang","limit":2}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 0, body["inserted"])
	assert.EqualValues(t, 2, body["conflicts"])
}

func TestImportSearchValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{}`},
		{"blank query", `{"query":"   "}`},
		{"limit too large", `{"query":"go","limit":20000}`},
		{"negative limit", `{"query":"go","limit":-1}`},
		{"not json", `query=go`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, ts, http.MethodPost, "/import/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestImportProfile(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, ts, http.MethodPost, "/import/profile",
		`{"profile_url":"https://bsky.app/profile/alice.test"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "alice.test", body["user"])
	assert.EqualValues(t, 1, body["posts_inserted"])

	status, body = doJSON(t, ts, http.MethodPost, "/import/profile", `{"profile_url":"https://example.com/nope"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["detail"], "invalid request")
}

func TestImportPost(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, ts, http.MethodPost, "/import/tweet_url",
		`{"tweet_url":"https://bsky.app/profile/alice.test/post/3kddd"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kddd", body["tweet_uri"])
	assert.Equal(t, true, body["inserted"])
	assert.Equal(t, false, body["duplicate"])

	status, body = doJSON(t, ts, http.MethodPost, "/import/tweet_url",
		`{"tweet_url":"https://bsky.app/profile/alice.test/post/3kddd"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["duplicate"])

	status, _ = doJSON(t, ts, http.MethodPost, "/import/tweet_url", `{"tweet_url":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListPosts(t *testing.T) {
	ts := newTestServer(t, nil)

	status, _ := doJSON(t, ts, http.MethodPost, "/import/search", `{"query":"golang"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, ts, http.MethodGet, "/posts?source=search&limit=1", "")
	require.Equal(t, http.StatusOK, status, body)
	posts := body["posts"].([]any)
	require.Len(t, posts, 1)
	first := posts[0].(map[string]any)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kbbb", first["uri"])
	assert.Equal(t, "alice.test", first["author"])
	assert.EqualValues(t, 3, first["like_count"])
	cursor, ok := body["cursor"].(string)
	require.True(t, ok)

	status, body = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/posts?source=search&limit=1&cursor=%s", url.QueryEscape(cursor)), "")
	require.Equal(t, http.StatusOK, status, body)
	posts = body["posts"].([]any)
	require.Len(t, posts, 1)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kaaa", posts[0].(map[string]any)["uri"])
}

func TestListPostsValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{
		"/posts?source=bogus",
		"/posts?limit=0",
		"/posts?limit=abc",
		"/posts?cursor=garbage",
	} {
		status, body := doJSON(t, ts, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.NotEmpty(t, body["detail"], path)
	}
}

func TestClassify(t *testing.T) {
	ts := newTestServer(t, sentiment.NewVADER())

	status, body := doJSON(t, ts, http.MethodPost, "/classify", `{"text":"I love this, it is wonderful and great!"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["scores"], 3)
	top := body["top"].(map[string]any)
	assert.Equal(t, "positive", top["label"])

	status, _ = doJSON(t, ts, http.MethodPost, "/classify", `{"text":"https://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestClassifyWithoutClassifier(t *testing.T) {
	ts := newTestServer(t, nil)

	status, _ := doJSON(t, ts, http.MethodPost, "/classify", `{"text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
