package firehose

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	mu      sync.Mutex
	cursor  int64
	batches [][]domain.SinglePost
}

func (f *fakeIngester) GetCursor(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeIngester) UpdateCursor(_ context.Context, _ string, cursor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
	return nil
}

func (f *fakeIngester) IngestStreamPosts(_ context.Context, posts []domain.SinglePost) (domain.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, posts)
	return domain.ImportResult{Collected: len(posts), PersistResult: domain.PersistResult{Attempted: len(posts), Inserted: len(posts)}}, nil
}

const (
	matchingEvent = `{"did":"did:plc:alice","time_us":1700000000000001,"kind":"commit","commit":{"rev":"r1","operation":"create","collection":"app.bsky.feed.post","rkey":"3kabc","cid":"bafy1","record":{"$type":"app.bsky.feed.post","text":"I love golang\nso much","createdAt":"2024-05-01T12:00:00Z","langs":["en"]}}}`
	otherEvent    = `{"did":"did:plc:bob","time_us":1700000000000002,"kind":"commit","commit":{"rev":"r2","operation":"create","collection":"app.bsky.feed.post","rkey":"3kdef","cid":"bafy2","record":{"text":"nothing to see","langs":["en"]}}}`
	deleteEvent   = `{"did":"did:plc:alice","time_us":1700000000000003,"kind":"commit","commit":{"rev":"r3","operation":"delete","collection":"app.bsky.feed.post","rkey":"3kabc"}}`
	identityEvent = `{"did":"did:plc:carol","time_us":1700000000000004,"kind":"identity"}`
)

func newTestMatcher(t *testing.T) *domain.StreamMatcher {
	m, err := domain.NewStreamMatcher([]domain.StreamRule{{Name: "go", Keywords: []string{"golang"}, Langs: []string{"en"}}})
	require.NoError(t, err)
	return m
}

func TestSubscribeBuffersMatchesAndCheckpointsOnDisconnect(t *testing.T) {
	queries := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{matchingEvent, "not json", otherEvent, deleteEvent, identityEvent} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
	}))
	defer srv.Close()

	ingester := &fakeIngester{cursor: 1699999999999999}
	sub := NewSubscriber("ws"+strings.TrimPrefix(srv.URL, "http")+"/subscribe", ingester, newTestMatcher(t),
		Options{FlushSize: 100, FlushInterval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub.now = func() time.Time { return time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC) }

	err := sub.subscribe(context.Background())
	require.Error(t, err)

	gotQuery := <-queries
	assert.Contains(t, gotQuery, "wantedCollections=app.bsky.feed.post")
	assert.Contains(t, gotQuery, "cursor=1699999999999999")

	require.Len(t, ingester.batches, 1)
	require.Len(t, ingester.batches[0], 1)
	post := ingester.batches[0][0]
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", post.Post.URI)
	assert.Equal(t, "did:plc:alice", post.UserID)
	assert.Equal(t, "I love golang so much", post.Post.Text)
	assert.Equal(t, "2024-05-02T00:00:00.000000Z", post.CollectedAt)

	assert.Equal(t, int64(1700000000000004), ingester.cursor)
}

func TestSubscribeFlushesAtSize(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(matchingEvent))
		}
	}))
	defer srv.Close()

	ingester := &fakeIngester{}
	sub := NewSubscriber("ws"+strings.TrimPrefix(srv.URL, "http"), ingester, newTestMatcher(t),
		Options{FlushSize: 2, FlushInterval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_ = sub.subscribe(context.Background())

	require.Len(t, ingester.batches, 2)
	assert.Len(t, ingester.batches[0], 2)
	assert.Len(t, ingester.batches[1], 1)
}

func TestStartFlushesBufferedPostsBeforeReturning(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(matchingEvent))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ingester := &fakeIngester{}
	sub := NewSubscriber("ws"+strings.TrimPrefix(srv.URL, "http"), ingester, newTestMatcher(t),
		Options{FlushSize: 100, FlushInterval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Start(ctx) }()

	require.Eventually(t, func() bool { return sub.buffer.Size() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	// nothing is left for the caller to race against once Start has returned
	ingester.mu.Lock()
	defer ingester.mu.Unlock()
	require.Len(t, ingester.batches, 1)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", ingester.batches[0][0].Post.URI)
	assert.Equal(t, int64(1700000000000001), ingester.cursor)
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub := NewSubscriber("ws://127.0.0.1:1", &fakeIngester{}, newTestMatcher(t), Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, sub.Start(ctx), context.Canceled)
}

func TestIncomingPost(t *testing.T) {
	event, err := parseEvent([]byte(matchingEvent))
	require.NoError(t, err)

	incoming, err := event.incomingPost()
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", incoming.URI)
	assert.Equal(t, "bafy1", incoming.CID)
	assert.Equal(t, []string{"en"}, incoming.Langs)
	assert.Equal(t, "2024-05-01T12:00:00Z", incoming.CreatedAt)

	event, err = parseEvent([]byte(deleteEvent))
	require.NoError(t, err)
	_, err = event.incomingPost()
	assert.ErrorIs(t, err, errNotPostCreate)

	_, err = parseEvent([]byte("{"))
	assert.Error(t, err)
}

func TestBatchBuffer(t *testing.T) {
	b := NewBatchBuffer[int](2)
	assert.Nil(t, b.GetAndClear())

	b.Add(1)
	b.Add(2)
	b.Add(3)
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{1, 2, 3}, b.GetAndClear())
	assert.Zero(t, b.Size())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
