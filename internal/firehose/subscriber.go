package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
	reconnectBackoff   = 5 * time.Second
	statsInterval      = 30 * time.Second
	shutdownFlushLimit = 10 * time.Second
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream.
var wantedCollections = []string{
	postCollection,
}

// Ingester is the part of the import service the subscriber feeds.
type Ingester interface {
	GetCursor(ctx context.Context, service string) (int64, error)
	UpdateCursor(ctx context.Context, service string, cursor int64) error
	IngestStreamPosts(ctx context.Context, posts []domain.SinglePost) (domain.ImportResult, error)
}

// Options tunes batching.
type Options struct {
	FlushSize     int
	FlushInterval time.Duration
}

// Subscriber connects to the Jetstream firehose, keeps posts matching the
// stream rules and stores them in batches.
type Subscriber struct {
	url      string
	ingester Ingester
	matcher  *domain.StreamMatcher
	buffer   *BatchBuffer[domain.SinglePost]
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(
	firehoseURL string,
	ingester Ingester,
	matcher *domain.StreamMatcher,
	opts Options,
	logger *slog.Logger,
) *Subscriber {
	if opts.FlushSize <= 0 {
		opts.FlushSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	return &Subscriber{
		url:      firehoseURL,
		ingester: ingester,
		matcher:  matcher,
		buffer:   NewBatchBuffer[domain.SinglePost](opts.FlushSize),
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectBackoff):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.ingester.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to firehose")

	var latestCursor int64
	defer func() {
		// keep what was matched before the connection dropped
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushLimit)
		defer cancel()
		s.checkpoint(flushCtx, latestCursor)
	}()

	lastCheckpoint := time.Now()
	lastFlush := time.Now()
	lastStatsLog := time.Now()
	var eventsReceived, commitsReceived, postsMatched int64

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		latestCursor = event.TimeUS
		metrics.IncFirehoseEvent(event.Kind)

		if event.Kind == "commit" {
			commitsReceived++
			if s.handleEvent(event) {
				postsMatched++
			}
		}

		if s.buffer.Size() >= s.opts.FlushSize || time.Since(lastFlush) >= s.opts.FlushInterval {
			s.flush(ctx)
			lastFlush = time.Now()
		}

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"commits_received", commitsReceived,
				"posts_matched", postsMatched,
			)
			lastStatsLog = time.Now()
		}

		if time.Since(lastCheckpoint) >= cursorSaveInterval {
			if s.checkpoint(ctx, latestCursor) {
				lastCheckpoint = time.Now()
				lastFlush = time.Now()
			}
		}
	}
}

// handleEvent buffers the event's post if it matches a stream rule.
func (s *Subscriber) handleEvent(event *jetstreamEvent) bool {
	incoming, err := event.incomingPost()
	if err != nil {
		if !errors.Is(err, errNotPostCreate) {
			s.logger.Warn("skipping firehose post", "did", event.DID, "error", err)
			metrics.IncSkipped("stream")
		}
		return false
	}

	rule, ok := s.matcher.Match(incoming)
	if !ok {
		return false
	}

	s.buffer.Add(incoming.SinglePost(domain.FormatTimestamp(s.now())))
	s.logger.Debug("matched post",
		"rule", rule,
		"uri", incoming.URI,
		"text_preview", truncate(incoming.Text, 100),
	)
	return true
}

// flush stores the buffered posts. Returns false if storing failed; the
// posts are dropped either way.
func (s *Subscriber) flush(ctx context.Context) bool {
	posts := s.buffer.GetAndClear()
	if len(posts) == 0 {
		return true
	}

	res, err := s.ingester.IngestStreamPosts(ctx, posts)
	if err != nil {
		s.logger.Error("failed to store matched posts", "count", len(posts), "error", err)
		return false
	}
	s.logger.Info("stored matched posts", "count", len(posts), "inserted", res.Inserted, "failed", res.Failed)
	return true
}

// checkpoint flushes pending posts and then saves the cursor, so a saved
// cursor never runs ahead of stored posts.
func (s *Subscriber) checkpoint(ctx context.Context, cursor int64) bool {
	if !s.flush(ctx) {
		return false
	}
	if cursor <= 0 {
		return true
	}
	if err := s.ingester.UpdateCursor(ctx, cursorServiceName, cursor); err != nil {
		s.logger.Error("failed to save cursor", "error", err)
		return false
	}
	return true
}

// truncate returns the first n bytes of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
