package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/batch"
	"github.com/blackmichael/bluesky-importer/internal/metrics"
)

const (
	DefaultSearchLimit  = 100
	DefaultProfileLimit = 50
	MaxImportLimit      = 10000
)

// SearchRequest asks for posts matching a query.
type SearchRequest struct {
	Query string
	Limit int
	Lang  string
}

// ProfileRequest asks for a profile and its recent posts.
type ProfileRequest struct {
	ProfileURL string
	Limit      int
}

// PostRequest asks for one post by web URL.
type PostRequest struct {
	URL string
}

// ImportResult is the outcome of one import request.
type ImportResult struct {
	// Collected is the number of records returned by the collector.
	Collected int
	PersistResult
}

// ImportService is the core domain service. It drives records from the
// collector through the batch pipeline into storage for every import path.
type ImportService struct {
	collector Collector
	repo      PostRepository
	cursors   CursorRepository
	logger    *slog.Logger
}

// NewImportService creates an ImportService.
func NewImportService(collector Collector, repo PostRepository, cursors CursorRepository, logger *slog.Logger) *ImportService {
	return &ImportService{
		collector: collector,
		repo:      repo,
		cursors:   cursors,
		logger:    logger,
	}
}

func checkLimit(limit, def int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 1 || limit > MaxImportLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidRequest, MaxImportLimit, limit)
	}
	return limit, nil
}

// ImportSearch collects search results and stores them in the search table.
func (s *ImportService) ImportSearch(ctx context.Context, req SearchRequest) (res ImportResult, err error) {
	defer func(start time.Time) { metrics.ObserveImport("search", start, err) }(time.Now())

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return ImportResult{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	limit, err := checkLimit(req.Limit, DefaultSearchLimit)
	if err != nil {
		return ImportResult{}, err
	}

	posts, err := s.collector.Search(ctx, query, limit, req.Lang)
	if err != nil {
		return ImportResult{}, fmt.Errorf("search posts: %w", err)
	}

	s.logger.Info("search collected", "query", query, "limit", limit, "collected", len(posts))
	return s.store(ctx, SearchPostsTarget, Rows(posts))
}

// ImportProfile collects a profile's posts and stores them in the user table.
// It returns the resolved handle.
func (s *ImportService) ImportProfile(ctx context.Context, req ProfileRequest) (handle string, res ImportResult, err error) {
	defer func(start time.Time) { metrics.ObserveImport("profile", start, err) }(time.Now())

	handle, err = ParseProfileURL(req.ProfileURL)
	if err != nil {
		return "", ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	limit, err := checkLimit(req.Limit, DefaultProfileLimit)
	if err != nil {
		return "", ImportResult{}, err
	}

	profile, posts, err := s.collector.FetchProfileAndPosts(ctx, handle, limit)
	if err != nil {
		return "", ImportResult{}, fmt.Errorf("fetch profile %s: %w", handle, err)
	}

	s.logger.Info("profile collected", "handle", profile.Handle, "limit", limit, "collected", len(posts))
	res, err = s.store(ctx, UserPostsTarget, Rows(posts))
	return profile.Handle, res, err
}

// ImportPost collects one post by URL and stores it in the single-post table.
// It returns the post's AT-URI.
func (s *ImportService) ImportPost(ctx context.Context, req PostRequest) (uri string, res ImportResult, err error) {
	defer func(start time.Time) { metrics.ObserveImport("post", start, err) }(time.Now())

	if _, err := ParsePostURL(req.URL); err != nil {
		return "", ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	post, err := s.collector.FetchSinglePost(ctx, req.URL)
	if err != nil {
		return "", ImportResult{}, fmt.Errorf("fetch post: %w", err)
	}

	res, err = s.store(ctx, SinglePostsTarget, Rows([]SinglePost{post}))
	return post.Post.URI, res, err
}

// IngestStreamPosts stores posts picked up from the firehose.
func (s *ImportService) IngestStreamPosts(ctx context.Context, posts []SinglePost) (ImportResult, error) {
	return s.store(ctx, SinglePostsTarget, Rows(posts))
}

// store runs the shared materialize, rename, coerce, nullify, persist
// pipeline.
func (s *ImportService) store(ctx context.Context, target Target, rows []batch.Row) (ImportResult, error) {
	res := ImportResult{Collected: len(rows)}
	if len(rows) == 0 {
		s.logger.Info("nothing to insert", "table", target.Table)
		return res, nil
	}

	b := batch.Materialize(rows)
	if err := b.RenameColumns(target.Rename); err != nil {
		return res, fmt.Errorf("prepare %s batch: %w", target.Table, err)
	}
	b.CoerceDates(target.DateColumns...)
	b.NullifyEmptyStrings()

	persisted, err := s.repo.Persist(ctx, b, target.Table, target.ConflictKey)
	if err != nil {
		return res, fmt.Errorf("persist %s: %w", target.Table, err)
	}
	res.PersistResult = persisted

	metrics.AddPersisted(target.Table, persisted.Inserted, persisted.Conflicts, persisted.Failed)
	s.logger.Info("batch persisted",
		"table", target.Table,
		"attempted", persisted.Attempted,
		"inserted", persisted.Inserted,
		"conflicts", persisted.Conflicts,
		"failed", persisted.Failed,
	)
	return res, nil
}

// ListPosts returns a page of stored posts for a listing source.
func (s *ImportService) ListPosts(ctx context.Context, source string, limit int, cursor string) (*PostPage, error) {
	target, ok := TargetForSource(source)
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, source)
	}
	if limit < 1 || limit > 100 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 100, got %d", ErrInvalidRequest, limit)
	}

	posts, next, err := s.repo.ListPosts(ctx, target.Table, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return &PostPage{Cursor: next, Posts: posts}, nil
}

// GetCursor retrieves the last-processed firehose cursor for the given service.
func (s *ImportService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the firehose cursor for the given service.
func (s *ImportService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.cursors.UpdateCursor(ctx, service, cursor)
}

// StartRetentionJob runs a background loop that removes posts collected more
// than maxAge ago. It runs immediately on start and then repeats at the given
// interval. It blocks until ctx is cancelled. Both durations must be
// positive.
func (s *ImportService) StartRetentionJob(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 || maxAge <= 0 {
		return fmt.Errorf("retention job: interval and max age must be positive, got %s and %s", interval, maxAge)
	}

	s.runRetention(ctx, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runRetention(ctx, maxAge)
		}
	}
}

func (s *ImportService) runRetention(ctx context.Context, maxAge time.Duration) {
	deleted, err := s.repo.DeleteCollectedBefore(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		s.logger.Error("post retention failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("post retention complete", "deleted", deleted)
	}
}
