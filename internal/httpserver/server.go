package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/config"
	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/metrics"
	"github.com/blackmichael/bluesky-importer/internal/sentiment"
)

const (
	defaultListLimit = 50
	maxBodyBytes     = 1 << 20
)

// Server is the HTTP server that exposes the import endpoints.
type Server struct {
	importService *domain.ImportService
	classifier    sentiment.Classifier
	logger        *slog.Logger
	handler       http.Handler
	httpServer    *http.Server
}

// NewServer creates a new HTTP server backed by the import service. The
// classifier may be nil, in which case /classify reports it as unavailable.
func NewServer(cfg *config.Config, importService *domain.ImportService, classifier sentiment.Classifier, logger *slog.Logger) *Server {
	s := &Server{
		importService: importService,
		classifier:    classifier,
		logger:        logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /posts", s.handleListPosts)
	mux.HandleFunc("POST /import/search", s.handleImportSearch)
	mux.HandleFunc("POST /import/profile", s.handleImportProfile)
	mux.HandleFunc("POST /import/tweet_url", s.handleImportPost)
	mux.HandleFunc("POST /classify", s.handleClassify)

	s.handler = withLogging(logger, mux)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, including request logging.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Bluesky Import API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	Lang  string `json:"lang"`
}

func (s *Server) handleImportSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.importService.ImportSearch(r.Context(), domain.SearchRequest{
		Query: req.Query,
		Limit: req.Limit,
		Lang:  req.Lang,
	})
	if err != nil {
		s.logger.Error("search import failed", "query", req.Query, "limit", req.Limit, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inserted":  res.Inserted,
		"collected": res.Collected,
		"conflicts": res.Conflicts,
		"failed":    res.Failed,
	})
}

type profileRequest struct {
	ProfileURL string `json:"profile_url"`
	Limit      int    `json:"limit"`
}

func (s *Server) handleImportProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !s.decode(w, r, &req) {
		return
	}

	handle, res, err := s.importService.ImportProfile(r.Context(), domain.ProfileRequest{
		ProfileURL: req.ProfileURL,
		Limit:      req.Limit,
	})
	if err != nil {
		s.logger.Error("profile import failed", "profile_url", req.ProfileURL, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":           handle,
		"posts_inserted": res.Inserted,
		"collected":      res.Collected,
		"conflicts":      res.Conflicts,
		"failed":         res.Failed,
	})
}

type postRequest struct {
	TweetURL string `json:"tweet_url"`
}

func (s *Server) handleImportPost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !s.decode(w, r, &req) {
		return
	}

	uri, res, err := s.importService.ImportPost(r.Context(), domain.PostRequest{URL: req.TweetURL})
	if err != nil {
		s.logger.Error("post import failed", "url", req.TweetURL, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tweet_uri": uri,
		"inserted":  res.Failed == 0,
		"duplicate": res.Conflicts > 0,
	})
}

type storedPostResponse struct {
	URI         string     `json:"uri"`
	URL         string     `json:"url,omitempty"`
	Author      string     `json:"author,omitempty"`
	AuthorDID   string     `json:"author_did,omitempty"`
	Text        string     `json:"text"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	LikeCount   int64      `json:"like_count"`
	RepostCount int64      `json:"repost_count"`
	ReplyCount  int64      `json:"reply_count"`
	CollectedAt time.Time  `json:"collected_at"`
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = domain.SourceSearch
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			s.logger.Warn("invalid limit parameter", "limit", l, "error", err)
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	cursor := r.URL.Query().Get("cursor")

	page, err := s.importService.ListPosts(r.Context(), source, limit, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to list posts",
			"source", source,
			"limit", limit,
			"cursor", cursor,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	posts := make([]storedPostResponse, len(page.Posts))
	for i, p := range page.Posts {
		posts[i] = storedPostResponse(p)
	}

	resp := map[string]any{"posts": posts}
	if page.Cursor != "" {
		resp["cursor"] = page.Cursor
	}
	writeJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "classifier is not configured")
		return
	}

	var req classifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	scores, err := s.classifier.Classify(r.Context(), domain.Sanitize(req.Text))
	if err != nil {
		if errors.Is(err, sentiment.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("classification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}

	top, _ := sentiment.Top(scores)
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": scores,
		"top":    top,
	})
}

// decode reads a JSON request body into v. It writes a 400 and returns false
// when the body is not valid JSON.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
