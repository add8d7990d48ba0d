package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/metrics"
	"golang.org/x/time/rate"
)

const defaultPDS = "https://bsky.social"

var (
	// ErrAuthentication is returned when a session cannot be created.
	ErrAuthentication = errors.New("bluesky authentication failed")

	// ErrNotFound is returned when a requested actor or post does not exist
	// or is not visible to the session.
	ErrNotFound = errors.New("bluesky record not found")
)

// APIError is a non-2xx XRPC response.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return fmt.Sprintf("API error (status %d): %s: %s", e.StatusCode, e.Name, e.Message)
	case e.Name != "":
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Name)
	default:
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
	}
}

// Is maps XRPC "not found" style responses onto ErrNotFound.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	switch e.Name {
	case "NotFound", "ProfileNotFound", "AccountTakedown", "AccountDeactivated":
		return true
	}
	return e.StatusCode == http.StatusNotFound
}

// Client is a minimal BlueSky/AT Protocol XRPC client. A Client holds one
// session and must not be shared between concurrent imports; the limiter may
// be.
type Client struct {
	pds        string
	httpClient *http.Client
	limiter    *rate.Limiter

	// populated after Login
	accessJwt string
}

// NewClient creates a new BlueSky API client. If pds is empty, it defaults to
// https://bsky.social. A nil limiter means no client-side pacing.
func NewClient(pds string, httpClient *http.Client, limiter *rate.Limiter) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		pds:        pds,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("%w: create session: %w", ErrAuthentication, err)
	}
	if resp.AccessJwt == "" {
		return fmt.Errorf("%w: create session: empty access token", ErrAuthentication)
	}

	c.accessJwt = resp.AccessJwt
	return nil
}

// SearchPosts calls app.bsky.feed.searchPosts.
func (c *Client) SearchPosts(ctx context.Context, query, lang string, limit int, cursor string) (*searchPostsResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprint(limit))
	if lang != "" {
		params.Set("lang", lang)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp searchPostsResponse
	if err := c.get(ctx, "app.bsky.feed.searchPosts", params, &resp); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return &resp, nil
}

// GetProfile calls app.bsky.actor.getProfile.
func (c *Client) GetProfile(ctx context.Context, actor string) (*profileView, error) {
	params := url.Values{}
	params.Set("actor", actor)

	var resp profileView
	if err := c.get(ctx, "app.bsky.actor.getProfile", params, &resp); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &resp, nil
}

// GetAuthorFeed calls app.bsky.feed.getAuthorFeed.
func (c *Client) GetAuthorFeed(ctx context.Context, actor string, limit int, cursor string) (*authorFeedResponse, error) {
	params := url.Values{}
	params.Set("actor", actor)
	params.Set("limit", fmt.Sprint(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp authorFeedResponse
	if err := c.get(ctx, "app.bsky.feed.getAuthorFeed", params, &resp); err != nil {
		return nil, fmt.Errorf("get author feed: %w", err)
	}
	return &resp, nil
}

// ResolveHandle calls com.atproto.identity.resolveHandle and returns the DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("handle", handle)

	var resp resolveHandleResponse
	if err := c.get(ctx, "com.atproto.identity.resolveHandle", params, &resp); err != nil {
		return "", fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("resolve handle %s: %w", handle, ErrNotFound)
	}
	return resp.DID, nil
}

// GetPostThread calls app.bsky.feed.getPostThread with depth 0 and returns
// the root post.
func (c *Client) GetPostThread(ctx context.Context, uri string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("uri", uri)
	params.Set("depth", "0")
	params.Set("parentHeight", "0")

	var resp postThreadResponse
	if err := c.get(ctx, "app.bsky.feed.getPostThread", params, &resp); err != nil {
		return nil, fmt.Errorf("get post thread: %w", err)
	}

	switch resp.Thread.Type {
	case "app.bsky.feed.defs#notFoundPost", "app.bsky.feed.defs#blockedPost":
		return nil, fmt.Errorf("get post thread %s: %w", uri, ErrNotFound)
	}
	if len(resp.Thread.Post) == 0 {
		return nil, fmt.Errorf("get post thread %s: thread has no post", uri)
	}
	return resp.Thread.Post, nil
}

func (c *Client) get(ctx context.Context, nsid string, params url.Values, result any) error {
	u := c.pds + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, nsid, result)
}

func (c *Client) post(ctx context.Context, nsid string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/"+nsid, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nsid, result)
}

func (c *Client) do(req *http.Request, nsid string, result any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncAPICall(nsid, 0)
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	metrics.IncAPICall(nsid, resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var xe xrpcError
		if json.Unmarshal(respBody, &xe) == nil {
			apiErr.Name = xe.Error
			apiErr.Message = xe.Message
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
