package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/metrics"
	"golang.org/x/time/rate"
)

// maxPageSize is the largest page the XRPC list endpoints accept.
const maxPageSize = 100

const defaultWebBase = "https://bsky.app"

// CollectorConfig holds what a Collector needs to open sessions.
type CollectorConfig struct {
	PDS        string
	WebBase    string
	Identifier string
	Password   string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// Collector implements domain.Collector against the XRPC API. Every call logs
// in with a fresh session before requesting any page.
type Collector struct {
	cfg    CollectorConfig
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Collector = (*Collector)(nil)

// NewCollector creates a Collector.
func NewCollector(cfg CollectorConfig, logger *slog.Logger) *Collector {
	if cfg.WebBase == "" {
		cfg.WebBase = defaultWebBase
	}
	return &Collector{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

func (c *Collector) session(ctx context.Context) (*Client, error) {
	client := NewClient(c.cfg.PDS, c.cfg.HTTPClient, c.cfg.Limiter)
	if err := client.Login(ctx, c.cfg.Identifier, c.cfg.Password); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Collector) collectedAt() string {
	return domain.FormatTimestamp(c.now())
}

// page is one response of a cursor-paginated endpoint.
type page struct {
	items  []json.RawMessage
	cursor *string
}

// paginate requests pages until limit items are accumulated, the source
// returns an empty page, or the cursor runs out. Items failing transform are
// logged and skipped.
func paginate[T any](
	ctx context.Context,
	limit int,
	fetch func(ctx context.Context, pageSize int, cursor string) (page, error),
	transform func(json.RawMessage) (T, error),
	logger *slog.Logger,
) ([]T, error) {
	acc := make([]T, 0, min(limit, maxPageSize))
	cursor := ""

	for len(acc) < limit {
		pageSize := min(maxPageSize, limit-len(acc))
		p, err := fetch(ctx, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		if len(p.items) == 0 {
			break
		}

		for _, raw := range p.items {
			if len(acc) >= limit {
				break
			}
			item, err := transform(raw)
			if err != nil {
				logger.Warn("skipping record", "error", err)
				metrics.IncSkipped("normalize")
				continue
			}
			acc = append(acc, item)
		}

		if p.cursor == nil || *p.cursor == "" {
			break
		}
		cursor = *p.cursor
	}

	return acc, nil
}

// Search returns up to limit posts matching query, optionally restricted to
// a language.
func (c *Collector) Search(ctx context.Context, query string, limit int, lang string) ([]domain.SearchPost, error) {
	client, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, pageSize int, cursor string) (page, error) {
		resp, err := client.SearchPosts(ctx, query, lang, pageSize, cursor)
		if err != nil {
			return page{}, err
		}
		return page{items: resp.Posts, cursor: resp.Cursor}, nil
	}
	transform := func(raw json.RawMessage) (domain.SearchPost, error) {
		return NormalizeSearchPost(raw, c.cfg.WebBase, c.collectedAt())
	}

	return paginate(ctx, limit, fetch, transform, c.logger.With("query", query))
}

// FetchProfileAndPosts returns the profile for handle and up to limit of its
// feed items.
func (c *Collector) FetchProfileAndPosts(ctx context.Context, handle string, limit int) (domain.Profile, []domain.UserPost, error) {
	client, err := c.session(ctx)
	if err != nil {
		return domain.Profile{}, nil, err
	}

	pv, err := client.GetProfile(ctx, handle)
	if err != nil {
		return domain.Profile{}, nil, err
	}
	profile, err := normalizeProfile(pv)
	if err != nil {
		return domain.Profile{}, nil, fmt.Errorf("normalize profile %s: %w", handle, err)
	}

	fetch := func(ctx context.Context, pageSize int, cursor string) (page, error) {
		resp, err := client.GetAuthorFeed(ctx, profile.DID, pageSize, cursor)
		if err != nil {
			return page{}, err
		}
		return page{items: resp.Feed, cursor: resp.Cursor}, nil
	}
	transform := func(raw json.RawMessage) (domain.UserPost, error) {
		return NormalizeUserPost(raw, profile, c.cfg.WebBase, c.collectedAt())
	}

	posts, err := paginate(ctx, limit, fetch, transform, c.logger.With("handle", handle))
	if err != nil {
		return domain.Profile{}, nil, err
	}
	return profile, posts, nil
}

// FetchSinglePost resolves a post web URL to its record and returns it.
func (c *Collector) FetchSinglePost(ctx context.Context, rawURL string) (domain.SinglePost, error) {
	ref, err := domain.ParsePostURL(rawURL)
	if err != nil {
		return domain.SinglePost{}, err
	}

	client, err := c.session(ctx)
	if err != nil {
		return domain.SinglePost{}, err
	}

	did := ref.Actor
	if !domain.IsDID(did) {
		did, err = client.ResolveHandle(ctx, ref.Actor)
		if err != nil {
			return domain.SinglePost{}, err
		}
	}

	uri := domain.PostURI(did, ref.RKey)
	raw, err := client.GetPostThread(ctx, uri)
	if err != nil {
		return domain.SinglePost{}, err
	}

	post, err := NormalizeSinglePost(raw, ref.Actor, did, c.cfg.WebBase, c.collectedAt())
	if err != nil {
		return domain.SinglePost{}, fmt.Errorf("normalize post %s: %w", uri, err)
	}
	return post, nil
}
