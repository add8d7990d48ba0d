package bluesky

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-importer/internal/domain"
)

var errMissingField = errors.New("missing required field")

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func countOr0(p *int64) int64 {
	if p == nil || *p < 0 {
		return 0
	}
	return *p
}

// jsonOr compacts raw, or returns def when raw is absent or null.
func jsonOr(raw json.RawMessage, def string) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return def
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return def
	}
	return buf.String()
}

func normalizeViewer(v *viewerState) domain.Viewer {
	if v == nil {
		return domain.Viewer{}
	}
	muted := v.Muted != nil && *v.Muted
	blockedBy := v.BlockedBy != nil && *v.BlockedBy
	following := v.Following != nil && *v.Following != ""
	return domain.Viewer{
		Muted:     &muted,
		Following: &following,
		BlockedBy: &blockedBy,
	}
}

func normalizeProfile(pv *profileView) (domain.Profile, error) {
	if pv == nil {
		return domain.Profile{}, fmt.Errorf("author: %w", errMissingField)
	}
	if pv.DID == "" || pv.Handle == "" {
		return domain.Profile{}, fmt.Errorf("author did/handle: %w", errMissingField)
	}
	return domain.Profile{
		DID:            pv.DID,
		Handle:         pv.Handle,
		DisplayName:    domain.Sanitize(stringOr(pv.DisplayName, "")),
		Bio:            domain.Sanitize(stringOr(pv.Description, "")),
		FollowersCount: countOr0(pv.FollowersCount),
		FollowsCount:   countOr0(pv.FollowsCount),
		PostsCount:     countOr0(pv.PostsCount),
		CreatedAt:      stringOr(pv.CreatedAt, ""),
		IndexedAt:      stringOr(pv.IndexedAt, ""),
		Viewer:         normalizeViewer(pv.Viewer),
		Labels:         jsonOr(pv.Labels, "[]"),
	}, nil
}

// normalizePost flattens a post view. handle is the author handle used to
// derive the web URL.
func normalizePost(pv *postView, handle, webBase string) (domain.Post, error) {
	if pv.URI == "" || pv.CID == "" {
		return domain.Post{}, fmt.Errorf("post uri/cid: %w", errMissingField)
	}

	var record postRecord
	if len(pv.Record) > 0 {
		if err := json.Unmarshal(pv.Record, &record); err != nil {
			return domain.Post{}, fmt.Errorf("decode record %s: %w", pv.URI, err)
		}
	}

	return domain.Post{
		URI:         pv.URI,
		CID:         pv.CID,
		URL:         domain.PostURL(webBase, handle, pv.URI),
		Text:        domain.Sanitize(stringOr(record.Text, "")),
		CreatedAt:   stringOr(record.CreatedAt, ""),
		IndexedAt:   stringOr(pv.IndexedAt, ""),
		Embed:       jsonOr(record.Embed, "{}"),
		LikeCount:   countOr0(pv.LikeCount),
		RepostCount: countOr0(pv.RepostCount),
		ReplyCount:  countOr0(pv.ReplyCount),
	}, nil
}

func decodePostView(raw json.RawMessage) (*postView, error) {
	var pv postView
	if err := json.Unmarshal(raw, &pv); err != nil {
		return nil, fmt.Errorf("decode post view: %w", err)
	}
	return &pv, nil
}

// NormalizeSearchPost converts one searchPosts item.
func NormalizeSearchPost(raw json.RawMessage, webBase, collectedAt string) (domain.SearchPost, error) {
	pv, err := decodePostView(raw)
	if err != nil {
		return domain.SearchPost{}, err
	}
	author, err := normalizeProfile(pv.Author)
	if err != nil {
		return domain.SearchPost{}, err
	}
	post, err := normalizePost(pv, author.Handle, webBase)
	if err != nil {
		return domain.SearchPost{}, err
	}
	return domain.SearchPost{Post: post, Author: author, CollectedAt: collectedAt}, nil
}

// NormalizeUserPost converts one getAuthorFeed item for the given profile.
// Reposted items keep their original author's handle in the URL.
func NormalizeUserPost(raw json.RawMessage, profile domain.Profile, webBase, collectedAt string) (domain.UserPost, error) {
	var item feedViewPost
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.UserPost{}, fmt.Errorf("decode feed item: %w", err)
	}
	if item.Post == nil {
		return domain.UserPost{}, fmt.Errorf("feed item post: %w", errMissingField)
	}

	handle := profile.Handle
	if item.Post.Author != nil && item.Post.Author.Handle != "" {
		handle = item.Post.Author.Handle
	}
	post, err := normalizePost(item.Post, handle, webBase)
	if err != nil {
		return domain.UserPost{}, err
	}
	return domain.UserPost{Post: post, Profile: profile, CollectedAt: collectedAt}, nil
}

// NormalizeSinglePost converts the root post of a thread.
func NormalizeSinglePost(raw json.RawMessage, username, did, webBase, collectedAt string) (domain.SinglePost, error) {
	pv, err := decodePostView(raw)
	if err != nil {
		return domain.SinglePost{}, err
	}
	if pv.Author != nil && pv.Author.Handle != "" {
		username = pv.Author.Handle
	}
	post, err := normalizePost(pv, username, webBase)
	if err != nil {
		return domain.SinglePost{}, err
	}
	return domain.SinglePost{
		Username:    username,
		UserID:      did,
		Post:        post,
		CollectedAt: collectedAt,
	}, nil
}
