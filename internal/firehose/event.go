package firehose

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-importer/internal/domain"
)

const postCollection = "app.bsky.feed.post"

// errNotPostCreate marks events that carry no new post.
var errNotPostCreate = errors.New("not a post create")

// jetstreamEvent is the raw JSON structure from Jetstream. Only commit events
// carry a Commit.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. The record is
// decoded lazily since most commits are discarded.
type jetstreamCommit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

// postRecord is the subset of an app.bsky.feed.post record used for matching.
type postRecord struct {
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// incomingPost extracts the new post carried by a create commit on the post
// collection. Any other event yields errNotPostCreate.
func (e *jetstreamEvent) incomingPost() (*domain.IncomingPost, error) {
	c := e.Commit
	if e.Kind != "commit" || c == nil || c.Operation != "create" || c.Collection != postCollection {
		return nil, errNotPostCreate
	}
	if len(c.Record) == 0 {
		return nil, fmt.Errorf("commit %s/%s: empty record", e.DID, c.RKey)
	}

	var record postRecord
	if err := json.Unmarshal(c.Record, &record); err != nil {
		return nil, fmt.Errorf("unmarshal post record: %w", err)
	}

	return &domain.IncomingPost{
		URI:       domain.PostURI(e.DID, c.RKey),
		CID:       c.CID,
		AuthorDID: e.DID,
		Text:      record.Text,
		CreatedAt: record.CreatedAt,
		Langs:     record.Langs,
	}, nil
}
