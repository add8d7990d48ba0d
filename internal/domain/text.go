package domain

import (
	"fmt"
	"strings"
	"time"
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Sanitize replaces line breaks with a single space and trims surrounding
// whitespace.
func Sanitize(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}

// PostURL builds the web URL of a post from its author handle and AT-URI.
// The post id is the last path segment of the URI.
func PostURL(webBase, handle, postURI string) string {
	id := postURI
	if i := strings.LastIndex(postURI, "/"); i >= 0 {
		id = postURI[i+1:]
	}
	return fmt.Sprintf("%s/profile/%s/post/%s", strings.TrimRight(webBase, "/"), handle, id)
}

// PostURI builds the AT-URI of an app.bsky.feed.post record.
func PostURI(did, rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
}

// TimestampLayout is the ISO-8601 layout used for collection timestamps.
// Microsecond precision matches what PostgreSQL stores.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp formats t in UTC with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
