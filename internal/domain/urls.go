package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	handleRegex    = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	didRegex       = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)
	recordKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_~.:-]{1,512}$`)
)

// PostRef identifies a post by its author (handle or DID) and record key.
type PostRef struct {
	Actor string
	RKey  string
}

// IsDID reports whether s is syntactically a DID.
func IsDID(s string) bool {
	return didRegex.MatchString(s)
}

func validActor(s string) bool {
	return IsDID(s) || (len(s) <= 253 && handleRegex.MatchString(s))
}

func pathParts(raw string) ([]string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	return strings.Split(strings.Trim(u.Path, "/"), "/"), nil
}

// ParseProfileURL extracts the handle from a URL shaped like
// https://bsky.app/profile/{handle}.
func ParseProfileURL(raw string) (string, error) {
	parts, err := pathParts(raw)
	if err != nil {
		return "", err
	}
	if len(parts) < 2 || parts[0] != "profile" || !validActor(parts[1]) {
		return "", fmt.Errorf("%w: expected /profile/{handle}, got %q", ErrMalformedURL, raw)
	}
	return parts[1], nil
}

// ParsePostURL extracts the author and record key from a post URL. The
// profile and post segments may appear in either order.
func ParsePostURL(raw string) (PostRef, error) {
	parts, err := pathParts(raw)
	if err != nil {
		return PostRef{}, err
	}

	var ref PostRef
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "profile":
			if ref.Actor == "" {
				ref.Actor = parts[i+1]
			}
		case "post":
			if ref.RKey == "" {
				ref.RKey = parts[i+1]
			}
		}
	}

	if !validActor(ref.Actor) || !recordKeyRegex.MatchString(ref.RKey) {
		return PostRef{}, fmt.Errorf("%w: expected /profile/{handle}/post/{id}, got %q", ErrMalformedURL, raw)
	}
	return ref, nil
}
