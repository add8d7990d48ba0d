package domain

import "errors"

var (
	// ErrInvalidRequest is returned when an import request fails validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMalformedURL is returned when a profile or post URL does not have the
	// expected /profile/{handle}[/post/{id}] shape.
	ErrMalformedURL = errors.New("malformed bluesky url")
)
