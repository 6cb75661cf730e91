package parsehub

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned by NewClient when no API key is supplied.
	ErrMissingAPIKey = errors.New("please specify a ParseHub API key")

	// ErrValidation marks calls rejected before any request was sent.
	ErrValidation = errors.New("invalid request")

	// ErrDecode is returned when a 200 response body is not valid JSON.
	ErrDecode = errors.New("could not parse response body")
)

// APIError is returned for any non-200 response. Its message is the raw body
// text the service sent back.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return e.Body
}

func missing(what string) error {
	return fmt.Errorf("%w: please specify a %s", ErrValidation, what)
}
