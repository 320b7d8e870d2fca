package scraper

import (
	"context"
	"errors"
	"fmt"
)

// Resolver defines the network lookups performed while enriching a bookmark.
// Implementations are shared by every worker of a batch and must be safe for
// concurrent use.
type Resolver interface {
	// ResolveRedirect follows redirects and returns the final URL.
	ResolveRedirect(ctx context.Context, url string) (string, error)

	// FetchTitle fetches the document at url and returns the text of its title element.
	FetchTitle(ctx context.Context, url string) (string, error)
}

// Kind classifies a lookup failure.
type Kind string

const (
	KindConnection      Kind = "connection"
	KindNameResolution  Kind = "name_resolution"
	KindRetryExhausted  Kind = "retry_exhausted"
	KindHTTPStatus      Kind = "http_status"
	KindMalformedMarkup Kind = "malformed_markup"
	KindDecoding        Kind = "decoding"
)

// FetchError is the closed set of failures a Resolver reports. Callers degrade to a
// fallback value on any FetchError instead of propagating it.
type FetchError struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(kind Kind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// IsFallback reports whether err is a lookup failure that should be absorbed by
// falling back to a default value. Context cancellation is not.
func IsFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *FetchError
	return errors.As(err, &fe)
}

// KindOf returns the failure kind of err, or "" when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
