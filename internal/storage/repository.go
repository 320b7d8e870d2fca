package storage

import (
	"context"
	"time"
)

// LookupKind separates the two cached lookups for the same URL.
type LookupKind string

const (
	LookupRedirect LookupKind = "redirect"
	LookupTitle    LookupKind = "title"
)

// Resolution is the cached outcome of a successful network lookup.
type Resolution struct {
	URL       string     `json:"url"`
	Kind      LookupKind `json:"kind"`
	Value     string     `json:"value"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// ResolutionCache defines storage for lookup results, so re-runs of the pipeline
// (or a second export sharing links with the first) skip the network.
type ResolutionCache interface {
	// SaveResolution stores or replaces the resolution for (Kind, URL).
	SaveResolution(ctx context.Context, res Resolution) error

	// GetResolution returns the cached resolution and whether one was found.
	GetResolution(ctx context.Context, kind LookupKind, url string) (Resolution, bool, error)

	// DeleteResolution drops a cached resolution. Deleting a missing entry is not an error.
	DeleteResolution(ctx context.Context, kind LookupKind, url string) error

	// Close gracefully shuts down the cache.
	Close() error
}
