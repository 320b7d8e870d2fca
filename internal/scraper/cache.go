package scraper

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/storage"
)

// CachingResolver serves lookups from a ResolutionCache and falls through to the
// wrapped Resolver on a miss. Only successful lookups are cached, so a fallback is
// retried on the next run. Cache failures are logged and otherwise ignored.
type CachingResolver struct {
	next  Resolver
	cache storage.ResolutionCache
	log   logrus.FieldLogger
}

// NewCachingResolver wraps next with cache.
func NewCachingResolver(next Resolver, cache storage.ResolutionCache, logger logrus.FieldLogger) *CachingResolver {
	return &CachingResolver{
		next:  next,
		cache: cache,
		log:   logger.WithField("component", "caching_resolver"),
	}
}

func (r *CachingResolver) ResolveRedirect(ctx context.Context, url string) (string, error) {
	return r.lookup(ctx, storage.LookupRedirect, url, r.next.ResolveRedirect)
}

func (r *CachingResolver) FetchTitle(ctx context.Context, url string) (string, error) {
	return r.lookup(ctx, storage.LookupTitle, url, r.next.FetchTitle)
}

func (r *CachingResolver) lookup(
	ctx context.Context,
	kind storage.LookupKind,
	url string,
	fetch func(context.Context, string) (string, error),
) (string, error) {
	log := r.log.WithFields(logrus.Fields{"url": url, "kind": kind})

	res, found, err := r.cache.GetResolution(ctx, kind, url)
	if err != nil {
		log.WithError(err).Warn("Cache read failed")
	} else if found {
		log.Debug("Cache hit")
		return res.Value, nil
	}

	value, err := fetch(ctx, url)
	if err != nil {
		return "", err
	}

	if err := r.cache.SaveResolution(ctx, storage.Resolution{URL: url, Kind: kind, Value: value}); err != nil {
		log.WithError(err).Warn("Cache write failed")
	}
	return value, nil
}
