// Package enrich turns bookmark records into fully enriched working records:
// the per-record state machine, the concurrent batch runner and the chunk driver.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/scraper"
	"github.com/smirnovkirilll/micro-dwh/internal/urlnorm"
)

// ErrInvalidTimeAdded is returned when time_added is not integer epoch seconds.
var ErrInvalidTimeAdded = errors.New("invalid time_added")

// Mode selects the transition applied by Enrich.
type Mode int

const (
	// ModeRename migrates legacy records to the working schema without network access.
	ModeRename Mode = iota
	// ModeFull resolves URL metadata and marks records PROCESSED.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeRename:
		return "rename"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Enricher applies the RAW -> RENAMED -> PROCESSED transitions to single records.
// It never mutates its input; a record that needs no transition is returned as is.
type Enricher struct {
	resolver scraper.Resolver
	log      logrus.FieldLogger
}

// NewEnricher creates an Enricher. resolver may be nil when only ModeRename is used.
func NewEnricher(resolver scraper.Resolver, logger logrus.FieldLogger) *Enricher {
	return &Enricher{
		resolver: resolver,
		log:      logger.WithField("component", "enricher"),
	}
}

// Enrich applies mode to rec. Lookup failures never surface here: they fall back to
// the input URL or the original title and set Errors on the result. Returned errors
// are contract violations or cancellation and should abort the pass.
func (e *Enricher) Enrich(ctx context.Context, rec domain.Record, mode Mode) (domain.Record, error) {
	switch mode {
	case ModeRename:
		return e.rename(rec)
	case ModeFull:
		return e.full(ctx, rec)
	default:
		return nil, fmt.Errorf("unknown enrich mode %d", mode)
	}
}

func (e *Enricher) rename(rec domain.Record) (domain.Record, error) {
	switch r := rec.(type) {
	case *domain.WorkingRecord:
		return r, nil
	case *domain.LegacyRecord:
		return &domain.WorkingRecord{
			OriginalURL:      r.URL,
			OriginalTitle:    r.Title,
			TimeAdded:        r.TimeAdded,
			Tags:             r.Tags,
			Status:           r.Status,
			ProcessingStatus: domain.StatusRenamed,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected record type %T", domain.ErrSchemaMismatch, rec)
	}
}

func (e *Enricher) full(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.State() == domain.StatusProcessed {
		return rec, nil
	}

	var out domain.WorkingRecord
	switch r := rec.(type) {
	case *domain.WorkingRecord:
		out = *r
	case *domain.LegacyRecord:
		renamed, err := e.rename(r)
		if err != nil {
			return nil, err
		}
		w, ok := renamed.(*domain.WorkingRecord)
		if !ok {
			return nil, fmt.Errorf("%w: rename produced %T", domain.ErrSchemaMismatch, renamed)
		}
		out = *w
	default:
		return nil, fmt.Errorf("%w: unexpected record type %T", domain.ErrSchemaMismatch, rec)
	}
	if e.resolver == nil {
		return nil, errors.New("full enrichment requires a resolver")
	}

	log := e.log.WithField("url", out.OriginalURL)
	log.Debug("Start processing")

	dttm, err := FormatAdded(out.TimeAdded)
	if err != nil {
		return nil, fmt.Errorf("record %q: %w", out.OriginalURL, err)
	}

	out.CleanURL = urlnorm.Canonicalize(out.OriginalURL)

	unshorten, redirectFailed, err := e.resolveRedirect(ctx, log, out.CleanURL)
	if err != nil {
		return nil, err
	}
	title, titleFailed, err := e.fetchTitle(ctx, log, unshorten, out.OriginalTitle)
	if err != nil {
		return nil, err
	}

	out.UnshortenURL = unshorten
	out.CleanTitle = title
	out.DomainURL = urlnorm.ResolveDomain(unshorten)
	out.UTCAddedDttm = dttm
	out.ProcessingStatus = domain.StatusProcessed
	out.Errors = redirectFailed || titleFailed

	log.WithFields(logrus.Fields{
		"unshorten_url": out.UnshortenURL,
		"errors":        out.Errors,
	}).Debug("Finished processing")
	return &out, nil
}

// resolveRedirect returns the final URL, or url itself and true on a fallback.
func (e *Enricher) resolveRedirect(ctx context.Context, log logrus.FieldLogger, url string) (string, bool, error) {
	final, err := e.resolver.ResolveRedirect(ctx, url)
	if err == nil {
		return final, false, nil
	}
	if !scraper.IsFallback(err) {
		return "", false, err
	}
	log.WithError(err).WithField("kind", scraper.KindOf(err)).Warn("Redirect resolution failed, keeping clean url")
	return url, true, nil
}

// fetchTitle returns the page title, or fallback and true on a fallback.
func (e *Enricher) fetchTitle(ctx context.Context, log logrus.FieldLogger, url, fallback string) (string, bool, error) {
	title, err := e.resolver.FetchTitle(ctx, url)
	if err == nil {
		return title, false, nil
	}
	if !scraper.IsFallback(err) {
		return "", false, err
	}
	log.WithError(err).WithField("kind", scraper.KindOf(err)).Warn("Title fetch failed, keeping original title")
	return fallback, true, nil
}

// FormatAdded renders time_added (Unix seconds) as a UTC timestamp.
func FormatAdded(timeAdded string) (string, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(timeAdded), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeAdded, timeAdded)
	}
	return time.Unix(sec, 0).UTC().Format(domain.DttmLayout), nil
}
