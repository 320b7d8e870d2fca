package enrich

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
)

// GroupStats summarises one batch.
type GroupStats struct {
	Total     int // records in the batch
	Changed   int // records that made a transition
	Fallbacks int // changed records flagged with errors
}

// GroupEnricher runs an Enricher over a batch of records, sharing the enricher's
// resolver (and its HTTP session) between all workers.
type GroupEnricher struct {
	enricher   *Enricher
	maxWorkers int
	log        logrus.FieldLogger
}

// NewGroupEnricher creates a GroupEnricher. maxWorkers <= 0 starts one worker per record.
func NewGroupEnricher(enricher *Enricher, maxWorkers int, logger logrus.FieldLogger) *GroupEnricher {
	return &GroupEnricher{
		enricher:   enricher,
		maxWorkers: maxWorkers,
		log:        logger.WithField("component", "group_enricher"),
	}
}

// Enrich applies mode to every record. The result has the same length and order as
// recs regardless of which worker finishes first. The first contract error or a
// cancelled ctx stops the batch; per-record lookup failures never do.
func (g *GroupEnricher) Enrich(ctx context.Context, recs []domain.Record, mode Mode, concurrent bool) ([]domain.Record, GroupStats, error) {
	start := time.Now()
	out := make([]domain.Record, len(recs))

	if concurrent && len(recs) > 1 {
		limit := g.maxWorkers
		if limit <= 0 || limit > len(recs) {
			limit = len(recs)
		}
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(limit)
		for i, rec := range recs {
			eg.Go(func() error {
				res, err := g.enricher.Enrich(egCtx, rec, mode)
				if err != nil {
					return err
				}
				out[i] = res
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, GroupStats{}, err
		}
	} else {
		for i, rec := range recs {
			res, err := g.enricher.Enrich(ctx, rec, mode)
			if err != nil {
				return nil, GroupStats{}, err
			}
			out[i] = res
		}
	}

	stats := GroupStats{Total: len(recs)}
	for i := range recs {
		if out[i] == recs[i] {
			continue
		}
		stats.Changed++
		if w, ok := out[i].(*domain.WorkingRecord); ok && w.Errors {
			stats.Fallbacks++
		}
	}

	g.log.WithFields(logrus.Fields{
		"mode":       mode.String(),
		"concurrent": concurrent,
		"total":      stats.Total,
		"changed":    stats.Changed,
		"fallbacks":  stats.Fallbacks,
		"elapsed":    time.Since(start).String(),
	}).Info("Batch enriched")
	return out, stats, nil
}
