package enrich

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/table"
)

// RecordStore loads and overwrites whole datasets.
type RecordStore interface {
	LoadRecords(ctx context.Context, loc table.Location) ([]domain.Record, error)
	SaveRecords(ctx context.Context, loc table.Location, recs []domain.Record) error
}

// ChunkResult describes one window pass.
type ChunkResult struct {
	MinIndex  int
	Size      int // records actually in the window after clamping
	Total     int // dataset length
	Changed   int
	Fallbacks int
}

// Driver enriches one window of a dataset in place.
type Driver struct {
	store RecordStore
	group *GroupEnricher
	log   logrus.FieldLogger
}

// NewDriver creates a Driver.
func NewDriver(store RecordStore, group *GroupEnricher, logger logrus.FieldLogger) *Driver {
	return &Driver{
		store: store,
		group: group,
		log:   logger.WithField("component", "chunk_driver"),
	}
}

// EnrichChunk fully enriches records [minIndex, minIndex+chunkSize) of the dataset at
// loc and writes the whole dataset back to loc. Records outside the window are
// stored unchanged. A window with nothing to do is not written.
func (d *Driver) EnrichChunk(ctx context.Context, loc table.Location, minIndex, chunkSize int, concurrent bool) (ChunkResult, error) {
	if minIndex < 0 {
		return ChunkResult{}, fmt.Errorf("negative min index %d", minIndex)
	}
	if chunkSize <= 0 {
		return ChunkResult{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	log := d.log.WithFields(logrus.Fields{
		"location":   loc.String(),
		"min_index":  minIndex,
		"chunk_size": chunkSize,
	})

	recs, err := d.store.LoadRecords(ctx, loc)
	if err != nil {
		return ChunkResult{}, err
	}

	lo := min(minIndex, len(recs))
	hi := min(minIndex+chunkSize, len(recs))
	before, window, after := recs[:lo], recs[lo:hi], recs[hi:]

	res := ChunkResult{MinIndex: minIndex, Size: len(window), Total: len(recs)}
	if len(window) == 0 {
		log.Debug("Window is empty, nothing to enrich")
		return res, nil
	}

	enriched, stats, err := d.group.Enrich(ctx, window, ModeFull, concurrent)
	if err != nil {
		return res, fmt.Errorf("enrich window [%d:%d] of %s: %w", lo, hi, loc, err)
	}
	res.Changed = stats.Changed
	res.Fallbacks = stats.Fallbacks

	if res.Changed == 0 {
		log.Info("Window already processed")
		return res, nil
	}

	merged := make([]domain.Record, 0, len(recs))
	merged = append(merged, before...)
	merged = append(merged, enriched...)
	merged = append(merged, after...)
	if len(merged) != len(recs) {
		return res, fmt.Errorf("chunk [%d:%d] changed dataset size from %d to %d", lo, hi, len(recs), len(merged))
	}

	if err := d.store.SaveRecords(ctx, loc, merged); err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{
		"changed":   res.Changed,
		"fallbacks": res.Fallbacks,
		"total":     res.Total,
	}).Info("Chunk stored")
	return res, nil
}
