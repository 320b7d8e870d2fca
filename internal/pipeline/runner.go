// Package pipeline sequences the stages of a dataset run: legacy fix, rename,
// windowed enrichment and the final transfer to remote storage.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/bot"
	"github.com/smirnovkirilll/micro-dwh/internal/config"
	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/enrich"
	"github.com/smirnovkirilll/micro-dwh/internal/legacy"
	"github.com/smirnovkirilll/micro-dwh/internal/table"
)

// Sink receives the final records of an enrich job.
type Sink interface {
	Upsert(ctx context.Context, recs []domain.Record) (int, error)
}

// Options controls windowing.
type Options struct {
	ChunkSize   int
	WindowCount int // > 0 fixes the number of windows; 0 covers the whole dataset
	Concurrent  bool
}

// Deps are the components a Runner drives. Sink and Notifier are optional.
type Deps struct {
	Store    *table.Store
	Fixer    *legacy.Fixer
	Group    *enrich.GroupEnricher
	Driver   *enrich.Driver
	Sink     Sink
	Notifier bot.Notifier
}

// Runner executes configured jobs.
type Runner struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, opts Options, logger logrus.FieldLogger) *Runner {
	if deps.Notifier == nil {
		deps.Notifier = bot.Nop{}
	}
	return &Runner{
		deps: deps,
		opts: opts,
		log:  logger.WithField("component", "pipeline"),
	}
}

// RunAll runs jobs one after another and stops at the first failure. Every finished
// or failed job is reported to the notifier.
func (r *Runner) RunAll(ctx context.Context, jobs []config.JobConfig) ([]Report, error) {
	reports := make([]Report, 0, len(jobs))
	for _, job := range jobs {
		rep, err := r.Run(ctx, job)
		reports = append(reports, rep)
		r.notify(ctx, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// Run executes a single job.
func (r *Runner) Run(ctx context.Context, job config.JobConfig) (Report, error) {
	start := time.Now()
	log := r.log.WithFields(logrus.Fields{"job": job.Name, "kind": job.Kind})
	log.Info("Job started")

	rep := Report{Job: job.Name, Kind: job.Kind}
	var err error
	switch job.Kind {
	case config.KindEnrich:
		err = r.runEnrich(ctx, log, job, &rep)
	case config.KindTransfer:
		err = r.runTransfer(ctx, log, job, &rep)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	rep.Elapsed = time.Since(start)

	if err != nil {
		rep.Err = fmt.Errorf("job %q: %w", job.Name, err)
		log.WithError(err).Error("Job failed")
		return rep, rep.Err
	}
	log.WithFields(logrus.Fields{
		"records":   rep.Records,
		"changed":   rep.Changed,
		"fallbacks": rep.Fallbacks,
		"elapsed":   rep.Elapsed.String(),
	}).Info("Job finished")
	return rep, nil
}

func (r *Runner) runEnrich(ctx context.Context, log logrus.FieldLogger, job config.JobConfig, rep *Report) error {
	source := table.Local(job.SourcePath)
	target := table.Local(job.TargetPath)

	if job.FixLegacy {
		recs, err := r.deps.Store.LoadRecords(ctx, source)
		if err != nil {
			return err
		}
		fixed, dropped := r.deps.Fixer.FixAll(recs)
		if err := r.deps.Store.SaveRecords(ctx, source, fixed); err != nil {
			return err
		}
		rep.Dropped = dropped
	}

	recs, err := r.deps.Store.LoadRecords(ctx, source)
	if err != nil {
		return err
	}
	rep.Loaded = len(recs)

	renamed, _, err := r.deps.Group.Enrich(ctx, recs, enrich.ModeRename, false)
	if err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if err := r.deps.Store.SaveRecords(ctx, target, renamed); err != nil {
		return err
	}
	rep.Records = len(renamed)

	windows, truncated := r.plan(len(renamed))
	if truncated > 0 {
		log.WithFields(logrus.Fields{
			"windows":    windows,
			"chunk_size": r.opts.ChunkSize,
			"records":    len(renamed),
			"truncated":  truncated,
		}).Warn("Dataset is longer than the configured windows; trailing records stay unenriched")
	}
	rep.Truncated = truncated

	for w := 0; w < windows; w++ {
		minIndex := w * r.opts.ChunkSize
		log.WithFields(logrus.Fields{"window": w, "min_index": minIndex}).Info("Start processing window")
		res, err := r.deps.Driver.EnrichChunk(ctx, target, minIndex, r.opts.ChunkSize, r.opts.Concurrent)
		if err != nil {
			return err
		}
		rep.Windows++
		rep.Changed += res.Changed
		rep.Fallbacks += res.Fallbacks
	}

	return r.transferFinal(ctx, job, target, rep)
}

// plan returns the number of windows to run and how many records they leave out.
func (r *Runner) plan(n int) (windows, truncated int) {
	size := r.opts.ChunkSize
	if r.opts.WindowCount > 0 {
		windows = r.opts.WindowCount
		if covered := windows * size; n > covered {
			truncated = n - covered
		}
		return windows, truncated
	}
	return (n + size - 1) / size, 0
}

func (r *Runner) transferFinal(ctx context.Context, job config.JobConfig, target table.Location, rep *Report) error {
	if job.TargetBucket != "" {
		t, err := r.deps.Store.Load(ctx, target)
		if err != nil {
			return err
		}
		remote := table.Remote(job.TargetBucket, job.TargetRemoteKey)
		if err := r.deps.Store.Save(ctx, remote, t); err != nil {
			return err
		}
		rep.Uploaded = remote.String()
	}

	if r.deps.Sink != nil {
		recs, err := r.deps.Store.LoadRecords(ctx, target)
		if err != nil {
			return err
		}
		n, err := r.deps.Sink.Upsert(ctx, recs)
		if err != nil {
			return fmt.Errorf("warehouse: %w", err)
		}
		rep.Warehouse = n
	}
	return nil
}

// runTransfer copies a table between locations, converting the format according
// to the target extension.
func (r *Runner) runTransfer(ctx context.Context, log logrus.FieldLogger, job config.JobConfig, rep *Report) error {
	source := table.Local(job.SourcePath)
	if job.SourceBucket != "" {
		source = table.Remote(job.SourceBucket, job.SourcePath)
	}

	t, err := r.deps.Store.Load(ctx, source)
	if err != nil {
		return err
	}
	rep.Loaded = len(t.Rows)
	rep.Records = len(t.Rows)

	if job.TargetPath != "" {
		if err := r.deps.Store.Save(ctx, table.Local(job.TargetPath), t); err != nil {
			return err
		}
	}
	if job.TargetBucket != "" {
		remote := table.Remote(job.TargetBucket, job.TargetRemoteKey)
		if err := r.deps.Store.Save(ctx, remote, t); err != nil {
			return err
		}
		rep.Uploaded = remote.String()
	}
	log.WithFields(logrus.Fields{"source": source.String(), "rows": len(t.Rows)}).Info("Table transferred")
	return nil
}

func (r *Runner) notify(ctx context.Context, rep Report) {
	// a cancelled run still deserves a summary
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.deps.Notifier.Notify(ctx, rep.Summary()); err != nil {
		r.log.WithError(err).WithField("job", rep.Job).Warn("Run summary not delivered")
	}
}
