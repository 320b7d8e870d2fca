// Package warehouse mirrors enriched bookmarks into a Postgres table.
package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
)

const (
	defaultTable     = "bookmarks"
	defaultBatchSize = 200
)

// Postgres upserts working records keyed by original_url.
type Postgres struct {
	pool      *pgxpool.Pool
	table     string // sanitized, possibly schema-qualified
	batchSize int
	log       logrus.FieldLogger
}

// NewPostgres opens a connection pool for dsn. table may be "name" or "schema.name".
func NewPostgres(ctx context.Context, dsn, table string, logger logrus.FieldLogger) (*Postgres, error) {
	ident, err := tableIdentifier(table)
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse PG_DSN: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{
		pool:      pool,
		table:     ident,
		batchSize: defaultBatchSize,
		log:       logger.WithField("component", "warehouse"),
	}, nil
}

func tableIdentifier(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultTable
	}
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

// EnsureTable creates the target table when it does not exist yet.
func (p *Postgres) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
		original_url      TEXT PRIMARY KEY,
		original_title    TEXT NOT NULL DEFAULT '',
		time_added        BIGINT,
		tags              TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT '',
		processing_status TEXT NOT NULL,
		clean_url         TEXT NOT NULL DEFAULT '',
		unshorten_url     TEXT NOT NULL DEFAULT '',
		domain_url        TEXT NOT NULL DEFAULT '',
		clean_title       TEXT NOT NULL DEFAULT '',
		utc_added_dttm    TIMESTAMP,
		errors            BOOLEAN NOT NULL DEFAULT FALSE,
		loaded_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Upsert writes every working record in recs and returns the number of rows affected.
// Legacy records have no stable key yet and are skipped.
func (p *Postgres) Upsert(ctx context.Context, recs []domain.Record) (int, error) {
	rows := make([]*domain.WorkingRecord, 0, len(recs))
	skipped := 0
	for _, rec := range recs {
		w, ok := rec.(*domain.WorkingRecord)
		if !ok || strings.TrimSpace(w.OriginalURL) == "" {
			skipped++
			continue
		}
		rows = append(rows, w)
	}
	if skipped > 0 {
		p.log.WithField("skipped", skipped).Warn("Records without working schema were not loaded")
	}

	query := `INSERT INTO ` + p.table + `
		(original_url, original_title, time_added, tags, status, processing_status,
		 clean_url, unshorten_url, domain_url, clean_title, utc_added_dttm, errors, loaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (original_url) DO UPDATE SET
		 original_title = EXCLUDED.original_title,
		 time_added = EXCLUDED.time_added,
		 tags = EXCLUDED.tags,
		 status = EXCLUDED.status,
		 processing_status = EXCLUDED.processing_status,
		 clean_url = EXCLUDED.clean_url,
		 unshorten_url = EXCLUDED.unshorten_url,
		 domain_url = EXCLUDED.domain_url,
		 clean_title = EXCLUDED.clean_title,
		 utc_added_dttm = EXCLUDED.utc_added_dttm,
		 errors = EXCLUDED.errors,
		 loaded_at = now()`

	total := 0
	for i := 0; i < len(rows); i += p.batchSize {
		j := min(i+p.batchSize, len(rows))
		b := &pgx.Batch{}
		for _, r := range rows[i:j] {
			b.Queue(query, rowArgs(r)...)
		}
		br := p.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("upsert %s: %w", rows[k].OriginalURL, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, err
		}
	}
	p.log.WithFields(logrus.Fields{"table": p.table, "rows": total}).Info("Records loaded into warehouse")
	return total, nil
}

func rowArgs(r *domain.WorkingRecord) []any {
	return []any{
		r.OriginalURL,
		r.OriginalTitle,
		nullableInt(r.TimeAdded),
		r.Tags,
		r.Status,
		string(r.ProcessingStatus),
		r.CleanURL,
		r.UnshortenURL,
		r.DomainURL,
		r.CleanTitle,
		nullableDttm(r.UTCAddedDttm),
		r.Errors,
	}
}

func nullableInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func nullableDttm(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(domain.DttmLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
