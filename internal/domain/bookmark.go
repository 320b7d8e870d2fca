package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrSchemaMismatch is returned when a row matches neither the legacy nor the working schema.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Column names of the legacy (export) schema.
const (
	ColURL       = "url"
	ColTitle     = "title"
	ColTimeAdded = "time_added"
	ColTags      = "tags"
	ColStatus    = "status"
	ColDateAdded = "date_added"
)

// Column names of the working schema.
const (
	ColOriginalURL      = "original_url"
	ColOriginalTitle    = "original_title"
	ColProcessingStatus = "processing_status"
	ColCleanURL         = "clean_url"
	ColUnshortenURL     = "unshorten_url"
	ColDomainURL        = "domain_url"
	ColCleanTitle       = "clean_title"
	ColUTCAddedDttm     = "utc_added_dttm"
	ColErrors           = "errors"
)

// DttmLayout is the rendering of utc_added_dttm.
const DttmLayout = "2006-01-02 15:04:05"

// LegacyColumns is the column order of the legacy schema.
var LegacyColumns = []string{ColURL, ColTitle, ColTimeAdded, ColTags, ColStatus, ColDateAdded}

// WorkingColumns is the column order of the working schema.
var WorkingColumns = []string{
	ColOriginalURL,
	ColOriginalTitle,
	ColTimeAdded,
	ColTags,
	ColStatus,
	ColProcessingStatus,
	ColCleanURL,
	ColUnshortenURL,
	ColDomainURL,
	ColCleanTitle,
	ColUTCAddedDttm,
	ColErrors,
}

// Record is one bookmark row. It is either a *LegacyRecord or a *WorkingRecord.
type Record interface {
	// State returns the processing status carried by the record.
	State() ProcessingStatus
	// Row renders the record as a column -> value mapping.
	Row() map[string]string
	// Columns lists the columns the record populates, in schema order.
	Columns() []string

	isRecord()
}

// LegacyRecord is a row of the original bookmark export, before schema migration.
type LegacyRecord struct {
	URL       string
	Title     string
	TimeAdded string
	// Tags is empty when the record carries no (known) tag.
	Tags   string
	Status string
	// DateAdded is only present in manually maintained exports.
	DateAdded string
}

func (*LegacyRecord) isRecord() {}

// State of a legacy record is always raw.
func (*LegacyRecord) State() ProcessingStatus { return StatusRaw }

// Columns implements Record.
func (*LegacyRecord) Columns() []string { return LegacyColumns }

// Row implements Record.
func (r *LegacyRecord) Row() map[string]string {
	return map[string]string{
		ColURL:       r.URL,
		ColTitle:     r.Title,
		ColTimeAdded: r.TimeAdded,
		ColTags:      r.Tags,
		ColStatus:    r.Status,
		ColDateAdded: r.DateAdded,
	}
}

// WorkingRecord is a row of the working schema, produced by the rename pass and
// completed by enrichment.
type WorkingRecord struct {
	OriginalURL      string
	OriginalTitle    string
	TimeAdded        string
	Tags             string
	Status           string
	ProcessingStatus ProcessingStatus

	// Enrichment-derived fields, empty until the record is PROCESSED.
	CleanURL     string
	UnshortenURL string
	DomainURL    string
	CleanTitle   string
	UTCAddedDttm string

	// Errors is true iff redirect resolution or title fetch fell back to a default.
	Errors bool
}

func (*WorkingRecord) isRecord() {}

// State implements Record.
func (r *WorkingRecord) State() ProcessingStatus { return r.ProcessingStatus }

// Columns implements Record.
func (*WorkingRecord) Columns() []string { return WorkingColumns }

// Row implements Record.
func (r *WorkingRecord) Row() map[string]string {
	return map[string]string{
		ColOriginalURL:      r.OriginalURL,
		ColOriginalTitle:    r.OriginalTitle,
		ColTimeAdded:        r.TimeAdded,
		ColTags:             r.Tags,
		ColStatus:           r.Status,
		ColProcessingStatus: string(r.ProcessingStatus),
		ColCleanURL:         r.CleanURL,
		ColUnshortenURL:     r.UnshortenURL,
		ColDomainURL:        r.DomainURL,
		ColCleanTitle:       r.CleanTitle,
		ColUTCAddedDttm:     r.UTCAddedDttm,
		ColErrors:           strconv.FormatBool(r.Errors),
	}
}

// RecordFromRow maps a generic table row onto one of the record variants.
// A row without processing_status is legacy input and must carry a url column;
// RENAMED/PROCESSED rows must carry original_url.
func RecordFromRow(row map[string]string) (Record, error) {
	status, err := ParseProcessingStatus(row[ColProcessingStatus])
	if err != nil {
		return nil, err
	}

	if status == StatusRaw {
		if _, ok := row[ColURL]; !ok {
			return nil, fmt.Errorf("%w: legacy row without %q column", ErrSchemaMismatch, ColURL)
		}
		return &LegacyRecord{
			URL:       row[ColURL],
			Title:     row[ColTitle],
			TimeAdded: row[ColTimeAdded],
			Tags:      row[ColTags],
			Status:    row[ColStatus],
			DateAdded: row[ColDateAdded],
		}, nil
	}

	if _, ok := row[ColOriginalURL]; !ok {
		return nil, fmt.Errorf("%w: %s row without %q column", ErrSchemaMismatch, status, ColOriginalURL)
	}
	var hadErrors bool
	if v := row[ColErrors]; v != "" {
		hadErrors, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %q value %q", ErrSchemaMismatch, ColErrors, v)
		}
	}
	return &WorkingRecord{
		OriginalURL:      row[ColOriginalURL],
		OriginalTitle:    row[ColOriginalTitle],
		TimeAdded:        row[ColTimeAdded],
		Tags:             row[ColTags],
		Status:           row[ColStatus],
		ProcessingStatus: status,
		CleanURL:         row[ColCleanURL],
		UnshortenURL:     row[ColUnshortenURL],
		DomainURL:        row[ColDomainURL],
		CleanTitle:       row[ColCleanTitle],
		UTCAddedDttm:     row[ColUTCAddedDttm],
		Errors:           hadErrors,
	}, nil
}

// ColumnsFor returns the header needed to hold every record in recs: working columns
// first when any working record is present, followed by the legacy-only columns when
// any legacy record is present.
func ColumnsFor(recs []Record) []string {
	var hasLegacy, hasWorking bool
	for _, r := range recs {
		switch r.(type) {
		case *LegacyRecord:
			hasLegacy = true
		case *WorkingRecord:
			hasWorking = true
		}
	}

	switch {
	case hasWorking && hasLegacy:
		cols := append([]string{}, WorkingColumns...)
		seen := make(map[string]bool, len(cols))
		for _, c := range cols {
			seen[c] = true
		}
		for _, c := range LegacyColumns {
			if !seen[c] {
				cols = append(cols, c)
			}
		}
		return cols
	case hasWorking:
		return append([]string{}, WorkingColumns...)
	default:
		return append([]string{}, LegacyColumns...)
	}
}
