// Package legacy repairs rows of old, manually maintained bookmark exports so they
// can enter the enrichment pipeline.
package legacy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/urlnorm"
)

const (
	StatusUnread  = "unread"
	StatusArchive = "archive"

	// defaultDateAdded stands in for a blank date_added.
	defaultDateAdded = "01.01.1970"
)

var statusRemap = map[string]string{
	"ок": StatusArchive,
}

var canonicalStatuses = map[string]bool{
	StatusUnread:  true,
	StatusArchive: true,
}

var tagRemap = map[string]string{
	"бизнес":       "business",
	"ИТ":           "IT",
	"общество":     "society",
	"подборка":     "selection",
	"прогр.основы": "software",
	"психология":   "psychology",
	"техника":      "tech",
	"финансы":      "finance",
	"экономика":    "economics",
}

var canonicalTags = func() map[string]bool {
	m := make(map[string]bool, len(tagRemap))
	for _, v := range tagRemap {
		m[v] = true
	}
	return m
}()

var (
	errInvalidURL  = errors.New("invalid url")
	errInvalidDate = errors.New("invalid date_added")
)

// Fixer normalizes legacy records. It holds no state besides its logger.
type Fixer struct {
	log logrus.FieldLogger
}

// NewFixer creates a Fixer.
func NewFixer(logger logrus.FieldLogger) *Fixer {
	return &Fixer{log: logger.WithField("component", "legacy_fixer")}
}

// Fix returns the repaired copy of rec, or false when rec has to be dropped because
// its url or date_added cannot be repaired. Applying Fix to its own output is a no-op.
func (f *Fixer) Fix(rec *domain.LegacyRecord) (*domain.LegacyRecord, bool) {
	fixed, err := fix(*rec)
	if err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"url":        rec.URL,
			"date_added": rec.DateAdded,
		}).Warn("Dropping legacy record")
		return nil, false
	}
	return fixed, true
}

// FixAll repairs every legacy record and drops the ones that cannot be repaired.
// Working records are passed through untouched. Order is preserved.
func (f *Fixer) FixAll(recs []domain.Record) ([]domain.Record, int) {
	out := make([]domain.Record, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		l, ok := rec.(*domain.LegacyRecord)
		if !ok {
			out = append(out, rec)
			continue
		}
		fixed, ok := f.Fix(l)
		if !ok {
			dropped++
			continue
		}
		out = append(out, fixed)
	}
	f.log.WithFields(logrus.Fields{
		"total":   len(recs),
		"kept":    len(out),
		"dropped": dropped,
	}).Info("Legacy records fixed")
	return out, dropped
}

func fix(r domain.LegacyRecord) (*domain.LegacyRecord, error) {
	if !urlnorm.Validate(r.URL) {
		return nil, fmt.Errorf("%w: %q", errInvalidURL, r.URL)
	}
	r.URL = urlnorm.Secure(r.URL)
	r.Status = remapStatus(r.Status)
	r.Tags = remapTags(r.Tags)

	ts, err := ParseDateAdded(r.DateAdded)
	if err != nil {
		return nil, err
	}
	r.TimeAdded = strconv.FormatInt(ts, 10)
	return &r, nil
}

func remapStatus(s string) string {
	if canonicalStatuses[s] {
		return s
	}
	if v, ok := statusRemap[s]; ok {
		return v
	}
	return StatusUnread
}

// remapTags translates the tag vocabulary. Unknown tags are cleared.
func remapTags(s string) string {
	if canonicalTags[s] {
		return s
	}
	if v, ok := tagRemap[s]; ok {
		return v
	}
	return ""
}

// ParseDateAdded converts a manually entered date to Unix seconds at UTC midnight.
// Slash dates are read day-first and retried month-first; anything else must be
// dd.mm.yyyy. A blank value means the epoch.
func ParseDateAdded(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = defaultDateAdded
	}

	layouts := []string{"02.01.2006"}
	if strings.Contains(s, "/") {
		layouts = []string{"02/01/2006", "01/02/2006"}
	}
	for _, layout := range layouts {
		if t, err := parseDate(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errInvalidDate, s)
}

// parseDate also accepts single-digit day and month, as strptime does.
func parseDate(layout, s string) (time.Time, error) {
	if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
		return t, nil
	}
	loose := strings.NewReplacer("02", "2", "01", "1").Replace(layout)
	return time.ParseInLocation(loose, s, time.UTC)
}
