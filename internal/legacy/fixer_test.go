package legacy

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
)

func newTestFixer() (*Fixer, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewFixer(logger), hook
}

func TestFixer_OldExportRow(t *testing.T) {
	f, _ := newTestFixer()

	got, ok := f.Fix(&domain.LegacyRecord{
		URL:       "ok.com/x",
		Title:     "Old bookmark",
		Status:    "ок",
		Tags:      "финансы",
		DateAdded: "05/06/2020",
	})
	require.True(t, ok)
	assert.Equal(t, &domain.LegacyRecord{
		URL:       "https://ok.com/x",
		Title:     "Old bookmark",
		TimeAdded: "1591315200", // 2020-06-05 00:00:00 UTC
		Tags:      "finance",
		Status:    "archive",
		DateAdded: "05/06/2020",
	}, got)
}

func TestFixer_IsIdempotent(t *testing.T) {
	f, _ := newTestFixer()
	inputs := []*domain.LegacyRecord{
		{URL: "ok.com/x", Status: "ок", Tags: "финансы", DateAdded: "05/06/2020"},
		{URL: "http://example.com/a?b=1", Status: "whatever", Tags: "random", DateAdded: "12/31/2019"},
		{URL: "https://example.org", Status: "archive", Tags: "IT", DateAdded: ""},
		{URL: "https://example.net", Status: "unread", Tags: "", DateAdded: "7.3.2021"},
	}
	for _, in := range inputs {
		once, ok := f.Fix(in)
		require.True(t, ok, in.URL)
		twice, ok := f.Fix(once)
		require.True(t, ok, in.URL)
		assert.Equal(t, once, twice, in.URL)
	}
}

func TestFixer_StatusAndTags(t *testing.T) {
	tests := []struct {
		status, wantStatus string
		tags, wantTags     string
	}{
		{"ок", "archive", "ИТ", "IT"},
		{"archive", "archive", "IT", "IT"},
		{"unread", "unread", "прогр.основы", "software"},
		{"", "unread", "техника", "tech"},
		{"done", "unread", "кулинария", ""},
		{"ok", "unread", "", ""},
	}
	f, _ := newTestFixer()
	for _, tt := range tests {
		got, ok := f.Fix(&domain.LegacyRecord{URL: "https://example.com", Status: tt.status, Tags: tt.tags})
		require.True(t, ok)
		assert.Equal(t, tt.wantStatus, got.Status, "status %q", tt.status)
		assert.Equal(t, tt.wantTags, got.Tags, "tags %q", tt.tags)
	}
}

func TestParseDateAdded(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"01.01.1970", 0},
		{"05/06/2020", 1591315200}, // day-first
		{"12/31/2019", 1577750400}, // not a valid day-first date, month-first fallback
		{"5.6.2020", 1591315200},
		{"05.06.2020", 1591315200},
		{" 1/2/2000 ", 949363200}, // 1 February 2000
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDateAdded(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"31/31/2020", "2020-06-05", "yesterday", "05.06"} {
		_, err := ParseDateAdded(bad)
		assert.ErrorIs(t, err, errInvalidDate, bad)
	}
}

func TestFixer_FixAllDropsAndPassesThrough(t *testing.T) {
	f, hook := newTestFixer()
	working := &domain.WorkingRecord{OriginalURL: "not even a url", ProcessingStatus: domain.StatusRenamed}

	out, dropped := f.FixAll([]domain.Record{
		&domain.LegacyRecord{URL: "https://a.com", DateAdded: "01.02.2003"},
		&domain.LegacyRecord{URL: "mailto:someone@example.com"},
		working,
		&domain.LegacyRecord{URL: "https://b.com", DateAdded: "99/99/2020"},
		&domain.LegacyRecord{URL: "b.org/page"},
	})

	assert.Equal(t, 2, dropped)
	require.Len(t, out, 3)
	assert.Equal(t, "https://a.com", out[0].(*domain.LegacyRecord).URL)
	assert.Same(t, working, out[1])
	assert.Equal(t, "https://b.org/page", out[2].(*domain.LegacyRecord).URL)

	var warnings []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e)
		}
	}
	require.Len(t, warnings, 2)
	assert.Equal(t, "mailto:someone@example.com", warnings[0].Data["url"])
}

func TestFixer_KeepsSchemelessURLWithLinkInQuery(t *testing.T) {
	f, hook := newTestFixer()

	got, ok := f.Fix(&domain.LegacyRecord{
		URL:       "example.com/share?u=https://other.org/page",
		Status:    "unread",
		DateAdded: "05/06/2020",
	})
	require.True(t, ok)
	assert.Equal(t, "https://example.com/share?u=https://other.org/page", got.URL)
	assert.Empty(t, hook.AllEntries())
}
