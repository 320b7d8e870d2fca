package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingStatus_Lifecycle(t *testing.T) {
	assert.True(t, StatusRaw.CanAdvanceTo(StatusRenamed))
	assert.True(t, StatusRenamed.CanAdvanceTo(StatusProcessed))
	assert.True(t, StatusRaw.CanAdvanceTo(StatusProcessed))
	assert.True(t, StatusProcessed.CanAdvanceTo(StatusProcessed))

	assert.False(t, StatusProcessed.CanAdvanceTo(StatusRenamed))
	assert.False(t, StatusRenamed.CanAdvanceTo(StatusRaw))
	assert.False(t, StatusRaw.CanAdvanceTo(ProcessingStatus("DONE")))

	assert.Equal(t, "RAW", StatusRaw.String())
	assert.Equal(t, "PROCESSED", StatusProcessed.String())
}

func TestParseProcessingStatus(t *testing.T) {
	s, err := ParseProcessingStatus("RENAMED")
	require.NoError(t, err)
	assert.Equal(t, StatusRenamed, s)

	s, err = ParseProcessingStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusRaw, s)

	_, err = ParseProcessingStatus("renamed")
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestRecordFromRow_Legacy(t *testing.T) {
	rec, err := RecordFromRow(map[string]string{
		"url":        "https://example.com",
		"title":      "Example",
		"time_added": "1600000000",
		"tags":       "tech",
		"status":     "unread",
	})
	require.NoError(t, err)

	legacy, ok := rec.(*LegacyRecord)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", legacy.URL)
	assert.Equal(t, StatusRaw, rec.State())
	assert.Equal(t, LegacyColumns, rec.Columns())
}

func TestRecordFromRow_Working(t *testing.T) {
	rec, err := RecordFromRow(map[string]string{
		"original_url":      "https://example.com",
		"original_title":    "Example",
		"time_added":        "1600000000",
		"processing_status": "PROCESSED",
		"errors":            "True",
	})
	require.NoError(t, err)

	w, ok := rec.(*WorkingRecord)
	require.True(t, ok)
	assert.Equal(t, StatusProcessed, w.State())
	assert.True(t, w.Errors, "older files capitalise booleans")
	assert.Equal(t, "true", w.Row()[ColErrors])
}

func TestRecordFromRow_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]string
	}{
		{"legacy without url", map[string]string{"title": "x"}},
		{"renamed without original_url", map[string]string{"processing_status": "RENAMED", "url": "https://x.org"}},
		{"unknown status", map[string]string{"processing_status": "DONE", "original_url": "https://x.org"}},
		{"bad errors flag", map[string]string{"processing_status": "RENAMED", "original_url": "https://x.org", "errors": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecordFromRow(tt.row)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestRecord_RowRoundTrip(t *testing.T) {
	orig := &WorkingRecord{
		OriginalURL:      "https://bit.ly/x",
		OriginalTitle:    "Short",
		TimeAdded:        "1591315200",
		ProcessingStatus: StatusProcessed,
		CleanURL:         "https://bit.ly/x",
		UnshortenURL:     "https://example.com/long",
		DomainURL:        "example.com",
		CleanTitle:       "Long",
		UTCAddedDttm:     "2020-06-05 00:00:00",
	}
	back, err := RecordFromRow(orig.Row())
	require.NoError(t, err)
	assert.Equal(t, orig, back)
}

func TestColumnsFor(t *testing.T) {
	legacy := &LegacyRecord{URL: "https://a.com"}
	working := &WorkingRecord{OriginalURL: "https://b.com", ProcessingStatus: StatusRenamed}

	assert.Equal(t, LegacyColumns, ColumnsFor([]Record{legacy}))
	assert.Equal(t, LegacyColumns, ColumnsFor(nil))
	assert.Equal(t, WorkingColumns, ColumnsFor([]Record{working}))

	mixed := ColumnsFor([]Record{working, legacy})
	assert.Equal(t, WorkingColumns, mixed[:len(WorkingColumns)])
	assert.ElementsMatch(t, []string{ColURL, ColTitle, ColDateAdded}, mixed[len(WorkingColumns):])
}
