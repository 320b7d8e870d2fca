package enrich

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/scraper"
)

// fakeResolver answers from maps; unknown URLs resolve to themselves and get a
// title derived from the URL.
type fakeResolver struct {
	mu          sync.Mutex
	redirects   map[string]string
	titles      map[string]string
	redirectErr map[string]error
	titleErr    map[string]error
	maxDelay    time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeResolver) enter() {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.maxDelay > 0 {
		f.mu.Lock()
		d := time.Duration(rand.Int63n(int64(f.maxDelay)))
		f.mu.Unlock()
		time.Sleep(d)
	}
}

func (f *fakeResolver) ResolveRedirect(ctx context.Context, url string) (string, error) {
	f.enter()
	defer f.inFlight.Add(-1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.redirectErr[url]; ok {
		return "", err
	}
	if to, ok := f.redirects[url]; ok {
		return to, nil
	}
	return url, nil
}

func (f *fakeResolver) FetchTitle(ctx context.Context, url string) (string, error) {
	f.enter()
	defer f.inFlight.Add(-1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.titleErr[url]; ok {
		return "", err
	}
	if title, ok := f.titles[url]; ok {
		return title, nil
	}
	return "Title of " + url, nil
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func legacy(url, title, added string) *domain.LegacyRecord {
	return &domain.LegacyRecord{URL: url, Title: title, TimeAdded: added, Tags: "tech", Status: "unread"}
}

func TestEnricher_Rename(t *testing.T) {
	e := NewEnricher(nil, quietLogger())
	ctx := context.Background()
	in := legacy("https://example.com/a", "A", "1591315200")

	out, err := e.Enrich(ctx, in, ModeRename)
	require.NoError(t, err)
	assert.Equal(t, &domain.WorkingRecord{
		OriginalURL:      "https://example.com/a",
		OriginalTitle:    "A",
		TimeAdded:        "1591315200",
		Tags:             "tech",
		Status:           "unread",
		ProcessingStatus: domain.StatusRenamed,
	}, out)
	assert.Equal(t, "https://example.com/a", in.URL, "input must not be mutated")

	again, err := e.Enrich(ctx, out, ModeRename)
	require.NoError(t, err)
	assert.Same(t, out, again)

	processed := &domain.WorkingRecord{OriginalURL: "https://x.org", ProcessingStatus: domain.StatusProcessed}
	same, err := e.Enrich(ctx, processed, ModeRename)
	require.NoError(t, err)
	assert.Same(t, processed, same, "rename must never regress a processed record")
}

func TestEnricher_Full(t *testing.T) {
	res := &fakeResolver{
		redirects: map[string]string{"https://bit.ly/abc": "https://www.example.co.uk/articles/42"},
		titles:    map[string]string{"https://www.example.co.uk/articles/42": "The Answer"},
	}
	e := NewEnricher(res, quietLogger())

	for _, in := range []domain.Record{
		legacy("https://bit.ly/abc?utm_source=twitter#top", "bit.ly", "1591315200"),
		&domain.WorkingRecord{
			OriginalURL:      "https://bit.ly/abc?utm_source=twitter#top",
			OriginalTitle:    "bit.ly",
			TimeAdded:        "1591315200",
			Tags:             "tech",
			Status:           "unread",
			ProcessingStatus: domain.StatusRenamed,
		},
	} {
		out, err := e.Enrich(context.Background(), in, ModeFull)
		require.NoError(t, err)

		w, ok := out.(*domain.WorkingRecord)
		require.True(t, ok)
		assert.Equal(t, "https://bit.ly/abc?utm_source=twitter#top", w.OriginalURL)
		assert.Equal(t, "bit.ly", w.OriginalTitle)
		assert.Equal(t, "https://bit.ly/abc", w.CleanURL)
		assert.Equal(t, "https://www.example.co.uk/articles/42", w.UnshortenURL)
		assert.Equal(t, "example.co.uk", w.DomainURL)
		assert.Equal(t, "The Answer", w.CleanTitle)
		assert.Equal(t, "2020-06-05 00:00:00", w.UTCAddedDttm)
		assert.Equal(t, domain.StatusProcessed, w.ProcessingStatus)
		assert.Equal(t, "tech", w.Tags)
		assert.False(t, w.Errors)
	}
}

func TestEnricher_FullIsIdempotent(t *testing.T) {
	res := &fakeResolver{}
	e := NewEnricher(res, quietLogger())
	ctx := context.Background()

	once, err := e.Enrich(ctx, legacy("https://example.com", "Example", "0"), ModeFull)
	require.NoError(t, err)
	calls := res.calls.Load()

	twice, err := e.Enrich(ctx, once, ModeFull)
	require.NoError(t, err)
	assert.Same(t, once, twice)
	assert.Equal(t, calls, res.calls.Load(), "a processed record must not hit the network")

	renamed, err := e.Enrich(ctx, once, ModeRename)
	require.NoError(t, err)
	assert.Same(t, once, renamed)
}

func TestEnricher_Fallbacks(t *testing.T) {
	logger, hook := test.NewNullLogger()
	res := &fakeResolver{
		redirectErr: map[string]error{
			"https://dead.example.com/x": &scraper.FetchError{Kind: scraper.KindConnection, URL: "https://dead.example.com/x"},
		},
		titleErr: map[string]error{
			"https://dead.example.com/x": &scraper.FetchError{Kind: scraper.KindConnection, URL: "https://dead.example.com/x"},
			"https://ok.example.com/y":   &scraper.FetchError{Kind: scraper.KindMalformedMarkup, URL: "https://ok.example.com/y"},
		},
	}
	e := NewEnricher(res, logger)
	ctx := context.Background()

	out, err := e.Enrich(ctx, legacy("https://dead.example.com/x", "Dead link", "1"), ModeFull)
	require.NoError(t, err)
	w := out.(*domain.WorkingRecord)
	assert.Equal(t, "https://dead.example.com/x", w.UnshortenURL, "redirect fallback keeps the clean url")
	assert.Equal(t, "Dead link", w.CleanTitle)
	assert.Equal(t, "example.com", w.DomainURL)
	assert.True(t, w.Errors)

	out, err = e.Enrich(ctx, legacy("https://ok.example.com/y", "Original", "1"), ModeFull)
	require.NoError(t, err)
	w = out.(*domain.WorkingRecord)
	assert.Equal(t, "https://ok.example.com/y", w.UnshortenURL)
	assert.Equal(t, "Original", w.CleanTitle)
	assert.True(t, w.Errors, "one failed lookup is enough to flag the record")

	var warnings int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
			assert.Contains(t, entry.Data, "kind")
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestEnricher_ContractErrors(t *testing.T) {
	res := &fakeResolver{}
	e := NewEnricher(res, quietLogger())

	_, err := e.Enrich(context.Background(), legacy("https://example.com", "x", "yesterday"), ModeFull)
	assert.ErrorIs(t, err, ErrInvalidTimeAdded)
	assert.Zero(t, res.calls.Load(), "time_added is validated before any lookup")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Enrich(ctx, legacy("https://example.com", "x", "1"), ModeFull)
	assert.ErrorIs(t, err, context.Canceled)
}

// foreignRecord satisfies domain.Record without being one of its two variants.
type foreignRecord struct {
	*domain.LegacyRecord
}

func TestEnricher_UnknownRecordTypeIsSchemaMismatch(t *testing.T) {
	res := &fakeResolver{}
	e := NewEnricher(res, quietLogger())
	rec := foreignRecord{legacy("https://example.com", "x", "1")}

	for _, mode := range []Mode{ModeRename, ModeFull} {
		got, err := e.Enrich(context.Background(), rec, mode)
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch, mode.String())
		assert.Nil(t, got, mode.String())
	}
	assert.Zero(t, res.calls.Load())
}

func TestFormatAdded(t *testing.T) {
	got, err := FormatAdded("0")
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01 00:00:00", got)

	got, err = FormatAdded(" 1700000000 ")
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14 22:13:20", got)

	_, err = FormatAdded("")
	assert.True(t, errors.Is(err, ErrInvalidTimeAdded))
}
