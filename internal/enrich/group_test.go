package enrich

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
	"github.com/smirnovkirilll/micro-dwh/internal/scraper"
)

func batch(n int) []domain.Record {
	recs := make([]domain.Record, n)
	for i := range recs {
		recs[i] = legacy(fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("Record %d", i), fmt.Sprint(1600000000+i))
	}
	return recs
}

func TestGroupEnricher_PreservesOrder(t *testing.T) {
	res := &fakeResolver{maxDelay: 5 * time.Millisecond}
	group := NewGroupEnricher(NewEnricher(res, quietLogger()), 0, quietLogger())
	in := batch(40)

	for _, concurrent := range []bool{true, false} {
		t.Run(fmt.Sprintf("concurrent=%v", concurrent), func(t *testing.T) {
			out, stats, err := group.Enrich(context.Background(), in, ModeFull, concurrent)
			require.NoError(t, err)
			require.Len(t, out, len(in))

			for i := range in {
				w, ok := out[i].(*domain.WorkingRecord)
				require.True(t, ok)
				assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), w.OriginalURL)
				assert.Equal(t, "Title of "+w.OriginalURL, w.CleanTitle)
			}
			assert.Equal(t, GroupStats{Total: 40, Changed: 40, Fallbacks: 0}, stats)
		})
	}
}

func TestGroupEnricher_BoundedWorkers(t *testing.T) {
	res := &fakeResolver{maxDelay: 3 * time.Millisecond}
	group := NewGroupEnricher(NewEnricher(res, quietLogger()), 3, quietLogger())

	_, _, err := group.Enrich(context.Background(), batch(30), ModeFull, true)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.peak.Load(), int32(3))
	assert.EqualValues(t, 60, res.calls.Load(), "two lookups per record")
}

func TestGroupEnricher_FallbackDoesNotAbortBatch(t *testing.T) {
	in := batch(5)
	res := &fakeResolver{
		titleErr: map[string]error{
			"https://example.com/2": &scraper.FetchError{Kind: scraper.KindNameResolution, URL: "https://example.com/2"},
		},
	}
	group := NewGroupEnricher(NewEnricher(res, quietLogger()), 2, quietLogger())

	out, stats, err := group.Enrich(context.Background(), in, ModeFull, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.True(t, out[2].(*domain.WorkingRecord).Errors)
	assert.False(t, out[3].(*domain.WorkingRecord).Errors)
}

func TestGroupEnricher_ContractErrorAbortsBatch(t *testing.T) {
	in := batch(5)
	in[3] = legacy("https://example.com/3", "bad", "not-a-number")
	group := NewGroupEnricher(NewEnricher(&fakeResolver{}, quietLogger()), 0, quietLogger())

	_, _, err := group.Enrich(context.Background(), in, ModeFull, true)
	assert.ErrorIs(t, err, ErrInvalidTimeAdded)
}

func TestGroupEnricher_SkipsProcessed(t *testing.T) {
	res := &fakeResolver{}
	group := NewGroupEnricher(NewEnricher(res, quietLogger()), 0, quietLogger())
	ctx := context.Background()

	first, _, err := group.Enrich(ctx, batch(4), ModeFull, true)
	require.NoError(t, err)
	calls := res.calls.Load()

	second, stats, err := group.Enrich(ctx, first, ModeFull, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, GroupStats{Total: 4}, stats)
	assert.Equal(t, calls, res.calls.Load())
}
