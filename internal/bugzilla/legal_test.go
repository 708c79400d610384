package bugzilla

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls  atomic.Int32
	values map[string][]string
	err    error
}

func (f *countingFetcher) fetch(_ context.Context, field string) ([]string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.values[field], nil
}

func TestLegalValuesFetchOncePerField(t *testing.T) {
	f := &countingFetcher{values: map[string][]string{
		"bug_status": {"NEW", "RESOLVED"},
		"resolution": {"FIXED"},
	}}
	cache := NewLegalValues(0)
	ctx := context.Background()

	ok, err := cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Allowed(ctx, "bug_status", "CLOSED", f.fetch)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.calls.Load())

	_, err = cache.Allowed(ctx, "resolution", "FIXED", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestLegalValuesSorted(t *testing.T) {
	f := &countingFetcher{values: map[string][]string{"bug_status": {"VERIFIED", "NEW", "ASSIGNED"}}}
	cache := NewLegalValues(0)

	values, err := cache.Values(context.Background(), "bug_status", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"ASSIGNED", "NEW", "VERIFIED"}, values)
}

func TestLegalValuesTTL(t *testing.T) {
	f := &countingFetcher{values: map[string][]string{"bug_status": {"NEW"}}}
	cache := NewLegalValues(time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	_, err = cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	now = now.Add(time.Minute)
	_, err = cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load(), "expired entry must be refetched")
}

func TestLegalValuesInvalidate(t *testing.T) {
	f := &countingFetcher{values: map[string][]string{"bug_status": {"NEW"}, "resolution": {"FIXED"}}}
	cache := NewLegalValues(0)
	ctx := context.Background()

	_, _ = cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	_, _ = cache.Allowed(ctx, "resolution", "FIXED", f.fetch)
	require.Equal(t, int32(2), f.calls.Load())

	cache.Invalidate("bug_status")
	_, _ = cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	_, _ = cache.Allowed(ctx, "resolution", "FIXED", f.fetch)
	assert.Equal(t, int32(3), f.calls.Load())

	cache.InvalidateAll()
	_, _ = cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	_, _ = cache.Allowed(ctx, "resolution", "FIXED", f.fetch)
	assert.Equal(t, int32(5), f.calls.Load())
}

func TestLegalValuesErrorNotCached(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection reset")}
	cache := NewLegalValues(0)
	ctx := context.Background()

	_, err := cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	require.Error(t, err)

	f.err = nil
	f.values = map[string][]string{"bug_status": {"NEW"}}
	ok, err := cache.Allowed(ctx, "bug_status", "NEW", f.fetch)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestLegalValuesCoalescesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context, string) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"NEW"}, nil
	}
	cache := NewLegalValues(0)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cache.Allowed(context.Background(), "bug_status", "NEW", fetch)
			assert.NoError(t, err)
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), calls.Load())
}
