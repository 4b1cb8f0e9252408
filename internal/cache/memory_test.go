package cache

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

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(maxEntries int) (*Memory[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory[string](maxEntries)
	m.now = clock.Now
	return m, clock
}

func counting(value string, calls *int32) FetchFunc[string] {
	return func(context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestNewKey_Normalizes(t *testing.T) {
	a := NewKey(EndpointCurrent, "  Seattle ", "us", "metric")
	b := NewKey(EndpointCurrent, "SEATTLE", "US", "metric")

	assert.Equal(t, a, b)
	assert.Equal(t, "owm:current:seattle:us:metric", a.String())
	assert.NotEqual(t, a, NewKey(EndpointForecast, "Seattle", "US", "metric"))
	assert.NotEqual(t, a, NewKey(EndpointCurrent, "Seattle", "US", "imperial"))
}

func TestNormalizeTTL(t *testing.T) {
	assert.Equal(t, MinTTL, NormalizeTTL(0))
	assert.Equal(t, MinTTL, NormalizeTTL(10*time.Second))
	assert.Equal(t, 5*time.Minute, NormalizeTTL(5*time.Minute))
}

func TestMemory_HitWithinTTL(t *testing.T) {
	m, clock := newTestMemory(0)
	key := NewKey(EndpointCurrent, "Seattle", "US", "metric")
	var calls int32

	v, err := m.GetOrFetch(context.Background(), key, 5*time.Minute, counting("first", &calls))
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	clock.Advance(4 * time.Minute)
	v, err = m.GetOrFetch(context.Background(), key, 5*time.Minute, counting("second", &calls))
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, int32(1), calls)
}

func TestMemory_ExpiredEntryRefetches(t *testing.T) {
	m, clock := newTestMemory(0)
	key := NewKey(EndpointCurrent, "Seattle", "US", "metric")
	var calls int32

	_, err := m.GetOrFetch(context.Background(), key, 5*time.Minute, counting("first", &calls))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	v, err := m.GetOrFetch(context.Background(), key, 5*time.Minute, counting("second", &calls))
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	assert.Equal(t, int32(2), calls)
}

func TestMemory_ShortTTLRaisedToOneMinute(t *testing.T) {
	m, clock := newTestMemory(0)
	key := NewKey(EndpointCurrent, "Oslo", "", "metric")
	var calls int32

	_, err := m.GetOrFetch(context.Background(), key, time.Second, counting("v", &calls))
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = m.GetOrFetch(context.Background(), key, time.Second, counting("v", &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestMemory_ErrorsAreNotCached(t *testing.T) {
	m, _ := newTestMemory(0)
	key := NewKey(EndpointForecast, "Nowhere", "", "metric")
	boom := errors.New("boom")

	_, err := m.GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())

	var calls int32
	v, err := m.GetOrFetch(context.Background(), key, time.Minute, counting("ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(1), calls)
}

func TestMemory_ConcurrentMissesShareOneFetch(t *testing.T) {
	m, _ := newTestMemory(0)
	key := NewKey(EndpointCurrent, "Seattle", "US", "metric")

	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make([]string, workers)
	started.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := m.GetOrFetch(context.Background(), key, time.Minute, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestMemory_CancelledWaiterDoesNotFailOthers(t *testing.T) {
	m, _ := newTestMemory(0)
	key := NewKey(EndpointCurrent, "Lima", "PE", "metric")

	var calls int32
	fetching := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		close(fetching)
		select {
		case <-release:
			return "lima", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetOrFetch(first, key, time.Minute, fetch)
		firstErr <- err
	}()
	<-fetching

	type result struct {
		value string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, err := m.GetOrFetch(context.Background(), key, time.Minute, fetch)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return promptly")
	}

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "lima", got.value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// The shared fetch completed and was stored.
	v, err := m.GetOrFetch(context.Background(), key, time.Minute, counting("refetched", &calls))
	require.NoError(t, err)
	assert.Equal(t, "lima", v)
}

func TestMemory_Purge(t *testing.T) {
	m, clock := newTestMemory(0)
	var calls int32

	_, _ = m.GetOrFetch(context.Background(), NewKey(EndpointCurrent, "A", "", "metric"), time.Minute, counting("a", &calls))
	_, _ = m.GetOrFetch(context.Background(), NewKey(EndpointCurrent, "B", "", "metric"), 10*time.Minute, counting("b", &calls))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.Purge())
	assert.Equal(t, 1, m.Len())
}

func TestMemory_MaxEntriesEvictsSoonestExpiring(t *testing.T) {
	m, _ := newTestMemory(2)
	var calls int32

	_, _ = m.GetOrFetch(context.Background(), NewKey(EndpointCurrent, "A", "", "metric"), time.Minute, counting("a", &calls))
	_, _ = m.GetOrFetch(context.Background(), NewKey(EndpointCurrent, "B", "", "metric"), 10*time.Minute, counting("b", &calls))
	_, _ = m.GetOrFetch(context.Background(), NewKey(EndpointCurrent, "C", "", "metric"), 5*time.Minute, counting("c", &calls))

	assert.Equal(t, 2, m.Len())
	_, ok := m.get(NewKey(EndpointCurrent, "A", "", "metric"))
	assert.False(t, ok)
}

func TestNop_AlwaysFetches(t *testing.T) {
	var c Cache[string] = Nop[string]{}
	var calls int32
	key := NewKey(EndpointCurrent, "Seattle", "US", "metric")

	for i := 0; i < 3; i++ {
		_, err := c.GetOrFetch(context.Background(), key, time.Minute, counting("v", &calls))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls)
}
