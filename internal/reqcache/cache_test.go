package reqcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// fakeClock is a manually advanced clock shared by the cache under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type table struct {
	ID   int
	Name string
}

type CacheTestSuite struct {
	suite.Suite

	clock *fakeClock
	cache *Cache[[]table]
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func (s *CacheTestSuite) SetupTest() {
	s.clock = newFakeClock()
	s.cache = New[[]table](Config{Clock: s.clock.Now})
}

func (s *CacheTestSuite) TearDownTest() {
	s.NoError(s.cache.Close())
}

// countingFetch returns a fetch func that records how often it ran.
func countingFetch(calls *atomic.Int32, v []table) func() ([]table, error) {
	return func() ([]table, error) {
		calls.Add(1)
		return v, nil
	}
}

func (s *CacheTestSuite) TestWithCacheFetchesOnce() {
	var calls atomic.Int32
	want := []table{{ID: 1, Name: "patio"}}

	v1, err := s.cache.WithCache("tables:list", countingFetch(&calls, want), 5*time.Second)
	s.NoError(err)
	v2, err := s.cache.WithCache("tables:list", countingFetch(&calls, want), 5*time.Second)
	s.NoError(err)

	s.Equal(int32(1), calls.Load())
	s.Equal(want, v1)
	s.Same(&v1[0], &v2[0])
}

func (s *CacheTestSuite) TestDeduplicateConcurrentCallers() {
	const n = 20
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	want := []table{{ID: 7, Name: "bar"}}

	fetch := func() ([]table, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return want, nil
	}

	var wg sync.WaitGroup
	results := make([][]table, n)
	errs := make([]error, n)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = s.cache.Deduplicate("tables:list", fetch)
	}()
	<-started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.cache.Deduplicate("tables:list", fetch)
		}(i)
	}
	// Give the followers time to attach to the in-flight call.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
	for i := 0; i < n; i++ {
		s.NoError(errs[i])
		s.Equal(want, results[i])
	}
	// Deduplicate alone never writes the cache table.
	s.Equal(0, s.cache.Stats().Size)
}

func (s *CacheTestSuite) TestDeduplicateSharesFailure() {
	const n = 10
	errDown := errors.New("upstream down")
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func() ([]table, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil, errDown
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = s.cache.WithCache("orders:open", fetch, time.Second)
	}()
	<-started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.cache.WithCache("orders:open", fetch, time.Second)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
	for _, err := range errs {
		s.ErrorIs(err, errDown)
	}
	s.NotContains(s.cache.Stats().Keys, "orders:open")

	// The pending slot was released, so the next call starts a new fetch.
	var retries atomic.Int32
	v, err := s.cache.WithCache("orders:open", countingFetch(&retries, []table{{ID: 2}}), time.Second)
	s.NoError(err)
	s.Equal(int32(1), retries.Load())
	s.Equal([]table{{ID: 2}}, v)
}

func (s *CacheTestSuite) TestFailureIsNotCached() {
	errBoom := errors.New("boom")
	_, err := s.cache.WithCache("menu", func() ([]table, error) { return nil, errBoom }, time.Minute)
	s.ErrorIs(err, errBoom)
	s.Equal(0, s.cache.Stats().Size)
}

func (s *CacheTestSuite) TestInvalidateForcesRefetch() {
	var calls atomic.Int32
	_, err := s.cache.WithCache("tables:list", countingFetch(&calls, nil), time.Hour)
	s.NoError(err)

	s.cache.Invalidate("tables:list")
	_, err = s.cache.WithCache("tables:list", countingFetch(&calls, nil), time.Hour)
	s.NoError(err)
	s.Equal(int32(2), calls.Load())

	// Invalidating an absent key is a no-op.
	s.cache.Invalidate("nope")
	s.Equal(1, s.cache.Stats().Size)
}

func (s *CacheTestSuite) TestExpiryBoundary() {
	var calls atomic.Int32
	ttl := 5 * time.Second
	_, err := s.cache.WithCache("reservations", countingFetch(&calls, nil), ttl)
	s.NoError(err)

	s.clock.Advance(ttl - time.Millisecond)
	_, err = s.cache.WithCache("reservations", countingFetch(&calls, nil), ttl)
	s.NoError(err)
	s.Equal(int32(1), calls.Load())

	s.clock.Advance(2 * time.Millisecond)
	_, err = s.cache.WithCache("reservations", countingFetch(&calls, nil), ttl)
	s.NoError(err)
	s.Equal(int32(2), calls.Load())
}

func (s *CacheTestSuite) TestZeroTTLAlwaysRefetches() {
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := s.cache.WithCache("payments", countingFetch(&calls, nil), 0)
		s.NoError(err)
	}
	s.Equal(int32(3), calls.Load())

	_, err := s.cache.WithCache("payments", countingFetch(&calls, nil), -time.Second)
	s.NoError(err)
	s.Equal(int32(4), calls.Load())
}

func (s *CacheTestSuite) TestTablesScenario() {
	var calls atomic.Int32
	live := []table{{ID: 1, Name: "window"}, {ID: 2, Name: "booth"}}

	first, err := s.cache.WithCache("tables:list", countingFetch(&calls, live), 5000*time.Millisecond)
	s.NoError(err)
	s.Equal(live, first)

	s.clock.Advance(2000 * time.Millisecond)
	second, err := s.cache.WithCache("tables:list", countingFetch(&calls, live), 5000*time.Millisecond)
	s.NoError(err)
	s.Same(&first[0], &second[0])
	s.Equal(int32(1), calls.Load())

	s.cache.Clear()
	_, err = s.cache.WithCache("tables:list", countingFetch(&calls, live), 5000*time.Millisecond)
	s.NoError(err)
	s.Equal(int32(2), calls.Load())
}

func (s *CacheTestSuite) TestClearDoesNotStopInflightFetch() {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = s.cache.WithCache("menu", func() ([]table, error) {
			close(started)
			<-release
			return []table{{ID: 9}}, nil
		}, time.Minute)
	}()
	<-started
	s.cache.Clear()
	close(release)
	<-done

	e, ok := s.cache.Peek("menu")
	s.True(ok)
	s.Equal([]table{{ID: 9}}, e.Value)
	s.Equal(s.clock.Now().Add(time.Minute), e.ExpiresAt)
}

func (s *CacheTestSuite) TestStatsDoesNotExpire() {
	_, err := s.cache.WithCache("b", countingFetch(new(atomic.Int32), nil), time.Second)
	s.NoError(err)
	_, err = s.cache.WithCache("a", countingFetch(new(atomic.Int32), nil), time.Second)
	s.NoError(err)

	s.clock.Advance(time.Hour)
	st := s.cache.Stats()
	s.Equal(2, st.Size)
	s.Equal([]string{"a", "b"}, st.Keys)
	// Still there: reading stats is not a sweep.
	s.Equal(2, s.cache.Stats().Size)
}

func (s *CacheTestSuite) TestInvalidatePrefix() {
	for _, k := range []string{"GET /api/tables?r=1", "GET /api/tables?r=2", "GET /api/menu"} {
		_, err := s.cache.WithCache(k, countingFetch(new(atomic.Int32), nil), time.Minute)
		s.NoError(err)
	}
	s.Equal(2, s.cache.InvalidatePrefix("GET /api/tables"))
	s.Equal([]string{"GET /api/menu"}, s.cache.Stats().Keys)
}

func (s *CacheTestSuite) TestLoadUsesDefaultTTL() {
	var calls atomic.Int32
	_, err := s.cache.Load("users", countingFetch(&calls, nil))
	s.NoError(err)

	e, ok := s.cache.Peek("users")
	s.True(ok)
	s.Equal(DefaultTTL, e.ExpiresAt.Sub(e.CreatedAt))
}

func (s *CacheTestSuite) TestSweepRemovesExpired() {
	c := New[string](Config{CleanupInterval: 5 * time.Millisecond, Clock: s.clock.Now})
	defer func() { s.NoError(c.Close()) }()

	_, err := c.WithCache("k", func() (string, error) { return "v", nil }, time.Second)
	s.NoError(err)
	s.Equal(1, c.Stats().Size)

	s.clock.Advance(2 * time.Second)
	s.Eventually(func() bool {
		return c.Stats().Size == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *CacheTestSuite) TestCloseIsIdempotent() {
	c := New[int](Config{CleanupInterval: time.Millisecond})
	s.NoError(c.Close())
	s.NoError(c.Close())
}

func (s *CacheTestSuite) TestNilInterfaceValue() {
	c := New[any](Config{})
	defer func() { s.NoError(c.Close()) }()

	v, err := c.WithCache("nil", func() (any, error) { return nil, nil }, time.Minute)
	s.NoError(err)
	s.Nil(v)
	s.Equal(1, c.Stats().Size)
}

func (s *CacheTestSuite) TestWithCacheFuncDerivesTTL() {
	var calls atomic.Int32
	fetch := countingFetch(&calls, []table{{ID: 3}})
	ttlFor := func(v []table) time.Duration { return time.Duration(v[0].ID) * time.Second }

	_, err := s.cache.WithCacheFunc("aged", fetch, ttlFor)
	s.NoError(err)
	e, ok := s.cache.Peek("aged")
	s.True(ok)
	s.Equal(3*time.Second, e.ExpiresAt.Sub(e.CreatedAt))

	s.clock.Advance(3 * time.Second)
	_, err = s.cache.WithCacheFunc("aged", fetch, ttlFor)
	s.NoError(err)
	s.Equal(int32(2), calls.Load())
}
