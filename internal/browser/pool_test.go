package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/gtranslate-go/internal/types"
)

type fakeBrowser struct {
	id     int
	closed atomic.Bool
}

func (b *fakeBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

// fakeFactory builds in-memory browsers and sessions.
type fakeFactory struct {
	mu             sync.Mutex
	browsers       []*fakeBrowser
	launchErr      error
	launchFailures int          // number of upcoming CreateBrowser calls that fail
	failIndexes    map[int]bool // session indexes whose setup fails
	sessionDelay   time.Duration
}

func (f *fakeFactory) CreateBrowser(ctx context.Context) (Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.launchErr != nil {
		return nil, f.launchErr
	}
	if f.launchFailures > 0 {
		f.launchFailures--
		return nil, errors.New("chromium exited")
	}
	b := &fakeBrowser{id: len(f.browsers)}
	f.browsers = append(f.browsers, b)
	return b, nil
}

func (f *fakeFactory) CreateSessions(ctx context.Context, b Browser, count int, generation uint64) ([]*Session, error) {
	f.mu.Lock()
	fail := make(map[int]bool, len(f.failIndexes))
	for k, v := range f.failIndexes {
		fail[k] = v
	}
	delay := f.sessionDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	var (
		sessions []*Session
		failures []*types.SetupError
	)
	for i := count - 1; i >= 0; i-- {
		if fail[i] {
			failures = append(failures, &types.SetupError{Index: i, Err: types.ErrNavigationFailed})
			continue
		}
		sessions = append(sessions, &Session{
			Index:      i,
			Generation: generation,
			Host:       "https://translate.example.test/",
			CreatedAt:  time.Now(),
		})
	}
	return collectSessions(count, sessions, failures)
}

func (f *fakeFactory) browser(i int) *fakeBrowser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.browsers[i]
}

func (f *fakeFactory) browserCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.browsers)
}

func newTestPool(t *testing.T, f *fakeFactory, opts Options, count int) *Pool {
	t.Helper()
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 5 * time.Millisecond
	}
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = time.Second
	}
	p := NewPool(f, opts)
	require.NoError(t, p.Initialize(context.Background(), count))
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func TestPoolInitialize(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{}, 5)

	assert.Equal(t, 5, p.Size())
	assert.Equal(t, 5, p.Available())
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, uint64(1), p.Generation())
	assert.True(t, p.Healthy())
	assert.Equal(t, 1, f.browserCount())
}

func TestPoolInitializeTwice(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 2)

	err := p.Initialize(context.Background(), 2)
	assert.ErrorIs(t, err, types.ErrPoolAlreadyInitialized)
}

func TestPoolInitializeInvalidSize(t *testing.T) {
	for _, n := range []int{0, -3} {
		p := NewPool(&fakeFactory{}, Options{})
		err := p.Initialize(context.Background(), n)

		assert.ErrorIs(t, err, types.ErrPoolInit)
		assert.ErrorIs(t, err, types.ErrInvalidPoolSize)
	}
}

func TestPoolInitializeLaunchFailure(t *testing.T) {
	f := &fakeFactory{launchErr: errors.New("exec: chromium not found")}
	p := NewPool(f, Options{})

	err := p.Initialize(context.Background(), 3)
	assert.ErrorIs(t, err, types.ErrPoolInit)
	assert.ErrorIs(t, err, types.ErrBrowserLaunch)
	assert.Contains(t, err.Error(), "chromium not found")

	_, err = p.Acquire()
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)
}

func TestPoolInitializePartialFailure(t *testing.T) {
	f := &fakeFactory{failIndexes: map[int]bool{1: true, 3: true}}
	p := newTestPool(t, f, Options{}, 5)

	assert.Equal(t, 5, p.Size())
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, int64(2), p.Stats().SetupFailures)
}

func TestPoolRecycleRestoresRequestedSize(t *testing.T) {
	f := &fakeFactory{failIndexes: map[int]bool{0: true}}
	p := newTestPool(t, f, Options{}, 4)
	require.Equal(t, 3, p.Available())

	f.mu.Lock()
	f.failIndexes = nil
	f.mu.Unlock()

	require.NoError(t, p.Recycle(context.Background()))

	assert.Equal(t, 4, p.Size())
	assert.Equal(t, 4, p.Available())
	assert.Equal(t, 0, p.InUse())

	held := make([]*Session, 0, 4)
	for i := 0; i < 4; i++ {
		s, err := p.Acquire()
		require.NoError(t, err)
		held = append(held, s)
	}
	_, err := p.Acquire()
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)

	indexes := map[int]bool{}
	for _, s := range held {
		indexes[s.Index] = true
	}
	assert.Len(t, indexes, 4)
}

func TestPoolInitializeTooFewSessions(t *testing.T) {
	f := &fakeFactory{failIndexes: map[int]bool{0: true, 1: true, 2: true}}
	p := NewPool(f, Options{})

	err := p.Initialize(context.Background(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPoolInit)
	assert.ErrorIs(t, err, types.ErrTooFewSessions)
	assert.ErrorIs(t, err, types.ErrNavigationFailed)

	var setupErr *types.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, 0, setupErr.Index)

	assert.True(t, f.browser(0).closed.Load(), "browser should be closed after failed init")
}

func TestPoolCapacityScenario(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 3)

	s1, err := p.Acquire()
	require.NoError(t, err)
	s2, err := p.Acquire()
	require.NoError(t, err)
	s3, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)
	assert.Equal(t, 0, p.Available())
	assert.Equal(t, 3, p.InUse())

	p.Release(s2)
	s4, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, s2, s4)

	p.Release(s1)
	p.Release(s3)
	p.Release(s4)
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, 0, p.InUse())

	stats := p.Stats()
	assert.Equal(t, int64(4), stats.Acquired)
	assert.Equal(t, int64(4), stats.Released)
	assert.Equal(t, int64(1), stats.Unavailable)
}

func TestPoolAcquireIsLIFO(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 3)

	s, err := p.Acquire()
	require.NoError(t, err)
	p.Release(s)

	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestPoolConcurrentAcquire(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		got       = make(map[*Session]int)
		failures  atomic.Int32
		start     = make(chan struct{})
		acquirers = 10
	)

	for i := 0; i < acquirers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, err := p.Acquire()
			if err != nil {
				if errors.Is(err, types.ErrNoAvailableSessions) {
					failures.Add(1)
				}
				return
			}
			mu.Lock()
			got[s]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, got, 5)
	for s, n := range got {
		assert.Equalf(t, 1, n, "session %d issued %d times", s.Index, n)
	}
	assert.Equal(t, int32(5), failures.Load())
}

func TestPoolReleaseNoOps(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 2)

	// nil
	p.Release(nil)
	assert.Equal(t, 2, p.Available())

	// double release
	s, err := p.Acquire()
	require.NoError(t, err)
	p.Release(s)
	p.Release(s)
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, int64(1), p.Stats().Released)

	// never-acquired session from elsewhere
	p.Release(&Session{Index: 0, Generation: 1})
	assert.Equal(t, 2, p.Available())
}

func TestPoolWithReleasesOnError(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 1)
	boom := errors.New("boom")

	err := p.With(context.Background(), func(ctx context.Context, s *Session) error {
		assert.Equal(t, 0, p.Available())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.Available())
}

func TestPoolWithReleasesOnPanic(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 1)

	assert.Panics(t, func() {
		_ = p.With(context.Background(), func(ctx context.Context, s *Session) error {
			panic("parser exploded")
		})
	})
	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 0, p.InUse())
}

func TestPoolWithUnavailable(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{}, 1)

	s, err := p.Acquire()
	require.NoError(t, err)
	defer p.Release(s)

	called := false
	err = p.With(context.Background(), func(ctx context.Context, s *Session) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)
	assert.False(t, called)
}

func TestPoolRecycleReplacesSessions(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{}, 3)

	old, err := p.Acquire()
	require.NoError(t, err)

	require.NoError(t, p.Recycle(context.Background()))

	assert.Equal(t, uint64(2), p.Generation())
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 2, f.browserCount())
	assert.True(t, f.browser(0).closed.Load(), "old browser should be closed")
	assert.False(t, f.browser(1).closed.Load())

	// Stale release after recycle is a no-op
	p.Release(old)
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, 0, p.InUse())

	fresh, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fresh.Generation)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, int64(1), p.Stats().Recycled)
}

func TestPoolRecycleRetriesUntilSuccess(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{RecycleMaxElapsed: 5 * time.Second}, 2)

	f.mu.Lock()
	f.launchFailures = 2
	f.mu.Unlock()

	require.NoError(t, p.Recycle(context.Background()))
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, 2, f.browserCount())
	assert.Equal(t, int64(0), p.Stats().RecycleFailures)
}

func TestPoolRecycleFailureLeavesPoolEmpty(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{RecycleMaxElapsed: 50 * time.Millisecond}, 2)

	f.mu.Lock()
	f.launchErr = errors.New("chromium exited")
	f.mu.Unlock()

	err := p.Recycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBrowserLaunch)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)
	assert.False(t, p.Healthy())
	assert.Equal(t, int64(1), p.Stats().RecycleFailures)

	// The next attempt recovers
	f.mu.Lock()
	f.launchErr = nil
	f.mu.Unlock()

	require.NoError(t, p.Recycle(context.Background()))
	assert.True(t, p.Healthy())
	assert.Equal(t, 2, p.Available())
}

func TestPoolRecycleInProgress(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{}, 2)

	f.mu.Lock()
	f.sessionDelay = 200 * time.Millisecond
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Recycle(context.Background()) }()

	require.Eventually(t, func() bool { return p.recycleActive.Load() }, time.Second, time.Millisecond)

	assert.ErrorIs(t, p.Recycle(context.Background()), types.ErrRecycleInProgress)

	// Acquire during the rebuild reports exhaustion
	_, err := p.Acquire()
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)

	require.NoError(t, <-done)
	assert.Equal(t, 2, p.Available())
}

func TestPoolRecycleDrain(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{DrainTimeout: 5 * time.Second}, 2)

	s, err := p.Acquire()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Recycle(context.Background()) }()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.draining
	}, time.Second, time.Millisecond)

	// No new sessions while draining
	_, err = p.Acquire()
	assert.ErrorIs(t, err, types.ErrNoAvailableSessions)
	assert.Equal(t, 1, f.browserCount(), "rebuild must wait for the drain")

	// The in-flight session is released normally, which ends the drain
	p.Release(s)
	assert.Equal(t, int64(1), p.Stats().Released)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recycle did not finish after drain")
	}
	assert.Equal(t, uint64(2), p.Generation())
	assert.Equal(t, 2, p.Available())
}

func TestPoolRecycleDrainTimeout(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{DrainTimeout: 30 * time.Millisecond}, 2)

	s, err := p.Acquire()
	require.NoError(t, err)

	require.NoError(t, p.Recycle(context.Background()))

	// The handle was abandoned; releasing it later is harmless
	p.Release(s)
	assert.Equal(t, 2, p.Available())
	assert.Equal(t, 0, p.InUse())
}

func TestPoolScheduledRecycle(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, Options{RecycleInterval: 20 * time.Millisecond}, 1)

	require.Eventually(t, func() bool { return p.Generation() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.browserCount(), 3)
}

func TestPoolInvalidCronKeepsPoolUsable(t *testing.T) {
	p := newTestPool(t, &fakeFactory{}, Options{RecycleCron: "every now and then"}, 1)

	_, err := p.Acquire()
	assert.NoError(t, err)
}

func TestPoolShutdown(t *testing.T) {
	f := &fakeFactory{}
	p := NewPool(f, Options{RecycleInterval: time.Hour, CloseTimeout: time.Second})
	require.NoError(t, p.Initialize(context.Background(), 2))

	s, err := p.Acquire()
	require.NoError(t, err)

	require.NoError(t, p.Shutdown())
	assert.True(t, f.browser(0).closed.Load())
	assert.False(t, p.Healthy())

	_, err = p.Acquire()
	assert.ErrorIs(t, err, types.ErrPoolClosed)

	// Release after shutdown is a silent no-op
	p.Release(s)
	assert.Equal(t, 0, p.Available())

	// Idempotent
	assert.NoError(t, p.Shutdown())

	assert.ErrorIs(t, p.Recycle(context.Background()), types.ErrPoolClosed)
	assert.ErrorIs(t, p.Initialize(context.Background(), 2), types.ErrPoolClosed)
}

func TestPoolShutdownDuringRecycleRetry(t *testing.T) {
	f := &fakeFactory{}
	p := NewPool(f, Options{RetryInterval: 20 * time.Millisecond, RecycleMaxElapsed: time.Minute, CloseTimeout: time.Second})
	require.NoError(t, p.Initialize(context.Background(), 1))

	f.mu.Lock()
	f.launchErr = errors.New("chromium exited")
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Recycle(context.Background()) }()

	require.Eventually(t, func() bool { return p.recycleActive.Load() }, time.Second, time.Millisecond)
	require.NoError(t, p.Shutdown())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recycle retry loop did not stop on shutdown")
	}
}
