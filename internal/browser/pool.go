// Package browser provides the session pool: one shared browser process with a
// fixed number of prepared translation tabs, handed out to concurrent requests
// and rebuilt periodically.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/internal/config"
	"github.com/Rorqualx/gtranslate-go/internal/types"
)

const (
	defaultCloseTimeout      = 15 * time.Second
	defaultRetryInterval     = 2 * time.Second
	defaultRetryMaxInterval  = time.Minute
	defaultRecycleMaxElapsed = 5 * time.Minute
	defaultMinReadyRatio     = 0.5
)

// Options tunes pool behaviour. Zero values fall back to defaults.
type Options struct {
	// MinReadyRatio is the fraction of requested sessions that must come up.
	MinReadyRatio float64

	// RecycleInterval is the period between rebuilds. Zero disables the scheduler.
	RecycleInterval time.Duration
	// RecycleCron, when set, replaces RecycleInterval with a cron schedule.
	RecycleCron string
	// DrainTimeout > 0 makes Recycle wait for in-flight sessions first.
	DrainTimeout time.Duration
	// RecycleMaxElapsed bounds the retries of one rebuild.
	RecycleMaxElapsed time.Duration
	// RetryInterval is the first backoff delay between rebuild attempts.
	RetryInterval time.Duration

	// CloseTimeout bounds how long closing a browser may take.
	CloseTimeout time.Duration
}

// OptionsFromConfig maps the application configuration onto pool options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinReadyRatio:     cfg.MinReadyRatio,
		RecycleInterval:   cfg.RecycleInterval,
		RecycleCron:       cfg.RecycleCron,
		DrainTimeout:      cfg.RecycleDrainTimeout,
		RecycleMaxElapsed: cfg.RecycleMaxElapsed,
	}
}

func (o *Options) applyDefaults() {
	if o.MinReadyRatio <= 0 || o.MinReadyRatio > 1 {
		o.MinReadyRatio = defaultMinReadyRatio
	}
	if o.RecycleMaxElapsed <= 0 {
		o.RecycleMaxElapsed = defaultRecycleMaxElapsed
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
}

// Pool hands out prepared sessions of a single shared browser.
//
// Acquire and Release are O(1) and never block on I/O. Every session carries
// the generation it was created in; a recycle bumps the generation, so
// handles from before it are stale and releasing them does nothing.
//
// All bookkeeping is guarded by mu. Never hold mu while launching, navigating
// or closing a browser.
type Pool struct {
	factory Factory
	opts    Options

	mu          sync.Mutex
	free        []*Session // LIFO stack
	inUse       map[*Session]struct{}
	browser     Browser
	generation  uint64
	size        int // requested session count N, fixed at Initialize
	initialized bool
	initRunning bool
	recycling   bool
	draining    bool
	drained     chan struct{} // closed when inUse empties while draining
	closed      bool

	recycleActive atomic.Bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeWg   sync.WaitGroup
	scheduler *scheduler

	stats poolStats
}

type poolStats struct {
	acquired        atomic.Int64
	released        atomic.Int64
	unavailable     atomic.Int64
	recycled        atomic.Int64
	recycleFailures atomic.Int64
	setupFailures   atomic.Int64
	leakedCloses    atomic.Int32
}

// PoolStatsSnapshot holds a point-in-time snapshot of pool statistics.
type PoolStatsSnapshot struct {
	Acquired        int64 `json:"acquired"`
	Released        int64 `json:"released"`
	Unavailable     int64 `json:"unavailable"`
	Recycled        int64 `json:"recycled"`
	RecycleFailures int64 `json:"recycleFailures"`
	SetupFailures   int64 `json:"setupFailures"`
	LeakedCloses    int32 `json:"leakedCloses"`
}

// NewPool creates an uninitialized pool. Call Initialize before use.
func NewPool(factory Factory, opts Options) *Pool {
	opts.applyDefaults()
	return &Pool{
		factory: factory,
		opts:    opts,
		inUse:   make(map[*Session]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Initialize launches the browser, prepares count sessions and starts the
// recycle scheduler. It succeeds at most once.
//
// Individual session failures are tolerated as long as at least
// max(1, ceil(count*MinReadyRatio)) sessions come up. The pool size stays
// count; every recycle rebuilds count sessions.
func (p *Pool) Initialize(ctx context.Context, count int) error {
	if count <= 0 {
		return types.NewPoolInitError(fmt.Sprintf("invalid page count %d", count), types.ErrInvalidPoolSize)
	}

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return types.ErrPoolClosed
	case p.initialized || p.initRunning:
		p.mu.Unlock()
		return types.ErrPoolAlreadyInitialized
	}
	p.initRunning = true
	generation := p.generation + 1
	p.mu.Unlock()

	log.Info().
		Int("page_count", count).
		Int("min_ready", p.minReady(count)).
		Msg("Initializing session pool")

	start := time.Now()
	b, sessions, err := p.build(ctx, count, generation)
	if err != nil {
		p.mu.Lock()
		p.initRunning = false
		p.mu.Unlock()
		if errors.Is(err, types.ErrTooFewSessions) {
			return types.NewPoolInitError("too few sessions came up", err)
		}
		return types.NewPoolInitError("browser launch failed", err)
	}

	p.mu.Lock()
	p.initRunning = false
	if p.closed {
		p.mu.Unlock()
		p.closeSessions(b, sessions)
		return types.ErrPoolClosed
	}
	p.install(b, sessions, generation)
	p.size = count
	p.initialized = true
	p.mu.Unlock()

	if err := p.startScheduler(); err != nil {
		log.Warn().Err(err).Msg("Failed to start recycle scheduler, automatic recycling disabled")
	}

	log.Info().
		Int("requested", count).
		Int("ready", len(sessions)).
		Uint64("generation", generation).
		Dur("duration", time.Since(start)).
		Msg("Session pool initialized")

	return nil
}

// build launches a browser and prepares count sessions in it. Fewer than
// minReady usable sessions closes the browser and fails with ErrTooFewSessions.
func (p *Pool) build(ctx context.Context, count int, generation uint64) (Browser, []*Session, error) {
	b, err := p.factory.CreateBrowser(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrBrowserLaunch) {
			err = types.NewBrowserLaunchError(err)
		}
		return nil, nil, err
	}

	sessions, setupErr := p.factory.CreateSessions(ctx, b, count, generation)
	var agg *types.SetupErrors
	if errors.As(setupErr, &agg) {
		p.stats.setupFailures.Add(int64(len(agg.Failures)))
	}

	need := p.minReady(count)
	if len(sessions) < need {
		p.closeSessions(b, sessions)
		if setupErr == nil {
			return nil, nil, fmt.Errorf("%w: %d of %d ready, need %d", types.ErrTooFewSessions, len(sessions), count, need)
		}
		return nil, nil, fmt.Errorf("%w: %d of %d ready, need %d: %w", types.ErrTooFewSessions, len(sessions), count, need, setupErr)
	}

	if setupErr != nil {
		log.Warn().
			Err(setupErr).
			Int("ready", len(sessions)).
			Int("requested", count).
			Msg("Some sessions failed setup, continuing with reduced capacity")
	}

	return b, sessions, nil
}

// install makes b and its sessions the live generation. Caller holds mu.
func (p *Pool) install(b Browser, sessions []*Session, generation uint64) {
	p.browser = b
	p.generation = generation
	p.free = append(make([]*Session, 0, len(sessions)), sessions...)
	p.inUse = make(map[*Session]struct{}, len(sessions))
	p.recycling = false
}

func (p *Pool) minReady(count int) int {
	return config.MinReady(count, p.opts.MinReadyRatio)
}

// Acquire takes a free session without waiting. It returns
// ErrNoAvailableSessions when every session is busy, before initialization
// and while a recycle is rebuilding the browser.
func (p *Pool) Acquire() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, types.ErrPoolClosed
	}

	n := len(p.free)
	if n == 0 || p.browser == nil || p.recycling || p.draining {
		p.stats.unavailable.Add(1)
		return nil, types.ErrNoAvailableSessions
	}

	s := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.inUse[s] = struct{}{}
	p.stats.acquired.Add(1)

	return s, nil
}

// Release returns a session to the pool. Releasing nil, a session that is
// not in use, or a session from an earlier generation is a no-op.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.inUse[s]; !ok {
		log.Debug().
			Int("session_index", s.Index).
			Uint64("session_generation", s.Generation).
			Uint64("generation", p.generation).
			Msg("Ignoring release of stale or unknown session")
		return
	}

	delete(p.inUse, s)
	p.free = append(p.free, s)
	p.stats.released.Add(1)

	if p.draining && len(p.inUse) == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

// With acquires a session, runs fn with it and releases it on every exit
// path, including panics.
func (p *Pool) With(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(s)

	return fn(ctx, s)
}

// Recycle replaces the browser and all sessions with fresh ones.
// Handles from before the call become stale. Concurrent calls fail with
// ErrRecycleInProgress.
func (p *Pool) Recycle(ctx context.Context) error {
	if !p.recycleActive.CompareAndSwap(false, true) {
		return types.ErrRecycleInProgress
	}
	defer p.recycleActive.Store(false)

	ctx, cancel := p.stopContext(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.ErrPoolClosed
	}
	if !p.initialized {
		p.mu.Unlock()
		return types.NewRecycleError("pool is not initialized", nil)
	}
	p.mu.Unlock()

	if p.opts.DrainTimeout > 0 {
		p.drain(ctx)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.ErrPoolClosed
	}
	p.generation++
	generation := p.generation
	size := p.size
	abandoned := len(p.inUse)
	old := p.browser
	p.browser = nil
	p.free = nil
	p.inUse = make(map[*Session]struct{})
	p.recycling = true
	p.draining = false
	p.drained = nil
	p.mu.Unlock()

	log.Info().
		Uint64("generation", generation).
		Int("abandoned", abandoned).
		Msg("Recycling session pool")

	start := time.Now()
	if old != nil {
		p.closeBrowserWithTimeout(old, p.opts.CloseTimeout)
	}

	b, sessions, err := p.rebuild(ctx, size, generation)
	if err != nil {
		p.mu.Lock()
		p.recycling = false
		p.mu.Unlock()
		p.stats.recycleFailures.Add(1)
		return types.NewRecycleError("rebuild failed", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeSessions(b, sessions)
		return types.ErrPoolClosed
	}
	p.install(b, sessions, generation)
	p.mu.Unlock()

	p.stats.recycled.Add(1)
	log.Info().
		Uint64("generation", generation).
		Int("ready", len(sessions)).
		Dur("duration", time.Since(start)).
		Msg("Session pool recycled")

	return nil
}

// drain stops handing out sessions and waits until all in-flight sessions
// are released or the drain timeout expires.
func (p *Pool) drain(ctx context.Context) {
	p.mu.Lock()
	if len(p.inUse) == 0 {
		p.mu.Unlock()
		return
	}
	p.draining = true
	done := make(chan struct{})
	p.drained = done
	waiting := len(p.inUse)
	p.mu.Unlock()

	log.Info().
		Int("in_use", waiting).
		Dur("timeout", p.opts.DrainTimeout).
		Msg("Draining in-flight sessions before recycle")

	timer := time.NewTimer(p.opts.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Debug().Msg("All sessions released, drain complete")
	case <-timer.C:
		log.Warn().Msg("Drain timeout expired, abandoning in-flight sessions")
	case <-ctx.Done():
	}
}

// rebuild creates a new browser and sessions, retrying with exponential
// backoff until it succeeds, RecycleMaxElapsed passes or ctx is done.
func (p *Pool) rebuild(ctx context.Context, count int, generation uint64) (Browser, []*Session, error) {
	var (
		b        Browser
		sessions []*Session
	)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.RetryInterval
	eb.MaxInterval = max(defaultRetryMaxInterval, p.opts.RetryInterval)
	eb.MaxElapsedTime = p.opts.RecycleMaxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		b, sessions, err = p.build(ctx, count, generation)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("Recycle attempt failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(eb, ctx), notify); err != nil {
		return nil, nil, err
	}
	return b, sessions, nil
}

// stopContext derives a context that is also cancelled by Shutdown.
func (p *Pool) stopContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// closeSessions closes the tabs and then the browser that owns them.
func (p *Pool) closeSessions(b Browser, sessions []*Session) {
	for _, s := range sessions {
		s.close()
	}
	if b != nil {
		p.closeBrowserWithTimeout(b, p.opts.CloseTimeout)
	}
}

// closeBrowserWithTimeout closes b, giving up after timeout.
// Returns true if the browser closed in time.
func (p *Pool) closeBrowserWithTimeout(b Browser, timeout time.Duration) bool {
	closeDone := make(chan struct{})
	closeStarted := time.Now()

	p.closeWg.Add(1)
	go func() {
		defer p.closeWg.Done()
		defer close(closeDone)
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser")
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-closeDone:
		log.Debug().
			Dur("duration", time.Since(closeStarted)).
			Msg("Browser closed")
		return true
	case <-timer.C:
		leaked := p.stats.leakedCloses.Add(1)
		log.Warn().
			Dur("elapsed", time.Since(closeStarted)).
			Int32("leaked_count", leaked).
			Msg("Browser close timed out")
		return false
	}
}

// Shutdown stops the scheduler and closes the browser. Every handle becomes
// invalid. Safe to call multiple times.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	b := p.browser
	p.browser = nil
	p.free = nil
	p.inUse = make(map[*Session]struct{})
	p.mu.Unlock()

	log.Info().Msg("Shutting down session pool")

	close(p.stopCh)
	p.stopScheduler()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Debug().Msg("Background goroutines stopped")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timeout waiting for background goroutines to stop")
	}

	var closeErr error
	if b != nil && !p.closeBrowserWithTimeout(b, p.opts.CloseTimeout) {
		closeErr = fmt.Errorf("browser did not close within %v", p.opts.CloseTimeout)
	}

	closeWgDone := make(chan struct{})
	go func() {
		p.closeWg.Wait()
		close(closeWgDone)
	}()
	select {
	case <-closeWgDone:
	case <-time.After(p.opts.CloseTimeout):
		log.Warn().Msg("Timeout waiting for browser close goroutines")
	}

	stats := p.Stats()
	log.Info().
		Int64("total_acquired", stats.Acquired).
		Int64("total_released", stats.Released).
		Int64("total_unavailable", stats.Unavailable).
		Int64("total_recycled", stats.Recycled).
		Msg("Session pool closed")

	return closeErr
}

// Size returns the requested session count fixed at initialization.
// Available and InUse report the sessions that are actually live.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Available returns the number of sessions that Acquire could hand out now.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.browser == nil || p.recycling || p.draining {
		return 0
	}
	return len(p.free)
}

// InUse returns the number of sessions currently handed out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Generation returns the current generation number.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Healthy reports whether the pool has a live browser.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.browser != nil
}

// Stats returns a snapshot of the current pool statistics.
func (p *Pool) Stats() PoolStatsSnapshot {
	return PoolStatsSnapshot{
		Acquired:        p.stats.acquired.Load(),
		Released:        p.stats.released.Load(),
		Unavailable:     p.stats.unavailable.Load(),
		Recycled:        p.stats.recycled.Load(),
		RecycleFailures: p.stats.recycleFailures.Load(),
		SetupFailures:   p.stats.setupFailures.Load(),
		LeakedCloses:    p.stats.leakedCloses.Load(),
	}
}
