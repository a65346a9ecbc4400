package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/gtranslate-go/internal/config"
	"github.com/Rorqualx/gtranslate-go/internal/endpoints"
	"github.com/Rorqualx/gtranslate-go/internal/types"
)

// Factory creates browsers and the sessions that live in them.
// The pool only talks to this interface, which keeps it testable without Chrome.
type Factory interface {
	// CreateBrowser launches a new browser process.
	CreateBrowser(ctx context.Context) (Browser, error)

	// CreateSessions prepares count sessions in b, tagged with generation.
	// It returns every session that came up, sorted by index, and a
	// *types.SetupErrors when at least one failed.
	CreateSessions(ctx context.Context, b Browser, count int, generation uint64) ([]*Session, error)
}

// RodFactory is the Factory backed by go-rod and a real Chromium.
type RodFactory struct {
	launch            LaunchOptions
	profiles          *endpoints.Manager
	concurrency       int
	navigationTimeout time.Duration
	consentTimeout    time.Duration
}

// NewRodFactory creates a factory from the application configuration.
// The endpoint profile is read on every CreateSessions call, so hot-reloaded
// hosts apply from the next recycle on.
func NewRodFactory(cfg *config.Config, profiles *endpoints.Manager) *RodFactory {
	return &RodFactory{
		launch: LaunchOptions{
			BrowserPath:   cfg.BrowserPath,
			Headless:      cfg.Headless,
			SingleProcess: cfg.SingleProcess,
		},
		profiles:          profiles,
		concurrency:       cfg.SetupConcurrency,
		navigationTimeout: cfg.NavigationTimeout,
		consentTimeout:    cfg.ConsentTimeout,
	}
}

// CreateBrowser launches Chromium with container-friendly flags.
func (f *RodFactory) CreateBrowser(ctx context.Context) (Browser, error) {
	return launchBrowser(ctx, f.launch)
}

// CreateSessions sets up count tabs concurrently. A failing tab does not
// cancel the others.
func (f *RodFactory) CreateSessions(ctx context.Context, b Browser, count int, generation uint64) ([]*Session, error) {
	inst, ok := b.(*Instance)
	if !ok || inst.Browser == nil {
		return nil, fmt.Errorf("unsupported browser type %T", b)
	}

	profile := f.profiles.Get()
	setup := &sessionSetup{
		profile:           profile,
		filter:            NewRequestFilter(profile.BlockedResourceTypes, profile.BlockedURLPatterns),
		navigationTimeout: f.navigationTimeout,
		consentTimeout:    f.consentTimeout,
	}

	var (
		mu       sync.Mutex
		sessions = make([]*Session, 0, count)
		failures []*types.SetupError
	)

	// Tasks never return an error; failures are collected per index.
	eg := new(errgroup.Group)
	eg.SetLimit(max(f.concurrency, 1))

	for i := 0; i < count; i++ {
		index := i
		eg.Go(func() error {
			s, err := setup.setupSession(ctx, inst.Browser, index, generation)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, asSetupError(index, profile.Hosts, err))
				return nil
			}
			sessions = append(sessions, s)
			return nil
		})
	}
	_ = eg.Wait()

	return collectSessions(count, sessions, failures)
}

// collectSessions sorts the results by index and builds the aggregate error.
func collectSessions(requested int, sessions []*Session, failures []*types.SetupError) ([]*Session, error) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Index < sessions[j].Index })

	if len(failures) == 0 {
		return sessions, nil
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	for _, f := range failures {
		log.Warn().Err(f.Err).Int("session_index", f.Index).Msg("Session setup failed")
	}
	return sessions, &types.SetupErrors{Requested: requested, Failures: failures}
}

func asSetupError(index int, hosts []string, err error) *types.SetupError {
	var se *types.SetupError
	if errors.As(err, &se) {
		return se
	}
	return &types.SetupError{Index: index, Hosts: hosts, Err: err}
}
