package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/gtranslate-go/internal/endpoints"
	"github.com/Rorqualx/gtranslate-go/internal/types"
)

// Session is one prepared browser tab sitting on a translation host.
// The pool hands out *Session pointers; a handle is only valid for the
// generation it was created in.
type Session struct {
	Index      int
	Generation uint64
	Host       string
	Page       *rod.Page
	CreatedAt  time.Time

	router *rod.HijackRouter
}

// close stops request interception and closes the tab.
func (s *Session) close() {
	if s.router != nil {
		_ = s.router.Stop()
	}
	if s.Page != nil {
		_ = s.Page.Close()
	}
}

// sessionSetup holds everything setupSession needs for one batch.
type sessionSetup struct {
	profile           *endpoints.Profile
	filter            *RequestFilter
	navigationTimeout time.Duration
	consentTimeout    time.Duration
}

// setupSession opens a tab, installs request filtering, loads the first host
// that responds and dismisses the consent dialog if one is shown.
func (ss *sessionSetup) setupSession(ctx context.Context, b *rod.Browser, index int, generation uint64) (*Session, error) {
	hosts := ss.profile.Hosts
	fail := func(err error) (*Session, error) {
		return nil, &types.SetupError{Index: index, Hosts: hosts, Err: err}
	}

	page, err := stealth.Page(b)
	if err != nil {
		return fail(fmt.Errorf("open tab: %w", err))
	}

	s := &Session{
		Index:      index,
		Generation: generation,
		Page:       page,
	}

	log.Debug().Int("session_index", index).Uint64("generation", generation).Msg("Session tab created")

	if err := ss.configurePage(page); err != nil {
		s.close()
		return fail(err)
	}
	s.router = ss.startInterception(page)

	host, err := ss.navigate(ctx, pageLoader(page, ss.navigationTimeout), index)
	if err != nil {
		s.close()
		return fail(err)
	}
	s.Host = host

	ss.rejectConsent(pageClicker(page), index)

	s.CreatedAt = time.Now()
	return s, nil
}

// configurePage disables the cache and pins the Accept-Language header.
func (ss *sessionSetup) configurePage(page *rod.Page) error {
	_ = page.EnableDomain(&proto.NetworkEnable{})

	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(page); err != nil {
		return fmt.Errorf("disable cache: %w", err)
	}

	if lang := ss.profile.AcceptLanguage; lang != "" {
		headers := proto.NetworkHeaders{"Accept-Language": gson.New(lang)}
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(page); err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
	}
	return nil
}

// startInterception routes every request of the tab through the filter.
func (ss *sessionSetup) startInterception(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	filter := ss.filter

	router.MustAdd("*", func(ctx *rod.Hijack) {
		if filter.Decide(ctx.Request.Type(), ctx.Request.URL().String()) == Block {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()
	return router
}

// hostLoader loads one host URL in a tab, bounded by ctx.
type hostLoader func(ctx context.Context, host string) error

// consentClicker clicks the element matching selector if it shows up within
// timeout. It returns errConsentNotFound when nothing matched.
type consentClicker func(selector string, timeout time.Duration) error

var errConsentNotFound = errors.New("consent control not found")

// pageLoader returns a hostLoader driving page.
func pageLoader(page *rod.Page, timeout time.Duration) hostLoader {
	return func(ctx context.Context, host string) error {
		return navigateHost(ctx, page, host, timeout)
	}
}

// pageClicker returns a consentClicker driving page.
func pageClicker(page *rod.Page) consentClicker {
	return func(selector string, timeout time.Duration) error {
		el, err := page.Timeout(timeout).Element(selector)
		if err != nil {
			return errConsentNotFound
		}
		return el.CancelTimeout().Timeout(timeout).Click(proto.InputMouseButtonLeft, 1)
	}
}

// navigate tries each host in order and returns the first one that loads.
// When every host fails the error wraps ErrNavigationFailed and the last
// host's error.
func (ss *sessionSetup) navigate(ctx context.Context, load hostLoader, index int) (string, error) {
	var lastErr error
	for _, host := range ss.profile.Hosts {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := time.Now()
		err := load(ctx, host)
		if err == nil {
			log.Info().
				Int("session_index", index).
				Str("host", host).
				Dur("duration", time.Since(start)).
				Msg("Session loaded translation host")
			return host, nil
		}

		log.Warn().
			Err(err).
			Int("session_index", index).
			Str("host", host).
			Msg("Translation host failed to load, trying next")
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no hosts configured")
	}
	return "", fmt.Errorf("%w: %w", types.ErrNavigationFailed, lastErr)
}

// navigateHost loads one URL and waits for DOMContentLoaded only.
func navigateHost(ctx context.Context, page *rod.Page, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(navCtx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return err
	}
	wait()

	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("waiting for DOMContentLoaded: %w", err)
	}
	return nil
}

// rejectConsent clicks the consent "reject" control if it appears in time and
// reports whether it did. A missing dialog is the normal case outside consent
// regions and never an error.
func (ss *sessionSetup) rejectConsent(click consentClicker, index int) bool {
	sel := ss.profile.ConsentSelector
	if sel == "" {
		return false
	}

	switch err := click(sel, ss.consentTimeout); {
	case errors.Is(err, errConsentNotFound):
		log.Debug().Int("session_index", index).Msg("No consent dialog found")
		return false
	case err != nil:
		log.Debug().Err(err).Int("session_index", index).Msg("Consent dialog click failed")
		return false
	}
	log.Info().Int("session_index", index).Msg("Consent dialog rejected")
	return true
}
