// Package translate drives a pooled session through one translation and
// reads the result from the rendered page.
package translate

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/internal/browser"
	"github.com/Rorqualx/gtranslate-go/internal/endpoints"
	"github.com/Rorqualx/gtranslate-go/internal/types"
)

const inspectTimeout = 2 * time.Second

// Translator turns a request into a result using a session it does not own.
type Translator interface {
	Translate(ctx context.Context, s *browser.Session, req types.TranslateRequest) (*types.TranslateResult, error)
}

// PageTranslator navigates the session's tab to the translation URL and
// parses the rendered page.
type PageTranslator struct {
	profiles *endpoints.Manager
}

// NewPageTranslator creates a translator reading selectors from profiles.
func NewPageTranslator(profiles *endpoints.Manager) *PageTranslator {
	return &PageTranslator{profiles: profiles}
}

// BuildURL returns <host>?sl=<from>&tl=<to>&text=<text>&op=translate.
func BuildURL(host string, req types.TranslateRequest) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	q := url.Values{}
	q.Set("sl", req.From)
	q.Set("tl", req.To)
	q.Set("text", req.Text)
	q.Set("op", "translate")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Translate runs one translation. The whole operation is bounded by ctx.
func (t *PageTranslator) Translate(ctx context.Context, s *browser.Session, req types.TranslateRequest) (*types.TranslateResult, error) {
	if s == nil || s.Page == nil {
		return nil, types.NewTranslationError("navigate", "session has no page", types.ErrSessionPageNil)
	}

	profile := t.profiles.Get()
	target, err := BuildURL(s.Host, req)
	if err != nil {
		return nil, types.NewTranslationError("navigate", "failed to build URL", err)
	}

	start := time.Now()
	page := s.Page.Context(ctx)

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(target); err != nil {
		return nil, types.NewTranslationError("navigate", "navigation failed", err)
	}
	wait()

	if info, err := page.Info(); err == nil {
		if block := DetectBlockURL(info.URL); block.Detected {
			return nil, blockedError(s, block)
		}
	}

	if _, err := page.Element(profile.Result.Translation); err != nil {
		if block := t.inspectFailedPage(s); block.Detected {
			return nil, blockedError(s, block)
		}
		return nil, types.NewTranslationError("wait", "result did not appear: "+describeSelection("translation", profile.Result.Translation), err)
	}

	body, err := page.HTML()
	if err != nil {
		return nil, types.NewTranslationError("extract", "failed to read page", err)
	}

	result, err := ParseResult(body, profile.Result, req)
	if err != nil {
		return nil, err
	}
	result.Host = s.Host

	log.Debug().
		Int("session_index", s.Index).
		Str("from", result.From).
		Str("to", result.To).
		Bool("lite", req.Lite).
		Dur("duration", time.Since(start)).
		Msg("Translation parsed")

	return result, nil
}

// inspectFailedPage reads whatever the tab rendered instead of a result.
// It runs on the session page directly because the request context may
// already be done.
func (t *PageTranslator) inspectFailedPage(s *browser.Session) BlockInfo {
	body, err := s.Page.Timeout(inspectTimeout).HTML()
	if err != nil {
		return BlockInfo{}
	}
	return DetectBlockPage(body)
}

func blockedError(s *browser.Session, block BlockInfo) error {
	log.Warn().
		Int("session_index", s.Index).
		Str("host", s.Host).
		Str("code", block.Code).
		Str("category", string(block.Category)).
		Msg("Translation host served a block page")
	return types.NewTranslationError("wait", block.Description, types.ErrTargetBlocked)
}
