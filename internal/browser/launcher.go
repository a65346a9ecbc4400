package browser

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/internal/types"
)

// Browser is a running browser process owned by the pool.
type Browser interface {
	Close() error
}

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	BrowserPath   string
	Headless      bool
	SingleProcess bool
}

// Instance is a rod-controlled browser together with the launcher that
// started it, so closing it also kills the process and removes its profile dir.
type Instance struct {
	Browser  *rod.Browser
	launcher *launcher.Launcher
}

// Close closes the CDP connection, kills the process and removes the
// temporary user-data directory.
func (i *Instance) Close() error {
	var err error
	if i.Browser != nil {
		err = i.Browser.Close()
	}
	if i.launcher != nil {
		i.launcher.Kill()
		i.launcher.Cleanup()
	}
	return err
}

// newLauncher builds a launcher with the flags needed to run inside a container.
func newLauncher(opts LaunchOptions) *launcher.Launcher {
	l := launcher.New()

	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}

	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu")

	if opts.SingleProcess {
		l = l.Set("single-process")
	}

	// The page under automation is itself a translator; keep Chrome's own out of the way
	l = l.Set("disable-features", "Translate,TranslateUI").
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-search-engine-choice-screen").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("window-size", "1280,800")

	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// launchBrowser starts a browser process and connects to it over CDP.
// Any failure is reported as a browser launch error.
func launchBrowser(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	select {
	case <-ctx.Done():
		return nil, types.NewBrowserLaunchError(ctx.Err())
	default:
	}

	start := time.Now()
	l := newLauncher(opts)

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, types.NewBrowserLaunchError(fmt.Errorf("launch: %w", err))
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, types.NewBrowserLaunchError(fmt.Errorf("connect: %w", err))
	}

	log.Debug().
		Str("control_url", controlURL).
		Bool("headless", opts.Headless).
		Dur("duration", time.Since(start)).
		Msg("Browser launched")

	return &Instance{Browser: b, launcher: l}, nil
}

// isARM returns true if running on ARM architecture.
func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
