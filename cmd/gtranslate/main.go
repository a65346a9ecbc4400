// Package main provides the entry point for the gtranslate service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers pprof handlers on http.DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/internal/browser"
	"github.com/Rorqualx/gtranslate-go/internal/config"
	"github.com/Rorqualx/gtranslate-go/internal/endpoints"
	"github.com/Rorqualx/gtranslate-go/internal/handlers"
	"github.com/Rorqualx/gtranslate-go/internal/metrics"
	"github.com/Rorqualx/gtranslate-go/internal/middleware"
	"github.com/Rorqualx/gtranslate-go/internal/translate"
	"github.com/Rorqualx/gtranslate-go/pkg/version"
)

// timeoutMargin leaves the handler room to answer 504 itself before the
// outer timeout middleware does.
const timeoutMargin = 5 * time.Second

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	// Logging is configured before Validate reports rejected environment values
	// and clamped settings.
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	cfg.Validate()

	printBanner(os.Stdout)

	// Startup is interruptible; the pool can take a while to come up.
	startCtx, stopStart := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopStart()

	profiles, err := endpoints.NewManager(cfg.EndpointsPath, cfg.EndpointsHotReload)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.EndpointsPath).Msg("Failed to load endpoint profile")
	}

	factory := browser.NewRodFactory(cfg, profiles)
	pool := browser.NewPool(factory, browser.OptionsFromConfig(cfg))

	log.Info().
		Int("page_count", cfg.PageCount).
		Int("min_ready", cfg.MinReadySessions()).
		Msg("Initializing page pool...")
	if err := pool.Initialize(startCtx, cfg.PageCount); err != nil {
		_ = pool.Shutdown()
		_ = profiles.Close()
		log.Fatal().Err(err).Msg("Failed to initialize page pool")
	}
	stopStart()

	translator := translate.NewPageTranslator(profiles)
	h := handlers.New(pool, translator, cfg)

	finalHandler := middleware.Chain(buildMiddleware(cfg)...)(handlers.NewRouter(h, cfg.StaticDir))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 2*timeoutMargin,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		if err := metrics.RegisterPool(pool); err != nil {
			log.Error().Err(err).Msg("Failed to register pool metrics")
		}
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
		go serve(metricsServer, "metrics")
		log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
	}

	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort),
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second, // profiles can take time
		}
		go serve(pprofServer, "pprof")
		log.Warn().Str("addr", pprofServer.Addr).Msg("pprof server started, use for debugging only")
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Int("pool_size", pool.Size()).
			Uint64("generation", pool.Generation()).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("gtranslate is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed, shutting down")
	}

	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	for name, srv := range map[string]*http.Server{"metrics": metricsServer, "pprof": pprofServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Str("server", name).Msg("Server shutdown error")
		}
	}

	if err := pool.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Page pool shutdown error")
	}
	if err := profiles.Close(); err != nil {
		log.Error().Err(err).Msg("Endpoint profile watcher close error")
	}

	log.Info().Msg("Shutdown complete")
}

// buildMiddleware returns the middleware stack, outermost first.
func buildMiddleware(cfg *config.Config) []middleware.Middleware {
	mws := []middleware.Middleware{
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
	}

	if cfg.RateLimitEnabled {
		log.Info().Int("requests_per_minute", cfg.RateLimitRPM).Msg("Rate limiting enabled")
		mws = append(mws, middleware.RateLimit(cfg.RateLimitRPM))
	}
	if cfg.APIKeyEnabled {
		log.Info().Msg("API key authentication enabled")
	}

	return append(mws,
		middleware.APIKey(cfg),
		middleware.Timeout(cfg.RequestTimeout+timeoutMargin),
	)
}

func serve(srv *http.Server, name string) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("server", name).Msg("Server failed")
	}
}
