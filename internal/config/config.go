// Package config provides application configuration management.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPageCount       = 50
	maxRequestTimeout  = 10 * time.Minute
	maxRateLimitRPM    = 10000 // Maximum requests per minute per IP
	minAPIKeyLength    = 16    // Minimum API key length for security
	minRecycleInterval = time.Minute
	maxNavTimeout      = 5 * time.Minute
	maxConsentTimeout  = 30 * time.Second
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host      string
	Port      int
	StaticDir string

	// Browser settings
	Headless      bool
	BrowserPath   string
	SingleProcess bool

	// Pool settings
	PageCount        int
	MinReadyRatio    float64
	SetupConcurrency int

	// Recycling
	RecycleInterval     time.Duration
	RecycleCron         string // Optional cron expression, overrides RecycleInterval
	RecycleDrainTimeout time.Duration
	RecycleMaxElapsed   time.Duration

	// Session setup timeouts
	NavigationTimeout time.Duration
	ConsentTimeout    time.Duration

	// Request handling
	RequestTimeout time.Duration

	// Endpoint profile
	EndpointsPath      string // Path to external endpoints.yaml override file
	EndpointsHotReload bool   // Enable file watching for hot-reload of the endpoint profile

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Profiling
	PProfEnabled  bool
	PProfPort     int
	PProfBindAddr string

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int      // Requests per minute per IP
	CORSAllowedOrigins []string // Allowed CORS origins (empty = reject cross-origin)

	// API Key Authentication
	APIKeyEnabled bool
	APIKey        string

	// Environment values rejected by Load, reported by Validate
	envIssues []envIssue
}

// LoadDotEnv loads variables from a .env file in the working directory, if present.
// Variables already set in the environment are never overridden.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Warn().Err(err).Msg("Failed to load .env file")
		return
	}
	log.Debug().Strs("files", paths).Msg("Loaded .env file")
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
// Unusable values are recorded and logged by Validate.
func Load() *Config {
	env := &envReader{}
	pageCount := env.pageCount(5)

	cfg := &Config{
		Host:      env.getString("HOST", "0.0.0.0"),
		Port:      env.getInt("PORT", 8999),
		StaticDir: env.getString("STATIC_DIR", "public"),

		Headless:      env.getBool("HEADLESS", true),
		BrowserPath:   env.getString("BROWSER_PATH", env.getString("PUPPETEER_EXECUTABLE_PATH", "")),
		SingleProcess: env.getBool("SINGLE_PROCESS", false),

		PageCount:        pageCount,
		MinReadyRatio:    env.getFloat("MIN_READY_RATIO", 0.5),
		SetupConcurrency: env.getInt("SETUP_CONCURRENCY", pageCount),

		RecycleInterval:     env.getDuration("RECYCLE_INTERVAL", time.Hour),
		RecycleCron:         env.getString("RECYCLE_CRON", ""),
		RecycleDrainTimeout: env.getDurationAllowZero("RECYCLE_DRAIN_TIMEOUT", 0),
		RecycleMaxElapsed:   env.getDuration("RECYCLE_MAX_ELAPSED", 5*time.Minute),

		NavigationTimeout: env.getDuration("NAVIGATION_TIMEOUT", 45*time.Second),
		ConsentTimeout:    env.getDuration("CONSENT_TIMEOUT", 2*time.Second),

		RequestTimeout: env.getDuration("REQUEST_TIMEOUT", 60*time.Second),

		EndpointsPath:      env.getString("ENDPOINTS_PATH", ""),
		EndpointsHotReload: env.getBool("ENDPOINTS_HOT_RELOAD", false),

		LogLevel:  env.getString("LOG_LEVEL", "info"),
		LogFormat: env.getString("LOG_FORMAT", "console"),

		PrometheusEnabled: env.getBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    env.getInt("PROMETHEUS_PORT", 9090),

		PProfEnabled:  env.getBool("PPROF_ENABLED", false),
		PProfPort:     env.getInt("PPROF_PORT", 6060),
		PProfBindAddr: env.getString("PPROF_BIND_ADDR", "127.0.0.1"),

		RateLimitEnabled:   env.getBool("RATE_LIMIT_ENABLED", false),
		RateLimitRPM:       env.getInt("RATE_LIMIT_RPM", 60),
		CORSAllowedOrigins: env.getStringSlice("CORS_ALLOWED_ORIGINS", nil),

		APIKeyEnabled: env.getBool("API_KEY_ENABLED", false),
		APIKey:        env.getString("API_KEY", ""),
	}
	cfg.envIssues = env.issues
	return cfg
}

// MinReadySessions returns the number of sessions that must come up for
// the pool to be considered usable. Never less than one.
func (c *Config) MinReadySessions() int {
	return MinReady(c.PageCount, c.MinReadyRatio)
}

// MinReady computes max(1, ceil(count*ratio)) capped at count.
func MinReady(count int, ratio float64) int {
	if count <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(count) * ratio))
	if n < 1 {
		n = 1
	}
	if n > count {
		n = count
	}
	return n
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults, except PageCount:
// a non-positive page count is left as is so pool initialization rejects it.
func (c *Config) Validate() {
	for _, issue := range c.envIssues {
		ev := log.Warn()
		if issue.key == "PAGE_COUNT" {
			ev = log.Error()
		}
		ev.Str("key", issue.key).
			Str("value", issue.value).
			Err(issue.err).
			Str("default", issue.fallback).
			Msg(issue.msg)
	}
	c.envIssues = nil

	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8999")
		c.Port = 8999
	}

	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") && !strings.HasPrefix(c.BrowserPath, "C:") && !strings.HasPrefix(c.BrowserPath, "c:") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	if c.PageCount > maxPageCount {
		log.Warn().
			Int("count", c.PageCount).
			Int("max", maxPageCount).
			Msg("Page count too large, capping to maximum")
		c.PageCount = maxPageCount
	}

	if c.MinReadyRatio <= 0 || c.MinReadyRatio > 1 {
		log.Warn().Float64("ratio", c.MinReadyRatio).Msg("MIN_READY_RATIO must be in (0, 1], using 0.5")
		c.MinReadyRatio = 0.5
	}

	if c.SetupConcurrency < 1 {
		c.SetupConcurrency = max(c.PageCount, 1)
	} else if c.PageCount > 0 && c.SetupConcurrency > c.PageCount {
		c.SetupConcurrency = c.PageCount
	}

	if c.RecycleInterval < minRecycleInterval {
		log.Warn().
			Dur("interval", c.RecycleInterval).
			Dur("min", minRecycleInterval).
			Msg("Recycle interval too short, using minimum")
		c.RecycleInterval = minRecycleInterval
	}

	if c.RecycleCron != "" {
		if _, err := cron.ParseStandard(c.RecycleCron); err != nil {
			log.Error().
				Err(err).
				Str("expr", c.RecycleCron).
				Msg("Invalid RECYCLE_CRON expression, falling back to RECYCLE_INTERVAL")
			c.RecycleCron = ""
		}
	}

	if c.RecycleDrainTimeout < 0 {
		c.RecycleDrainTimeout = 0
	}
	if c.RecycleDrainTimeout >= c.RecycleInterval {
		log.Warn().
			Dur("drain", c.RecycleDrainTimeout).
			Dur("interval", c.RecycleInterval).
			Msg("RECYCLE_DRAIN_TIMEOUT should be shorter than RECYCLE_INTERVAL, disabling drain")
		c.RecycleDrainTimeout = 0
	}

	if c.NavigationTimeout > maxNavTimeout {
		log.Warn().
			Dur("timeout", c.NavigationTimeout).
			Dur("max", maxNavTimeout).
			Msg("Navigation timeout too high, capping to maximum")
		c.NavigationTimeout = maxNavTimeout
	}
	if c.ConsentTimeout > maxConsentTimeout {
		log.Warn().
			Dur("timeout", c.ConsentTimeout).
			Dur("max", maxConsentTimeout).
			Msg("Consent timeout too high, capping to maximum")
		c.ConsentTimeout = maxConsentTimeout
	}

	if c.RequestTimeout < time.Second {
		log.Warn().Dur("timeout", c.RequestTimeout).Msg("Request timeout too short, using 60s")
		c.RequestTimeout = 60 * time.Second
	} else if c.RequestTimeout > maxRequestTimeout {
		log.Warn().
			Dur("timeout", c.RequestTimeout).
			Dur("max", maxRequestTimeout).
			Msg("Request timeout too high, capping to maximum")
		c.RequestTimeout = maxRequestTimeout
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if !validLogLevels[c.LogLevel] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		log.Warn().Str("format", c.LogFormat).Msg("Invalid log format, using 'console'")
		c.LogFormat = "console"
	}

	if c.PProfEnabled && c.PProfBindAddr != "127.0.0.1" && c.PProfBindAddr != "localhost" {
		log.Warn().
			Str("addr", c.PProfBindAddr).
			Msg("WARNING: pprof exposed on non-localhost address - this is a security risk")
	}

	if c.EndpointsPath != "" && strings.Contains(c.EndpointsPath, "..") {
		log.Error().
			Str("path", c.EndpointsPath).
			Msg("EndpointsPath contains path traversal sequence (..), ignoring")
		c.EndpointsPath = ""
	}
	if c.EndpointsHotReload && c.EndpointsPath == "" {
		log.Warn().Msg("ENDPOINTS_HOT_RELOAD enabled but ENDPOINTS_PATH not set - hot-reload disabled")
		c.EndpointsHotReload = false
	}

	// Port conflicts between the API, metrics and pprof listeners
	usedPorts := map[int]string{}
	if c.Port > 0 {
		usedPorts[c.Port] = "PORT"
	}
	if c.PrometheusEnabled {
		if name, exists := usedPorts[c.PrometheusPort]; exists {
			log.Error().
				Int("port", c.PrometheusPort).
				Str("conflicts_with", name).
				Msg("PROMETHEUS_PORT conflicts with another port, disabling metrics server")
			c.PrometheusEnabled = false
		} else {
			usedPorts[c.PrometheusPort] = "PROMETHEUS_PORT"
		}
	}
	if c.PProfEnabled {
		if name, exists := usedPorts[c.PProfPort]; exists {
			log.Error().
				Int("port", c.PProfPort).
				Str("conflicts_with", name).
				Msg("PPROF_PORT conflicts with another port, disabling pprof")
			c.PProfEnabled = false
		}
	}

	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}
}

// Helper functions for environment variable parsing

// invalidPageCount marks a PAGE_COUNT that is set but not an integer.
// It stays non-positive through Validate so pool initialization rejects it.
const invalidPageCount = -1

// envIssue is an environment value that could not be used as given.
type envIssue struct {
	key      string
	value    string
	err      error
	fallback string
	msg      string
}

// envReader reads typed environment variables and records the values it
// rejects. Load runs before logging is configured, so Validate reports them.
type envReader struct {
	issues []envIssue
}

func (r *envReader) reject(key, value string, err error, fallback any, msg string) {
	r.issues = append(r.issues, envIssue{
		key:      key,
		value:    value,
		err:      err,
		fallback: fmt.Sprint(fallback),
		msg:      msg,
	})
}

func (r *envReader) getString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		r.reject(key, value, err, defaultValue, "Invalid integer in environment variable, using default")
	}
	return defaultValue
}

// pageCount reads PAGE_COUNT. Unlike other integers an unparsable value
// does not fall back to the default.
func (r *envReader) pageCount(defaultValue int) int {
	value := os.Getenv("PAGE_COUNT")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		r.reject("PAGE_COUNT", value, err, invalidPageCount, "PAGE_COUNT must be a positive integer")
		return invalidPageCount
	}
	return int(n)
}

func (r *envReader) getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
		r.reject(key, value, err, defaultValue, "Invalid number in environment variable, using default")
	}
	return defaultValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		r.reject(key, value, err, defaultValue, "Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// getDuration parses a Go duration; a bare integer is read as seconds.
func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	d, ok := r.parseDuration(key, defaultValue)
	if !ok {
		return defaultValue
	}
	if d <= 0 {
		r.reject(key, os.Getenv(key), nil, defaultValue, "Duration must be positive, using default")
		return defaultValue
	}
	return d
}

// getDurationAllowZero is getDuration for settings where 0 means "disabled".
func (r *envReader) getDurationAllowZero(key string, defaultValue time.Duration) time.Duration {
	d, ok := r.parseDuration(key, defaultValue)
	if !ok {
		return defaultValue
	}
	if d < 0 {
		r.reject(key, os.Getenv(key), nil, defaultValue, "Duration must not be negative, using default")
		return defaultValue
	}
	return d
}

func (r *envReader) parseDuration(key string, defaultValue time.Duration) (time.Duration, bool) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.reject(key, value, err, defaultValue, "Invalid duration in environment variable, using default")
		return defaultValue, false
	}
	return d, true
}

func (r *envReader) getStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
