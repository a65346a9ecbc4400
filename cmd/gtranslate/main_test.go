package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/gtranslate-go/internal/config"
	"github.com/Rorqualx/gtranslate-go/internal/middleware"
)

func TestSetupLoggingLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		setupLogging(tt.in, "json")
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("setupLogging(%q) level = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf)
	if !strings.Contains(buf.String(), "gtranslate") {
		t.Errorf("Banner missing service name: %q", buf.String())
	}
}

func TestBuildMiddlewareAppliesAPIKey(t *testing.T) {
	cfg := &config.Config{
		RequestTimeout: time.Second,
		APIKeyEnabled:  true,
		APIKey:         "test-api-key-1234567890",
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := middleware.Chain(buildMiddleware(cfg)...)(handler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api?text=hi", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a request ID header")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected /health to stay public, got %d", w.Code)
	}
}
