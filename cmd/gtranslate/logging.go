package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/pkg/version"
)

// setupLogging configures the global zerolog logger.
// format is "json" for structured output, anything else is human-readable.
func setupLogging(level, format string) {
	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4285F4")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B7280")).
			Padding(0, 2)
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// printBanner prints the startup banner.
func printBanner(w io.Writer) {
	title := lipgloss.JoinVertical(lipgloss.Left,
		"gtranslate",
		subtleStyle.Render("headless translation service "+version.Full()),
	)
	_, _ = io.WriteString(w, bannerStyle.Render(title)+"\n")

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting gtranslate")
}
