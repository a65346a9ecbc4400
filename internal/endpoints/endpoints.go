// Package endpoints provides the translation endpoint profile: candidate hosts,
// consent handling, request blocking rules and result page selectors.
package endpoints

import (
	"embed"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed endpoints.yaml
var defaultProfileFS embed.FS

// Profile describes how sessions reach and read the translation page.
type Profile struct {
	Hosts                []string        `yaml:"hosts"`
	ConsentSelector      string          `yaml:"consent_selector"`
	AcceptLanguage       string          `yaml:"accept_language"`
	BlockedResourceTypes []string        `yaml:"blocked_resource_types"`
	BlockedURLPatterns   []string        `yaml:"blocked_url_patterns"`
	Result               ResultSelectors `yaml:"result"`
}

// ResultSelectors are CSS selectors for the parts of a rendered translation.
type ResultSelectors struct {
	Translation          string `yaml:"translation"`
	DetectedLanguage     string `yaml:"detected_language"`
	DetectedLanguageAttr string `yaml:"detected_language_attr"`
	Pronunciation        string `yaml:"pronunciation"`
	Alternatives         string `yaml:"alternatives"`
	Definitions          string `yaml:"definitions"`
	PartOfSpeech         string `yaml:"part_of_speech"`
	Meaning              string `yaml:"meaning"`
	Example              string `yaml:"example"`
}

var (
	instance *Profile
	once     sync.Once
	loadErr  error
)

// Default returns the embedded profile.
func Default() *Profile {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load embedded endpoint profile, using built-in defaults")
			instance = builtinProfile()
		}
	})
	return instance
}

// load reads the profile from the embedded YAML file.
func load() (*Profile, error) {
	data, err := defaultProfileFS.ReadFile("endpoints.yaml")
	if err != nil {
		return nil, err
	}
	p, err := parseAndValidate(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("hosts", len(p.Hosts)).
		Int("blocked_types", len(p.BlockedResourceTypes)).
		Int("blocked_patterns", len(p.BlockedURLPatterns)).
		Msg("Endpoint profile loaded")

	return p, nil
}

// parseAndValidate parses YAML data and validates the profile.
// Partial profiles are allowed; only what is present is checked.
func parseAndValidate(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := p.validateHosts(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that a complete profile can drive a session.
func (p *Profile) Validate() error {
	if len(p.Hosts) == 0 {
		return fmt.Errorf("profile must list at least one host")
	}
	if p.Result.Translation == "" {
		return fmt.Errorf("profile must define result.translation")
	}
	return p.validateHosts()
}

func (p *Profile) validateHosts() error {
	for _, h := range p.Hosts {
		u, err := url.Parse(h)
		if err != nil {
			return fmt.Errorf("invalid host %q: %w", h, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("host %q must use http or https", h)
		}
		if u.Host == "" {
			return fmt.Errorf("host %q has no hostname", h)
		}
	}
	return nil
}

// builtinProfile returns hardcoded fallback values.
func builtinProfile() *Profile {
	return &Profile{
		Hosts: []string{
			"https://translate.google.co.jp/",
			"https://translate.google.com.hk/",
			"https://translate.google.com/",
		},
		ConsentSelector:      `button[aria-label="Reject all"]`,
		AcceptLanguage:       "en-US,en;q=0.9",
		BlockedResourceTypes: []string{"image", "stylesheet", "font", "media"},
		BlockedURLPatterns:   []string{"google-analytics"},
		Result: ResultSelectors{
			Translation: "span.ryNqvb",
		},
	}
}

// merge creates a new Profile with override fields taking precedence and
// base filling in whatever override leaves empty.
func merge(base, override *Profile) *Profile {
	merged := *base

	if len(override.Hosts) > 0 {
		merged.Hosts = override.Hosts
	}
	if override.ConsentSelector != "" {
		merged.ConsentSelector = override.ConsentSelector
	}
	if override.AcceptLanguage != "" {
		merged.AcceptLanguage = override.AcceptLanguage
	}
	if len(override.BlockedResourceTypes) > 0 {
		merged.BlockedResourceTypes = override.BlockedResourceTypes
	}
	if len(override.BlockedURLPatterns) > 0 {
		merged.BlockedURLPatterns = override.BlockedURLPatterns
	}

	r, o := &merged.Result, override.Result
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&r.Translation, o.Translation)
	pick(&r.DetectedLanguage, o.DetectedLanguage)
	pick(&r.DetectedLanguageAttr, o.DetectedLanguageAttr)
	pick(&r.Pronunciation, o.Pronunciation)
	pick(&r.Alternatives, o.Alternatives)
	pick(&r.Definitions, o.Definitions)
	pick(&r.PartOfSpeech, o.PartOfSpeech)
	pick(&r.Meaning, o.Meaning)
	pick(&r.Example, o.Example)

	return &merged
}
