package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Request validation limits.
const (
	MaxTextLength     = 5000 // runes, matches the translation page input limit
	MaxLanguageLength = 16
)

// Default language parameters applied when a request omits them.
const (
	DefaultSourceLanguage = "auto"
	DefaultTargetLanguage = "bn"
)

// Status values used in health responses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// languagePattern matches ISO 639 codes with an optional region/script suffix
// (en, fil, zh-CN, pt-PT, sr-Latn).
var languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z]{2,4})?$`)

// TranslateRequest represents an incoming translation request.
// Fields can come from the query string and/or a JSON body; body fields win.
type TranslateRequest struct {
	Text string `json:"text"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Lite bool   `json:"lite,omitempty"`
}

// ApplyDefaults fills in the source and target language when they are empty.
func (r *TranslateRequest) ApplyDefaults() {
	r.From = strings.TrimSpace(r.From)
	r.To = strings.TrimSpace(r.To)
	if r.From == "" {
		r.From = DefaultSourceLanguage
	}
	if r.To == "" {
		r.To = DefaultTargetLanguage
	}
}

// Validate validates the request and returns an error if invalid.
// Validation runs before any session is acquired.
func (r *TranslateRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrTextRequired
	}
	if utf8.RuneCountInString(r.Text) > MaxTextLength {
		return fmt.Errorf("%w: maximum is %d characters", ErrTextTooLong, MaxTextLength)
	}

	if !strings.EqualFold(r.From, DefaultSourceLanguage) && !validLanguage(r.From) {
		return fmt.Errorf("%w: from=%q", ErrInvalidLanguage, r.From)
	}
	// "auto" is only meaningful as a source language
	if !validLanguage(r.To) {
		return fmt.Errorf("%w: to=%q", ErrInvalidLanguage, r.To)
	}
	return nil
}

func validLanguage(code string) bool {
	return len(code) <= MaxLanguageLength && languagePattern.MatchString(code)
}

// TranslateResult is the structured output of the page parser.
type TranslateResult struct {
	Result        string       `json:"result"`
	From          string       `json:"from"`
	To            string       `json:"to"`
	Host          string       `json:"host,omitempty"`
	Pronunciation string       `json:"pronunciation,omitempty"`
	Alternatives  []string     `json:"alternatives,omitempty"`
	Definitions   []Definition `json:"definitions,omitempty"`
}

// Definition is one dictionary entry shown under a single-word translation.
type Definition struct {
	PartOfSpeech string `json:"partOfSpeech,omitempty"`
	Meaning      string `json:"meaning"`
	Example      string `json:"example,omitempty"`
}

// ErrorResponse is the error payload returned by the API.
type ErrorResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// NewErrorResponse creates an ErrorResponse with the error flag set.
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: 1, Message: message}
}

// HealthResponse reports pool state for load balancers and operators.
type HealthResponse struct {
	Status     string `json:"status"`
	PoolSize   int    `json:"poolSize"`
	Available  int    `json:"available"`
	InUse      int    `json:"inUse"`
	Generation uint64 `json:"generation"`
	Version    string `json:"version"`
}
