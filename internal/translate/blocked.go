package translate

import (
	"net/url"
	"regexp"
	"strings"
)

// maxBodyLenForRegex bounds the body scanned by the block patterns.
const maxBodyLenForRegex = 100 * 1024

// BlockCategory is the broad kind of a detected block page.
type BlockCategory string

// Block categories.
const (
	CategoryRateLimit    BlockCategory = "rate_limit"
	CategoryCaptcha      BlockCategory = "captcha"
	CategoryAccessDenied BlockCategory = "access_denied"
)

// BlockInfo describes a page that replaced the translation UI.
type BlockInfo struct {
	Detected    bool
	Code        string
	Category    BlockCategory
	Description string
}

type blockPattern struct {
	pattern     *regexp.Regexp
	code        string
	category    BlockCategory
	description string
}

// blockPatterns are ordered by specificity. [^<] keeps matches inside one
// text node and avoids backtracking across markup.
var blockPatterns = []blockPattern{
	{
		pattern:     regexp.MustCompile(`(?i)unusual\s{1,5}traffic\s{1,5}from\s{1,5}your\s{1,5}computer\s{1,5}network`),
		code:        "GOOGLE_UNUSUAL_TRAFFIC",
		category:    CategoryRateLimit,
		description: "Google detected unusual traffic",
	},
	{
		pattern:     regexp.MustCompile(`(?i)id=["']?captcha-form`),
		code:        "GOOGLE_CAPTCHA",
		category:    CategoryCaptcha,
		description: "Google CAPTCHA challenge",
	},
	{
		pattern:     regexp.MustCompile(`(?i)<b>429\.</b>\s{0,5}(?:<ins>)?[^<]{0,40}error`),
		code:        "HTTP_429",
		category:    CategoryRateLimit,
		description: "HTTP 429 Too Many Requests",
	},
	{
		pattern:     regexp.MustCompile(`(?i)<b>403\.</b>\s{0,5}(?:<ins>)?[^<]{0,40}error`),
		code:        "HTTP_403",
		category:    CategoryAccessDenied,
		description: "HTTP 403 Forbidden",
	},
}

// DetectBlockURL reports whether the tab was redirected to Google's
// /sorry/ interstitial.
func DetectBlockURL(pageURL string) BlockInfo {
	u, err := url.Parse(pageURL)
	if err != nil {
		return BlockInfo{}
	}
	if strings.HasPrefix(u.Path, "/sorry/") {
		return BlockInfo{
			Detected:    true,
			Code:        "GOOGLE_SORRY",
			Category:    CategoryRateLimit,
			Description: "redirected to the /sorry/ interstitial",
		}
	}
	return BlockInfo{}
}

// DetectBlockPage scans a page that did not render a translation for known
// block markers. Only call it when the translation selector is absent: a
// translated text can contain any of these phrases.
func DetectBlockPage(body string) BlockInfo {
	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	for _, p := range blockPatterns {
		if p.pattern.MatchString(body) {
			return BlockInfo{
				Detected:    true,
				Code:        p.code,
				Category:    p.category,
				Description: p.description,
			}
		}
	}
	return BlockInfo{}
}
