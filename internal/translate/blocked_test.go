package translate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlockURL(t *testing.T) {
	info := DetectBlockURL("https://www.google.com/sorry/index?continue=https://translate.google.com/")
	assert.True(t, info.Detected)
	assert.Equal(t, "GOOGLE_SORRY", info.Code)
	assert.Equal(t, CategoryRateLimit, info.Category)

	assert.False(t, DetectBlockURL("https://translate.google.com/?sl=en&tl=ja").Detected)
	assert.False(t, DetectBlockURL("://bad").Detected)
}

func TestDetectBlockPage(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{
			name: "unusual traffic",
			body: `<div>Our systems have detected unusual traffic from your computer network.</div>`,
			code: "GOOGLE_UNUSUAL_TRAFFIC",
		},
		{
			name: "captcha form",
			body: `<form id="captcha-form" action="index" method="post"></form>`,
			code: "GOOGLE_CAPTCHA",
		},
		{
			name: "429 error page",
			body: `<p><b>429.</b> <ins>That’s an error.</ins></p>`,
			code: "HTTP_429",
		},
		{
			name: "403 error page",
			body: `<p><b>403.</b> <ins>That’s an error.</ins></p>`,
			code: "HTTP_403",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectBlockPage(tt.body)
			assert.True(t, info.Detected)
			assert.Equal(t, tt.code, info.Code)
		})
	}
}

func TestDetectBlockPageIgnoresNormalPage(t *testing.T) {
	assert.False(t, DetectBlockPage(fixturePage).Detected)
}

func TestDetectBlockPageTruncatesBody(t *testing.T) {
	body := strings.Repeat("a", maxBodyLenForRegex) + "unusual traffic from your computer network"
	assert.False(t, DetectBlockPage(body).Detected)
}
