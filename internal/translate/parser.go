package translate

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/Rorqualx/gtranslate-go/internal/endpoints"
	"github.com/Rorqualx/gtranslate-go/internal/types"
)

// ParseResult extracts a translation from the rendered page HTML.
// When lite is set only the translated text, languages and pronunciation
// are filled in.
func ParseResult(pageHTML string, sel endpoints.ResultSelectors, req types.TranslateRequest) (*types.TranslateResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, types.NewTranslationError("extract", "failed to parse page", err)
	}

	translation := joinText(doc.Find(sel.Translation))
	if translation == "" {
		return nil, types.NewTranslationError("extract", "no translation on page", types.ErrTranslationEmpty)
	}

	result := &types.TranslateResult{
		Result: translation,
		From:   req.From,
		To:     req.To,
	}

	if sel.DetectedLanguage != "" && sel.DetectedLanguageAttr != "" {
		if lang, ok := doc.Find(sel.DetectedLanguage).First().Attr(sel.DetectedLanguageAttr); ok {
			if lang = strings.TrimSpace(lang); lang != "" && lang != types.DefaultSourceLanguage {
				result.From = lang
			}
		}
	}

	if sel.Pronunciation != "" {
		result.Pronunciation = nodeText(doc.Find(sel.Pronunciation).First())
	}

	if req.Lite {
		return result, nil
	}

	if sel.Alternatives != "" {
		seen := map[string]struct{}{translation: {}}
		doc.Find(sel.Alternatives).Each(func(_ int, s *goquery.Selection) {
			alt := nodeText(s)
			if alt == "" {
				return
			}
			if _, dup := seen[alt]; dup {
				return
			}
			seen[alt] = struct{}{}
			result.Alternatives = append(result.Alternatives, alt)
		})
	}

	if sel.Definitions != "" {
		doc.Find(sel.Definitions).Each(func(_ int, s *goquery.Selection) {
			def := types.Definition{
				PartOfSpeech: childText(s, sel.PartOfSpeech),
				Meaning:      childText(s, sel.Meaning),
				Example:      childText(s, sel.Example),
			}
			if def.Meaning != "" {
				result.Definitions = append(result.Definitions, def)
			}
		})
	}

	return result, nil
}

// joinText concatenates the text of every matched element. Google renders
// one element per sentence, so the pieces are joined without separators.
func joinText(s *goquery.Selection) string {
	var b strings.Builder
	s.Each(func(_ int, part *goquery.Selection) {
		b.WriteString(rawText(part))
	})
	return strings.TrimSpace(b.String())
}

func childText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return nodeText(s.Find(selector).First())
}

// nodeText returns the trimmed text of the first node in s.
func nodeText(s *goquery.Selection) string {
	return strings.TrimSpace(rawText(s))
}

// rawText renders the text of s with <br> turned into newlines.
func rawText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			b.WriteByte('\n')
			return
		case "script", "style":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// describeSelection is used in error messages when a selector never matches.
func describeSelection(name, selector string) string {
	return fmt.Sprintf("%s selector %q", name, selector)
}
