package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	tagPattern     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>`)
	tagNamePattern = regexp.MustCompile(`^</?([a-zA-Z][a-zA-Z0-9]*)`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
	codeClass      = regexp.MustCompile(`<pre><code class="[^"]*">`)
)

// Tags the dashboard renders in chat bubbles.
var supportedTags = map[string]bool{
	"p": true, "br": true, "b": true, "strong": true, "i": true, "em": true,
	"del": true, "a": true, "code": true, "pre": true, "ul": true, "ol": true,
	"li": true, "blockquote": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "th": true, "td": true,
}

// ToHTML converts a markdown chat reply to HTML safe to embed in the dashboard.
// Raw HTML in the source is dropped and links open in a new tab.
func ToHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.SkipHTML | blackfriday.Safelink | blackfriday.NofollowLinks |
			blackfriday.NoreferrerLinks | blackfriday.HrefTargetBlank,
	})
	html := string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	))

	return cleanHTML(html)
}

// cleanHTML strips every tag the dashboard does not style
func cleanHTML(html string) string {
	html = codeClass.ReplaceAllString(html, "<pre><code>")

	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		name := tagNamePattern.FindStringSubmatch(match)
		if len(name) > 1 && supportedTags[strings.ToLower(name[1])] {
			return match
		}
		return ""
	})

	html = blankLines.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
