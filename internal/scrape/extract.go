package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// minParagraphLen filters out boilerplate like "Read More" or bylines.
const minParagraphLen = 40

// loadingMarkers flag pages whose static HTML is a shell waiting for
// scripts. Their presence fails the sufficiency check even when the text is
// long enough.
var loadingMarkers = []string{
	"loading...",
	"please enable javascript",
	"javascript is required",
	"you need to enable javascript",
	"checking your browser",
}

// paywallMarkers identify content we will never get; the item is dropped
// without a render attempt.
var paywallMarkers = []string{
	"subscribe to continue reading",
	"subscription required",
	"this content is for subscribers",
	"to continue reading, please subscribe",
}

// ExtractText pulls readable article text from raw HTML. Readability gets
// the first shot; when it can't find an article body we fall back to
// harvesting <p> elements after stripping script/style/nav chrome.
func ExtractText(html, pageURL string) string {
	if html == "" {
		return ""
	}

	if u, err := url.Parse(pageURL); err == nil {
		if article, err := readability.FromReader(strings.NewReader(html), u); err == nil {
			text := collapseSpace(article.TextContent)
			if len(text) > 0 {
				return text
			}
		}
	}

	return extractParagraphs(html)
}

func extractParagraphs(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if len(text) > minParagraphLen {
			parts = append(parts, text)
		}
	})

	return collapseSpace(strings.Join(parts, " "))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sufficient applies the content-sufficiency heuristic: enough extracted
// text and no loading placeholders.
func sufficient(text string, minLen int) bool {
	if len(text) < minLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range loadingMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// paywalled reports whether the text carries a known paywall marker.
func paywalled(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range paywallMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
