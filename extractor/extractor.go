// Package extractor scrapes article text from an entry's link when the feed
// summary is too short to score.
package extractor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jaytaylor/html2text"
)

const fetchTimeout = 10 * time.Second

// minWords is the threshold below which the scraped text is considered a
// failed extraction.
const minWords = 50

// An Extractor fetches a page and pulls out its main textual content.
type Extractor struct {
	Client *http.Client
}

// New returns an Extractor with a timeout-bounded HTTP client.
func New() *Extractor {
	return &Extractor{Client: &http.Client{Timeout: fetchTimeout}}
}

// ArticleText GETs the URL and returns the page's body text with scripts,
// styles and chrome removed. An empty or too-short result is an error; the
// caller skips the entry.
func (e *Extractor) ArticleText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article %q: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch article %q: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse article %q: %w", url, err)
	}
	doc.Find("script, style, header, footer, nav, form, noscript").Remove()

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	html, err := sel.Html()
	if err != nil {
		return "", fmt.Errorf("render article %q: %w", url, err)
	}
	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		return "", fmt.Errorf("extract text %q: %w", url, err)
	}

	text = strings.TrimSpace(text)
	if len(strings.Fields(text)) < minWords {
		return "", fmt.Errorf("article %q: not enough text", url)
	}
	return text, nil
}
