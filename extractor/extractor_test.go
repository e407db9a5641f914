package extractor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/newsprism/newsprism/testutils"
)

func serveHTML(t *testing.T, html string) *Extractor {
	t.Helper()
	rt := testutils.NewRoundTripper(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader(html)),
			Header:     http.Header{"Content-Type": []string{"text/html"}},
		}, nil
	})
	return &Extractor{Client: &http.Client{Transport: rt}}
}

func TestArticleTextStripsChrome(t *testing.T) {
	article := strings.Repeat("word ", 60)
	html := `<html><head><script>var tracking = true;</script></head><body>
		<nav>Home News About</nav>
		<header>Site header</header>
		<article><p>` + article + `</p></article>
		<footer>Copyright</footer>
		<script>more();</script>
	</body></html>`

	e := serveHTML(t, html)
	text, err := e.ArticleText(context.Background(), "http://example.com/post")
	if err != nil {
		t.Fatalf("ArticleText failed: %s", err)
	}
	for _, chrome := range []string{"tracking", "Site header", "Copyright", "more();", "Home News About"} {
		if strings.Contains(text, chrome) {
			t.Errorf("extracted text contains %q", chrome)
		}
	}
	if !strings.Contains(text, "word word word") {
		t.Errorf("extracted text lost the article body: %q", text)
	}
}

func TestArticleTextRejectsThinPages(t *testing.T) {
	e := serveHTML(t, `<html><body><p>Too short.</p></body></html>`)
	if _, err := e.ArticleText(context.Background(), "http://example.com/post"); err == nil {
		t.Error("expected an error for a page with too little text")
	}
}

func TestArticleTextRejectsHTTPErrors(t *testing.T) {
	rt := testutils.NewRoundTripper(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 404,
			Body:       io.NopCloser(strings.NewReader("not found")),
			Header:     http.Header{},
		}, nil
	})
	e := &Extractor{Client: &http.Client{Transport: rt}}
	if _, err := e.ArticleText(context.Background(), "http://example.com/gone"); err == nil {
		t.Error("expected an error for a 404 response")
	}
}
