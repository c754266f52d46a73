// Package reader retrieves the readable text of an article URL.
//
// The primary path goes through a reader proxy (Jina) that returns plain
// text. When the proxy fails, the page is fetched directly and run through
// readability extraction; as a last resort the HTML title and description
// are used. Fetch never returns an error: failure is signaled through the
// success flag and the orchestrator falls back to title-only content.
package reader

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	truncationMarker = "..."
	maxBodyBytes     = 5 * 1024 * 1024
	limiterBurst     = 3
	defaultRPS       = 2
)

// Fetcher retrieves article content with a character cap.
type Fetcher struct {
	proxyBaseURL string
	client       *http.Client
	limiter      *rate.Limiter
	logger       *zerolog.Logger
}

// New creates a Fetcher. proxyBaseURL is the reader proxy root
// (e.g. https://r.jina.ai); the article URL is appended as a path.
func New(proxyBaseURL string, timeout time.Duration, logger *zerolog.Logger) *Fetcher {
	return &Fetcher{
		proxyBaseURL: strings.TrimSuffix(proxyBaseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(defaultRPS), limiterBurst),
		logger:       logger,
	}
}

// Fetch returns up to maxChars of readable text for the URL and whether any
// content was retrieved. It never returns an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (string, bool) {
	if content, ok := f.fetchViaProxy(ctx, rawURL, maxChars); ok {
		return content, true
	}

	if content, ok := f.fetchDirect(ctx, rawURL, maxChars); ok {
		return content, true
	}

	return "", false
}

func (f *Fetcher) fetchViaProxy(ctx context.Context, rawURL string, maxChars int) (string, bool) {
	body, ok := f.get(ctx, f.proxyBaseURL+"/"+rawURL, "text/plain")
	if !ok {
		return "", false
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", false
	}

	return Truncate(text, maxChars), true
}

func (f *Fetcher) fetchDirect(ctx context.Context, rawURL string, maxChars int) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	body, ok := f.get(ctx, rawURL, "text/html,application/xhtml+xml")
	if !ok {
		return "", false
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if text != "" {
			return Truncate(text, maxChars), true
		}
	}

	// Readability found no article body; settle for title + description.
	if meta := extractMetaText(body); meta != "" {
		return Truncate(meta, maxChars), true
	}

	return "", false
}

func (f *Fetcher) get(ctx context.Context, fetchURL, accept string) ([]byte, bool) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, false
	}

	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug().Err(err).Str("url", fetchURL).Msg("content fetch failed")

		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, false
	}

	return body, true
}

// Truncate caps text at maxChars runes, appending a marker when cut.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	return string(runes[:maxChars]) + truncationMarker
}

// extractMetaText pulls the <title> and meta description out of raw HTML.
func extractMetaText(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var title, description string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var name, content string

				for _, attr := range n.Attr {
					switch attr.Key {
					case "name", "property":
						name = attr.Val
					case "content":
						content = attr.Val
					}
				}

				if (name == "description" || name == "og:description") && description == "" {
					description = strings.TrimSpace(content)
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.TrimSpace(strings.Join([]string{title, description}, "\n"))
}
