package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/rolerag/pkg/errs"
)

type FetcherConfig struct {
	RateLimit float64 // requests per second
	Timeout   time.Duration
	Client    *http.Client
}

// Fetcher downloads a page and reduces it to its main readable text.
type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Page is the extracted content of a fetched URL.
type Page struct {
	URL         string
	Title       string
	Content     string
	ContentType string
}

func NewFetcher(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Fetcher{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Page{}, errs.New(errs.CodeInvalidDocument, "url must be absolute http(s)", errs.Field("url", rawURL))
	}

	// Apply rate limiting
	if err := f.limiter.Wait(ctx); err != nil {
		return Page{}, errs.Wrap(err, errs.CodeInvalidDocument, "waiting for fetch slot", errs.Field("url", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Page{}, errs.Wrap(err, errs.CodeInvalidDocument, "building request", errs.Field("url", rawURL))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, errs.Wrap(err, errs.CodeInvalidDocument, "fetching url", errs.Field("url", rawURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, errs.Errorf(errs.CodeInvalidDocument, "received status code %d for URL: %s", resp.StatusCode, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, errs.Wrap(err, errs.CodeInvalidDocument, "parsing html", errs.Field("url", rawURL))
	}

	return Page{
		URL:         rawURL,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Content:     extractMainContent(doc),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.Join(strings.Fields(content), " ")
}
