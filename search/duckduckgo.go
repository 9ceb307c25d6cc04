package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/lexcodex/researchbot/framework"
)

const (
	duckDuckGoLiteEndpoint = "https://lite.duckduckgo.com/lite/"
	userAgent              = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// DuckDuckGo scrapes DuckDuckGo's lite HTML interface. Requests from one
// instance are spaced at least MinInterval apart.
type DuckDuckGo struct {
	MaxResults  int
	MinInterval time.Duration
	// BaseURL overrides the lite endpoint.
	BaseURL string
	Backoff time.Duration
	client  *http.Client

	mu   sync.Mutex
	last time.Time
}

// NewDuckDuckGo creates a searcher limited to one query per second.
func NewDuckDuckGo(maxResults int) *DuckDuckGo {
	return NewDuckDuckGoWithClient(maxResults, &http.Client{Timeout: 15 * time.Second})
}

// NewDuckDuckGoWithClient creates a searcher using the supplied HTTP client.
func NewDuckDuckGoWithClient(maxResults int, client *http.Client) *DuckDuckGo {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &DuckDuckGo{MaxResults: maxResults, MinInterval: time.Second, client: client}
}

// Search posts the query to the lite page and parses the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]framework.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("duckduckgo: query is empty")
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	endpoint := d.BaseURL
	if endpoint == "" {
		endpoint = duckDuckGoLiteEndpoint
	}
	form := url.Values{}
	form.Set("q", query)
	encoded := form.Encode()

	resp, err := doWithBackoff(ctx, d.httpClient(), d.Backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}
	results, err := parseLiteResults(io.LimitReader(resp.Body, 2<<20), d.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	return results, nil
}

// wait blocks until MinInterval has passed since the previous request.
func (d *DuckDuckGo) wait(ctx context.Context) error {
	d.mu.Lock()
	next := d.last.Add(d.MinInterval)
	now := time.Now()
	if next.Before(now) {
		next = now
	}
	d.last = next
	d.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *DuckDuckGo) httpClient() *http.Client {
	if d.client == nil {
		return defaultClient
	}
	return d.client
}

// parseLiteResults walks the lite result table. Each a.result-link opens a
// result; the next td.result-snippet fills its snippet.
func parseLiteResults(r io.Reader, limit int) ([]framework.SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var results []framework.SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				href := resolveRedirect(attr(n, "href"))
				title := textContent(n)
				if href != "" && title != "" {
					results = append(results, framework.SearchResult{Title: title, URL: href})
				}
				return
			case n.Data == "td" && hasClass(n, "result-snippet"):
				if last := len(results) - 1; last >= 0 && results[last].Snippet == "" {
					results[last].Snippet = textContent(n)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's //duckduckgo.com/l/?uddg= links.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasSuffix(u.Host, "duckduckgo.com") {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
