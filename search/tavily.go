package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexcodex/researchbot/framework"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey string
	// Depth is Tavily's search_depth, basic or advanced.
	Depth      string
	MaxResults int
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Backoff is the first wait after a 429 response.
	Backoff time.Duration
	client  *http.Client
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey, depth string, maxResults int) *Tavily {
	return NewTavilyWithClient(apiKey, depth, maxResults, &http.Client{Timeout: 15 * time.Second})
}

// NewTavilyWithClient constructs a Tavily provider using the supplied HTTP client.
func NewTavilyWithClient(apiKey, depth string, maxResults int, client *http.Client) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tavily{APIKey: apiKey, Depth: depth, MaxResults: maxResults, client: client}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string) ([]framework.SearchResult, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: api key is missing")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("tavily: query is empty")
	}
	payload, err := json.Marshal(tavilyRequest{
		APIKey:      t.APIKey,
		Query:       query,
		SearchDepth: t.Depth,
		MaxResults:  t.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	endpoint := t.BaseURL
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}

	resp, err := doWithBackoff(ctx, t.httpClient(), t.Backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}
	results := make([]framework.SearchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, framework.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= t.MaxResults {
			break
		}
	}
	return results, nil
}

func (t *Tavily) httpClient() *http.Client {
	if t.client == nil {
		return defaultClient
	}
	return t.client
}
