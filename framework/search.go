package framework

import (
	"context"
	"fmt"
	"strings"
)

// SearchResult is one hit returned by a web search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is the port for web search. Implementations return results in
// relevance order; an empty slice with a nil error means nothing was found.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchFunc adapts a function into a Searcher.
type SearchFunc func(ctx context.Context, query string) ([]SearchResult, error)

// Search implements Searcher.
func (f SearchFunc) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return f(ctx, query)
}

// VectorMatch captures a semantic match returned by a vector store.
type VectorMatch struct {
	ID       string
	Content  string
	Metadata map[string]any
	Score    float64
}

// SemanticStore is the minimal interface required from a document store used
// for retrieval-augmented answers.
type SemanticStore interface {
	Query(ctx context.Context, query string, limit int) ([]VectorMatch, error)
}

// FormatMatches renders retrieved documents as a numbered context block.
func FormatMatches(matches []VectorMatch) string {
	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Document %d", i+1)
		if title, ok := m.Metadata["title"].(string); ok && title != "" {
			fmt.Fprintf(&b, " (%s)", title)
		}
		b.WriteString(":\n")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}
