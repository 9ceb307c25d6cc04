package persistence

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/lexcodex/researchbot/framework"
)

// Document is a piece of reference text available to retrieval.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// DocumentStore provides semantic recall by text similarity.
type DocumentStore interface {
	framework.SemanticStore
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
	Count() int
}

// InMemoryVectorStore implements a term-frequency cosine similarity store.
type InMemoryVectorStore struct {
	mu   sync.RWMutex
	data map[string]Document
	vecs map[string]map[string]float64
}

// NewInMemoryVectorStore returns a ready-to-use store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		data: make(map[string]Document),
		vecs: make(map[string]map[string]float64),
	}
}

// Upsert encodes and stores a document. The title is indexed with the body.
func (s *InMemoryVectorStore) Upsert(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return errors.New("document id required")
	}
	vector := embed(doc.Title + " " + doc.Content)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[doc.ID] = doc
	s.vecs[doc.ID] = vector
	return nil
}

// Query returns up to limit documents with a non-zero cosine similarity,
// best first. Equal scores are ordered by id.
func (s *InMemoryVectorStore) Query(ctx context.Context, query string, limit int) ([]framework.VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	qVec := embed(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []framework.VectorMatch
	for id, vec := range s.vecs {
		score := cosineSimilarity(qVec, vec)
		if score == 0 {
			continue
		}
		doc := s.data[id]
		matches = append(matches, framework.VectorMatch{
			ID:      id,
			Content: doc.Content,
			Metadata: map[string]any{
				"title":  doc.Title,
				"source": doc.Source,
			},
			Score: score,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes a document by id.
func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	delete(s.vecs, id)
	return nil
}

// Count reports the number of stored documents.
func (s *InMemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// embed lowercases text, splits on anything that is not a letter or digit
// and builds a term-frequency vector.
func embed(text string) map[string]float64 {
	vector := make(map[string]float64)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, token := range tokens {
		vector[token]++
	}
	return vector
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, weight := range a {
		dot += weight * b[term]
		normA += weight * weight
	}
	for _, weight := range b {
		normB += weight * weight
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
