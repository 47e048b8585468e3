// Package vocab snaps free-text answers onto a small canonical vocabulary
// by nearest-neighbor search over embeddings.
package vocab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"review-insights-go/internal/types"
)

// Canonical purchase-method terms. Order is the tie-break order.
const (
	TermPurchase     = "구매"
	TermRental       = "렌탈"
	TermSubscription = "구독"
	TermUnknown      = "모름"
)

// PurchaseMethods is the fixed vocabulary for the purchase_method field.
var PurchaseMethods = []string{TermPurchase, TermRental, TermSubscription, TermUnknown}

// ErrEmptyText is returned for blank input; nothing is sent to the embedding service.
var ErrEmptyText = errors.New("vocab: empty text")

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type entry struct {
	term   string
	vector []float32
}

// Matcher holds one cached vector per canonical term. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	embedder Embedder
	cache    []entry
}

// NewMatcher embeds every term once. Duplicate or blank terms are rejected.
func NewMatcher(ctx context.Context, embedder Embedder, terms []string) (*Matcher, error) {
	if len(terms) == 0 {
		return nil, errors.New("vocab: no terms")
	}
	seen := make(map[string]struct{}, len(terms))
	cache := make([]entry, 0, len(terms))
	for _, term := range terms {
		if strings.TrimSpace(term) == "" {
			return nil, errors.New("vocab: blank term")
		}
		if _, ok := seen[term]; ok {
			return nil, fmt.Errorf("vocab: duplicate term %q", term)
		}
		seen[term] = struct{}{}

		vec, err := embedder.Embed(ctx, term)
		if err != nil {
			return nil, types.NewServiceError("embedding", "cache "+term, err)
		}
		if len(vec) == 0 {
			return nil, types.NewServiceError("embedding", "cache "+term, errors.New("empty vector"))
		}
		cache = append(cache, entry{term: term, vector: vec})
	}
	return &Matcher{embedder: embedder, cache: cache}, nil
}

// Terms returns the canonical terms in cache order.
func (m *Matcher) Terms() []string {
	out := make([]string, len(m.cache))
	for i, e := range m.cache {
		out[i] = e.term
	}
	return out
}

// Match returns the cached term most similar to text. The input itself is
// embedded on every call; ties go to the earliest term.
func (m *Matcher) Match(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return "", types.NewServiceError("embedding", "match", err)
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, e := range m.cache {
		if s := CosineSimilarity(vec, e.vector); s > bestScore {
			best, bestScore = i, s
		}
	}
	return m.cache[best].term, nil
}

// CosineSimilarity returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
