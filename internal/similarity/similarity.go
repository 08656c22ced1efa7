// Package similarity scores semantic closeness of two texts as the cosine
// of their embeddings.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jackzampolin/grader/internal/providers"
)

// ErrDimensionMismatch is returned when two embeddings differ in length,
// as happens when cached vectors came from a different embedding model.
var ErrDimensionMismatch = errors.New("embedding dimensions differ")

// Scorer computes cosine similarity over embeddings from one Embedder.
// Embeddings are cached per Scorer, so a Scorer should live for one grading
// run and each distinct text is embedded once.
type Scorer struct {
	embedder providers.Embedder

	mu    sync.Mutex
	cache map[string][]float64
}

// NewScorer creates a Scorer backed by embedder.
func NewScorer(embedder providers.Embedder) *Scorer {
	return &Scorer{
		embedder: embedder,
		cache:    make(map[string][]float64),
	}
}

// Score returns cos(embed(a), embed(b)). It is symmetric in a and b.
func (s *Scorer) Score(ctx context.Context, a, b string) (float64, error) {
	vecs, err := s.vectors(ctx, a, b)
	if err != nil {
		return 0, err
	}
	if len(vecs[0]) != len(vecs[1]) {
		return 0, fmt.Errorf("%w: %d and %d", ErrDimensionMismatch, len(vecs[0]), len(vecs[1]))
	}
	return Cosine(vecs[0], vecs[1]), nil
}

// Prefetch embeds texts in a single batch and caches the results.
func (s *Scorer) Prefetch(ctx context.Context, texts []string) error {
	_, err := s.vectors(ctx, texts...)
	return err
}

func (s *Scorer) vectors(ctx context.Context, texts ...string) ([][]float64, error) {
	out := make([][]float64, len(texts))

	s.mu.Lock()
	var missing []string
	seen := make(map[string]bool)
	for i, t := range texts {
		if v, ok := s.cache[t]; ok {
			out[i] = v
		} else if !seen[t] {
			seen[t] = true
			missing = append(missing, t)
		}
	}
	s.mu.Unlock()

	if len(missing) > 0 {
		vecs, err := s.embedder.Embed(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(missing))
		}
		s.mu.Lock()
		for i, t := range missing {
			s.cache[t] = vecs[i]
		}
		for i, t := range texts {
			if out[i] == nil {
				out[i] = s.cache[t]
			}
		}
		s.mu.Unlock()
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b. A zero vector scores 0.
// Callers must pass vectors of equal length; only the common prefix is read.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
