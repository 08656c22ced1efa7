package similarity_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/grader/internal/providers"
	"github.com/jackzampolin/grader/internal/similarity"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 1}, []float64{-1, -1}, -1},
		{"scaled", []float64{1, 2}, []float64{2, 4}, 1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, similarity.Cosine(tt.a, tt.b), 1e-12)
		})
	}
}

func TestCosine_Symmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		a := make([]float64, 16)
		b := make([]float64, 16)
		for j := range a {
			a[j] = rng.NormFloat64()
			b[j] = rng.NormFloat64()
		}
		require.Equal(t, similarity.Cosine(a, b), similarity.Cosine(b, a))
	}
}

func TestScorer(t *testing.T) {
	ctx := context.Background()
	texts := []string{
		"The capital of France is Paris",
		"Paris",
		"Water is H2O",
		"",
		"Jupiter is the largest planet",
	}

	t.Run("symmetric and reflexive", func(t *testing.T) {
		s := similarity.NewScorer(providers.NewMockEmbedder())
		for _, a := range texts {
			for _, b := range texts {
				ab, err := s.Score(ctx, a, b)
				require.NoError(t, err)
				ba, err := s.Score(ctx, b, a)
				require.NoError(t, err)
				assert.Equal(t, ab, ba, "score(%q,%q)", a, b)
			}
			if a != "" {
				aa, err := s.Score(ctx, a, a)
				require.NoError(t, err)
				assert.InDelta(t, 1.0, aa, 1e-9)
			}
		}
	})

	t.Run("caches embeddings", func(t *testing.T) {
		emb := providers.NewMockEmbedder()
		s := similarity.NewScorer(emb)
		require.NoError(t, s.Prefetch(ctx, []string{"a", "b", "a"}))
		_, err := s.Score(ctx, "a", "b")
		require.NoError(t, err)
		assert.EqualValues(t, 1, emb.CallCount())
	})

	t.Run("embedder failure", func(t *testing.T) {
		emb := providers.NewMockEmbedder()
		emb.ShouldFail = true
		_, err := similarity.NewScorer(emb).Score(ctx, "a", "b")
		assert.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		emb := providers.NewMockEmbedder()
		emb.Vectors["short"] = []float64{1, 0}
		emb.Vectors["long"] = []float64{1, 0, 0}
		s := similarity.NewScorer(emb)

		_, err := s.Score(ctx, "short", "long")
		assert.ErrorIs(t, err, similarity.ErrDimensionMismatch)
		_, err = s.Score(ctx, "long", "short")
		assert.ErrorIs(t, err, similarity.ErrDimensionMismatch)
	})

	t.Run("fixed vectors", func(t *testing.T) {
		emb := providers.NewMockEmbedder()
		emb.Vectors["x"] = []float64{1, 0}
		emb.Vectors["y"] = []float64{0.8, 0.6}
		got, err := similarity.NewScorer(emb).Score(ctx, "x", "y")
		require.NoError(t, err)
		assert.InDelta(t, 0.8, got, 1e-12)
	})
}
