package synth_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/grader/internal/providers"
	"github.com/jackzampolin/grader/internal/similarity"
	"github.com/jackzampolin/grader/internal/synth"
)

// answering returns a mock backend that replies with answers as a JSON array.
func answering(answers ...string) *providers.MockClient {
	c := providers.NewMockClient()
	c.Respond = func(*providers.ChatRequest) (string, error) {
		b, err := json.Marshal(answers)
		return string(b), err
	}
	return c
}

func backends(clients ...providers.LLMClient) []synth.Backend {
	out := make([]synth.Backend, len(clients))
	for i, c := range clients {
		out[i] = synth.Backend{Name: fmt.Sprintf("model-%d", i+1), Client: c}
	}
	return out
}

// embedder pins vectors so pairwise cosine scores are known exactly.
func embedder(vectors map[string][]float64) *providers.MockEmbedder {
	e := providers.NewMockEmbedder()
	for k, v := range vectors {
		e.Vectors[k] = v
	}
	return e
}

func newSynth(t *testing.T, cfg synth.Config) *synth.Synthesizer {
	t.Helper()
	s, err := synth.New(cfg)
	require.NoError(t, err)
	return s
}

func TestSynthesize_Consensus(t *testing.T) {
	// cos(A,B) = 0.9, C is orthogonal to both.
	emb := embedder(map[string][]float64{
		"Paris":             {1, 0, 0},
		"Paris, France":     {0.9, math.Sqrt(1 - 0.81), 0},
		"Lyon is a big one": {0, 0, 1},
	})
	combiner := providers.NewMockClient()
	combiner.ResponseText = "combined"

	s := newSynth(t, synth.Config{
		Backends: backends(answering("Paris"), answering("Paris, France"), answering("Lyon is a big one")),
		Combiner: combiner,
		Scorer:   similarity.NewScorer(emb),
	})

	out, err := s.Synthesize(context.Background(), []string{"What is the capital of France?"})
	require.NoError(t, err)
	require.Len(t, out.References, 1)

	ref := out.References[0]
	assert.Equal(t, "Paris", ref.Answer)
	assert.Equal(t, synth.SourceConsensus, ref.Source)
	assert.InDelta(t, 0.9, ref.Score, 1e-9)
	assert.Equal(t, []string{"model-1", "model-2"}, ref.Backends)
	assert.EqualValues(t, 0, combiner.RequestCount())
	assert.Empty(t, out.Errors)
}

func TestSynthesize_ConsensusPriority(t *testing.T) {
	// The agreeing pair is backends 2 and 3; the higher-priority member wins.
	emb := embedder(map[string][]float64{
		"x":  {1, 0},
		"y1": {0, 1},
		"y2": {0, 1},
	})
	s := newSynth(t, synth.Config{
		Backends: backends(answering("x"), answering("y1"), answering("y2")),
		Scorer:   similarity.NewScorer(emb),
	})
	out, err := s.Synthesize(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, "y1", out.References[0].Answer)
	assert.Equal(t, []string{"model-2", "model-3"}, out.References[0].Backends)
}

func TestSynthesize_HighestPairWins(t *testing.T) {
	// AB = 0.8, BC = 0.95: BC wins although AB clears the threshold first.
	b := []float64{1, 0}
	a := []float64{0.8, 0.6}
	c := []float64{0.95, math.Sqrt(1 - 0.95*0.95)}
	emb := embedder(map[string][]float64{"a": a, "b": b, "c": c})

	s := newSynth(t, synth.Config{
		Backends: backends(answering("a"), answering("b"), answering("c")),
		Scorer:   similarity.NewScorer(emb),
	})
	out, err := s.Synthesize(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, "b", out.References[0].Answer)
	assert.Equal(t, []string{"model-2", "model-3"}, out.References[0].Backends)
}

func TestSynthesize_CombineFallback(t *testing.T) {
	emb := embedder(map[string][]float64{
		"a1": {1, 0, 0}, "b1": {0, 1, 0}, "c1": {0, 0, 1},
		"a2": {1, 0, 0}, "b2": {0, 1, 0}, "c2": {0, 0, 1},
	})
	combiner := providers.NewMockClient()
	combiner.Respond = func(req *providers.ChatRequest) (string, error) {
		p := req.Messages[0].Content
		if strings.Contains(p, "second?") {
			return "combined-2", nil
		}
		return "combined-1", nil
	}

	s := newSynth(t, synth.Config{
		Backends: backends(answering("a1", "a2"), answering("b1", "b2"), answering("c1", "c2")),
		Combiner: combiner,
		Scorer:   similarity.NewScorer(emb),
	})

	out, err := s.Synthesize(context.Background(), []string{"first?", "second?"})
	require.NoError(t, err)
	require.Len(t, out.References, 2)

	assert.Equal(t, "combined-1", out.References[0].Answer)
	assert.Equal(t, "combined-2", out.References[1].Answer)
	for _, ref := range out.References {
		assert.Equal(t, synth.SourceCombined, ref.Source)
	}
	// Exactly one combine call per question.
	assert.EqualValues(t, 2, combiner.RequestCount())

	prompt := combiner.Requests()[0].Messages[0].Content
	for _, want := range []string{"a1", "b1", "c1", "first?"} {
		assert.Contains(t, prompt, want)
	}
}

func TestSynthesize_BackendFailureIsPadded(t *testing.T) {
	failing := providers.NewMockClient()
	failing.ShouldFail = true

	s := newSynth(t, synth.Config{
		Backends: backends(failing, answering("4", "H2O"), answering("4", "H2O")),
		Scorer:   similarity.NewScorer(providers.NewMockEmbedder()),
	})

	out, err := s.Synthesize(context.Background(), []string{"2+2?", "water?"})
	require.NoError(t, err)

	assert.Equal(t, []string{"", ""}, out.Answers["model-1"])
	assert.Equal(t, []string{"4", "H2O"}, out.Answers["model-2"])
	require.Len(t, out.BackendErrors, 1)
	assert.ErrorIs(t, out.BackendErrors[0], providers.ErrBackendCall)

	var callErr *providers.BackendCallError
	require.ErrorAs(t, out.BackendErrors[0], &callErr)
	assert.Equal(t, "model-1", callErr.Backend)

	assert.Equal(t, "4", out.References[0].Answer)
	assert.Equal(t, "H2O", out.References[1].Answer)
}

func TestSynthesize_BackendTimeout(t *testing.T) {
	slow := answering("late")
	slow.Latency = 2 * time.Second

	s := newSynth(t, synth.Config{
		Backends:       backends(slow, answering("4"), answering("4")),
		Scorer:         similarity.NewScorer(providers.NewMockEmbedder()),
		BackendTimeout: 50 * time.Millisecond,
	})

	out, err := s.Synthesize(context.Background(), []string{"2+2?"})
	require.NoError(t, err)
	require.Len(t, out.BackendErrors, 1)
	assert.ErrorIs(t, out.BackendErrors[0], providers.ErrBackendTimeout)
	assert.Equal(t, []string{""}, out.Answers["model-1"])
	assert.Equal(t, "4", out.References[0].Answer)
}

func TestSynthesize_AllFailed(t *testing.T) {
	fail := func() *providers.MockClient {
		c := providers.NewMockClient()
		c.ShouldFail = true
		return c
	}
	s := newSynth(t, synth.Config{
		Backends: backends(fail(), fail(), fail()),
		Combiner: fail(),
		Scorer:   similarity.NewScorer(providers.NewMockEmbedder()),
	})

	out, err := s.Synthesize(context.Background(), []string{"q0", "q1"})
	require.NoError(t, err)
	require.Len(t, out.Errors, 2)
	assert.Len(t, out.BackendErrors, 3)

	for i, e := range out.Errors {
		assert.ErrorIs(t, e, synth.ErrSynthesis)
		assert.Equal(t, i, e.Index)
		assert.False(t, out.References[i].OK())
		assert.Empty(t, out.References[i].Answer)
	}
}

func TestSynthesize_CombinerFailsUsesPriorityAnswer(t *testing.T) {
	failingCombiner := providers.NewMockClient()
	failingCombiner.ShouldFail = true
	failing := providers.NewMockClient()
	failing.ShouldFail = true

	emb := embedder(map[string][]float64{"b": {1, 0}, "c": {0, 1}})
	s := newSynth(t, synth.Config{
		Backends: backends(failing, answering("b"), answering("c")),
		Combiner: failingCombiner,
		Scorer:   similarity.NewScorer(emb),
	})

	out, err := s.Synthesize(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, "b", out.References[0].Answer)
	assert.Equal(t, synth.SourceFallback, out.References[0].Source)
	assert.Empty(t, out.Errors)
}

func TestSynthesize_FreeTextAnswer(t *testing.T) {
	free := func() *providers.MockClient {
		c := providers.NewMockClient()
		c.ResponseText = "Jupiter"
		return c
	}
	s := newSynth(t, synth.Config{
		Backends: backends(free(), free(), free()),
		Scorer:   similarity.NewScorer(providers.NewMockEmbedder()),
	})
	out, err := s.Synthesize(context.Background(), []string{"Largest planet?"})
	require.NoError(t, err)
	assert.Equal(t, "Jupiter", out.References[0].Answer)
	assert.Equal(t, synth.SourceConsensus, out.References[0].Source)
}

func TestSynthesize_BackendsRunConcurrently(t *testing.T) {
	const n = 3
	var arrived sync.WaitGroup
	arrived.Add(n)

	barrier := func() *providers.MockClient {
		c := providers.NewMockClient()
		c.Respond = func(*providers.ChatRequest) (string, error) {
			arrived.Done()
			done := make(chan struct{})
			go func() { arrived.Wait(); close(done) }()
			select {
			case <-done:
				return `["ok"]`, nil
			case <-time.After(5 * time.Second):
				return "", errors.New("backends were not dispatched concurrently")
			}
		}
		return c
	}

	s := newSynth(t, synth.Config{
		Backends: backends(barrier(), barrier(), barrier()),
		Scorer:   similarity.NewScorer(providers.NewMockEmbedder()),
	})
	out, err := s.Synthesize(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Empty(t, out.BackendErrors)
	assert.Equal(t, "ok", out.References[0].Answer)
}

func TestSynthesize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newSynth(t, synth.Config{
		Backends: backends(answering("a"), answering("a")),
		Scorer:   similarity.NewScorer(providers.NewMockEmbedder()),
	})
	_, err := s.Synthesize(ctx, []string{"q"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesize_NoQuestions(t *testing.T) {
	c := answering("a")
	s := newSynth(t, synth.Config{
		Backends: backends(c),
		Scorer:   similarity.NewScorer(providers.NewMockEmbedder()),
	})
	out, err := s.Synthesize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.References)
	assert.Equal(t, []string{}, out.Answers["model-1"])
	assert.EqualValues(t, 0, c.RequestCount())
}

func TestNew_Validation(t *testing.T) {
	scorer := similarity.NewScorer(providers.NewMockEmbedder())
	_, err := synth.New(synth.Config{Scorer: scorer})
	assert.Error(t, err, "no backends")

	_, err = synth.New(synth.Config{Backends: backends(answering("a"))})
	assert.Error(t, err, "no scorer")

	dup := []synth.Backend{{Name: "x", Client: answering("a")}, {Name: "x", Client: answering("b")}}
	_, err = synth.New(synth.Config{Backends: dup, Scorer: scorer})
	assert.Error(t, err, "duplicate names")
}

func TestParseAnswers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"array", `["Paris", "H2O"]`, 2, []string{"Paris", "H2O"}},
		{"fenced array", "```json\n[\"Paris\", \"H2O\"]\n```", 2, []string{"Paris", "H2O"}},
		{"padded", `["Paris"]`, 3, []string{"Paris", "", ""}},
		{"truncated", `["a", "b", "c"]`, 2, []string{"a", "b"}},
		{"non-string items", `[3.14, null, "x", true]`, 4, []string{"3.14", "", "x", "true"}},
		{"free text", "The capital is Paris.", 2, []string{"The capital is Paris.", ""}},
		{"quoted free text", `"Paris"`, 1, []string{"Paris"}},
		{"broken array is free text", `[Paris, H2O`, 1, []string{"[Paris, H2O"}},
		{"empty", "   ", 2, []string{"", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, synth.ParseAnswers(tt.content, tt.n))
		})
	}
}
