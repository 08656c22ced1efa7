// Package synth obtains reference answers for a batch of questions from
// several independent backends and reconciles them by similarity voting.
//
// Every backend receives the whole batch concurrently. After all of them
// finish (or fail, or time out) each question is reconciled on its own:
// the most similar pair of answers at or above the agreement threshold
// wins, otherwise a combine backend merges the raw answers.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/grader/internal/config"
	"github.com/jackzampolin/grader/internal/llmcall"
	"github.com/jackzampolin/grader/internal/prompts"
	"github.com/jackzampolin/grader/internal/prompts/answer"
	"github.com/jackzampolin/grader/internal/prompts/combine"
	"github.com/jackzampolin/grader/internal/prompts/grammar"
	"github.com/jackzampolin/grader/internal/providers"
)

var (
	// ErrSynthesis marks a question for which no reference answer exists.
	ErrSynthesis = errors.New("no reference answer")

	// ErrNoBackends is the cause of a SynthesisError when none of the
	// configured answer backends could be resolved.
	ErrNoBackends = errors.New("no answer backend available")
)

// SynthesisError reports a question where every backend and the combiner failed.
type SynthesisError struct {
	Index    int
	Question string
	Cause    error // combiner error, if any
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("question %d: all backends and combiner failed: %v", e.Index, e.Cause)
	}
	return fmt.Sprintf("question %d: all backends and combiner failed", e.Index)
}

func (e *SynthesisError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSynthesis}
	}
	return []error{ErrSynthesis, e.Cause}
}

// Similarity scores two answers. *similarity.Scorer satisfies it.
type Similarity interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Backend is a named answer backend. Order in Config.Backends is priority order.
type Backend struct {
	Name   string
	Client providers.LLMClient
}

// Source says how a reference answer was chosen.
type Source string

const (
	SourceConsensus Source = "consensus"
	SourceCombined  Source = "combined"
	SourceFallback  Source = "fallback"
)

// AnswerSet maps backend name to its answers, aligned with the question list.
// Every entry has exactly one answer per question; failed backends hold "".
type AnswerSet map[string][]string

// Reference is the reconciled answer for one question.
type Reference struct {
	Index    int      `json:"index" yaml:"index"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Source   Source   `json:"source,omitempty" yaml:"source,omitempty"`
	Score    float64  `json:"agreement,omitempty" yaml:"agreement,omitempty"`
	Backends []string `json:"backends,omitempty" yaml:"backends,omitempty"`
}

// OK reports whether a reference answer was produced.
func (r Reference) OK() bool { return r.Source != "" }

// Synthesis is the outcome of one batch.
type Synthesis struct {
	Answers       AnswerSet
	References    []Reference // one per question, in question order
	BackendErrors []error     // *providers.BackendCallError or *providers.BackendTimeoutError
	Errors        []*SynthesisError
}

// Config configures a Synthesizer.
type Config struct {
	Backends []Backend

	// Combiner merges disagreeing answers. CombinerName labels its calls.
	Combiner     providers.LLMClient
	CombinerName string

	Scorer Similarity

	AgreementThreshold float64       // default config.DefaultAgreementThreshold
	BackendTimeout     time.Duration // per backend call, default 60s
	MaxTokens          int           // per backend call, default 1024

	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder
	RunID    string
	Logger   *slog.Logger
}

// Synthesizer produces reference answers. Build one per grading run.
type Synthesizer struct {
	backends     []Backend
	combiner     providers.LLMClient
	combinerName string
	scorer       Similarity
	threshold    float64
	timeout      time.Duration
	maxTokens    int
	prompts      *prompts.Resolver
	recorder     *llmcall.Recorder
	runID        string
	logger       *slog.Logger
}

// RegisterPrompts registers every prompt this package renders.
func RegisterPrompts(r *prompts.Resolver) {
	answer.RegisterPrompts(r)
	combine.RegisterPrompts(r)
	grammar.RegisterPrompts(r)
}

// New creates a Synthesizer.
func New(cfg Config) (*Synthesizer, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("synth: at least one backend is required")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("synth: a similarity scorer is required")
	}
	seen := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Client == nil {
			return nil, fmt.Errorf("synth: backend %q has no client", b.Name)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("synth: duplicate backend %q", b.Name)
		}
		seen[b.Name] = true
	}

	if cfg.AgreementThreshold == 0 {
		cfg.AgreementThreshold = config.DefaultAgreementThreshold
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.CombinerName == "" && cfg.Combiner != nil {
		cfg.CombinerName = cfg.Combiner.Name()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver("", cfg.Logger)
	}
	RegisterPrompts(cfg.Prompts)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Synthesizer{
		backends:     cfg.Backends,
		combiner:     cfg.Combiner,
		combinerName: cfg.CombinerName,
		scorer:       cfg.Scorer,
		threshold:    cfg.AgreementThreshold,
		timeout:      cfg.BackendTimeout,
		maxTokens:    cfg.MaxTokens,
		prompts:      cfg.Prompts,
		recorder:     cfg.Recorder,
		runID:        cfg.RunID,
		logger:       cfg.Logger,
	}, nil
}

// Synthesize returns one reference per question. Per-backend and
// per-question failures are reported in the Synthesis; only cancellation of
// ctx returns an error.
func (s *Synthesizer) Synthesize(ctx context.Context, questions []string) (*Synthesis, error) {
	out := &Synthesis{Answers: make(AnswerSet, len(s.backends))}
	if len(questions) == 0 {
		for _, b := range s.backends {
			out.Answers[b.Name] = []string{}
		}
		return out, nil
	}

	prompt, err := s.prompts.Render(answer.PromptKey, answer.NewData(questions))
	if err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}

	columns, backendErrs := s.dispatch(ctx, prompt, len(questions))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, b := range s.backends {
		out.Answers[b.Name] = columns[i]
		if backendErrs[i] != nil {
			out.BackendErrors = append(out.BackendErrors, backendErrs[i])
		}
	}

	out.References = make([]Reference, len(questions))
	for i, q := range questions {
		answers := make([]string, len(s.backends))
		for b := range s.backends {
			answers[b] = columns[b][i]
		}

		ref, synthErr := s.reconcile(ctx, i, q, answers)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.References[i] = ref
		if synthErr != nil {
			s.logger.Warn("no reference answer", "question", i, "error", synthErr)
			out.Errors = append(out.Errors, synthErr)
		}
	}
	return out, nil
}

// dispatch sends prompt to every backend at once through a pool sized to the
// backend count and waits for all of them. Each goroutine writes only its own
// slot. A failed backend yields n empty answers and an error in its slot.
func (s *Synthesizer) dispatch(ctx context.Context, prompt string, n int) ([][]string, []error) {
	columns := make([][]string, len(s.backends))
	errs := make([]error, len(s.backends))

	var g errgroup.Group
	g.SetLimit(len(s.backends))
	for i, b := range s.backends {
		g.Go(func() error {
			columns[i], errs[i] = s.ask(ctx, b, prompt, n)
			return nil
		})
	}
	_ = g.Wait()
	return columns, errs
}

func (s *Synthesizer) ask(ctx context.Context, b Backend, prompt string, n int) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.recorder.Chat(callCtx, b.Client, &providers.ChatRequest{
		Messages:  []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens: s.maxTokens,
	}, llmcall.RecordOptions{
		RunID:     s.runID,
		Stage:     "answer",
		Backend:   b.Name,
		PromptKey: answer.PromptKey,
	})
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			err = &providers.BackendTimeoutError{Backend: b.Name, Timeout: s.timeout}
		} else {
			err = providers.ClassifyBackendError(b.Name, s.timeout, err)
		}
		s.logger.Warn("answer backend failed", "backend", b.Name, "error", err)
		return make([]string, n), err
	}

	answers := ParseAnswers(result.Content, n)
	s.logger.Debug("answer backend done", "backend", b.Name, "duration", time.Since(start))
	return answers, nil
}

type pair struct {
	a, b  int
	score float64
}

// reconcile picks the reference for question i from its backend answers.
func (s *Synthesizer) reconcile(ctx context.Context, i int, question string, answers []string) (Reference, *SynthesisError) {
	ref := Reference{Index: i, Question: question}

	var best *pair
	for a := 0; a < len(answers); a++ {
		if answers[a] == "" {
			continue
		}
		for b := a + 1; b < len(answers); b++ {
			if answers[b] == "" {
				continue
			}
			score, err := s.scorer.Score(ctx, answers[a], answers[b])
			if err != nil {
				s.logger.Warn("similarity failed", "question", i,
					"a", s.backends[a].Name, "b", s.backends[b].Name, "error", err)
				continue
			}
			// Strictly greater: equal scores keep the earlier pair.
			if score >= s.threshold && (best == nil || score > best.score) {
				best = &pair{a: a, b: b, score: score}
			}
		}
	}
	if best != nil {
		ref.Answer = answers[best.a]
		ref.Source = SourceConsensus
		ref.Score = best.score
		ref.Backends = []string{s.backends[best.a].Name, s.backends[best.b].Name}
		return ref, nil
	}

	combined, err := s.combine(ctx, i, question, answers)
	if err == nil && combined != "" {
		ref.Answer = combined
		ref.Source = SourceCombined
		ref.Backends = []string{s.combinerName}
		return ref, nil
	}
	if err == nil {
		err = errors.New("combiner returned an empty answer")
	}
	s.logger.Warn("combine failed", "question", i, "error", err)

	for b, a := range answers {
		if a != "" {
			ref.Answer = a
			ref.Source = SourceFallback
			ref.Backends = []string{s.backends[b].Name}
			return ref, nil
		}
	}
	return ref, &SynthesisError{Index: i, Question: question, Cause: err}
}

// combine asks the combiner, once, to merge the raw answers for question i.
func (s *Synthesizer) combine(ctx context.Context, i int, question string, answers []string) (string, error) {
	if s.combiner == nil {
		return "", errors.New("no combiner configured")
	}

	data := combine.Data{Question: question}
	for b, a := range answers {
		if a != "" {
			data.Answers = append(data.Answers, combine.Answer{Backend: s.backends[b].Name, Text: a})
		}
	}
	prompt, err := s.prompts.Render(combine.PromptKey, data)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.recorder.Chat(callCtx, s.combiner, &providers.ChatRequest{
		Messages:  []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens: s.maxTokens,
	}, llmcall.RecordOptions{
		RunID:     s.runID,
		Stage:     "combine",
		Backend:   s.combinerName,
		PromptKey: combine.PromptKey,
	})
	if err != nil {
		return "", providers.ClassifyBackendError(s.combinerName, s.timeout, err)
	}
	s.logger.Debug("combined answers", "question", i, "inputs", len(data.Answers))
	return unquote(result.Content), nil
}
