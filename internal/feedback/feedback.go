// Package feedback asks one chosen backend for a student-facing narrative
// about a graded test, and tags questions with topics.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/grader/internal/grading"
	"github.com/jackzampolin/grader/internal/llmcall"
	"github.com/jackzampolin/grader/internal/prompts"
	feedbackprompt "github.com/jackzampolin/grader/internal/prompts/feedback"
	"github.com/jackzampolin/grader/internal/prompts/topics"
	"github.com/jackzampolin/grader/internal/providers"
)

const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// ErrFeedbackGeneration marks a failed feedback request. It is terminal.
var ErrFeedbackGeneration = errors.New("feedback generation failed")

// GenerationError reports why feedback could not be produced.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("feedback via %q: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{ErrFeedbackGeneration, e.Err} }

// Result is the feedback narrative plus topic buckets.
type Result struct {
	FeedbackText   string `json:"feedback" yaml:"feedback"`
	Backend        string `json:"feedback_backend" yaml:"feedback_backend"`
	grading.Topics `yaml:",inline"`
}

// Backends resolves a backend by name. *providers.Registry satisfies it.
type Backends interface {
	GetLLM(name string) (providers.LLMClient, error)
}

// Config configures a Generator.
type Config struct {
	Backends       Backends
	DefaultBackend string // used when the caller passes no model choice

	MaxTokens   int           // default 4096
	Temperature float64       // default 1.0
	MaxWords    int           // narrative bound given to the backend
	Timeout     time.Duration // per call, default 5m

	// DisableTopics skips the topic tagging call.
	DisableTopics bool

	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder
	RunID    string
	Logger   *slog.Logger
}

// Generator produces feedback for graded records.
type Generator struct {
	backends       Backends
	defaultBackend string
	maxTokens      int
	temperature    float64
	maxWords       int
	timeout        time.Duration
	disableTopics  bool
	prompts        *prompts.Resolver
	recorder       *llmcall.Recorder
	runID          string
	logger         *slog.Logger
}

// RegisterPrompts registers every prompt this package renders.
func RegisterPrompts(r *prompts.Resolver) {
	feedbackprompt.RegisterPrompts(r)
	topics.RegisterPrompts(r)
}

// New creates a Generator.
func New(cfg Config) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = feedbackprompt.DefaultMaxWords
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver("", cfg.Logger)
	}
	RegisterPrompts(cfg.Prompts)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		backends:       cfg.Backends,
		defaultBackend: cfg.DefaultBackend,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		maxWords:       cfg.MaxWords,
		timeout:        cfg.Timeout,
		disableTopics:  cfg.DisableTopics,
		prompts:        cfg.Prompts,
		recorder:       cfg.Recorder,
		runID:          cfg.RunID,
		logger:         cfg.Logger,
	}
}

// Generate requests feedback from the backend named by modelChoice, or the
// default backend when modelChoice is empty. Any failure of the feedback
// call is returned as a *GenerationError; topic tagging failures are logged
// and leave the topic buckets empty.
func (g *Generator) Generate(ctx context.Context, modelChoice string, records []grading.Record) (*Result, error) {
	name := strings.TrimSpace(modelChoice)
	if name == "" {
		name = g.defaultBackend
	}
	fail := func(err error) (*Result, error) {
		return nil, &GenerationError{Backend: name, Err: err}
	}

	if name == "" {
		return fail(errors.New("no model choice and no default feedback backend"))
	}
	if g.backends == nil {
		return fail(errors.New("no backends configured"))
	}
	client, err := g.backends.GetLLM(name)
	if err != nil {
		return fail(err)
	}

	prompt, err := g.prompts.Render(feedbackprompt.PromptKey, BuildPromptData(records, g.maxWords))
	if err != nil {
		return fail(err)
	}

	text, err := g.call(ctx, client, name, "feedback", feedbackprompt.PromptKey, prompt, g.maxTokens)
	if err != nil {
		return fail(err)
	}
	if text == "" {
		return fail(errors.New("backend returned empty feedback"))
	}

	result := &Result{FeedbackText: text, Backend: name}
	if !g.disableTopics && len(records) > 0 {
		wrong, correct, err := g.tagTopics(ctx, client, name, records)
		if err != nil {
			g.logger.Warn("topic tagging failed", "backend", name, "error", err)
		} else {
			result.Topics = grading.BucketTopics(wrong, correct)
		}
	}
	return result, nil
}

// BuildPromptData numbers incorrect and correct records for the feedback
// prompt. Incorrect records come first.
func BuildPromptData(records []grading.Record, maxWords int) feedbackprompt.Data {
	correct, incorrect := grading.Split(records)
	return feedbackprompt.Data{
		Incorrect: triples(incorrect),
		Correct:   triples(correct),
		MaxWords:  maxWords,
	}
}

func triples(records []grading.Record) []feedbackprompt.Triple {
	out := make([]feedbackprompt.Triple, len(records))
	for i, r := range records {
		out[i] = feedbackprompt.Triple{
			Number:          i + 1,
			Question:        r.Question,
			StudentAnswer:   r.StudentAnswer,
			ReferenceAnswer: r.ReferenceAnswer,
		}
	}
	return out
}

// tagTopics asks for one topic per record and splits them by verdict.
func (g *Generator) tagTopics(ctx context.Context, client providers.LLMClient, name string, records []grading.Record) (wrong, correct []string, err error) {
	questions := make([]string, len(records))
	for i, r := range records {
		questions[i] = r.Question
	}
	prompt, err := g.prompts.Render(topics.PromptKey, topics.NewData(questions))
	if err != nil {
		return nil, nil, err
	}

	content, err := g.call(ctx, client, name, "topics", topics.PromptKey, prompt, 1024)
	if err != nil {
		return nil, nil, err
	}
	raw, err := providers.ParseJSON(content)
	if err != nil {
		return nil, nil, err
	}
	if err := providers.ValidateJSON(topics.Schema, raw); err != nil {
		return nil, nil, err
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, nil, err
	}
	if len(tags) != len(records) {
		return nil, nil, fmt.Errorf("got %d topics for %d questions", len(tags), len(records))
	}

	for i, r := range records {
		tag := strings.TrimSpace(tags[i])
		if r.Verdict == grading.Correct {
			correct = append(correct, tag)
		} else {
			wrong = append(wrong, tag)
		}
	}
	return wrong, correct, nil
}

func (g *Generator) call(ctx context.Context, client providers.LLMClient, name, stage, key, prompt string, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.recorder.Chat(callCtx, client, &providers.ChatRequest{
		Messages:    []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: g.temperature,
	}, llmcall.RecordOptions{
		RunID:     g.runID,
		Stage:     stage,
		Backend:   name,
		PromptKey: key,
	})
	if err != nil {
		return "", providers.ClassifyBackendError(name, g.timeout, err)
	}
	return strings.TrimSpace(result.Content), nil
}
