package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/grader/internal/llmcall"
	"github.com/jackzampolin/grader/internal/prompts"
	"github.com/jackzampolin/grader/internal/prompts/grammar"
	"github.com/jackzampolin/grader/internal/providers"
)

// CorrectorConfig configures a Corrector.
type CorrectorConfig struct {
	Client providers.LLMClient // nil disables correction
	Name   string

	BatchSize int           // texts per call, default 25
	Timeout   time.Duration // per call, default 60s
	MaxTokens int           // per call, default 2048

	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder
	RunID    string
	Logger   *slog.Logger
}

// Corrector fixes OCR, spelling and grammar errors in recovered text.
// Correction is best effort: a failed batch keeps its original texts.
type Corrector struct {
	client    providers.LLMClient
	name      string
	batchSize int
	timeout   time.Duration
	maxTokens int
	prompts   *prompts.Resolver
	recorder  *llmcall.Recorder
	runID     string
	logger    *slog.Logger
}

// NewCorrector creates a Corrector.
func NewCorrector(cfg CorrectorConfig) *Corrector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Name == "" && cfg.Client != nil {
		cfg.Name = cfg.Client.Name()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver("", cfg.Logger)
	}
	grammar.RegisterPrompts(cfg.Prompts)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Corrector{
		client:    cfg.Client,
		name:      cfg.Name,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		maxTokens: cfg.MaxTokens,
		prompts:   cfg.Prompts,
		recorder:  cfg.Recorder,
		runID:     cfg.RunID,
		logger:    cfg.Logger,
	}
}

// Correct returns texts with corrections applied, in order and of the same
// length. The returned error reports batches that kept their originals.
func (c *Corrector) Correct(ctx context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	copy(out, texts)
	if c.client == nil || len(texts) == 0 {
		return out, nil
	}

	var failed []string
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		fixed, err := c.correctBatch(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Warn("grammar correction failed, keeping original text",
				"backend", c.name, "from", start, "to", end, "error", err)
			failed = append(failed, fmt.Sprintf("[%d,%d): %v", start, end, err))
			continue
		}
		copy(out[start:end], fixed)
	}
	if len(failed) > 0 {
		return out, fmt.Errorf("grammar correction: %s", strings.Join(failed, "; "))
	}
	return out, nil
}

func (c *Corrector) correctBatch(ctx context.Context, batch []string) ([]string, error) {
	prompt, err := c.prompts.Render(grammar.PromptKey, grammar.NewData(batch))
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.recorder.Chat(callCtx, c.client, &providers.ChatRequest{
		Messages:  []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	}, llmcall.RecordOptions{
		RunID:     c.runID,
		Stage:     "grammar",
		Backend:   c.name,
		PromptKey: grammar.PromptKey,
	})
	if err != nil {
		return nil, providers.ClassifyBackendError(c.name, c.timeout, err)
	}

	raw, err := providers.ParseJSON(result.Content)
	if err != nil {
		return nil, err
	}
	if err := providers.ValidateJSON(grammar.Schema, raw); err != nil {
		return nil, err
	}
	var fixed []string
	if err := json.Unmarshal(raw, &fixed); err != nil {
		return nil, err
	}
	if len(fixed) != len(batch) {
		return nil, fmt.Errorf("got %d corrections for %d texts", len(fixed), len(batch))
	}
	for i := range fixed {
		fixed[i] = strings.TrimSpace(fixed[i])
		if fixed[i] == "" {
			fixed[i] = batch[i]
		}
	}
	return fixed, nil
}
