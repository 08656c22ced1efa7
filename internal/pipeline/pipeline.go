// Package pipeline wires the grading stages together for one document:
// render, text recovery, span extraction and pairing per page, then grammar
// correction, answer synthesis, grading and feedback for the whole document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/grader/internal/config"
	"github.com/jackzampolin/grader/internal/feedback"
	"github.com/jackzampolin/grader/internal/grading"
	"github.com/jackzampolin/grader/internal/llmcall"
	"github.com/jackzampolin/grader/internal/prompts"
	"github.com/jackzampolin/grader/internal/providers"
	"github.com/jackzampolin/grader/internal/recovery"
	"github.com/jackzampolin/grader/internal/render"
	"github.com/jackzampolin/grader/internal/similarity"
	"github.com/jackzampolin/grader/internal/spans"
	"github.com/jackzampolin/grader/internal/synth"
)

// Stage names a step of the pipeline, used for progress and page errors.
type Stage string

const (
	StageRender     Stage = "render"
	StageRecover    Stage = "recover"
	StageClassify   Stage = "classify"
	StageCorrect    Stage = "correct"
	StageSynthesize Stage = "synthesize"
	StageGrade      Stage = "grade"
	StageFeedback   Stage = "feedback"
)

// Progress is called as work completes. total is 0 for single-step stages.
type Progress func(stage Stage, done, total int)

// Backends resolves capabilities by name. *providers.Registry satisfies it.
type Backends interface {
	GetLLM(name string) (providers.LLMClient, error)
	GetOCR(name string) (providers.OCRProvider, error)
	GetEmbedder(name string) (providers.Embedder, error)
	GetClassifier(name string) (providers.TokenClassifier, error)
}

// Config configures an Orchestrator.
type Config struct {
	Backends Backends
	Grading  config.GradingCfg

	// Renderer defaults to a pdftoppm rasterizer using Grading.RenderDPI
	// and Grading.Workers.
	Renderer render.Renderer

	Prompts  *prompts.Resolver
	Progress Progress
	Logger   *slog.Logger
}

// Orchestrator runs FeedbackRoute. It holds no per-document state and is
// safe for concurrent use.
type Orchestrator struct {
	backends Backends
	grading  config.GradingCfg
	renderer render.Renderer
	prompts  *prompts.Resolver
	progress Progress
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backends == nil {
		return nil, errors.New("pipeline: backends are required")
	}
	if len(cfg.Grading.Backends) == 0 {
		return nil, errors.New("pipeline: at least one answer backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New(render.Config{
			DPI:     cfg.Grading.RenderDPI,
			Workers: cfg.Grading.Workers,
			Logger:  cfg.Logger,
		})
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver(cfg.Grading.PromptsDir, cfg.Logger)
	}
	synth.RegisterPrompts(cfg.Prompts)
	feedback.RegisterPrompts(cfg.Prompts)
	if cfg.Progress == nil {
		cfg.Progress = func(Stage, int, int) {}
	}
	return &Orchestrator{
		backends: cfg.Backends,
		grading:  cfg.Grading,
		renderer: cfg.Renderer,
		prompts:  cfg.Prompts,
		progress: cfg.Progress,
		logger:   cfg.Logger,
	}, nil
}

// run carries the per-document collaborators.
type run struct {
	id         string
	recorder   *llmcall.Recorder
	logger     *slog.Logger
	recoverer  *recovery.Recoverer
	classifier providers.TokenClassifier
	scorer     *similarity.Scorer
}

// FeedbackRoute grades one document and returns the report. Pages that fail
// rendering, recovery or classification are skipped and listed in the
// report, as are questions without a reference answer or a score. Only a
// feedback failure, an unreadable document, a missing capability or
// cancellation fails the call.
func (o *Orchestrator) FeedbackRoute(ctx context.Context, doc []byte, modelChoice string) (*Report, error) {
	start := time.Now()
	if t := o.grading.DocumentTimeoutSeconds; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t)*time.Second)
		defer cancel()
	}

	feedbackBackend := strings.TrimSpace(modelChoice)
	if feedbackBackend == "" {
		feedbackBackend = o.grading.FeedbackBackend
	}
	if _, err := o.backends.GetLLM(feedbackBackend); err != nil {
		return nil, &feedback.GenerationError{Backend: feedbackBackend, Err: err}
	}

	r, err := o.newRun()
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: r.id}
	r.logger.Info("grading document", "bytes", len(doc), "feedback_backend", feedbackBackend)

	pages, err := o.renderer.Render(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	report.Pages = len(pages)
	o.progress(StageRender, len(pages), len(pages))

	document := o.extract(ctx, r, pages, report)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pairs := document.Answered()
	report.Orphans = document.Orphans()
	if len(report.Orphans) > 0 {
		r.logger.Warn("answers without a question are not graded", "count", len(report.Orphans))
	}
	if len(pairs) == 0 {
		r.logger.Warn("no question/answer pairs found, skipping feedback", "pages", len(pages), "page_errors", len(report.PageErrors))
		return o.finish(report, r, start), nil
	}

	questions, answers := o.correct(ctx, r, pairs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := o.synthesize(ctx, r, pairs, questions, answers, report)
	if err != nil {
		return nil, err
	}

	classifier := grading.New(grading.Config{
		Scorer:           r.scorer,
		CorrectThreshold: o.grading.CorrectThreshold,
		Logger:           r.logger,
	})
	records, ungraded, err := classifier.Grade(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("grade: %w", err)
	}
	report.Records = records
	for _, e := range ungraded {
		report.GradeErrors = append(report.GradeErrors, e.Error())
	}
	o.progress(StageGrade, len(records), len(records))

	if len(records) == 0 {
		r.logger.Warn("no question could be graded, skipping feedback")
		return o.finish(report, r, start), nil
	}

	gen := feedback.New(feedback.Config{
		Backends:       o.backends,
		DefaultBackend: o.grading.FeedbackBackend,
		MaxTokens:      o.grading.FeedbackMaxTokens,
		MaxWords:       o.grading.FeedbackMaxWords,
		DisableTopics:  o.grading.DisableTopics,
		Prompts:        o.prompts,
		Recorder:       r.recorder,
		RunID:          r.id,
		Logger:         r.logger,
	})
	result, err := gen.Generate(ctx, modelChoice, records)
	if err != nil {
		return nil, err
	}
	report.Result = *result
	o.progress(StageFeedback, 1, 1)

	return o.finish(report, r, start), nil
}

func (o *Orchestrator) newRun() (*run, error) {
	ocr, err := o.backends.GetOCR(o.grading.OCR)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	classifier, err := o.backends.GetClassifier(o.grading.Classifier)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	embedder, err := o.backends.GetEmbedder(o.grading.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	id := uuid.New().String()
	logger := o.logger.With("run_id", id)
	return &run{
		id:       id,
		recorder: llmcall.NewRecorder(),
		logger:   logger,
		recoverer: recovery.New(recovery.Config{
			OCR:            ocr,
			SkipPreprocess: o.grading.SkipPreprocess,
			Logger:         logger,
		}),
		classifier: classifier,
		scorer:     similarity.NewScorer(embedder),
	}, nil
}

// extract runs the per-page stages in page order.
func (o *Orchestrator) extract(ctx context.Context, r *run, pages []render.Page, report *Report) *Document {
	document := &Document{}
	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}
		pairs, stage, err := o.processPage(ctx, r, page)
		if err != nil {
			r.logger.Warn("skipping page", "page", page.Index, "stage", stage, "error", err)
			report.PageErrors = append(report.PageErrors, PageError{Page: page.Index, Stage: stage, Error: err.Error()})
		} else {
			document.Add(pairs)
		}
		o.progress(StageRecover, i+1, len(pages))
	}
	return document
}

func (o *Orchestrator) processPage(ctx context.Context, r *run, page render.Page) ([]spans.QAPair, Stage, error) {
	if page.Err != nil {
		return nil, StageRender, &recovery.RecoveryError{Page: page.Index, Err: page.Err}
	}

	recovered, err := r.recoverer.Recover(ctx, page)
	if err != nil {
		return nil, StageRecover, err
	}

	preds, err := r.classifier.Classify(ctx, recovered.Text)
	if err != nil {
		return nil, StageClassify, fmt.Errorf("%s: %w", r.classifier.Name(), err)
	}
	tokens, err := spans.FromPredictions(recovered.Text, preds)
	if err != nil {
		return nil, StageClassify, err
	}

	pairs := spans.BuildPairs(page.Index, spans.Group(tokens))
	r.logger.Debug("page processed", "page", page.Index, "tokens", len(tokens), "pairs", len(pairs))
	return pairs, "", nil
}

// correct fixes question and answer text in one pass. Failures keep the
// original text.
func (o *Orchestrator) correct(ctx context.Context, r *run, pairs []spans.QAPair) (questions, answers []string) {
	texts := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		texts = append(texts, *p.Question)
	}
	for _, p := range pairs {
		texts = append(texts, p.Answer)
	}

	var client providers.LLMClient
	if name := o.grading.Corrector; name != "" {
		c, err := o.backends.GetLLM(name)
		if err != nil {
			r.logger.Warn("grammar correction disabled", "backend", name, "error", err)
		} else {
			client = c
		}
	}
	corrector := synth.NewCorrector(synth.CorrectorConfig{
		Client:   client,
		Name:     o.grading.Corrector,
		Timeout:  o.backendTimeout(),
		Prompts:  o.prompts,
		Recorder: r.recorder,
		RunID:    r.id,
		Logger:   r.logger,
	})
	fixed, err := corrector.Correct(ctx, texts)
	if err != nil {
		r.logger.Warn("grammar correction incomplete", "error", err)
	}
	o.progress(StageCorrect, 1, 1)
	return fixed[:len(pairs)], fixed[len(pairs):]
}

// synthesize obtains reference answers and returns the items that have one.
func (o *Orchestrator) synthesize(ctx context.Context, r *run, pairs []spans.QAPair, questions, answers []string, report *Report) ([]grading.Item, error) {
	var backends []synth.Backend
	for _, name := range o.grading.Backends {
		client, err := o.backends.GetLLM(name)
		if err != nil {
			r.logger.Warn("answer backend unavailable", "backend", name, "error", err)
			report.BackendErrors = append(report.BackendErrors, err.Error())
			continue
		}
		backends = append(backends, synth.Backend{Name: name, Client: client})
	}

	var combiner providers.LLMClient
	if name := o.grading.Combiner; name != "" {
		c, err := o.backends.GetLLM(name)
		if err != nil {
			r.logger.Warn("combiner unavailable", "backend", name, "error", err)
		} else {
			combiner = c
		}
	}

	if len(backends) == 0 {
		r.logger.Warn("no answer backend available", "configured", o.grading.Backends)
		for i, q := range questions {
			e := &synth.SynthesisError{Index: i, Question: q, Cause: synth.ErrNoBackends}
			report.SynthesisErrors = append(report.SynthesisErrors, e.Error())
			report.References = append(report.References, synth.Reference{Index: i, Question: q})
		}
		o.progress(StageSynthesize, len(questions), len(questions))
		return nil, nil
	}

	synthesizer, err := synth.New(synth.Config{
		Backends:           backends,
		Combiner:           combiner,
		CombinerName:       o.grading.Combiner,
		Scorer:             r.scorer,
		AgreementThreshold: o.grading.AgreementThreshold,
		BackendTimeout:     o.backendTimeout(),
		MaxTokens:          o.grading.AnswerMaxTokens,
		Prompts:            o.prompts,
		Recorder:           r.recorder,
		RunID:              r.id,
		Logger:             r.logger,
	})
	if err != nil {
		return nil, err
	}

	out, err := synthesizer.Synthesize(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	report.References = out.References
	for _, e := range out.BackendErrors {
		report.BackendErrors = append(report.BackendErrors, e.Error())
	}
	for _, e := range out.Errors {
		report.SynthesisErrors = append(report.SynthesisErrors, e.Error())
	}
	o.progress(StageSynthesize, len(questions), len(questions))

	items := make([]grading.Item, 0, len(pairs))
	for i, ref := range out.References {
		if !ref.OK() {
			continue
		}
		items = append(items, grading.Item{
			Page:            pairs[i].Page,
			Question:        questions[i],
			StudentAnswer:   answers[i],
			ReferenceAnswer: ref.Answer,
		})
	}
	return items, nil
}

func (o *Orchestrator) backendTimeout() time.Duration {
	return time.Duration(o.grading.BackendTimeoutSeconds) * time.Second
}

func (o *Orchestrator) finish(report *Report, r *run, start time.Time) *Report {
	report.Calls = r.recorder.Calls()
	report.Summary = r.recorder.Summarize()
	report.Duration = time.Since(start)
	r.logger.Info("document graded",
		"records", len(report.Records),
		"page_errors", len(report.PageErrors),
		"synthesis_errors", len(report.SynthesisErrors),
		"grade_errors", len(report.GradeErrors),
		"llm_calls", report.Summary.Calls,
		"duration", report.Duration)
	return report
}
