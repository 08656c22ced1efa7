// Package grading decides whether each student answer matches its reference
// answer, by semantic similarity against a fixed threshold.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/grader/internal/config"
)

// Verdict is the binary correctness decision for one question.
type Verdict string

const (
	Correct   Verdict = "correct"
	Incorrect Verdict = "incorrect"
)

// ErrUngraded marks a question whose answer could not be scored.
var ErrUngraded = errors.New("question not graded")

// ScoreError reports a question left ungraded because scoring failed.
type ScoreError struct {
	Index    int
	Question string
	Err      error
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("question %d: score: %v", e.Index, e.Err)
}

func (e *ScoreError) Unwrap() []error { return []error{ErrUngraded, e.Err} }

// Similarity scores two texts. *similarity.Scorer satisfies it.
type Similarity interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// prefetcher is implemented by scorers that can embed a batch up front.
type prefetcher interface {
	Prefetch(ctx context.Context, texts []string) error
}

// Item is one question ready to grade.
type Item struct {
	Page            int
	Question        string
	StudentAnswer   string
	ReferenceAnswer string
}

// Record is a graded question. Verdict is always derived from Score.
type Record struct {
	Page            int     `json:"page" yaml:"page"`
	Question        string  `json:"question" yaml:"question"`
	StudentAnswer   string  `json:"student_answer" yaml:"student_answer"`
	ReferenceAnswer string  `json:"reference_answer" yaml:"reference_answer"`
	Score           float64 `json:"similarity" yaml:"similarity"`
	Verdict         Verdict `json:"verdict" yaml:"verdict"`
}

// Config configures a Classifier.
type Config struct {
	Scorer           Similarity
	CorrectThreshold float64 // default config.DefaultCorrectThreshold
	Logger           *slog.Logger
}

// Classifier grades items.
type Classifier struct {
	scorer    Similarity
	threshold float64
	logger    *slog.Logger
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	if cfg.CorrectThreshold == 0 {
		cfg.CorrectThreshold = config.DefaultCorrectThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		scorer:    cfg.Scorer,
		threshold: cfg.CorrectThreshold,
		logger:    cfg.Logger,
	}
}

// Threshold returns the inclusive lower bound for a correct verdict.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Verdict maps a similarity score to a verdict. The threshold is inclusive.
func (c *Classifier) Verdict(score float64) Verdict {
	if score >= c.threshold {
		return Correct
	}
	return Incorrect
}

// Grade scores every item against its reference answer. An item that cannot
// be scored is left out of records and reported in ungraded. Only a missing
// scorer or cancellation of ctx returns an error.
func (c *Classifier) Grade(ctx context.Context, items []Item) (records []Record, ungraded []*ScoreError, err error) {
	if len(items) == 0 {
		return nil, nil, nil
	}
	if c.scorer == nil {
		return nil, nil, fmt.Errorf("grading: no similarity scorer configured")
	}

	if p, ok := c.scorer.(prefetcher); ok {
		texts := make([]string, 0, 2*len(items))
		for _, it := range items {
			texts = append(texts, it.StudentAnswer, it.ReferenceAnswer)
		}
		if err := p.Prefetch(ctx, texts); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			c.logger.Warn("batch embedding failed, scoring one by one", "error", err)
		}
	}

	records = make([]Record, 0, len(items))
	for i, it := range items {
		score, err := c.scorer.Score(ctx, it.StudentAnswer, it.ReferenceAnswer)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			c.logger.Warn("question not graded", "question", i, "error", err)
			ungraded = append(ungraded, &ScoreError{Index: i, Question: it.Question, Err: err})
			continue
		}
		rec := Record{
			Page:            it.Page,
			Question:        it.Question,
			StudentAnswer:   it.StudentAnswer,
			ReferenceAnswer: it.ReferenceAnswer,
			Score:           score,
			Verdict:         c.Verdict(score),
		}
		records = append(records, rec)
		c.logger.Debug("graded question", "question", i, "score", score, "verdict", rec.Verdict)
	}
	return records, ungraded, nil
}

// Split partitions records by verdict, preserving order.
func Split(records []Record) (correct, incorrect []Record) {
	for _, r := range records {
		if r.Verdict == Correct {
			correct = append(correct, r)
		} else {
			incorrect = append(incorrect, r)
		}
	}
	return correct, incorrect
}
