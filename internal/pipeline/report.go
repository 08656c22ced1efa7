package pipeline

import (
	"time"

	"github.com/jackzampolin/grader/internal/feedback"
	"github.com/jackzampolin/grader/internal/grading"
	"github.com/jackzampolin/grader/internal/llmcall"
	"github.com/jackzampolin/grader/internal/spans"
	"github.com/jackzampolin/grader/internal/synth"
)

// PageError records a page that was skipped.
type PageError struct {
	Page  int    `json:"page" yaml:"page"`
	Stage Stage  `json:"stage" yaml:"stage"`
	Error string `json:"error" yaml:"error"`
}

// Report is the result of one FeedbackRoute call.
type Report struct {
	RunID string `json:"run_id" yaml:"run_id"`

	feedback.Result `yaml:",inline"`

	Pages      int               `json:"pages" yaml:"pages"`
	Records    []grading.Record  `json:"records" yaml:"records"`
	Orphans    []spans.QAPair    `json:"orphan_answers,omitempty" yaml:"orphan_answers,omitempty"`
	References []synth.Reference `json:"references,omitempty" yaml:"references,omitempty"`
	PageErrors []PageError       `json:"page_errors,omitempty" yaml:"page_errors,omitempty"`

	SynthesisErrors []string `json:"synthesis_errors,omitempty" yaml:"synthesis_errors,omitempty"`
	GradeErrors     []string `json:"grade_errors,omitempty" yaml:"grade_errors,omitempty"`
	BackendErrors   []string `json:"backend_errors,omitempty" yaml:"backend_errors,omitempty"`

	Calls    []*llmcall.Call `json:"llm_calls,omitempty" yaml:"llm_calls,omitempty"`
	Summary  llmcall.Summary `json:"llm_summary" yaml:"llm_summary"`
	Duration time.Duration   `json:"duration_ns" yaml:"duration"`
}

// Counts returns the number of correct and incorrect records.
func (r *Report) Counts() (correct, incorrect int) {
	c, i := grading.Split(r.Records)
	return len(c), len(i)
}
