package api

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/jackzampolin/grader/internal/grading"
	"github.com/jackzampolin/grader/internal/pipeline"
)

// WriteReport writes r in format. Text output uses ReportView; structured
// formats encode the report itself.
func WriteReport(w io.Writer, format OutputFormat, r *pipeline.Report, document string) error {
	if format == OutputFormatText {
		return ReportView{Report: r, Document: document}.WriteText(w)
	}
	return OutputTo(w, format, r)
}

// ReportView is the text rendering of a grading report.
type ReportView struct {
	*pipeline.Report
	Document string
}

var (
	heading   = color.New(color.Bold)
	correct   = color.New(color.FgGreen)
	incorrect = color.New(color.FgRed)
	muted     = color.New(color.Faint)
	warning   = color.New(color.FgYellow)
)

// WriteText prints a summary, one line per graded question, the topic
// buckets, the feedback text and any skipped work.
func (v ReportView) WriteText(w io.Writer) error {
	r := v.Report
	ok, bad := r.Counts()

	title := "Report"
	if v.Document != "" {
		title = "Report for " + v.Document
	}
	heading.Fprintln(w, title)
	muted.Fprintf(w, "run %s, %d page(s), %s\n", r.RunID, r.Pages, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "%d correct, %d incorrect\n\n", ok, bad)

	for i, rec := range r.Records {
		mark := correct.Sprint("✓")
		if rec.Verdict != grading.Correct {
			mark = incorrect.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %d. %s\n", mark, i+1, rec.Question)
		fmt.Fprintf(w, "    answer:    %s\n", rec.StudentAnswer)
		fmt.Fprintf(w, "    reference: %s\n", rec.ReferenceAnswer)
		muted.Fprintf(w, "    similarity %.2f (page %d)\n", rec.Score, rec.Page+1)
	}

	writeTopics(w, "Strong topics", correct, r.Correct)
	writeTopics(w, "Weak topics", incorrect, r.Wrong)
	writeTopics(w, "Mixed topics", warning, r.Controversial)

	if r.FeedbackText != "" {
		fmt.Fprintln(w)
		heading.Fprintf(w, "Feedback (%s)\n", r.Backend)
		fmt.Fprintln(w, strings.TrimSpace(r.FeedbackText))
	}

	var notes []string
	for _, pe := range r.PageErrors {
		notes = append(notes, fmt.Sprintf("page %d skipped at %s: %s", pe.Page+1, pe.Stage, pe.Error))
	}
	for _, o := range r.Orphans {
		notes = append(notes, fmt.Sprintf("page %d: answer without a question: %q", o.Page+1, o.Answer))
	}
	notes = append(notes, r.SynthesisErrors...)
	notes = append(notes, r.GradeErrors...)
	notes = append(notes, r.BackendErrors...)
	if len(notes) > 0 {
		fmt.Fprintln(w)
		warning.Fprintln(w, "Warnings")
		for _, n := range notes {
			fmt.Fprintf(w, "  - %s\n", n)
		}
	}

	fmt.Fprintln(w)
	muted.Fprintf(w, "%d LLM call(s), %d failed, %d input / %d output tokens\n",
		r.Summary.Calls, r.Summary.Failures, r.Summary.InputTokens, r.Summary.OutputTokens)
	return nil
}

func writeTopics(w io.Writer, label string, c *color.Color, topics []string) {
	if len(topics) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s: %s\n", label, c.Sprint(strings.Join(topics, ", ")))
}
