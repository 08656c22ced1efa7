package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/grader/internal/api"
	"github.com/jackzampolin/grader/internal/home"
	"github.com/jackzampolin/grader/internal/pipeline"
	"github.com/jackzampolin/grader/internal/svcctx"
)

var (
	gradeModel string
	gradeSave  bool
)

var gradeCmd = &cobra.Command{
	Use:   "grade <file>",
	Short: "Grade a scanned test and print feedback",
	Long: `Grade a scanned test document (PDF, PNG, JPEG, TIFF, BMP, WebP or GIF).

Every page is rendered, binarized and read by OCR. Questions and answers are
extracted by the token classifier, reference answers are gathered from the
configured answer backends, and each answer is graded by semantic
similarity. Feedback is written by the model named with --model, or by
grading.feedback_backend when --model is not given.

Examples:
  grader grade quiz.pdf
  grader grade quiz.pdf --model model-2
  grader grade page.png -o json > report.json
  grader grade quiz.pdf --save           # also write ~/.grader/reports/quiz.report.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := withServices(cmd)
		if err != nil {
			return err
		}
		path := args[0]

		doc, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		var progress pipeline.Progress
		if !api.IsStructuredOutput() {
			bar := newStageBar(filepath.Base(path))
			defer bar.finish()
			progress = bar.update
		}

		orch, err := newOrchestrator(ctx, progress)
		if err != nil {
			return err
		}
		report, err := orch.FeedbackRoute(ctx, doc, gradeModel)
		if err != nil {
			return err
		}

		if gradeSave {
			h := svcctx.HomeFrom(ctx)
			if err := saveReport(h, path, report); err != nil {
				return err
			}
		}
		return api.WriteReport(os.Stdout, api.GetOutputFormat(), report, filepath.Base(path))
	},
}

func init() {
	gradeCmd.Flags().StringVar(&gradeModel, "model", "", "LLM provider that writes the feedback (default: grading.feedback_backend)")
	gradeCmd.Flags().BoolVar(&gradeSave, "save", false, "also write the JSON report to the home reports directory")
	rootCmd.AddCommand(gradeCmd)
}

// saveReport writes report as JSON under the home reports directory.
func saveReport(h *home.Dir, document string, report *pipeline.Report) error {
	if err := h.EnsureExists(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	out := h.ReportPath(document)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// stageBar is a spinner on stderr describing the current pipeline stage.
type stageBar struct {
	mu   sync.Mutex
	name string
	bar  *progressbar.ProgressBar
}

func newStageBar(name string) *stageBar {
	return &stageBar{
		name: name,
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(color.CyanString("%s: starting", name)),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetWidth(20),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (s *stageBar) update(stage pipeline.Stage, done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc := fmt.Sprintf("%s: %s", s.name, stage)
	if total > 1 {
		desc = fmt.Sprintf("%s %d/%d", desc, done, total)
	}
	s.bar.Describe(color.CyanString("%s", desc))
	_ = s.bar.Add(1)
}

func (s *stageBar) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.bar.Finish()
}
