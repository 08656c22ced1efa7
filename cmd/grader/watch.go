package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/grader/internal/api"
	"github.com/jackzampolin/grader/internal/inbox"
	"github.com/jackzampolin/grader/internal/svcctx"
)

var (
	watchModel    string
	watchExisting bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Grade every document dropped into an inbox directory",
	Long: `Watch a directory and grade each PDF or image written to it.

Reports are written as JSON to the home reports directory, one per
document (quiz-3.pdf becomes reports/quiz-3.report.json). Without a
directory argument the home inbox (~/.grader/inbox) is watched.
Config file edits take effect for the next document.

Examples:
  grader watch
  grader watch ./scans --existing
  grader watch --model model-2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := withServices(cmd)
		if err != nil {
			return err
		}
		h := svcctx.HomeFrom(ctx)
		if err := h.EnsureExists(); err != nil {
			return err
		}

		dir := h.InboxPath()
		if len(args) == 1 {
			dir = args[0]
		}

		w, err := inbox.New(inbox.Config{
			Dir:      dir,
			Existing: watchExisting,
			Logger:   svcctx.LoggerFrom(ctx),
			Handler: func(ctx context.Context, path string) error {
				return gradeToReport(ctx, path)
			},
		})
		if err != nil {
			return err
		}

		if !api.IsStructuredOutput() {
			color.Cyan("Watching %s (reports in %s). Press Ctrl+C to stop.", dir, h.ReportsPath())
		}
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchModel, "model", "", "LLM provider that writes the feedback (default: grading.feedback_backend)")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also grade documents already in the directory")
	rootCmd.AddCommand(watchCmd)
}

func gradeToReport(ctx context.Context, path string) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(ctx, nil)
	if err != nil {
		return err
	}
	report, err := orch.FeedbackRoute(ctx, doc, watchModel)
	if err != nil {
		return err
	}

	h := svcctx.HomeFrom(ctx)
	if err := saveReport(h, path, report); err != nil {
		return err
	}
	if !api.IsStructuredOutput() {
		ok, bad := report.Counts()
		fmt.Printf("%s %s: %s, %s -> %s\n",
			color.GreenString("graded"), filepath.Base(path),
			color.GreenString("%d correct", ok), color.RedString("%d incorrect", bad),
			h.ReportPath(path))
	}
	return nil
}
