package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/grader/internal/api"
	"github.com/jackzampolin/grader/internal/svcctx"
)

// providerList is the output of `grader providers`.
type providerList struct {
	LLM        []string `json:"llm" yaml:"llm"`
	OCR        []string `json:"ocr" yaml:"ocr"`
	Embedding  []string `json:"embedding" yaml:"embedding"`
	Classifier []string `json:"classifier" yaml:"classifier"`
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the providers registered from config",
	Long: `List the providers that were registered from config. Providers that are
disabled or missing an API key are not registered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := withServices(cmd)
		if err != nil {
			return err
		}
		reg := svcctx.RegistryFrom(ctx)
		list := providerList{
			LLM:        reg.ListLLM(),
			OCR:        reg.ListOCR(),
			Embedding:  reg.ListEmbedders(),
			Classifier: reg.ListClassifiers(),
		}
		if api.IsStructuredOutput() {
			return api.Output(list)
		}

		g := svcctx.ConfigFrom(ctx).Get().Grading
		printKind("LLM", list.LLM, append([]string{g.Combiner, g.Corrector, g.FeedbackBackend}, g.Backends...)...)
		printKind("OCR", list.OCR, g.OCR)
		printKind("Embedding", list.Embedding, g.Embedder)
		printKind("Classifier", list.Classifier, g.Classifier)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

// printKind lists registered names and flags the ones grading uses but
// that are not registered.
func printKind(kind string, registered []string, used ...string) {
	fmt.Fprintln(os.Stdout, color.New(color.Bold).Sprint(kind))
	have := make(map[string]bool, len(registered))
	for _, name := range registered {
		have[name] = true
		fmt.Fprintf(os.Stdout, "  %s %s\n", color.GreenString("✓"), name)
	}
	seen := map[string]bool{}
	for _, name := range used {
		if name == "" || have[name] || seen[name] {
			continue
		}
		seen[name] = true
		fmt.Fprintf(os.Stdout, "  %s %s %s\n", color.RedString("✗"), name, color.New(color.Faint).Sprint("(used by grading, not registered)"))
	}
}
