package prompts_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/grader/internal/prompts"
	"github.com/jackzampolin/grader/internal/prompts/answer"
	"github.com/jackzampolin/grader/internal/prompts/combine"
	"github.com/jackzampolin/grader/internal/prompts/feedback"
)

func TestExtractVariables(t *testing.T) {
	got := prompts.ExtractVariables("Hello {{.Name}}, {{ .Count }} items, {{.Record.Question}} {{.Name}}")
	want := []string{"Count", "Name", "Record.Question"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ExtractVariables() = %v, want %v", got, want)
	}

	got = prompts.ExtractVariables("{{if .Incorrect}}{{range .Items}}{{.Number}}. {{.Text}}{{end}}{{end}}")
	want = []string{"Incorrect", "Items", "Number", "Text"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ExtractVariables() = %v, want %v", got, want)
	}

	if got := prompts.ExtractVariables("{{.Broken"); got != nil {
		t.Errorf("ExtractVariables(invalid) = %v, want nil", got)
	}
}

func TestResolver_Render(t *testing.T) {
	r := prompts.NewResolver("", nil)
	answer.RegisterPrompts(r)

	out, err := r.Render(answer.PromptKey, answer.NewData([]string{"What is 2+2?", "Capital of France?"}))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"exactly 2 elements", "1. What is 2+2?", "2. Capital of France?"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, out)
		}
	}
}

func TestResolver_Override(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, combine.PromptKey+".tmpl"), []byte("Q={{.Question}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := prompts.NewResolver(dir, nil)
	combine.RegisterPrompts(r)

	p, err := r.Resolve(combine.PromptKey)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !p.IsOverride {
		t.Error("IsOverride = false, want true")
	}
	out, err := r.Render(combine.PromptKey, combine.Data{Question: "why?"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "Q=why?" {
		t.Errorf("Render() = %q, want %q", out, "Q=why?")
	}
}

func TestResolver_NotFound(t *testing.T) {
	r := prompts.NewResolver("", nil)
	if _, err := r.Resolve("missing.key"); err == nil {
		t.Error("Resolve() error = nil, want not found")
	}
}

func TestFeedbackPrompt_Order(t *testing.T) {
	r := prompts.NewResolver("", nil)
	feedback.RegisterPrompts(r)

	out, err := r.Render(feedback.PromptKey, feedback.Data{
		Incorrect: []feedback.Triple{{Number: 1, Question: "Capital of France?", StudentAnswer: "Berlin", ReferenceAnswer: "Paris"}},
		Correct:   []feedback.Triple{{Number: 1, Question: "Symbol for water?", StudentAnswer: "H2O", ReferenceAnswer: "H2O"}},
		MaxWords:  300,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	wrong := strings.Index(out, "Student's Answer: Berlin")
	right := strings.Index(out, "Student's Answer: H2O")
	instr := strings.Index(out, "Please analyze")
	if wrong < 0 || right < 0 || instr < 0 {
		t.Fatalf("rendered prompt missing sections:\n%s", out)
	}
	if !(wrong < right && right < instr) {
		t.Errorf("section order = %d,%d,%d, want incorrect < correct < instructions", wrong, right, instr)
	}
	if !strings.Contains(out, "under 300 words") {
		t.Error("word bound not rendered")
	}
}
