// Package combine holds the prompt used to reconcile disagreeing answers.
package combine

import (
	_ "embed"

	"github.com/jackzampolin/grader/internal/prompts"
)

//go:embed combine.tmpl
var combinePrompt string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "synth.combine"

// Answer is one backend's raw answer.
type Answer struct {
	Backend string
	Text    string
}

// Data is the template input.
type Data struct {
	Question string
	Answers  []Answer
}

// RegisterPrompts registers the combine prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        combinePrompt,
		Description: "Combine disagreeing backend answers into one reference answer",
	})
}
