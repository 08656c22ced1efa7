// Package feedback holds the prompt that asks for the student-facing
// feedback narrative.
package feedback

import (
	_ "embed"

	"github.com/jackzampolin/grader/internal/prompts"
)

//go:embed feedback.tmpl
var feedbackPrompt string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "feedback.report"

// DefaultMaxWords bounds the narrative length requested from the backend.
const DefaultMaxWords = 400

// Triple is one graded question as shown to the backend. Number is 1-based
// within its section.
type Triple struct {
	Number          int
	Question        string
	StudentAnswer   string
	ReferenceAnswer string
}

// Data is the template input. Incorrect is rendered before Correct.
type Data struct {
	Incorrect []Triple
	Correct   []Triple
	MaxWords  int
}

// RegisterPrompts registers the feedback prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        feedbackPrompt,
		Description: "Student feedback: incorrect triples, then correct triples, then instructions",
	})
}
