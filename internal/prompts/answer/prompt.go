// Package answer holds the prompt sent to each answer backend.
package answer

import (
	_ "embed"
	"encoding/json"

	"github.com/jackzampolin/grader/internal/prompts"
)

//go:embed answer.tmpl
var answerPrompt string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "synth.answer"

// Schema is the expected shape of a backend reply.
var Schema = json.RawMessage(prompts.StringArraySchema)

// Data is the template input.
type Data struct {
	Count int
	Items []prompts.Item
}

// NewData builds template input for a batch of questions.
func NewData(questions []string) Data {
	return Data{Count: len(questions), Items: prompts.Number(questions)}
}

// RegisterPrompts registers the answer prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        answerPrompt,
		Description: "Answer a batch of test questions as a JSON array, one answer per question",
	})
}
