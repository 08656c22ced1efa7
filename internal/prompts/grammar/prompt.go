// Package grammar holds the text-correction prompt applied to recovered
// questions and answers.
package grammar

import (
	_ "embed"
	"encoding/json"

	"github.com/jackzampolin/grader/internal/prompts"
)

//go:embed grammar.tmpl
var grammarPrompt string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "synth.grammar"

// Schema is the expected shape of a correction reply.
var Schema = json.RawMessage(prompts.StringArraySchema)

// Data is the template input.
type Data struct {
	Count int
	Items []prompts.Item
}

// NewData builds template input for a batch of texts.
func NewData(texts []string) Data {
	return Data{Count: len(texts), Items: prompts.Number(texts)}
}

// RegisterPrompts registers the grammar prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        grammarPrompt,
		Description: "Correct OCR, spelling and grammar errors in a batch of texts",
	})
}
