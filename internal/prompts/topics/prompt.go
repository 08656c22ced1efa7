// Package topics holds the prompt that tags graded questions with topics.
package topics

import (
	_ "embed"
	"encoding/json"

	"github.com/jackzampolin/grader/internal/prompts"
)

//go:embed topics.tmpl
var topicsPrompt string

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "feedback.topics"

// Schema is the expected shape of a topic reply.
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

// RegisterPrompts registers the topics prompt with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        topicsPrompt,
		Description: "Tag each question with a short subject topic",
	})
}
