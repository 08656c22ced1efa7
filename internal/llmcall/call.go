// Package llmcall records LLM calls made during a grading run for traceability.
// Every call is captured with its prompt key, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/grader/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	ID string `json:"id" yaml:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	LatencyMs int       `json:"latency_ms" yaml:"latency_ms"`

	// Context references
	RunID   string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Stage   string `json:"stage" yaml:"stage"`
	Backend string `json:"backend" yaml:"backend"`

	PromptKey string `json:"prompt_key" yaml:"prompt_key"`

	// Model info
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`

	Response string `json:"response,omitempty" yaml:"response,omitempty"`

	// Status
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	RunID   string
	Stage   string // "grammar", "answer", "combine", "feedback", "topics"
	Backend string // registry name of the backend

	PromptKey string
}

// FromChatResult creates a Call from a ChatResult.
// A nil result (the client failed before building one) records err alone.
func FromChatResult(result *providers.ChatResult, err error, opts RecordOptions) *Call {
	call := &Call{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		RunID:     opts.RunID,
		Stage:     opts.Stage,
		Backend:   opts.Backend,
		PromptKey: opts.PromptKey,
	}

	if result != nil {
		call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		call.Provider = result.Provider
		call.Model = result.ModelUsed
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
		call.Success = result.Success
		if !result.Success {
			call.Error = result.ErrorMessage
		}
	}
	if err != nil {
		call.Success = false
		call.Error = err.Error()
	}
	return call
}
