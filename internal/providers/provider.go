package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LLMClient is the interface for chat/completion backends.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// OCRProvider handles image-to-text extraction.
// Separate from LLM because it has different retry patterns
// and result handling (plain text vs structured responses).
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "tesseract", "mistral-ocr").
	Name() string

	// ProcessImage extracts text from an image.
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)
}

// Embedder turns text into dense vectors for similarity scoring.
type Embedder interface {
	Name() string

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// TokenClassifier is a token-level sequence labeler.
// Offsets in the returned predictions are character positions into text.
type TokenClassifier interface {
	Name() string
	Classify(ctx context.Context, text string) ([]TokenPrediction, error)
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema" or "json_object"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set if ResponseFormat was requested and parsed

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	RequestID string `json:"request_id"`

	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`

	// Metadata from provider (dimensions, usage, etc.)
	Metadata map[string]any `json:"metadata,omitempty"`

	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// TokenPrediction is one labeled token as returned by a TokenClassifier.
type TokenPrediction struct {
	Text  string  `json:"text"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"`
}

// Complete sends a single user prompt and returns the response text.
func Complete(ctx context.Context, client LLMClient, prompt string, maxTokens int) (string, error) {
	return CompleteWithSystem(ctx, client, "", prompt, maxTokens)
}

// CompleteWithSystem is Complete with an optional system message.
func CompleteWithSystem(ctx context.Context, client LLMClient, system, prompt string, maxTokens int) (string, error) {
	req := &ChatRequest{MaxTokens: maxTokens}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: "user", Content: prompt})

	result, err := client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", fmt.Errorf("%s: nil result", client.Name())
	}
	return strings.TrimSpace(result.Content), nil
}
