package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	OllamaName                  = "ollama"
	OllamaDefaultURL            = "http://localhost:11434"
	ollamaDefaultChatModel      = "llama3"
	ollamaDefaultEmbeddingModel = "nomic-embed-text:latest"
)

// OllamaConfig holds configuration for a local Ollama server.
type OllamaConfig struct {
	Model   string
	BaseURL string
}

func newOllamaLLM(cfg OllamaConfig) (*ollama.LLM, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaDefaultURL
	}
	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	return llm, nil
}

// OllamaClient implements LLMClient against a local Ollama model.
type OllamaClient struct {
	model string
	llm   *ollama.LLM
}

// NewOllamaClient creates a new Ollama chat client.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultChatModel
	}
	llm, err := newOllamaLLM(cfg)
	if err != nil {
		return nil, err
	}
	return &OllamaClient{model: cfg.Model, llm: llm}, nil
}

// Name returns the client identifier.
func (c *OllamaClient) Name() string {
	return OllamaName
}

// Chat sends a chat request through langchaingo.
func (c *OllamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.ResponseFormat != nil {
		opts = append(opts, llms.WithJSONMode())
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OllamaName,
		ModelUsed: c.model,
	}

	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		result.ErrorType = "api_error"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("ollama chat: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		result.ErrorType = "empty_response"
		result.ErrorMessage = "no choices in response"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("ollama chat: no choices in response")
	}

	result.Success = true
	result.Content = resp.Choices[0].Content
	result.ExecutionTime = time.Since(start)
	if req.ResponseFormat != nil {
		if parsed, err := ParseJSON(result.Content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// OllamaEmbedder implements Embedder with a local embedding model.
type OllamaEmbedder struct {
	llm *ollama.LLM
}

// NewOllamaEmbedder creates a new Ollama embeddings client.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultEmbeddingModel
	}
	llm, err := newOllamaLLM(cfg)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{llm: llm}, nil
}

// Name returns the provider identifier.
func (e *OllamaEmbedder) Name() string {
	return OllamaName
}

// Embed returns one embedding per input.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(vecs), len(texts))
	}
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		out[i] = float32sTo64(v)
	}
	return out, nil
}

// Verify interfaces
var (
	_ LLMClient = (*OllamaClient)(nil)
	_ Embedder  = (*OllamaEmbedder)(nil)
)
