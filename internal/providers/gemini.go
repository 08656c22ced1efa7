package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const (
	GeminiName                  = "gemini"
	geminiDefaultChatModel      = "gemini-1.5-flash"
	geminiDefaultEmbeddingModel = "text-embedding-004"
)

// GeminiConfig holds configuration for Gemini clients.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClient implements LLMClient using the Gemini generative API.
type GeminiClient struct {
	apiKey string
	model  string
}

// NewGeminiClient creates a new Gemini chat client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultChatModel
	}
	return &GeminiClient{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
	}
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Chat sends the request as a single generation call. System messages become
// the model's system instruction; the remaining turns are sent as text parts.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	if c.apiKey == "" {
		return nil, errors.New("gemini: API key is empty")
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(model)
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		m.SetTemperature(float32(req.Temperature))
	}
	if req.ResponseFormat != nil {
		m.ResponseMIMEType = "application/json"
	}

	var system []string
	var parts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  GeminiName,
		ModelUsed: model,
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		result.ErrorType = "api_error"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("gemini: generate: %w", err)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	if sb.Len() == 0 {
		result.ErrorType = "empty_response"
		result.ErrorMessage = "no text in response"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("gemini: no text in response")
	}

	result.Success = true
	result.Content = sb.String()
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil {
		if parsed, err := ParseJSON(result.Content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// GeminiEmbedder implements Embedder with Gemini batch embeddings.
type GeminiEmbedder struct {
	apiKey string
	model  string
}

// NewGeminiEmbedder creates a new Gemini embeddings client.
func NewGeminiEmbedder(cfg GeminiConfig) *GeminiEmbedder {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultEmbeddingModel
	}
	return &GeminiEmbedder{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
	}
}

// Name returns the provider identifier.
func (e *GeminiEmbedder) Name() string {
	return GeminiName
}

// Embed returns one embedding per input.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	defer cl.Close()

	em := cl.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float64, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = float32sTo64(emb.Values)
	}
	return out, nil
}

func float32sTo64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Verify interfaces
var (
	_ LLMClient = (*GeminiClient)(nil)
	_ Embedder  = (*GeminiEmbedder)(nil)
)
