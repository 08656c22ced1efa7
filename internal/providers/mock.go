package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string

	// Respond, when set, computes the response text from the request.
	Respond func(req *ChatRequest) (string, error)

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []*ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
	}

	if c.ShouldFail {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = "mock client configured to fail"
		return result, fmt.Errorf("mock client configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = fmt.Sprintf("mock client failed after %d requests", c.FailAfter)
		return result, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		result.ErrorType = "context_cancelled"
		result.ErrorMessage = ctx.Err().Error()
		return result, ctx.Err()
	}

	content := c.ResponseText
	if c.Respond != nil {
		var err error
		content, err = c.Respond(req)
		if err != nil {
			result.ErrorType = "mock_failure"
			result.ErrorMessage = err.Error()
			return result, err
		}
	}

	result.Success = true
	result.Content = content
	result.ExecutionTime = time.Since(start)

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4 // Rough estimate
	}
	result.PromptTokens = promptTokens
	result.CompletionTokens = len(content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens

	if req.ResponseFormat != nil {
		if parsed, err := ParseJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// LastPrompt returns the user content of the most recent request.
func (c *MockClient) LastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return ""
	}
	msgs := c.requests[len(c.requests)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// Reset resets the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)

// MockOCRProvider is an OCRProvider for testing.
type MockOCRProvider struct {
	ProviderName string
	ShouldFail   bool
	FailPages    map[int]bool // Pages that return an error
	ResponseText string
	PageText     map[int]string // Per-page override of ResponseText

	requestCount atomic.Int64
}

// NewMockOCRProvider creates a new mock OCR provider.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ProviderName: "mock-ocr",
		ResponseText: "mock OCR text",
	}
}

// Name returns the provider identifier.
func (p *MockOCRProvider) Name() string {
	return p.ProviderName
}

// ProcessImage returns the configured text for pageNum.
func (p *MockOCRProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	p.requestCount.Add(1)

	if err := ctx.Err(); err != nil {
		return &OCRResult{ErrorMessage: err.Error()}, err
	}
	if p.ShouldFail || p.FailPages[pageNum] {
		return &OCRResult{ErrorMessage: "mock OCR provider configured to fail"},
			fmt.Errorf("mock OCR provider configured to fail on page %d", pageNum)
	}

	text := p.ResponseText
	if t, ok := p.PageText[pageNum]; ok {
		text = t
	}
	return &OCRResult{
		Success: true,
		Text:    text,
		Metadata: map[string]any{
			"page_num":    pageNum,
			"image_bytes": len(image),
		},
	}, nil
}

// RequestCount returns the number of requests made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// Verify interface
var _ OCRProvider = (*MockOCRProvider)(nil)

// MockEmbedder is a deterministic Embedder for testing. Texts found in
// Vectors use the given vector; all others get a hashed bag-of-words
// vector, so identical texts embed identically.
type MockEmbedder struct {
	Vectors    map[string][]float64
	Dim        int
	ShouldFail bool

	callCount atomic.Int64
}

// NewMockEmbedder creates a mock embedder with a 64-dim hashing space.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Vectors: map[string][]float64{}, Dim: 64}
}

// Name returns the provider identifier.
func (e *MockEmbedder) Name() string {
	return "mock-embedder"
}

// Embed returns one vector per text.
func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.callCount.Add(1)
	if e.ShouldFail {
		return nil, fmt.Errorf("mock embedder configured to fail")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if v, ok := e.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = e.hashVector(t)
	}
	return out, nil
}

// CallCount returns the number of Embed calls.
func (e *MockEmbedder) CallCount() int64 {
	return e.callCount.Load()
}

func (e *MockEmbedder) hashVector(text string) []float64 {
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}
	v := make([]float64, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	return v
}

// Verify interface
var _ Embedder = (*MockEmbedder)(nil)

// MockTokenClassifier is a TokenClassifier for testing.
type MockTokenClassifier struct {
	Predictions map[string][]TokenPrediction // Keyed by input text
	Func        func(text string) ([]TokenPrediction, error)
	ShouldFail  bool
}

// Name returns the provider identifier.
func (m *MockTokenClassifier) Name() string {
	return "mock-classifier"
}

// Classify returns the configured predictions for text.
func (m *MockTokenClassifier) Classify(ctx context.Context, text string) ([]TokenPrediction, error) {
	if m.ShouldFail {
		return nil, fmt.Errorf("mock classifier configured to fail")
	}
	if m.Func != nil {
		return m.Func(text)
	}
	return m.Predictions[text], nil
}

// Verify interface
var _ TokenClassifier = (*MockTokenClassifier)(nil)
