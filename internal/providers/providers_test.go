package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model:    "test-model",
			Messages: []Message{{Role: "user", Content: "test"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Errorf("Success = false, want true")
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
		if c.LastPrompt() != "test" {
			t.Errorf("LastPrompt() = %q, want test", c.LastPrompt())
		}
	})

	t.Run("respond func", func(t *testing.T) {
		c := NewMockClient()
		c.Respond = func(req *ChatRequest) (string, error) {
			return strings.ToUpper(req.Messages[0].Content), nil
		}
		out, err := Complete(context.Background(), c, "abc", 10)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if out != "ABC" {
			t.Errorf("Complete() = %q, want ABC", out)
		}
	})

	t.Run("should fail", func(t *testing.T) {
		c := NewMockClient()
		c.ShouldFail = true
		if _, err := c.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("fail after", func(t *testing.T) {
		c := NewMockClient()
		c.FailAfter = 2
		req := &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}}
		for i := 0; i < 2; i++ {
			if _, err := c.Chat(context.Background(), req); err != nil {
				t.Fatalf("request %d error = %v", i+1, err)
			}
		}
		if _, err := c.Chat(context.Background(), req); err == nil {
			t.Error("expected third request to fail")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := c.Chat(ctx, &ChatRequest{}); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

func TestCompleteWithSystem(t *testing.T) {
	c := NewMockClient()
	c.ResponseText = "  padded  "
	out, err := CompleteWithSystem(context.Background(), c, "be terse", "q", 5)
	if err != nil {
		t.Fatalf("CompleteWithSystem() error = %v", err)
	}
	if out != "padded" {
		t.Errorf("output = %q, want trimmed", out)
	}
	req := c.Requests()[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system then user", req.Messages)
	}
	if req.MaxTokens != 5 {
		t.Errorf("MaxTokens = %d, want 5", req.MaxTokens)
	}
}

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedder()
	e.Vectors["fixed"] = []float64{1, 0}

	vecs, err := e.Embed(context.Background(), []string{"fixed", "Paris is nice", "paris is nice"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len = %d, want 3", len(vecs))
	}
	if vecs[0][0] != 1 || len(vecs[0]) != 2 {
		t.Errorf("fixed vector not used: %v", vecs[0])
	}
	for i := range vecs[1] {
		if vecs[1][i] != vecs[2][i] {
			t.Fatal("case-insensitive texts should embed identically")
		}
	}
}

func TestClassifyBackendError(t *testing.T) {
	if ClassifyBackendError("a", time.Second, nil) != nil {
		t.Error("nil in, nil out")
	}

	err := ClassifyBackendError("a", time.Second, fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	var timeoutErr *BackendTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %T, want *BackendTimeoutError", err)
	}
	if !errors.Is(err, ErrBackendTimeout) {
		t.Error("expected errors.Is(err, ErrBackendTimeout)")
	}

	cause := errors.New("boom")
	err = ClassifyBackendError("b", time.Second, cause)
	var callErr *BackendCallError
	if !errors.As(err, &callErr) || callErr.Backend != "b" {
		t.Fatalf("error = %v, want *BackendCallError for b", err)
	}
	if !errors.Is(err, ErrBackendCall) || !errors.Is(err, cause) {
		t.Error("BackendCallError should match both sentinel and cause")
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("consumes tokens", func(t *testing.T) {
		rl := NewRateLimiter(60)
		for i := 0; i < 3; i++ {
			if err := rl.Wait(context.Background()); err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
		}
		if got := rl.Status().TotalConsumed; got != 3 {
			t.Errorf("TotalConsumed = %d, want 3", got)
		}
	})

	t.Run("drained bucket honours context", func(t *testing.T) {
		rl := NewRateLimiter(1)
		rl.Record429(time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Wait() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("wrapper records 429", func(t *testing.T) {
		inner := NewMockClient()
		inner.Respond = func(*ChatRequest) (string, error) {
			return "", &RateLimitError{Message: "slow down", RetryAfter: time.Second, StatusCode: 429}
		}
		wrapped := WithRateLimit(inner, 100).(*rateLimitedClient)
		if _, err := wrapped.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Fatal("expected error")
		}
		if wrapped.limiter.Status().Last429Time.IsZero() {
			t.Error("expected 429 to be recorded")
		}
		if WithRateLimit(inner, 0) != LLMClient(inner) {
			t.Error("rpm 0 should return the client unchanged")
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"soon", 0},
		{"-1", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
