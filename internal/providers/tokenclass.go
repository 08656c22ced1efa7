package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const HFTokenClassifierName = "huggingface"

// HFTokenClassifierConfig configures a Hugging Face token-classification
// endpoint (Inference API, Inference Endpoints, or a self-hosted TGI/TEI
// server exposing the same pipeline contract).
type HFTokenClassifierConfig struct {
	URL        string // Full endpoint URL
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HFTokenClassifier implements TokenClassifier over HTTP.
type HFTokenClassifier struct {
	url        string
	apiKey     string
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewHFTokenClassifier creates a new token-classification client.
func NewHFTokenClassifier(cfg HFTokenClassifierConfig) *HFTokenClassifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	return &HFTokenClassifier{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (c *HFTokenClassifier) Name() string {
	return HFTokenClassifierName
}

// Classify labels every token of text. "O" tokens are requested explicitly
// so that span boundaries survive.
func (c *HFTokenClassifier) Classify(ctx context.Context, text string) ([]TokenPrediction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(hfRequest{
		Inputs: text,
		Parameters: hfParameters{
			AggregationStrategy: "none",
			IgnoreLabels:        []string{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var raw []hfToken
	err = retry.Do(
		func() error {
			var err error
			raw, err = c.doRequest(ctx, body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryableHTTPError),
	)
	if err != nil {
		return nil, err
	}

	out := make([]TokenPrediction, len(raw))
	for i, t := range raw {
		label := t.Entity
		if label == "" {
			label = t.EntityGroup
		}
		out[i] = TokenPrediction{
			Text:  t.Word,
			Start: t.Start,
			End:   t.End,
			Label: label,
			Score: t.Score,
		}
	}
	return out, nil
}

func (c *HFTokenClassifier) doRequest(ctx context.Context, body []byte) ([]hfToken, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// 503 while the model is loading is retried by the caller.
		return nil, &HTTPStatusError{Provider: "token classifier", StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var tokens []hfToken
	if err := json.Unmarshal(respBody, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return tokens, nil
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	AggregationStrategy string   `json:"aggregation_strategy"`
	IgnoreLabels        []string `json:"ignore_labels"`
}

type hfToken struct {
	Entity      string  `json:"entity,omitempty"`
	EntityGroup string  `json:"entity_group,omitempty"`
	Score       float64 `json:"score"`
	Word        string  `json:"word"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
}

// Verify interface
var _ TokenClassifier = (*HFTokenClassifier)(nil)
