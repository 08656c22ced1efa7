package llmcall

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackzampolin/grader/internal/providers"
)

// Recorder collects calls in memory for the lifetime of one run.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	mu    sync.Mutex
	calls []*Call
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record captures the outcome of a chat call.
func (r *Recorder) Record(result *providers.ChatResult, err error, opts RecordOptions) {
	if r == nil {
		return
	}
	r.RecordCall(FromChatResult(result, err, opts))
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || call == nil {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

// Chat sends req through client and records the outcome, success or failure.
func (r *Recorder) Chat(ctx context.Context, client providers.LLMClient, req *providers.ChatRequest, opts RecordOptions) (*providers.ChatResult, error) {
	result, err := client.Chat(ctx, req)
	r.Record(result, err, opts)
	if err == nil && result == nil {
		err = fmt.Errorf("%s: nil result", client.Name())
	}
	return result, err
}

// Calls returns recorded calls ordered by timestamp.
func (r *Recorder) Calls() []*Call {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]*Call, len(r.calls))
	copy(out, r.calls)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Summary aggregates recorded calls.
type Summary struct {
	Calls        int `json:"calls" yaml:"calls"`
	Failures     int `json:"failures" yaml:"failures"`
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
}

// Summarize totals calls, failures and token usage.
func (r *Recorder) Summarize() Summary {
	var s Summary
	for _, c := range r.Calls() {
		s.Calls++
		if !c.Success {
			s.Failures++
		}
		s.InputTokens += c.InputTokens
		s.OutputTokens += c.OutputTokens
	}
	return s
}
