package llmcall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/grader/internal/providers"
)

func TestFromChatResult(t *testing.T) {
	result := &providers.ChatResult{
		Content:          "Paris",
		PromptTokens:     12,
		CompletionTokens: 3,
		ExecutionTime:    250 * time.Millisecond,
		Provider:         "openai",
		ModelUsed:        "gpt-4o",
		Success:          true,
	}
	call := FromChatResult(result, nil, RecordOptions{RunID: "run-1", Stage: "answer", Backend: "model-1", PromptKey: "synth.answer"})

	if call.ID == "" {
		t.Error("ID is empty")
	}
	if call.LatencyMs != 250 {
		t.Errorf("LatencyMs = %d, want 250", call.LatencyMs)
	}
	if call.Model != "gpt-4o" || call.Provider != "openai" {
		t.Errorf("provider/model = %s/%s", call.Provider, call.Model)
	}
	if call.InputTokens != 12 || call.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d, want 12/3", call.InputTokens, call.OutputTokens)
	}
	if !call.Success || call.Error != "" {
		t.Errorf("Success = %v, Error = %q", call.Success, call.Error)
	}
	if call.Stage != "answer" || call.Backend != "model-1" || call.RunID != "run-1" {
		t.Errorf("context not carried: %+v", call)
	}
}

func TestFromChatResult_Error(t *testing.T) {
	call := FromChatResult(nil, errors.New("boom"), RecordOptions{Stage: "feedback"})
	if call.Success {
		t.Error("Success = true, want false")
	}
	if call.Error != "boom" {
		t.Errorf("Error = %q, want boom", call.Error)
	}
}

func TestRecorder_Chat(t *testing.T) {
	rec := NewRecorder()
	ok := providers.NewMockClient()
	ok.ResponseText = "42"
	bad := providers.NewMockClient()
	bad.ShouldFail = true

	ctx := context.Background()
	req := &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: "6*7?"}}}

	if _, err := rec.Chat(ctx, ok, req, RecordOptions{Stage: "answer"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if _, err := rec.Chat(ctx, bad, req, RecordOptions{Stage: "answer"}); err == nil {
		t.Fatal("Chat() error = nil, want failure")
	}

	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("len(Calls()) = %d, want 2", len(calls))
	}
	s := rec.Summarize()
	if s.Calls != 2 || s.Failures != 1 {
		t.Errorf("Summarize() = %+v, want 2 calls 1 failure", s)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var rec *Recorder
	rec.Record(nil, nil, RecordOptions{})
	if got := rec.Calls(); got != nil {
		t.Errorf("Calls() = %v, want nil", got)
	}
	client := providers.NewMockClient()
	if _, err := rec.Chat(context.Background(), client, &providers.ChatRequest{}, RecordOptions{}); err != nil {
		t.Errorf("Chat() error = %v", err)
	}
}
